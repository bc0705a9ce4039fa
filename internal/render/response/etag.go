package response

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// ETag hash algorithms
const (
	HashMD5    = "md5"
	HashXXHash = "xxhash"
)

// ValidHash reports whether name is a supported ETag hash
func ValidHash(name string) bool {
	return name == "" || name == HashMD5 || name == HashXXHash
}

// ETag returns the hex digest of content. Unknown algorithms fall back to md5.
func ETag(algorithm string, content []byte) string {
	switch algorithm {
	case HashXXHash:
		return fmt.Sprintf("%016x", xxhash.Sum64(content))
	default:
		sum := md5.Sum(content)
		return hex.EncodeToString(sum[:])
	}
}

// formatSeconds renders ms precision seconds without trailing zeros: 1.5, 2, 0.042
func formatSeconds(ms int64) string {
	return strconv.FormatFloat(float64(ms)/1000, 'f', -1, 64)
}
