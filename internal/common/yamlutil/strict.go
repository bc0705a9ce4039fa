// Package yamlutil decodes configuration files strictly.
package yamlutil

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// UnmarshalStrict decodes YAML rejecting unknown fields, so typos fail loudly.
// An empty document leaves v untouched.
func UnmarshalStrict(data []byte, v interface{}) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	if err := decoder.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if msg := err.Error(); strings.Contains(msg, "field") && strings.Contains(msg, "not found") {
			return fmt.Errorf("unknown configuration field (check for typos): %w", err)
		}
		return err
	}

	return nil
}

// UnmarshalStrictFile reads path and decodes it with UnmarshalStrict
func UnmarshalStrictFile(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	if err := UnmarshalStrict(data, v); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}
