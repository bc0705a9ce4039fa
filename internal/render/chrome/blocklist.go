package chrome

import (
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/network"

	"github.com/edgecomet/render-agent/pkg/pattern"
)

// blockableTypes maps lowercased config names to CDP resource types
var blockableTypes = map[string]network.ResourceType{
	"stylesheet": network.ResourceTypeStylesheet,
	"image":      network.ResourceTypeImage,
	"media":      network.ResourceTypeMedia,
	"font":       network.ResourceTypeFont,
	"script":     network.ResourceTypeScript,
	"texttrack":  network.ResourceTypeTextTrack,
	"xhr":        network.ResourceTypeXHR,
	"fetch":      network.ResourceTypeFetch,
	"websocket":  network.ResourceTypeWebSocket,
	"manifest":   network.ResourceTypeManifest,
	"ping":       network.ResourceTypePing,
	"other":      network.ResourceTypeOther,
}

// Blocklist fails sub-resource requests whose URL or resource type is configured as blocked.
// The top-level document is never blocked.
type Blocklist struct {
	patterns      []*pattern.Pattern
	resourceTypes map[network.ResourceType]struct{}
}

// NewBlocklist compiles URL rules and resource type names (Image, Media, Font, ...).
// Returns nil when nothing is configured.
func NewBlocklist(rules []string, resourceTypes []string) (*Blocklist, error) {
	patterns, err := pattern.CompileAll(rules)
	if err != nil {
		return nil, fmt.Errorf("invalid blocked pattern: %w", err)
	}

	bl := &Blocklist{
		patterns:      patterns,
		resourceTypes: make(map[network.ResourceType]struct{}, len(resourceTypes)),
	}

	for _, rt := range resourceTypes {
		rt = strings.TrimSpace(rt)
		if rt == "" {
			continue
		}
		parsed, ok := blockableTypes[strings.ToLower(rt)]
		if !ok {
			return nil, fmt.Errorf("invalid blocked resource type %q", rt)
		}
		bl.resourceTypes[parsed] = struct{}{}
	}

	if len(bl.patterns) == 0 && len(bl.resourceTypes) == 0 {
		return nil, nil
	}
	return bl, nil
}

// Enabled reports whether any rule is configured
func (bl *Blocklist) Enabled() bool {
	return bl != nil
}

// IsBlocked decides for a single intercepted request
func (bl *Blocklist) IsBlocked(requestURL string, resourceType network.ResourceType) bool {
	if bl == nil || resourceType == network.ResourceTypeDocument {
		return false
	}
	if _, blocked := bl.resourceTypes[resourceType]; blocked {
		return true
	}
	return pattern.MatchAny(bl.patterns, requestURL) != nil
}
