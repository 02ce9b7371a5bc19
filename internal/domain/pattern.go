package domain

import (
	"fmt"
	"strings"
)

// Pattern is the closed set of traversal orders.
type Pattern int

const (
	PatternLoop       Pattern = iota // row-major over the bounding box
	PatternConcentric                // square rings outward, each ring clockwise from its north edge
	PatternSpiral                    // continuous clockwise spiral from the center
	PatternRegion                    // 32x32 region blocks, row-major, cells row-major inside
)

// Patterns lists every pattern in declaration order.
var Patterns = []Pattern{PatternLoop, PatternConcentric, PatternSpiral, PatternRegion}

// String returns the persisted name of the pattern.
func (p Pattern) String() string {
	switch p {
	case PatternLoop:
		return "loop"
	case PatternConcentric:
		return "concentric"
	case PatternSpiral:
		return "spiral"
	case PatternRegion:
		return "region"
	default:
		return "unknown"
	}
}

// ParsePattern maps a persisted or user-supplied name to a pattern.
func ParsePattern(s string) (Pattern, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "loop", "row-major", "rowmajor":
		return PatternLoop, nil
	case "concentric":
		return PatternConcentric, nil
	case "spiral":
		return PatternSpiral, nil
	case "region":
		return PatternRegion, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownPattern, s)
	}
}

// MarshalText encodes the pattern by name.
func (p Pattern) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText decodes a pattern name.
func (p *Pattern) UnmarshalText(b []byte) error {
	v, err := ParsePattern(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}
