package palette

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
)

var hexPattern = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// ParseHex parses a 6-digit hex color string. Shorthand forms like #fff are
// rejected so that palette strings stay unambiguous across the API surface.
func ParseHex(s string) (colorful.Color, error) {
	trimmed := strings.TrimSpace(s)
	if !hexPattern.MatchString(trimmed) {
		return colorful.Color{}, fmt.Errorf("%w: %q is not a #rrggbb color", ErrInvalidParameter, s)
	}

	c, err := colorful.Hex(strings.ToLower(trimmed))
	if err != nil {
		return colorful.Color{}, fmt.Errorf("%w: parse %q: %v", ErrInvalidParameter, s, err)
	}
	return c, nil
}

// ParseHexColors parses target palette colors, failing on the first malformed
// entry before any pixel work happens.
func ParseHexColors(ss []string) ([]colorful.Color, error) {
	if len(ss) == 0 {
		return nil, fmt.Errorf("%w: at least one color is required", ErrInvalidParameter)
	}
	if len(ss) > MaxColors {
		return nil, fmt.Errorf("%w: at most %d colors are supported, got %d", ErrInvalidParameter, MaxColors, len(ss))
	}

	out := make([]colorful.Color, 0, len(ss))
	for _, s := range ss {
		c, err := ParseHex(s)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
