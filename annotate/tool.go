package annotate

import (
	"errors"
	"fmt"
	"image/color"
	"strconv"
	"strings"
)

// Tool is a drawing tool.
type Tool string

const (
	Pen       Tool = "pen"
	Rectangle Tool = "rectangle"
	Circle    Tool = "circle"
	Arrow     Tool = "arrow"
)

// Tools lists the tools in toolbar order.
var Tools = []Tool{Pen, Rectangle, Circle, Arrow}

// ParseTool validates a tool name.
func ParseTool(s string) (Tool, error) {
	for _, t := range Tools {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("annotate: unknown tool %q", s)
}

// Stroke width bounds, in display pixels.
const (
	MinWidth     = 1
	MaxWidth     = 20
	DefaultWidth = 3
)

// ClampWidth bounds w to [MinWidth, MaxWidth].
func ClampWidth(w float64) float64 {
	return min(max(w, MinWidth), MaxWidth)
}

// Palette holds the eight swatches offered by the toolbar. The first entry
// is the default.
var Palette = []color.RGBA{
	{0xef, 0x44, 0x44, 0xff}, // red
	{0xf9, 0x73, 0x16, 0xff}, // orange
	{0xea, 0xb3, 0x08, 0xff}, // yellow
	{0x22, 0xc5, 0x5e, 0xff}, // green
	{0x3b, 0x82, 0xf6, 0xff}, // blue
	{0x8b, 0x5c, 0xf6, 0xff}, // purple
	{0x00, 0x00, 0x00, 0xff},
	{0xff, 0xff, 0xff, 0xff},
}

// DefaultColor is the initial stroke color.
var DefaultColor = Palette[0]

// ErrColor reports a color outside the palette.
var ErrColor = errors.New("annotate: color not in palette")

// InPalette reports whether c is one of the swatches.
func InPalette(c color.RGBA) bool {
	for _, p := range Palette {
		if p == c {
			return true
		}
	}
	return false
}

// ParseColor parses "#rrggbb" or "rrggbb".
func ParseColor(s string) (color.RGBA, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) != 6 {
		return color.RGBA{}, fmt.Errorf("annotate: bad color %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("annotate: bad color %q", s)
	}
	return color.RGBA{uint8(v >> 16), uint8(v >> 8), uint8(v), 0xff}, nil
}

// HexColor formats c as "#rrggbb".
func HexColor(c color.RGBA) string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}
