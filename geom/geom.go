// Package geom holds the coordinate spaces used during capture: viewport
// pixels (where the pointer lives), display pixels (the shrunk-to-fit view of
// a raster) and native pixels (the raster itself).
package geom

import (
	"image"
	"math"
)

// Point is a position in one of the coordinate spaces.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Pt is shorthand for Point{X: x, Y: y}.
func Pt(x, y float64) Point { return Point{X: x, Y: y} }

// Add returns p+q.
func (p Point) Add(q Point) Point { return Point{p.X + q.X, p.Y + q.Y} }

// Sub returns p-q.
func (p Point) Sub(q Point) Point { return Point{p.X - q.X, p.Y - q.Y} }

// Mul scales both coordinates by k.
func (p Point) Mul(k float64) Point { return Point{p.X * k, p.Y * k} }

// Size is a width/height pair.
type Size struct {
	W float64 `json:"width"`
	H float64 `json:"height"`
}

// SizeOf returns the size of an image rectangle.
func SizeOf(r image.Rectangle) Size {
	return Size{W: float64(r.Dx()), H: float64(r.Dy())}
}

// Empty reports whether either dimension is not positive.
func (s Size) Empty() bool { return s.W <= 0 || s.H <= 0 }

// Rect is an axis-aligned rectangle anchored at its top-left corner.
// Width and Height are never negative when built through Normalize.
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Normalize returns the bounding box of a and b. The result has non-negative
// width and height whatever the drag direction.
func Normalize(a, b Point) Rect {
	return Rect{
		Left:   math.Min(a.X, b.X),
		Top:    math.Min(a.Y, b.Y),
		Width:  math.Abs(b.X - a.X),
		Height: math.Abs(b.Y - a.Y),
	}
}

// Origin returns the top-left corner.
func (r Rect) Origin() Point { return Point{r.Left, r.Top} }

// Size returns the rectangle dimensions.
func (r Rect) Size() Size { return Size{r.Width, r.Height} }

// Empty reports whether the rectangle has no area.
func (r Rect) Empty() bool { return r.Width <= 0 || r.Height <= 0 }

// Scale multiplies the horizontal components by sx and the vertical ones by sy.
func (r Rect) Scale(sx, sy float64) Rect {
	return Rect{
		Left:   r.Left * sx,
		Top:    r.Top * sy,
		Width:  r.Width * sx,
		Height: r.Height * sy,
	}
}

// Image rounds the rectangle to integer pixel bounds.
func (r Rect) Image() image.Rectangle {
	x0 := int(math.Round(r.Left))
	y0 := int(math.Round(r.Top))
	return image.Rect(x0, y0, x0+int(math.Round(r.Width)), y0+int(math.Round(r.Height)))
}
