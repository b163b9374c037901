package annotate

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"golang.org/x/image/vector"

	"github.com/hazyhaar/feedshot/geom"
)

// ArrowHeadLength is the arrowhead stroke length in display pixels.
const ArrowHeadLength = 15

// arrowHeadAngle is the angle between each head stroke and the shaft.
const arrowHeadAngle = math.Pi / 6

// Surface is the native-resolution pixel buffer paired with the mapping
// from display coordinates.
type Surface struct {
	img    *image.RGBA
	mapper geom.Mapper
	ras    *vector.Rasterizer
}

// NewSurface copies img into a buffer at its native size and fits it into
// the display bounds.
func NewSurface(img image.Image, bounds geom.Size) *Surface {
	b := img.Bounds()
	buf := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(buf, buf.Bounds(), img, b.Min, draw.Src)
	return &Surface{
		img:    buf,
		mapper: geom.NewMapper(geom.SizeOf(buf.Bounds()), bounds),
		ras:    vector.NewRasterizer(b.Dx(), b.Dy()),
	}
}

// Image returns the live buffer.
func (s *Surface) Image() *image.RGBA { return s.img }

// Mapper returns the display-to-native mapping.
func (s *Surface) Mapper() geom.Mapper { return s.mapper }

// Scale is shorthand for Mapper().Scale().
func (s *Surface) Scale() float64 { return s.mapper.Scale() }

// restore overwrites the buffer with base.
func (s *Surface) restore(base *image.RGBA) {
	copy(s.img.Pix, base.Pix)
}

// snapshot returns a deep copy of the buffer.
func (s *Surface) snapshot() *image.RGBA {
	c := image.NewRGBA(s.img.Rect)
	copy(c.Pix, s.img.Pix)
	return c
}

// fill rasterizes the queued paths in one pass and composites col over the
// buffer. Paths are added with a consistent winding so overlaps union and
// reversed paths punch holes.
func (s *Surface) fill(col color.RGBA, build func(p *pather)) {
	b := s.img.Bounds()
	s.ras.Reset(b.Dx(), b.Dy())
	build(&pather{ras: s.ras})
	s.ras.Draw(s.img, b, image.NewUniform(col), image.Point{})
}

// dot fills a disc.
func (s *Surface) dot(c geom.Point, r float64, col color.RGBA) {
	s.fill(col, func(p *pather) { p.circle(c, r, true) })
}

// segment strokes a line with round caps.
func (s *Surface) segment(a, b geom.Point, width float64, col color.RGBA) {
	s.fill(col, func(p *pather) { p.line(a, b, width) })
}

// render draws one committed operation.
func (s *Surface) render(op Op) {
	if len(op.Points) == 0 {
		return
	}
	switch op.Tool {
	case Pen:
		// Same passes as the live stroke so a replay is pixel-identical.
		s.dot(op.Points[0], op.Width/2, op.Color)
		for i := 1; i < len(op.Points); i++ {
			s.segment(op.Points[i-1], op.Points[i], op.Width, op.Color)
		}
	case Rectangle:
		a, b := op.ends()
		if a == b {
			return
		}
		s.fill(op.Color, func(p *pather) { p.rectRing(geom.Normalize(a, b), op.Width) })
	case Circle:
		a, b := op.ends()
		if a == b {
			return
		}
		center := geom.Pt((a.X+b.X)/2, (a.Y+b.Y)/2)
		rx, ry := math.Abs(b.X-a.X)/2, math.Abs(b.Y-a.Y)/2
		s.fill(op.Color, func(p *pather) { p.ellipseRing(center, rx, ry, op.Width) })
	case Arrow:
		a, b := op.ends()
		h1, h2 := arrowHead(a, b, op.HeadLen)
		s.fill(op.Color, func(p *pather) {
			p.line(a, b, op.Width)
			p.line(b, h1, op.Width)
			p.line(b, h2, op.Width)
		})
	}
}

// arrowHead returns the far ends of the two head strokes at b, each at
// ±30° from the reversed shaft direction.
func arrowHead(a, b geom.Point, length float64) (geom.Point, geom.Point) {
	angle := math.Atan2(b.Y-a.Y, b.X-a.X)
	h1 := geom.Pt(b.X-length*math.Cos(angle-arrowHeadAngle), b.Y-length*math.Sin(angle-arrowHeadAngle))
	h2 := geom.Pt(b.X-length*math.Cos(angle+arrowHeadAngle), b.Y-length*math.Sin(angle+arrowHeadAngle))
	return h1, h2
}

type pather struct {
	ras *vector.Rasterizer
}

// poly adds a closed polygon. positive selects the winding direction.
func (p *pather) poly(pts []geom.Point, positive bool) {
	if len(pts) < 3 {
		return
	}
	if (signedArea(pts) >= 0) != positive {
		for i, j := 0, len(pts)-1; i < j; i, j = i+1, j-1 {
			pts[i], pts[j] = pts[j], pts[i]
		}
	}
	p.ras.MoveTo(float32(pts[0].X), float32(pts[0].Y))
	for _, q := range pts[1:] {
		p.ras.LineTo(float32(q.X), float32(q.Y))
	}
	p.ras.ClosePath()
}

func (p *pather) circle(c geom.Point, r float64, positive bool) {
	p.ellipse(c, r, r, positive)
}

func (p *pather) ellipse(c geom.Point, rx, ry float64, positive bool) {
	if rx <= 0 || ry <= 0 {
		return
	}
	n := ellipseSteps(max(rx, ry))
	pts := make([]geom.Point, n)
	for i := range pts {
		t := 2 * math.Pi * float64(i) / float64(n)
		pts[i] = geom.Pt(c.X+rx*math.Cos(t), c.Y+ry*math.Sin(t))
	}
	p.poly(pts, positive)
}

// line adds a round-capped segment of the given width.
func (p *pather) line(a, b geom.Point, width float64) {
	half := width / 2
	p.circle(a, half, true)
	p.circle(b, half, true)
	d := b.Sub(a)
	l := math.Hypot(d.X, d.Y)
	if l == 0 {
		return
	}
	n := geom.Pt(-d.Y/l*half, d.X/l*half)
	p.poly([]geom.Point{a.Add(n), b.Add(n), b.Sub(n), a.Sub(n)}, true)
}

// rectRing adds the outline of r stroked with width, centered on the edge.
func (p *pather) rectRing(r geom.Rect, width float64) {
	half := width / 2
	outer := rectPts(r.Left-half, r.Top-half, r.Width+width, r.Height+width)
	p.poly(outer, true)
	if r.Width > width && r.Height > width {
		p.poly(rectPts(r.Left+half, r.Top+half, r.Width-width, r.Height-width), false)
	}
}

// ellipseRing adds an ellipse outline of the given stroke width.
func (p *pather) ellipseRing(c geom.Point, rx, ry, width float64) {
	half := width / 2
	p.ellipse(c, rx+half, ry+half, true)
	if rx > half && ry > half {
		p.ellipse(c, rx-half, ry-half, false)
	}
}

func rectPts(x, y, w, h float64) []geom.Point {
	return []geom.Point{{X: x, Y: y}, {X: x + w, Y: y}, {X: x + w, Y: y + h}, {X: x, Y: y + h}}
}

func signedArea(pts []geom.Point) float64 {
	var a float64
	for i := range pts {
		j := (i + 1) % len(pts)
		a += pts[i].X*pts[j].Y - pts[j].X*pts[i].Y
	}
	return a / 2
}

func ellipseSteps(r float64) int {
	n := int(math.Ceil(r * 2))
	return min(max(n, 16), 360)
}
