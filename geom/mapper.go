package geom

// Display bounds relative to the viewport when showing a raster for
// annotation.
const (
	DisplayWidthRatio  = 0.85
	DisplayHeightRatio = 0.75
)

// DisplayBounds returns the maximum on-screen size available to a raster
// in a viewport of the given size.
func DisplayBounds(viewport Size) Size {
	return Size{W: viewport.W * DisplayWidthRatio, H: viewport.H * DisplayHeightRatio}
}

// Fit shrinks native uniformly until it fits inside bounds. Width is fitted
// first, then height. The result is never larger than native.
func Fit(native, bounds Size) Size {
	w, h := native.W, native.H
	if w > bounds.W && bounds.W > 0 {
		h = h * bounds.W / w
		w = bounds.W
	}
	if h > bounds.H && bounds.H > 0 {
		w = w * bounds.H / h
		h = bounds.H
	}
	return Size{W: w, H: h}
}

// Mapper converts pointer positions over a displayed raster into native
// raster pixels. The zero Mapper has no image loaded: Ready reports false
// and Scale is 1.
type Mapper struct {
	native  Size
	display Size
	scale   float64
}

// NewMapper fits native into bounds and derives the scale factor.
func NewMapper(native, bounds Size) Mapper {
	if native.Empty() {
		return Mapper{}
	}
	display := Fit(native, bounds)
	return Mapper{
		native:  native,
		display: display,
		scale:   native.W / display.W,
	}
}

// Ready reports whether the mapper was built from a loaded image.
func (m Mapper) Ready() bool { return m.scale > 0 }

// Scale is native width over display width: 1 at native size, above 1 when
// the raster is shown shrunk.
func (m Mapper) Scale() float64 {
	if m.scale <= 0 {
		return 1
	}
	return m.scale
}

// Native returns the raster dimensions.
func (m Mapper) Native() Size { return m.native }

// Display returns the on-screen dimensions.
func (m Mapper) Display() Size { return m.display }

// ToNative maps a pointer position to native pixels, given the bounding box
// of the displayed element in the same space as the pointer.
func (m Mapper) ToNative(pointer Point, box Rect) Point {
	s := m.Scale()
	return Point{
		X: (pointer.X - box.Left) * s,
		Y: (pointer.Y - box.Top) * s,
	}
}

// Box returns the display element bounding box when placed at origin.
func (m Mapper) Box(origin Point) Rect {
	return Rect{Left: origin.X, Top: origin.Y, Width: m.display.W, Height: m.display.H}
}
