package capture

import (
	"fmt"
	"image"
	"image/draw"

	"github.com/hazyhaar/feedshot/geom"
)

// SourceRect maps a viewport region onto a raster of the given size. The
// raster may be denser than the viewport (device pixel ratio), so each axis
// is scaled independently.
func SourceRect(region geom.Rect, raster, viewport geom.Size) geom.Rect {
	return region.Scale(raster.W/viewport.W, raster.H/viewport.H)
}

// Crop cuts region, given in viewport coordinates, out of a full-page
// raster and returns it as a new image at the raster's resolution.
func Crop(src image.Image, region geom.Rect, viewport geom.Size) (*image.RGBA, error) {
	if viewport.Empty() {
		return nil, fmt.Errorf("crop: empty viewport %v", viewport)
	}
	b := src.Bounds()
	r := SourceRect(region, geom.SizeOf(b), viewport).Image().Add(b.Min).Intersect(b)
	if r.Empty() {
		return nil, fmt.Errorf("crop: region %+v outside raster %v", region, b)
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), src, r.Min, draw.Src)
	return dst, nil
}
