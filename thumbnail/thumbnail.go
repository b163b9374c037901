// Package thumbnail produces small JPEG previews for the screenshot gallery.
package thumbnail

import (
	"errors"
	"image"

	xdraw "golang.org/x/image/draw"

	"github.com/hazyhaar/feedshot/screenshot"
)

// Config sets the preview bounds and encoding quality.
type Config struct {
	// MaxDim caps the larger side in pixels. Default: 150.
	MaxDim int
	// Quality is the JPEG quality in [1,100]. Default: 70.
	Quality int
}

func (c *Config) defaults() {
	if c.MaxDim <= 0 {
		c.MaxDim = 150
	}
	if c.Quality <= 0 {
		c.Quality = 70
	}
}

// Generator makes thumbnails.
type Generator struct {
	cfg Config
}

// New returns a Generator.
func New(cfg Config) *Generator {
	cfg.defaults()
	return &Generator{cfg: cfg}
}

// MaxDim returns the configured bounding dimension.
func (g *Generator) MaxDim() int { return g.cfg.MaxDim }

// Make scales img to fit MaxDim x MaxDim (never upscaling) and encodes the
// result as JPEG.
func (g *Generator) Make(img image.Image) (screenshot.Blob, error) {
	if img == nil || img.Bounds().Empty() {
		return screenshot.Blob{}, errors.New("thumbnail: empty image")
	}
	w, h := Dimensions(img.Bounds().Dx(), img.Bounds().Dy(), g.cfg.MaxDim)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Src, nil)
	return screenshot.EncodeJPEG(dst, g.cfg.Quality)
}

// Dimensions returns the aspect-preserving size of a w x h image fitted in
// a maxDim square. Images already inside the square keep their size.
func Dimensions(w, h, maxDim int) (int, int) {
	if w <= maxDim && h <= maxDim {
		return w, h
	}
	if w >= h {
		return maxDim, max(1, (h*maxDim+w/2)/w)
	}
	return max(1, (w*maxDim+h/2)/h), maxDim
}
