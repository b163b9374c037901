package capture

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"sync"
	"time"

	"github.com/hazyhaar/feedshot/geom"
)

// element is a node of a synthetic document.
type element struct {
	tag    string
	attrs  map[string]bool
	rect   image.Rectangle // CSS pixels
	fill   color.RGBA
	parent *element
}

func (e *element) Tag() string              { return e.tag }
func (e *element) HasAttr(name string) bool { return e.attrs[name] }
func (e *element) Parent() Node {
	if e.parent == nil {
		return nil
	}
	return e.parent
}

// fakePage paints its elements into a PNG at viewport * ratio, skipping
// whatever the Exclusion rules out.
type fakePage struct {
	viewport geom.Size
	ratio    float64
	elements []*element
	err      error
	garbage  bool
	block    chan struct{} // when set, Rasterize waits on it

	mu      sync.Mutex
	calls   int
	opts    []RasterOptions
	cleared int
	at      []time.Time
}

var background = color.RGBA{0xf0, 0xf0, 0xf0, 0xff}

func newFakePage(w, h, ratio float64, elems ...*element) *fakePage {
	return &fakePage{viewport: geom.Size{W: w, H: h}, ratio: ratio, elements: elems}
}

func (p *fakePage) Rasterize(ctx context.Context, opts RasterOptions) ([]byte, error) {
	p.mu.Lock()
	p.calls++
	p.opts = append(p.opts, opts)
	p.at = append(p.at, time.Now())
	p.mu.Unlock()

	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.err != nil {
		return nil, p.err
	}
	if p.garbage {
		return []byte("definitely not an image"), nil
	}

	r := opts.PixelRatio
	if r == 0 {
		r = p.ratio
	}
	if r == 0 {
		r = 1
	}
	img := image.NewRGBA(image.Rect(0, 0, int(p.viewport.W*r), int(p.viewport.H*r)))
	draw.Draw(img, img.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)
	for _, e := range p.elements {
		if opts.Exclude.Excludes(e) {
			continue
		}
		dst := image.Rect(
			int(float64(e.rect.Min.X)*r), int(float64(e.rect.Min.Y)*r),
			int(float64(e.rect.Max.X)*r), int(float64(e.rect.Max.Y)*r))
		draw.Draw(img, dst, image.NewUniform(e.fill), image.Point{}, draw.Src)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (p *fakePage) Viewport(context.Context) (geom.Size, error) {
	return p.viewport, nil
}

func (p *fakePage) ClearSelection(context.Context) error {
	p.mu.Lock()
	p.cleared++
	p.mu.Unlock()
	return nil
}

func (p *fakePage) rasterCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// recorder collects handler invocations.
type recorder struct {
	mu       sync.Mutex
	shots    []shotRecord
	closes   int
	failures []error
}

type shotRecord struct {
	id   string
	mode string
	w, h int
	img  int
	th   int
	note string
	mime string
}
