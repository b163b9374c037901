package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/feedshot/capture"
	"github.com/hazyhaar/feedshot/geom"
)

const hideStyleID = "__feedshot_exclude"

// TabConfig sizes a tab's viewport.
type TabConfig struct {
	Width      int     // CSS pixels. Default: 1280.
	Height     int     // CSS pixels. Default: 800.
	PixelRatio float64 // Default: 1.

	// NavTimeout bounds navigation and load. Default: 30s.
	NavTimeout time.Duration
}

func (c *TabConfig) defaults() {
	if c.Width <= 0 {
		c.Width = 1280
	}
	if c.Height <= 0 {
		c.Height = 800
	}
	if c.PixelRatio <= 0 {
		c.PixelRatio = 1
	}
	if c.NavTimeout <= 0 {
		c.NavTimeout = 30 * time.Second
	}
}

// Tab is one page in the managed browser. It implements capture.Page.
type Tab struct {
	Page *rod.Page
	URL  string

	log    *slog.Logger
	router *rod.HijackRouter

	mu       sync.Mutex
	ratio    float64
	cacheOff bool
}

var _ capture.Page = (*Tab)(nil)

// OpenTab creates a tab, sizes its viewport and navigates to pageURL.
func OpenTab(ctx context.Context, mgr *Manager, pageURL string, cfg TabConfig) (*Tab, error) {
	cfg.defaults()
	b := mgr.Browser()
	if b == nil {
		return nil, errors.New("browser: no active browser")
	}

	var (
		page *rod.Page
		err  error
	)
	if mgr.cfg.Level == LevelPlain {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	} else {
		page, err = stealth.Page(b)
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	t := &Tab{Page: page, URL: pageURL, log: mgr.cfg.Logger, ratio: cfg.PixelRatio}
	if len(mgr.cfg.ResourceBlocking) > 0 {
		t.router = blockResources(page, mgr.cfg.ResourceBlocking)
	}

	if err := t.setViewport(cfg.Width, cfg.Height, cfg.PixelRatio); err != nil {
		t.Close()
		return nil, err
	}

	navCtx, cancel := context.WithTimeout(ctx, cfg.NavTimeout)
	defer cancel()
	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		t.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		t.log.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}
	return t, nil
}

func (t *Tab) setViewport(w, h int, ratio float64) error {
	err := t.Page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             w,
		Height:            h,
		DeviceScaleFactor: ratio,
	})
	if err != nil {
		return fmt.Errorf("browser: set viewport: %w", err)
	}
	return nil
}

// Viewport implements capture.Page.
func (t *Tab) Viewport(ctx context.Context) (geom.Size, error) {
	res, err := t.Page.Context(ctx).Eval(`() => ({w: window.innerWidth, h: window.innerHeight})`)
	if err != nil {
		return geom.Size{}, fmt.Errorf("browser: viewport: %w", err)
	}
	return geom.Size{W: res.Value.Get("w").Num(), H: res.Value.Get("h").Num()}, nil
}

// ClearSelection implements capture.Page.
func (t *Tab) ClearSelection(ctx context.Context) error {
	_, err := t.Page.Context(ctx).Eval(`() => { const s = window.getSelection && window.getSelection(); if (s) s.removeAllRanges(); }`)
	return err
}

// Rasterize implements capture.Page. Excluded elements are hidden with an
// injected style for the duration of the screenshot; layout is unchanged.
// The result is always PNG, so opts.Quality is left to the caller's encoder.
func (t *Tab) Rasterize(ctx context.Context, opts capture.RasterOptions) ([]byte, error) {
	page := t.Page.Context(ctx)

	if opts.CacheBust {
		if err := t.disableCache(page); err != nil {
			t.log.Debug("browser: disable cache", "error", err)
		}
	}
	if opts.PixelRatio > 0 && opts.PixelRatio != t.currentRatio() {
		vp, err := t.Viewport(ctx)
		if err != nil {
			return nil, err
		}
		if err := t.setViewport(int(vp.W), int(vp.H), opts.PixelRatio); err != nil {
			return nil, err
		}
		t.mu.Lock()
		t.ratio = opts.PixelRatio
		t.mu.Unlock()
	}

	if css := hideCSS(opts.Exclude); css != "" {
		if _, err := page.Eval(`(id, css) => {
			const s = document.createElement('style');
			s.id = id;
			s.textContent = css;
			document.documentElement.appendChild(s);
		}`, hideStyleID, css); err != nil {
			return nil, fmt.Errorf("browser: inject exclusion style: %w", err)
		}
		defer func() {
			if _, err := t.Page.Eval(`(id) => { const s = document.getElementById(id); if (s) s.remove(); }`, hideStyleID); err != nil {
				t.log.Warn("browser: remove exclusion style", "error", err)
			}
		}()
	}

	data, err := page.Screenshot(false, &proto.PageCaptureScreenshot{
		Format:      proto.PageCaptureScreenshotFormatPng,
		FromSurface: true,
	})
	if err != nil {
		return nil, fmt.Errorf("browser: screenshot: %w", err)
	}
	return data, nil
}

func (t *Tab) currentRatio() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ratio
}

func (t *Tab) disableCache(page *rod.Page) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cacheOff {
		return nil
	}
	if err := (proto.NetworkEnable{}).Call(page); err != nil {
		return err
	}
	if err := (proto.NetworkSetCacheDisabled{CacheDisabled: true}).Call(page); err != nil {
		return err
	}
	t.cacheOff = true
	return nil
}

// Close closes the tab.
func (t *Tab) Close() error {
	if t.router != nil {
		if err := t.router.Stop(); err != nil {
			t.log.Debug("browser: stop router", "error", err)
		}
		t.router = nil
	}
	if t.Page != nil {
		return t.Page.Close()
	}
	return nil
}

// hideCSS renders ex as a stylesheet that hides every excluded element and
// its whole subtree.
func hideCSS(ex capture.Exclusion) string {
	sels := ex.Selectors()
	if len(sels) == 0 {
		return ""
	}
	parts := make([]string, 0, 2*len(sels))
	for _, s := range sels {
		parts = append(parts, s, s+" *")
	}
	return strings.Join(parts, ",\n") + " {\n  visibility: hidden !important;\n}\n"
}
