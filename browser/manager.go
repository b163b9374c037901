// Package browser runs the headless Chrome that renders pages for capture:
// launch or connect through Rod, watch heap usage, recycle on a threshold
// or interval, and hand out tabs that satisfy capture.Page.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
)

// Level controls how Chrome is driven.
type Level int

const (
	LevelHeadless Level = iota // Rod headless + stealth
	LevelHeadful               // Rod headful on an Xvfb display
	LevelPlain                 // headless, no stealth patches
)

func (l Level) String() string {
	switch l {
	case LevelHeadful:
		return "headful"
	case LevelPlain:
		return "plain"
	}
	return "headless"
}

// ParseLevel accepts "headless", "headful" and "plain".
func ParseLevel(s string) (Level, error) {
	switch s {
	case "", "headless":
		return LevelHeadless, nil
	case "headful":
		return LevelHeadful, nil
	case "plain":
		return LevelPlain, nil
	}
	return 0, fmt.Errorf("browser: unknown level %q", s)
}

// ErrClosed is returned once the manager has been closed.
var ErrClosed = errors.New("browser: manager is closed")

// Config configures the Manager.
type Config struct {
	// RemoteURL is the DevTools WebSocket URL of an external Chrome.
	// Empty launches a local Chrome.
	RemoteURL string

	// Bin overrides the Chrome binary used by the launcher.
	Bin string

	// MemoryLimit in bytes of JS heap before Chrome is recycled. Default: 1GB.
	MemoryLimit int64

	// RecycleInterval is the maximum lifetime of a Chrome process. Default: 4h.
	RecycleInterval time.Duration

	// ResourceBlocking lists resource types never fetched by tabs
	// (images, fonts, media, stylesheets).
	ResourceBlocking []string

	Level Level

	// XvfbDisplay for headful mode. Default: ":99".
	XvfbDisplay string

	// ScreenWidth, ScreenHeight and PixelRatio describe the largest tab
	// viewport; the Xvfb screen is sized to hold it.
	ScreenWidth  int
	ScreenHeight int
	PixelRatio   float64

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.MemoryLimit <= 0 {
		c.MemoryLimit = 1 << 30
	}
	if c.RecycleInterval <= 0 {
		c.RecycleInterval = 4 * time.Hour
	}
	if c.XvfbDisplay == "" {
		c.XvfbDisplay = ":99"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager owns one Chrome process.
type Manager struct {
	cfg     Config
	mu      sync.RWMutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	xvfb    *exec.Cmd
	xvfbEnd <-chan error // Xvfb exit status, received once
	startAt time.Time
	closed  bool

	// OnRecycle, when set, runs after Chrome has been restarted. Tabs from
	// the old process are dead at that point.
	OnRecycle func(*rod.Browser)
}

// NewManager returns a Manager. Call Start to launch Chrome.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

// Start launches or connects to Chrome and starts the health monitor,
// which stops with ctx.
func (m *Manager) Start(ctx context.Context) (*rod.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	b, err := m.launch()
	if err != nil {
		return nil, err
	}
	m.browser = b
	m.startAt = time.Now()

	go m.monitorLoop(ctx)
	return b, nil
}

// Browser returns the current Rod handle, or nil before Start.
func (m *Manager) Browser() *rod.Browser {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser
}

// Recycle restarts Chrome.
func (m *Manager) Recycle(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	b, err := m.recycleLocked()
	cb := m.OnRecycle
	m.mu.Unlock()
	if err != nil {
		return err
	}
	if cb != nil {
		cb(b)
	}
	return nil
}

// Close shuts down Chrome and Xvfb.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cleanup()
	return nil
}

func (m *Manager) launch() (*rod.Browser, error) {
	log := m.cfg.Logger

	if m.cfg.Level == LevelHeadful {
		if err := m.startXvfb(); err != nil {
			return nil, fmt.Errorf("browser: xvfb: %w", err)
		}
	}

	wsURL := m.cfg.RemoteURL
	if wsURL != "" {
		log.Info("browser: connecting to remote", "url", wsURL)
	} else {
		l := launcher.New()
		if m.cfg.Bin != "" {
			l = l.Bin(m.cfg.Bin)
		}
		if m.cfg.Level == LevelHeadful {
			l = l.Headless(false).Env("DISPLAY", m.cfg.XvfbDisplay)
		} else {
			l = l.Headless(true)
		}
		l = l.Set("disable-blink-features", "AutomationControlled").
			Set("hide-scrollbars")

		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		m.lnch = l
		log.Info("browser: launched local chrome", "url", wsURL, "level", m.cfg.Level)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	if err := b.IgnoreCertErrors(true); err != nil {
		log.Warn("browser: ignore cert errors failed", "error", err)
	}
	return b, nil
}

func (m *Manager) recycleLocked() (*rod.Browser, error) {
	log := m.cfg.Logger
	log.Info("browser: recycling", "uptime", time.Since(m.startAt))

	m.cleanup()
	b, err := m.launch()
	if err != nil {
		return nil, fmt.Errorf("browser: relaunch: %w", err)
	}
	m.browser = b
	m.startAt = time.Now()
	log.Info("browser: recycled")
	return b, nil
}

func (m *Manager) cleanup() {
	if m.browser != nil {
		if err := m.browser.Close(); err != nil {
			m.cfg.Logger.Debug("browser: close", "error", err)
		}
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
	m.stopXvfb()
}

// due reports whether a process started at startAt must be recycled.
func (m *Manager) due(startAt time.Time, heap int64, now time.Time) (bool, string) {
	if now.Sub(startAt) > m.cfg.RecycleInterval {
		return true, "interval"
	}
	if heap > m.cfg.MemoryLimit {
		return true, "memory"
	}
	return false, ""
}

func (m *Manager) monitorLoop(ctx context.Context) {
	log := m.cfg.Logger
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.RLock()
			if m.closed || m.browser == nil {
				m.mu.RUnlock()
				return
			}
			b, startAt := m.browser, m.startAt
			m.mu.RUnlock()

			heap, err := jsHeapUsage(b)
			if err != nil {
				log.Debug("browser: heap check failed", "error", err)
			}
			if ok, why := m.due(startAt, heap, time.Now()); ok {
				log.Info("browser: recycle due", "reason", why, "heap", heap, "limit", m.cfg.MemoryLimit)
				if err := m.Recycle(ctx); err != nil {
					log.Error("browser: recycle failed", "error", err)
				}
			}
		}
	}
}

// jsHeapUsage reads the JS heap of the first open page as a proxy for the
// whole process.
func jsHeapUsage(b *rod.Browser) (int64, error) {
	pages, err := b.Pages()
	if err != nil || len(pages) == 0 {
		return 0, errors.New("no pages for heap check")
	}
	res, err := pages[0].Eval(`() => performance.memory ? performance.memory.usedJSHeapSize : 0`)
	if err != nil {
		return 0, err
	}
	return int64(res.Value.Int()), nil
}
