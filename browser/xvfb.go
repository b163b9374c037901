package browser

import (
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Minimum Xvfb screen; pages laid out for a phone viewport still get a
// desktop-sized root window.
const (
	minScreenW = 1920
	minScreenH = 1080
)

// xvfbScreen returns the Xvfb -screen geometry for tabs of the given
// viewport: large enough for the viewport at its pixel ratio, never below
// the minimum.
func xvfbScreen(width, height int, pixelRatio float64) string {
	if pixelRatio <= 0 {
		pixelRatio = 1
	}
	w := max(minScreenW, int(math.Ceil(float64(width)*pixelRatio)))
	h := max(minScreenH, int(math.Ceil(float64(height)*pixelRatio)))
	return fmt.Sprintf("%dx%dx24", w, h)
}

// displaySocket maps an X display such as ":99" to its Unix socket.
func displaySocket(display string) (string, error) {
	n, ok := strings.CutPrefix(display, ":")
	if i := strings.IndexByte(n, '.'); i >= 0 {
		n = n[:i]
	}
	if _, err := strconv.Atoi(n); !ok || err != nil {
		return "", fmt.Errorf("invalid display %q", display)
	}
	return "/tmp/.X11-unix/X" + n, nil
}

// startXvfb launches the virtual display for headful mode and waits until
// it accepts connections.
func (m *Manager) startXvfb() error {
	if m.xvfb != nil {
		return nil
	}
	display := m.cfg.XvfbDisplay
	sock, err := displaySocket(display)
	if err != nil {
		return err
	}
	screen := xvfbScreen(m.cfg.ScreenWidth, m.cfg.ScreenHeight, m.cfg.PixelRatio)
	cmd := exec.Command("Xvfb", display, "-screen", "0", screen, "-ac", "-nolisten", "tcp")
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start xvfb: %w", err)
	}
	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	deadline := time.After(5 * time.Second)
	for {
		if _, err := os.Stat(sock); err == nil {
			break
		}
		select {
		case err := <-exited:
			return fmt.Errorf("xvfb exited before %s was ready: %v", display, err)
		case <-deadline:
			cmd.Process.Kill()
			<-exited
			return errors.New("xvfb: display not ready after 5s")
		case <-time.After(50 * time.Millisecond):
		}
	}
	m.xvfb, m.xvfbEnd = cmd, exited
	m.cfg.Logger.Info("browser: xvfb started", "display", display, "screen", screen, "pid", cmd.Process.Pid)
	return nil
}

func (m *Manager) stopXvfb() {
	if m.xvfb == nil {
		return
	}
	m.xvfb.Process.Kill()
	<-m.xvfbEnd
	m.cfg.Logger.Info("browser: xvfb stopped")
	m.xvfb, m.xvfbEnd = nil, nil
}
