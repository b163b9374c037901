// Command shot captures a web page the way the feedback widget does: a full
// frame, a snippet region or an annotated frame, written to disk and
// optionally submitted as a feedback report.
//
//	shot -url https://example.com -mode full -out shots
//	shot -job checkout.yaml -submit http://localhost:8080/feedback
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/hazyhaar/feedshot/screenshot"
)

func main() {
	var (
		jobPath      = flag.String("job", "", "YAML job file")
		url          = flag.String("url", "", "page to capture")
		mode         = flag.String("mode", "", "full, snippet or draw")
		out          = flag.String("out", "", "output directory")
		name         = flag.String("name", "", "image file name (default: screenshot download name)")
		level        = flag.String("level", "", "browser level: headless, headful or plain")
		remote       = flag.String("remote", "", "DevTools WebSocket URL of an external Chrome")
		allowPrivate = flag.Bool("allow-private", false, "allow private and loopback targets")
		overlay      = flag.Bool("overlay", false, "select the snippet region interactively")
		submitURL    = flag.String("submit", "", "feedback endpoint to submit the screenshot to")
		metricsDB    = flag.String("metrics-db", "", "SQLite file for capture metrics")
		timeout      = flag.Duration("timeout", 2*time.Minute, "overall deadline")
		logLevel     = flag.String("log-level", env("LOG_LEVEL", "info"), "debug, info, warn or error")
	)
	flag.Parse()
	_ = godotenv.Load()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(*logLevel)}))
	slog.SetDefault(log)

	job, err := loadJob(*jobPath)
	if err != nil {
		fatal(log, err)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "url":
			job.URL = *url
		case "mode":
			job.Mode = screenshot.Mode(*mode)
		case "out":
			job.Output.Dir = *out
		case "name":
			job.Output.Name = *name
		case "level":
			job.Browser.Level = *level
		case "remote":
			job.Browser.Remote = *remote
		case "allow-private":
			job.Browser.AllowPrivate = *allowPrivate
		case "overlay":
			job.Overlay = *overlay
		case "submit":
			if job.Submit == nil {
				job.Submit = &SubmitJob{}
			}
			job.Submit.Endpoint = *submitURL
		case "metrics-db":
			job.MetricsDB = *metricsDB
		}
	})
	job.applyDefaults()
	if err := job.validate(); err != nil {
		fatal(log, fmt.Errorf("invalid job: %w", err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, *timeout)
	defer cancelTimeout()

	if err := run(ctx, job, log); err != nil {
		fatal(log, err)
	}
}

func fatal(log *slog.Logger, err error) {
	log.Error("shot: failed", "error", err)
	os.Exit(1)
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
