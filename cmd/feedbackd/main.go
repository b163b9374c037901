// Command feedbackd serves the feedback API, the embeddable widget assets,
// the admin triage view and the MCP triage tools over one SQLite database.
package main

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"

	"github.com/hazyhaar/feedshot/dbopen"
	"github.com/hazyhaar/feedshot/observability"
	"github.com/hazyhaar/feedshot/shield"
)

const serviceName = "feedbackd"

type config struct {
	Addr          string
	DBPath        string
	AppName       string
	Secret        []byte
	AdminUser     string
	AdminHash     []byte
	SessionTTL    time.Duration
	SecureCookies bool
	Heartbeat     time.Duration
	RetentionDays int
	MaxReportMB   int
}

// loadConfig reads the environment, after an optional .env file.
func loadConfig() (config, error) {
	_ = godotenv.Load()

	cfg := config{
		Addr:          env("ADDR", ":8080"),
		DBPath:        env("DB_PATH", "data/feedshot.db"),
		AppName:       env("APP_NAME", "feedshot"),
		AdminUser:     env("ADMIN_USER", "admin"),
		SecureCookies: env("SECURE_COOKIES", "false") == "true",
		SessionTTL:    12 * time.Hour,
		Heartbeat:     15 * time.Second,
		RetentionDays: envInt("RETENTION_DAYS", 90),
		MaxReportMB:   envInt("MAX_REPORT_MB", 16),
	}
	if v := os.Getenv("SESSION_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("SESSION_TTL: %w", err)
		}
		cfg.SessionTTL = d
	}

	secret := os.Getenv("SESSION_SECRET")
	if secret == "" {
		return cfg, errors.New("SESSION_SECRET is required")
	}
	// Any passphrase length works; the HS256 key is its SHA-256.
	sum := sha256.Sum256([]byte(secret))
	cfg.Secret = sum[:]

	switch hash, pass := os.Getenv("ADMIN_PASSWORD_HASH"), os.Getenv("ADMIN_PASSWORD"); {
	case hash != "":
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return cfg, fmt.Errorf("ADMIN_PASSWORD_HASH: %w", err)
		}
		cfg.AdminHash = []byte(hash)
	case pass != "":
		h, err := bcrypt.GenerateFromPassword([]byte(pass), bcrypt.DefaultCost)
		if err != nil {
			return cfg, fmt.Errorf("hash admin password: %w", err)
		}
		cfg.AdminHash = h
	default:
		return cfg, errors.New("ADMIN_PASSWORD_HASH or ADMIN_PASSWORD is required")
	}
	return cfg, nil
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(env("LOG_LEVEL", "info"))}))
	slog.SetDefault(logger)

	cfg, err := loadConfig()
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := dbopen.Open(cfg.DBPath,
		dbopen.WithMkdirAll(),
		dbopen.WithInit(shield.Init),
		dbopen.WithInit(observability.Init),
	)
	if err != nil {
		slog.Error("open db", "error", err, "path", cfg.DBPath)
		os.Exit(1)
	}
	defer db.Close()

	s, err := newServer(cfg, db, logger)
	if err != nil {
		slog.Error("server", "error", err)
		os.Exit(1)
	}
	defer s.Close()

	s.guard.StartReloader(ctx.Done())
	s.heartbeat.Start(ctx)
	go s.retentionLoop(ctx, 6*time.Hour)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	go func() {
		slog.Info("feedbackd listening", "addr", cfg.Addr, "db", cfg.DBPath, "app", cfg.AppName)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("listen", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("feedbackd shutting down")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
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
