// Package app wires the process together: configuration from the
// environment, the logging router, durable storage, the sync hub, and the
// HTTP surface.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	server "nightfall/server"
	servernet "nightfall/server/internal/net"
	"nightfall/server/internal/store"
	"nightfall/server/logging"
	loggingSinks "nightfall/server/logging/sinks"
)

type Config struct {
	Addr    string
	DBPath  string
	LogFile string
}

func Run(ctx context.Context, cfg Config) error {
	logger := log.Default()

	if cfg.Addr == "" {
		cfg.Addr = envString("NIGHTFALL_ADDR", ":8080")
	}
	if cfg.DBPath == "" {
		cfg.DBPath = envString("NIGHTFALL_DB", "nightfall.db")
	}
	if cfg.LogFile == "" {
		cfg.LogFile = os.Getenv("NIGHTFALL_LOG_FILE")
	}

	logConfig := logging.DefaultConfig()
	sinks := []logging.NamedSink{
		{Name: "console", Sink: loggingSinks.NewConsole(os.Stdout, logConfig.Console)},
	}
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		sinks = append(sinks, logging.NamedSink{
			Name: "json",
			Sink: loggingSinks.NewJSON(f, logConfig.JSON.FlushInterval),
		})
	}

	router, err := logging.NewRouter(logging.SystemClock{}, logConfig, sinks)
	if err != nil {
		return fmt.Errorf("construct logging router: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if cerr := router.Close(closeCtx); cerr != nil {
			logger.Printf("failed to close logging router: %v", cerr)
		}
	}()

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	hubCfg := server.DefaultHubConfig()
	hubCfg.Store = db
	hubCfg.Publisher = router
	if raw := os.Getenv("NIGHTFALL_PATCH_COOLDOWN_MS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil {
			hubCfg.PatchCooldown = time.Duration(value) * time.Millisecond
		} else {
			logger.Printf("invalid NIGHTFALL_PATCH_COOLDOWN_MS=%q: %v", raw, err)
		}
	}
	if raw := os.Getenv("NIGHTFALL_LOCK_TTL_SECONDS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil {
			hubCfg.LockTTL = time.Duration(value) * time.Second
		} else {
			logger.Printf("invalid NIGHTFALL_LOCK_TTL_SECONDS=%q: %v", raw, err)
		}
	}
	if raw := os.Getenv("NIGHTFALL_DRIFT_THRESHOLD"); raw != "" {
		if value, err := strconv.ParseFloat(raw, 64); err == nil {
			hubCfg.DriftThreshold = value
		} else {
			logger.Printf("invalid NIGHTFALL_DRIFT_THRESHOLD=%q: %v", raw, err)
		}
	}
	if raw := os.Getenv("NIGHTFALL_IDLE_EVICT_MINUTES"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil {
			hubCfg.IdleAfter = time.Duration(value) * time.Minute
		} else {
			logger.Printf("invalid NIGHTFALL_IDLE_EVICT_MINUTES=%q: %v", raw, err)
		}
	}

	registry := prometheus.NewRegistry()
	hubCfg.Registry = registry

	hub := server.NewHubWithConfig(hubCfg)
	stop := make(chan struct{})
	go hub.Run(stop)
	defer close(stop)

	handler := servernet.NewHandler(hub, servernet.HandlerConfig{
		Logger:   logger,
		Gatherer: registry,
	})

	srv := &http.Server{Addr: cfg.Addr, Handler: handler}
	logger.Printf("server listening on %s", srv.Addr)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
