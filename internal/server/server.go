package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/mergewarden/mergewarden/internal/config"
	"github.com/mergewarden/mergewarden/internal/engine"
	"github.com/mergewarden/mergewarden/internal/host/github"
	"github.com/mergewarden/mergewarden/internal/runs"
)

// RunServer starts the HTTP control API and the monitor loop, blocking
// until the context is cancelled.
func RunServer(ctx context.Context, port int, cfg config.Config) error {
	backend := github.NewBackend(cfg.Host.Owner, cfg.Host.Repo, cfg.Host.Token, cfg.Host.MergeMethod)

	registry, err := openRegistry(cfg)
	if err != nil {
		return err
	}
	defer registry.Close()

	eng := engine.New(backend, registry, cfg)
	mon := NewMonitor(eng, cfg)

	mux := http.NewServeMux()
	registerRoutes(mux, &apiServer{cfg: cfg, started: time.Now()})

	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := mon.RunMonitorLoop(ctx); err != nil {
			slog.Error("monitor loop error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("HTTP server shutdown error", "error", err)
		}
	}()

	slog.Info("starting HTTP server", "addr", addr)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	wg.Wait()
	return nil
}

// openRegistry opens the duplicate-run ledger at its configured path, or
// the default location under the data directory.
func openRegistry(cfg config.Config) (*runs.Registry, error) {
	path := cfg.Runs.DBPath
	if path == "" {
		dataDir, err := config.DataDir()
		if err != nil {
			return nil, fmt.Errorf("resolving data directory: %w", err)
		}
		path = filepath.Join(dataDir, "runs.db")
	}
	registry, err := runs.Open(path, cfg.Runs.ParseGracePeriod(), cfg.Runs.ParseLookback())
	if err != nil {
		return nil, fmt.Errorf("opening run registry: %w", err)
	}
	return registry, nil
}
