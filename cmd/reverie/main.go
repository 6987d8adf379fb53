// Command reverie is the multiplayer AI-narrated roleplay server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/reverie-rp/reverie/internal/config"
	"github.com/reverie-rp/reverie/internal/engine"
	"github.com/reverie-rp/reverie/internal/health"
	"github.com/reverie-rp/reverie/internal/observe"
	"github.com/reverie-rp/reverie/internal/round"
	"github.com/reverie-rp/reverie/internal/server"
	"github.com/reverie-rp/reverie/internal/state"
	"github.com/reverie-rp/reverie/internal/summary"
	"github.com/reverie-rp/reverie/pkg/provider/llm"
)

// shutdownGrace is how long in-flight requests get to finish on SIGTERM.
const shutdownGrace = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "reverie: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "reverie: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("reverie starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"data_file", cfg.Server.DataFile,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Telemetry first so every later component records into the global
	// meter provider.
	metricsShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "reverie"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := metricsShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown failed", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// Providers.
	reg := config.DefaultRegistry()
	eng := engine.New(logger, cfg.Engine.RequestTimeout, metrics)

	var chatProvider, geminiProvider llm.Provider
	if !cfg.Providers.Chat.IsZero() {
		chatProvider, err = reg.CreateLLM(cfg.Providers.Chat)
		if err != nil {
			slog.Error("failed to build chat provider", "err", err)
			return 1
		}
		eng.Register(engine.FamilyChat, cfg.Providers.Chat.Name, chatProvider)
	}
	if !cfg.Providers.Gemini.IsZero() {
		geminiProvider, err = reg.CreateLLM(cfg.Providers.Gemini)
		if err != nil {
			slog.Error("failed to build gemini provider", "err", err)
			return 1
		}
		eng.Register(engine.FamilyGemini, cfg.Providers.Gemini.Name, geminiProvider)
	}

	summaryProvider := chatProvider
	if !cfg.Providers.Summary.IsZero() {
		summaryProvider, err = reg.CreateLLM(cfg.Providers.Summary)
		if err != nil {
			slog.Error("failed to build summary provider", "err", err)
			return 1
		}
	}
	if summaryProvider == nil {
		summaryProvider = geminiProvider
	}

	// Session document.
	store, err := state.NewFileStore(cfg.Server.DataFile)
	if err != nil {
		slog.Error("failed to open data file", "err", err, "path", cfg.Server.DataFile)
		return 1
	}
	doc := state.LoadOrDefault(store)
	if err := store.Save(doc); err != nil {
		slog.Error("failed to write data file", "err", err, "path", cfg.Server.DataFile)
		return 1
	}

	// Core wiring.
	hub := server.NewHub(metrics, logger)
	coord := round.New(doc, store, eng, summary.New(summaryProvider), hub, metrics, logger)
	hub.Bind(coord)

	healthHandler := health.New(health.Probe{
		Name: "store",
		Check: func(context.Context) error {
			_, err := store.Load()
			return err
		},
	})

	srv := server.New(hub, coord, healthHandler, cfg.Server.AdminPassword, logger)
	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server ready — press Ctrl+C to shut down", "addr", cfg.Server.ListenAddr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			return 1
		}
	case <-ctx.Done():
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("graceful shutdown failed", "err", err)
		}
	}

	slog.Info("goodbye")
	return 0
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
