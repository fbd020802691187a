// Command voxgate runs the streaming text-to-speech gateway server.
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

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/voxgate/voxgate/internal/config"
	"github.com/voxgate/voxgate/internal/gateway"
	"github.com/voxgate/voxgate/internal/health"
	"github.com/voxgate/voxgate/internal/observe"
	"github.com/voxgate/voxgate/internal/server"
	"github.com/voxgate/voxgate/pkg/audio"
	"github.com/voxgate/voxgate/pkg/engine"
	"github.com/voxgate/voxgate/pkg/engine/elevenlabs"
	"github.com/voxgate/voxgate/pkg/engine/openaitts"
	"github.com/voxgate/voxgate/pkg/engine/sine"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxgate: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxgate: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("voxgate starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"engine", cfg.Engine.Name,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "voxgate",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Synthesis engine ──────────────────────────────────────────────────────
	eng, err := buildEngine(cfg)
	if err != nil {
		slog.Error("failed to build engine", "err", err)
		return 1
	}
	slog.Info("engine ready", "engine", cfg.Engine.Name)

	// ── Gateway ───────────────────────────────────────────────────────────────
	manager := gateway.NewManager(eng, gateway.ManagerConfig{
		TTL:             cfg.Gateway.SessionTTL,
		MaxPendingUnits: cfg.Gateway.MaxPendingUnits,
		MaxSendQueue:    cfg.Gateway.MaxSendQueue,
		CleanupInterval: cfg.Gateway.CleanupInterval,
	},
		gateway.WithLogger(logger),
		gateway.WithMetrics(metrics),
	)

	// ── HTTP surface ──────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	server.New(manager, server.WithLogger(logger)).Register(mux)
	health.New(
		health.Checker{Name: "engine", Check: engineCheck(eng)},
		health.Checker{Name: "sessions", Check: func(context.Context) error { return nil }},
	).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ── Run ───────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("listening", "addr", cfg.Server.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		manager.CleanupLoop(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()

		slog.Info("shutdown signal received, stopping…")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http shutdown error", "err", err)
		}
		return manager.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Logger ────────────────────────────────────────────────────────────────────

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

// ── Engine wiring ─────────────────────────────────────────────────────────────

// buildEngine constructs the synthesis engine named in cfg.
func buildEngine(cfg *config.Config) (engine.Engine, error) {
	switch cfg.Engine.Name {
	case config.EngineSine:
		return sine.New(), nil

	case config.EngineOpenAI:
		return openaitts.New(cfg.Engine.APIKey, cfg.Engine.Model, cfg.Engine.Voice)

	case config.EngineElevenLabs:
		var opts []elevenlabs.Option
		if cfg.Engine.Model != "" {
			opts = append(opts, elevenlabs.WithModel(cfg.Engine.Model))
		}
		return elevenlabs.New(cfg.Engine.APIKey, cfg.Engine.Voice, opts...)

	default:
		return nil, fmt.Errorf("unknown engine %q", cfg.Engine.Name)
	}
}

// audioProbeSpec is the throwaway spec used by the readiness probe.
var audioProbeSpec = audio.DefaultSpec

// engineCheck probes the engine with a minimal synthesis call. Remote engines
// are only probed for construction-time validity; a live round-trip on every
// readiness check would burn vendor quota.
func engineCheck(eng engine.Engine) func(ctx context.Context) error {
	_, local := eng.(*sine.Engine)
	return func(ctx context.Context) error {
		if !local {
			return nil
		}
		_, err := eng.SynthesizePCM16(ctx, ".", audioProbeSpec)
		return err
	}
}
