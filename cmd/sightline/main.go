// Command sightline is the Sightline visual assistance server.
//
// It exposes one WebSocket endpoint that a mobile or browser frontend
// connects to with its microphone and camera. The server relays the media
// stream to a realtime agent, schedules the agent's spoken replies for
// gapless playback, and pushes transcript and state updates back down.
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

	"github.com/sightlinehq/sightline/internal/app"
	"github.com/sightlinehq/sightline/internal/archive"
	"github.com/sightlinehq/sightline/internal/config"
	"github.com/sightlinehq/sightline/internal/feedback"
	"github.com/sightlinehq/sightline/internal/gateway"
	"github.com/sightlinehq/sightline/internal/health"
	"github.com/sightlinehq/sightline/internal/observe"
	"github.com/sightlinehq/sightline/internal/player"
	"github.com/sightlinehq/sightline/internal/session"
	"github.com/sightlinehq/sightline/pkg/live"
	"github.com/sightlinehq/sightline/pkg/live/gemini"
)

// version is overridden at build time via -ldflags.
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
			fmt.Fprintf(os.Stderr, "sightline: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "sightline: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("sightline starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "sightline",
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
	metrics := observe.DefaultMetrics()

	// ── Transcript archive ────────────────────────────────────────────────────
	store, err := newArchive(ctx, cfg.Archive)
	if err != nil {
		slog.Error("failed to open transcript archive", "err", err)
		return 1
	}
	defer store.Close()

	// ── Agent provider ────────────────────────────────────────────────────────
	provider, err := newAgentProvider(cfg.Agent)
	if err != nil {
		slog.Error("failed to create agent provider", "err", err)
		return 1
	}

	// ── Gateway ───────────────────────────────────────────────────────────────
	handler := gateway.NewHandler(newShellFactory(cfg, provider, store, metrics))

	mux := http.NewServeMux()
	mux.Handle("GET /ws", handler)
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(version, health.Checker{Name: "archive", Check: store.Ping}).Register(mux)

	server := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: observe.Middleware(metrics)(mux),
	}

	serveErr := make(chan error, 1)
	go func() {
		if cfg.Server.TLS != nil {
			serveErr <- server.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
			return
		}
		serveErr <- server.ListenAndServe()
	}()

	slog.Info("server ready — press Ctrl+C to shut down")

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("serve error", "err", err)
			return 1
		}
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// newArchive opens the PostgreSQL transcript archive, or a no-op store when
// no DSN is configured.
func newArchive(ctx context.Context, cfg config.ArchiveConfig) (archive.Store, error) {
	if cfg.PostgresDSN == "" {
		slog.Info("transcript archiving disabled (no postgres_dsn configured)")
		return archive.Noop{}, nil
	}
	store, err := archive.NewPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	slog.Info("transcript archive connected")
	return store, nil
}

// newAgentProvider builds the realtime agent client from config.
func newAgentProvider(cfg config.AgentConfig) (live.Provider, error) {
	switch cfg.Provider {
	case "", "gemini-live":
		var opts []gemini.Option
		if cfg.Model != "" {
			opts = append(opts, gemini.WithModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(cfg.BaseURL))
		}
		return gemini.New(cfg.ResolveAPIKey(), opts...), nil
	default:
		return nil, fmt.Errorf("unknown agent provider %q", cfg.Provider)
	}
}

// newShellFactory wires a full application shell for every accepted gateway
// connection: the connection itself serves as capture source, playback sink,
// feedback output, and UI notifier.
func newShellFactory(cfg *config.Config, provider live.Provider, store archive.Store, metrics *observe.Metrics) gateway.ShellFactory {
	return func(conn *gateway.Conn) gateway.Controller {
		scheduler := player.New(conn, player.NewWallClock())

		var shell *app.Shell
		opts := []session.Option{
			session.WithVoice(cfg.Agent.Voice),
			session.WithMetrics(metrics),
			session.WithDownFunc(func(err error) { shell.HandleSessionDown(err) }),
			session.WithTranscriptFunc(func(src live.TranscriptSource, text string) {
				shell.HandleTranscript(src, text)
			}),
			session.WithLevelFunc(func(level float64) { shell.HandleLevel(level) }),
		}
		if cfg.Session.FrameIntervalMs > 0 {
			opts = append(opts, session.WithFrameInterval(time.Duration(cfg.Session.FrameIntervalMs)*time.Millisecond))
		}
		manager := session.New(provider, scheduler, opts...)

		shell = app.New(manager, conn,
			app.WithArchive(store),
			app.WithFeedback(feedback.New(conn, conn)),
			app.WithNotifier(conn),
			app.WithMode(cfg.Session.Mode()),
		)
		return shell
	}
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
