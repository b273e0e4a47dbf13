// Command chat-relay bridges Twitch, Kick and YouTube live chat into one
// websocket feed for overlay panels. It:
//   - Loads configuration, the mutable credentials file and structured logging.
//   - Registers a connector factory per platform with the connection registry.
//   - Watches the credentials file so key changes apply without a restart.
//   - Exposes the viewer websocket plus /healthz, /status, /metrics and the
//     credentials/OAuth control plane.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/chat-relay/config"
	"github.com/onnwee/chat-relay/kick"
	"github.com/onnwee/chat-relay/message"
	"github.com/onnwee/chat-relay/ratelimit"
	"github.com/onnwee/chat-relay/relay"
	"github.com/onnwee/chat-relay/server"
	"github.com/onnwee/chat-relay/telemetry"
	"github.com/onnwee/chat-relay/twitch"
	"github.com/onnwee/chat-relay/youtube"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	// Config + mutable credentials
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	creds := config.NewStore(cfg.CredentialsFile)

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("chat-relay", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Kick shared state: connection rate limiter, auth block list, OAuth flow
	limiter := ratelimit.New(ratelimit.Config{
		MinInterval:          cfg.KickMinInterval,
		MaxInterval:          cfg.KickMaxInterval,
		MaxAttemptsPerMinute: cfg.KickMaxAttemptsPerMinute,
	})
	gate := kick.NewAuthGate()
	oauth := kick.NewOAuth(creds.KickClientID(), creds.KickClientSecret(), cfg.KickRedirectURI, "", "")

	broadcaster := relay.NewBroadcaster()
	registry := relay.NewRegistry(ctx)
	// A panel losing its last viewer releases its upstream connections.
	broadcaster.OnPanelEmpty(registry.DisconnectPanel)

	kickCfg := kick.Config{
		PusherKey:     cfg.KickPusherKey,
		PusherCluster: cfg.KickPusherCluster,
		PollEndpoints: cfg.KickPollEndpoints,
	}
	registry.Register(message.PlatformKick, func(panelID, channel string) relay.Connector {
		return kick.New(panelID, channel, kickCfg, limiter, gate, oauth, broadcaster)
	})
	registry.Register(message.PlatformYouTube, func(panelID, channel string) relay.Connector {
		return youtube.New(panelID, channel, youtube.Config{APIKeyFunc: creds.YouTubeAPIKey}, broadcaster)
	})
	registry.Register(message.PlatformTwitch, func(panelID, channel string) relay.Connector {
		return twitch.New(panelID, channel, twitch.Config{}, broadcaster)
	})

	// Re-read credentials when the file changes on disk; fresh Kick creds may
	// unblock channels that needed auth.
	go func() {
		onChange := func() {
			oauth.SetClient(creds.KickClientID(), creds.KickClientSecret())
			gate.Reset()
		}
		if err := creds.Watch(ctx, onChange); err != nil {
			slog.Warn("credentials watcher stopped", slog.Any("err", err))
		}
	}()

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:         pprofAddr,
				ReadTimeout:  5 * time.Second,
				WriteTimeout: 30 * time.Second,
				IdleTimeout:  60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Warn("pprof server error", slog.Any("err", err))
			}
		}()
	}

	h := server.NewHandlers(registry, broadcaster, creds, gate, oauth)
	if err := server.Start(ctx, h, cfg.HTTPAddr); err != nil {
		os.Exit(1)
	}
}
