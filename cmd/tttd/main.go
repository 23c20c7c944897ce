package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/park285/tictactoe-live/internal/auth"
	"github.com/park285/tictactoe-live/internal/broker"
	appcfg "github.com/park285/tictactoe-live/internal/config"
	"github.com/park285/tictactoe-live/internal/gateway"
	"github.com/park285/tictactoe-live/internal/msgcat"
	"github.com/park285/tictactoe-live/internal/obslog"
	"github.com/park285/tictactoe-live/internal/registry"
	"github.com/park285/tictactoe-live/internal/stats"
	"github.com/park285/tictactoe-live/internal/store"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.Init(obslog.Options{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		ToConsole: cfg.Log.ToConsole,
		ToFile:    cfg.Log.ToFile,
		File:      cfg.Log.File,
		Caller:    cfg.Log.Caller,
	}); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = obslog.L().Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.RedisURL, store.WithTTL(cfg.SessionTTL), store.WithPresenceTTL(3*cfg.PingInterval))
	if err != nil {
		log.Fatalf("store init error: %v", err)
	}
	defer st.Close()

	br, err := openBroker(cfg, st)
	if err != nil {
		log.Fatalf("broker init error: %v", err)
	}
	defer br.Close()

	authn, err := auth.NewJWT(cfg.JWTSecret, auth.WithAlgorithm(cfg.JWTAlgorithm), auth.WithIssuer(cfg.JWTIssuer))
	if err != nil {
		log.Fatalf("auth init error: %v", err)
	}

	rec, closeStats := openStats(ctx, cfg)
	defer closeStats()

	catalog, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		log.Fatalf("message catalog error: %v", err)
	}

	origin := uuid.NewString()
	hub := gateway.NewLobbyHub()
	reg := registry.New(st, br,
		registry.WithChannel(cfg.RedisChannel),
		registry.WithOrigin(origin),
		registry.WithLocalFallback(hub.Dispatch),
	)
	srv := gateway.New(gateway.Deps{
		Registry: reg,
		Store:    st,
		Broker:   br,
		Auth:     authn,
		Stats:    rec,
		Catalog:  catalog,
		Hub:      hub,
	}, gateway.Options{
		LobbyChannel:   cfg.RedisChannel,
		Origin:         origin,
		AuthTimeout:    cfg.AuthTimeout,
		PingInterval:   cfg.PingInterval,
		RetryInterval:  cfg.PollInterval,
		OriginPatterns: cfg.AllowedOrigins,
	})
	go srv.Run(ctx)

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	obslog.L().Info("tttd_start",
		zap.String("addr", cfg.HTTPAddr),
		zap.String("broker", cfg.BrokerBackend),
		zap.String("channel", cfg.RedisChannel),
		zap.String("origin", origin),
	)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		obslog.L().Error("tttd_http_error", zap.Error(err))
	}
	obslog.L().Info("tttd_stop")
}

func openBroker(cfg *appcfg.AppConfig, st *store.Redis) (broker.Broker, error) {
	switch cfg.BrokerBackend {
	case "nats":
		return broker.NewNATS(cfg.NATSURL, nats.Name("tttd"))
	case "memory":
		obslog.L().Warn("tttd_memory_broker", zap.String("note", "events stay inside this process"))
		return broker.NewMemory(), nil
	default:
		return broker.NewRedis(st.Client()), nil
	}
}

// openStats falls back to a no-op recorder when no database is configured
// or reachable.
func openStats(ctx context.Context, cfg *appcfg.AppConfig) (stats.Recorder, func()) {
	if cfg.DatabaseURL == "" {
		return stats.Nop{}, func() {}
	}
	pg, err := stats.Open(cfg.DatabaseURL)
	if err != nil {
		obslog.L().Warn("stats_open_error", zap.Error(err))
		return stats.Nop{}, func() {}
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		obslog.L().Warn("stats_schema_error", zap.Error(err))
		_ = pg.Close()
		return stats.Nop{}, func() {}
	}
	return pg, func() { _ = pg.Close() }
}
