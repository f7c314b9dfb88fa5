package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	stdhttp "net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/agora-server/internal/auth"
	"github.com/vovakirdan/agora-server/internal/config"
	"github.com/vovakirdan/agora-server/internal/core"
	"github.com/vovakirdan/agora-server/internal/metrics"
	"github.com/vovakirdan/agora-server/internal/relay"
	"github.com/vovakirdan/agora-server/internal/service/channels"
	"github.com/vovakirdan/agora-server/internal/store"
	"github.com/vovakirdan/agora-server/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/agora-server/internal/transport/http"
)

// App wires together core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	hub             *core.Hub
	relay           *relay.Relay
	redis           *redis.Client
	store           store.Store
	log             *zerolog.Logger
}

// NewJWTConfig builds the token settings from configuration.
func NewJWTConfig(cfg *config.Config) *auth.JWTConfig {
	return &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.JWTTTL,
	}
}

// New constructs the application with provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	authService := auth.NewService(st, NewJWTConfig(cfg))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	hubLogger := logger.With().Str("component", "hub").Logger()
	hub := core.NewHub(st, authService, core.Options{
		Logger:  &hubLogger,
		Metrics: m,
		Limits: core.Limits{
			MaxMessageBytes: cfg.MaxMessageBytes,
			DefaultPageSize: cfg.DefaultPageSize,
			MaxPageSize:     cfg.MaxPageSize,
		},
	})

	a := &App{
		shutdownTimeout: cfg.ShutdownTimeout,
		hub:             hub,
		store:           st,
		log:             logger,
	}

	if cfg.Redis.Enabled {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.relay = relay.New(a.redis, cfg.Redis.Channel, hub, logger, m)
		hub.SetPublisher(a.relay)
		logger.Info().Str("redis_addr", cfg.Redis.Addr).Str("channel", cfg.Redis.Channel).Msg("cross-instance relay enabled")
	}

	gin.SetMode(gin.ReleaseMode)
	httpLogger := logger.With().Str("component", "http").Logger()
	a.server = transporthttp.NewServer(transporthttp.Deps{
		Hub:      hub,
		Channels: channels.New(st, hub.Guard()),
		Identity: authService,
		Gatherer: reg,
	}, cfg, &httpLogger)

	return a, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	serverErr := make(chan error, 1)

	// Request contexts derive from ctx so websocket sessions end on shutdown.
	a.server.BaseContext = func(net.Listener) context.Context { return ctx }

	hubDone := make(chan struct{})
	go func() {
		a.hub.Run(ctx)
		close(hubDone)
	}()

	if a.relay != nil {
		go func() {
			if err := a.relay.Run(ctx); err != nil {
				a.log.Error().Err(err).Msg("relay stopped")
			}
		}()
	}

	go func() {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		cancel()
		a.waitForHub(hubDone)
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancelShutdown()

		a.log.Info().Msg("shutting down http server")
		err := a.server.Shutdown(shutdownCtx)
		// Shutdown does not track hijacked websocket connections; the hub drains them.
		a.waitForHub(hubDone)
		a.cleanup()
		if err != nil {
			return err
		}
		return <-serverErr
	}
}

// waitForHub blocks until in-flight session commands have finished, so the store
// is not closed under a running write.
func (a *App) waitForHub(done <-chan struct{}) {
	timer := time.NewTimer(a.shutdownTimeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		a.log.Warn().Dur("timeout", a.shutdownTimeout).Msg("sessions still running at shutdown timeout")
	}
}

// cleanup closes database and other resources.
func (a *App) cleanup() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close redis client")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
