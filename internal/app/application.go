package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"mathduel/internal/api"
	"mathduel/internal/broadcast"
	"mathduel/internal/config"
	"mathduel/internal/countdown"
	"mathduel/internal/database"
	"mathduel/internal/game"
	"mathduel/internal/hub"
	"mathduel/internal/identity"
	ws "mathduel/internal/websocket"
	dbconfig "mathduel/pkg/database"
)

// Application owns every long-lived component and wires them together
// in dependency order. Construction is all-or-nothing: a failed
// component tears down what was already built.
type Application struct {
	cfg    *config.Config
	logger *zap.Logger

	db          *database.Manager
	redisClient *redis.Client
	broadcaster *broadcast.Broadcaster
	store       *game.Store
	scheduler   *countdown.Scheduler
	sweeper     *game.Sweeper
	httpServer  *http.Server
}

// New builds the application from configuration.
func New(cfg *config.Config, logger *zap.Logger) (*Application, error) {
	a := &Application{cfg: cfg, logger: logger}

	db, err := database.NewManager(&dbconfig.Config{
		DatabasePath:    cfg.Database.Path,
		MaxConnections:  cfg.Database.MaxConnections,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 10 * time.Minute,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a.db = db

	var cache identity.Cache
	if cfg.Redis.Addr != "" {
		a.redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := a.redisClient.Ping(ctx).Err()
		cancel()
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		cache = identity.NewRedisCache(a.redisClient, cfg.Redis.SessionTTL)
		logger.Info("transport session cache backed by redis", zap.String("addr", cfg.Redis.Addr))
	} else {
		cache = identity.NewMemoryCache(cfg.Redis.SessionTTL)
		logger.Info("transport session cache in memory")
	}

	resolver := identity.NewResolver(cache, db, logger)
	a.broadcaster = broadcast.NewBroadcaster(logger)

	seed := cfg.Game.ChallengeSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	clock := clockwork.NewRealClock()
	a.store = game.NewStore(game.NewGenerator(seed), clock, a.broadcaster, logger)
	a.scheduler = countdown.NewScheduler(a.store, a.broadcaster, clock, logger)

	sweeper, err := game.NewSweeper(a.store, db, cfg.Game.EvictionGrace, cfg.Game.SweepSpec, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize sweeper: %w", err)
	}
	a.sweeper = sweeper

	gameHub := hub.NewHub(a.store, a.scheduler, a.broadcaster, logger)
	wsHandler := ws.NewHandler(resolver, gameHub, ws.Options{
		ReadLimit:      cfg.WebSocket.ReadLimit,
		SendBufferSize: cfg.WebSocket.SendBufferSize,
		WriteTimeout:   cfg.WebSocket.WriteTimeout,
		PongTimeout:    cfg.WebSocket.PongTimeout,
	}, logger)

	mux := http.NewServeMux()
	mux.Handle("GET /ws", wsHandler)
	api.NewServer(a.store, a.broadcaster, db, logger).Register(mux)

	// No ReadTimeout: deadlines set before the websocket hijack would
	// carry over and kill long-lived connections.
	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       90 * time.Second,
	}
	return a, nil
}

// Start runs the HTTP server and background sweeper. Blocks until the
// server stops.
func (a *Application) Start() error {
	a.sweeper.Start()
	a.logger.Info("server listening", zap.String("addr", a.httpServer.Addr))
	if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts the application down gracefully: stop accepting traffic,
// drain in-flight requests, then release backing stores.
func (a *Application) Stop(ctx context.Context) error {
	var firstErr error
	if a.httpServer != nil {
		if err := a.httpServer.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	if a.sweeper != nil {
		a.sweeper.Stop()
	}
	a.Close()
	a.logger.Info("shutdown complete")
	return firstErr
}

// Close releases backing resources in reverse construction order.
func (a *Application) Close() {
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("failed to close redis client", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close database", zap.Error(err))
		}
	}
}
