// Package memvault assembles the storage engine, business layer and HTTP
// transport into a runnable server.
package memvault

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/memvault/internal/memvault/biz"
	"github.com/kart-io/memvault/internal/memvault/handler"
	"github.com/kart-io/memvault/internal/memvault/metrics"
	"github.com/kart-io/memvault/internal/memvault/router"
	"github.com/kart-io/memvault/internal/memvault/store"
	bulkopts "github.com/kart-io/memvault/pkg/options/bulk"
	cacheopts "github.com/kart-io/memvault/pkg/options/cache"
	milvusopts "github.com/kart-io/memvault/pkg/options/milvus"
	poolopts "github.com/kart-io/memvault/pkg/options/pool"
	httpopts "github.com/kart-io/memvault/pkg/options/server/http"
)

// Backend selector values.
const (
	BackendMilvus = "milvus"
	BackendMemory = "memory"
)

// Config carries everything the server needs to start.
type Config struct {
	Backend string
	HTTP    *httpopts.Options
	Milvus  *milvusopts.Options
	Pool    *poolopts.Options
	Bulk    *bulkopts.Options
	Cache   *cacheopts.Options
}

// Server is the assembled memvault service.
type Server struct {
	cfg     *Config
	engine  *store.Engine
	service *biz.Service
	http    *http.Server
}

// New builds the server: connection pool, monitor, engine, business layer
// and HTTP transport.
func New(ctx context.Context, cfg *Config) (*Server, error) {
	var factory store.Factory
	switch cfg.Backend {
	case BackendMilvus, "":
		factory = store.MilvusFactory(cfg.Milvus)
	case BackendMemory:
		factory = store.MemoryFactory(cfg.Milvus.Collection)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}

	pool, err := store.NewPool(ctx, cfg.Pool, factory, store.NewHealthChecker())
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	var monitor *store.Monitor
	if cfg.Pool.Monitor {
		monitor, err = store.NewMonitor(pool, store.MonitorConfig{
			Interval:         cfg.Pool.MonitorInterval,
			Sample:           cfg.Pool.MonitorSample,
			UtilizationAlert: cfg.Pool.UtilizationAlert,
			P95WaitAlert:     cfg.Pool.P95WaitAlert,
		})
		if err != nil {
			_ = pool.Close()
			return nil, fmt.Errorf("creating pool monitor: %w", err)
		}
	}

	engine := store.NewEngine(store.NewPooledProvider(pool))

	service, err := biz.NewService(ctx, engine, cfg.Bulk, cfg.Cache, monitor)
	if err != nil {
		if monitor != nil {
			monitor.Stop()
		}
		_ = engine.Close()
		return nil, fmt.Errorf("creating service: %w", err)
	}

	gin.SetMode(gin.ReleaseMode)
	ginEngine := gin.New()
	ginEngine.Use(gin.Recovery())
	router.Register(ginEngine, handler.New(service, metrics.Get()))

	return &Server{
		cfg:     cfg,
		engine:  engine,
		service: service,
		http: &http.Server{
			Addr:         cfg.HTTP.Addr,
			Handler:      ginEngine,
			ReadTimeout:  cfg.HTTP.ReadTimeout,
			WriteTimeout: cfg.HTTP.WriteTimeout,
			IdleTimeout:  cfg.HTTP.IdleTimeout,
		},
	}, nil
}

// Run starts background schedules and serves HTTP until the process
// receives SIGINT or SIGTERM, then shuts everything down in order.
func (s *Server) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s.service.Start()

	errCh := make(chan error, 1)
	go func() {
		logger.Infow("HTTP server listening", "addr", s.cfg.HTTP.Addr, "backend", s.cfg.Backend)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.shutdown()
		return err
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
		s.shutdown()
		return nil
	}
}

func (s *Server) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.http.Shutdown(shutdownCtx); err != nil {
		logger.Warnw("HTTP shutdown incomplete", "error", err)
	}

	s.service.Stop()
	if err := s.engine.Close(); err != nil {
		logger.Warnw("Engine close failed", "error", err)
	}
	logger.Info("Server stopped")
}
