// Package server assembles the plantatlas HTTP service from configuration.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/TFMV/plantatlas/cmd/server/config"
	"github.com/TFMV/plantatlas/cmd/server/middleware"
	"github.com/TFMV/plantatlas/pkg/cache"
	pkgerrors "github.com/TFMV/plantatlas/pkg/errors"
	"github.com/TFMV/plantatlas/pkg/handlers"
	"github.com/TFMV/plantatlas/pkg/infrastructure/memory"
	"github.com/TFMV/plantatlas/pkg/infrastructure/metrics"
	"github.com/TFMV/plantatlas/pkg/infrastructure/pool"
	"github.com/TFMV/plantatlas/pkg/repositories"
	"github.com/TFMV/plantatlas/pkg/repositories/arrowfile"
	"github.com/TFMV/plantatlas/pkg/repositories/duckdb"
	"github.com/TFMV/plantatlas/pkg/services"
)

// Server owns every component behind the facility API.
type Server struct {
	// Configuration
	config *config.Config

	// Core components
	allocator *memory.TrackedAllocator
	logger    zerolog.Logger
	metrics   metrics.Collector
	pool      pool.ConnectionPool
	repo      repositories.RecordRepository
	cache     *cache.MemoryCache
	watcher   *cache.Watcher

	service services.FacilityService
	handler http.Handler

	// State
	mu         sync.Mutex
	httpServer *http.Server
	closed     bool
}

// New wires the source repository, cache, service and HTTP handlers described
// by cfg. cfg is validated first. Nothing listens until ListenAndServe.
func New(cfg *config.Config, logger zerolog.Logger, collector metrics.Collector) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if collector == nil {
		collector = metrics.NewNoOpCollector()
	}

	srv := &Server{
		config:    cfg,
		allocator: memory.NewTrackedAllocator(nil),
		logger:    logger,
		metrics:   collector,
	}

	repo, err := srv.newRepository()
	if err != nil {
		return nil, err
	}
	srv.repo = repo

	policy := services.PolicyReload
	if cfg.Policy() == config.PolicyCached {
		policy = services.PolicyCached
		srv.cache = cache.NewMemoryCache(cache.DefaultConfig().
			WithMaxEntries(cfg.Cache.MaxEntries).
			WithTTL(cfg.Cache.TTL))

		if cfg.Cache.Watch {
			srv.watcher, err = cache.NewWatcher(srv.cache, logger)
			if err != nil {
				srv.closeComponents()
				return nil, fmt.Errorf("failed to create cache watcher: %w", err)
			}
			if err := srv.watcher.Watch(repo.Path(), repo.Path()); err != nil {
				srv.closeComponents()
				return nil, fmt.Errorf("failed to watch source: %w", err)
			}
		}
	}

	var facilityCache cache.Cache
	if srv.cache != nil {
		facilityCache = srv.cache
	}
	srv.service, err = services.NewFacilityService(
		repo,
		facilityCache,
		services.Config{
			Policy:          policy,
			DefaultPageSize: cfg.Pagination.DefaultPageSize,
			MaxPageSize:     cfg.Pagination.MaxPageSize,
			LoadTimeout:     cfg.Source.LoadTimeout,
		},
		newLoggerAdapter(logger, "facility_service"),
		&serviceMetricsAdapter{collector: collector},
	)
	if err != nil {
		srv.closeComponents()
		return nil, fmt.Errorf("failed to create facility service: %w", err)
	}

	srv.handler = srv.routes()

	logger.Info().
		Str("source", cfg.Source.Path).
		Str("format", cfg.Source.Format).
		Str("cache_policy", string(policy)).
		Bool("watch", srv.watcher != nil).
		Msg("Facility service ready")

	return srv, nil
}

func (s *Server) newRepository() (repositories.RecordRepository, error) {
	src := repositories.SourceConfig{
		Path:          s.config.Source.Path,
		Schema:        s.config.Source.Schema,
		SkipMalformed: s.config.Source.SkipMalformed,
		BatchSize:     s.config.Source.BatchSize,
	}
	repoLogger := s.logger.With().Str("component", "repository").Str("format", s.config.Source.Format).Logger()

	switch s.config.Source.Format {
	case config.FormatArrow:
		return arrowfile.NewRepository(s.allocator, src, repoLogger), nil
	case config.FormatCSV:
		pc := s.config.ConnectionPool
		connPool, err := pool.New(pool.Config{
			MaxOpenConnections: pc.MaxOpenConnections,
			MaxIdleConnections: pc.MaxIdleConnections,
			ConnMaxLifetime:    pc.ConnMaxLifetime,
			ConnMaxIdleTime:    pc.ConnMaxIdleTime,
			HealthCheckPeriod:  pc.HealthCheckPeriod,
			ConnectionTimeout:  pc.ConnectionTimeout,
		}, s.logger.With().Str("component", "pool").Logger())
		if err != nil {
			return nil, fmt.Errorf("failed to create connection pool: %w", err)
		}
		s.pool = connPool
		return duckdb.NewCSVRepository(connPool, s.allocator, src, repoLogger), nil
	default:
		return nil, fmt.Errorf("unsupported source format: %s", s.config.Source.Format)
	}
}

// routes builds the handler chain. Route-level metrics run inside the router
// so that they see the matched path template.
func (s *Server) routes() http.Handler {
	router := mux.NewRouter()
	router.Use(middleware.NewMetricsMiddleware(s.metrics).Handler)

	facilities := handlers.NewFacilityHandler(
		s.service,
		newLoggerAdapter(s.logger, "facility_handler"),
		&handlerMetricsAdapter{collector: s.metrics},
	)
	facilities.Register(router)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlers.WriteError(w, routeNotFound(r))
	})

	var h http.Handler = router
	h = middleware.CORS(s.config.CORS.AllowedOrigins)(h)
	h = middleware.NewRecoveryMiddleware(s.logger).Handler(h)
	h = middleware.NewLoggingMiddleware(s.logger.With().Str("component", "http").Logger()).Handler(h)
	return h
}

func routeNotFound(r *http.Request) error {
	return pkgerrors.Newf(pkgerrors.CodeNotFound, "no route for %s %s", r.Method, r.URL.Path)
}

// Handler returns the HTTP handler serving the API.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Service returns the facility service, for callers that query without HTTP.
func (s *Server) Service() services.FacilityService {
	return s.service
}

// CacheStats returns record set cache statistics, or false when caching is off.
func (s *Server) CacheStats() (func() cache.Stats, bool) {
	if s.cache == nil {
		return nil, false
	}
	return s.cache.Stats, true
}

// AllocatorStats returns Arrow allocator usage.
func (s *Server) AllocatorStats() memory.Stats {
	return s.allocator.Stats()
}

// ListenAndServe serves the API on the configured address until Shutdown.
// It returns nil after a clean shutdown.
func (s *Server) ListenAndServe() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("server is closed")
	}
	s.httpServer = &http.Server{
		Addr:              s.config.Address,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	httpServer := s.httpServer
	s.mu.Unlock()

	s.logger.Info().Str("address", s.config.Address).Msg("Server listening")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Close stops accepting requests, waits for in-flight ones until ctx ends and
// releases the watcher, cache and connection pool. It is safe to call more
// than once.
func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	httpServer := s.httpServer
	s.mu.Unlock()

	s.logger.Info().Msg("Closing server")

	var result *multierror.Error
	if httpServer != nil {
		if err := httpServer.Shutdown(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if err := s.closeComponents(); err != nil {
		result = multierror.Append(result, err)
	}

	s.logger.Info().
		Int64("arrow_bytes_in_use", s.allocator.BytesUsed()).
		Msg("Server closed")
	return result.ErrorOrNil()
}

func (s *Server) closeComponents() error {
	var result *multierror.Error
	if s.watcher != nil {
		if err := s.watcher.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("watcher: %w", err))
		}
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("cache: %w", err))
		}
	}
	if s.repo != nil {
		if err := s.repo.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("repository: %w", err))
		}
	}
	if s.pool != nil {
		if err := s.pool.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("connection pool: %w", err))
		}
	}
	return result.ErrorOrNil()
}
