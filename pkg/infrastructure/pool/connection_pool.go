// Package pool provides database connection pooling for DuckDB.
package pool

import (
	"context"
	"database/sql"
	"sync/atomic"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"
	"github.com/rs/zerolog"

	pkgerrors "github.com/TFMV/plantatlas/pkg/errors"
)

// Config represents pool configuration.
type Config struct {
	DSN                string        `json:"dsn"`
	MaxOpenConnections int           `json:"max_open_connections"`
	MaxIdleConnections int           `json:"max_idle_connections"`
	ConnMaxLifetime    time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime    time.Duration `json:"conn_max_idle_time"`
	HealthCheckPeriod  time.Duration `json:"health_check_period"`
	ConnectionTimeout  time.Duration `json:"connection_timeout"`
}

// ConnectionPool manages database connections.
type ConnectionPool interface {
	// Get returns a database handle after verifying it is alive.
	Get(ctx context.Context) (*sql.DB, error)
	// Stats returns pool statistics.
	Stats() PoolStats
	// HealthCheck performs a health check on the pool.
	HealthCheck(ctx context.Context) error
	// Close closes the connection pool.
	Close() error
}

// PoolStats represents connection pool statistics.
type PoolStats struct {
	OpenConnections   int           `json:"open_connections"`
	InUse             int           `json:"in_use"`
	Idle              int           `json:"idle"`
	WaitCount         int64         `json:"wait_count"`
	WaitDuration      time.Duration `json:"wait_duration"`
	LastHealthCheck   time.Time     `json:"last_health_check"`
	HealthCheckStatus string        `json:"health_check_status"`
}

type connectionPool struct {
	db     *sql.DB
	config Config
	logger zerolog.Logger

	closed atomic.Bool

	lastHealthCheck atomic.Int64 // unix nanos
	healthStatus    atomic.Value // string

	ctx    context.Context
	cancel context.CancelFunc

	waitCount    atomic.Int64
	waitDuration atomic.Int64
}

// New opens an in-process DuckDB database and verifies it answers queries.
// Source files are read through table functions, so the default DSN is an
// in-memory database.
func New(cfg Config, logger zerolog.Logger) (ConnectionPool, error) {
	if cfg.MaxOpenConnections <= 0 {
		cfg.MaxOpenConnections = 4
	}
	if cfg.MaxIdleConnections <= 0 {
		cfg.MaxIdleConnections = 2
	}
	if cfg.ConnMaxLifetime <= 0 {
		cfg.ConnMaxLifetime = 30 * time.Minute
	}
	if cfg.ConnMaxIdleTime <= 0 {
		cfg.ConnMaxIdleTime = 10 * time.Minute
	}
	if cfg.ConnectionTimeout <= 0 {
		cfg.ConnectionTimeout = 10 * time.Second
	}

	logger.Info().
		Str("dsn", displayDSN(cfg.DSN)).
		Int("max_open", cfg.MaxOpenConnections).
		Int("max_idle", cfg.MaxIdleConnections).
		Msg("Creating DuckDB connection pool")

	db, err := sql.Open("duckdb", cfg.DSN)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeInternal, "failed to open database")
	}

	db.SetMaxOpenConns(cfg.MaxOpenConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConnections)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithCancel(context.Background())
	p := &connectionPool{
		db:     db,
		config: cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
	p.healthStatus.Store("unknown")

	connCtx, connCancel := context.WithTimeout(context.Background(), cfg.ConnectionTimeout)
	defer connCancel()

	if err := p.HealthCheck(connCtx); err != nil {
		db.Close()
		cancel()
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeInternal, "initial health check failed")
	}

	if cfg.HealthCheckPeriod > 0 {
		go p.healthCheckRoutine(ctx)
	}

	return p, nil
}

// Get returns the shared *sql.DB.
func (p *connectionPool) Get(ctx context.Context) (*sql.DB, error) {
	if p.closed.Load() {
		return nil, pkgerrors.New(pkgerrors.CodeSourceUnavailable, "connection pool is closed")
	}

	start := time.Now()
	p.waitCount.Add(1)
	defer func() {
		p.waitDuration.Add(int64(time.Since(start)))
	}()

	if err := p.db.PingContext(ctx); err != nil {
		p.logger.Error().Err(err).Msg("Database ping failed")
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeSourceUnavailable, "database connection failed")
	}

	return p.db, nil
}

// Stats returns pool statistics.
func (p *connectionPool) Stats() PoolStats {
	dbStats := p.db.Stats()
	return PoolStats{
		OpenConnections:   dbStats.OpenConnections,
		InUse:             dbStats.InUse,
		Idle:              dbStats.Idle,
		WaitCount:         p.waitCount.Load(),
		WaitDuration:      time.Duration(p.waitDuration.Load()),
		LastHealthCheck:   time.Unix(0, p.lastHealthCheck.Load()),
		HealthCheckStatus: p.getHealthStatus(),
	}
}

// HealthCheck pings the database and runs a trivial query.
func (p *connectionPool) HealthCheck(ctx context.Context) error {
	if p.closed.Load() {
		return pkgerrors.New(pkgerrors.CodeSourceUnavailable, "connection pool is closed")
	}

	if err := p.db.PingContext(ctx); err != nil {
		p.updateHealthStatus("unhealthy", err.Error())
		return pkgerrors.Wrap(err, pkgerrors.CodeSourceUnavailable, "health check ping failed")
	}

	var result int
	err := p.db.QueryRowContext(ctx, "SELECT 1").Scan(&result)
	if err != nil || result != 1 {
		p.updateHealthStatus("unhealthy", "query test failed")
		if err == nil {
			return pkgerrors.New(pkgerrors.CodeSourceUnavailable, "health check query returned unexpected result")
		}
		return pkgerrors.Wrap(err, pkgerrors.CodeSourceUnavailable, "health check query failed")
	}

	p.updateHealthStatus("healthy", "")
	return nil
}

// Close closes the connection pool. It is safe to call more than once.
func (p *connectionPool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}

	p.logger.Info().Msg("Closing DuckDB connection pool")
	p.cancel()

	if err := p.db.Close(); err != nil {
		return pkgerrors.Wrap(err, pkgerrors.CodeInternal, "failed to close database")
	}
	return nil
}

func (p *connectionPool) healthCheckRoutine(ctx context.Context) {
	ticker := time.NewTicker(p.config.HealthCheckPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, p.config.ConnectionTimeout)
			if err := p.HealthCheck(checkCtx); err != nil {
				p.logger.Warn().Err(err).Msg("Periodic health check failed")
			}
			cancel()
		}
	}
}

func (p *connectionPool) updateHealthStatus(status, detail string) {
	p.lastHealthCheck.Store(time.Now().UnixNano())
	p.healthStatus.Store(status)
	if detail != "" {
		p.logger.Debug().Str("status", status).Str("detail", detail).Msg("Health status updated")
	}
}

func (p *connectionPool) getHealthStatus() string {
	if s, ok := p.healthStatus.Load().(string); ok {
		return s
	}
	return "unknown"
}

func displayDSN(dsn string) string {
	if dsn == "" {
		return ":memory:"
	}
	return dsn
}
