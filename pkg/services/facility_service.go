package services

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/TFMV/plantatlas/pkg/cache"
	"github.com/TFMV/plantatlas/pkg/dataset"
	"github.com/TFMV/plantatlas/pkg/errors"
	"github.com/TFMV/plantatlas/pkg/models"
	"github.com/TFMV/plantatlas/pkg/repositories"
)

// CachePolicy selects when the source is read.
type CachePolicy string

const (
	// PolicyReload reads the source on every call. Always consistent.
	PolicyReload CachePolicy = "reload"
	// PolicyCached reuses the last load until the source version changes.
	PolicyCached CachePolicy = "cached"
)

// Default paging limits.
const (
	DefaultPageSize = 20
	DefaultMaxPage  = 500
)

// DefaultLoadTimeout bounds a shared load under PolicyCached.
const DefaultLoadTimeout = 2 * time.Minute

// Config configures a FacilityService.
type Config struct {
	Policy          CachePolicy
	DefaultPageSize int
	MaxPageSize     int
	// LoadTimeout bounds a load shared by concurrent callers. Shared loads
	// run detached from any one request, so this is their only deadline.
	LoadTimeout time.Duration
}

// facilityService implements FacilityService.
type facilityService struct {
	repo    repositories.RecordRepository
	cache   cache.Cache
	config  Config
	loads   singleflight.Group
	logger  Logger
	metrics MetricsCollector
}

// NewFacilityService creates a new facility service. c may be nil when the
// policy is PolicyReload.
func NewFacilityService(
	repo repositories.RecordRepository,
	c cache.Cache,
	config Config,
	logger Logger,
	metrics MetricsCollector,
) (FacilityService, error) {
	if config.Policy == "" {
		config.Policy = PolicyReload
	}
	if config.DefaultPageSize <= 0 {
		config.DefaultPageSize = DefaultPageSize
	}
	if config.MaxPageSize <= 0 {
		config.MaxPageSize = DefaultMaxPage
	}
	if config.LoadTimeout <= 0 {
		config.LoadTimeout = DefaultLoadTimeout
	}
	if config.DefaultPageSize > config.MaxPageSize {
		return nil, errors.Newf(errors.CodeInvalidRequest,
			"default page size %d exceeds max page size %d", config.DefaultPageSize, config.MaxPageSize)
	}

	switch config.Policy {
	case PolicyReload:
	case PolicyCached:
		if c == nil {
			return nil, errors.New(errors.CodeInvalidRequest, "cached policy requires a cache")
		}
	default:
		return nil, errors.Newf(errors.CodeInvalidRequest, "unknown cache policy %q", config.Policy)
	}

	return &facilityService{
		repo:    repo,
		cache:   c,
		config:  config,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// List returns one page of facilities. An absent page number means the first
// page and a zero page size means the configured default.
func (s *facilityService) List(ctx context.Context, req models.PageRequest) (*models.Page, error) {
	timer := s.metrics.StartTimer("facility_list")
	defer timer.Stop()

	pageNumber, pageSize, err := s.normalizePage(req)
	if err != nil {
		s.metrics.IncrementCounter("facility_validation_errors", "operation", "list")
		return nil, err
	}

	set, err := s.load(ctx)
	if err != nil {
		s.metrics.IncrementCounter("facility_errors", "operation", "list")
		return nil, err
	}

	page, err := dataset.Paginate(set, pageNumber, pageSize)
	if err != nil {
		s.metrics.IncrementCounter("facility_validation_errors", "operation", "list")
		return nil, err
	}

	s.logger.Debug("Listed facilities",
		"page", pageNumber,
		"page_size", pageSize,
		"returned", len(page.Records),
		"total", page.Info.TotalCount)

	return &page, nil
}

// Get returns the facility with the given id.
func (s *facilityService) Get(ctx context.Context, id int64) (*models.Record, error) {
	timer := s.metrics.StartTimer("facility_get")
	defer timer.Stop()

	set, err := s.load(ctx)
	if err != nil {
		s.metrics.IncrementCounter("facility_errors", "operation", "get")
		return nil, err
	}

	rec, err := dataset.FindByID(set, id)
	if err != nil {
		s.metrics.IncrementCounter("facility_not_found")
		s.logger.Debug("Facility not found", "id", id)
		return nil, err
	}

	return &rec, nil
}

// ByField returns every facility whose field equals value.
func (s *facilityService) ByField(ctx context.Context, field, value string) ([]models.Record, error) {
	timer := s.metrics.StartTimer("facility_by_field")
	defer timer.Stop()

	if field == "" {
		s.metrics.IncrementCounter("facility_validation_errors", "operation", "by_field")
		return nil, errors.New(errors.CodeInvalidRequest, "field is required")
	}

	return s.filter(ctx, "by_field", field, value)
}

// ByGroup returns every facility whose group key equals group.
func (s *facilityService) ByGroup(ctx context.Context, group string) ([]models.Record, error) {
	timer := s.metrics.StartTimer("facility_by_group")
	defer timer.Stop()

	return s.filter(ctx, "by_group", models.FieldGroupKey, group)
}

// Points returns map coordinates for all facilities, or for those matching
// field and value when field is set.
func (s *facilityService) Points(ctx context.Context, field, value string) ([]dataset.Point, error) {
	timer := s.metrics.StartTimer("facility_points")
	defer timer.Stop()

	if field == "" {
		set, err := s.load(ctx)
		if err != nil {
			s.metrics.IncrementCounter("facility_errors", "operation", "points")
			return nil, err
		}
		return dataset.Points(set.Records), nil
	}

	records, err := s.filter(ctx, "points", field, value)
	if err != nil {
		return nil, err
	}
	return dataset.Points(records), nil
}

// Snapshot returns the loaded record set. Callers must not modify it.
func (s *facilityService) Snapshot(ctx context.Context) (*models.RecordSet, error) {
	timer := s.metrics.StartTimer("facility_snapshot")
	defer timer.Stop()

	set, err := s.load(ctx)
	if err != nil {
		s.metrics.IncrementCounter("facility_errors", "operation", "snapshot")
		return nil, err
	}
	return set, nil
}

func (s *facilityService) filter(ctx context.Context, operation, field, value string) ([]models.Record, error) {
	set, err := s.load(ctx)
	if err != nil {
		s.metrics.IncrementCounter("facility_errors", "operation", operation)
		return nil, err
	}

	records, err := dataset.FindByField(set, field, value)
	if err != nil {
		s.metrics.IncrementCounter("facility_validation_errors", "operation", operation)
		return nil, err
	}

	s.metrics.RecordHistogram("facility_filter_results", float64(len(records)), "operation", operation)
	s.logger.Debug("Filtered facilities", "field", field, "value", value, "matches", len(records))
	return records, nil
}

func (s *facilityService) normalizePage(req models.PageRequest) (int, int, error) {
	pageNumber := req.Number()

	pageSize := req.PageSize
	if pageSize == 0 {
		pageSize = s.config.DefaultPageSize
	}
	if pageSize < 0 {
		return 0, 0, errors.Newf(errors.CodeInvalidRequest, "page size must be positive, got %d", pageSize).
			WithDetail("page_size", pageSize)
	}
	if pageSize > s.config.MaxPageSize {
		return 0, 0, errors.Newf(errors.CodeInvalidRequest, "page size %d exceeds maximum %d", pageSize, s.config.MaxPageSize).
			WithDetail("page_size", pageSize).
			WithDetail("max_page_size", s.config.MaxPageSize)
	}

	return pageNumber, pageSize, nil
}

// load returns the record set according to the cache policy.
func (s *facilityService) load(ctx context.Context) (*models.RecordSet, error) {
	if s.config.Policy == PolicyReload {
		return s.loadFromSource(ctx)
	}

	key := s.repo.Path()
	version, err := s.repo.Version(ctx)
	if err != nil {
		// The source is gone; whatever is cached describes a file that no longer exists.
		_ = s.cache.Invalidate(ctx, key)
		s.logger.Error("Source unavailable", "path", key, "error", err)
		return nil, err
	}

	if set, ok := s.cache.Get(ctx, key); ok {
		if set.Version.Equal(version) {
			s.metrics.IncrementCounter("facility_cache_hits")
			return set, nil
		}
		s.metrics.IncrementCounter("facility_cache_invalidations")
		s.logger.Info("Source changed, reloading", "path", key, "cached", set.Version.String(), "current", version.String())
		if err := s.cache.Invalidate(ctx, key); err != nil {
			s.logger.Warn("Failed to invalidate cache entry", "path", key, "error", err)
		}
	}
	s.metrics.IncrementCounter("facility_cache_misses")

	results := s.loads.DoChan(version.String(), func() (interface{}, error) {
		// Detached: a caller that goes away must not fail the others waiting
		// on this load.
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.LoadTimeout)
		defer cancel()

		set, err := s.loadFromSource(loadCtx)
		if err != nil {
			return nil, err
		}
		if err := s.cache.Put(loadCtx, key, set); err != nil {
			s.logger.Warn("Failed to cache record set", "path", key, "error", err)
		}
		return set, nil
	})

	select {
	case <-ctx.Done():
		s.metrics.IncrementCounter("facility_load_abandoned")
		s.logger.Debug("Caller left before load finished", "path", key, "error", ctx.Err())
		return nil, errors.FromContext(ctx.Err(), "request ended while loading the source")
	case res := <-results:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			s.logger.Debug("Joined in-flight load", "path", key)
		}
		return res.Val.(*models.RecordSet), nil
	}
}

func (s *facilityService) loadFromSource(ctx context.Context) (*models.RecordSet, error) {
	timer := s.metrics.StartTimer("facility_load")
	defer timer.Stop()

	set, err := s.repo.LoadAll(ctx)
	if err != nil {
		if ctxErr := errors.FromContext(ctx.Err(), "load of %s interrupted", s.repo.Path()); ctxErr != nil {
			s.metrics.IncrementCounter("facility_load_errors", "code", ctxErr.Code)
			s.logger.Warn("Load interrupted", "path", s.repo.Path(), "error", err)
			return nil, ctxErr
		}
		s.metrics.IncrementCounter("facility_load_errors", "code", errors.GetCode(err))
		s.logger.Error("Failed to load source", "path", s.repo.Path(), "error", err)
		if errors.GetCode(err) == errors.CodeInternal {
			return nil, errors.Wrapf(err, errors.CodeSourceUnavailable, "failed to load %s", s.repo.Path())
		}
		return nil, err
	}

	s.metrics.RecordGauge("facility_records_loaded", float64(set.Len()))
	s.logger.Info("Loaded source", "path", s.repo.Path(), "records", set.Len(), "version", set.Version.String())
	return set, nil
}
