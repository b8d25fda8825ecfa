package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/lms-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/lms-enrollment-api/pkg/errors"
)

// CacheStore is the key/value backend behind CourseCache.
type CacheStore interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// CourseCache keeps read-through copies of course records. A nil or disabled
// cache always misses.
type CourseCache struct {
	store   CacheStore
	metrics *MetricsService
	ttl     time.Duration
	logger  *zap.Logger
}

// NewCourseCache constructs a course cache. It returns nil when store is nil,
// which callers treat as caching disabled.
func NewCourseCache(store CacheStore, metrics *MetricsService, ttl time.Duration, logger *zap.Logger) *CourseCache {
	if store == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CourseCache{store: store, metrics: metrics, ttl: ttl, logger: logger}
}

func courseCacheKey(id string) string {
	return "course:" + id
}

// Course returns the cached course and whether it was present.
func (c *CourseCache) Course(ctx context.Context, id string) (*models.Course, bool) {
	if c == nil {
		return nil, false
	}
	start := time.Now()
	var course models.Course
	err := c.store.Get(ctx, courseCacheKey(id), &course)
	if c.metrics != nil {
		c.metrics.RecordCacheOperation(err == nil, time.Since(start))
	}
	if err != nil {
		if !errors.Is(err, appErrors.ErrCacheMiss) {
			c.logger.Warn("course cache read failed", zap.String("course_id", id), zap.Error(err))
		}
		return nil, false
	}
	return &course, true
}

// Store caches course under its id. Failures are logged, never returned.
func (c *CourseCache) Store(ctx context.Context, course *models.Course) {
	if c == nil || course == nil {
		return
	}
	start := time.Now()
	err := c.store.Set(ctx, courseCacheKey(course.ID), course, c.ttl)
	if c.metrics != nil {
		c.metrics.ObserveCacheWrite(time.Since(start))
	}
	if err != nil {
		c.logger.Warn("course cache write failed", zap.String("course_id", course.ID), zap.Error(err))
	}
}

// Evict drops the cached copy of a course.
func (c *CourseCache) Evict(ctx context.Context, id string) error {
	if c == nil {
		return nil
	}
	return c.store.Delete(ctx, courseCacheKey(id))
}
