package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-watch/pkg/models"
)

const dashboardCacheKey = "ekaya-watch:dashboard"

// DashboardCache stores the computed dashboard between cycles.
// Cache failures are logged and treated as misses.
type DashboardCache interface {
	Get(ctx context.Context) (*models.Dashboard, bool)
	Set(ctx context.Context, dashboard *models.Dashboard)
	Invalidate(ctx context.Context)
}

type redisDashboardCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewDashboardCache returns a Redis-backed cache, or a no-op cache when client is nil.
func NewDashboardCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) DashboardCache {
	if client == nil {
		return noopDashboardCache{}
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &redisDashboardCache{
		client: client,
		ttl:    ttl,
		logger: logger.Named("dashboard-cache"),
	}
}

func (c *redisDashboardCache) Get(ctx context.Context) (*models.Dashboard, bool) {
	data, err := c.client.Get(ctx, dashboardCacheKey).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("Failed to read dashboard cache", zap.Error(err))
		}
		return nil, false
	}

	var dashboard models.Dashboard
	if err := json.Unmarshal(data, &dashboard); err != nil {
		c.logger.Warn("Discarding corrupt dashboard cache entry", zap.Error(err))
		return nil, false
	}
	return &dashboard, true
}

func (c *redisDashboardCache) Set(ctx context.Context, dashboard *models.Dashboard) {
	data, err := json.Marshal(dashboard)
	if err != nil {
		c.logger.Warn("Failed to encode dashboard", zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, dashboardCacheKey, data, c.ttl).Err(); err != nil {
		c.logger.Warn("Failed to write dashboard cache", zap.Error(err))
	}
}

func (c *redisDashboardCache) Invalidate(ctx context.Context) {
	if err := c.client.Del(ctx, dashboardCacheKey).Err(); err != nil {
		c.logger.Warn("Failed to invalidate dashboard cache", zap.Error(err))
	}
}

type noopDashboardCache struct{}

func (noopDashboardCache) Get(context.Context) (*models.Dashboard, bool) { return nil, false }
func (noopDashboardCache) Set(context.Context, *models.Dashboard)        {}
func (noopDashboardCache) Invalidate(context.Context)                    {}
