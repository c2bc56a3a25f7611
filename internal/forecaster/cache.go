package forecaster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/retentiond/pkg/models"
)

// CurveCache stores fitted forgetting curves so predictions do not refit
// from the full observation history on every request. Invalidate is
// called when new observations land.
type CurveCache interface {
	Get(ctx context.Context, userID int64, topicID string) (*models.ForgettingCurve, bool)
	Set(ctx context.Context, curve *models.ForgettingCurve)
	Invalidate(ctx context.Context, userID int64, topicID string)
}

func curveKey(userID int64, topicID string) string {
	return fmt.Sprintf("curve:%d:%s", userID, topicID)
}

// MemoryCurveCache is a process-local cache for single-instance deployments
type MemoryCurveCache struct {
	mu     sync.RWMutex
	curves map[string]*models.ForgettingCurve
}

// NewMemoryCurveCache creates an empty in-process cache
func NewMemoryCurveCache() *MemoryCurveCache {
	return &MemoryCurveCache{curves: make(map[string]*models.ForgettingCurve)}
}

func (c *MemoryCurveCache) Get(_ context.Context, userID int64, topicID string) (*models.ForgettingCurve, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	curve, ok := c.curves[curveKey(userID, topicID)]
	return curve, ok
}

func (c *MemoryCurveCache) Set(_ context.Context, curve *models.ForgettingCurve) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.curves[curveKey(curve.UserID, curve.TopicID)] = curve
}

func (c *MemoryCurveCache) Invalidate(_ context.Context, userID int64, topicID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.curves, curveKey(userID, topicID))
}

// RedisCurveCache shares fitted curves across service instances
type RedisCurveCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCurveCache wraps a redis client. Entries expire after ttl as a
// backstop; explicit invalidation remains the primary mechanism.
func NewRedisCurveCache(client *redis.Client, ttl time.Duration) *RedisCurveCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisCurveCache{client: client, ttl: ttl}
}

func (c *RedisCurveCache) Get(ctx context.Context, userID int64, topicID string) (*models.ForgettingCurve, bool) {
	raw, err := c.client.Get(ctx, curveKey(userID, topicID)).Bytes()
	if err != nil {
		return nil, false
	}
	var curve models.ForgettingCurve
	if err := json.Unmarshal(raw, &curve); err != nil {
		return nil, false
	}
	return &curve, true
}

func (c *RedisCurveCache) Set(ctx context.Context, curve *models.ForgettingCurve) {
	raw, err := json.Marshal(curve)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, curveKey(curve.UserID, curve.TopicID), raw, c.ttl).Err()
}

func (c *RedisCurveCache) Invalidate(ctx context.Context, userID int64, topicID string) {
	err := c.client.Del(ctx, curveKey(userID, topicID)).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return
	}
}
