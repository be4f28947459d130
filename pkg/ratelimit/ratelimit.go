package ratelimit

import (
	"context"
	"fmt"
	"log"
	"time"

	"ChatBridge/models"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Limiter admits at most a fixed number of requests per identifier and
// endpoint within a sliding window.
type Limiter interface {
	Allow(ctx context.Context, identifier, endpoint string) (bool, error)
}

// TableLimiter counts rows of the rate_limits table. The count and insert
// are separate statements, so concurrent requests may slightly overshoot.
type TableLimiter struct {
	db     *gorm.DB
	max    int
	window time.Duration
	now    func() time.Time
}

func NewTableLimiter(db *gorm.DB, max int, window time.Duration) *TableLimiter {
	return &TableLimiter{db: db, max: max, window: window, now: time.Now}
}

// Allow fails open: lookup or insert errors are logged and the request
// goes through.
func (l *TableLimiter) Allow(ctx context.Context, identifier, endpoint string) (bool, error) {
	now := l.now()
	var count int64
	err := l.db.WithContext(ctx).Model(&models.RateLimit{}).
		Where("identifier = ? AND endpoint = ? AND window_start >= ?", identifier, endpoint, now.Add(-l.window)).
		Count(&count).Error
	if err != nil {
		log.Printf("[ratelimit] count failed for %s/%s: %v", identifier, endpoint, err)
		return true, err
	}
	if count >= int64(l.max) {
		return false, nil
	}
	row := models.RateLimit{Identifier: identifier, Endpoint: endpoint, Count: 1, WindowStart: now}
	if err := l.db.WithContext(ctx).Create(&row).Error; err != nil {
		log.Printf("[ratelimit] insert failed for %s/%s: %v", identifier, endpoint, err)
		return true, err
	}
	return true, nil
}

// Purge removes rows older than the window.
func (l *TableLimiter) Purge(ctx context.Context) (int64, error) {
	res := l.db.WithContext(ctx).Where("window_start < ?", l.now().Add(-l.window)).Delete(&models.RateLimit{})
	return res.RowsAffected, res.Error
}

// RedisLimiter keeps one counter per fixed window bucket.
type RedisLimiter struct {
	rdb    *redis.Client
	max    int
	window time.Duration
	prefix string
	now    func() time.Time
}

func NewRedisLimiter(rdb *redis.Client, max int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, max: max, window: window, prefix: "ratelimit", now: time.Now}
}

func (l *RedisLimiter) key(identifier, endpoint string) string {
	bucket := l.now().UnixNano() / int64(l.window)
	return fmt.Sprintf("%s:%s:%s:%d", l.prefix, endpoint, identifier, bucket)
}

func (l *RedisLimiter) Allow(ctx context.Context, identifier, endpoint string) (bool, error) {
	key := l.key(identifier, endpoint)
	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[ratelimit] redis failed for %s/%s: %v", identifier, endpoint, err)
		return true, err
	}
	return incr.Val() <= int64(l.max), nil
}
