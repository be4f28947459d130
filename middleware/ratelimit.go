package middleware

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"ChatBridge/pkg/apierr"
	"ChatBridge/pkg/cache"
	"ChatBridge/pkg/ratelimit"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// guards holds the in-process throttles; SetRateLimitConfig replaces the whole set.
type guards struct {
	window   time.Duration
	capacity int
	perUser  int64

	mu     sync.Mutex
	bursts map[string]*rate.Limiter
	slots  map[string]*semaphore.Weighted
}

const recentTextSlots = 10000

var (
	active atomic.Pointer[guards]

	recentMu  sync.RWMutex
	recent    = cache.New[string](recentTextSlots)
	recentTTL = 45 * time.Second
)

func init() { SetRateLimitConfig(10*time.Second, 5, 2) }

// SetRateLimitConfig allows capacity requests per window per caller and conc
// concurrent generations per user.
func SetRateLimitConfig(window time.Duration, capacity, conc int) {
	active.Store(&guards{
		window:   window,
		capacity: max(capacity, 1),
		perUser:  int64(max(conc, 1)),
		bursts:   map[string]*rate.Limiter{},
		slots:    map[string]*semaphore.Weighted{},
	})
}

func SetDuplicateTTL(ttl time.Duration) {
	recentMu.Lock()
	recentTTL = ttl
	recentMu.Unlock()
}

func (g *guards) burst(key string) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.bursts[key]
	if !ok {
		l = rate.NewLimiter(rate.Every(g.window/time.Duration(g.capacity)), g.capacity)
		g.bursts[key] = l
	}
	return l
}

func (g *guards) slot(uid string) *semaphore.Weighted {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.slots[uid]
	if !ok {
		s = semaphore.NewWeighted(g.perUser)
		g.slots[uid] = s
	}
	return s
}

// callerKey pairs the authenticated user with the address they came from.
func callerKey(c *gin.Context) string {
	ip := strings.TrimSpace(c.ClientIP())
	if ip == "" {
		ip = c.Request.RemoteAddr
	}
	return CurrentUserID(c) + "@" + ip
}

// BurstLimit rejects short spikes from one caller before they reach the
// persistent limiter.
func BurstLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		g := active.Load()
		if !g.burst(callerKey(c)).Allow() {
			c.Header("Retry-After", strconv.Itoa(int(g.window/time.Second)))
			apierr.Abort(c, "RATE_LIMITED", apierr.TooMany("too many requests"))
			return
		}
		c.Next()
	}
}

// WindowLimit enforces the persistent per-endpoint budget. Anonymous callers
// are counted by address.
func WindowLimit(l ratelimit.Limiter, endpoint string) gin.HandlerFunc {
	return func(c *gin.Context) {
		subject := CurrentUserID(c)
		if subject == "" {
			subject = c.ClientIP()
		}
		// limiter errors fail open
		if ok, _ := l.Allow(c.Request.Context(), subject, endpoint); !ok {
			apierr.Abort(c, "RATE_LIMITED", apierr.TooMany("Límite de solicitudes excedido. Intenta de nuevo más tarde."))
			return
		}
		c.Next()
	}
}

// DuplicateGuard returns false when key already sent the same text within
// the duplicate window. A blocked repeat does not extend the window.
func DuplicateGuard(key, text string) bool {
	text = strings.TrimSpace(text)
	if prev, ok := recent.Get(key); ok && prev == text {
		return false
	}
	recentMu.RLock()
	ttl := recentTTL
	recentMu.RUnlock()
	recent.Set(key, text, ttl)
	return true
}

// AcquireUserSlot waits for one of uid's generation slots. Calling release
// more than once is a no-op.
func AcquireUserSlot(ctx context.Context, uid string) (release func(), err error) {
	sem := active.Load().slot(uid)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	var once sync.Once
	return func() { once.Do(func() { sem.Release(1) }) }, nil
}
