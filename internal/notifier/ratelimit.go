package notifier

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/jmerrifield20/dlts/internal/metrics"
)

// RelayHeader names the relay project that sent a delivery. Deliveries are
// throttled per relay; requests without it are throttled per client IP.
const RelayHeader = "X-Push-Relay"

const (
	sweepInterval = 5 * time.Minute
	sweepIdle     = 10 * time.Minute
)

type senderBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// DeliveryLimiter throttles senders with a token bucket each.
type DeliveryLimiter struct {
	rps   rate.Limit
	burst int
	now   func() time.Time

	mu      sync.Mutex
	buckets map[string]*senderBucket
}

// NewDeliveryLimiter allows each sender rps requests per second with bursts
// of up to burst.
func NewDeliveryLimiter(rps, burst int) *DeliveryLimiter {
	return &DeliveryLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		now:     time.Now,
		buckets: make(map[string]*senderBucket),
	}
}

// Middleware rejects over-limit requests with 429 and a Retry-After hint.
// Rejected pushes are counted as throttled deliveries.
func (d *DeliveryLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		l := d.bucket(senderKey(c))
		if l.AllowN(d.now(), 1) {
			c.Next()
			return
		}

		if c.FullPath() == pushPath {
			metrics.RecordDelivery("throttled")
		}
		c.Header("Retry-After", strconv.Itoa(d.retryAfter(l)))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": "rate limit exceeded",
		})
	}
}

// Run drops idle senders every few minutes until ctx ends.
func (d *DeliveryLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Sweep(sweepIdle)
		}
	}
}

// Sweep forgets senders not seen for idle and returns how many were removed.
func (d *DeliveryLimiter) Sweep(idle time.Duration) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	cutoff := d.now().Add(-idle)
	n := 0
	for key, b := range d.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(d.buckets, key)
			n++
		}
	}
	return n
}

// Senders returns the number of tracked senders.
func (d *DeliveryLimiter) Senders() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buckets)
}

func (d *DeliveryLimiter) bucket(key string) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buckets[key]
	if !ok {
		b = &senderBucket{limiter: rate.NewLimiter(d.rps, d.burst)}
		d.buckets[key] = b
	}
	b.lastSeen = d.now()
	return b.limiter
}

// retryAfter is the whole number of seconds until l has a token again.
func (d *DeliveryLimiter) retryAfter(l *rate.Limiter) int {
	if d.rps <= 0 {
		return 1
	}
	missing := 1 - l.TokensAt(d.now())
	secs := int(math.Ceil(missing / float64(d.rps)))
	if secs < 1 {
		secs = 1
	}
	return secs
}

func senderKey(c *gin.Context) string {
	if relay := c.GetHeader(RelayHeader); relay != "" {
		return "relay:" + relay
	}
	return "ip:" + c.ClientIP()
}
