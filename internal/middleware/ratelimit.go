package middleware

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"github.com/R3E-Network/zkgate/internal/errors"
	internalhttputil "github.com/R3E-Network/zkgate/internal/httputil"
	"github.com/R3E-Network/zkgate/internal/logging"
)

// DefaultSweepSchedule is when idle client limiters are dropped.
const DefaultSweepSchedule = "@every 1m"

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter applies a token bucket per client. Clients are keyed by the subject
// resolved through KeyBySubject when there is one, otherwise by remote IP.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
	rate    rate.Limit
	burst   int
	idleTTL time.Duration
	logger  *logging.Logger
	now     func() time.Time
	subject func(*http.Request) string

	cron *cron.Cron
}

// NewRateLimiter creates a new rate limiter. A non-positive rate disables limiting.
func NewRateLimiter(requestsPerSecond float64, burst int, logger *logging.Logger) *RateLimiter {
	if burst <= 0 {
		burst = int(math.Max(1, math.Ceil(requestsPerSecond)))
	}
	return &RateLimiter{
		clients: make(map[string]*clientLimiter),
		rate:    rate.Limit(requestsPerSecond),
		burst:   burst,
		idleTTL: 10 * time.Minute,
		logger:  logger,
		now:     time.Now,
	}
}

// KeyBySubject makes requests that resolve to the same subject share one bucket
// whatever address they come from. The limiter runs ahead of route authentication,
// so fn reads the credentials itself; AuthMiddleware.Subject is the usual choice.
func (rl *RateLimiter) KeyBySubject(fn func(*http.Request) string) *RateLimiter {
	rl.subject = fn
	return rl
}

// Enabled reports whether requests are limited at all.
func (rl *RateLimiter) Enabled() bool {
	return rl.rate > 0
}

func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	c, ok := rl.clients[key]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.clients[key] = c
	}
	c.lastSeen = rl.now()
	return c.limiter
}

// Handler returns the rate limiting middleware handler
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		key := rl.clientKey(r)
		if rl.getLimiter(key).Allow() {
			next.ServeHTTP(w, r)
			return
		}

		rl.logger.LogSecurityEvent(r.Context(), "rate_limit_exceeded", map[string]interface{}{
			"key":    key,
			"path":   r.URL.Path,
			"method": r.Method,
		})
		retryAfter := int(math.Ceil(1 / float64(rl.rate)))
		w.Header().Set("Retry-After", strconv.Itoa(max(retryAfter, 1)))
		internalhttputil.WriteServiceError(w, r, errors.RateLimitExceeded(int(math.Ceil(float64(rl.rate))), "1s"))
	})
}

func (rl *RateLimiter) clientKey(r *http.Request) string {
	if rl.subject != nil {
		if user := rl.subject(r); user != "" {
			return "user:" + user
		}
	}
	if user := logging.GetUserID(r.Context()); user != "" {
		return "user:" + user
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

// Sweep drops limiters that have been idle longer than the idle TTL and returns how
// many were removed.
func (rl *RateLimiter) Sweep() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.idleTTL)
	removed := 0
	for key, c := range rl.clients {
		if c.lastSeen.Before(cutoff) {
			delete(rl.clients, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked clients.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// StartSweeper schedules Sweep on a cron spec such as DefaultSweepSchedule.
func (rl *RateLimiter) StartSweeper(spec string) error {
	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		if n := rl.Sweep(); n > 0 {
			rl.logger.WithContext(context.Background()).WithField("removed", n).Debug("Swept idle rate limiters")
		}
	}); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}
	c.Start()
	rl.cron = c
	return nil
}

// Stop halts the sweeper and waits for a running sweep to finish.
func (rl *RateLimiter) Stop() {
	if rl.cron != nil {
		<-rl.cron.Stop().Done()
	}
}
