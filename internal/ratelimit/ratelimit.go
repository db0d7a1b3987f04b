// Package ratelimit implements fixed-window request limits keyed by client
// address and path.
package ratelimit

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rsclarke/echohook/internal/logging"
)

// Rule limits requests whose path starts with Prefix.
type Rule struct {
	Prefix string
	Limit  int
	Window time.Duration
}

// DefaultRules mirror the limits the public service has always applied.
// The first matching prefix wins; the empty prefix matches everything.
var DefaultRules = []Rule{
	{Prefix: "/auth/token", Limit: 5, Window: time.Hour},
	{Prefix: "/webhook/", Limit: 1000, Window: time.Hour},
	{Prefix: "", Limit: 100, Window: time.Hour},
}

// Counter counts hits per key within a fixed window.
type Counter interface {
	// Hit records one request against key, starting a new window of the
	// given length when none is open, and returns the hits so far in the
	// window and when it closes.
	Hit(ctx context.Context, key string, window time.Duration) (int, time.Time, error)
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

// RetryAfter is the whole number of seconds until the window closes.
func (d Decision) RetryAfter(now time.Time) int {
	secs := int((d.Reset.Sub(now) + time.Second - 1) / time.Second)
	return max(secs, 0)
}

// Limiter applies Rules through a Counter.
type Limiter struct {
	counter Counter
	rules   []Rule
	logger  *zap.Logger
}

// New returns a Limiter. With no rules DefaultRules apply.
func New(counter Counter, logger *zap.Logger, rules ...Rule) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(rules) == 0 {
		rules = DefaultRules
	}
	return &Limiter{counter: counter, rules: rules, logger: logger}
}

// Allow counts a request from ip to path. Paths no rule matches are always
// allowed and report a zero Limit.
func (l *Limiter) Allow(ctx context.Context, ip, path string) (Decision, error) {
	rule, ok := l.match(path)
	if !ok {
		return Decision{Allowed: true}, nil
	}

	count, reset, err := l.counter.Hit(ctx, ip+":"+path, rule.Window)
	if err != nil {
		return Decision{}, err
	}

	d := Decision{
		Allowed:   count <= rule.Limit,
		Limit:     rule.Limit,
		Remaining: max(rule.Limit-count, 0),
		Reset:     reset,
	}
	if !d.Allowed {
		l.logger.Warn("rate limit exceeded",
			logging.RemoteIP(ip),
			logging.Path(path),
			zap.Int("limit", rule.Limit))
	}
	return d, nil
}

func (l *Limiter) match(path string) (Rule, bool) {
	for _, r := range l.rules {
		if strings.HasPrefix(path, r.Prefix) {
			return r, true
		}
	}
	return Rule{}, false
}

// ClientIP returns the caller's address as reported by the edge:
// CF-Connecting-IP, X-Forwarded-For, X-Real-IP, else "unknown".
func ClientIP(r *http.Request) string {
	for _, h := range []string{"CF-Connecting-IP", "X-Forwarded-For", "X-Real-IP"} {
		if v := r.Header.Get(h); v != "" {
			return v
		}
	}
	return "unknown"
}
