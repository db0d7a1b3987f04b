package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/rsclarke/echohook/internal/logging"
	"github.com/rsclarke/echohook/internal/ratelimit"
	"github.com/rsclarke/echohook/internal/types"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// requestInfo collects details inner handlers learn about a request so the
// access log can report them.
type requestInfo struct {
	tokenID string
}

const requestInfoContextKey contextKey = "requestInfo"

func (s *APIServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		info := &requestInfo{}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), requestInfoContextKey, info)))

		fields := []zap.Field{
			logging.Method(r.Method),
			logging.Path(r.URL.Path),
			logging.Status(rec.status),
			logging.Duration(time.Since(start)),
		}
		if info.tokenID != "" {
			fields = append(fields, logging.TokenID(info.tokenID))
		}
		s.logger().Info("request", fields...)
	})
}

// rateLimit enforces the limiter's rules. Limiter failures let the request
// through.
func (s *APIServer) rateLimit(next http.Handler) http.Handler {
	if s.Limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ratelimit.ClientIP(r)
		d, err := s.Limiter.Allow(r.Context(), ip, r.URL.Path)
		if err != nil {
			s.logger().Error("rate limiter failed", logging.RemoteIP(ip), zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}

		if d.Limit > 0 {
			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(ceilUnix(d.Reset), 10))
		}
		if !d.Allowed {
			msg := fmt.Sprintf("Rate limit exceeded. Try again in %d seconds.", d.RetryAfter(time.Now()))
			writeJSON(w, http.StatusTooManyRequests, types.Envelope[any]{Error: msg})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func ceilUnix(t time.Time) int64 {
	sec := t.Unix()
	if t.Nanosecond() > 0 {
		sec++
	}
	return sec
}
