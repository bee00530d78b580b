package mw

import (
	"net/http"
	"strconv"
	"time"

	"github.com/vango-go/vai-voice/pkg/core"
	"github.com/vango-go/vai-voice/pkg/gateway/config"
	"github.com/vango-go/vai-voice/pkg/gateway/principal"
	"github.com/vango-go/vai-voice/pkg/gateway/ratelimit"
)

// RateLimitRecorder is notified of every rejected request.
type RateLimitRecorder interface {
	RecordRateLimitHit(limitType string)
}

func RateLimit(cfg config.Config, limiter *ratelimit.Limiter, rec RateLimitRecorder, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Health endpoints must remain cheap and reliable.
		if isOperationalPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		p := principal.Resolve(r, cfg)
		dec := limiter.AcquireRequest(p.Key, time.Now())
		if !dec.Allowed {
			if rec != nil {
				rec.RecordRateLimitHit(dec.Limit)
			}
			reqID, _ := RequestIDFrom(r.Context())
			WriteRateLimited(w, reqID, dec, "rate limit exceeded")
			return
		}
		if dec.Permit != nil {
			defer dec.Permit.Release()
		}

		next.ServeHTTP(w, r)
	})
}

// WriteRateLimited writes the canonical 429 for a denied decision.
func WriteRateLimited(w http.ResponseWriter, reqID string, dec ratelimit.Decision, message string) {
	var retryAfter *int
	if dec.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(dec.RetryAfter))
		v := dec.RetryAfter
		retryAfter = &v
	}
	writeJSONError(w, http.StatusTooManyRequests, &core.Error{
		Type:       core.ErrRateLimit,
		Message:    message,
		Code:       dec.Limit,
		RequestID:  reqID,
		RetryAfter: retryAfter,
	})
}
