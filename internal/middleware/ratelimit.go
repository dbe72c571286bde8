package middleware

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// CounterStore хранит счётчики с окном жизни, общие для экземпляров сервиса.
type CounterStore interface {
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// RateLimitPolicy задаёт окно и лимит запросов с одного адреса.
type RateLimitPolicy struct {
	Name   string
	Window time.Duration
	Limit  int
}

func (p RateLimitPolicy) enabled() bool {
	return p.Window > 0 && p.Limit > 0
}

// retryAfter округляет окно вверх до целых секунд, но не меньше одной.
func (p RateLimitPolicy) retryAfter() string {
	return strconv.Itoa(max(1, int(math.Ceil(p.Window.Seconds()))))
}

// RateLimit ограничивает число запросов с одного IP в фиксированном окне.
// При недоступности хранилища счётчиков запрос пропускается.
func RateLimit(policy RateLimitPolicy, store CounterStore, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !policy.enabled() || store == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			key := fmt.Sprintf("rl:%s:%s", policy.Name, ip)

			count, err := store.IncrWithTTL(r.Context(), key, policy.Window)
			if err != nil {
				logger.Warn("rate limit store unavailable", zap.String("policy", policy.Name), zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			if count > int64(policy.Limit) {
				logger.Warn("rate limit exceeded",
					zap.String("policy", policy.Name),
					zap.String("ip", ip),
					zap.Int64("attempts", count),
					zap.Int("limit", policy.Limit),
				)
				w.Header().Set("Retry-After", policy.retryAfter())
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP берёт адрес из RemoteAddr; заголовки X-Forwarded-For разбирает chi RealIP.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
