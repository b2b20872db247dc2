// 包 middleware：HTTP 入口中间件
package middleware

import (
	"net/http"

	"golang.org/x/time/rate"

	"fence-api/internal/logger"
)

// RateLimit：令牌桶限流
// 背景：图层查询打穿缓存时单请求代价高，入口限速保护数据库
// 约束：不排队，超限直接 429；qps<=0 时不启用
func RateLimit(qps int) func(http.Handler) http.Handler {
	if qps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	lim := rate.NewLimiter(rate.Limit(qps), qps*2)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !lim.Allow() {
				logger.L().Debug("rate_limited", "path", r.URL.Path)
				w.Header().Set("content-type", "application/json; charset=utf-8")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
