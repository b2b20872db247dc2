package middleware

import (
	"net/http"
	"strings"
	"time"

	"fence-api/internal/metrics"
)

// Metrics：按端点聚合请求量与时延
// 约束：标签用路径前两段，数字段归一为 :id，避免高基数
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		endpoint := normalizePath(r.URL.Path)
		metrics.RequestsTotal.WithLabelValues(endpoint).Inc()
		metrics.RequestDurationMs.WithLabelValues(endpoint).Observe(float64(time.Since(start).Milliseconds()))
	})
}

func normalizePath(p string) string {
	parts := strings.Split(strings.Trim(p, "/"), "/")
	if len(parts) > 3 {
		parts = parts[:3]
	}
	for i, seg := range parts {
		if seg != "" && isDigits(seg) {
			parts[i] = ":id"
		}
	}
	return "/" + strings.Join(parts, "/")
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
