package middleware

import (
	"net/http"

	"github.com/felixge/httpsnoop"

	"github.com/HammerMeetNail/bookbuddy/internal/logging"
)

type RequestLogger struct {
	logger *logging.Logger
}

func NewRequestLogger(logger *logging.Logger) *RequestLogger {
	return &RequestLogger{logger: logger}
}

// Apply logs one line per request: 5xx at ERROR, 4xx at WARN, the rest at DEBUG.
func (rl *RequestLogger) Apply(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		metrics := httpsnoop.CaptureMetrics(next, w, r)

		fields := map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      metrics.Code,
			"bytes":       metrics.Written,
			"duration_ms": metrics.Duration.Milliseconds(),
			"remote_ip":   GetClientIP(r),
		}
		if r.URL.RawQuery != "" {
			fields["query"] = r.URL.RawQuery
		}

		switch {
		case metrics.Code >= http.StatusInternalServerError:
			rl.logger.Error("Request failed", fields)
		case metrics.Code >= http.StatusBadRequest:
			rl.logger.Warn("Request rejected", fields)
		default:
			rl.logger.Debug("Request completed", fields)
		}
	})
}
