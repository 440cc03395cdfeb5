package opsapi

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/flagmesh/flagmesh/internal/observability"
)

// RequestLogger creates a middleware that logs the start and end of each request.
// It integrates with slog to provide structured logs including RequestID, Method, Path, Status, and Duration.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Get RequestID set by Chi's RequestID middleware
		reqID := middleware.GetReqID(r.Context())

		// Wrap the ResponseWriter to capture the status code
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		// Process the request
		next.ServeHTTP(ww, r)

		// Calculate duration
		duration := time.Since(start)

		// Log the completed request
		// We use Info level for success, Warn for 4xx, Error for 5xx
		level := slog.LevelInfo
		status := ww.Status()

		if status >= 500 {
			level = slog.LevelError
		} else if status >= 400 {
			level = slog.LevelWarn
		}

		slog.Log(r.Context(), level, "HTTP request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration", duration.String(),
			"request_id", reqID,
			"remote_ip", r.RemoteAddr,
		)
	})
}

// MetricsCollector records per-request Prometheus metrics. The route pattern
// (not the raw path) labels the series to keep cardinality bounded.
func MetricsCollector(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		pattern := chiRoutePattern(r)
		observability.OpsReqDuration.WithLabelValues(r.Method, pattern).
			Observe(time.Since(start).Seconds())
		observability.OpsReqTotal.WithLabelValues(r.Method, pattern,
			httpStatusLabel(ww.Status())).Inc()
	})
}

func chiRoutePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

func httpStatusLabel(status int) string {
	if status == 0 {
		status = http.StatusOK
	}
	return strconv.Itoa(status)
}

// authenticateAPIKey verifies the X-API-Key header against the configured
// SHA-256 hash. Hashing before comparing keeps the plaintext key out of the
// process and makes the comparison constant-time over fixed-length digests.
func (a *API) authenticateAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.skipAuth {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get("X-API-Key")
		if key == "" {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, ErrorResponse{
				Code:    "ERR_UNAUTHORIZED",
				Message: "Missing X-API-Key header",
			})
			return
		}

		sum := sha256.Sum256([]byte(key))
		got := hex.EncodeToString(sum[:])
		if subtle.ConstantTimeCompare([]byte(got), []byte(a.apiKeyHash)) != 1 {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, ErrorResponse{
				Code:    "ERR_UNAUTHORIZED",
				Message: "Invalid API key",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}
