// Package monitoring exposes HTTP, external call and business metrics through
// OpenTelemetry with a Prometheus or OTLP exporter.
package monitoring

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/faithconnect/member-service/shared/utils"
	"github.com/go-chi/chi/v5"
)

var (
	initOnce sync.Once
	initErr  error
)

var (
	routesMu       sync.RWMutex
	routes         = make(map[string]bool)
	routeTemplates = make([]string, 0)
)

// ensureInitialized initializes metrics with the environment config on first
// use. ENABLE_OBSERVABILITY=false or OTEL_METRICS_ENABLED=false turns it off.
func ensureInitialized() {
	initOnce.Do(func() {
		if !IsObservabilityEnabled() {
			slog.Info("Observability disabled via environment variable, skipping initialization")
			initErr = errors.New("observability disabled via environment variable")
			return
		}

		serviceName := utils.GetEnvOrDefault("SERVICE_NAME", "faithconnect-member-service")
		initErr = Initialize(DefaultConfig(serviceName))
		if initErr != nil {
			slog.Error("Failed to initialize metrics, metrics will be disabled",
				"error", initErr,
				"service", serviceName)
		}
	})
}

// IsInitialized reports whether metrics are being collected
func IsInitialized() bool {
	ensureInitialized()
	return initErr == nil
}

// IsObservabilityEnabled checks the ENABLE_OBSERVABILITY and OTEL_METRICS_ENABLED switches
func IsObservabilityEnabled() bool {
	return utils.GetEnvBoolOrDefault("ENABLE_OBSERVABILITY", true) &&
		utils.GetEnvBoolOrDefault("OTEL_METRICS_ENABLED", true)
}

// RegisterRoutes registers routes used to label requests that did not go
// through a chi router. Templates use {name} placeholders, e.g.
// "/api/v1/members/{memberId}/relationships".
func RegisterRoutes(routesList []string) {
	routesMu.Lock()
	defer routesMu.Unlock()

	for _, route := range routesList {
		if strings.Contains(route, "{") {
			routeTemplates = append(routeTemplates, route)
		} else {
			routes[route] = true
		}
	}
}

// Handler returns the metrics HTTP handler
func Handler() http.Handler {
	ensureInitialized()
	return otelHandler()
}

// HTTPMetricsMiddleware records request count and latency per route. When
// installed with chi's Use, the matched route pattern is the label.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	ensureInitialized()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		route := routeLabel(r)
		if rw.statusCode == http.StatusNotFound {
			route = "unknown"
		}
		otelRecordHTTPRequest(r.Method, route, rw.statusCode, time.Since(start))
	})
}

// RecordExternalCall records a call to the store, IdP, mail server or Redis
func RecordExternalCall(target, operation string, duration time.Duration, err error) {
	ensureInitialized()
	otelRecordExternalCall(target, operation, duration, err)
}

// RecordBusinessEvent records a business event such as "member_created"
func RecordBusinessEvent(action, outcome string) {
	ensureInitialized()
	otelRecordBusinessEvent(action, outcome)
}

// RecordRelationshipSync counts partner documents written and skipped by one
// synchronizer run
func RecordRelationshipSync(operation string, written, skipped int) {
	ensureInitialized()
	otelRecordRelationshipSync(operation, written, skipped)
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush keeps server-sent event streams working through the wrapper
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

func routeLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return normalizeRoute(r.URL.Path)
}

// normalizeRoute maps a raw path onto a registered route or template.
// Unregistered paths collapse to "unknown" to bound label cardinality.
func normalizeRoute(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	fullPath := "/" + strings.Join(parts, "/")

	routesMu.RLock()
	defer routesMu.RUnlock()

	if routes[fullPath] {
		return fullPath
	}
	for _, template := range routeTemplates {
		if matchesTemplate(template, parts) {
			return template
		}
	}
	return "unknown"
}

func matchesTemplate(template string, pathParts []string) bool {
	templateParts := strings.Split(strings.Trim(template, "/"), "/")
	if len(pathParts) != len(templateParts) {
		return false
	}
	for i, part := range templateParts {
		if strings.HasPrefix(part, "{") && strings.HasSuffix(part, "}") {
			if pathParts[i] == "" {
				return false
			}
			continue
		}
		if pathParts[i] != part {
			return false
		}
	}
	return true
}
