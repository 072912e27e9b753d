// Package api serves the fleet control-plane HTTP API.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	v0 "github.com/devskyy/mcpfleet/internal/api/handlers/v0"
	"github.com/devskyy/mcpfleet/internal/auth"
	"github.com/devskyy/mcpfleet/internal/telemetry"
)

type middlewareConfig struct {
	skipPaths map[string]bool
}

// MiddlewareOption configures the metrics middleware.
type MiddlewareOption func(*middlewareConfig)

// WithSkipPaths skips instrumentation for specific paths.
func WithSkipPaths(paths ...string) MiddlewareOption {
	return func(c *middlewareConfig) {
		for _, path := range paths {
			c.skipPaths[path] = true
		}
	}
}

func getRoutePath(ctx huma.Context) string {
	if op := ctx.Operation().Path; op != "" {
		return op
	}
	return ctx.URL().Path
}

// MetricTelemetryMiddleware records request count, error count and
// latency for every instrumented route.
func MetricTelemetryMiddleware(metrics *telemetry.Metrics, options ...MiddlewareOption) func(huma.Context, func(huma.Context)) {
	config := &middlewareConfig{
		skipPaths: make(map[string]bool),
	}
	for _, opt := range options {
		opt(config)
	}

	return func(ctx huma.Context, next func(huma.Context)) {
		path := ctx.URL().Path

		pathParts := strings.Split(path, "/")
		pathToMatch := "/" + pathParts[len(pathParts)-1]
		if config.skipPaths[pathToMatch] || config.skipPaths[path] {
			next(ctx)
			return
		}

		start := time.Now()
		method := ctx.Method()
		routePath := getRoutePath(ctx)

		next(ctx)

		duration := time.Since(start).Seconds()
		statusCode := ctx.Status()

		attrs := []attribute.KeyValue{
			attribute.String("method", method),
			attribute.String("path", routePath),
			attribute.Int("status_code", statusCode),
		}

		metrics.Requests.Add(ctx.Context(), 1, metric.WithAttributes(attrs...))
		if statusCode >= 400 {
			metrics.ErrorCount.Add(ctx.Context(), 1, metric.WithAttributes(attrs...))
		}
		metrics.RequestDuration.Record(ctx.Context(), duration, metric.WithAttributes(attrs...))
	}
}

// handle404 returns a helpful 404 with suggestions for common mistakes.
func handle404(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(http.StatusNotFound)

	path := r.URL.Path
	detail := "Endpoint not found. See /docs for the API documentation."
	if !strings.HasPrefix(path, "/v0/") {
		detail = fmt.Sprintf(
			"Endpoint not found. Did you mean '%s'? See /docs for the API documentation.",
			"/v0"+path,
		)
	}

	errorBody := map[string]any{
		"title":  "Not Found",
		"status": 404,
		"detail": detail,
	}
	jsonData, err := json.Marshal(errorBody)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if _, err := w.Write(jsonData); err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// NewHumaAPI creates the Huma API with all fleet routes registered.
func NewHumaAPI(deps *v0.Deps, mux *http.ServeMux, metrics *telemetry.Metrics, jwtManager *auth.JWTManager) huma.API {
	humaConfig := huma.DefaultConfig("MCP Fleet", "1.0.0")
	humaConfig.Info.Description = "Control plane for a fleet of Model Context Protocol (MCP) servers: process supervision, unified tool catalog and cross-server workflows."
	// Disable $schema property in responses: https://github.com/danielgtaylor/huma/issues/230
	humaConfig.CreateHooks = []func(huma.Config) huma.Config{}

	api := humago.New(mux, humaConfig)

	if jwtManager != nil {
		api.UseMiddleware(auth.Middleware(jwtManager))
	}

	api.OpenAPI().Tags = []*huma.Tag{
		{Name: "servers", Description: "Fleet inspection and server lifecycle operations"},
		{Name: "catalog", Description: "Unified tool catalog, statistics and exports"},
		{Name: "workflows", Description: "Multi-server workflow definitions and executions"},
		{Name: "health", Description: "Aggregate fleet health"},
		{Name: "ping", Description: "Connectivity check"},
		{Name: "version", Description: "Build information"},
	}

	if metrics != nil {
		api.UseMiddleware(MetricTelemetryMiddleware(metrics,
			WithSkipPaths("/health", "/metrics", "/ping", "/docs"),
		))
		mux.Handle("/metrics", metrics.PrometheusHandler())
	}

	v0.RegisterMetaEndpoints(api, deps)
	v0.RegisterServerEndpoints(api, deps)
	v0.RegisterToolEndpoints(api, deps)
	v0.RegisterWorkflowEndpoints(api, deps)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			http.Redirect(w, r, "/docs", http.StatusTemporaryRedirect)
			return
		}
		handle404(w, r)
	})

	return api
}
