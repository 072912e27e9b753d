package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/rs/cors"
	"go.uber.org/zap"

	v0 "github.com/devskyy/mcpfleet/internal/api/handlers/v0"
	"github.com/devskyy/mcpfleet/internal/auth"
	"github.com/devskyy/mcpfleet/internal/telemetry"
)

// TrailingSlashMiddleware redirects API requests with trailing slashes
// to their canonical form.
func TrailingSlashMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		isAPIRoute := strings.HasPrefix(r.URL.Path, "/v0/") ||
			r.URL.Path == "/metrics" ||
			strings.HasPrefix(r.URL.Path, "/docs")

		if isAPIRoute && r.URL.Path != "/" && strings.HasSuffix(r.URL.Path, "/") {
			newURL := *r.URL
			newURL.Path = strings.TrimSuffix(r.URL.Path, "/")
			http.Redirect(w, r, newURL.String(), http.StatusPermanentRedirect)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Server is the control-plane HTTP server.
type Server struct {
	humaAPI huma.API
	mux     *http.ServeMux
	server  *http.Server
	logger  *zap.Logger
}

// HumaAPI returns the Huma API instance, allowing registration of new
// routes.
func (s *Server) HumaAPI() huma.API { return s.humaAPI }

// Mux returns the HTTP ServeMux, allowing registration of custom HTTP
// handlers.
func (s *Server) Mux() *http.ServeMux { return s.mux }

// Handler returns the full middleware-wrapped handler, mainly for
// tests.
func (s *Server) Handler() http.Handler { return s.server.Handler }

// NewServer assembles the HTTP server with CORS and slash handling.
func NewServer(addr string, deps *v0.Deps, metrics *telemetry.Metrics, jwtManager *auth.JWTManager, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	mux := http.NewServeMux()
	humaAPI := NewHumaAPI(deps, mux, metrics, jwtManager)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Content-Type", "Content-Length"},
		AllowCredentials: false,
		MaxAge:           86400,
	})

	handler := TrailingSlashMiddleware(corsHandler.Handler(mux))

	return &Server{
		humaAPI: humaAPI,
		mux:     mux,
		logger:  logger,
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Start begins listening for incoming HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting",
		zap.String("addr", s.server.Addr))
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
