// Package server exposes the HTTP surface: reference data reads, commodity
// lookups, and the streaming calculation endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"commodityd/internal/commodity"
	"commodityd/internal/config"
	"commodityd/internal/gemini"
	"commodityd/internal/refdata"
	"commodityd/internal/relay"
)

// Streamer is the upstream model call. *gemini.Client satisfies it; tests
// substitute a scripted fake.
type Streamer interface {
	StreamGenerateContent(ctx context.Context, prompt string, enableCodeExecution bool) (<-chan gemini.GenerateChunk, <-chan error)
}

// Server wires the reference store, catalog, and upstream client behind the
// HTTP routes.
type Server struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    *refdata.Store
	catalog  *commodity.Catalog
	upstream Streamer
	relay    *relay.Relay
	metrics  *Metrics
}

// New builds a Server. All collaborators are constructed by the caller so
// tests can inject fakes.
func New(cfg *config.Config, logger *zap.Logger, store *refdata.Store, catalog *commodity.Catalog, upstream Streamer) *Server {
	return &Server{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		catalog:  catalog,
		upstream: upstream,
		relay:    relay.New(logger, cfg.GetStreamIdleTimeout()),
		metrics:  NewMetrics(),
	}
}

// Handler returns the full middleware-wrapped handler chain.
func (s *Server) Handler() http.Handler {
	return s.recoverPanics(s.withCORS(http.HandlerFunc(s.route)))
}

// ListenAndServe runs the HTTP server until ctx is cancelled, then drains
// in-flight requests within the configured shutdown timeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.GetReadTimeout(),
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", s.cfg.Server.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.GetShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	err := <-errCh
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// route dispatches by method and path. Unknown combinations fall through to
// a JSON 404 so every response shape stays consistent.
func (s *Server) route(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	path := r.URL.Path
	switch {
	case r.Method == http.MethodGet && path == "/":
		s.handleIndex(w, r)
	case r.Method == http.MethodGet && path == "/metrics":
		s.metrics.Handler().ServeHTTP(w, r)
	case r.Method == http.MethodGet && path == "/api/commodities":
		s.handleCommoditySummary(w, r)
	case r.Method == http.MethodGet && strings.HasPrefix(path, "/api/commodities/"):
		s.handleCommodityCategory(w, r, strings.TrimPrefix(path, "/api/commodities/"))
	case r.Method == http.MethodGet && path == "/api/district-profile":
		s.handleDataset(w, r, refdata.DatasetDistrictProfile)
	case r.Method == http.MethodGet && path == "/api/meal-patterns":
		s.handleDataset(w, r, refdata.DatasetMealPatterns)
	case r.Method == http.MethodPost && strings.HasPrefix(path, "/api/stream/"):
		s.handleStream(w, r, strings.TrimPrefix(path, "/api/stream/"))
	default:
		s.writeError(w, r, http.StatusNotFound, fmt.Sprintf("no route for %s %s", r.Method, path))
	}
}

// withCORS attaches the CORS headers to every response, including errors
// and SSE streams.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Accept")
		h.Set("Access-Control-Max-Age", "3600")
		next.ServeHTTP(w, r)
	})
}

// recoverPanics converts an uncaught panic into a logged 500 JSON body. It
// also assigns the request id used by downstream log lines.
func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		r = r.WithContext(withRequestID(r.Context(), requestID))
		w.Header().Set("X-Request-Id", requestID)

		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("handler panic",
					zap.String("request_id", requestID),
					zap.String("path", r.URL.Path),
					zap.Any("panic", rec))
				s.writeError(w, r, http.StatusInternalServerError, fmt.Sprintf("internal error: %v", rec))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type requestIDKey struct{}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// writeJSON serializes v as the response body. Serialization failures are
// logged and degrade to a plain 500 since headers may already be written.
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("response marshal failed",
			zap.String("request_id", requestIDFrom(r.Context())),
			zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
	s.metrics.requestsTotal.WithLabelValues(routeLabel(r), fmt.Sprintf("%d", status)).Inc()
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	s.writeJSON(w, r, status, map[string]any{"error": msg})
}

// routeLabel collapses variable path segments so the metric cardinality
// stays bounded.
func routeLabel(r *http.Request) string {
	path := r.URL.Path
	switch {
	case strings.HasPrefix(path, "/api/commodities/"):
		return "/api/commodities/{category}"
	case strings.HasPrefix(path, "/api/stream/"):
		return "/api/stream/{kind}"
	default:
		return path
	}
}
