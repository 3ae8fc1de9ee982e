package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/cuemby/foundry/pkg/config"
	"github.com/cuemby/foundry/pkg/driver"
	"github.com/cuemby/foundry/pkg/errdefs"
	"github.com/cuemby/foundry/pkg/log"
	"github.com/cuemby/foundry/pkg/metrics"
	"github.com/cuemby/foundry/pkg/patch"
	"github.com/cuemby/foundry/pkg/schema"
	"github.com/cuemby/foundry/pkg/storage"
)

// Server is the REST API server for the hardware inventory.
type Server struct {
	cfg      *config.Config
	store    storage.Store
	registry *driver.Registry
	engine   *patch.Engine
	enroll   *schema.Validator
	tokens   TokenValidator

	limiter    *rate.Limiter
	httpServer *http.Server
}

// NewServer builds the API server. The enroll validator is composed once
// from the enabled drivers; the token validator defaults to the static
// config-file map when nil.
func NewServer(cfg *config.Config, store storage.Store, registry *driver.Registry, tokens TokenValidator) (*Server, error) {
	enroll, err := schema.NewEnrollValidator(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to build enroll validator: %w", err)
	}
	engine, err := patch.NewEngine()
	if err != nil {
		return nil, fmt.Errorf("failed to build patch engine: %w", err)
	}
	if tokens == nil {
		tokens = NewStaticTokenValidator(cfg)
	}

	s := &Server{
		cfg:      cfg,
		store:    store,
		registry: registry,
		engine:   engine,
		enroll:   enroll,
		tokens:   tokens,
		limiter:  rate.NewLimiter(rate.Limit(100), 200),
	}
	s.httpServer = &http.Server{
		Addr:              cfg.APIAddr(),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Routes builds the HTTP handler tree.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/hardware", s.requireAuth(s.handleListHardware))
	mux.HandleFunc("GET /v1/hardware/export", s.handleExportHardware)
	mux.HandleFunc("POST /v1/hardware", s.requireAuth(s.handleEnrollHardware))
	mux.HandleFunc("GET /v1/hardware/{uuid}", s.requireAuth(s.handleGetHardware))
	mux.HandleFunc("PATCH /v1/hardware/{uuid}", s.requireAuth(s.handlePatchHardware))
	mux.HandleFunc("DELETE /v1/hardware/{uuid}", s.requireAuth(s.handleDestroyHardware))
	mux.HandleFunc("POST /v1/hardware/{uuid}/sync", s.requireAuth(s.handleSyncHardware))
	mux.HandleFunc("GET /v1/hardware/{uuid}/availability", s.requireAuth(s.handleListAvailability))

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())

	return s.throttle(s.instrument(mux))
}

// Start runs the server until Shutdown. It blocks.
func (s *Server) Start() error {
	logger := log.WithComponent("api")
	logger.Info().Str("addr", s.httpServer.Addr).Msg("Starting API server")

	var err error
	if s.cfg.API.EnableSSLAPI {
		err = s.httpServer.ListenAndServeTLS(s.cfg.API.SSLCertFile, s.cfg.API.SSLKeyFile)
	} else {
		err = s.httpServer.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// throttle applies a global request rate limit.
func (s *Server) throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			writeJSON(w, http.StatusTooManyRequests, errorBody("too many requests"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// instrument records request metrics and an access log line.
func (s *Server) instrument(next http.Handler) http.Handler {
	logger := log.WithComponent("api")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		timer.ObserveDurationVec(metrics.APIRequestDuration, r.Method)
		metrics.APIRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
		logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", timer.Duration()).
			Msg("Request handled")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func errorBody(msg string) map[string]any {
	return map[string]any{"error": msg}
}

// writeError maps a domain error to its status code; unclassified errors are
// logged and returned as an opaque 500.
func writeError(w http.ResponseWriter, err error) {
	status := errdefs.HTTPStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger := log.WithComponent("api")
		logger.Error().Err(err).Msg("Request failed")
		msg = "internal server error"
	}
	writeJSON(w, status, errorBody(msg))
}
