// Package server exposes the field mapping engine over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/spigell/hh-autofill/internal/fields"
	"github.com/spigell/hh-autofill/internal/mapping"
)

const maxBodyBytes = 1 << 20

// Mapper classifies a batch of fields.
type Mapper interface {
	Map(ctx context.Context, batch *fields.Batch) ([]fields.Result, error)
}

// Maintainer manages the classification cache.
type Maintainer interface {
	Clear(ctx context.Context) error
	Prune(ctx context.Context, now time.Time) (int, error)
}

type Server struct {
	mapper     Mapper
	maintainer Maintainer
	logger     *zap.Logger
	server     *http.Server
}

type classifyResponse struct {
	Results []fields.Result `json:"results"`
}

type pruneResponse struct {
	Removed int `json:"removed"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func New(addr string, mapper Mapper, maintainer Maintainer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{mapper: mapper, maintainer: maintainer, logger: logger}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router builds the HTTP routes.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/fields/classify", s.handleClassify)
		r.Delete("/cache", s.handleClearCache)
		r.Post("/cache/prune", s.handlePruneCache)
	})

	return r
}

// Start blocks serving HTTP until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("starting http server", zap.String("listen", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: err.Error()})
		return
	}

	batch, err := fields.ParseBatch(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	results, err := s.mapper.Map(r.Context(), batch)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, mapping.ErrInvalidBatch) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, classifyResponse{Results: results})
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	if err := s.maintainer.Clear(r.Context()); err != nil {
		s.logger.Warn("clearing cache", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePruneCache(w http.ResponseWriter, r *http.Request) {
	removed, err := s.maintainer.Prune(r.Context(), time.Now())
	if err != nil {
		s.logger.Warn("pruning cache", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, pruneResponse{Removed: removed})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Duration("elapsed", time.Since(started)),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
