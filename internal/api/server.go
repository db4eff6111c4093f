package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/bookmeta/internal/book"
	"github.com/JakeFAU/bookmeta/internal/cover"
	"github.com/JakeFAU/bookmeta/internal/lookup"
	"github.com/JakeFAU/bookmeta/internal/metrics"
	"github.com/JakeFAU/bookmeta/internal/results"
)

// Identifier runs metadata lookups.
type Identifier interface {
	Identify(ctx context.Context, req book.LookupRequest, sink book.Sink) error
}

// CoverDownloader fetches cover images.
type CoverDownloader interface {
	Download(ctx context.Context, req book.LookupRequest) (*cover.Result, error)
}

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// Config controls request handling.
type Config struct {
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the lookup pipeline.
type Server struct {
	router   chi.Router
	identify Identifier
	covers   CoverDownloader
	checks   map[string]ReadinessCheck
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes. checks may be nil.
func NewServer(
	cfg Config,
	identify Identifier,
	covers CoverDownloader,
	checks map[string]ReadinessCheck,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 2 * time.Minute
	}
	s := &Server{
		identify: identify,
		covers:   covers,
		checks:   checks,
		logger:   logger.Named("api"),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metricsMiddleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/identify", s.getIdentify)
		r.Get("/cover", s.getCover)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	failures := map[string]string{}
	for name, check := range s.checks {
		if err := check(r.Context()); err != nil {
			failures[name] = err.Error()
		}
	}
	if len(failures) > 0 {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failures": failures})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type identifyResponse struct {
	Request book.LookupRequest `json:"request"`
	Count   int                `json:"count"`
	Records []book.Record      `json:"records"`
}

func (s *Server) getIdentify(w http.ResponseWriter, r *http.Request) {
	req, err := parseLookupRequest(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	queue := results.NewQueue()
	if err := s.identify.Identify(r.Context(), req, queue); err != nil {
		s.writeLookupError(w, err)
		return
	}
	records := queue.Drain()
	cover.SortByRelevance(records, req)
	if records == nil {
		records = []book.Record{}
	}
	s.writeJSON(w, http.StatusOK, identifyResponse{Request: req, Count: len(records), Records: records})
}

func (s *Server) getCover(w http.ResponseWriter, r *http.Request) {
	req, err := parseLookupRequest(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.covers.Download(r.Context(), req)
	if err != nil {
		s.writeLookupError(w, err)
		return
	}
	if res == nil {
		s.writeError(w, http.StatusNotFound, "no cover found")
		return
	}
	w.Header().Set("Content-Type", res.ContentType)
	w.Header().Set("X-Cover-Source", res.URL)
	if res.Identifier != "" {
		w.Header().Set("X-Cover-Identifier", res.Identifier)
	}
	if res.StoredURI != "" {
		w.Header().Set("X-Cover-Stored-URI", res.StoredURI)
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(res.Data); err != nil {
		s.logger.Warn("write cover failed", zap.Error(err))
	}
}

func parseLookupRequest(r *http.Request) (book.LookupRequest, error) {
	q := r.URL.Query()
	req := book.LookupRequest{
		Identifier: strings.TrimSpace(q.Get("id")),
		ISBN:       strings.TrimSpace(q.Get("isbn")),
		Title:      strings.TrimSpace(q.Get("title")),
	}
	for _, a := range q["author"] {
		if a = strings.TrimSpace(a); a != "" {
			req.Authors = append(req.Authors, a)
		}
	}
	if raw := q.Get("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return book.LookupRequest{}, errors.New("timeout must be a positive duration")
		}
		req.Timeout = d
	}
	if req.Empty() {
		return book.LookupRequest{}, errors.New("one of title, id or isbn is required")
	}
	return req, nil
}

func (s *Server) writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, lookup.ErrInvalidRequest) || errors.Is(err, cover.ErrInvalidRequest) {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Error("lookup failed", zap.Error(err))
	s.writeError(w, http.StatusInternalServerError, "lookup failed")
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Info("request completed",
			zap.String("request_id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		route := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		metrics.ObserveHTTPRequest(route, ww.status)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
