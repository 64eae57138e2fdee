// Package api exposes the HTTP interface for the profile service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"biosite/internal/config"
	"biosite/internal/contact"
	uuidgen "biosite/internal/id/uuid"
	"biosite/internal/metrics"
	"biosite/internal/ratelimit"
	"biosite/internal/security"
	"biosite/internal/storage/postgres"
)

// ContactLister reads back stored submissions for the admin endpoint. Only
// the Postgres sink provides one.
type ContactLister interface {
	List(ctx context.Context) ([]postgres.StoredContact, error)
}

// Server wires HTTP handlers to the intake service and stores.
type Server struct {
	router  chi.Router
	service *contact.Service
	lister  ContactLister
	cfg     config.Config
	logger  *zap.Logger
}

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style nonce="{{.Nonce}}">body{font-family:sans-serif;max-width:40rem;margin:4rem auto}</style>
</head>
<body>
<h1>{{.Name}}</h1>
<p>{{.Title}}</p>
</body>
</html>
`))

// NewServer constructs a Server with middleware and routes.
func NewServer(
	service *contact.Service,
	lister ContactLister,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	s := &Server{
		service: service,
		lister:  lister,
		cfg:     cfg,
		logger:  logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(time.Duration(cfg.Server.TimeoutSeconds) * time.Second))
	r.Use(metrics.Middleware)
	r.Use(security.Headers(security.Config{
		ExcludedPrefixes: cfg.Security.ExcludedPrefixes,
	}, logger))

	r.Get("/", s.page)
	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/contact", s.submitContact)
		r.Get("/contact", s.contactMethodNotAllowed)
	})

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Get("/contacts", s.listContacts)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) page(w http.ResponseWriter, r *http.Request) {
	nonce, _ := security.NonceFromContext(r.Context())
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	data := struct {
		Name  string
		Title string
		Nonce string
	}{
		Name:  s.cfg.Site.Name,
		Title: s.cfg.Site.Title,
		Nonce: nonce,
	}
	if err := pageTemplate.Execute(w, data); err != nil {
		s.logger.Error("render page failed", zap.Error(err))
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	// The rate limiter and sinks hold no warm-up state; readiness mirrors
	// liveness until a checkable downstream exists.
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type contactRequest struct {
	Name           string `json:"name"`
	Email          string `json:"email"`
	RecaptchaToken string `json:"recaptchaToken"`
}

type contactResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	ID      int64  `json:"id,omitempty"`
}

func (s *Server) submitContact(w http.ResponseWriter, r *http.Request) {
	var req contactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// Malformed bodies get the generic boundary response, matching the
		// catch-all in the submission contract.
		s.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	in := contact.Input{
		Name:      req.Name,
		Email:     req.Email,
		Token:     req.RecaptchaToken,
		ClientIP:  contact.ResolveIdentifier(r.Header.Get("X-Forwarded-For"), r.Header.Get("X-Real-IP")),
		UserAgent: r.UserAgent(),
	}

	ack, res, err := s.service.Submit(r.Context(), in)
	s.setRateLimitHeaders(w, res)
	if err != nil {
		s.writeSubmitError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, contactResponse{
		Success: true,
		Message: ack.Message,
		ID:      ack.ID,
	})
}

func (s *Server) writeSubmitError(w http.ResponseWriter, err error) {
	var (
		ve  *contact.ValidationError
		rle *contact.RateLimitedError
		de  *contact.DeliveryError
	)
	switch {
	case errors.As(err, &rle):
		s.writeError(w, http.StatusTooManyRequests, "Too many submissions. Please try again later.")
	case errors.As(err, &ve):
		s.writeError(w, http.StatusBadRequest, ve.Message)
	case errors.Is(err, contact.ErrMissingToken),
		errors.Is(err, contact.ErrVerificationFailed):
		// Generic wording only; scores and reasons stay server-side.
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &de):
		s.writeError(w, http.StatusInternalServerError, "Internal server error")
	default:
		s.logger.Error("unclassified submission error", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (s *Server) contactMethodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
}

func (s *Server) listContacts(w http.ResponseWriter, r *http.Request) {
	if s.lister == nil {
		s.writeError(w, http.StatusServiceUnavailable, "contact listing requires the postgres sink")
		return
	}
	contacts, err := s.lister.List(r.Context())
	if err != nil {
		s.logger.Error("list contacts failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if contacts == nil {
		contacts = []postgres.StoredContact{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"contacts": contacts})
}

func (s *Server) setRateLimitHeaders(w http.ResponseWriter, res ratelimit.Result) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", fmt.Sprintf("%d", s.service.Limit()))
	h.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", res.Remaining))
	h.Set("X-RateLimit-Reset", fmt.Sprintf("%d", unixCeil(res.ResetAt)))
}

func unixCeil(t time.Time) int64 {
	return int64(math.Ceil(float64(t.UnixMilli()) / 1000))
}

var requestIDs = uuidgen.NewUUIDGenerator()

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := requestIDs.NewRequestID()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					http.Error(w, `{"error":"Internal server error"}`, http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	if d <= 0 {
		d = 60 * time.Second
	}
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type requestIDKey struct{}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

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
