// Package api serves breakout groups over HTTP.
//
//	POST /api/v1/events/{eventID}/breakout-groups   compute and replace
//	POST ...?async=true                             queue for a grouper worker
//	GET  /api/v1/events/{eventID}/breakout-groups   fetch stored groups
//	GET  /healthz, /readyz, /metrics
//
// The requester identity used for rate limiting is the connection's remote
// address. X-Forwarded-For and X-Real-IP are honoured only when the handler
// is told it sits behind a trusted proxy.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/whisper/breakout/internal/breakout"
	"github.com/whisper/breakout/internal/groups"
	"github.com/whisper/breakout/internal/logging"
	"github.com/whisper/breakout/internal/metrics"
	"github.com/whisper/breakout/internal/ratelimit"
)

// Service is what the handlers need from breakout.Service.
type Service interface {
	Compute(ctx context.Context, p breakout.Params) ([]groups.Group, error)
	Fetch(ctx context.Context, eventID string) ([]groups.Group, error)
	Quota(ctx context.Context, requester string) (ratelimit.Quota, bool)
}

// Dispatcher queues a compute for a grouper worker.
type Dispatcher interface {
	Dispatch(p breakout.Params) error
}

// Check is a named readiness check, e.g. a database ping.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Handler holds the HTTP handlers.
type Handler struct {
	svc    Service
	checks []Check

	// TrustProxy takes the client address from X-Forwarded-For or
	// X-Real-IP. Only set it when every request arrives through a proxy
	// that overwrites those headers.
	TrustProxy bool
	// Dispatcher serves ?async=true computes; nil turns them away.
	Dispatcher Dispatcher
}

// NewHandler creates a Handler. checks run on every /readyz request.
func NewHandler(svc Service, checks ...Check) *Handler {
	return &Handler{svc: svc, checks: checks}
}

// HealthRouter serves only /healthz, /readyz and /metrics, for processes
// without the groups API such as the grouper worker.
func HealthRouter(checks ...Check) http.Handler {
	return (&Handler{checks: checks}).baseRouter()
}

// Router builds the chi router with the global middleware stack.
func (h *Handler) Router() http.Handler {
	r := h.baseRouter()

	r.Route("/api/v1/events/{eventID}/breakout-groups", func(r chi.Router) {
		r.Post("/", h.ComputeGroups)
		r.Get("/", h.FetchGroups)
	})

	return r
}

func (h *Handler) baseRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	if h.TrustProxy {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
	r.Handle("/metrics", metrics.Handler())

	return r
}

// requestLogger logs one line per request through zerolog.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		log := logging.Component("http")
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Dur("took", time.Since(start)).
			Msg("request")
	})
}
