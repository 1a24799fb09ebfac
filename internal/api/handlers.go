package api

import (
	"context"
	"errors"
	"io"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/whisper/breakout/internal/breakout"
	"github.com/whisper/breakout/internal/groups"
	"github.com/whisper/breakout/internal/metrics"
)

// maxBodyBytes caps compute request bodies.
const maxBodyBytes = 4 << 10

// ComputeRequest is the optional JSON body of a compute call. Omitted sizes
// use the server defaults.
type ComputeRequest struct {
	MinGroupSize *int `json:"min_group_size" validate:"omitempty,min=1,max=100"`
	MaxGroupSize *int `json:"max_group_size" validate:"omitempty,min=1,max=100"`
}

// GroupsResponse is returned by both compute and fetch.
type GroupsResponse struct {
	EventID string         `json:"event_id"`
	Groups  []groups.Group `json:"groups"`
}

// ComputeGroups handles POST /api/v1/events/{eventID}/breakout-groups.
func (h *Handler) ComputeGroups(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	var req ComputeRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, r, http.StatusBadRequest, "invalid_body", "request body is not valid JSON", eventID)
		return
	}
	if msg := validateRequest(&req); msg != "" {
		respondError(w, r, http.StatusBadRequest, "invalid_parameters", msg, eventID)
		return
	}

	async, err := queryBool(r, "async")
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid_parameters", "async must be a boolean", eventID)
		return
	}

	p := breakout.Params{EventID: eventID, RequestedBy: clientIP(r)}
	if req.MinGroupSize != nil {
		p.MinGroupSize = *req.MinGroupSize
	}
	if req.MaxGroupSize != nil {
		p.MaxGroupSize = *req.MaxGroupSize
	}

	if async {
		h.dispatch(w, r, p)
		return
	}

	stored, err := h.svc.Compute(r.Context(), p)
	h.setQuotaHeaders(w, r, p.RequestedBy)
	if err != nil {
		respondServiceError(w, r, err, eventID)
		return
	}
	respondJSON(w, http.StatusOK, GroupsResponse{EventID: eventID, Groups: stored})
}

// QueuedResponse acknowledges an async compute.
type QueuedResponse struct {
	EventID string `json:"event_id"`
	Status  string `json:"status"`
}

func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request, p breakout.Params) {
	if h.Dispatcher == nil {
		respondError(w, r, http.StatusServiceUnavailable, metrics.ResultUnavailable, "async compute is not enabled", p.EventID)
		return
	}
	if err := h.Dispatcher.Dispatch(p); err != nil {
		respondServiceError(w, r, err, p.EventID)
		return
	}
	h.setQuotaHeaders(w, r, p.RequestedBy)
	respondJSON(w, http.StatusAccepted, QueuedResponse{EventID: p.EventID, Status: "queued"})
}

// setQuotaHeaders advertises the requester's remaining compute allowance.
func (h *Handler) setQuotaHeaders(w http.ResponseWriter, r *http.Request, requester string) {
	q, ok := h.svc.Quota(r.Context(), requester)
	if !ok {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(q.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(q.Remaining))
	if q.Reset > 0 {
		w.Header().Set("X-RateLimit-Reset", strconv.Itoa(int(math.Ceil(q.Reset.Seconds()))))
	}
}

func queryBool(r *http.Request, key string) (bool, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return false, nil
	}
	return strconv.ParseBool(v)
}

// FetchGroups handles GET /api/v1/events/{eventID}/breakout-groups.
func (h *Handler) FetchGroups(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	stored, err := h.svc.Fetch(r.Context(), eventID)
	if err != nil {
		respondServiceError(w, r, err, eventID)
		return
	}
	respondJSON(w, http.StatusOK, GroupsResponse{EventID: eventID, Groups: stored})
}

// Healthz reports liveness.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz runs every readiness check and reports each result.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for _, c := range h.checks {
		if err := c.Fn(ctx); err != nil {
			status = http.StatusServiceUnavailable
			results[c.Name] = err.Error()
			continue
		}
		results[c.Name] = "ok"
	}
	respondJSON(w, status, results)
}

// clientIP is the rate limiting identity of an HTTP caller. Behind a
// trusted proxy RealIP has already replaced RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
