package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisper/breakout/internal/breakout"
	"github.com/whisper/breakout/internal/clustering"
	"github.com/whisper/breakout/internal/groups"
	"github.com/whisper/breakout/internal/ratelimit"
)

type fakeService struct {
	params     breakout.Params
	computeErr error
	fetchErr   error
	groups     []groups.Group
	quota      *ratelimit.Quota
}

func (f *fakeService) Compute(_ context.Context, p breakout.Params) ([]groups.Group, error) {
	f.params = p
	if f.computeErr != nil {
		return nil, f.computeErr
	}
	return f.groups, nil
}

func (f *fakeService) Fetch(_ context.Context, _ string) ([]groups.Group, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.groups, nil
}

func (f *fakeService) Quota(_ context.Context, requester string) (ratelimit.Quota, bool) {
	if f.quota == nil || requester == "" {
		return ratelimit.Quota{}, false
	}
	return *f.quota, true
}

type fakeDispatcher struct {
	params []breakout.Params
	err    error
}

func (f *fakeDispatcher) Dispatch(p breakout.Params) error {
	if f.err != nil {
		return f.err
	}
	f.params = append(f.params, p)
	return nil
}

func sampleGroups() []groups.Group {
	return []groups.Group{{
		ID:              "g1",
		EventID:         "ev1",
		Name:            "Yoga",
		SharedInterests: []string{"Yoga"},
		Members: []groups.Member{
			{UserID: "u1", DisplayName: "Ana"},
			{UserID: "u2", DisplayName: "Bo", AvatarRef: "avatars/bo.png"},
		},
	}}
}

func serve(t *testing.T, h *Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	req.RemoteAddr = "203.0.113.7:51234"
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestComputeGroups(t *testing.T) {
	svc := &fakeService{groups: sampleGroups()}
	h := NewHandler(svc)

	rec := serve(t, h, http.MethodPost, "/api/v1/events/ev1/breakout-groups", `{"min_group_size":3,"max_group_size":5}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, breakout.Params{EventID: "ev1", MinGroupSize: 3, MaxGroupSize: 5, RequestedBy: "203.0.113.7"}, svc.params)

	var resp GroupsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ev1", resp.EventID)
	require.Len(t, resp.Groups, 1)
	assert.Equal(t, "avatars/bo.png", resp.Groups[0].Members[1].AvatarRef)
}

func TestComputeGroups_EmptyBodyUsesDefaults(t *testing.T) {
	svc := &fakeService{groups: sampleGroups()}

	rec := serve(t, NewHandler(svc), http.MethodPost, "/api/v1/events/ev1/breakout-groups", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, svc.params.MinGroupSize)
	assert.Zero(t, svc.params.MaxGroupSize)
}

func TestComputeGroups_ProxyHeaders(t *testing.T) {
	tests := []struct {
		name       string
		trustProxy bool
		want       string
	}{
		{"ignored by default", false, "203.0.113.7"},
		{"honoured behind a trusted proxy", true, "198.51.100.4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{}
			h := NewHandler(svc)
			h.TrustProxy = tt.trustProxy

			req := httptest.NewRequest(http.MethodPost, "/api/v1/events/ev1/breakout-groups", nil)
			req.RemoteAddr = "203.0.113.7:51234"
			req.Header.Set("X-Real-IP", "198.51.100.4")
			req.Header.Set("X-Forwarded-For", "198.51.100.4")
			rec := httptest.NewRecorder()
			h.Router().ServeHTTP(rec, req)

			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.want, svc.params.RequestedBy)
		})
	}
}

func TestComputeGroups_RotatingHeadersShareOneIdentity(t *testing.T) {
	svc := &fakeService{}
	h := NewHandler(svc)

	seen := map[string]bool{}
	for _, spoofed := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/events/ev1/breakout-groups", nil)
		req.RemoteAddr = "203.0.113.7:51234"
		req.Header.Set("X-Forwarded-For", spoofed)
		h.Router().ServeHTTP(httptest.NewRecorder(), req)
		seen[svc.params.RequestedBy] = true
	}
	assert.Equal(t, map[string]bool{"203.0.113.7": true}, seen)
}

func TestComputeGroups_QuotaHeaders(t *testing.T) {
	svc := &fakeService{groups: sampleGroups(), quota: &ratelimit.Quota{Limit: 10, Remaining: 4, Reset: 1500 * time.Millisecond}}

	rec := serve(t, NewHandler(svc), http.MethodPost, "/api/v1/events/ev1/breakout-groups", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "10", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "4", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Reset"))

	svc.quota = &ratelimit.Quota{Limit: 10, Remaining: 0, Reset: 20 * time.Second}
	svc.computeErr = &breakout.Error{Kind: breakout.ErrRateLimited, EventID: "ev1"}
	rec = serve(t, NewHandler(svc), http.MethodPost, "/api/v1/events/ev1/breakout-groups", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	svc.quota = nil
	rec = serve(t, NewHandler(svc), http.MethodPost, "/api/v1/events/ev1/breakout-groups", "")
	assert.Empty(t, rec.Header().Get("X-RateLimit-Remaining"), "no header without a readable quota")
}

func TestComputeGroups_Async(t *testing.T) {
	svc := &fakeService{}
	d := &fakeDispatcher{}
	h := NewHandler(svc)
	h.Dispatcher = d

	rec := serve(t, h, http.MethodPost, "/api/v1/events/ev1/breakout-groups?async=true", `{"max_group_size":5}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"event_id":"ev1","status":"queued"}`, rec.Body.String())
	require.Len(t, d.params, 1)
	assert.Equal(t, breakout.Params{EventID: "ev1", MaxGroupSize: 5, RequestedBy: "203.0.113.7"}, d.params[0])
	assert.Empty(t, svc.params.EventID, "not computed in process")
}

func TestComputeGroups_AsyncErrors(t *testing.T) {
	rec := serve(t, NewHandler(&fakeService{}), http.MethodPost, "/api/v1/events/ev1/breakout-groups?async=true", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unavailable", decodeError(t, rec).Code)

	h := NewHandler(&fakeService{})
	h.Dispatcher = &fakeDispatcher{err: &breakout.Error{Kind: breakout.ErrUnavailable, EventID: "ev1"}}
	rec = serve(t, h, http.MethodPost, "/api/v1/events/ev1/breakout-groups?async=1", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))

	rec = serve(t, h, http.MethodPost, "/api/v1/events/ev1/breakout-groups?async=maybe", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestComputeGroups_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
		code string
	}{
		{"malformed json", `{"min_group_size":`, "invalid_body"},
		{"zero min", `{"min_group_size":0}`, "invalid_parameters"},
		{"huge max", `{"max_group_size":1000}`, "invalid_parameters"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{}
			rec := serve(t, NewHandler(svc), http.MethodPost, "/api/v1/events/ev1/breakout-groups", tt.body)

			require.Equal(t, http.StatusBadRequest, rec.Code)
			body := decodeError(t, rec)
			assert.Equal(t, tt.code, body.Code)
			assert.Equal(t, "ev1", body.EventID)
			assert.NotEmpty(t, body.RequestID)
			assert.Empty(t, svc.params.EventID, "service not called")
		})
	}
}

func TestComputeGroups_ValidationMessageUsesJSONName(t *testing.T) {
	rec := serve(t, NewHandler(&fakeService{}), http.MethodPost, "/api/v1/events/ev1/breakout-groups", `{"min_group_size":0}`)
	assert.Equal(t, "min_group_size must be at least 1", decodeError(t, rec).Message)
}

func TestComputeGroups_ErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{&breakout.Error{Kind: clustering.ErrInvalidParameters, EventID: "ev1"}, http.StatusBadRequest, "invalid_parameters"},
		{&breakout.Error{Kind: breakout.ErrNotFound, EventID: "ev1"}, http.StatusNotFound, "not_found"},
		{&breakout.Error{Kind: breakout.ErrBusy, EventID: "ev1"}, http.StatusConflict, "busy"},
		{&breakout.Error{Kind: breakout.ErrRateLimited, EventID: "ev1"}, http.StatusTooManyRequests, "rate_limited"},
		{&breakout.Error{Kind: breakout.ErrPersistence, EventID: "ev1"}, http.StatusServiceUnavailable, "persistence_failure"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			svc := &fakeService{computeErr: tt.err}
			rec := serve(t, NewHandler(svc), http.MethodPost, "/api/v1/events/ev1/breakout-groups", "")

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decodeError(t, rec).Code)
		})
	}
}

func TestComputeGroups_InternalErrorHidesDetail(t *testing.T) {
	svc := &fakeService{computeErr: errors.New("pq: secret detail")}
	rec := serve(t, NewHandler(svc), http.MethodPost, "/api/v1/events/ev1/breakout-groups", "")
	assert.Equal(t, "internal error", decodeError(t, rec).Message)
}

func TestFetchGroups(t *testing.T) {
	svc := &fakeService{groups: []groups.Group{}}
	rec := serve(t, NewHandler(svc), http.MethodGet, "/api/v1/events/ev2/breakout-groups", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"event_id":"ev2","groups":[]}`, rec.Body.String())
}

func TestFetchGroups_PersistenceFailure(t *testing.T) {
	svc := &fakeService{fetchErr: &breakout.Error{Kind: breakout.ErrPersistence, EventID: "ev2"}}
	rec := serve(t, NewHandler(svc), http.MethodGet, "/api/v1/events/ev2/breakout-groups", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthAndReadiness(t *testing.T) {
	healthy := Check{Name: "postgres", Fn: func(context.Context) error { return nil }}
	down := Check{Name: "redis", Fn: func(context.Context) error { return errors.New("connection refused") }}

	rec := serve(t, NewHandler(&fakeService{}), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(t, NewHandler(&fakeService{}, healthy), http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"postgres":"ok"}`, rec.Body.String())

	rec = serve(t, NewHandler(&fakeService{}, healthy, down), http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"postgres":"ok","redis":"connection refused"}`, rec.Body.String())
}

func TestHealthRouter(t *testing.T) {
	natsDown := Check{Name: "nats", Fn: func(context.Context) error { return errors.New("not connected") }}
	r := HealthRouter(natsDown)

	tests := []struct {
		path string
		want int
	}{
		{"/healthz", http.StatusOK},
		{"/readyz", http.StatusServiceUnavailable},
		{"/metrics", http.StatusOK},
		{"/api/v1/events/ev1/breakout-groups", http.StatusNotFound},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
		assert.Equal(t, tt.want, rec.Code, tt.path)
	}
}

func TestMetricsRoute(t *testing.T) {
	rec := serve(t, NewHandler(&fakeService{}), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestComputeGroups_RetryAfterOnBusy(t *testing.T) {
	svc := &fakeService{computeErr: &breakout.Error{Kind: breakout.ErrBusy, EventID: "ev1"}}
	rec := serve(t, NewHandler(svc), http.MethodPost, "/api/v1/events/ev1/breakout-groups", "")

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	assert.True(t, decodeError(t, rec).Retryable)

	svc.computeErr = &breakout.Error{Kind: breakout.ErrNotFound, EventID: "ev1"}
	rec = serve(t, NewHandler(svc), http.MethodPost, "/api/v1/events/ev1/breakout-groups", "")
	assert.Empty(t, rec.Header().Get("Retry-After"))
}
