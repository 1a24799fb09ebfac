package api

import (
	"errors"
	"net/http"
	"reflect"
	"strings"
	"sync"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/whisper/breakout/internal/breakout"
	"github.com/whisper/breakout/internal/logging"
	"github.com/whisper/breakout/internal/metrics"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	EventID   string `json:"event_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Component("http").Warn().Err(err).Msg("encode response")
	}
}

func respondError(w http.ResponseWriter, r *http.Request, status int, code, message, eventID string) {
	writeError(w, r, status, ErrorResponse{Code: code, Message: message, EventID: eventID})
}

func writeError(w http.ResponseWriter, r *http.Request, status int, body ErrorResponse) {
	body.RequestID = chimiddleware.GetReqID(r.Context())
	respondJSON(w, status, body)
}

// respondServiceError maps a breakout error kind to its HTTP status.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error, eventID string) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logging.Component("http").Error().Err(err).Str("event_id", eventID).Msg("unexpected service error")
		msg = "internal error"
	}
	body := ErrorResponse{
		Code:      breakout.Kind(err),
		Message:   msg,
		EventID:   eventID,
		Retryable: breakout.Retryable(err),
	}
	if body.Retryable {
		w.Header().Set("Retry-After", retryAfterSeconds)
	}
	writeError(w, r, status, body)
}

// retryAfterSeconds is advertised on retryable failures.
const retryAfterSeconds = "2"

func statusFor(err error) int {
	switch breakout.Kind(err) {
	case metrics.ResultInvalid:
		return http.StatusBadRequest
	case metrics.ResultNotFound:
		return http.StatusNotFound
	case metrics.ResultBusy:
		return http.StatusConflict
	case metrics.ResultRateLimited:
		return http.StatusTooManyRequests
	case metrics.ResultPersistence, metrics.ResultUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// validateRequest returns a client-facing message for the first failed
// constraint, or "" when v is valid.
func validateRequest(v any) string {
	err := getValidator().Struct(v)
	if err == nil {
		return ""
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "min":
		return fe.Field() + " must be at least " + fe.Param()
	case "max":
		return fe.Field() + " must be at most " + fe.Param()
	default:
		return fe.Field() + " is invalid"
	}
}
