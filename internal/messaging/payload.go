package messaging

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/whisper/breakout/internal/groups"
)

// ComputeRequest asks a grouper worker to compute an event's groups. Zero
// sizes mean the configured defaults.
type ComputeRequest struct {
	EventID      string `json:"event_id"`
	MinGroupSize int    `json:"min_group_size,omitempty"`
	MaxGroupSize int    `json:"max_group_size,omitempty"`
	RequestedBy  string `json:"requested_by,omitempty"`
	// ReplyTo, when set, names the breakout.result.<reply_to> subject the
	// outcome is published on.
	ReplyTo string `json:"reply_to,omitempty"`
}

// ComputeResult is the outcome of a ComputeRequest.
type ComputeResult struct {
	EventID   string         `json:"event_id"`
	OK        bool           `json:"ok"`
	ErrorKind string         `json:"error_kind,omitempty"`
	Message   string         `json:"message,omitempty"`
	Retryable bool           `json:"retryable,omitempty"`
	Groups    []groups.Group `json:"groups,omitempty"`
}

// GroupsComputed tells subscribers an event's groups were replaced.
type GroupsComputed struct {
	EventID    string    `json:"event_id"`
	GroupCount int       `json:"group_count"`
	ComputedAt time.Time `json:"computed_at"`
}

var errMissingEventID = errors.New("messaging: compute request without event_id")

// DecodeComputeRequest parses a breakout.compute payload.
func DecodeComputeRequest(data []byte) (ComputeRequest, error) {
	var req ComputeRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return ComputeRequest{}, fmt.Errorf("messaging: decode compute request: %w", err)
	}
	if req.EventID == "" {
		return ComputeRequest{}, errMissingEventID
	}
	return req, nil
}

func decodeComputeResult(data []byte) (ComputeResult, error) {
	var res ComputeResult
	if err := json.Unmarshal(data, &res); err != nil {
		return ComputeResult{}, fmt.Errorf("messaging: decode compute result: %w", err)
	}
	return res, nil
}

func encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("messaging: encode %T: %w", v, err)
	}
	return data, nil
}
