// Package clustering partitions the attendees of one event into small
// breakout groups with high shared-interest cohesion. It is a pure,
// synchronous engine: callers hand it an attendee snapshot and receive the
// labeled groups. Fetching attendees and persisting groups live elsewhere.
package clustering

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// DefaultMinSize is the smallest group the builder aims for.
	DefaultMinSize = 4
	// DefaultMaxSize is the group size ceiling during greedy growth.
	DefaultMaxSize = 6

	// MaxSharedInterests caps how many interests label a group.
	MaxSharedInterests = 3
	// nameInterests is how many shared interests appear in a group name.
	nameInterests = 2
)

// ErrInvalidParameters is returned when the size bounds are unusable.
var ErrInvalidParameters = errors.New("invalid clustering parameters")

// Attendee is one person RSVPed to the event. Interests are deduplicated,
// case-sensitive tags in the order the attendee source resolved them; that
// order is the tie-break for labeling.
type Attendee struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"display_name"`
	AvatarRef   string   `json:"avatar_ref,omitempty"`
	Interests   []string `json:"interests"`
}

// Group is one breakout group. Members are kept in assignment order.
type Group struct {
	Members         []Attendee `json:"members"`
	SharedInterests []string   `json:"shared_interests"`
	Name            string     `json:"name"`
}

// Request is the input of a single clustering run.
type Request struct {
	EventID   string
	Attendees []Attendee
	MinSize   int
	MaxSize   int
}

// Validate checks 1 <= MinSize <= MaxSize.
func (r Request) Validate() error {
	if r.MinSize < 1 {
		return fmt.Errorf("%w: min size %d is below 1", ErrInvalidParameters, r.MinSize)
	}
	if r.MaxSize < r.MinSize {
		return fmt.Errorf("%w: max size %d is below min size %d", ErrInvalidParameters, r.MaxSize, r.MinSize)
	}
	return nil
}

// NormalizeInterests trims tags, drops empty ones, and removes duplicates
// keeping the first occurrence. Comparison stays case-sensitive.
func NormalizeInterests(interests []string) []string {
	out := make([]string, 0, len(interests))
	seen := make(map[string]struct{}, len(interests))
	for _, tag := range interests {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}
