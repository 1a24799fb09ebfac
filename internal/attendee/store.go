// Package attendee reads the attendees of an event, with their interests
// resolved to names, from the application's PostgreSQL schema.
//
// Attendees are returned in RSVP order. That order is significant: the
// clustering engine uses it as its only tie-break, so the same snapshot
// always yields the same groups.
package attendee

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/whisper/breakout/internal/clustering"
)

// StatusGoing is the RSVP status that makes a user an attendee.
const StatusGoing = "going"

// Store reads attendee snapshots from PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a new attendee store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// listQuery compares event_id against the bare parameter so the planner
// can use an index on event_rsvps.event_id; the parameter takes the
// column's type.
const listQuery = `
	SELECT p.id::text,
	       COALESCE(p.display_name, ''),
	       COALESCE(p.avatar_url, ''),
	       COALESCE(array_agg(i.name ORDER BY ui.created_at, i.name)
	                FILTER (WHERE i.name IS NOT NULL), '{}')
	FROM event_rsvps r
	JOIN profiles p ON p.id = r.user_id
	LEFT JOIN user_interests ui ON ui.user_id = p.id
	LEFT JOIN interests i ON i.id = ui.interest_id
	WHERE r.event_id = $1
	  AND r.status = $2
	GROUP BY p.id, p.display_name, p.avatar_url, r.created_at
	ORDER BY r.created_at, p.id`

// ListAttendees returns everyone with a "going" RSVP for eventID. An event
// with no attendees (or no such event) yields an empty slice, not an error.
// So does an ID the event_id column cannot represent, such as a non-UUID
// against a uuid column.
func (s *Store) ListAttendees(ctx context.Context, eventID string) ([]clustering.Attendee, error) {
	rows, err := s.db.QueryContext(ctx, listQuery, eventID, StatusGoing)
	if isInvalidText(err) {
		return make([]clustering.Attendee, 0), nil
	}
	if err != nil {
		return nil, fmt.Errorf("attendee: list: %w", err)
	}
	defer rows.Close()

	attendees := make([]clustering.Attendee, 0)
	for rows.Next() {
		var (
			a         clustering.Attendee
			interests []string
		)
		if err := rows.Scan(&a.ID, &a.DisplayName, &a.AvatarRef, pq.Array(&interests)); err != nil {
			return nil, fmt.Errorf("attendee: scan: %w", err)
		}
		a.Interests = clustering.NormalizeInterests(interests)
		attendees = append(attendees, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("attendee: rows: %w", err)
	}
	return attendees, nil
}

// isInvalidText reports a 22P02 invalid_text_representation error, raised
// when the event ID does not parse as the column's type.
func isInvalidText(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "22P02"
}
