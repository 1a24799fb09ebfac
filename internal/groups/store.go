// Package groups provides PostgreSQL-backed storage for computed breakout
// groups. A compute run replaces every group of the event inside a single
// transaction, so readers see either the previous set or the new one and a
// failure part-way through leaves the previous set intact.
package groups

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/whisper/breakout/internal/clustering"
)

// Group is a persisted breakout group.
type Group struct {
	ID              string    `json:"id"`
	EventID         string    `json:"event_id"`
	Name            string    `json:"name"`
	SharedInterests []string  `json:"shared_interests"`
	CreatedAt       time.Time `json:"created_at"`
	Members         []Member  `json:"members"`
}

// Member is the profile snapshot stored with a group membership.
type Member struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	AvatarRef   string `json:"avatar_ref,omitempty"`
}

// Store manages breakout groups in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a new group store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Replace deletes every stored group of eventID and writes computed in its
// place, in order. All statements share one transaction.
func (s *Store) Replace(ctx context.Context, eventID string, computed []clustering.Group) ([]Group, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("groups: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	// Members go with their group through ON DELETE CASCADE.
	if _, err := tx.ExecContext(ctx, `DELETE FROM breakout_groups WHERE event_id = $1`, eventID); err != nil {
		return nil, fmt.Errorf("groups: delete previous: %w", err)
	}

	const insertGroup = `
		INSERT INTO breakout_groups (id, event_id, position, name, shared_interests)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`

	const insertMembers = `
		INSERT INTO breakout_group_members (group_id, position, user_id, display_name, avatar_ref)
		SELECT $1::uuid, m.ord, m.user_id, m.display_name, m.avatar_ref
		FROM unnest($2::text[], $3::text[], $4::text[])
		     WITH ORDINALITY AS m(user_id, display_name, avatar_ref, ord)`

	out := make([]Group, 0, len(computed))
	for i, cg := range computed {
		g := Group{
			ID:              uuid.New().String(),
			EventID:         eventID,
			Name:            cg.Name,
			SharedInterests: nonNil(cg.SharedInterests),
			Members:         make([]Member, len(cg.Members)),
		}

		err := tx.QueryRowContext(ctx, insertGroup,
			g.ID, eventID, i+1, g.Name, pq.Array(g.SharedInterests),
		).Scan(&g.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("groups: insert group %d: %w", i+1, err)
		}

		userIDs := make([]string, len(cg.Members))
		names := make([]string, len(cg.Members))
		avatars := make([]string, len(cg.Members))
		for j, a := range cg.Members {
			g.Members[j] = Member{UserID: a.ID, DisplayName: a.DisplayName, AvatarRef: a.AvatarRef}
			userIDs[j], names[j], avatars[j] = a.ID, a.DisplayName, a.AvatarRef
		}

		if _, err := tx.ExecContext(ctx, insertMembers,
			g.ID, pq.Array(userIDs), pq.Array(names), pq.Array(avatars),
		); err != nil {
			return nil, fmt.Errorf("groups: insert members of group %d: %w", i+1, err)
		}

		out = append(out, g)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("groups: commit: %w", err)
	}
	return out, nil
}

// List returns the stored groups of eventID in position order, each with
// its members in assignment order. No groups yields an empty slice.
func (s *Store) List(ctx context.Context, eventID string) ([]Group, error) {
	const query = `
		SELECT g.id::text, g.event_id, g.name, g.shared_interests, g.created_at,
		       m.user_id, m.display_name, m.avatar_ref
		FROM breakout_groups g
		LEFT JOIN breakout_group_members m ON m.group_id = g.id
		WHERE g.event_id = $1
		ORDER BY g.position, m.position`

	rows, err := s.db.QueryContext(ctx, query, eventID)
	if err != nil {
		return nil, fmt.Errorf("groups: list: %w", err)
	}
	defer rows.Close()

	out := make([]Group, 0)
	for rows.Next() {
		var (
			g                       Group
			shared                  []string
			userID, name, avatarRef sql.NullString
		)
		if err := rows.Scan(&g.ID, &g.EventID, &g.Name, pq.Array(&shared), &g.CreatedAt,
			&userID, &name, &avatarRef); err != nil {
			return nil, fmt.Errorf("groups: scan: %w", err)
		}

		if n := len(out); n == 0 || out[n-1].ID != g.ID {
			g.SharedInterests = nonNil(shared)
			g.Members = make([]Member, 0)
			out = append(out, g)
		}
		if userID.Valid {
			last := &out[len(out)-1]
			last.Members = append(last.Members, Member{
				UserID:      userID.String,
				DisplayName: name.String,
				AvatarRef:   avatarRef.String,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("groups: rows: %w", err)
	}
	return out, nil
}

// Retryable reports whether err is a PostgreSQL failure worth retrying the
// whole request for: connection loss, serialization conflicts, deadlocks,
// or the server shutting down.
func Retryable(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return errors.Is(err, sql.ErrConnDone) || errors.Is(err, context.DeadlineExceeded)
	}
	switch pqErr.Code.Class() {
	case "08", "40", "53", "57":
		return true
	}
	return false
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
