// Package lock provides a Redis-backed mutual exclusion lock keyed by event,
// so at most one breakout compute per event is in flight across every API
// and worker process. Lock records are plain keys with a TTL:
//
//	Key:   lock:breakout:<event_id>
//	Value: <random token of the holder>
//	TTL:   lock TTL
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// KeyPrefix is the Redis key prefix for compute locks.
const KeyPrefix = "lock:breakout:"

// ErrHeld is returned when another holder owns the lock.
var ErrHeld = errors.New("lock: held by another compute")

// Locker hands out per-event locks.
type Locker struct {
	client        *redis.Client
	ttl           time.Duration
	releaseScript *redis.Script
}

// Lease is a held lock. Release it exactly once.
type Lease struct {
	locker *Locker
	key    string
	token  string
}

// NewLocker creates a Locker whose locks expire after ttl if never
// released, e.g. when the holder crashes.
func NewLocker(client *redis.Client, ttl time.Duration) *Locker {
	return &Locker{
		client:        client,
		ttl:           ttl,
		releaseScript: redis.NewScript(releaseLua),
	}
}

// Acquire takes the lock for eventID or returns ErrHeld.
func (l *Locker) Acquire(ctx context.Context, eventID string) (*Lease, error) {
	key := KeyPrefix + eventID
	token := uuid.New().String()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("lock: acquire %s: %w", eventID, err)
	}
	if !ok {
		return nil, ErrHeld
	}
	return &Lease{locker: l, key: key, token: token}, nil
}

// Release frees the lock if this lease still owns it. A lease that already
// expired and was taken by someone else is left alone.
func (ls *Lease) Release(ctx context.Context) error {
	_, err := ls.locker.releaseScript.Run(ctx, ls.locker.client, []string{ls.key}, ls.token).Int()
	if err != nil {
		return fmt.Errorf("lock: release: %w", err)
	}
	return nil
}

// releaseLua deletes the key only when it still holds our token.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`
