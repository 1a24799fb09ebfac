package breakout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/whisper/breakout/internal/clustering"
	"github.com/whisper/breakout/internal/groups"
	"github.com/whisper/breakout/internal/lock"
	"github.com/whisper/breakout/internal/messaging"
	"github.com/whisper/breakout/internal/ratelimit"
)

type fakeSource struct {
	attendees map[string][]clustering.Attendee
	err       error
	calls     int
}

func (f *fakeSource) ListAttendees(_ context.Context, eventID string) ([]clustering.Attendee, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.attendees[eventID], nil
}

type fakeStore struct {
	mu         sync.Mutex
	stored     map[string][]groups.Group
	replaceErr error
	listErr    error
	replaces   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{stored: make(map[string][]groups.Group)}
}

func (f *fakeStore) Replace(_ context.Context, eventID string, computed []clustering.Group) ([]groups.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replaces++
	if f.replaceErr != nil {
		return nil, f.replaceErr
	}
	out := make([]groups.Group, len(computed))
	for i, cg := range computed {
		g := groups.Group{
			ID:              fmt.Sprintf("%s-g%d", eventID, i+1),
			EventID:         eventID,
			Name:            cg.Name,
			SharedInterests: cg.SharedInterests,
			CreatedAt:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		}
		for _, m := range cg.Members {
			g.Members = append(g.Members, groups.Member{UserID: m.ID, DisplayName: m.DisplayName, AvatarRef: m.AvatarRef})
		}
		out[i] = g
	}
	f.stored[eventID] = out
	return out, nil
}

func (f *fakeStore) List(_ context.Context, eventID string) ([]groups.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	if g, ok := f.stored[eventID]; ok {
		return g, nil
	}
	return []groups.Group{}, nil
}

type fakeLease struct{ released *int }

func (l fakeLease) Release(context.Context) error {
	*l.released++
	return nil
}

type fakeLocker struct {
	held     map[string]bool
	err      error
	released int
}

func (f *fakeLocker) Acquire(_ context.Context, eventID string) (Lease, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.held[eventID] {
		return nil, lock.ErrHeld
	}
	return fakeLease{released: &f.released}, nil
}

type fakeLimiter struct {
	allow    bool
	seen     []string
	quota    ratelimit.Quota
	quotaErr error
}

func (f *fakeLimiter) Allow(_ context.Context, identifier string, _ ratelimit.Rule) (bool, error) {
	f.seen = append(f.seen, identifier)
	return f.allow, nil
}

func (f *fakeLimiter) Quota(_ context.Context, _ string, rule ratelimit.Rule) (ratelimit.Quota, error) {
	if f.quotaErr != nil {
		return ratelimit.Quota{}, f.quotaErr
	}
	q := f.quota
	q.Limit = rule.Limit
	return q, nil
}

type fakeNotifier struct {
	events []messaging.GroupsComputed
	err    error
}

func (f *fakeNotifier) PublishGroupsComputed(ev messaging.GroupsComputed) error {
	f.events = append(f.events, ev)
	return f.err
}

type fakeBus struct {
	queue   string
	handler func(messaging.ComputeRequest)
	results map[string]messaging.ComputeResult
}

func (f *fakeBus) SubscribeComputeRequests(queue string, handler func(messaging.ComputeRequest)) error {
	f.queue = queue
	f.handler = handler
	return nil
}

func (f *fakeBus) PublishComputeResult(replyTo string, res messaging.ComputeResult) error {
	if f.results == nil {
		f.results = make(map[string]messaging.ComputeResult)
	}
	f.results[replyTo] = res
	return nil
}

func person(id string, interests ...string) clustering.Attendee {
	return clustering.Attendee{ID: id, DisplayName: "User " + id, Interests: interests}
}

// yogaEvent is ten attendees: eight into Yoga, two into Coding only.
func yogaEvent() []clustering.Attendee {
	var out []clustering.Attendee
	for i := 1; i <= 8; i++ {
		out = append(out, person(fmt.Sprintf("y%d", i), "Yoga"))
	}
	out = append(out, person("c1", "Coding"), person("c2", "Coding"))
	return out
}
