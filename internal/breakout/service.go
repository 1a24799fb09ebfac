// Package breakout computes, persists and serves the breakout groups of an
// event. Service is the single entry point used by both the HTTP API and
// the NATS grouper worker.
package breakout

import (
	"context"
	"errors"
	"time"

	"github.com/whisper/breakout/internal/clustering"
	"github.com/whisper/breakout/internal/groups"
	"github.com/whisper/breakout/internal/lock"
	"github.com/whisper/breakout/internal/logging"
	"github.com/whisper/breakout/internal/messaging"
	"github.com/whisper/breakout/internal/metrics"
	"github.com/whisper/breakout/internal/ratelimit"
)

// AttendeeSource supplies the attendees of an event with resolved interests.
type AttendeeSource interface {
	ListAttendees(ctx context.Context, eventID string) ([]clustering.Attendee, error)
}

// GroupStore persists computed groups.
type GroupStore interface {
	Replace(ctx context.Context, eventID string, computed []clustering.Group) ([]groups.Group, error)
	List(ctx context.Context, eventID string) ([]groups.Group, error)
}

// Lease is a held per-event lock.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker serializes computes of the same event.
type Locker interface {
	Acquire(ctx context.Context, eventID string) (Lease, error)
}

// RateLimiter throttles compute requests per requester.
type RateLimiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
	Quota(ctx context.Context, identifier string, rule ratelimit.Rule) (ratelimit.Quota, error)
}

// Notifier announces replaced group sets.
type Notifier interface {
	PublishGroupsComputed(ev messaging.GroupsComputed) error
}

// Deps are the collaborators of a Service. Locker, Limiter and Notifier are
// optional.
type Deps struct {
	Attendees AttendeeSource
	Groups    GroupStore
	Locker    Locker
	Limiter   RateLimiter
	Notifier  Notifier
}

// Options tune a Service.
type Options struct {
	// MinGroupSize and MaxGroupSize apply when a request leaves them zero.
	MinGroupSize int
	MaxGroupSize int
	// ComputeTimeout bounds one Compute call; zero means no extra bound.
	ComputeTimeout time.Duration
	// RateRule is checked per Params.RequestedBy when a Limiter is set.
	RateRule ratelimit.Rule
}

// Params is one compute request.
type Params struct {
	EventID string
	// Zero sizes fall back to Options.
	MinGroupSize int
	MaxGroupSize int
	// RequestedBy identifies the requester for rate limiting. Empty skips
	// the limit.
	RequestedBy string
}

// Service computes and serves breakout groups.
type Service struct {
	deps Deps
	opts Options
	now  func() time.Time
}

// NewService creates a Service. Zero default sizes become the clustering
// defaults.
func NewService(deps Deps, opts Options) *Service {
	if opts.MinGroupSize == 0 {
		opts.MinGroupSize = clustering.DefaultMinSize
	}
	if opts.MaxGroupSize == 0 {
		opts.MaxGroupSize = clustering.DefaultMaxSize
	}
	return &Service{deps: deps, opts: opts, now: time.Now}
}

// Compute clusters the current attendees of p.EventID, replaces the event's
// stored groups with the result and returns the stored groups.
func (s *Service) Compute(ctx context.Context, p Params) (stored []groups.Group, err error) {
	log := logging.Component("breakout")
	start := time.Now()

	defer func() {
		kind := Kind(err)
		metrics.ComputeTotal.WithLabelValues(kind).Inc()
		metrics.ComputeDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			log.Warn().Err(err).Str("event_id", p.EventID).Str("kind", kind).
				Dur("took", time.Since(start)).Msg("compute failed")
		}
	}()

	req := clustering.Request{
		EventID: p.EventID,
		MinSize: p.MinGroupSize,
		MaxSize: p.MaxGroupSize,
	}
	if req.MinSize == 0 {
		req.MinSize = s.opts.MinGroupSize
	}
	if req.MaxSize == 0 {
		req.MaxSize = s.opts.MaxGroupSize
	}
	if p.EventID == "" {
		return nil, newError(ErrInvalidEvent, p.EventID, nil)
	}
	if err := req.Validate(); err != nil {
		return nil, newError(clustering.ErrInvalidParameters, p.EventID, err)
	}

	if s.opts.ComputeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.ComputeTimeout)
		defer cancel()
	}

	if err := s.checkRate(ctx, p); err != nil {
		return nil, err
	}

	release, err := s.acquire(ctx, p.EventID)
	if err != nil {
		return nil, err
	}
	defer release()

	req.Attendees, err = s.deps.Attendees.ListAttendees(ctx, p.EventID)
	if err != nil {
		return nil, newError(ErrPersistence, p.EventID, err)
	}
	if len(req.Attendees) == 0 {
		return nil, newError(ErrNotFound, p.EventID, nil)
	}

	result, err := clustering.Run(req)
	if err != nil {
		return nil, newError(clustering.ErrInvalidParameters, p.EventID, err)
	}

	stored, err = s.deps.Groups.Replace(ctx, p.EventID, result.Groups)
	if err != nil {
		metrics.PersistenceFailures.Inc()
		return nil, newError(ErrPersistence, p.EventID, err)
	}

	metrics.GroupsPerEvent.Observe(float64(len(result.Groups)))
	for _, g := range result.Groups {
		metrics.GroupSize.Observe(float64(len(g.Members)))
	}
	if result.Overflow > 0 {
		metrics.OverflowPlacements.Add(float64(result.Overflow))
		log.Info().Str("event_id", p.EventID).Int("overflow", result.Overflow).
			Int("max_size", req.MaxSize).Msg("leftovers placed past max size")
	}

	s.notify(p.EventID, len(stored))

	log.Info().
		Str("event_id", p.EventID).
		Int("attendees", len(req.Attendees)).
		Int("groups", len(stored)).
		Int("leftovers", result.Leftovers).
		Dur("took", time.Since(start)).
		Msg("groups computed")

	return stored, nil
}

// Fetch returns the stored groups of eventID, empty when none were computed.
func (s *Service) Fetch(ctx context.Context, eventID string) ([]groups.Group, error) {
	if eventID == "" {
		return nil, newError(ErrInvalidEvent, eventID, nil)
	}
	stored, err := s.deps.Groups.List(ctx, eventID)
	if err != nil {
		metrics.PersistenceFailures.Inc()
		return nil, newError(ErrPersistence, eventID, err)
	}
	return stored, nil
}

// Quota reports what is left of requester's compute allowance. ok is false
// when no limit applies or the limiter could not be read.
func (s *Service) Quota(ctx context.Context, requester string) (ratelimit.Quota, bool) {
	if s.deps.Limiter == nil || requester == "" {
		return ratelimit.Quota{}, false
	}
	q, err := s.deps.Limiter.Quota(ctx, requester, s.opts.RateRule)
	if err != nil {
		logging.Component("breakout").Debug().Err(err).Str("requester", requester).Msg("read rate quota")
		return ratelimit.Quota{}, false
	}
	return q, true
}

func (s *Service) checkRate(ctx context.Context, p Params) error {
	if s.deps.Limiter == nil || p.RequestedBy == "" {
		return nil
	}
	// Allow fails open and reports the Redis error alongside true.
	ok, _ := s.deps.Limiter.Allow(ctx, p.RequestedBy, s.opts.RateRule)
	if !ok {
		return newError(ErrRateLimited, p.EventID, nil)
	}
	return nil
}

// acquire takes the event lock and returns its release func. When the lock
// backend itself fails the compute proceeds unlocked; the transactional
// replace still keeps the stored set consistent.
func (s *Service) acquire(ctx context.Context, eventID string) (func(), error) {
	if s.deps.Locker == nil {
		return func() {}, nil
	}
	log := logging.Component("breakout")

	lease, err := s.deps.Locker.Acquire(ctx, eventID)
	switch {
	case errors.Is(err, lock.ErrHeld):
		return nil, newError(ErrBusy, eventID, err)
	case err != nil:
		log.Warn().Err(err).Str("event_id", eventID).Msg("lock unavailable, computing unlocked")
		return func() {}, nil
	}

	return func() {
		// The request context may already be done.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := lease.Release(rctx); err != nil {
			log.Warn().Err(err).Str("event_id", eventID).Msg("release lock")
		}
	}, nil
}

func (s *Service) notify(eventID string, count int) {
	if s.deps.Notifier == nil {
		return
	}
	ev := messaging.GroupsComputed{EventID: eventID, GroupCount: count, ComputedAt: s.now().UTC()}
	if err := s.deps.Notifier.PublishGroupsComputed(ev); err != nil {
		logging.Component("breakout").Warn().Err(err).Str("event_id", eventID).Msg("publish groups computed")
	}
}

// RedisLocker adapts a lock.Locker to Locker.
func RedisLocker(l *lock.Locker) Locker {
	return redisLocker{l}
}

type redisLocker struct{ l *lock.Locker }

func (r redisLocker) Acquire(ctx context.Context, eventID string) (Lease, error) {
	lease, err := r.l.Acquire(ctx, eventID)
	if err != nil {
		return nil, err
	}
	return lease, nil
}
