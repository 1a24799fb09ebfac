package breakout

import (
	"github.com/google/uuid"

	"github.com/whisper/breakout/internal/clustering"
	"github.com/whisper/breakout/internal/logging"
	"github.com/whisper/breakout/internal/messaging"
)

// Queue is the slice of the NATS client a Dispatcher needs.
type Queue interface {
	PublishComputeRequest(req messaging.ComputeRequest) error
	SubscribeComputeResults(replyTo string, handler func(messaging.ComputeResult)) error
}

// Dispatcher hands compute requests to grouper workers over NATS instead of
// computing in process. Outcomes come back on a reply subject private to
// this Dispatcher and are logged.
type Dispatcher struct {
	queue   Queue
	replyTo string
}

// NewDispatcher creates a Dispatcher whose reply subject is derived from
// name and a random suffix, so replicas do not see each other's results.
func NewDispatcher(queue Queue, name string) *Dispatcher {
	return &Dispatcher{queue: queue, replyTo: name + "-" + uuid.NewString()}
}

// Start subscribes to this Dispatcher's results.
func (d *Dispatcher) Start() error {
	if err := d.queue.SubscribeComputeResults(d.replyTo, d.handleResult); err != nil {
		return err
	}
	logging.Component("dispatch").Info().Str("reply_to", d.replyTo).Msg("dispatcher started")
	return nil
}

// Dispatch validates p and queues it. Zero sizes are left for the worker to
// default. Only the event ID and the relation between explicit sizes are
// checked here; everything else is the worker's to decide.
func (d *Dispatcher) Dispatch(p Params) error {
	if p.EventID == "" {
		return newError(ErrInvalidEvent, p.EventID, nil)
	}
	if p.MinGroupSize < 0 || p.MaxGroupSize < 0 {
		return newError(clustering.ErrInvalidParameters, p.EventID, nil)
	}
	if p.MinGroupSize > 0 && p.MaxGroupSize > 0 {
		req := clustering.Request{MinSize: p.MinGroupSize, MaxSize: p.MaxGroupSize}
		if err := req.Validate(); err != nil {
			return newError(clustering.ErrInvalidParameters, p.EventID, err)
		}
	}

	err := d.queue.PublishComputeRequest(messaging.ComputeRequest{
		EventID:      p.EventID,
		MinGroupSize: p.MinGroupSize,
		MaxGroupSize: p.MaxGroupSize,
		RequestedBy:  p.RequestedBy,
		ReplyTo:      d.replyTo,
	})
	if err != nil {
		return newError(ErrUnavailable, p.EventID, err)
	}
	return nil
}

func (d *Dispatcher) handleResult(res messaging.ComputeResult) {
	log := logging.Component("dispatch")
	if !res.OK {
		log.Warn().
			Str("event_id", res.EventID).
			Str("kind", res.ErrorKind).
			Bool("retryable", res.Retryable).
			Str("message", res.Message).
			Msg("queued compute failed")
		return
	}
	log.Info().Str("event_id", res.EventID).Int("groups", len(res.Groups)).Msg("queued compute finished")
}
