package breakout

import (
	"context"
	"sync"

	"github.com/whisper/breakout/internal/logging"
	"github.com/whisper/breakout/internal/messaging"
)

// Bus is the slice of the NATS client the worker needs.
type Bus interface {
	SubscribeComputeRequests(queue string, handler func(messaging.ComputeRequest)) error
	PublishComputeResult(replyTo string, res messaging.ComputeResult) error
}

// Worker consumes breakout.compute requests from a NATS queue group and
// runs them through a Service.
type Worker struct {
	svc   *Service
	bus   Bus
	queue string

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

// NewWorker creates a worker joining queue on bus.
func NewWorker(svc *Service, bus Bus, queue string) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{svc: svc, bus: bus, queue: queue, ctx: ctx, cancel: cancel}
}

// Start subscribes to compute requests.
func (w *Worker) Start() error {
	if err := w.bus.SubscribeComputeRequests(w.queue, w.handle); err != nil {
		return err
	}
	logging.Component("grouper").Info().Str("queue", w.queue).Msg("worker started")
	return nil
}

// Stop cancels in-flight computes and waits for their handlers to return.
func (w *Worker) Stop() {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()

	w.cancel()
	w.wg.Wait()
	logging.Component("grouper").Info().Msg("worker stopped")
}

func (w *Worker) handle(req messaging.ComputeRequest) {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.wg.Add(1)
	w.mu.Unlock()
	defer w.wg.Done()

	stored, err := w.svc.Compute(w.ctx, Params{
		EventID:      req.EventID,
		MinGroupSize: req.MinGroupSize,
		MaxGroupSize: req.MaxGroupSize,
		RequestedBy:  req.RequestedBy,
	})

	if req.ReplyTo == "" {
		return
	}

	res := messaging.ComputeResult{EventID: req.EventID, OK: err == nil, Groups: stored}
	if err != nil {
		res.ErrorKind = Kind(err)
		res.Message = err.Error()
		res.Retryable = Retryable(err)
	}
	if err := w.bus.PublishComputeResult(req.ReplyTo, res); err != nil {
		logging.Component("grouper").Warn().Err(err).
			Str("event_id", req.EventID).Str("reply_to", req.ReplyTo).Msg("publish compute result")
	}
}
