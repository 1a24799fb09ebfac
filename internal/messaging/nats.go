// Package messaging provides a NATS client wrapper for the breakout worker
// and API. It handles connection lifecycle, queue subscriptions for compute
// requests, and the notification subjects clients listen on.
package messaging

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/whisper/breakout/internal/logging"
)

// NATS subjects used by breakout services.
const (
	SubjectCompute       = "breakout.compute"
	SubjectComputed      = "breakout.computed" // + .<event_id>
	SubjectComputeResult = "breakout.result"   // + .<reply_to>
)

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "whisper-breakout",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready client.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	log := logging.Component("nats")

	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Info().Msg("connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Info().Str("url", nc.ConnectedUrl()).Msg("connected")

	return &NATSClient{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Subscribe registers a handler for the given subject and stores the
// subscription internally for later cleanup.
func (c *NATSClient) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}
	c.track(subject, sub)
	return nil
}

// QueueSubscribe is Subscribe with load balancing: each message goes to one
// member of the queue group.
func (c *NATSClient) QueueSubscribe(subject, queue string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.QueueSubscribe(subject, queue, handler)
	if err != nil {
		return fmt.Errorf("nats queue subscribe %s/%s: %w", subject, queue, err)
	}
	c.track(subject, sub)
	return nil
}

// SubscribeComputeRequests joins queue on breakout.compute and passes the
// decoded request to handler. Undecodable messages are logged and dropped.
func (c *NATSClient) SubscribeComputeRequests(queue string, handler func(ComputeRequest)) error {
	return c.QueueSubscribe(SubjectCompute, queue, func(msg *nats.Msg) {
		req, err := DecodeComputeRequest(msg.Data)
		if err != nil {
			logging.Component("nats").Warn().Err(err).Msg("dropping malformed compute request")
			return
		}
		handler(req)
	})
}

// PublishComputeRequest publishes req to breakout.compute.
func (c *NATSClient) PublishComputeRequest(req ComputeRequest) error {
	data, err := encode(req)
	if err != nil {
		return err
	}
	return c.Publish(SubjectCompute, data)
}

// PublishComputeResult publishes res to breakout.result.<replyTo>.
func (c *NATSClient) PublishComputeResult(replyTo string, res ComputeResult) error {
	data, err := encode(res)
	if err != nil {
		return err
	}
	return c.Publish(SubjectComputeResult+"."+replyTo, data)
}

// SubscribeComputeResults delivers decoded results published to
// breakout.result.<replyTo>. Undecodable messages are logged and dropped.
func (c *NATSClient) SubscribeComputeResults(replyTo string, handler func(ComputeResult)) error {
	return c.Subscribe(SubjectComputeResult+"."+replyTo, func(msg *nats.Msg) {
		res, err := decodeComputeResult(msg.Data)
		if err != nil {
			logging.Component("nats").Warn().Err(err).Str("subject", msg.Subject).Msg("dropping malformed compute result")
			return
		}
		handler(res)
	})
}

// PublishGroupsComputed announces a completed compute on
// breakout.computed.<event_id>.
func (c *NATSClient) PublishGroupsComputed(ev GroupsComputed) error {
	data, err := encode(ev)
	if err != nil {
		return err
	}
	return c.Publish(SubjectComputed+"."+ev.EventID, data)
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	log := logging.Component("nats")

	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Warn().Err(err).Str("subject", subject).Msg("drain subscription")
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Warn().Err(err).Msg("connection drain")
	}

	log.Info().Msg("client closed")
}

// Connected reports whether the connection is currently usable.
func (c *NATSClient) Connected() bool {
	return c.conn.IsConnected()
}

func (c *NATSClient) track(subject string, sub *nats.Subscription) {
	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()
}
