// Package mqtt carries session messages over an MQTT broker. The companion
// publishes to <prefix>/inbox and subscribes to <prefix>/outbox.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/srg/motionlink/internal/groutine"
	"github.com/srg/motionlink/internal/session"
	"github.com/srg/motionlink/internal/transport"
)

// Options configures the broker connection and topics.
type Options struct {
	Broker         string
	ClientID       string
	TopicPrefix    string
	QoS            byte
	MaxPayload     int
	InFlight       int
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		Broker:         "tcp://localhost:1883",
		ClientID:       "motionlink",
		TopicPrefix:    "motionlink",
		QoS:            1,
		MaxPayload:     1024,
		InFlight:       8,
		ConnectTimeout: 10 * time.Second,
		PublishTimeout: 5 * time.Second,
	}
}

func (o Options) InboxTopic() string { return o.TopicPrefix + "/inbox" }
func (o Options) OutboxTopic() string { return o.TopicPrefix + "/outbox" }

// ClientFactory builds the paho client. Tests substitute a fake.
type ClientFactory func(opts *paho.ClientOptions) paho.Client

// Transport implements session.Transport on a paho client.
type Transport struct {
	opts      Options
	logger    *logrus.Logger
	newClient ClientFactory

	mu         sync.RWMutex
	client     paho.Client
	events     session.Events
	maxPayload int

	ctx    context.Context
	cancel context.CancelFunc

	up       atomic.Bool
	closed   atomic.Bool
	inflight atomic.Int32
}

func New(opts Options, logger *logrus.Logger) *Transport {
	d := DefaultOptions()
	if opts.TopicPrefix == "" {
		opts.TopicPrefix = d.TopicPrefix
	}
	if opts.InFlight <= 0 {
		opts.InFlight = d.InFlight
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = d.ConnectTimeout
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = d.PublishTimeout
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Transport{opts: opts, logger: logger, newClient: paho.NewClient}
}

// WithClientFactory replaces paho.NewClient.
func (t *Transport) WithClientFactory(f ClientFactory) *Transport {
	t.newClient = f
	return t
}

// Open connects to the broker and waits for the first connection or ctx.
func (t *Transport) Open(ctx context.Context, capacity session.Capacity, events session.Events) error {
	if events == nil {
		return transport.ErrClosed
	}

	po := paho.NewClientOptions().
		AddBroker(t.opts.Broker).
		SetClientID(t.opts.ClientID).
		SetOrderMatters(false).
		SetAutoReconnect(true).
		SetConnectTimeout(t.opts.ConnectTimeout).
		SetOnConnectHandler(t.onConnect).
		SetConnectionLostHandler(t.onConnectionLost)

	client := t.newClient(po)

	t.mu.Lock()
	t.client = client
	t.events = events
	t.maxPayload = transport.ClampPayload(t.opts.MaxPayload, capacity.Outbox)
	t.ctx, t.cancel = context.WithCancel(context.Background())
	t.mu.Unlock()

	log := t.logger.WithFields(logrus.Fields{
		"broker": t.opts.Broker,
		"inbox":  t.opts.InboxTopic(),
		"outbox": t.opts.OutboxTopic(),
	})
	log.Debug("Connecting to MQTT broker")

	token := client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		t.cancel()
		client.Disconnect(0)
		return fmt.Errorf("connect to %s: %w", t.opts.Broker, ctx.Err())
	}
	if err := token.Error(); err != nil {
		t.cancel()
		return fmt.Errorf("connect to %s: %w", t.opts.Broker, err)
	}

	log.WithField("max_payload", t.MaxPayload()).Info("MQTT transport opened")
	return nil
}

func (t *Transport) onConnect(c paho.Client) {
	if t.closed.Load() {
		return
	}
	token := c.Subscribe(t.opts.InboxTopic(), t.opts.QoS, t.onMessage)
	if !token.WaitTimeout(t.opts.ConnectTimeout) {
		t.logger.WithField("topic", t.opts.InboxTopic()).Warn("Inbox subscription timed out")
		return
	}
	if err := token.Error(); err != nil {
		t.logger.WithError(err).WithField("topic", t.opts.InboxTopic()).Error("Failed to subscribe to inbox")
		return
	}
	t.setLinkUp(true)
}

func (t *Transport) onConnectionLost(_ paho.Client, err error) {
	t.logger.WithError(err).Warn("MQTT connection lost")
	t.setLinkUp(false)
}

func (t *Transport) onMessage(_ paho.Client, m paho.Message) {
	if t.closed.Load() {
		return
	}
	if ev := t.eventSink(); ev != nil {
		ev.Received(append([]byte(nil), m.Payload()...))
	}
}

func (t *Transport) setLinkUp(up bool) {
	if t.up.Swap(up) == up || t.closed.Load() {
		return
	}
	t.logger.WithField("up", up).Debug("MQTT link state changed")
	if ev := t.eventSink(); ev != nil {
		ev.LinkChanged(up)
	}
}

func (t *Transport) eventSink() session.Events {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.events
}

func (t *Transport) MaxPayload() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.maxPayload
}

func (t *Transport) LinkUp() bool { return !t.closed.Load() && t.up.Load() }

// Submit publishes payload to the outbox topic. The broker's verdict is
// reported asynchronously; a publish that is not confirmed within
// PublishTimeout is reported as ReasonSendTimeout.
func (t *Transport) Submit(payload []byte) error {
	switch {
	case t.closed.Load():
		return transport.ErrClosed
	case !t.up.Load():
		return transport.ErrNotConnected
	case len(payload) > t.MaxPayload():
		return transport.ErrTooLarge
	}
	if n := t.inflight.Add(1); int(n) > t.opts.InFlight {
		t.inflight.Add(-1)
		return transport.ErrBusy
	}

	t.mu.RLock()
	client, ctx := t.client, t.ctx
	t.mu.RUnlock()

	data := append([]byte(nil), payload...)
	token := client.Publish(t.opts.OutboxTopic(), t.opts.QoS, false, data)

	groutine.Go(ctx, "mqtt-publish", func(ctx context.Context) {
		defer t.inflight.Add(-1)

		timer := time.NewTimer(t.opts.PublishTimeout)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			t.fail(data, session.ReasonSendTimeout, nil)
		case <-token.Done():
			if err := token.Error(); err != nil {
				t.fail(data, reasonFor(err), err)
			}
		}
	})
	return nil
}

func (t *Transport) fail(payload []byte, reason session.FailureReason, err error) {
	if t.closed.Load() {
		return
	}
	t.logger.WithError(err).WithFields(logrus.Fields{
		"reason": reason.String(),
		"bytes":  len(payload),
	}).Debug("Publish failed")
	if ev := t.eventSink(); ev != nil {
		ev.Failed(payload, reason)
	}
}

func reasonFor(err error) session.FailureReason {
	if errors.Is(err, paho.ErrNotConnected) {
		return session.ReasonNotConnected
	}
	return session.ReasonUnknown
}

// Close unsubscribes and disconnects. It reports no further events.
func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	t.up.Store(false)

	t.mu.RLock()
	client, cancel := t.client, t.cancel
	t.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
	if client == nil {
		return nil
	}

	var err error
	if client.IsConnectionOpen() {
		token := client.Unsubscribe(t.opts.InboxTopic())
		if token.WaitTimeout(t.opts.PublishTimeout) {
			err = token.Error()
		}
	}
	client.Disconnect(250)
	t.logger.Debug("MQTT transport closed")
	if err != nil {
		return fmt.Errorf("unsubscribe %s: %w", t.opts.InboxTopic(), err)
	}
	return nil
}
