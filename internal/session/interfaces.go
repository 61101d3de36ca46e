package session

import (
	"context"

	"github.com/srg/motionlink/internal/protocol"
	"github.com/srg/motionlink/internal/samplebuf"
)

// Capacity declares the inbox and outbox buffer sizes requested from a
// transport when it is opened.
type Capacity struct {
	Inbox  int
	Outbox int
}

// DefaultCapacity matches the buffer sizes the companion application expects.
var DefaultCapacity = Capacity{Inbox: 3000, Outbox: 3000}

// Events receives asynchronous notifications from a transport. Calls may
// arrive on any goroutine.
type Events interface {
	Received(payload []byte)
	Failed(payload []byte, reason FailureReason)
	LinkChanged(up bool)
}

// Outbox is the part of a transport the session submits messages to.
type Outbox interface {
	// MaxPayload is the largest message, in bytes, the transport accepts.
	MaxPayload() int
	// Submit hands a serialized message to the transport. A nil error means
	// the message was accepted for delivery; delivery may still fail later
	// through Events.Failed. A non-nil error is a transient refusal.
	Submit(payload []byte) error
}

// Transport is a bidirectional, payload-limited message link.
type Transport interface {
	Outbox
	Open(ctx context.Context, capacity Capacity, events Events) error
	LinkUp() bool
	Close() error
}

// Sensor delivers batches of samples at a requested rate.
type Sensor interface {
	Subscribe(rate protocol.SamplingRate, batch int, fn func([]samplebuf.Sample)) error
	Unsubscribe() error
}

// Handler receives notifications destined for the host application.
type Handler interface {
	// InboxReceived is called with messages carrying no control key.
	InboxReceived(msg *protocol.Message)
	// DeliveryFailed is called after a failed delivery has been handled.
	DeliveryFailed(msg *protocol.Message, reason FailureReason)
	// SamplesReceived forwards every raw sensor batch.
	SamplesReceived(samples []samplebuf.Sample)
	LinkChanged(up bool)
	ConnectionChanged(connected bool)
	RecordingChanged(recording bool)
}

// HandlerFuncs adapts optional functions to Handler. Nil fields are skipped.
type HandlerFuncs struct {
	OnInbox      func(msg *protocol.Message)
	OnFailure    func(msg *protocol.Message, reason FailureReason)
	OnSamples    func(samples []samplebuf.Sample)
	OnLink       func(up bool)
	OnConnection func(connected bool)
	OnRecording  func(recording bool)
}

func (h HandlerFuncs) InboxReceived(msg *protocol.Message) {
	if h.OnInbox != nil {
		h.OnInbox(msg)
	}
}

func (h HandlerFuncs) DeliveryFailed(msg *protocol.Message, reason FailureReason) {
	if h.OnFailure != nil {
		h.OnFailure(msg, reason)
	}
}

func (h HandlerFuncs) SamplesReceived(samples []samplebuf.Sample) {
	if h.OnSamples != nil {
		h.OnSamples(samples)
	}
}

func (h HandlerFuncs) LinkChanged(up bool) {
	if h.OnLink != nil {
		h.OnLink(up)
	}
}

func (h HandlerFuncs) ConnectionChanged(connected bool) {
	if h.OnConnection != nil {
		h.OnConnection(connected)
	}
}

func (h HandlerFuncs) RecordingChanged(recording bool) {
	if h.OnRecording != nil {
		h.OnRecording(recording)
	}
}
