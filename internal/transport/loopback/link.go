// Package loopback is an in-process transport. The device side implements
// session.Transport; the peer side (Frames, Ack, Fail, Deliver, SetLinkUp)
// lets tests and the simulator play the companion application.
package loopback

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/srg/motionlink/internal/session"
	"github.com/srg/motionlink/internal/transport"
)

// Options configures a Link.
type Options struct {
	MaxPayload   int
	InFlight     int
	LinkUpOnOpen bool
}

func DefaultOptions() Options {
	return Options{
		MaxPayload:   512,
		InFlight:     4,
		LinkUpOnOpen: true,
	}
}

// Frame is one submitted message awaiting the peer's verdict.
type Frame struct {
	Seq     uint64
	Payload []byte
}

// Link connects a device-side engine to an in-process peer.
type Link struct {
	opts   Options
	logger *logrus.Logger

	mu         sync.RWMutex
	events     session.Events
	maxPayload int

	inflight *hashmap.Map[uint64, []byte]
	frames   chan Frame
	seq      atomic.Uint64
	up       atomic.Bool
	open     atomic.Bool
}

func New(opts Options, logger *logrus.Logger) *Link {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.InFlight <= 0 {
		opts.InFlight = DefaultOptions().InFlight
	}
	return &Link{
		opts:     opts,
		logger:   logger,
		inflight: hashmap.New[uint64, []byte](),
		frames:   make(chan Frame, opts.InFlight),
	}
}

func (l *Link) Open(_ context.Context, capacity session.Capacity, events session.Events) error {
	if events == nil {
		return transport.ErrClosed
	}
	l.mu.Lock()
	l.events = events
	l.maxPayload = transport.ClampPayload(l.opts.MaxPayload, capacity.Outbox)
	l.mu.Unlock()
	l.open.Store(true)

	l.logger.WithFields(logrus.Fields{
		"max_payload": l.MaxPayload(),
		"in_flight":   l.opts.InFlight,
	}).Debug("Loopback link opened")

	if l.opts.LinkUpOnOpen {
		l.SetLinkUp(true)
	}
	return nil
}

func (l *Link) MaxPayload() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.maxPayload
}

func (l *Link) LinkUp() bool { return l.open.Load() && l.up.Load() }

func (l *Link) Submit(payload []byte) error {
	switch {
	case !l.open.Load():
		return transport.ErrClosed
	case !l.up.Load():
		return transport.ErrNotConnected
	case len(payload) > l.MaxPayload():
		return transport.ErrTooLarge
	case l.inflight.Len() >= l.opts.InFlight:
		return transport.ErrBusy
	}

	seq := l.seq.Add(1)
	data := append([]byte(nil), payload...)
	l.inflight.Set(seq, data)

	select {
	case l.frames <- Frame{Seq: seq, Payload: data}:
		return nil
	default:
		l.inflight.Del(seq)
		return transport.ErrBusy
	}
}

func (l *Link) Close() error {
	if !l.open.Swap(false) {
		return nil
	}
	l.up.Store(false)
	l.logger.Debug("Loopback link closed")
	return nil
}

func (l *Link) eventSink() session.Events {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.events
}

// Frames delivers submitted messages to the peer.
func (l *Link) Frames() <-chan Frame { return l.frames }

// InFlight is the number of frames without a verdict.
func (l *Link) InFlight() int { return l.inflight.Len() }

// Ack marks seq delivered.
func (l *Link) Ack(seq uint64) bool {
	return l.inflight.Del(seq)
}

// Fail reports seq undelivered to the device with reason.
func (l *Link) Fail(seq uint64, reason session.FailureReason) bool {
	payload, ok := l.inflight.Get(seq)
	if !ok || !l.inflight.Del(seq) {
		return false
	}
	if ev := l.eventSink(); ev != nil {
		ev.Failed(payload, reason)
	}
	return true
}

// Deliver sends payload from the peer to the device.
func (l *Link) Deliver(payload []byte) error {
	if !l.LinkUp() {
		return transport.ErrNotConnected
	}
	if ev := l.eventSink(); ev != nil {
		ev.Received(append([]byte(nil), payload...))
	}
	return nil
}

// SetLinkUp changes the physical link state. Taking the link down fails
// every in-flight frame with ReasonNotConnected.
func (l *Link) SetLinkUp(up bool) {
	if !l.open.Load() || l.up.Swap(up) == up {
		return
	}
	ev := l.eventSink()

	if !up {
		var pending []uint64
		l.inflight.Range(func(seq uint64, _ []byte) bool {
			pending = append(pending, seq)
			return true
		})
		for _, seq := range pending {
			l.Fail(seq, session.ReasonNotConnected)
		}
	}

	l.logger.WithField("up", up).Debug("Loopback link state changed")
	if ev != nil {
		ev.LinkChanged(up)
	}
}
