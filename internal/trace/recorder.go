// Package trace keeps a bounded history of the messages crossing a
// transport. The newest entries win when the history is full.
package trace

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"

	"github.com/srg/motionlink/internal/protocol"
	"github.com/srg/motionlink/internal/samplebuf"
	"github.com/srg/motionlink/internal/session"
)

const DefaultCapacity = 256

// Kind tells which way an entry went and how it ended.
type Kind int

const (
	Submitted Kind = iota // accepted by the transport
	Refused               // refused synchronously by Submit
	Received              // inbound from the peer
	Failed                // reported undelivered after acceptance
)

var kindNames = [...]string{"submitted", "refused", "received", "failed"}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// Entry summarizes one message.
type Entry struct {
	At      time.Time
	Kind    Kind
	Bytes   int
	Keys    []protocol.Key
	Resend  int // -1 unless the message carries RESEND
	Samples int
	Reason  session.FailureReason
}

func (e Entry) String() string {
	keys := make([]string, len(e.Keys))
	for i, k := range e.Keys {
		keys[i] = k.String()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-9s %4dB %s", e.At.Format("15:04:05.000"), e.Kind, e.Bytes, strings.Join(keys, ","))
	if e.Samples > 0 {
		fmt.Fprintf(&b, " samples=%d", e.Samples)
	}
	if e.Resend >= 0 {
		fmt.Fprintf(&b, " resend=%d", e.Resend)
	}
	if e.Kind == Failed {
		fmt.Fprintf(&b, " reason=%s", e.Reason)
	}
	return b.String()
}

// Recorder wraps a transport and records every message passing through it.
type Recorder struct {
	session.Transport

	ring        mpmc.RichOverlappedRingBuffer[Entry]
	overwritten atomic.Uint64
	now         func() time.Time
	logger      *logrus.Logger
}

// Wrap decorates t. The history holds capacity rounded up to a power of
// two, minus one, entries.
func Wrap(t session.Transport, capacity uint32, logger *logrus.Logger) *Recorder {
	if capacity == 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Recorder{
		Transport: t,
		ring:      mpmc.NewOverlappedRingBuffer[Entry](capacity),
		now:       time.Now,
		logger:    logger,
	}
}

func (r *Recorder) Open(ctx context.Context, capacity session.Capacity, events session.Events) error {
	if events == nil {
		return r.Transport.Open(ctx, capacity, nil)
	}
	return r.Transport.Open(ctx, capacity, recordingEvents{r: r, next: events})
}

func (r *Recorder) Submit(payload []byte) error {
	err := r.Transport.Submit(payload)
	kind := Submitted
	if err != nil {
		kind = Refused
	}
	r.record(kind, payload, session.ReasonUnknown)
	return err
}

func (r *Recorder) record(kind Kind, payload []byte, reason session.FailureReason) {
	e := Entry{
		At:     r.now(),
		Kind:   kind,
		Bytes:  len(payload),
		Resend: -1,
		Reason: reason,
	}
	if msg, err := protocol.Decode(payload); err == nil {
		e.Keys = msg.Keys()
		if t, ok := msg.Get(protocol.KeyResend); ok {
			e.Resend = int(t.Uint())
		}
		if t, ok := msg.Get(protocol.KeySensorData); ok {
			e.Samples = len(t.Value) / samplebuf.SampleSize
		}
	}

	n, err := r.ring.EnqueueM(e)
	if err != nil {
		r.logger.WithError(err).Debug("Trace entry dropped")
		return
	}
	r.overwritten.Add(uint64(n))
}

// Drain removes and returns the recorded entries, oldest first.
func (r *Recorder) Drain() []Entry {
	var out []Entry
	for !r.ring.IsEmpty() {
		e, err := r.ring.Dequeue()
		if err != nil {
			break
		}
		out = append(out, e)
	}
	return out
}

// Len is the number of entries currently held.
func (r *Recorder) Len() int { return int(r.ring.Size()) }

// Overwritten counts entries lost to newer ones.
func (r *Recorder) Overwritten() uint64 { return r.overwritten.Load() }

type recordingEvents struct {
	r    *Recorder
	next session.Events
}

func (ev recordingEvents) Received(payload []byte) {
	ev.r.record(Received, payload, session.ReasonUnknown)
	ev.next.Received(payload)
}

func (ev recordingEvents) Failed(payload []byte, reason session.FailureReason) {
	ev.r.record(Failed, payload, reason)
	ev.next.Failed(payload, reason)
}

func (ev recordingEvents) LinkChanged(up bool) {
	ev.next.LinkChanged(up)
}
