package session_test

import (
	"errors"
	"time"

	"github.com/srg/motionlink/internal/protocol"
	"github.com/srg/motionlink/internal/samplebuf"
	"github.com/srg/motionlink/internal/session"
)

var errRefused = errors.New("outbox busy")

// fakeOutbox records accepted payloads and can refuse submits.
type fakeOutbox struct {
	maxPayload int
	refuse     bool
	accepted   [][]byte
	refused    int
}

func (o *fakeOutbox) MaxPayload() int { return o.maxPayload }

func (o *fakeOutbox) Submit(payload []byte) error {
	if o.refuse {
		o.refused++
		return errRefused
	}
	o.accepted = append(o.accepted, append([]byte(nil), payload...))
	return nil
}

// messages decodes every accepted payload.
func (o *fakeOutbox) messages() []*protocol.Message {
	out := make([]*protocol.Message, 0, len(o.accepted))
	for _, p := range o.accepted {
		m, err := protocol.Decode(p)
		if err != nil {
			panic(err)
		}
		out = append(out, m)
	}
	return out
}

func (o *fakeOutbox) last() *protocol.Message {
	msgs := o.messages()
	if len(msgs) == 0 {
		return nil
	}
	return msgs[len(msgs)-1]
}

func (o *fakeOutbox) reset() {
	o.accepted = nil
	o.refused = 0
}

type fakeSensor struct {
	subscribeErr error
	subscribed   bool
	subscribes   int
	unsubscribes int
	rate         protocol.SamplingRate
	batch        int
	sink         func([]samplebuf.Sample)
}

func (s *fakeSensor) Subscribe(rate protocol.SamplingRate, batch int, fn func([]samplebuf.Sample)) error {
	if s.subscribeErr != nil {
		return s.subscribeErr
	}
	s.subscribed = true
	s.subscribes++
	s.rate = rate
	s.batch = batch
	s.sink = fn
	return nil
}

func (s *fakeSensor) Unsubscribe() error {
	s.subscribed = false
	s.unsubscribes++
	return nil
}

type failureEvent struct {
	msg    *protocol.Message
	reason session.FailureReason
}

// recorder captures host callbacks.
type recorder struct {
	inbox       []*protocol.Message
	failures    []failureEvent
	samples     int
	links       []bool
	connections []bool
	recordings  []bool
}

func (r *recorder) handler() session.Handler {
	return session.HandlerFuncs{
		OnInbox:      func(m *protocol.Message) { r.inbox = append(r.inbox, m) },
		OnFailure:    func(m *protocol.Message, reason session.FailureReason) { r.failures = append(r.failures, failureEvent{m, reason}) },
		OnSamples:    func(s []samplebuf.Sample) { r.samples += len(s) },
		OnLink:       func(up bool) { r.links = append(r.links, up) },
		OnConnection: func(c bool) { r.connections = append(r.connections, c) },
		OnRecording:  func(rec bool) { r.recordings = append(r.recordings, rec) },
	}
}

type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func (c *fakeClock) Sleep(d time.Duration) {
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
}

func encode(build func(m *protocol.Message)) []byte {
	m := protocol.NewMessage()
	build(m)
	data, err := protocol.Encode(m)
	if err != nil {
		panic(err)
	}
	return data
}

func connectRequest(app, proto uint16) []byte {
	return encode(func(m *protocol.Message) {
		m.PutUint32(protocol.KeyConnect, protocol.VersionWord(app, proto))
	})
}

func batch(n int) []samplebuf.Sample {
	out := make([]samplebuf.Sample, n)
	for i := range out {
		out[i] = samplebuf.Sample{X: int16(i), Y: int16(-i), Z: 1}
	}
	return out
}

// sampleCount returns how many samples a message carries.
func sampleCount(m *protocol.Message) int {
	t, ok := m.Get(protocol.KeySensorData)
	if !ok {
		return 0
	}
	return len(t.Value) / samplebuf.SampleSize
}
