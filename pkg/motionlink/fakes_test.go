package motionlink_test

import (
	"context"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/srg/motionlink/internal/protocol"
	"github.com/srg/motionlink/internal/samplebuf"
	"github.com/srg/motionlink/internal/session"
	"github.com/srg/motionlink/internal/transport/loopback"
)

const testAppVersion = 7

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// pushSensor delivers batches only when the test pushes them.
type pushSensor struct {
	mu         sync.Mutex
	fn         func([]samplebuf.Sample)
	rate       protocol.SamplingRate
	subscribes int
}

func (s *pushSensor) Subscribe(rate protocol.SamplingRate, _ int, fn func([]samplebuf.Sample)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fn = fn
	s.rate = rate
	s.subscribes++
	return nil
}

func (s *pushSensor) Unsubscribe() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fn = nil
	return nil
}

func (s *pushSensor) push(samples []samplebuf.Sample) bool {
	s.mu.Lock()
	fn := s.fn
	s.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(samples)
	return true
}

func (s *pushSensor) subscribedRate() protocol.SamplingRate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rate
}

// hostRecorder captures everything the engine reports to the host.
type hostRecorder struct {
	mu          sync.Mutex
	links       []bool
	connections []bool
	recordings  []bool
	inbox       []*protocol.Message
	failures    []session.FailureReason
	samples     int
}

func (r *hostRecorder) handler() session.HandlerFuncs {
	return session.HandlerFuncs{
		OnInbox: func(msg *protocol.Message) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.inbox = append(r.inbox, msg)
		},
		OnFailure: func(_ *protocol.Message, reason session.FailureReason) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.failures = append(r.failures, reason)
		},
		OnSamples: func(samples []samplebuf.Sample) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.samples += len(samples)
		},
		OnLink: func(up bool) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.links = append(r.links, up)
		},
		OnConnection: func(connected bool) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.connections = append(r.connections, connected)
		},
		OnRecording: func(recording bool) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.recordings = append(r.recordings, recording)
		},
	}
}

func (r *hostRecorder) snapshot() hostRecorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	return hostRecorder{
		links:       append([]bool(nil), r.links...),
		connections: append([]bool(nil), r.connections...),
		recordings:  append([]bool(nil), r.recordings...),
		inbox:       append([]*protocol.Message(nil), r.inbox...),
		failures:    append([]session.FailureReason(nil), r.failures...),
		samples:     r.samples,
	}
}

func ramp(n int) []samplebuf.Sample {
	out := make([]samplebuf.Sample, n)
	for i := range out {
		out[i] = samplebuf.Sample{X: int16(i), Y: int16(-i), Z: 1000}
	}
	return out
}

// rig is a running peer on a loopback link.
type rig struct {
	link   *loopback.Link
	peer   *loopback.Peer
	sensor *pushSensor
	host   *hostRecorder
	cancel context.CancelFunc
}

func newRig(peerOpts loopback.PeerOptions) *rig {
	logger := quietLogger()
	link := loopback.New(loopback.DefaultOptions(), logger)
	if peerOpts.AppVersion == 0 {
		peerOpts.AppVersion = testAppVersion
	}
	peer := loopback.NewPeer(link, peerOpts, logger)

	ctx, cancel := context.WithCancel(context.Background())
	go peer.Run(ctx)

	return &rig{
		link:   link,
		peer:   peer,
		sensor: &pushSensor{},
		host:   &hostRecorder{},
		cancel: cancel,
	}
}
