// Package session implements the device side of the motion streaming
// protocol: handshake, recording control, message scheduling, resend and
// liveness. A Session has no locks and starts no goroutines; every method
// must be called from the same goroutine.
package session

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/motionlink/internal/protocol"
	"github.com/srg/motionlink/internal/resend"
	"github.com/srg/motionlink/internal/samplebuf"
)

const maxConnectionID = 1000

// Stats is a snapshot of session counters.
type Stats struct {
	Connected    bool
	Recording    bool
	ConnectionID uint16
	SamplingRate protocol.SamplingRate
	PendingFlags Flags

	Measured int
	Sent     int
	Buffered int
	Dropped  int

	ResendDepth int

	Submitted uint64 // messages accepted by the transport
	Refused   uint64 // submits refused synchronously
	Resent    uint64 // resend attempts accepted
	Failures  uint64 // asynchronous delivery failures, benign excluded
	Ignored   uint64 // benign failures

	Disconnects [causeCount]uint64
}

// DisconnectsBy returns how many times c ended a connection.
func (s Stats) DisconnectsBy(c DisconnectCause) uint64 {
	if c < 0 || c >= causeCount {
		return 0
	}
	return s.Disconnects[c]
}

type counters struct {
	submitted, refused, resent, failures, ignored uint64
	disconnects                                   [causeCount]uint64
}

// Session is the protocol engine state.
type Session struct {
	opts    Options
	outbox  Outbox
	sensor  Sensor
	handler Handler
	logger  *logrus.Logger

	buffer  *samplebuf.Buffer
	resends *resend.Queue
	benign  map[FailureReason]bool

	flags     Flags
	connected bool
	recording bool
	closed    bool
	dropping  bool

	connectionID  uint16
	peerVersion   uint16
	peerProtocol  uint16
	rate          protocol.SamplingRate
	requestedRate protocol.SamplingRate

	lastReceived  time.Time
	lastHeartbeat time.Time

	stats counters
}

// New creates a disconnected, idle session.
func New(outbox Outbox, sensor Sensor, handler Handler, opts Options, logger *logrus.Logger) (*Session, error) {
	if outbox == nil {
		return nil, fmt.Errorf("session: outbox is required")
	}
	if sensor == nil {
		return nil, fmt.Errorf("session: sensor is required")
	}
	if logger == nil {
		logger = logrus.New()
	}
	if handler == nil {
		handler = HandlerFuncs{}
	}

	opts = opts.withDefaults()
	if !opts.SamplingRate.Valid() {
		return nil, fmt.Errorf("session: %w: %s", ErrInvalidRate, opts.SamplingRate)
	}

	s := &Session{
		opts:          opts,
		outbox:        outbox,
		sensor:        sensor,
		handler:       handler,
		logger:        logger,
		buffer:        samplebuf.New(opts.BufferCapacity),
		resends:       resend.New(opts.ResendCapacity),
		benign:        make(map[FailureReason]bool, len(opts.BenignFailures)),
		rate:          opts.SamplingRate,
		requestedRate: opts.SamplingRate,
	}
	for _, r := range opts.BenignFailures {
		s.benign[r] = true
	}
	if s.opts.SampleSink == nil {
		s.opts.SampleSink = s.HandleSamples
	}
	return s, nil
}

func (s *Session) IsConnected() bool { return s.connected }

func (s *Session) IsRecording() bool { return s.recording }

// ConnectionID is the id of the current (or last) connection, 0 before the
// first connect.
func (s *Session) ConnectionID() uint16 { return s.connectionID }

// PeerVersion returns the app and protocol versions of the last connect request.
func (s *Session) PeerVersion() (app, proto uint16) { return s.peerVersion, s.peerProtocol }

func (s *Session) PendingFlags() Flags { return s.flags }

// SamplingRate is the active rate: the latched rate while recording, the
// requested rate otherwise.
func (s *Session) SamplingRate() protocol.SamplingRate { return s.rate }

func (s *Session) Stats() Stats {
	return Stats{
		Connected:    s.connected,
		Recording:    s.recording,
		ConnectionID: s.connectionID,
		SamplingRate: s.rate,
		PendingFlags: s.flags,
		Measured:     s.buffer.Measured(),
		Sent:         s.buffer.Sent(),
		Buffered:     s.buffer.Len(),
		Dropped:      s.buffer.Dropped(),
		ResendDepth:  s.resends.Len(),
		Submitted:    s.stats.submitted,
		Refused:      s.stats.refused,
		Resent:       s.stats.resent,
		Failures:     s.stats.failures,
		Ignored:      s.stats.ignored,
		Disconnects:  s.stats.disconnects,
	}
}

// HandleLink records a link status change and forwards it to the host.
// Losing the link ends the connection.
func (s *Session) HandleLink(up bool) {
	if s.closed {
		return
	}
	s.logger.WithField("up", up).Debug("Link status changed")
	if !up {
		s.disconnect(CauseLinkLost)
	}
	s.handler.LinkChanged(up)
}

// Shutdown detaches the host handler, discards pending resends, announces
// the disconnect, stops recording and makes a bounded number of attempts to
// flush pending control flags. The session is unusable afterwards.
func (s *Session) Shutdown() {
	if s.closed {
		return
	}
	s.handler = HandlerFuncs{}
	if n := s.resends.Len(); n > 0 {
		s.logger.WithField("pending", n).Debug("Discarding resends on shutdown")
		s.resends.Clear()
	}

	s.flags.Set(FlagDisconnect)
	s.stopRecording()
	s.send()
	for i := 0; i < s.opts.DrainAttempts && s.flags.Any(); i++ {
		s.opts.Sleep(s.opts.DrainPause)
		s.send()
	}
	if s.flags.Any() {
		s.logger.WithField("flags", s.flags.String()).Warn("Shutdown with unsent control flags")
	}

	if s.connected {
		s.connected = false
		s.stats.disconnects[CauseShutdown]++
	}
	s.closed = true
	s.logger.Debug("Session shut down")
}
