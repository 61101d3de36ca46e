package loopback

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/srg/motionlink/internal/protocol"
	"github.com/srg/motionlink/internal/samplebuf"
	"github.com/srg/motionlink/internal/session"
)

// PeerOptions configures the simulated companion application.
type PeerOptions struct {
	AppVersion      uint16
	ProtocolVersion uint16
	// FailEvery fails every n-th frame with FailReason instead of acking
	// it. Zero acks everything.
	FailEvery  int
	FailReason session.FailureReason
}

// Peer plays the companion application on the far side of a Link: it acks
// frames, decodes what the device sent and can issue commands.
type Peer struct {
	link   *Link
	opts   PeerOptions
	logger *logrus.Logger

	mu           sync.Mutex
	messages     []*protocol.Message
	samples      []samplebuf.Sample
	frames       int
	failed       int
	connectionID uint16
	metadata     []byte
	stop         []int32
	disconnected bool
	refused      bool
}

func NewPeer(link *Link, opts PeerOptions, logger *logrus.Logger) *Peer {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.ProtocolVersion == 0 {
		opts.ProtocolVersion = protocol.ProtocolVersion
	}
	if opts.FailReason == session.ReasonUnknown {
		opts.FailReason = session.ReasonSendTimeout
	}
	return &Peer{link: link, opts: opts, logger: logger}
}

// Run consumes frames until ctx is done.
func (p *Peer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-p.link.Frames():
			p.handle(f)
		}
	}
}

func (p *Peer) handle(f Frame) {
	p.mu.Lock()
	p.frames++
	fail := p.opts.FailEvery > 0 && p.frames%p.opts.FailEvery == 0
	if fail {
		p.failed++
	}
	p.mu.Unlock()

	if fail {
		p.logger.WithField("seq", f.Seq).Debug("Peer failing frame")
		p.link.Fail(f.Seq, p.opts.FailReason)
		return
	}
	p.link.Ack(f.Seq)

	msg, err := protocol.Decode(f.Payload)
	if err != nil {
		p.logger.WithError(err).Warn("Peer received undecodable frame")
		return
	}
	p.record(msg)
}

func (p *Peer) record(msg *protocol.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.messages = append(p.messages, msg)
	msg.Each(func(t protocol.Tuple) bool {
		switch t.Key {
		case protocol.KeyConnect:
			// an ack carries the id in the high half; a refusal echoes the
			// device's version word
			if w := t.Uint(); w&0xFFFF == 0 && w != 0 {
				p.connectionID = uint16(w >> 16)
				p.disconnected = false
				p.refused = false
			} else {
				p.refused = true
			}
		case protocol.KeyMetadata:
			p.metadata = append([]byte(nil), t.Value...)
		case protocol.KeySensorData:
			samples, err := samplebuf.Unpack(t.Value)
			if err != nil {
				p.logger.WithError(err).Warn("Peer received malformed sample data")
				return true
			}
			p.samples = append(p.samples, samples...)
		case protocol.KeyStop:
			if len(t.Value) == 8 {
				p.stop = []int32{
					int32(binary.LittleEndian.Uint32(t.Value[0:4])),
					int32(binary.LittleEndian.Uint32(t.Value[4:8])),
				}
			}
		case protocol.KeyDisconnect:
			p.disconnected = true
		}
		return true
	})
}

func (p *Peer) command(build func(m *protocol.Message)) error {
	msg := protocol.NewMessage()
	build(msg)
	payload, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	return p.link.Deliver(payload)
}

// Connect sends a CONNECT carrying the peer's version word.
func (p *Peer) Connect() error {
	return p.command(func(m *protocol.Message) {
		m.PutUint32(protocol.KeyConnect, protocol.VersionWord(p.opts.AppVersion, p.opts.ProtocolVersion))
	})
}

func (p *Peer) Start() error {
	return p.command(func(m *protocol.Message) { m.PutUint8(protocol.KeyStart, 1) })
}

func (p *Peer) Stop() error {
	return p.command(func(m *protocol.Message) { m.PutUint8(protocol.KeyStop, 1) })
}

func (p *Peer) Heartbeat() error {
	return p.command(func(m *protocol.Message) { m.PutUint8(protocol.KeyHeartbeat, 1) })
}

func (p *Peer) Disconnect() error {
	return p.command(func(m *protocol.Message) { m.PutUint16(protocol.KeyDisconnect, p.ConnectionID()) })
}

// Send delivers an application message with no control keys.
func (p *Peer) Send(msg *protocol.Message) error {
	payload, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	return p.link.Deliver(payload)
}

// ConnectionID is the id from the last CONNECT ack, 0 before any.
func (p *Peer) ConnectionID() uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connectionID
}

// Metadata is the last METADATA document received.
func (p *Peer) Metadata() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.metadata...)
}

func (p *Peer) Messages() []*protocol.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*protocol.Message(nil), p.messages...)
}

func (p *Peer) Samples() []samplebuf.Sample {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]samplebuf.Sample(nil), p.samples...)
}

// StopTotals returns the [sent, measured] pair of the last STOP.
func (p *Peer) StopTotals() (sent, measured int32, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop == nil {
		return 0, 0, false
	}
	return p.stop[0], p.stop[1], true
}

// Disconnected reports whether a DISCONNECT arrived after the last ack.
func (p *Peer) Disconnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disconnected
}

// Refused reports whether the last CONNECT answer was a version echo.
func (p *Peer) Refused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refused
}

// Counts returns frames seen and frames failed on purpose.
func (p *Peer) Counts() (frames, failed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frames, p.failed
}
