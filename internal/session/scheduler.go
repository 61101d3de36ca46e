package session

import (
	"encoding/binary"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/srg/motionlink/internal/protocol"
	"github.com/srg/motionlink/internal/samplebuf"
)

// Tick runs one scheduler period: a send attempt, the liveness check and
// the local heartbeat timer.
func (s *Session) Tick() {
	if s.closed {
		return
	}
	s.send()

	now := s.opts.Now()
	s.checkLiveness(now)
	s.scheduleHeartbeat(now)
}

// send makes one transmission attempt. A pending resend takes priority and
// is the only thing attempted.
func (s *Session) send() {
	if s.resends.Len() > 0 {
		s.resendLatest()
		return
	}
	if s.buffer.Len() == 0 && !s.flags.Any() {
		return
	}
	s.sendCombined()
}

func (s *Session) sendCombined() {
	w, included, next := s.build(true)
	if w.Err() != nil && s.connected && s.flags.Has(FlagConnect) {
		s.logger.WithError(w.Err()).Warn("Connect acknowledgment does not fit with metadata, sending it without")
		w, included, next = s.build(false)
	}
	if err := w.Err(); err != nil {
		s.payloadTooSmall(err)
		return
	}
	if pending := s.buffer.Len(); pending > 0 && included == 0 {
		s.payloadTooSmall(fmt.Errorf("no room for a sample in %d bytes: %w", s.outbox.MaxPayload(), protocol.ErrNoSpace))
		return
	}

	if !s.submit(w.Message()) {
		return
	}
	s.flags = next
	s.buffer.Commit(included)
}

// build assembles the combined message from the pending flags and as many
// buffered samples as fit. next is the flag set to keep once it is accepted.
func (s *Session) build(withMetadata bool) (w *protocol.Writer, included int, next Flags) {
	w = protocol.NewWriter(s.outbox.MaxPayload())

	if s.flags.Has(FlagConnect) {
		if s.connected {
			w.PutUint32(protocol.KeyConnect, protocol.AckWord(s.connectionID))
			if withMetadata {
				w.PutBytes(protocol.KeyMetadata, s.opts.Metadata.Bytes())
			}
		} else {
			w.PutUint32(protocol.KeyConnect, protocol.VersionWord(s.opts.AppVersion, s.opts.ProtocolVersion))
		}
	}
	if s.flags.Has(FlagStart) {
		w.PutUint8(protocol.KeyStart, 1)
	}
	if s.flags.Has(FlagHeartbeat) {
		w.PutUint8(protocol.KeyHeartbeat, 1)
	}

	pending := s.buffer.Len()
	if pending > 0 {
		w.PutUint32(protocol.KeySensorOffset, uint32(s.buffer.Sent()))
		w.PutUint8(protocol.KeySensorRate, uint8(s.rate))

		avail := w.Remaining() - protocol.TupleHeaderLen - s.opts.SafetyMargin
		if avail > 0 && w.Err() == nil {
			included = min(pending, avail/samplebuf.SampleSize)
		}
		if included > 0 {
			w.PutBytes(protocol.KeySensorData, s.buffer.Peek(included))
		}
	}

	if included == pending {
		if s.flags.Has(FlagStop) {
			w.PutBytes(protocol.KeyStop, stopPayload(s.buffer.Sent()+included, s.buffer.Measured()))
		}
		if s.flags.Has(FlagDisconnect) {
			w.PutUint16(protocol.KeyDisconnect, s.connectionID)
		}
	} else {
		next = s.flags.Keep(FlagStop | FlagDisconnect)
	}
	return w, included, next
}

// payloadTooSmall gives up on traffic the transport can never carry:
// pending flags and samples are discarded and a connected session is
// dropped.
func (s *Session) payloadTooSmall(err error) {
	s.logger.WithError(err).WithFields(logrus.Fields{
		"limit":   s.outbox.MaxPayload(),
		"minimum": MinPayload(s.opts.SafetyMargin),
		"flags":   s.flags.String(),
	}).Error("Transport payload too small for the protocol")

	s.flags = 0
	s.buffer.Clear()
	// disconnect sends STOP, which may land here again
	if s.connected && !s.dropping {
		s.dropping = true
		s.disconnect(CausePayloadTooSmall)
		s.dropping = false
	}
}

// MinPayload is the smallest transport payload that carries a connect
// acknowledgment, the sample header and one sample above safetyMargin.
func MinPayload(safetyMargin int) int {
	return protocol.HeaderLen +
		protocol.TupleHeaderLen + 4 + // CONNECT
		protocol.TupleHeaderLen + 4 + // SENSOR_OFFSET
		protocol.TupleHeaderLen + 1 + // SENSOR_RATE
		protocol.TupleHeaderLen + samplebuf.SampleSize +
		safetyMargin
}

// stopPayload is [sent, measured] as two little-endian int32.
func stopPayload(sent, measured int) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint32(b[0:], uint32(int32(sent)))
	binary.LittleEndian.PutUint32(b[4:], uint32(int32(measured)))
	return b
}

func (s *Session) submit(msg *protocol.Message) bool {
	payload, err := protocol.Encode(msg)
	if err != nil {
		s.logger.WithError(err).Error("Failed to encode outbound message")
		return false
	}

	if err := s.outbox.Submit(payload); err != nil {
		s.stats.refused++
		s.logger.WithError(err).Debug("Transport refused message, retrying next tick")
		return false
	}
	s.stats.submitted++

	if s.logger.IsLevelEnabled(logrus.TraceLevel) {
		s.logger.WithFields(logrus.Fields{
			"keys":  msg.Keys(),
			"bytes": len(payload),
		}).Trace("Message submitted")
	}
	return true
}

// resendLatest retransmits the most recently failed message with its
// reserved tuples and an incremented RESEND counter.
func (s *Session) resendLatest() {
	entry, ok := s.resends.Latest()
	if !ok {
		return
	}

	original, err := protocol.Decode(entry.Payload)
	if err != nil {
		s.logger.WithError(err).Warn("Dropping undecodable resend entry")
		s.resends.DropLatest()
		return
	}

	msg := protocol.NewMessage()
	original.Each(func(t protocol.Tuple) bool {
		if t.Key.Reserved() && t.Key != protocol.KeyResend {
			msg.Set(t)
		}
		return true
	})
	msg.PutUint8(protocol.KeyResend, uint8(entry.Attempt+1))

	if size := msg.Size(); size > s.outbox.MaxPayload() {
		s.logger.WithFields(logrus.Fields{
			"bytes": size,
			"limit": s.outbox.MaxPayload(),
		}).Warn("Resend no longer fits the transport payload")
		s.disconnect(CauseResendOverflow)
		return
	}

	if !s.submit(msg) {
		return
	}
	s.stats.resent++
	s.resends.DropLatest()
	s.logger.WithFields(logrus.Fields{
		"attempt": entry.Attempt + 1,
		"pending": s.resends.Len(),
	}).Debug("Resent failed message")
}
