package session

import (
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/srg/motionlink/internal/protocol"
	"github.com/srg/motionlink/internal/resend"
)

// HandleInbound stamps liveness and dispatches an inbound message. Control
// keys are applied in message order; a message carrying none of them is
// forwarded to the host.
func (s *Session) HandleInbound(payload []byte) {
	if s.closed {
		return
	}
	s.lastReceived = s.opts.Now()

	msg, err := protocol.Decode(payload)
	if err != nil {
		s.logger.WithError(err).WithField("bytes", len(payload)).Warn("Dropping undecodable inbound message")
		return
	}

	handled := false
	msg.Each(func(t protocol.Tuple) bool {
		switch t.Key {
		case protocol.KeyStart:
			if err := s.startRecording(); err != nil {
				s.logger.WithError(err).Error("Failed to start recording on peer request")
			}
		case protocol.KeyStop:
			s.stopRecording()
		case protocol.KeyDisconnect:
			s.disconnect(CausePeer)
		case protocol.KeyConnect:
			s.handleConnect(t.Uint())
		default:
			return true
		}
		handled = true
		return true
	})

	if !handled {
		s.handler.InboxReceived(msg)
	}
}

// HandleFailure processes an asynchronous delivery failure of payload.
func (s *Session) HandleFailure(payload []byte, reason FailureReason) {
	if s.closed {
		return
	}
	if s.benign[reason] {
		s.stats.ignored++
		s.logger.WithField("reason", reason.String()).Debug("Ignoring delivery failure")
		return
	}
	s.stats.failures++

	msg, err := protocol.Decode(payload)
	if err != nil {
		s.logger.WithError(err).Warn("Delivery failed for undecodable message")
		return
	}

	if s.connected {
		attempt := -1
		if t, ok := msg.Get(protocol.KeyResend); ok {
			attempt = int(t.Uint())
		}

		log := s.logger.WithFields(logrus.Fields{
			"reason":  reason.String(),
			"attempt": attempt,
			"pending": s.resends.Len(),
		})
		if attempt > s.opts.MaxResendAttempts {
			log.Warn("Resend attempts exhausted")
			s.disconnect(CauseRetryExhausted)
		} else if err := s.resends.Push(payload, attempt); errors.Is(err, resend.ErrFull) {
			log.Warn("Resend queue full")
			s.disconnect(CauseResendOverflow)
		} else {
			log.Debug("Queued failed message for resend")
		}
	}

	s.handler.DeliveryFailed(msg, reason)
}
