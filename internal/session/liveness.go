package session

import (
	"time"

	"github.com/sirupsen/logrus"
)

func (s *Session) checkLiveness(now time.Time) {
	if !s.connected || s.lastReceived.IsZero() {
		return
	}
	if silence := now.Sub(s.lastReceived); silence > s.opts.SilenceTimeout {
		s.logger.WithFields(logrus.Fields{
			"silence": silence.String(),
			"timeout": s.opts.SilenceTimeout.String(),
		}).Warn("Peer went silent")
		s.disconnect(CauseSilence)
	}
}

func (s *Session) scheduleHeartbeat(now time.Time) {
	if s.opts.HeartbeatInterval <= 0 || !s.connected {
		return
	}
	if now.Sub(s.lastHeartbeat) >= s.opts.HeartbeatInterval {
		s.flags.Set(FlagHeartbeat)
		s.lastHeartbeat = now
	}
}
