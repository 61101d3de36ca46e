package session

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/motionlink/internal/protocol"
)

func (s *Session) connect() {
	if s.connected {
		return
	}
	s.connectionID++
	if s.connectionID > maxConnectionID {
		s.connectionID = 1
	}
	s.connected = true
	s.logger.WithFields(logrus.Fields{
		"connection_id": s.connectionID,
		"peer_version":  s.peerVersion,
	}).Info("Connected")
	s.handler.ConnectionChanged(true)
}

// disconnect tears the connection down and flags a DISCONNECT notification.
// It is a no-op when not connected.
func (s *Session) disconnect(cause DisconnectCause) {
	if !s.connected {
		return
	}

	s.stopRecording()
	s.resends.Clear()
	s.buffer.Clear()
	s.flags = 0
	s.lastReceived = time.Time{}
	s.flags.Set(FlagDisconnect)
	s.connected = false
	s.stats.disconnects[cause]++

	entry := s.logger.WithFields(logrus.Fields{
		"connection_id": s.connectionID,
		"cause":         cause.String(),
	})
	if cause == CausePeer || cause == CauseShutdown {
		entry.Info("Disconnected")
	} else {
		entry.Warn("Connection dropped")
	}
	s.handler.ConnectionChanged(false)
}

// handleConnect processes the version word of an inbound CONNECT.
func (s *Session) handleConnect(word uint32) {
	if word == 0 {
		s.logger.Debug("Legacy connect request")
		s.connect()
		return
	}

	s.peerVersion, s.peerProtocol = protocol.SplitVersion(word)
	if s.peerProtocol != s.opts.ProtocolVersion || s.peerVersion != s.opts.AppVersion {
		s.logger.WithFields(logrus.Fields{
			"peer_app":       s.peerVersion,
			"peer_protocol":  s.peerProtocol,
			"local_app":      s.opts.AppVersion,
			"local_protocol": s.opts.ProtocolVersion,
		}).Warn("Version mismatch, refusing connection")
		s.disconnect(CauseVersionMismatch)
		s.flags.Set(FlagConnect)
		return
	}

	s.connect()
	s.flags.Set(FlagConnect)
}
