package session

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/srg/motionlink/internal/protocol"
	"github.com/srg/motionlink/internal/samplebuf"
)

// StartRecording subscribes to the sensor at the requested rate and
// announces START. It is a no-op while already recording.
func (s *Session) StartRecording() error {
	if s.closed {
		return ErrClosed
	}
	return s.startRecording()
}

func (s *Session) startRecording() error {
	if s.recording {
		return nil
	}

	s.rate = s.requestedRate
	if err := s.sensor.Subscribe(s.rate, s.opts.SensorBatch, s.opts.SampleSink); err != nil {
		return fmt.Errorf("subscribe sensor at %s: %w", s.rate, err)
	}

	s.buffer.Reset()
	s.flags.Set(FlagStart)
	s.flags.Clear(FlagStop)
	s.send()
	s.recording = true

	s.logger.WithField("rate", s.rate.String()).Info("Recording started")
	s.handler.RecordingChanged(true)
	return nil
}

// StopRecording announces STOP and unsubscribes from the sensor. It is a
// no-op while not recording.
func (s *Session) StopRecording() {
	if s.closed {
		return
	}
	s.stopRecording()
}

func (s *Session) stopRecording() {
	if !s.recording {
		return
	}

	s.flags.Set(FlagStop)
	s.flags.Clear(FlagStart)
	s.send()
	if err := s.sensor.Unsubscribe(); err != nil {
		s.logger.WithError(err).Warn("Failed to unsubscribe sensor")
	}
	s.recording = false

	s.logger.WithFields(logrus.Fields{
		"measured": s.buffer.Measured(),
		"sent":     s.buffer.Sent(),
		"buffered": s.buffer.Len(),
	}).Info("Recording stopped")
	s.handler.RecordingChanged(false)
}

// SetSamplingRate requests a new rate. While recording it takes effect at
// the next start.
func (s *Session) SetSamplingRate(rate protocol.SamplingRate) error {
	if !rate.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidRate, rate)
	}
	s.requestedRate = rate
	if !s.recording {
		s.rate = rate
	}
	return nil
}

// HandleSamples buffers a sensor batch while recording and always forwards
// it to the host.
func (s *Session) HandleSamples(samples []samplebuf.Sample) {
	if s.closed {
		return
	}
	if s.recording {
		accepted := s.buffer.Append(samples)
		if dropped := len(samples) - accepted; dropped > 0 {
			s.logger.WithFields(logrus.Fields{
				"dropped":  dropped,
				"buffered": s.buffer.Len(),
			}).Debug("Sample buffer full")
		}
	}
	s.handler.SamplesReceived(samples)
}
