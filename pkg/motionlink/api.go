package motionlink

import (
	"errors"
	"fmt"

	"github.com/srg/motionlink/internal/protocol"
	"github.com/srg/motionlink/internal/session"
)

// StartRecording subscribes to the sensor and announces START. It fails
// with ErrLinkDown while the transport has no link.
func (e *Engine) StartRecording() error {
	if !e.transport.LinkUp() {
		return fmt.Errorf("start recording: %w", ErrLinkDown)
	}
	var err error
	if derr := e.do(func() { err = e.session.StartRecording() }); derr != nil {
		return derr
	}
	return err
}

func (e *Engine) StopRecording() error {
	return e.do(e.session.StopRecording)
}

func (e *Engine) IsConnected() bool {
	stats, _ := e.Stats()
	return stats.Connected
}

func (e *Engine) IsRecording() bool {
	stats, _ := e.Stats()
	return stats.Recording
}

// ConnectionID is the id of the current or last connection.
func (e *Engine) ConnectionID() uint16 {
	stats, _ := e.Stats()
	return stats.ConnectionID
}

func (e *Engine) SamplingRate() protocol.SamplingRate {
	stats, err := e.Stats()
	if err != nil {
		return e.opts.Session.SamplingRate
	}
	return stats.SamplingRate
}

// SetSamplingRate requests a new rate; while recording it applies from the
// next start.
func (e *Engine) SetSamplingRate(rate protocol.SamplingRate) error {
	var err error
	if derr := e.do(func() { err = e.session.SetSamplingRate(rate) }); derr != nil {
		return derr
	}
	return err
}

// Stats returns a snapshot of the session counters. After the engine has
// stopped it returns the final snapshot, which the getters above report
// too.
func (e *Engine) Stats() (session.Stats, error) {
	var stats session.Stats
	err := e.do(func() { stats = e.session.Stats() })
	if errors.Is(err, ErrStopped) {
		<-e.done
		return e.final, nil
	}
	return stats, err
}
