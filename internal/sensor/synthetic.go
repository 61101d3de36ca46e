// Package sensor provides sample sources for hosts without accelerometer
// hardware.
package sensor

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/motionlink/internal/groutine"
	"github.com/srg/motionlink/internal/protocol"
	"github.com/srg/motionlink/internal/samplebuf"
)

var ErrAlreadySubscribed = errors.New("sensor already subscribed")

// Waveform produces the sample with index i at rate Hz.
type Waveform func(i int, rate protocol.SamplingRate) samplebuf.Sample

// Sine is a 1 Hz motion of roughly ±1 g (1000 milli-g) per axis, phase
// shifted between axes.
func Sine(i int, rate protocol.SamplingRate) samplebuf.Sample {
	t := float64(i) / float64(rate)
	axis := func(phase float64) int16 {
		return int16(1000 * math.Sin(2*math.Pi*t+phase))
	}
	return samplebuf.Sample{X: axis(0), Y: axis(2 * math.Pi / 3), Z: axis(4 * math.Pi / 3)}
}

// Synthetic generates batches on a ticker, one batch every batch/rate seconds.
type Synthetic struct {
	wave   Waveform
	logger *logrus.Logger

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
}

func NewSynthetic(wave Waveform, logger *logrus.Logger) *Synthetic {
	if wave == nil {
		wave = Sine
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Synthetic{wave: wave, logger: logger}
}

// Subscribe starts delivering batches to fn from a dedicated goroutine.
func (s *Synthetic) Subscribe(rate protocol.SamplingRate, batch int, fn func([]samplebuf.Sample)) error {
	if !rate.Valid() {
		return protocol.ErrInvalidRate
	}
	if batch <= 0 {
		batch = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return ErrAlreadySubscribed
	}

	s.gen++
	gen := s.gen
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	period := time.Second * time.Duration(batch) / time.Duration(rate)
	s.logger.WithFields(logrus.Fields{
		"rate":   rate.String(),
		"batch":  batch,
		"period": period.String(),
	}).Debug("Synthetic sensor subscribed")

	groutine.Go(ctx, "synthetic-sensor", func(ctx context.Context) {
		ticker := time.NewTicker(period)
		defer ticker.Stop()

		next := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			samples := make([]samplebuf.Sample, batch)
			for i := range samples {
				samples[i] = s.wave(next, rate)
				next++
			}
			if !s.current(gen) {
				return
			}
			fn(samples)
		}
	})
	return nil
}

func (s *Synthetic) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil && s.gen == gen
}

// Unsubscribe stops delivery. It does not wait for an in-progress batch.
func (s *Synthetic) Unsubscribe() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	s.cancel = nil
	s.logger.Debug("Synthetic sensor unsubscribed")
	return nil
}
