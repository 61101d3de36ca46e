package session

import (
	"time"

	"github.com/srg/motionlink/internal/metadata"
	"github.com/srg/motionlink/internal/protocol"
	"github.com/srg/motionlink/internal/resend"
	"github.com/srg/motionlink/internal/samplebuf"
)

// Options configures a Session. Zero fields take the values from
// DefaultOptions.
type Options struct {
	AppVersion      uint16
	ProtocolVersion uint16
	Metadata        metadata.Metadata

	SamplingRate protocol.SamplingRate
	SensorBatch  int

	BufferCapacity    int
	ResendCapacity    int
	MaxResendAttempts int
	// SafetyMargin is kept free in every sample message so STOP,
	// DISCONNECT and RESEND can be appended later.
	SafetyMargin int

	SilenceTimeout    time.Duration
	HeartbeatInterval time.Duration // 0 disables local heartbeats

	// BenignFailures are delivery failures ignored entirely. Nil means
	// {ReasonSendRejected}; an empty slice ignores nothing.
	BenignFailures []FailureReason

	// DrainAttempts bounds the extra sends made by Shutdown; negative
	// disables them.
	DrainAttempts int
	DrainPause    time.Duration

	Now   func() time.Time
	Sleep func(time.Duration)

	// SampleSink is handed to the sensor on subscribe. It defaults to
	// Session.HandleSamples and must end up calling it on the session's
	// goroutine.
	SampleSink func([]samplebuf.Sample)
}

// DefaultSafetyMargin is the room left free in every sample message.
const DefaultSafetyMargin = 32

// DefaultOptions returns the engine defaults.
func DefaultOptions() Options {
	return Options{
		ProtocolVersion:   protocol.ProtocolVersion,
		SamplingRate:      protocol.DefaultSamplingRate,
		SensorBatch:       10,
		BufferCapacity:    samplebuf.DefaultCapacity,
		ResendCapacity:    resend.DefaultCapacity,
		MaxResendAttempts: 5,
		SafetyMargin:      DefaultSafetyMargin,
		SilenceTimeout:    8 * time.Second,
		BenignFailures:    []FailureReason{ReasonSendRejected},
		DrainAttempts:     5,
		DrainPause:        50 * time.Millisecond,
		Now:               time.Now,
		Sleep:             time.Sleep,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.ProtocolVersion == 0 {
		o.ProtocolVersion = d.ProtocolVersion
	}
	if o.SamplingRate == 0 {
		o.SamplingRate = d.SamplingRate
	}
	if o.SensorBatch <= 0 {
		o.SensorBatch = d.SensorBatch
	}
	if o.BufferCapacity <= 0 {
		o.BufferCapacity = d.BufferCapacity
	}
	if o.ResendCapacity <= 0 {
		o.ResendCapacity = d.ResendCapacity
	}
	if o.MaxResendAttempts <= 0 {
		o.MaxResendAttempts = d.MaxResendAttempts
	}
	if o.SafetyMargin <= 0 {
		o.SafetyMargin = d.SafetyMargin
	}
	if o.SilenceTimeout <= 0 {
		o.SilenceTimeout = d.SilenceTimeout
	}
	if o.BenignFailures == nil {
		o.BenignFailures = d.BenignFailures
	}
	switch {
	case o.DrainAttempts == 0:
		o.DrainAttempts = d.DrainAttempts
	case o.DrainAttempts < 0:
		o.DrainAttempts = 0
	}
	if o.DrainPause <= 0 {
		o.DrainPause = d.DrainPause
	}
	if o.Now == nil {
		o.Now = d.Now
	}
	if o.Sleep == nil {
		o.Sleep = d.Sleep
	}
	return o
}
