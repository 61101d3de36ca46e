package motionlink

import (
	"github.com/srg/motionlink/internal/samplebuf"
	"github.com/srg/motionlink/internal/session"
)

type eventKind int

const (
	eventReceived eventKind = iota
	eventFailed
	eventLink
	eventSamples
)

type event struct {
	kind    eventKind
	payload []byte
	reason  session.FailureReason
	up      bool
	samples []samplebuf.Sample
}

func (e *Engine) dispatch(ev event) {
	switch ev.kind {
	case eventReceived:
		e.session.HandleInbound(ev.payload)
	case eventFailed:
		e.session.HandleFailure(ev.payload, ev.reason)
	case eventLink:
		e.session.HandleLink(ev.up)
	case eventSamples:
		e.session.HandleSamples(ev.samples)
	}
}

// engineEvents is the session.Events handed to the transport.
type engineEvents struct{ e *Engine }

func (ee engineEvents) Received(payload []byte) {
	ee.e.post(event{kind: eventReceived, payload: payload})
}

func (ee engineEvents) Failed(payload []byte, reason session.FailureReason) {
	ee.e.post(event{kind: eventFailed, payload: payload, reason: reason})
}

func (ee engineEvents) LinkChanged(up bool) {
	ee.e.post(event{kind: eventLink, up: up})
}
