package session

import (
	"fmt"

	"github.com/srg/motionlink/internal/protocol"
)

// State describes why a host call was refused.
type State string

const (
	LinkDown State = "link_down"
	Closed   State = "closed"
)

// StateError reports that an operation is not valid in the current state.
type StateError struct {
	State State
	Msg   string
}

func (e *StateError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare StateError values by State
func (e *StateError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*StateError)
	if !ok {
		return false
	}
	return e.State == t.State
}

var (
	ErrLinkDown = &StateError{State: LinkDown}
	ErrClosed   = &StateError{State: Closed}
)

var ErrInvalidRate = protocol.ErrInvalidRate

// FailureReason is why the transport could not deliver a submitted message.
type FailureReason int

const (
	ReasonUnknown FailureReason = iota
	ReasonSendTimeout
	ReasonSendRejected
	ReasonNotConnected
	ReasonAppNotRunning
	ReasonBusy
	ReasonBufferOverflow
	ReasonClosed
)

var reasonNames = map[FailureReason]string{
	ReasonUnknown:        "unknown",
	ReasonSendTimeout:    "send_timeout",
	ReasonSendRejected:   "send_rejected",
	ReasonNotConnected:   "not_connected",
	ReasonAppNotRunning:  "app_not_running",
	ReasonBusy:           "busy",
	ReasonBufferOverflow: "buffer_overflow",
	ReasonClosed:         "closed",
}

func (r FailureReason) String() string {
	if s, ok := reasonNames[r]; ok {
		return s
	}
	return fmt.Sprintf("reason(%d)", int(r))
}

// ParseFailureReason maps a reason name back to its value.
func ParseFailureReason(s string) (FailureReason, error) {
	for r, name := range reasonNames {
		if name == s {
			return r, nil
		}
	}
	return ReasonUnknown, fmt.Errorf("unknown failure reason %q", s)
}

// DisconnectCause records why a session left the Connected state.
type DisconnectCause int

const (
	CausePeer DisconnectCause = iota
	CauseLinkLost
	CauseSilence
	CauseRetryExhausted
	CauseResendOverflow
	CauseVersionMismatch
	CauseShutdown
	CausePayloadTooSmall

	causeCount
)

var causeNames = [causeCount]string{
	"peer",
	"link_lost",
	"silence",
	"retry_exhausted",
	"resend_overflow",
	"version_mismatch",
	"shutdown",
	"payload_too_small",
}

func (c DisconnectCause) String() string {
	if c >= 0 && c < causeCount {
		return causeNames[c]
	}
	return fmt.Sprintf("cause(%d)", int(c))
}

// DisconnectCauses lists every cause in declaration order.
func DisconnectCauses() []DisconnectCause {
	out := make([]DisconnectCause, causeCount)
	for i := range out {
		out[i] = DisconnectCause(i)
	}
	return out
}
