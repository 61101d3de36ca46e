// Package transport holds what every message link implementation shares.
package transport

import "errors"

// Submit refusals. All of them are transient from the session's point of view.
var (
	ErrNotConnected = errors.New("link not connected")
	ErrBusy         = errors.New("outbox busy")
	ErrTooLarge     = errors.New("payload exceeds link limit")
	ErrClosed       = errors.New("transport closed")
)

// ClampPayload returns the smaller positive value of limit and outbox.
func ClampPayload(limit, outbox int) int {
	switch {
	case limit <= 0:
		return outbox
	case outbox <= 0:
		return limit
	default:
		return min(limit, outbox)
	}
}
