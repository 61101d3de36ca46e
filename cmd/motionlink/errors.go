package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/srg/motionlink/internal/transport"
	"github.com/srg/motionlink/pkg/motionlink"
)

// Command-level errors
var (
	// ErrHandshakeTimeout means the simulated companion never got a CONNECT acknowledgement.
	ErrHandshakeTimeout = errors.New("handshake timed out")

	// ErrPeerRefused means the engine answered CONNECT with a version mismatch.
	ErrPeerRefused = errors.New("companion refused: protocol or app version mismatch")
)

// FormatUserError turns internal errors into messages for the terminal.
func FormatUserError(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("timed out: %v", err)
	case errors.Is(err, motionlink.ErrLinkDown), errors.Is(err, transport.ErrNotConnected):
		return "link is down - is the companion connected?"
	case errors.Is(err, transport.ErrClosed), errors.Is(err, motionlink.ErrStopped):
		return "engine already stopped"
	default:
		return err.Error()
	}
}
