package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/motionlink/internal/groutine"
	"github.com/srg/motionlink/internal/protocol"
	"github.com/srg/motionlink/internal/trace"
	"github.com/srg/motionlink/internal/transport/loopback"
	"github.com/srg/motionlink/pkg/motionlink"
)

// simulateCmd runs a complete session against an in-process companion
var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a session against a simulated companion",
	Long: `Runs the engine on an in-memory link with a simulated companion application.

The companion connects, sends a heartbeat, starts a recording, stops it after
--duration and disconnects. Samples come from a synthetic sine sensor.

Examples:
  # Two second recording at the configured rate
  motionlink simulate

  # 100Hz, every 4th frame lost in transit, print the message trace
  motionlink simulate --rate 100 --fail-every 4 --trace`,
	Args: cobra.NoArgs,
	RunE: runSimulate,
}

var (
	simulateDuration  time.Duration
	simulateRate      string
	simulateFailEvery int
	simulateTrace     bool
	simulateTraceSize uint32
	simulateTimeout   time.Duration
)

func init() {
	simulateCmd.Flags().DurationVar(&simulateDuration, "duration", 2*time.Second, "Recording duration")
	simulateCmd.Flags().StringVar(&simulateRate, "rate", "", "Sampling rate (10, 25, 50 or 100 Hz); config value by default")
	simulateCmd.Flags().IntVar(&simulateFailEvery, "fail-every", 0, "Fail every n-th frame in transit (0 delivers everything)")
	simulateCmd.Flags().BoolVar(&simulateTrace, "trace", false, "Print the message trace after the session")
	simulateCmd.Flags().Uint32Var(&simulateTraceSize, "trace-size", trace.DefaultCapacity, "Number of trace entries kept")
	simulateCmd.Flags().DurationVar(&simulateTimeout, "timeout", 2*time.Second, "How long to wait for each companion step")
}

func runSimulate(cmd *cobra.Command, _ []string) error {
	var rate protocol.SamplingRate
	if simulateRate != "" {
		r, err := protocol.ParseSamplingRate(simulateRate)
		if err != nil {
			return err
		}
		rate = r
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, cancel := signalContext()
	defer cancel()

	out := cmd.OutOrStdout()

	link := loopback.New(loopback.DefaultOptions(), logger)
	recorder := trace.Wrap(link, simulateTraceSize, logger)
	peer := loopback.NewPeer(link, loopback.PeerOptions{
		AppVersion: cfg.AppVersion,
		FailEvery:  simulateFailEvery,
	}, logger)
	groutine.Go(ctx, "simulated-companion", peer.Run)

	opts, err := engineOptions(cfg, recorder, out, logger)
	if err != nil {
		return err
	}
	engine, err := motionlink.Startup(ctx, opts)
	if err != nil {
		return err
	}
	defer engine.Shutdown()

	srv, err := serveMetrics(ctx, cfg, engine, logger)
	if err != nil {
		return err
	}
	if srv != nil {
		defer srv.Close()
	}

	if err := simulateSession(ctx, engine, peer, rate); err != nil {
		return err
	}

	if err := engine.Shutdown(); err != nil {
		return err
	}
	stats, err := engine.Stats()
	if err != nil {
		return err
	}

	sent, measured, _ := peer.StopTotals()
	frames, failed := peer.Counts()
	headColor.Fprintln(out, "Companion view")
	fmt.Fprintf(out, "  %-20s %d\n", "connection id", peer.ConnectionID())
	fmt.Fprintf(out, "  %-20s %d bytes\n", "metadata", len(peer.Metadata()))
	fmt.Fprintf(out, "  %-20s %d\n", "samples received", len(peer.Samples()))
	fmt.Fprintf(out, "  %-20s sent=%d measured=%d\n", "STOP totals", sent, measured)
	fmt.Fprintf(out, "  %-20s %d (%d failed in transit)\n", "frames", frames, failed)
	printStats(out, stats)

	if simulateTrace {
		headColor.Fprintln(out, "Message trace")
		for _, e := range recorder.Drain() {
			fmt.Fprintf(out, "  %s\n", e)
		}
		if n := recorder.Overwritten(); n > 0 {
			warnColor.Fprintf(out, "  (%d older entries overwritten)\n", n)
		}
	}
	return nil
}

// simulateSession plays the companion's side: connect, heartbeat, record
// for simulateDuration, stop and disconnect.
func simulateSession(ctx context.Context, engine *motionlink.Engine, peer *loopback.Peer, rate protocol.SamplingRate) error {
	if err := peer.Connect(); err != nil {
		return fmt.Errorf("companion connect: %w", err)
	}
	if err := waitUntil(ctx, simulateTimeout, func() bool {
		return peer.ConnectionID() != 0 || peer.Refused()
	}); err != nil {
		return ErrHandshakeTimeout
	}
	if peer.Refused() {
		return ErrPeerRefused
	}

	if err := peer.Heartbeat(); err != nil {
		return fmt.Errorf("companion heartbeat: %w", err)
	}
	if rate != 0 {
		if err := engine.SetSamplingRate(rate); err != nil {
			return err
		}
	}

	if err := peer.Start(); err != nil {
		return fmt.Errorf("companion start: %w", err)
	}
	if err := waitUntil(ctx, simulateTimeout, engine.IsRecording); err != nil {
		return fmt.Errorf("recording did not start: %w", err)
	}

	select {
	case <-time.After(simulateDuration):
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := peer.Stop(); err != nil {
		return fmt.Errorf("companion stop: %w", err)
	}
	if err := waitUntil(ctx, simulateTimeout, func() bool {
		_, _, ok := peer.StopTotals()
		return ok
	}); err != nil {
		return fmt.Errorf("no STOP totals: %w", err)
	}

	if err := peer.Disconnect(); err != nil {
		return fmt.Errorf("companion disconnect: %w", err)
	}
	// the engine does not resend its DISCONNECT reply, so a lossy link may
	// swallow it
	if err := waitUntil(ctx, simulateTimeout, func() bool { return !engine.IsConnected() }); err != nil {
		return fmt.Errorf("engine still connected: %w", err)
	}
	return nil
}

// waitUntil polls cond until it holds, ctx is done or timeout elapses.
func waitUntil(ctx context.Context, timeout time.Duration, cond func() bool) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for !cond() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
