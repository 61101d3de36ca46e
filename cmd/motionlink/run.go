package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/motionlink/internal/metadata"
	"github.com/srg/motionlink/internal/metrics"
	"github.com/srg/motionlink/internal/protocol"
	"github.com/srg/motionlink/internal/session"
	"github.com/srg/motionlink/pkg/config"
	"github.com/srg/motionlink/pkg/motionlink"
)

const (
	appName    = "motionlink"
	appCompany = "srg"
)

var (
	okColor   = color.New(color.FgGreen)
	warnColor = color.New(color.FgYellow)
	headColor = color.New(color.Bold)
)

// signalContext is cancelled on Ctrl+C or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigChan)
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// engineOptions prepares engine options for t with host metadata and a
// status printer writing to out.
func engineOptions(cfg *config.Config, t session.Transport, out io.Writer, logger *logrus.Logger) (motionlink.Options, error) {
	opts, err := cfg.EngineOptions(logger)
	if err != nil {
		return opts, err
	}
	md, err := metadata.Build(metadata.HostInfo(appName, appCompany, int(cfg.AppVersion), 0))
	if err != nil {
		return opts, fmt.Errorf("build metadata: %w", err)
	}
	opts.Session.Metadata = md
	opts.Transport = t
	opts.Handler = statusPrinter(out)
	return opts, nil
}

func statusPrinter(out io.Writer) session.Handler {
	return session.HandlerFuncs{
		OnLink: func(up bool) {
			if up {
				okColor.Fprintln(out, "link up")
			} else {
				warnColor.Fprintln(out, "link down")
			}
		},
		OnConnection: func(connected bool) {
			if connected {
				okColor.Fprintln(out, "companion connected")
			} else {
				warnColor.Fprintln(out, "companion disconnected")
			}
		},
		OnRecording: func(recording bool) {
			if recording {
				okColor.Fprintln(out, "recording started")
			} else {
				fmt.Fprintln(out, "recording stopped")
			}
		},
		OnInbox: func(msg *protocol.Message) {
			fmt.Fprintf(out, "companion message %s\n", msg.Keys())
		},
		OnFailure: func(msg *protocol.Message, reason session.FailureReason) {
			warnColor.Fprintf(out, "delivery failed (%s): %s\n", reason, msg.Keys())
		},
	}
}

// serveMetrics exposes engine stats when an address is configured.
func serveMetrics(ctx context.Context, cfg *config.Config, engine *motionlink.Engine, logger *logrus.Logger) (*metrics.Server, error) {
	if cfg.Metrics.Addr == "" {
		return nil, nil
	}
	reg := prometheus.NewRegistry()
	if err := reg.Register(metrics.NewCollector(engine.Stats, logger)); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	return metrics.Listen(ctx, cfg.Metrics.Addr, reg, logger)
}

// runEngine serves t until the command is interrupted, then prints the
// final statistics.
func runEngine(cmd *cobra.Command, cfg *config.Config, t session.Transport, logger *logrus.Logger) error {
	ctx, cancel := signalContext()
	defer cancel()

	out := cmd.OutOrStdout()
	opts, err := engineOptions(cfg, t, out, logger)
	if err != nil {
		return err
	}

	engine, err := motionlink.Startup(ctx, opts)
	if err != nil {
		return err
	}

	srv, err := serveMetrics(ctx, cfg, engine, logger)
	if err != nil {
		_ = engine.Shutdown()
		return err
	}
	if srv != nil {
		defer srv.Close()
		fmt.Fprintf(out, "metrics on http://%s/metrics\n", srv.Addr())
	}

	fmt.Fprintln(out, "Waiting for the companion. Press Ctrl+C to stop...")
	<-engine.Done()

	stats, err := engine.Stats()
	if err != nil {
		return err
	}
	printStats(out, stats)
	return engine.Shutdown()
}

func printStats(out io.Writer, s session.Stats) {
	headColor.Fprintln(out, "Session statistics")
	rows := []struct {
		name  string
		value any
	}{
		{"connection id", s.ConnectionID},
		{"sampling rate", s.SamplingRate},
		{"samples measured", s.Measured},
		{"samples sent", s.Sent},
		{"samples dropped", s.Dropped},
		{"messages submitted", s.Submitted},
		{"messages refused", s.Refused},
		{"messages resent", s.Resent},
		{"delivery failures", s.Failures},
		{"benign failures", s.Ignored},
	}
	for _, r := range rows {
		fmt.Fprintf(out, "  %-20s %v\n", r.name, r.value)
	}
	for _, c := range session.DisconnectCauses() {
		if n := s.DisconnectsBy(c); n > 0 {
			fmt.Fprintf(out, "  %-20s %d\n", "disconnects "+c.String(), n)
		}
	}
}
