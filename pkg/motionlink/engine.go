// Package motionlink runs a session on its own goroutine and exposes the
// host-facing API: start the engine on a transport, control recording and
// observe connection state.
//
// Transport callbacks, sensor batches and host calls can arrive on any
// goroutine. The engine funnels all of them onto a single loop that owns the
// session, so the session itself never needs locking.
package motionlink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/motionlink/internal/groutine"
	"github.com/srg/motionlink/internal/samplebuf"
	"github.com/srg/motionlink/internal/sensor"
	"github.com/srg/motionlink/internal/session"
)

var (
	ErrNotStarted     = errors.New("engine not started")
	ErrAlreadyStarted = errors.New("engine already started")
	ErrStopped        = errors.New("engine stopped")
	ErrNoTransport    = errors.New("transport is required")

	// ErrLinkDown is returned by StartRecording while the link is down.
	ErrLinkDown = session.ErrLinkDown
)

// Options configures an Engine.
type Options struct {
	Session   session.Options
	Transport session.Transport
	// Sensor defaults to a synthetic sine generator.
	Sensor  session.Sensor
	Handler session.Handler

	Capacity     session.Capacity
	TickInterval time.Duration
	// EventQueue is the number of transport and sensor events buffered
	// ahead of the loop.
	EventQueue int

	Logger *logrus.Logger
}

func DefaultOptions() Options {
	return Options{
		Session:      session.DefaultOptions(),
		Capacity:     session.DefaultCapacity,
		TickInterval: 100 * time.Millisecond,
		EventQueue:   64,
	}
}

type engineState int

const (
	stateIdle engineState = iota
	stateRunning
	stateStopped
)

// Engine owns a session and the goroutine that drives it.
type Engine struct {
	opts      Options
	logger    *logrus.Logger
	session   *session.Session
	transport session.Transport

	events chan event
	calls  chan func()
	quit   chan struct{}
	done   chan struct{}

	mu       sync.Mutex
	state    engineState
	quitOnce sync.Once
	loopGID  atomic.Uint64

	// written by the loop before done is closed
	final    session.Stats
	closeErr error
}

// New builds an engine. Nothing runs until Start.
func New(opts Options) (*Engine, error) {
	if opts.Transport == nil {
		return nil, ErrNoTransport
	}
	d := DefaultOptions()
	if opts.TickInterval <= 0 {
		opts.TickInterval = d.TickInterval
	}
	if opts.EventQueue <= 0 {
		opts.EventQueue = d.EventQueue
	}
	if opts.Capacity == (session.Capacity{}) {
		opts.Capacity = d.Capacity
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.Sensor == nil {
		opts.Sensor = sensor.NewSynthetic(sensor.Sine, opts.Logger)
	}

	e := &Engine{
		opts:      opts,
		logger:    opts.Logger,
		transport: opts.Transport,
		events:    make(chan event, opts.EventQueue),
		calls:     make(chan func()),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	sopts := opts.Session
	sopts.SampleSink = e.postSamples
	s, err := session.New(opts.Transport, opts.Sensor, opts.Handler, sopts, opts.Logger)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	e.session = s
	return e, nil
}

// Startup creates and starts an engine in one call.
func Startup(ctx context.Context, opts Options) (*Engine, error) {
	e, err := New(opts)
	if err != nil {
		return nil, err
	}
	if err := e.Start(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// Start opens the transport and launches the loop. Cancelling ctx shuts
// the engine down just like Shutdown.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != stateIdle {
		return ErrAlreadyStarted
	}

	if err := e.transport.Open(ctx, e.opts.Capacity, engineEvents{e}); err != nil {
		return fmt.Errorf("open transport: %w", err)
	}
	e.state = stateRunning

	e.logger.WithFields(logrus.Fields{
		"tick":        e.opts.TickInterval.String(),
		"max_payload": e.transport.MaxPayload(),
		"inbox":       e.opts.Capacity.Inbox,
		"outbox":      e.opts.Capacity.Outbox,
	}).Info("Engine started")

	groutine.Go(ctx, "motionlink-engine", e.run)
	return nil
}

func (e *Engine) run(ctx context.Context) {
	e.loopGID.Store(groutine.ID())
	defer close(e.done)

	timer := time.NewTimer(e.opts.TickInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.WithError(ctx.Err()).Debug("Engine context done")
			e.shutdown()
			return
		case <-e.quit:
			e.shutdown()
			return
		case <-timer.C:
			e.session.Tick()
			timer.Reset(e.opts.TickInterval)
		case ev := <-e.events:
			e.dispatch(ev)
		case fn := <-e.calls:
			fn()
		}
	}
}

func (e *Engine) shutdown() {
	e.session.Shutdown()
	if err := e.opts.Sensor.Unsubscribe(); err != nil {
		e.logger.WithError(err).Warn("Failed to unsubscribe sensor")
	}
	if err := e.transport.Close(); err != nil {
		e.closeErr = fmt.Errorf("close transport: %w", err)
	}
	e.final = e.session.Stats()

	e.mu.Lock()
	e.state = stateStopped
	e.mu.Unlock()

	e.logger.WithFields(logrus.Fields{
		"sent":     e.final.Sent,
		"measured": e.final.Measured,
	}).Info("Engine stopped")
}

// onLoop reports whether the caller is the loop goroutine, e.g. a handler
// calling back into the engine.
func (e *Engine) onLoop() bool {
	gid := e.loopGID.Load()
	return gid != 0 && gid == groutine.ID()
}

// do runs fn on the loop goroutine and waits for it to finish.
func (e *Engine) do(fn func()) error {
	if e.onLoop() {
		fn()
		return nil
	}

	e.mu.Lock()
	state := e.state
	e.mu.Unlock()
	switch state {
	case stateIdle:
		return ErrNotStarted
	case stateStopped:
		return ErrStopped
	}

	reply := make(chan struct{})
	select {
	case e.calls <- func() { fn(); close(reply) }:
	case <-e.done:
		return ErrStopped
	}
	<-reply
	return nil
}

// Shutdown stops the loop: the session announces the disconnect and drains
// pending control flags, then the transport is closed. It blocks until the
// loop has exited, except when called from a handler, where it only
// requests the stop.
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	state := e.state
	e.mu.Unlock()
	if state == stateIdle {
		return ErrNotStarted
	}

	e.quitOnce.Do(func() { close(e.quit) })
	if e.onLoop() {
		return nil
	}
	<-e.done
	return e.closeErr
}

// Done is closed once the loop has exited.
func (e *Engine) Done() <-chan struct{} { return e.done }

func (e *Engine) postSamples(samples []samplebuf.Sample) {
	e.post(event{kind: eventSamples, samples: samples})
}

// post queues ev for the loop. It drops ev once the loop has exited, or
// when the loop itself posts into a full queue.
func (e *Engine) post(ev event) {
	if e.onLoop() {
		select {
		case e.events <- ev:
		default:
			e.logger.WithField("kind", ev.kind).Warn("Event queue full, dropping event")
		}
		return
	}
	select {
	case e.events <- ev:
	case <-e.done:
	}
}
