// Package gatt exposes the session link as a BLE GATT peripheral. The
// companion writes messages to the inbox characteristic and subscribes to
// notifications on the outbox characteristic; the link is up while that
// subscription is active.
package gatt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/motionlink/internal/groutine"
	"github.com/srg/motionlink/internal/session"
	"github.com/srg/motionlink/internal/transport"
)

// Options configures the advertised peripheral.
type Options struct {
	DeviceName  string
	ServiceUUID string
	InboxUUID   string
	OutboxUUID  string
	// MaxPayload caps a single notification. The negotiated notifier
	// capacity lowers it further when the stack reports one.
	MaxPayload int
	// QueueDepth is the number of accepted messages waiting for the writer.
	QueueDepth int
}

func DefaultOptions() Options {
	return Options{
		DeviceName:  "motionlink",
		ServiceUUID: "464d0001-7c2b-4e5a-9f3d-6d6f74696f6e",
		InboxUUID:   "464d0002-7c2b-4e5a-9f3d-6d6f74696f6e",
		OutboxUUID:  "464d0003-7c2b-4e5a-9f3d-6d6f74696f6e",
		MaxPayload:  244,
		QueueDepth:  16,
	}
}

var (
	ErrSubscribed      = errors.New("outbox already has a subscriber")
	ErrPayloadTooSmall = errors.New("notification payload too small")
)

// DeviceFactory creates the local BLE device. Tests substitute a fake.
type DeviceFactory func() (ble.Device, error)

// Transport implements session.Transport as a GATT server.
type Transport struct {
	opts      Options
	logger    *logrus.Logger
	newDevice DeviceFactory

	mu         sync.RWMutex
	events     session.Events
	capacity   session.Capacity
	notifier   ble.Notifier
	maxPayload int
	service    *ble.Service

	queue      chan []byte
	ctx        context.Context
	cancel     context.CancelFunc
	advertised chan struct{}

	up     atomic.Bool
	closed atomic.Bool
}

func New(opts Options, logger *logrus.Logger) *Transport {
	d := DefaultOptions()
	if opts.DeviceName == "" {
		opts.DeviceName = d.DeviceName
	}
	if opts.ServiceUUID == "" {
		opts.ServiceUUID = d.ServiceUUID
	}
	if opts.InboxUUID == "" {
		opts.InboxUUID = d.InboxUUID
	}
	if opts.OutboxUUID == "" {
		opts.OutboxUUID = d.OutboxUUID
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = d.QueueDepth
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Transport{opts: opts, logger: logger, newDevice: newDevice}
}

// WithDeviceFactory replaces the platform device constructor.
func (t *Transport) WithDeviceFactory(f DeviceFactory) *Transport {
	t.newDevice = f
	return t
}

// Open registers the service on the default device and starts advertising.
// The link stays down until a central subscribes to the outbox.
func (t *Transport) Open(ctx context.Context, capacity session.Capacity, events session.Events) error {
	if events == nil || t.closed.Load() {
		return transport.ErrClosed
	}

	svc, err := t.profile()
	if err != nil {
		return err
	}

	dev, err := t.newDevice()
	if err != nil {
		return err
	}
	ble.SetDefaultDevice(dev)
	if err := ble.AddService(svc); err != nil {
		return fmt.Errorf("add service %s: %w", t.opts.ServiceUUID, err)
	}

	t.mu.Lock()
	t.events = events
	t.capacity = capacity
	t.service = svc
	t.maxPayload = transport.ClampPayload(t.opts.MaxPayload, capacity.Outbox)
	t.queue = make(chan []byte, t.opts.QueueDepth)
	t.ctx, t.cancel = context.WithCancel(context.Background())
	t.advertised = make(chan struct{})
	runCtx, advertised := t.ctx, t.advertised
	t.mu.Unlock()

	groutine.Go(runCtx, "gatt-writer", t.writeLoop)
	groutine.Go(runCtx, "gatt-advertise", func(ctx context.Context) {
		defer close(advertised)
		err := ble.AdvertiseNameAndServices(ctx, t.opts.DeviceName, svc.UUID)
		if err != nil && !errors.Is(err, context.Canceled) {
			t.logger.WithError(err).Error("Advertising stopped")
		}
	})

	t.logger.WithFields(logrus.Fields{
		"name":    t.opts.DeviceName,
		"service": t.opts.ServiceUUID,
	}).Info("GATT transport opened, advertising")
	return nil
}

func (t *Transport) profile() (*ble.Service, error) {
	var uuids [3]ble.UUID
	for i, s := range []string{t.opts.ServiceUUID, t.opts.InboxUUID, t.opts.OutboxUUID} {
		u, err := ble.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("parse UUID %q: %w", s, err)
		}
		uuids[i] = u
	}

	svc := ble.NewService(uuids[0])
	svc.NewCharacteristic(uuids[1]).HandleWrite(ble.WriteHandlerFunc(t.onWrite))
	svc.NewCharacteristic(uuids[2]).HandleNotify(ble.NotifyHandlerFunc(t.onSubscribe))
	return svc, nil
}

// Service returns the registered GATT service, nil before Open.
func (t *Transport) Service() *ble.Service {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.service
}

func (t *Transport) onWrite(req ble.Request, rsp ble.ResponseWriter) {
	if t.closed.Load() {
		rsp.SetStatus(ble.ErrWriteNotPerm)
		return
	}

	t.mu.RLock()
	ev, inbox := t.events, t.capacity.Inbox
	t.mu.RUnlock()

	data := req.Data()
	if inbox > 0 && len(data) > inbox {
		t.logger.WithFields(logrus.Fields{
			"bytes": len(data),
			"inbox": inbox,
		}).Warn("Inbound message exceeds inbox capacity")
		rsp.SetStatus(ble.ErrInvalAttrValueLen)
		return
	}
	if ev != nil {
		ev.Received(append([]byte(nil), data...))
	}
}

// onSubscribe serves one outbox subscription for as long as the central
// keeps it. A second subscriber, or one whose notifications are too small
// for a sample message, is turned away.
func (t *Transport) onSubscribe(_ ble.Request, n ble.Notifier) {
	if err := t.attach(n); err != nil {
		t.logger.WithError(err).Warn("Rejecting outbox subscription")
		return
	}
	defer t.detach(n)

	t.mu.RLock()
	ctx := t.ctx
	t.mu.RUnlock()

	select {
	case <-n.Context().Done():
	case <-ctx.Done():
	}
}

func (t *Transport) attach(n ble.Notifier) error {
	if t.closed.Load() {
		return transport.ErrClosed
	}
	t.mu.RLock()
	limit := transport.ClampPayload(t.opts.MaxPayload, t.capacity.Outbox)
	t.mu.RUnlock()
	if c := n.Cap(); c > 0 {
		limit = min(limit, c)
	}
	if need := session.MinPayload(session.DefaultSafetyMargin); limit < need {
		return fmt.Errorf("notification payload %d, need %d: %w", limit, need, ErrPayloadTooSmall)
	}

	t.mu.Lock()
	if t.notifier != nil {
		t.mu.Unlock()
		return ErrSubscribed
	}
	t.notifier = n
	t.maxPayload = limit
	t.mu.Unlock()

	t.logger.WithField("max_payload", limit).Info("Companion subscribed to outbox")
	t.setLinkUp(true)
	return nil
}

func (t *Transport) detach(n ble.Notifier) {
	t.mu.Lock()
	if t.notifier != n {
		t.mu.Unlock()
		return
	}
	t.notifier = nil
	t.mu.Unlock()

	t.logger.Info("Companion unsubscribed from outbox")
	t.setLinkUp(false)
}

func (t *Transport) setLinkUp(up bool) {
	if t.up.Swap(up) == up || t.closed.Load() {
		return
	}
	t.mu.RLock()
	ev := t.events
	t.mu.RUnlock()
	if ev != nil {
		ev.LinkChanged(up)
	}
}

func (t *Transport) MaxPayload() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.maxPayload
}

func (t *Transport) LinkUp() bool { return !t.closed.Load() && t.up.Load() }

// Submit queues payload for notification. Write errors are reported
// through Events.Failed.
func (t *Transport) Submit(payload []byte) error {
	switch {
	case t.closed.Load():
		return transport.ErrClosed
	case !t.up.Load():
		return transport.ErrNotConnected
	case len(payload) > t.MaxPayload():
		return transport.ErrTooLarge
	}

	t.mu.RLock()
	queue := t.queue
	t.mu.RUnlock()

	select {
	case queue <- append([]byte(nil), payload...):
		return nil
	default:
		return transport.ErrBusy
	}
}

func (t *Transport) writeLoop(ctx context.Context) {
	t.mu.RLock()
	queue := t.queue
	t.mu.RUnlock()

	for {
		select {
		case <-ctx.Done():
			return
		case p := <-queue:
			t.mu.RLock()
			n := t.notifier
			t.mu.RUnlock()

			if n == nil {
				t.fail(p, session.ReasonNotConnected, nil)
				continue
			}
			if _, err := n.Write(p); err != nil {
				t.fail(p, reasonFor(err), err)
			}
		}
	}
}

func reasonFor(err error) session.FailureReason {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return session.ReasonSendTimeout
	case errors.Is(err, context.Canceled):
		return session.ReasonNotConnected
	default:
		return session.ReasonSendRejected
	}
}

func (t *Transport) fail(payload []byte, reason session.FailureReason, err error) {
	if t.closed.Load() {
		return
	}
	t.logger.WithError(err).WithFields(logrus.Fields{
		"reason": reason.String(),
		"bytes":  len(payload),
	}).Debug("Notification failed")

	t.mu.RLock()
	ev := t.events
	t.mu.RUnlock()
	if ev != nil {
		ev.Failed(payload, reason)
	}
}

// Close stops advertising, ends the subscription and removes the service.
// It reports no further events.
func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	t.up.Store(false)

	t.mu.Lock()
	cancel, n, svc, advertised := t.cancel, t.notifier, t.service, t.advertised
	t.notifier = nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
		<-advertised
	}
	if n != nil {
		_ = n.Close()
	}
	if svc == nil {
		return nil
	}

	var errs []error
	if err := ble.RemoveAllServices(); err != nil {
		errs = append(errs, fmt.Errorf("remove services: %w", err))
	}
	if err := ble.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop device: %w", err))
	}
	t.logger.Debug("GATT transport closed")
	return errors.Join(errs...)
}
