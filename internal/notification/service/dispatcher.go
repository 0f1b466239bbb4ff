package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/smallbiznis/stitchery/internal/clock"
	"github.com/smallbiznis/stitchery/internal/config"
	"github.com/smallbiznis/stitchery/internal/liveevents"
	notificationdomain "github.com/smallbiznis/stitchery/internal/notification/domain"
	obsmetrics "github.com/smallbiznis/stitchery/internal/observability/metrics"
	"github.com/smallbiznis/stitchery/internal/providers/email"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	defaultWorkers   = 4
	defaultQueueSize = 256
	sendTimeout      = 30 * time.Second
)

var errNoRecipient = errors.New("recipient not found")

type Params struct {
	fx.In

	Config     config.Config
	Log        *zap.Logger
	Clock      clock.Clock
	Email      email.Provider
	Resolver   notificationdomain.RecipientResolver
	Marker     notificationdomain.SentMarker
	Hub        *liveevents.Hub     `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Dispatcher delivers events on a bounded worker pool. Notify enqueues and
// returns; a full queue drops the event, which the resend sweep recovers for
// orders.
type Dispatcher struct {
	log        *zap.Logger
	clock      clock.Clock
	email      email.Provider
	resolver   notificationdomain.RecipientResolver
	marker     notificationdomain.SentMarker
	hub        *liveevents.Hub
	obsMetrics *obsmetrics.Metrics
	renderer   *Renderer
	workers    int

	mu      sync.RWMutex
	queue   chan notificationdomain.Event
	stopped bool
	wg      sync.WaitGroup
}

func NewDispatcher(p Params) (*Dispatcher, error) {
	renderer, err := NewRenderer(p.Config.AppName, p.Config.FrontendURL)
	if err != nil {
		return nil, err
	}
	workers := p.Config.Notify.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	size := p.Config.Notify.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Dispatcher{
		log:        p.Log.Named("notification.dispatcher"),
		clock:      clk,
		email:      p.Email,
		resolver:   p.Resolver,
		marker:     p.Marker,
		hub:        p.Hub,
		obsMetrics: p.ObsMetrics,
		renderer:   renderer,
		workers:    workers,
		queue:      make(chan notificationdomain.Event, size),
	}, nil
}

// Notify never blocks.
func (d *Dispatcher) Notify(ctx context.Context, event notificationdomain.Event) {
	if event.At.IsZero() {
		event.At = d.clock.Now()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		d.obsMetrics.RecordNotification(ctx, string(event.Kind), "dropped")
		d.log.Warn("notification dropped after shutdown", zap.String("kind", string(event.Kind)))
		return
	}
	select {
	case d.queue <- event:
	default:
		d.obsMetrics.RecordNotification(ctx, string(event.Kind), "dropped")
		d.log.Warn("notification queue full",
			zap.String("kind", string(event.Kind)),
			zap.String("user_id", event.UserID.String()),
		)
	}
}

func (d *Dispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.work()
	}
}

// Stop closes the queue and waits for the workers to drain it, or for ctx.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.stopped {
		d.stopped = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		d.log.Warn("notification drain interrupted", zap.Int("pending", len(d.queue)))
		return ctx.Err()
	}
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for event := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		d.deliver(ctx, event)
		cancel()
	}
}

func (d *Dispatcher) deliver(ctx context.Context, event notificationdomain.Event) {
	if event.Kind.IsOrder() {
		d.hub.Publish(event.UserID, liveevents.OrderEvent{
			OrderID: event.OrderID,
			Number:  event.OrderNumber,
			Status:  event.OrderStatus,
			At:      event.At,
		})
	}

	err := d.send(ctx, event)
	if err != nil {
		d.obsMetrics.RecordNotification(ctx, string(event.Kind), "failed")
		d.log.Warn("notification failed",
			zap.String("kind", string(event.Kind)),
			zap.String("user_id", event.UserID.String()),
			zap.Error(err),
		)
		return
	}
	d.obsMetrics.RecordNotification(ctx, string(event.Kind), "sent")

	if event.Kind.IsOrder() && event.OrderID != 0 && d.marker != nil {
		if err := d.marker.MarkNotificationSent(ctx, event.OrderID, event.OrderStatus, d.clock.Now()); err != nil {
			d.log.Warn("mark notification sent failed",
				zap.String("order_id", event.OrderID.String()),
				zap.Error(err),
			)
		}
	}
}

func (d *Dispatcher) send(ctx context.Context, event notificationdomain.Event) error {
	recipient, err := d.resolver.Resolve(ctx, event.UserID)
	if err != nil {
		return err
	}
	if recipient == nil || recipient.Email == "" {
		return errNoRecipient
	}
	subject, body, err := d.renderer.Render(event, *recipient)
	if err != nil {
		return err
	}
	return d.email.Send(ctx, []string{recipient.Email}, subject, body)
}
