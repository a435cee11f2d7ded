package alerts

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"faceguard/internal/metrics"
	"faceguard/internal/model"
)

// Notifier delivers alerts on the channels it serves.
type Notifier interface {
	Name() string
	Channels() []string
	Notify(ctx context.Context, a model.Alert) error
}

// Sink is the append-only alert log.
type Sink interface {
	SaveAlert(ctx context.Context, a model.Alert) error
}

// Dispatcher decouples the frame pipeline from persistence and delivery.
// Publish never blocks; Run drains the queue.
type Dispatcher struct {
	queue     chan model.Alert
	notifiers []Notifier
	sink      Sink
	timeout   time.Duration
	logger    *slog.Logger
	wg        sync.WaitGroup
}

func NewDispatcher(buffer int, timeout time.Duration, sink Sink, logger *slog.Logger, notifiers ...Notifier) *Dispatcher {
	if buffer <= 0 {
		buffer = 1024
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{
		queue:     make(chan model.Alert, buffer),
		notifiers: notifiers,
		sink:      sink,
		timeout:   timeout,
		logger:    logger,
	}
}

// Publish queues a copy of a. It returns false if the queue is full.
func (d *Dispatcher) Publish(a model.Alert) bool {
	select {
	case d.queue <- a.Clone():
		return true
	default:
		metrics.AlertsDroppedTotal.Inc()
		if d.logger != nil {
			d.logger.Warn("alert queue full, dropping alert", "session_id", a.SessionID, "alert_type", a.Type, "severity", a.Severity)
		}
		return false
	}
}

func (d *Dispatcher) Pending() int {
	return len(d.queue)
}

// Run persists and fans out queued alerts until ctx is done. Alerts still
// queued at that point are handled before Run waits for in-flight
// deliveries and returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer d.wg.Wait()
	// Deliveries are bounded by the per-call timeout, not by shutdown.
	base := context.WithoutCancel(ctx)
	for {
		select {
		case a := <-d.queue:
			d.handle(base, a)
		case <-ctx.Done():
			d.drain(base)
			return ctx.Err()
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context) {
	for {
		select {
		case a := <-d.queue:
			d.handle(ctx, a)
		default:
			return
		}
	}
}

// Close releases notifiers that hold connections. Call it after Run has
// returned.
func (d *Dispatcher) Close() error {
	var errs []error
	for _, n := range d.notifiers {
		if c, ok := n.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Serve lets the dispatcher run under a supervisor.
func (d *Dispatcher) Serve(ctx context.Context) error {
	return d.Run(ctx)
}

func (d *Dispatcher) String() string {
	return "alert-dispatcher"
}

func (d *Dispatcher) handle(ctx context.Context, a model.Alert) {
	if d.sink != nil {
		sctx, cancel := context.WithTimeout(ctx, d.timeout)
		if err := d.sink.SaveAlert(sctx, a); err != nil {
			metrics.StoreFailuresTotal.WithLabelValues("alert").Inc()
			if d.logger != nil {
				d.logger.Warn("alert store failed", "alert_id", a.ID, "err", err)
			}
		}
		cancel()
	}
	for _, n := range d.notifiers {
		if !overlaps(n.Channels(), a.Channels) {
			continue
		}
		d.wg.Add(1)
		go func(n Notifier, a model.Alert) {
			defer d.wg.Done()
			nctx, cancel := context.WithTimeout(ctx, d.timeout)
			defer cancel()
			if err := n.Notify(nctx, a); err != nil {
				metrics.NotifyFailuresTotal.WithLabelValues(n.Name()).Inc()
				if d.logger != nil {
					d.logger.Warn("notification failed", "notifier", n.Name(), "alert_id", a.ID, "err", err)
				}
			}
		}(n, a.Clone())
	}
}

func overlaps(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
