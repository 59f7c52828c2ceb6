// Package reconciler turns the open orders of a workload into instance creations and deletions.
package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gammadia/workloads/metrics"
	"github.com/gammadia/workloads/workload"
	"github.com/samber/lo"
)

// Loop reconciles a single workload. Loops of different workloads share nothing but the order
// source behind them.
type Loop struct {
	workload    Workload
	source      OrderSource
	provisioner Provisioner
	config      Config
	log         *slog.Logger

	mu sync.Mutex
	// dispatched holds the acknowledgement owed for every order already handed to the backend
	dispatched map[int64]workload.OrderStatus
}

func New(w Workload, source OrderSource, provisioner Provisioner, config Config) *Loop {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Loop{
		workload:    w,
		source:      source,
		provisioner: provisioner,
		config:      config,
		log:         config.Logger.With("component", "reconciler", "workload", w.Name),

		dispatched: make(map[int64]workload.OrderStatus),
	}
}

// Run ticks every PollInterval until ctx is cancelled. A failing tick is logged and retried on
// the next one.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Info("Reconciliation loop is running", "poll-interval", l.config.PollInterval)

	ticker := l.config.Clock.NewTicker(l.config.PollInterval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			l.log.Info("Reconciliation loop is stopping")
			return nil
		}

		if err := l.Tick(ctx); err != nil && ctx.Err() == nil {
			l.log.Warn("Reconciliation tick failed", "error", err)
		}

		select {
		case <-ctx.Done():
		case <-ticker.C():
		}
	}
}

// Tick polls the open orders once, dispatches those not seen before and acknowledges them.
func (l *Loop) Tick(ctx context.Context) error {
	orders, err := l.source.OpenOrders(ctx, l.workload.ID)
	if err != nil {
		metrics.RecordPollFailure()
		return fmt.Errorf("failed to poll open orders: %w", err)
	}

	l.forgetAbsent(orders)

	for _, order := range orders {
		if err := ctx.Err(); err != nil {
			return err
		}

		status, seen := l.owed(order.ID)
		if !seen {
			status = l.dispatch(ctx, order)
			if ctx.Err() != nil {
				// Interrupted dispatches are not acknowledged
				return ctx.Err()
			}
			l.owe(order.ID, status)
		} else {
			l.log.Debug("Order already dispatched, acknowledging again", "order", order.ID, "status", status)
		}

		if err := l.source.Acknowledge(ctx, l.workload.ID, order.ID, status); err != nil {
			metrics.RecordAcknowledgement(status.String(), false)
			l.log.Warn("Failed to acknowledge order", "order", order.ID, "status", status, "error", err)
			continue
		}

		metrics.RecordAcknowledgement(status.String(), true)
		l.log.Info("Acknowledged order", "order", order.ID, "status", status)
	}

	return nil
}

func (l *Loop) dispatch(ctx context.Context, order workload.Order) workload.OrderStatus {
	if l.config.DispatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.config.DispatchTimeout)
		defer cancel()
	}

	var err error
	var direction string

	switch {
	case order.Grows():
		direction = "grow"
		l.log.Info("Creating instances", "order", order.ID, "count", order.Instances)
		err = l.provisioner.CreateInstances(ctx, order.Instances, l.workload)
	case order.Shrinks():
		direction = "shrink"
		l.log.Info("Deleting instances", "order", order.ID, "count", -order.Instances)
		err = l.provisioner.DeleteInstances(ctx, -order.Instances, l.workload)
	default:
		return workload.OrderStatusFilled
	}

	metrics.RecordDispatch(direction, err == nil)
	if err == nil {
		return workload.OrderStatusFilled
	}

	if l.config.StrictAck {
		l.log.Error("Order dispatch failed", "order", order.ID, "error", err)
		return workload.OrderStatusError
	}

	l.log.Warn("Order dispatch failed, acknowledging it as filled anyway", "order", order.ID, "error", err)
	return workload.OrderStatusFilled
}

func (l *Loop) owed(orderID int64) (workload.OrderStatus, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	status, ok := l.dispatched[orderID]
	return status, ok
}

func (l *Loop) owe(orderID int64, status workload.OrderStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dispatched[orderID] = status
}

// forgetAbsent drops the orders no longer listed as open: their acknowledgement went through.
func (l *Loop) forgetAbsent(orders []workload.Order) {
	open := lo.Associate(orders, func(o workload.Order) (int64, struct{}) {
		return o.ID, struct{}{}
	})

	l.mu.Lock()
	defer l.mu.Unlock()
	for id := range l.dispatched {
		if _, ok := open[id]; !ok {
			delete(l.dispatched, id)
		}
	}
}
