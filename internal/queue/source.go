package queue

import (
	"context"
	"time"

	"teamshots/internal/domain"
)

// Source hands claimed generations to the worker. Next blocks until a
// generation is claimed or ctx ends.
type Source interface {
	Next(ctx context.Context) (*Delivery, error)
	Close() error
}

// Publisher enqueues new generations.
type Publisher interface {
	Publish(ctx context.Context, job Job) (created bool, err error)
	Close() error
}

// Delivery is one claimed generation. Ack must be called once the record
// reached a terminal status; an unacked delivery is redelivered by sources
// that support it.
type Delivery struct {
	Generation domain.Generation
	ack        func(ctx context.Context) error
}

// NewDelivery wraps a claimed generation. A nil ack is a no-op.
func NewDelivery(g domain.Generation, ack func(ctx context.Context) error) *Delivery {
	return &Delivery{Generation: g, ack: ack}
}

func (d *Delivery) Ack(ctx context.Context) error {
	if d == nil || d.ack == nil {
		return nil
	}
	return d.ack(ctx)
}

func waitPoll(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
