package pubsub

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
)

// ListenCmd returns a Bubble Tea command that waits for the next event on ch
// and hands it to Update as a message. It yields nil once ctx is done or ch
// is closed, which ends the listening loop.
func ListenCmd[T any](ctx context.Context, ch <-chan Event[T]) tea.Cmd {
	return func() tea.Msg {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-ch:
			if !ok {
				return nil
			}
			return event
		}
	}
}

// ContinuousListener keeps one broker subscription for the lifetime of a
// Bubble Tea model. Update re-arms it by returning Listen after handling
// each event.
type ContinuousListener[T any] struct {
	ctx    context.Context
	ch     <-chan Event[T]
	broker *Broker[T]
}

// NewContinuousListener subscribes to broker until ctx is cancelled.
func NewContinuousListener[T any](ctx context.Context, broker *Broker[T]) *ContinuousListener[T] {
	return &ContinuousListener[T]{
		ctx:    ctx,
		ch:     broker.Subscribe(ctx),
		broker: broker,
	}
}

// Dropped returns how many events the broker could not deliver because a
// subscriber fell behind.
func (l *ContinuousListener[T]) Dropped() int64 {
	return l.broker.Dropped()
}

// Listen returns the command receiving the next event.
func (l *ContinuousListener[T]) Listen() tea.Cmd {
	return ListenCmd(l.ctx, l.ch)
}
