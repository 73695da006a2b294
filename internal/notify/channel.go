package notify

import (
	"context"

	"github.com/limiquantix/placement/internal/domain"
)

// ChannelSubscriber delivers events to a Go channel.
type ChannelSubscriber struct {
	ch chan domain.AllocationEvent
}

// NewChannelSubscriber creates a channel subscriber with the given buffer.
func NewChannelSubscriber(buffer int) *ChannelSubscriber {
	return &ChannelSubscriber{ch: make(chan domain.AllocationEvent, buffer)}
}

// Events returns the receive side of the channel.
func (c *ChannelSubscriber) Events() <-chan domain.AllocationEvent {
	return c.ch
}

// Deliver sends event, giving up when ctx is done.
func (c *ChannelSubscriber) Deliver(ctx context.Context, event domain.AllocationEvent) error {
	select {
	case c.ch <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
