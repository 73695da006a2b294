// Package notify fans allocation events out to subscribers.
//
// Every subscription owns a bounded queue drained by its own goroutine, so
// Publish never waits on a subscriber. A subscriber whose delivery fails or
// whose queue overflows is dropped while the others keep receiving, unless it
// was subscribed with Persistent, in which case only the event is lost.
// Delivery is at most once and nothing is replayed.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/limiquantix/placement/internal/domain"
)

// ErrClosed is returned by Publish and Subscribe after Close.
var ErrClosed = errors.New("notification bus closed")

// Subscriber receives allocation events. Deliver must return once ctx is done.
type Subscriber interface {
	Deliver(ctx context.Context, event domain.AllocationEvent) error
}

// SubscriberFunc adapts a function to the Subscriber interface.
type SubscriberFunc func(ctx context.Context, event domain.AllocationEvent) error

// Deliver calls f(ctx, event).
func (f SubscriberFunc) Deliver(ctx context.Context, event domain.AllocationEvent) error {
	return f(ctx, event)
}

// DropReason explains why an event did not reach a subscriber.
type DropReason string

const (
	DropQueueFull      DropReason = "queue_full"
	DropDeliveryFailed DropReason = "delivery_failed"
	DropTimeout        DropReason = "timeout"
)

// Config holds bus settings.
type Config struct {
	QueueSize       int           `mapstructure:"queue_size"`
	DeliveryTimeout time.Duration `mapstructure:"delivery_timeout"`
	WebhookURL      string        `mapstructure:"webhook_url"`
}

// DefaultConfig returns the default bus configuration.
func DefaultConfig() Config {
	return Config{
		QueueSize:       64,
		DeliveryTimeout: 5 * time.Second,
	}
}

// Bus is an in-process publish/subscribe hub for allocation events.
type Bus struct {
	config Config
	logger *zap.Logger
	onDrop func(name string, reason DropReason)

	mu     sync.RWMutex
	subs   map[string]*Subscription
	closed bool

	wg sync.WaitGroup
}

// BusOption configures the bus.
type BusOption func(*Bus)

// WithDropHandler registers a callback invoked whenever an event is lost for a
// subscriber, whether or not the subscription itself is removed.
func WithDropHandler(fn func(name string, reason DropReason)) BusOption {
	return func(b *Bus) {
		b.onDrop = fn
	}
}

// NewBus creates a notification bus.
func NewBus(config Config, logger *zap.Logger, opts ...BusOption) *Bus {
	defaults := DefaultConfig()
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}
	if config.DeliveryTimeout <= 0 {
		config.DeliveryTimeout = defaults.DeliveryTimeout
	}

	b := &Bus{
		config: config,
		logger: logger.Named("notify"),
		subs:   make(map[string]*Subscription),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscription is a live registration on the bus.
type Subscription struct {
	id         string
	name       string
	subscriber Subscriber
	queue      chan domain.AllocationEvent
	persistent bool

	ctx    context.Context
	cancel context.CancelFunc
}

// ID returns the unique subscription ID.
func (s *Subscription) ID() string { return s.id }

// Name returns the name given at Subscribe.
func (s *Subscription) Name() string { return s.name }

// Done is closed once the subscription has been removed from the bus.
func (s *Subscription) Done() <-chan struct{} { return s.ctx.Done() }

// SubscribeOption configures a subscription.
type SubscribeOption func(*Subscription)

// Persistent keeps the subscription after a failed, timed out or overflowing
// delivery. Use it for long-lived sinks such as webhooks.
func Persistent() SubscribeOption {
	return func(s *Subscription) {
		s.persistent = true
	}
}

// Subscribe registers a subscriber and starts its delivery goroutine.
func (b *Bus) Subscribe(name string, subscriber Subscriber, opts ...SubscribeOption) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Subscription{
		id:         uuid.New().String(),
		name:       name,
		subscriber: subscriber,
		queue:      make(chan domain.AllocationEvent, b.config.QueueSize),
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	b.subs[s.id] = s

	b.wg.Add(1)
	go b.run(s)

	b.logger.Debug("Subscriber added",
		zap.String("subscription_id", s.id),
		zap.String("subscriber", name),
		zap.Bool("persistent", s.persistent),
	)
	return s, nil
}

// Unsubscribe removes a subscription. Removing an unknown or already
// dropped subscription is a no-op.
func (b *Bus) Unsubscribe(s *Subscription) {
	if s == nil {
		return
	}
	if b.remove(s) {
		b.logger.Debug("Subscriber removed",
			zap.String("subscription_id", s.id),
			zap.String("subscriber", s.name),
		)
	}
}

// Publish hands event to every current subscriber without blocking.
func (b *Bus) Publish(event domain.AllocationEvent) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	subs := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		select {
		case s.queue <- event:
		default:
			b.fail(s, event, DropQueueFull, nil)
		}
	}
	return nil
}

// Len returns the number of live subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close removes all subscriptions and waits for their goroutines to exit.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[string]*Subscription)
	b.mu.Unlock()

	for _, s := range subs {
		s.cancel()
	}
	b.wg.Wait()
}

func (b *Bus) run(s *Subscription) {
	defer b.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case event := <-s.queue:
			if err := b.deliver(s, event); err != nil {
				if s.ctx.Err() != nil {
					return
				}
				reason := DropDeliveryFailed
				if errors.Is(err, context.DeadlineExceeded) {
					reason = DropTimeout
				}
				if !b.fail(s, event, reason, err) {
					return
				}
			}
		}
	}
}

func (b *Bus) deliver(s *Subscription, event domain.AllocationEvent) error {
	ctx, cancel := context.WithTimeout(s.ctx, b.config.DeliveryTimeout)
	defer cancel()
	return s.subscriber.Deliver(ctx, event)
}

// fail handles an event that did not reach s. Persistent subscriptions only
// lose the event; others are dropped. It reports whether s is still live.
func (b *Bus) fail(s *Subscription, event domain.AllocationEvent, reason DropReason, err error) bool {
	if !s.persistent {
		b.drop(s, reason, err)
		return false
	}

	b.logger.Warn("Failed to deliver event",
		zap.String("subscription_id", s.id),
		zap.String("subscriber", s.name),
		zap.String("vm_id", event.VMID),
		zap.String("reason", string(reason)),
		zap.Error(err),
	)
	if b.onDrop != nil {
		b.onDrop(s.name, reason)
	}
	return true
}

// drop removes s and reports it, unless s is already gone.
func (b *Bus) drop(s *Subscription, reason DropReason, err error) {
	if !b.remove(s) {
		return
	}

	b.logger.Warn("Dropped subscriber",
		zap.String("subscription_id", s.id),
		zap.String("subscriber", s.name),
		zap.String("reason", string(reason)),
		zap.Error(err),
	)
	if b.onDrop != nil {
		b.onDrop(s.name, reason)
	}
}

func (b *Bus) remove(s *Subscription) bool {
	b.mu.Lock()
	_, ok := b.subs[s.id]
	if ok {
		delete(b.subs, s.id)
	}
	b.mu.Unlock()

	if ok {
		s.cancel()
	}
	return ok
}
