// Package events fans out user lifecycle notifications to in-process
// subscribers without ever blocking the publisher.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"userboard.io/internal/obs"
)

// AllTopics subscribes to every topic.
const AllTopics = "*"

const defaultBuffer = 64

// Event is one published message. Payload holds the JSON encoding.
type Event struct {
	Topic       string          `json:"topic"`
	Payload     json.RawMessage `json:"payload"`
	PublishedAt time.Time       `json:"published_at"`
}

// Handler consumes events delivered to a named subscription.
type Handler func(ctx context.Context, evt Event) error

// Publisher is the write side of the bus.
type Publisher interface {
	Publish(topic string, payload any)
}

type subscriber struct {
	topic string
	ch    chan Event
}

// Bus delivers events to subscribers through per-subscriber buffered queues.
// A full queue drops the event for that subscriber only.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*subscriber
	next   int
	closed bool

	buffer int
	logger *slog.Logger
	now    func() time.Time
	wg     sync.WaitGroup
}

// Option configures Bus.
type Option func(*Bus)

// WithBuffer sets the queue length per subscriber.
func WithBuffer(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.buffer = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

func WithClock(fn func() time.Time) Option {
	return func(b *Bus) {
		if fn != nil {
			b.now = fn
		}
	}
}

// NewBus returns an empty bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		subs:   make(map[int]*subscriber),
		buffer: defaultBuffer,
		logger: obs.Logger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a subscriber for topic and returns its queue. The
// channel is closed when ctx ends or the bus is closed.
func (b *Bus) Subscribe(ctx context.Context, topic string) <-chan Event {
	ch := make(chan Event, b.buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch
	}
	id := b.next
	b.next++
	b.subs[id] = &subscriber{topic: topic, ch: ch}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.unsubscribe(id)
	}()
	return ch
}

func (b *Bus) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(sub.ch)
	}
}

// Handle runs fn for every event on topic in its own goroutine until ctx ends
// or the bus closes. Handler errors are logged and counted, never returned.
func (b *Bus) Handle(ctx context.Context, name, topic string, fn Handler) {
	ch := b.Subscribe(ctx, topic)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for evt := range ch {
			hctx := context.WithoutCancel(ctx)
			if err := fn(hctx, evt); err != nil {
				obs.RecordEvent(evt.Topic, "handler_error")
				b.logger.Warn("event handler failed",
					slog.String("handler", name),
					slog.String("topic", evt.Topic),
					slog.String("error", err.Error()),
				)
			}
		}
	}()
}

// Publish encodes payload and queues it for every matching subscriber.
// It never blocks and never fails the caller.
func (b *Bus) Publish(topic string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		obs.RecordEvent(topic, "encode_error")
		b.logger.Error("event encode failed", slog.String("topic", topic), slog.String("error", err.Error()))
		return
	}
	evt := Event{Topic: topic, Payload: raw, PublishedAt: b.now().UTC()}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		obs.RecordEvent(topic, "closed")
		return
	}
	for _, sub := range b.subs {
		if sub.topic != AllTopics && sub.topic != topic {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			obs.RecordEvent(topic, "dropped")
			b.logger.Warn("event dropped, subscriber queue full",
				slog.String("topic", topic),
				slog.String("subscription", sub.topic),
			)
		}
	}
	obs.RecordEvent(topic, "published")
}

// Close stops accepting events, closes all queues and waits for handlers
// to finish what was already queued.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
	b.mu.Unlock()
	b.wg.Wait()
}
