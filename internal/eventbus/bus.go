// Package eventbus is the in-process publish/subscribe dispatcher that
// connects the bridges to the gateway services.
package eventbus

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"go.uber.org/zap"
)

// Handler processes one event. A returned error is logged and does not reach
// the publisher or the other handlers.
type Handler func(ctx context.Context, event any) error

// Subscription identifies a registered handler
type Subscription struct {
	eventType reflect.Type
	id        uint64
}

// Bus dispatches events to the handlers registered for their concrete type
type Bus struct {
	mu       sync.RWMutex
	handlers map[reflect.Type]map[uint64]Handler
	nextID   uint64

	inflight sync.WaitGroup
	log      *zap.Logger
}

// New creates an empty bus
func New(log *zap.Logger) *Bus {
	return &Bus{
		handlers: make(map[reflect.Type]map[uint64]Handler),
		log:      log.Named("eventbus"),
	}
}

// Subscribe registers h for events whose dynamic type is eventType
func (b *Bus) Subscribe(eventType reflect.Type, h Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	if b.handlers[eventType] == nil {
		b.handlers[eventType] = make(map[uint64]Handler)
	}
	b.handlers[eventType][id] = h
	return Subscription{eventType: eventType, id: id}
}

// Unsubscribe removes a handler; it reports false if it was not registered
func (b *Bus) Unsubscribe(sub Subscription) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	hs, ok := b.handlers[sub.eventType]
	if !ok {
		return false
	}
	if _, ok := hs[sub.id]; !ok {
		return false
	}
	delete(hs, sub.id)
	if len(hs) == 0 {
		delete(b.handlers, sub.eventType)
	}
	return true
}

// Publish fans event out to every handler registered for its type, each on
// its own goroutine, and returns without waiting for them. Handlers that
// subscribe after Publish took its snapshot do not see the event.
func (b *Bus) Publish(ctx context.Context, event any) {
	if event == nil {
		return
	}
	t := reflect.TypeOf(event)

	b.mu.RLock()
	snapshot := make([]Handler, 0, len(b.handlers[t]))
	for _, h := range b.handlers[t] {
		snapshot = append(snapshot, h)
	}
	b.mu.RUnlock()

	if len(snapshot) == 0 {
		b.log.Debug("No subscribers for event", zap.String("type", t.String()))
		return
	}

	for _, h := range snapshot {
		b.inflight.Add(1)
		go b.dispatch(ctx, t, h, event)
	}
}

func (b *Bus) dispatch(ctx context.Context, t reflect.Type, h Handler, event any) {
	defer b.inflight.Done()
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("Event handler panic recovered",
				zap.String("type", t.String()),
				zap.String("panic", fmt.Sprint(r)))
		}
	}()
	if err := h(ctx, event); err != nil {
		b.log.Warn("Event handler failed",
			zap.String("type", t.String()),
			zap.Error(err))
	}
}

// Wait blocks until every handler started by Publish has returned
func (b *Bus) Wait() {
	b.inflight.Wait()
}

// HandlerCount returns the number of handlers registered for eventType
func (b *Bus) HandlerCount(eventType reflect.Type) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType])
}

// Subscribe registers a typed handler for events of type T
func Subscribe[T any](b *Bus, h func(ctx context.Context, event T) error) Subscription {
	return b.Subscribe(reflect.TypeOf((*T)(nil)).Elem(), func(ctx context.Context, event any) error {
		return h(ctx, event.(T))
	})
}
