package eventbus

import (
	"context"
	"errors"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

type pingEvent struct{ n int }
type pongEvent struct{}

func TestPublishFansOutToAllHandlers(t *testing.T) {
	b := New(zaptest.NewLogger(t))
	var calls atomic.Int32

	for i := 0; i < 3; i++ {
		Subscribe(b, func(_ context.Context, e pingEvent) error {
			calls.Add(int32(e.n))
			return nil
		})
	}
	Subscribe(b, func(_ context.Context, _ pongEvent) error {
		t.Error("pong handler received ping")
		return nil
	})

	b.Publish(context.Background(), pingEvent{n: 2})
	b.Wait()

	if got := calls.Load(); got != 6 {
		t.Fatalf("calls = %d, want 6", got)
	}
}

func TestHandlerFailureIsIsolated(t *testing.T) {
	b := New(zaptest.NewLogger(t))
	var ok atomic.Int32

	Subscribe(b, func(context.Context, pingEvent) error { panic("boom") })
	Subscribe(b, func(context.Context, pingEvent) error { return errors.New("failed") })
	Subscribe(b, func(context.Context, pingEvent) error {
		ok.Add(1)
		return nil
	})

	b.Publish(context.Background(), pingEvent{})
	b.Wait()

	if ok.Load() != 1 {
		t.Fatal("healthy handler did not run")
	}
}

func TestHandlersRunConcurrently(t *testing.T) {
	b := New(zaptest.NewLogger(t))
	release := make(chan struct{})
	started := make(chan struct{}, 2)

	for i := 0; i < 2; i++ {
		Subscribe(b, func(context.Context, pingEvent) error {
			started <- struct{}{}
			<-release
			return nil
		})
	}

	b.Publish(context.Background(), pingEvent{})
	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(time.Second):
			t.Fatal("handlers did not start concurrently")
		}
	}
	close(release)
	b.Wait()
}

func TestUnsubscribe(t *testing.T) {
	b := New(zaptest.NewLogger(t))
	var calls atomic.Int32
	sub := Subscribe(b, func(context.Context, pingEvent) error {
		calls.Add(1)
		return nil
	})

	if !b.Unsubscribe(sub) {
		t.Fatal("Unsubscribe() = false, want true")
	}
	if b.Unsubscribe(sub) {
		t.Fatal("second Unsubscribe() = true, want false")
	}
	if n := b.HandlerCount(reflect.TypeOf((*pingEvent)(nil)).Elem()); n != 0 {
		t.Fatalf("HandlerCount() = %d, want 0", n)
	}

	b.Publish(context.Background(), pingEvent{})
	b.Wait()
	if calls.Load() != 0 {
		t.Fatal("unsubscribed handler was called")
	}
}

func TestConcurrentSubscribeAndPublish(t *testing.T) {
	b := New(zaptest.NewLogger(t))
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			sub := Subscribe(b, func(context.Context, pingEvent) error { return nil })
			b.Unsubscribe(sub)
		}
	}()
	for i := 0; i < 100; i++ {
		b.Publish(context.Background(), pingEvent{n: i})
	}
	<-done
	b.Wait()
}
