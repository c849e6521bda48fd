package events

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestEventEmitter(t *testing.T) {
	t.Run("NewEventEmitter", func(t *testing.T) {
		emitter := NewEventEmitter()

		if emitter == nil {
			t.Fatal("Expected emitter to be created")
		}
		if len(emitter.listeners) != 0 {
			t.Error("Expected empty listeners map initially")
		}
		if emitter.IsClosed() {
			t.Error("New emitter should not be closed")
		}
	})
}

func TestEventListenerOperations(t *testing.T) {
	t.Run("OnListener", func(t *testing.T) {
		emitter := NewEventEmitter()
		executed := false
		emitter.On(EventPluginRegistered, func(event Event) {
			executed = true
		})

		if count := emitter.ListenerCount(EventPluginRegistered); count != 1 {
			t.Errorf("Expected 1 listener, got: %d", count)
		}

		emitter.EmitSync(Event{Type: EventPluginRegistered, Data: "logging"})
		if !executed {
			t.Error("Listener should have been executed")
		}
	})

	t.Run("OnceListener", func(t *testing.T) {
		emitter := NewEventEmitter()
		executionCount := 0
		emitter.Once(EventEngineStarted, func(event Event) {
			executionCount++
		})

		emitter.EmitSync(Event{Type: EventEngineStarted})
		emitter.EmitSync(Event{Type: EventEngineStarted})

		if executionCount != 1 {
			t.Errorf("Once listener should run once, ran %d times", executionCount)
		}
		if count := emitter.ListenerCount(EventEngineStarted); count != 0 {
			t.Errorf("Once listener should be removed, %d left", count)
		}
	})

	t.Run("OffRemovesOnlyThatListener", func(t *testing.T) {
		emitter := NewEventEmitter()
		var first, second int
		id := emitter.On(EventCacheHit, func(Event) { first++ })
		emitter.On(EventCacheHit, func(Event) { second++ })

		emitter.Off(EventCacheHit, id)
		emitter.EmitSync(Event{Type: EventCacheHit})

		if first != 0 || second != 1 {
			t.Errorf("Off removed the wrong listener: first=%d second=%d", first, second)
		}
	})

	t.Run("RemoveAllListeners", func(t *testing.T) {
		emitter := NewEventEmitter()
		emitter.On(EventCacheHit, func(Event) {})
		emitter.On(EventCacheMiss, func(Event) {})

		emitter.RemoveAllListeners(EventCacheHit)
		if emitter.ListenerCount(EventCacheHit) != 0 || emitter.ListenerCount(EventCacheMiss) != 1 {
			t.Error("RemoveAllListeners with a type should only clear that type")
		}

		emitter.RemoveAllListeners()
		if emitter.ListenerCount(EventCacheMiss) != 0 {
			t.Error("RemoveAllListeners without types should clear everything")
		}
	})
}

func TestEventEmission(t *testing.T) {
	t.Run("AsyncEmit", func(t *testing.T) {
		emitter := NewEventEmitter()
		var count int32
		for i := 0; i < 3; i++ {
			emitter.On(EventPluginEnabled, func(Event) {
				atomic.AddInt32(&count, 1)
			})
		}

		emitter.Emit(CreateEvent(EventPluginEnabled, "metrics", "engine"))
		emitter.Wait()

		if got := atomic.LoadInt32(&count); got != 3 {
			t.Errorf("Expected 3 deliveries, got %d", got)
		}
	})

	t.Run("TimestampDefaulted", func(t *testing.T) {
		emitter := NewEventEmitter()
		var got Event
		emitter.On(EventEngineStopped, func(e Event) { got = e })
		emitter.EmitSync(Event{Type: EventEngineStopped})

		if got.Timestamp.IsZero() {
			t.Error("Emit should stamp events without a timestamp")
		}
	})

	t.Run("ListenerPanicIsContained", func(t *testing.T) {
		emitter := NewEventEmitter()
		ran := false
		emitter.On(EventPluginError, func(Event) { panic("listener bug") })
		emitter.On(EventPluginError, func(Event) { ran = true })

		emitter.EmitSync(Event{Type: EventPluginError})
		if !ran {
			t.Error("a panicking listener must not stop the others")
		}
	})

	t.Run("ClosedEmitterIgnoresEverything", func(t *testing.T) {
		emitter := NewEventEmitter()
		ran := false
		emitter.On(EventCacheEvict, func(Event) { ran = true })
		emitter.Close()

		emitter.On(EventCacheEvict, func(Event) { ran = true })
		emitter.EmitSync(Event{Type: EventCacheEvict})

		if ran || !emitter.IsClosed() {
			t.Error("closed emitter should not deliver")
		}
	})
}

func TestWaitForEvent(t *testing.T) {
	t.Run("Delivered", func(t *testing.T) {
		emitter := NewEventEmitter()
		go func() {
			time.Sleep(10 * time.Millisecond)
			emitter.Emit(CreateEvent(EventDispatchHalted, "caching", "engine"))
		}()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		event, err := emitter.WaitForEvent(ctx, EventDispatchHalted)
		if err != nil {
			t.Fatalf("WaitForEvent failed: %v", err)
		}
		if event.Data != "caching" || event.Source != "engine" {
			t.Errorf("unexpected event %+v", event)
		}
		emitter.Wait()
	})

	t.Run("Timeout", func(t *testing.T) {
		emitter := NewEventEmitter()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()

		if _, err := emitter.WaitForEvent(ctx, EventCacheHit); err == nil {
			t.Error("expected timeout error")
		}
		if emitter.ListenerCount(EventCacheHit) != 0 {
			t.Error("timed out waiter should remove its listener")
		}
	})
}
