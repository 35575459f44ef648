package watcher

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chatwatch/backend/internal/domain/events"
	"github.com/stretchr/testify/assert"
)

func cycleEvent() *events.CycleEvent {
	return &events.CycleEvent{EventType: events.CycleCompleted, CycleID: "c1", EventTime: time.Now()}
}

func TestEventBus_Subscribe(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	var received atomic.Bool
	unsub := bus.Subscribe(events.CycleCompleted, events.HandlerFunc(func(event events.Event) error {
		received.Store(true)
		return nil
	}))
	defer unsub()

	bus.Publish(cycleEvent())

	assert.Eventually(t, received.Load, time.Second, 10*time.Millisecond)
}

func TestEventBus_MultipleHandlers(t *testing.T) {
	bus := NewEventBus()

	var count atomic.Int32
	for i := 0; i < 3; i++ {
		bus.Subscribe(events.CycleCompleted, events.HandlerFunc(func(event events.Event) error {
			count.Add(1)
			return nil
		}))
	}

	bus.Publish(cycleEvent())
	bus.Close()

	assert.Equal(t, int32(3), count.Load(), "Close 应等待所有处理器完成")
}

func TestEventBus_Unsubscribe(t *testing.T) {
	bus := NewEventBus()

	var count atomic.Int32
	handler := events.HandlerFunc(func(event events.Event) error {
		count.Add(1)
		return nil
	})
	unsubA := bus.Subscribe(events.CycleCompleted, handler)
	bus.Subscribe(events.CycleCompleted, handler)

	unsubA()
	unsubA()
	bus.Publish(cycleEvent())
	bus.Close()

	assert.Equal(t, int32(1), count.Load())
}

func TestEventBus_SubscribeMultiple(t *testing.T) {
	bus := NewEventBus()

	var count atomic.Int32
	unsub := bus.SubscribeMultiple(
		[]events.EventType{events.CycleStarted, events.CycleCompleted},
		events.HandlerFunc(func(event events.Event) error {
			count.Add(1)
			return nil
		}),
	)

	bus.Publish(&events.CycleEvent{EventType: events.CycleStarted, EventTime: time.Now()})
	bus.Publish(cycleEvent())
	bus.Publish(&events.ConfigReloadedEvent{Path: "x", EventTime: time.Now()})
	unsub()
	bus.Publish(cycleEvent())
	bus.Close()

	assert.Equal(t, int32(2), count.Load())
}

func TestEventBus_HandlerPanicAndError(t *testing.T) {
	bus := NewEventBus()

	var ok atomic.Bool
	bus.Subscribe(events.CycleCompleted, events.HandlerFunc(func(event events.Event) error {
		panic("boom")
	}))
	bus.Subscribe(events.CycleCompleted, events.HandlerFunc(func(event events.Event) error {
		return errors.New("failed")
	}))
	bus.Subscribe(events.CycleCompleted, events.HandlerFunc(func(event events.Event) error {
		ok.Store(true)
		return nil
	}))

	bus.Publish(cycleEvent())
	bus.Close()

	assert.True(t, ok.Load(), "单个处理器崩溃不影响其他处理器")
}

func TestEventBus_PublishAfterClose(t *testing.T) {
	bus := NewEventBus()
	var count atomic.Int32
	bus.Subscribe(events.CycleCompleted, events.HandlerFunc(func(event events.Event) error {
		count.Add(1)
		return nil
	}))

	bus.Close()
	bus.Close()
	bus.Publish(cycleEvent())

	assert.Zero(t, count.Load())
}
