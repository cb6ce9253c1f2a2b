package bus

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSync_DeliversToAllHandlers(t *testing.T) {
	b := NewEventBus()

	var count atomic.Int32
	b.Subscribe(EventEngineChat, func(Event) { count.Add(1) })
	b.Subscribe(EventEngineChat, func(Event) { count.Add(1) })
	b.Subscribe(EventEngineStatus, func(Event) { count.Add(100) })

	b.PublishSync(NewEvent(EventEngineChat, "s1", nil))

	assert.Equal(t, int32(2), count.Load())
}

func TestPublishSync_PreservesOrderPerHandler(t *testing.T) {
	b := NewEventBus()

	var got []string
	b.Subscribe(EventEngineChat, func(e Event) { got = append(got, e.String("id")) })

	for _, id := range []string{"1", "2", "3"} {
		b.PublishSync(NewEvent(EventEngineChat, "s1", map[string]any{"id": id}))
	}

	assert.Equal(t, []string{"1", "2", "3"}, got)
}

func TestPublish_Async(t *testing.T) {
	b := NewEventBus()

	var wg sync.WaitGroup
	wg.Add(1)
	var received Event
	b.Subscribe(EventSessionStarted, func(e Event) {
		received = e
		wg.Done()
	})

	b.Publish(NewEvent(EventSessionStarted, "abc", map[string]any{"avatarId": "a1"}))

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
	}
	assert.Equal(t, "abc", received.SessionID)
	assert.Equal(t, "a1", received.String("avatarId"))
	assert.False(t, received.Timestamp.IsZero())
}

func TestSubscribeMultiple_AndClear(t *testing.T) {
	b := NewEventBus()

	var seen []EventType
	var mu sync.Mutex
	b.SubscribeMultiple(AllEventTypes, func(e Event) {
		mu.Lock()
		seen = append(seen, e.Type)
		mu.Unlock()
	})

	for _, et := range AllEventTypes {
		b.PublishSync(NewEvent(et, "", nil))
	}
	require.Len(t, seen, len(AllEventTypes))

	b.Clear()
	b.PublishSync(NewEvent(EventGuidance, "", nil))
	assert.Len(t, seen, len(AllEventTypes))
}

func TestEvent_StringMissingKey(t *testing.T) {
	e := NewEvent(EventGuidance, "", map[string]any{"n": 3})
	assert.Equal(t, "", e.String("n"))
	assert.Equal(t, "", e.String("missing"))
}
