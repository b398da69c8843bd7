package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overseer-dev/overseer/internal/core"
)

func TestBroadcastFIFO(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster()
	ch := b.Subscribe("obs", 16)

	for i := 0; i < 5; i++ {
		b.Broadcast(core.NewEvent(core.EventTaskOutput, map[string]any{"seq": i}))
	}

	for i := 0; i < 5; i++ {
		select {
		case ev := <-ch:
			assert.Equal(t, i, ev.Payload["seq"])
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestBroadcastMultipleSubscribers(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster()
	ch1 := b.Subscribe("a", 4)
	ch2 := b.Subscribe("b", 4)

	b.Broadcast(core.NewEvent(core.EventTaskStarted, map[string]any{"taskId": "t1"}))

	for _, ch := range []<-chan core.Event{ch1, ch2} {
		select {
		case ev := <-ch:
			assert.Equal(t, core.EventTaskStarted, ev.Kind)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestSlowSubscriberDropped(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster()
	slow := b.Subscribe("slow", 1)
	fast := b.Subscribe("fast", 16)

	// Fill the slow subscriber's buffer, then overflow it.
	b.Broadcast(core.NewEvent(core.EventTaskOutput, nil))
	b.Broadcast(core.NewEvent(core.EventTaskOutput, nil))

	// The survivor sees both events plus the drop notification.
	var kinds []core.EventKind
	for i := 0; i < 3; i++ {
		select {
		case ev := <-fast:
			kinds = append(kinds, ev.Kind)
		case <-time.After(time.Second):
			t.Fatal("timed out")
		}
	}
	assert.Contains(t, kinds, core.EventSubscriberDropped)
	assert.Equal(t, 1, b.SubscriberCount())

	// The dropped subscriber's channel is closed after draining.
	ev, ok := <-slow
	require.True(t, ok)
	assert.Equal(t, core.EventTaskOutput, ev.Kind)
	_, ok = <-slow
	assert.False(t, ok)
}

func TestSubscribeFunc(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster()
	var mu sync.Mutex
	var got []core.EventKind
	done := make(chan struct{})

	b.SubscribeFunc("cb", 8, func(ev core.Event) {
		mu.Lock()
		got = append(got, ev.Kind)
		mu.Unlock()
		if ev.Kind == core.EventTaskCompleted {
			close(done)
		}
	})

	b.Broadcast(core.NewEvent(core.EventTaskStarted, nil))
	b.Broadcast(core.NewEvent(core.EventTaskCompleted, nil))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("callback never observed terminal event")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []core.EventKind{core.EventTaskStarted, core.EventTaskCompleted}, got)
}

func TestUnsubscribe(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster()
	ch := b.Subscribe("obs", 4)
	b.Unsubscribe("obs")

	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, b.SubscriberCount())

	// Broadcasting after unsubscribe must not panic.
	b.Broadcast(core.NewEvent(core.EventTaskStarted, nil))
}

func TestBroadcastDuringSubscriberChurn(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster()
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					b.Broadcast(core.NewEvent(core.EventTaskOutput, nil))
				}
			}
		}()
	}

	// Websocket clients churn through connect/disconnect under the same
	// observer ID while producers keep broadcasting. A send racing a
	// close used to panic the producer here.
	for i := 0; i < 5000; i++ {
		b.Subscribe("ws", 1)
		b.Unsubscribe("ws")
	}
	close(stop)
	wg.Wait()
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestEnvelope(t *testing.T) {
	t.Parallel()

	ev := core.NewEvent(core.EventDAGNodeCompleted, map[string]any{
		"dagId":  "d1",
		"nodeId": "n1",
	})
	env := ev.Envelope()
	assert.Equal(t, "dag:node:completed", env["type"])
	assert.Equal(t, "d1", env["dagId"])
	assert.Equal(t, "n1", env["nodeId"])
	assert.NotEmpty(t, env["ts"])
}
