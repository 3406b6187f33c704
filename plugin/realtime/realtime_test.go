package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubFanout(t *testing.T) {
	hub := NewHub()
	a, cancelA := hub.Subscribe("room:1")
	b, cancelB := hub.Subscribe("room:1")
	defer cancelA()
	defer cancelB()

	other, cancelOther := hub.Subscribe("room:2")
	defer cancelOther()

	hub.Publish("room:1", "stream-start", map[string]string{"sessionId": "s1"})

	for _, ch := range []<-chan Event{a, b} {
		select {
		case ev := <-ch:
			assert.Equal(t, "stream-start", ev.Name)
			assert.Equal(t, "room:1", ev.Channel)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}

	select {
	case ev := <-other:
		t.Fatalf("unexpected cross-channel delivery: %+v", ev)
	default:
	}
}

func TestHubUnsubscribe(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe("room:1")
	cancel()

	// Publish after cancel must not panic and must not deliver.
	hub.Publish("room:1", "stream-start", nil)

	_, open := <-ch
	require.False(t, open, "channel should be closed after cancel")

	// Cancel is idempotent.
	cancel()
}

func TestHubDropsWhenSubscriberIsFull(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe("room:1")
	defer cancel()

	// Publishing must never block, even past the subscriber buffer.
	for i := 0; i < subscriberBuffer*2; i++ {
		hub.Publish("room:1", "ai-stream-chunk", i)
	}
	assert.Equal(t, subscriberBuffer, len(ch))
}
