package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, sub Subscriber) *Event {
	t.Helper()
	select {
	case event := <-sub:
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestPublishSubscribe(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	broker.Publish(&Event{
		Type:      EventSandboxCreated,
		SessionID: "sess-1",
		Message:   "sandbox created",
	})

	event := receive(t, sub)
	assert.Equal(t, EventSandboxCreated, event.Type)
	assert.Equal(t, "sess-1", event.SessionID)
	assert.NotEmpty(t, event.ID, "missing ID is filled in")
	assert.False(t, event.Timestamp.IsZero(), "missing timestamp is filled in")
}

func TestBroadcastToAllSubscribers(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	subA := broker.Subscribe()
	subB := broker.Subscribe()
	defer broker.Unsubscribe(subA)
	defer broker.Unsubscribe(subB)

	require.Equal(t, 2, broker.SubscriberCount())

	broker.Publish(&Event{Type: EventPoolRefilled})

	assert.Equal(t, EventPoolRefilled, receive(t, subA).Type)
	assert.Equal(t, EventPoolRefilled, receive(t, subB).Type)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	broker.Unsubscribe(sub)

	_, open := <-sub
	assert.False(t, open)
	assert.Equal(t, 0, broker.SubscriberCount())
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	// Never drained; its buffer fills and further events are skipped.
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			broker.Publish(&Event{Type: EventSandboxReady})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestExplicitFieldsPreserved(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	ts := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	broker.Publish(&Event{
		ID:        "evt-1",
		Type:      EventTrainingReaped,
		Timestamp: ts,
		Metadata:  map[string]string{"instance_id": "env-42"},
	})

	event := receive(t, sub)
	assert.Equal(t, "evt-1", event.ID)
	assert.Equal(t, ts, event.Timestamp)
	assert.Equal(t, "env-42", event.Metadata["instance_id"])
}
