package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesSubscribers(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	b.Publish(KindInstanceRegistered, "10.0.0.1:80")

	select {
	case ev := <-sub:
		assert.Equal(t, KindInstanceRegistered, ev.Kind)
		assert.Equal(t, "10.0.0.1:80", ev.Key)
		assert.NotEmpty(t, ev.ID)
		assert.False(t, ev.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("event never delivered")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	require.Equal(t, 1, b.SubscriberCount())
	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.SubscriberCount())

	_, open := <-sub
	assert.False(t, open)

	// double unsubscribe is harmless
	b.Unsubscribe(sub)
}

func TestSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	slow := b.Subscribe()
	defer b.Unsubscribe(slow)
	fast := b.Subscribe()
	defer b.Unsubscribe(fast)

	// overflow the slow subscriber's buffer
	for i := 0; i < 200; i++ {
		b.Publish(KindConfigCreated, "cfg/1.0.0")
	}

	received := 0
	deadline := time.After(2 * time.Second)
	for received < 50 {
		select {
		case <-fast:
			received++
		case <-deadline:
			t.Fatalf("fast subscriber starved after %d events", received)
		}
	}
}
