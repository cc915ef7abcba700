package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFansOut(t *testing.T) {
	b := New()
	a, unsubA := b.Subscribe(4)
	c, unsubC := b.Subscribe(4)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Type: TypeJoinAttempt, Data: 7})

	for _, ch := range []<-chan Event{a, c} {
		ev := <-ch
		assert.Equal(t, TypeJoinAttempt, ev.Type)
		assert.Equal(t, 7, ev.Data)
		assert.False(t, ev.Time.IsZero())
	}
}

func TestSlowSubscriberDrops(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: TypeTaskStarted})
	b.Publish(Event{Type: TypeTaskFinished})

	require.Len(t, ch, 1)
	assert.Equal(t, uint64(1), Dropped(b))
}

func TestPublishAfterUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()

	b.Publish(Event{Type: TypeJoinCompleted})
	_, open := <-ch
	assert.False(t, open)
}
