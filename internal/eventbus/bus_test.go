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

	Publish(b, TypeSchedulerStarted, nil)

	for _, ch := range []<-chan Event{a, c} {
		e := <-ch
		assert.Equal(t, TypeSchedulerStarted, e.Type)
		assert.False(t, e.Time.IsZero())
	}
}

func TestPublishDropsWhenSubscriberFull(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: TypeSleepEnter})
	b.Publish(Event{Type: TypeSleepWake})

	e := <-ch
	assert.Equal(t, TypeSleepEnter, e.Type)
	select {
	case extra := <-ch:
		t.Fatalf("unexpected event %q", extra.Type)
	default:
	}
}

func TestUnsubscribeClosesOnce(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()

	_, ok := <-ch
	require.False(t, ok)
	// Publishing after unsubscribe must not panic.
	b.Publish(Event{Type: TypeRegistered})
}

func TestPublishNilBus(t *testing.T) {
	Publish(nil, TypeRegistered, nil)
}
