package event

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pixelfleet/pixeld/helper/testlog"
)

func stateEvent(host string, gen uint64) Event {
	return Event{
		Type:  TypeState,
		Host:  host,
		State: &StateEvent{Host: host, Generation: gen},
	}
}

func TestBroker_Ordering(t *testing.T) {
	b := NewBroker(testlog.HCLogger(t))
	sub := b.Subscribe("", 16)
	defer sub.Unsubscribe()

	for gen := uint64(1); gen <= 10; gen++ {
		b.Publish(stateEvent("dev1", gen))
	}

	for gen := uint64(1); gen <= 10; gen++ {
		e := <-sub.Events()
		require.Equal(t, gen, e.State.Generation)
		require.False(t, e.TS.IsZero())
	}
}

func TestBroker_HostFilter(t *testing.T) {
	b := NewBroker(testlog.HCLogger(t))
	sub := b.Subscribe("dev2", 16)
	defer sub.Unsubscribe()

	b.Publish(stateEvent("dev1", 1))
	b.Publish(stateEvent("dev2", 2))
	b.Publish(stateEvent("dev1", 3))

	e := <-sub.Events()
	require.Equal(t, "dev2", e.Host)
	require.Empty(t, sub.Events())
}

func TestBroker_DropOldest(t *testing.T) {
	b := NewBroker(testlog.HCLogger(t))
	sub := b.Subscribe("", 4)
	defer sub.Unsubscribe()

	for gen := uint64(1); gen <= 10; gen++ {
		b.Publish(stateEvent("dev1", gen))
	}

	// The newest 4 events survive, still in order.
	require.Equal(t, uint64(6), sub.Dropped())
	for gen := uint64(7); gen <= 10; gen++ {
		e := <-sub.Events()
		require.Equal(t, gen, e.State.Generation)
	}
}

func TestBroker_SlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBroker(testlog.HCLogger(t))
	slow := b.Subscribe("", 1)
	defer slow.Unsubscribe()
	fast := b.Subscribe("", 64)
	defer fast.Unsubscribe()

	// Nobody drains slow; publishing must still complete.
	for gen := uint64(1); gen <= 32; gen++ {
		b.Publish(stateEvent("dev1", gen))
	}

	for gen := uint64(1); gen <= 32; gen++ {
		e := <-fast.Events()
		require.Equal(t, gen, e.State.Generation)
	}
}

func TestBroker_Unsubscribe(t *testing.T) {
	b := NewBroker(testlog.HCLogger(t))
	sub := b.Subscribe("", 4)
	require.Equal(t, 1, b.SubscriberCount())

	sub.Unsubscribe()
	require.Zero(t, b.SubscriberCount())

	// The channel closes so consumers exit their range loops.
	_, ok := <-sub.Events()
	require.False(t, ok)

	// Idempotent.
	sub.Unsubscribe()
}

func TestBroker_ManySubscribers(t *testing.T) {
	b := NewBroker(testlog.HCLogger(t))
	subs := make([]*Subscription, 5)
	for i := range subs {
		subs[i] = b.Subscribe(fmt.Sprintf("dev%d", i), 8)
		defer subs[i].Unsubscribe()
	}

	for i := 0; i < 5; i++ {
		b.Publish(stateEvent(fmt.Sprintf("dev%d", i), uint64(i)))
	}
	for i, sub := range subs {
		e := <-sub.Events()
		require.Equal(t, fmt.Sprintf("dev%d", i), e.Host)
	}
}
