package streaming

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingReplaySince(t *testing.T) {
	r := newRing(3)
	// Push 4 events, which will overwrite the first
	for i := 0; i < 4; i++ {
		r.push(Event{Seq: uint64(i + 1)})
	}
	evs := r.since(0)
	require.Len(t, evs, 3)
	assert.EqualValues(t, 2, evs[0].Seq)
	assert.EqualValues(t, 4, evs[2].Seq)

	evs = r.since(2)
	require.Len(t, evs, 2)
	assert.EqualValues(t, 3, evs[0].Seq)
}

func TestManagerPublishSubscribe(t *testing.T) {
	m := NewManager(5)
	ch := m.Subscribe("s1", 4)
	other := m.Subscribe("s2", 4)

	Emit(m, "s1", Event{Type: EventStepSearching, StepID: "1"})

	select {
	case evt := <-ch:
		assert.Equal(t, "s1", evt.SessionID)
		assert.Equal(t, EventStepSearching, evt.Type)
		assert.EqualValues(t, 1, evt.Seq)
		assert.False(t, evt.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
	select {
	case evt := <-other:
		t.Fatalf("event leaked to another session: %+v", evt)
	default:
	}

	m.Unsubscribe("s1", ch)
	_, open := <-ch
	assert.False(t, open)
	m.Unsubscribe("s1", ch)
}

func TestManagerReplay(t *testing.T) {
	m := NewManager(5)
	for i := 0; i < 7; i++ {
		m.Publish("s1", Event{Type: EventSessionStatus})
	}
	evs := m.ReplaySince("s1", 3)
	require.Len(t, evs, 4)
	for i, e := range evs {
		assert.EqualValues(t, 4+i, e.Seq)
	}
	assert.Empty(t, m.ReplaySince("unknown", 0))

	m.Forget("s1")
	assert.Empty(t, m.ReplaySince("s1", 0))
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	m := NewManager(10)
	ch := m.Subscribe("s1", 1)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			m.Publish("s1", Event{Type: EventSessionStatus})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Len(t, ch, 1)
	assert.Len(t, m.ReplaySince("s1", 0), 5)
}

func TestEmitNilPublisher(t *testing.T) {
	assert.NotPanics(t, func() { Emit(nil, "s1", Event{Type: EventSessionError}) })
}
