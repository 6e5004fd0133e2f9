package events

import (
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBroadcaster(queueSize int) *Broadcaster {
	return NewBroadcaster(queueSize, slog.Default())
}

func drainOne(t *testing.T, ch <-chan []byte) map[string]any {
	t.Helper()
	select {
	case data := <-ch:
		var m map[string]any
		require.NoError(t, json.Unmarshal(data, &m))
		return m
	default:
		t.Fatal("expected a queued event")
		return nil
	}
}

func TestBroadcaster_FanOut(t *testing.T) {
	b := newTestBroadcaster(8)
	id1, ch1 := b.Subscribe()
	id2, ch2 := b.Subscribe()
	defer b.Unsubscribe(id1)
	defer b.Unsubscribe(id2)

	assert.Equal(t, 2, b.ObserverCount())

	b.Publish(EventWorkflowStarted, "", WorkflowStartedPayload{
		Type:               EventWorkflowStarted,
		WorkflowInstanceID: "wf-1",
		WorkflowID:         "approval",
		Timestamp:          Timestamp(),
	})

	for _, ch := range []<-chan []byte{ch1, ch2} {
		m := drainOne(t, ch)
		assert.Equal(t, EventWorkflowStarted, m["type"])
		assert.Equal(t, "wf-1", m["workflowInstanceId"])
	}
}

func TestBroadcaster_OverflowDropsObserver(t *testing.T) {
	b := newTestBroadcaster(2)
	id, ch := b.Subscribe()
	defer b.Unsubscribe(id)

	for i := 0; i < 5; i++ {
		b.Publish(EventTaskProgress, "t1", TaskProgressPayload{Type: EventTaskProgress, ElementID: "t1"})
	}

	// the third publish overflowed the queue and unsubscribed the observer;
	// it never silently misses events in the middle of the stream
	assert.Equal(t, 0, b.ObserverCount())
	assert.Equal(t, int64(1), b.DroppedObservers())

	drainOne(t, ch)
	drainOne(t, ch)
	_, open := <-ch
	assert.False(t, open, "dropped observer's channel must be closed")
}

func TestBroadcaster_SlowObserverDoesNotAffectOthers(t *testing.T) {
	b := newTestBroadcaster(1)
	_, slowCh := b.Subscribe()
	fastID, fastCh := b.Subscribe()
	defer b.Unsubscribe(fastID)

	b.Publish(EventTaskProgress, "t1", TaskProgressPayload{Type: EventTaskProgress, ElementID: "t1"})
	drainOne(t, fastCh) // fast keeps up, slow does not
	b.Publish(EventTaskProgress, "t1", TaskProgressPayload{Type: EventTaskProgress, ElementID: "t1"})

	// slow was dropped on the second publish; fast stays subscribed
	assert.Equal(t, 1, b.ObserverCount())
	drainOne(t, fastCh)

	drainOne(t, slowCh)
	_, open := <-slowCh
	assert.False(t, open)
}

func TestBroadcaster_SendTo(t *testing.T) {
	b := newTestBroadcaster(8)
	id1, ch1 := b.Subscribe()
	id2, ch2 := b.Subscribe()
	defer b.Unsubscribe(id1)
	defer b.Unsubscribe(id2)

	b.SendTo(id1, PongPayload{Type: EventPong, Timestamp: Timestamp()})

	m := drainOne(t, ch1)
	assert.Equal(t, EventPong, m["type"])
	select {
	case <-ch2:
		t.Fatal("direct message must not fan out")
	default:
	}
}

func TestBroadcaster_UnsubscribeClosesChannel(t *testing.T) {
	b := newTestBroadcaster(8)
	id, ch := b.Subscribe()
	b.Unsubscribe(id)

	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, b.ObserverCount())

	// publishing after unsubscribe must not panic
	b.Publish(EventPong, "", PongPayload{Type: EventPong})
}

func TestBroadcaster_Snapshot(t *testing.T) {
	b := newTestBroadcaster(8)

	b.Publish(EventTextMessageStart, "agent1", TextMessageStartPayload{
		Type: EventTextMessageStart, ElementID: "agent1", MessageID: "m1", Role: "assistant",
	})
	b.Publish(EventTextMessageContent, "agent1", TextMessageContentPayload{
		Type: EventTextMessageContent, ElementID: "agent1", MessageID: "m1", Delta: "Hello ",
	})
	b.Publish(EventTextMessageContent, "agent1", TextMessageContentPayload{
		Type: EventTextMessageContent, ElementID: "agent1", MessageID: "m1", Delta: "world.",
	})
	b.Publish(EventTaskToolStart, "agent1", TaskToolStartPayload{
		Type: EventTaskToolStart, ElementID: "agent1", ToolID: "call-1",
		ToolName: "calculator", Arguments: map[string]any{"a": 1},
	})
	b.Publish(EventTaskToolEnd, "agent1", TaskToolEndPayload{
		Type: EventTaskToolEnd, ElementID: "agent1", ToolID: "call-1",
		ToolName: "calculator", Result: "5",
	})
	b.Publish(EventTextMessageEnd, "agent1", TextMessageEndPayload{
		Type: EventTextMessageEnd, ElementID: "agent1", MessageID: "m1",
	})
	// a different element's stream does not leak into agent1's snapshot
	b.Publish(EventTextMessageStart, "agent2", TextMessageStartPayload{
		Type: EventTextMessageStart, ElementID: "agent2", MessageID: "m2", Role: "assistant",
	})

	snap := b.Snapshot("agent1")
	assert.Equal(t, EventMessagesSnapshot, snap.Type)
	assert.Equal(t, "agent1", snap.ElementID)
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, "message", snap.Messages[0].Kind)
	assert.Equal(t, "m1", snap.Messages[0].MessageID)
	assert.Equal(t, "Hello world.", snap.Messages[0].Content)
	assert.Equal(t, "tool", snap.Messages[1].Kind)
	assert.Equal(t, "calculator", snap.Messages[1].ToolName)
	assert.Equal(t, "5", snap.Messages[1].Result)

	assert.Empty(t, b.Snapshot("unknown").Messages)
}

func TestBroadcaster_Snapshot_CancelledMessage(t *testing.T) {
	b := newTestBroadcaster(8)

	b.Publish(EventTextMessageStart, "agent1", TextMessageStartPayload{
		Type: EventTextMessageStart, ElementID: "agent1", MessageID: "m1", Role: "assistant",
	})
	b.Publish(EventTextMessageContent, "agent1", TextMessageContentPayload{
		Type: EventTextMessageContent, ElementID: "agent1", MessageID: "m1", Delta: "partial answ",
	})
	b.Publish(EventTextMessageEnd, "agent1", TextMessageEndPayload{
		Type: EventTextMessageEnd, ElementID: "agent1", MessageID: "m1",
		Cancelled: true, CancellationReason: "user requested",
	})

	snap := b.Snapshot("agent1")
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, "partial answ", snap.Messages[0].Content)
	assert.True(t, snap.Messages[0].Cancelled)
	assert.Equal(t, "user requested", snap.Messages[0].CancellationReason)
}

func TestBroadcaster_ClearHistory(t *testing.T) {
	b := newTestBroadcaster(8)
	b.Publish(EventTextMessageStart, "agent1", TextMessageStartPayload{
		Type: EventTextMessageStart, WorkflowInstanceID: "wf-1", ElementID: "agent1", MessageID: "m1",
	})
	b.Publish(EventTextMessageStart, "agent2", TextMessageStartPayload{
		Type: EventTextMessageStart, WorkflowInstanceID: "wf-2", ElementID: "agent2", MessageID: "m2",
	})

	// scoped clear removes only the named instance's records
	b.ClearHistory("wf-1")
	assert.Empty(t, b.Snapshot("agent1").Messages)
	assert.Len(t, b.Snapshot("agent2").Messages, 1)

	// empty id clears everything
	b.ClearHistory("")
	assert.Empty(t, b.Snapshot("agent2").Messages)
}

func TestBroadcaster_LifecycleEventsNotRecorded(t *testing.T) {
	b := newTestBroadcaster(8)
	b.Publish(EventElementActivated, "t1", ElementActivatedPayload{
		Type: EventElementActivated, ElementID: "t1",
	})
	assert.Empty(t, b.Snapshot("t1").Messages)
}
