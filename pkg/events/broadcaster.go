package events

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DefaultQueueSize is the per-observer send queue depth. An observer that
// falls this far behind is disconnected rather than stalling the engine or
// silently missing events.
const DefaultQueueSize = 256

// Publisher is the event sink handed to the engine and executors.
type Publisher interface {
	Publish(eventType, elementID string, payload any)
}

// Timestamp returns the wire form of the current time.
func Timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// replayable marks the event types recorded per element for replay:
// thinking, tool and message entries, in chronological order.
var replayable = map[string]bool{
	EventTaskThinking:       true,
	EventTaskToolStart:      true,
	EventTaskToolEnd:        true,
	EventTextMessageStart:   true,
	EventTextMessageContent: true,
	EventTextMessageChunk:   true,
	EventTextMessageEnd:     true,
}

type historyRecord struct {
	eventType  string
	instanceID string
	payload    any
}

// historyInstance extracts the owning instance from a replayable payload so
// clear.history can be scoped to one instance.
func historyInstance(payload any) string {
	switch p := payload.(type) {
	case TaskThinkingPayload:
		return p.WorkflowInstanceID
	case TaskToolStartPayload:
		return p.WorkflowInstanceID
	case TaskToolEndPayload:
		return p.WorkflowInstanceID
	case TextMessageStartPayload:
		return p.WorkflowInstanceID
	case TextMessageContentPayload:
		return p.WorkflowInstanceID
	case TextMessageChunkPayload:
		return p.WorkflowInstanceID
	case TextMessageEndPayload:
		return p.WorkflowInstanceID
	}
	return ""
}

// subscriber owns one observer queue. sendMu serializes sends against the
// close in Unsubscribe so a concurrent Publish never hits a closed channel.
type subscriber struct {
	sendMu sync.Mutex
	closed bool
	ch     chan []byte
}

// offer enqueues data unless the queue is full or the subscriber is closed.
// Returns false when the queue overflowed.
func (s *subscriber) offer(data []byte) bool {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- data:
		return true
	default:
		return false
	}
}

// Broadcaster fans events out to every subscribed observer. Each observer
// has a bounded queue; an observer whose queue overflows is unsubscribed so
// it never silently misses events, and its closed channel makes the
// disconnection observable. Publishing never blocks on a slow consumer.
type Broadcaster struct {
	mu        sync.RWMutex
	subs      map[string]*subscriber
	history   map[string][]historyRecord
	queueSize int
	logger    *slog.Logger

	droppedObservers atomic.Int64
}

func NewBroadcaster(queueSize int, logger *slog.Logger) *Broadcaster {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Broadcaster{
		subs:      make(map[string]*subscriber),
		history:   make(map[string][]historyRecord),
		queueSize: queueSize,
		logger:    logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a new observer and returns its id and receive channel.
// The channel is closed by Unsubscribe.
func (b *Broadcaster) Subscribe() (string, <-chan []byte) {
	id := uuid.New().String()
	sub := &subscriber{ch: make(chan []byte, b.queueSize)}

	b.mu.Lock()
	b.subs[id] = sub
	b.mu.Unlock()

	b.logger.Info("observer subscribed", "observerId", id)
	return id, sub.ch
}

// Unsubscribe removes an observer and closes its channel.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()

	if ok {
		sub.sendMu.Lock()
		sub.closed = true
		close(sub.ch)
		sub.sendMu.Unlock()
		b.logger.Info("observer unsubscribed", "observerId", id)
	}
}

// Publish marshals the payload once and delivers it to every observer.
// An observer whose queue is full is unsubscribed on the spot. Replayable
// event types are also recorded in the per-element history.
func (b *Broadcaster) Publish(eventType, elementID string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Error("failed to marshal event", "eventType", eventType, "error", err)
		return
	}

	b.mu.Lock()
	if elementID != "" && replayable[eventType] {
		b.history[elementID] = append(b.history[elementID], historyRecord{
			eventType:  eventType,
			instanceID: historyInstance(payload),
			payload:    payload,
		})
	}
	ids := make([]string, 0, len(b.subs))
	subs := make([]*subscriber, 0, len(b.subs))
	for id, sub := range b.subs {
		ids = append(ids, id)
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for i, sub := range subs {
		if !sub.offer(data) {
			b.droppedObservers.Add(1)
			b.logger.Warn("observer queue overflowed, dropping observer",
				"observerId", ids[i], "eventType", eventType)
			b.Unsubscribe(ids[i])
		}
	}
}

// SendTo delivers a payload to a single observer, subject to the same
// overflow rule. Used for pong and messages.snapshot responses.
func (b *Broadcaster) SendTo(observerID string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Error("failed to marshal direct message", "observerId", observerID, "error", err)
		return
	}

	b.mu.RLock()
	sub, ok := b.subs[observerID]
	b.mu.RUnlock()
	if !ok {
		return
	}
	if !sub.offer(data) {
		b.droppedObservers.Add(1)
		b.logger.Warn("observer queue overflowed, dropping observer", "observerId", observerID)
		b.Unsubscribe(observerID)
	}
}

// Snapshot reconstructs the recorded conversation for an element exactly as
// a live observer would have seen it, with the original timestamps:
// streamed messages are reassembled from their content deltas (sentence
// chunks collapse into them), tool start/end pairs merge into single
// records, thinking entries appear in arrival order.
func (b *Broadcaster) Snapshot(elementID string) MessagesSnapshotPayload {
	b.mu.RLock()
	records := b.history[elementID]
	b.mu.RUnlock()

	var messages []SnapshotMessage
	msgIndex := make(map[string]int)  // messageId → position in messages
	toolIndex := make(map[string]int) // toolId → position in messages

	for _, rec := range records {
		switch p := rec.payload.(type) {
		case TextMessageStartPayload:
			msgIndex[p.MessageID] = len(messages)
			messages = append(messages, SnapshotMessage{
				Kind: "message", MessageID: p.MessageID, Role: p.Role, Timestamp: p.Timestamp,
			})
		case TextMessageContentPayload:
			if i, ok := msgIndex[p.MessageID]; ok {
				messages[i].Content += p.Delta
			}
		case TextMessageEndPayload:
			if i, ok := msgIndex[p.MessageID]; ok {
				messages[i].Cancelled = p.Cancelled
				messages[i].CancellationReason = p.CancellationReason
			}
		case TaskThinkingPayload:
			messages = append(messages, SnapshotMessage{
				Kind: "thinking", Content: p.Content, Timestamp: p.Timestamp,
			})
		case TaskToolStartPayload:
			toolIndex[p.ToolID] = len(messages)
			messages = append(messages, SnapshotMessage{
				Kind: "tool", ToolID: p.ToolID, ToolName: p.ToolName,
				Arguments: p.Arguments, Timestamp: p.Timestamp,
			})
		case TaskToolEndPayload:
			if i, ok := toolIndex[p.ToolID]; ok {
				messages[i].Result = p.Result
				messages[i].IsError = p.IsError
			}
		}
	}

	return MessagesSnapshotPayload{
		Type:      EventMessagesSnapshot,
		ElementID: elementID,
		Messages:  messages,
		Timestamp: Timestamp(),
	}
}

// ClearHistory drops recorded replay history for one instance; an empty
// instance id clears everything.
func (b *Broadcaster) ClearHistory(workflowInstanceID string) {
	b.mu.Lock()
	if workflowInstanceID == "" {
		b.history = make(map[string][]historyRecord)
	} else {
		for elementID, records := range b.history {
			kept := records[:0]
			for _, rec := range records {
				if rec.instanceID != workflowInstanceID {
					kept = append(kept, rec)
				}
			}
			if len(kept) == 0 {
				delete(b.history, elementID)
			} else {
				b.history[elementID] = kept
			}
		}
	}
	b.mu.Unlock()
	b.logger.Info("replay history cleared", "workflowInstanceId", workflowInstanceID)
}

// ObserverCount returns the number of subscribed observers.
func (b *Broadcaster) ObserverCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// DroppedObservers returns the number of observers dropped for falling
// behind.
func (b *Broadcaster) DroppedObservers() int64 {
	return b.droppedObservers.Load()
}
