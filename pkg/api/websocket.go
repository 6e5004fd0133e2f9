package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/coder/websocket"

	"github.com/flowforge-io/flowforge/pkg/engine"
	"github.com/flowforge-io/flowforge/pkg/events"
)

// ObserverManager owns the lifecycle of WebSocket observers: each connection
// subscribes to the broadcaster, drains its queue into the socket, and feeds
// client commands (user task decisions, cancellation requests, replay) back
// into the engine.
type ObserverManager struct {
	engine       *engine.Engine
	broadcaster  *events.Broadcaster
	writeTimeout time.Duration
	logger       *slog.Logger
}

func NewObserverManager(eng *engine.Engine, broadcaster *events.Broadcaster, writeTimeout time.Duration, logger *slog.Logger) *ObserverManager {
	return &ObserverManager{
		engine:       eng,
		broadcaster:  broadcaster,
		writeTimeout: writeTimeout,
		logger:       logger.With("component", "observer"),
	}
}

// HandleConnection manages one WebSocket connection. Blocks until the
// connection closes.
func (m *ObserverManager) HandleConnection(parentCtx context.Context, conn *websocket.Conn) {
	observerID, queue := m.broadcaster.Subscribe()
	defer m.broadcaster.Unsubscribe(observerID)

	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	// write pump: the queue is closed by Unsubscribe
	go func() {
		for data := range queue {
			wctx, wcancel := context.WithTimeout(ctx, m.writeTimeout)
			err := conn.Write(wctx, websocket.MessageText, data)
			wcancel()
			if err != nil {
				cancel()
				return
			}
		}
	}()

	// read loop: process observer commands until the connection closes
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			conn.Close(websocket.StatusNormalClosure, "")
			return
		}

		var msg events.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			m.logger.Warn("invalid observer message", "observerId", observerID, "error", err)
			continue
		}
		m.handleClientMessage(observerID, &msg)
	}
}

func (m *ObserverManager) handleClientMessage(observerID string, msg *events.ClientMessage) {
	switch msg.Type {
	case events.ClientPing:
		m.broadcaster.SendTo(observerID, events.PongPayload{
			Type:      events.EventPong,
			Timestamp: events.Timestamp(),
		})

	case events.ClientUserTaskComplete:
		m.engine.CompleteUserTask(msg.ElementID, msg.Decision, msg.Comments, msg.User)

	case events.ClientTaskCancelRequest:
		m.engine.CancelElement(msg.ElementID, msg.Reason)

	case events.ClientReplayRequest:
		m.broadcaster.SendTo(observerID, m.broadcaster.Snapshot(msg.ElementID))

	case events.ClientClearHistory:
		m.broadcaster.ClearHistory(msg.WorkflowInstanceID)

	default:
		m.logger.Warn("unknown observer message type",
			"observerId", observerID, "type", msg.Type)
	}
}
