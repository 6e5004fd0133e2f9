// Package events carries the real-time observer protocol: typed event
// payloads, the fan-out broadcaster with per-observer queues and replay
// history, and the interaction hub that routes observer commands (user task
// decisions, cancellation requests) back into running executors.
//
// Event delivery patterns:
//
//   - Lifecycle events (workflow.*, element.*, gateway.*) are fire-and-forget
//     status notifications.
//   - Streaming text follows start/content/chunk/end: text.message.start
//     opens a message, text.message.content carries every raw delta,
//     text.message.chunk carries complete sentences cut from the same
//     stream, and text.message.end closes the message. All four share one
//     messageId.
//   - text.message.* and agent.tool_use events are recorded per element and
//     can be replayed to a late observer as a single messages.snapshot.
package events

// Server → observer event types.
const (
	EventWorkflowStarted   = "workflow.started"
	EventWorkflowCompleted = "workflow.completed"

	EventElementActivated = "element.activated"
	EventElementCompleted = "element.completed"

	EventTaskProgress  = "task.progress"
	EventTaskThinking  = "task.thinking"
	EventTaskToolStart = "task.tool.start"
	EventTaskToolEnd   = "task.tool.end"
	EventTaskError     = "task.error"

	EventTextMessageStart   = "text.message.start"
	EventTextMessageContent = "text.message.content"
	EventTextMessageChunk   = "text.message.chunk"
	EventTextMessageEnd     = "text.message.end"
	EventAgentToolUse       = "agent.tool_use"

	EventUserTaskCreated = "userTask.created"

	EventGatewayEvaluating = "gateway.evaluating"
	EventGatewayPathTaken  = "gateway.path_taken"

	EventTaskCancellable  = "task.cancellable"
	EventTaskCancelling   = "task.cancelling"
	EventTaskCancelled    = "task.cancelled"
	EventTaskCancelFailed = "task.cancel.failed"

	EventMessagesSnapshot = "messages.snapshot"
	EventPong             = "pong"
)

// Observer → server message types.
const (
	ClientPing              = "ping"
	ClientUserTaskComplete  = "userTask.complete"
	ClientTaskCancelRequest = "task.cancel.request"
	ClientReplayRequest     = "replay.request"
	ClientClearHistory      = "clear.history"
)

// Terminal outcomes carried by workflow.completed.
const (
	OutcomeSuccess   = "success"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// ClientMessage is the JSON structure for observer → server messages.
type ClientMessage struct {
	Type               string `json:"type"`
	ElementID          string `json:"elementId,omitempty"`          // userTask.complete, task.cancel.request, replay.request
	WorkflowInstanceID string `json:"workflowInstanceId,omitempty"` // clear.history (empty clears all)
	Decision           string `json:"decision,omitempty"`           // userTask.complete
	Comments           string `json:"comments,omitempty"`           // userTask.complete
	User               string `json:"user,omitempty"`               // userTask.complete
	Reason             string `json:"reason,omitempty"`             // task.cancel.request
}
