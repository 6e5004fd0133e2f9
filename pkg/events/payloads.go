package events

// WorkflowStartedPayload is published once when an instance begins executing.
type WorkflowStartedPayload struct {
	Type               string `json:"type"` // always EventWorkflowStarted
	WorkflowInstanceID string `json:"workflowInstanceId"`
	WorkflowID         string `json:"workflowId"`
	WorkflowName       string `json:"workflowName,omitempty"`
	Timestamp          string `json:"timestamp"` // RFC3339Nano
}

// WorkflowCompletedPayload is published once when an instance reaches a
// terminal state. Outcome is success, failed or cancelled.
type WorkflowCompletedPayload struct {
	Type               string `json:"type"` // always EventWorkflowCompleted
	WorkflowInstanceID string `json:"workflowInstanceId"`
	Outcome            string `json:"outcome"`
	Error              string `json:"error,omitempty"`
	DurationMs         int64  `json:"durationMs"`
	Timestamp          string `json:"timestamp"`
}

// ElementActivatedPayload marks a token arriving at an element.
type ElementActivatedPayload struct {
	Type               string `json:"type"` // always EventElementActivated
	WorkflowInstanceID string `json:"workflowInstanceId"`
	ElementID          string `json:"elementId"`
	ElementType        string `json:"elementType"`
	ElementName        string `json:"elementName,omitempty"`
	Timestamp          string `json:"timestamp"`
}

// ElementCompletedPayload marks an element finishing, in any outcome.
// Status is one of completed, failed, skipped, cancelled.
type ElementCompletedPayload struct {
	Type               string `json:"type"` // always EventElementCompleted
	WorkflowInstanceID string `json:"workflowInstanceId"`
	ElementID          string `json:"elementId"`
	ElementType        string `json:"elementType"`
	Status             string `json:"status"`
	DurationMs         int64  `json:"durationMs,omitempty"`
	Timestamp          string `json:"timestamp"`
}

// TaskProgressPayload reports coarse progress from a long-running executor.
type TaskProgressPayload struct {
	Type      string  `json:"type"` // always EventTaskProgress
	ElementID string  `json:"elementId"`
	Progress  float64 `json:"progress"` // 0.0 .. 1.0
	Message   string  `json:"message,omitempty"`
	Timestamp string  `json:"timestamp"`
}

// TaskThinkingPayload carries model reasoning text from an agentic task.
type TaskThinkingPayload struct {
	Type               string `json:"type"` // always EventTaskThinking
	WorkflowInstanceID string `json:"workflowInstanceId,omitempty"`
	ElementID          string `json:"elementId"`
	Content            string `json:"content"`
	Timestamp          string `json:"timestamp"`
}

// TaskToolStartPayload marks the start of a tool invocation.
type TaskToolStartPayload struct {
	Type               string         `json:"type"` // always EventTaskToolStart
	WorkflowInstanceID string         `json:"workflowInstanceId,omitempty"`
	ElementID          string         `json:"elementId"`
	ToolID             string         `json:"toolId"`
	ToolName           string         `json:"toolName"`
	Arguments          map[string]any `json:"arguments,omitempty"`
	Timestamp          string         `json:"timestamp"`
}

// TaskToolEndPayload marks the end of a tool invocation.
type TaskToolEndPayload struct {
	Type               string `json:"type"` // always EventTaskToolEnd
	WorkflowInstanceID string `json:"workflowInstanceId,omitempty"`
	ElementID          string `json:"elementId"`
	ToolID             string `json:"toolId"`
	ToolName           string `json:"toolName"`
	Result             string `json:"result,omitempty"`
	IsError            bool   `json:"isError,omitempty"`
	Timestamp          string `json:"timestamp"`
}

// TaskErrorPayload reports an executor failure.
type TaskErrorPayload struct {
	Type      string `json:"type"` // always EventTaskError
	ElementID string `json:"elementId"`
	Message   string `json:"message"`
	ErrorType string `json:"errorType,omitempty"`
	Retryable bool   `json:"retryable"`
	Timestamp string `json:"timestamp"`
}

// TextMessageStartPayload opens a streamed message. The same messageId is
// shared by every content/chunk delta and by the closing end event.
type TextMessageStartPayload struct {
	Type               string `json:"type"` // always EventTextMessageStart
	WorkflowInstanceID string `json:"workflowInstanceId,omitempty"`
	ElementID          string `json:"elementId"`
	MessageID          string `json:"messageId"`
	Role               string `json:"role"` // assistant, user, system
	Timestamp          string `json:"timestamp"`
}

// TextMessageContentPayload carries one raw streaming delta.
type TextMessageContentPayload struct {
	Type               string `json:"type"` // always EventTextMessageContent
	WorkflowInstanceID string `json:"workflowInstanceId,omitempty"`
	ElementID          string `json:"elementId"`
	MessageID          string `json:"messageId"`
	Delta              string `json:"delta"`
	Timestamp          string `json:"timestamp"`
}

// TextMessageChunkPayload carries one complete sentence cut from the same
// stream the content deltas come from.
type TextMessageChunkPayload struct {
	Type               string `json:"type"` // always EventTextMessageChunk
	WorkflowInstanceID string `json:"workflowInstanceId,omitempty"`
	ElementID          string `json:"elementId"`
	MessageID          string `json:"messageId"`
	Content            string `json:"content"`
	Timestamp          string `json:"timestamp"`
}

// TextMessageEndPayload closes a streamed message. A message interrupted by
// a cancellation request carries Cancelled=true and keeps whatever content
// was streamed before the cut.
type TextMessageEndPayload struct {
	Type               string `json:"type"` // always EventTextMessageEnd
	WorkflowInstanceID string `json:"workflowInstanceId,omitempty"`
	ElementID          string `json:"elementId"`
	MessageID          string `json:"messageId"`
	Cancelled          bool   `json:"cancelled,omitempty"`
	CancellationReason string `json:"cancellationReason,omitempty"`
	Timestamp          string `json:"timestamp"`
}

// AgentToolUsePayload summarizes a tool call for the conversation history
// (tool start/end carry the live detail; this one is replayable).
type AgentToolUsePayload struct {
	Type      string         `json:"type"` // always EventAgentToolUse
	ElementID string         `json:"elementId"`
	ToolName  string         `json:"toolName"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Timestamp string         `json:"timestamp"`
}

// UserTaskCreatedPayload announces a user task awaiting a human decision.
type UserTaskCreatedPayload struct {
	Type       string   `json:"type"` // always EventUserTaskCreated
	ElementID  string   `json:"elementId"`
	TaskID     string   `json:"taskId"`
	Name       string   `json:"name,omitempty"`
	Assignee   string   `json:"assignee,omitempty"`
	FormFields []string `json:"formFields,omitempty"`
	Message    string   `json:"message,omitempty"`
	Timestamp  string   `json:"timestamp"`
}

// FlowCondition describes one outgoing flow under evaluation.
type FlowCondition struct {
	ConnectionID string `json:"connectionId"`
	Condition    string `json:"condition,omitempty"`
	IsDefault    bool   `json:"isDefault,omitempty"`
	Matched      bool   `json:"matched"`
}

// GatewayEvaluatingPayload is published before a gateway routes its token.
type GatewayEvaluatingPayload struct {
	Type        string          `json:"type"` // always EventGatewayEvaluating
	ElementID   string          `json:"elementId"`
	GatewayType string          `json:"gatewayType"`
	Conditions  []FlowCondition `json:"conditions,omitempty"`
	Timestamp   string          `json:"timestamp"`
}

// GatewayPathTakenPayload is published after a gateway routes its token.
type GatewayPathTakenPayload struct {
	Type         string   `json:"type"` // always EventGatewayPathTaken
	ElementID    string   `json:"elementId"`
	GatewayType  string   `json:"gatewayType"`
	TakenFlows   []string `json:"takenFlows"`
	SkippedFlows []string `json:"skippedFlows,omitempty"`
	Timestamp    string   `json:"timestamp"`
}

// TaskCancellablePayload advertises whether a running task currently accepts
// cancellation requests.
type TaskCancellablePayload struct {
	Type        string `json:"type"` // always EventTaskCancellable
	ElementID   string `json:"elementId"`
	TaskID      string `json:"taskId"`
	Cancellable bool   `json:"cancellable"`
	Timestamp   string `json:"timestamp"`
}

// TaskCancellingPayload acknowledges a cancellation request being processed.
type TaskCancellingPayload struct {
	Type      string `json:"type"` // always EventTaskCancelling
	ElementID string `json:"elementId"`
	TaskID    string `json:"taskId"`
	Timestamp string `json:"timestamp"`
}

// TaskCancelledPayload confirms a task stopped in response to a request.
type TaskCancelledPayload struct {
	Type           string `json:"type"` // always EventTaskCancelled
	ElementID      string `json:"elementId"`
	TaskID         string `json:"taskId"`
	PartialContent string `json:"partialContent,omitempty"`
	Timestamp      string `json:"timestamp"`
}

// TaskCancelFailedPayload reports a cancellation request that could not be
// honored (unknown task, or the task is past its cancellable window).
type TaskCancelFailedPayload struct {
	Type      string `json:"type"` // always EventTaskCancelFailed
	TaskID    string `json:"taskId"`
	Reason    string `json:"reason"`
	Timestamp string `json:"timestamp"`
}

// SnapshotMessage is one replayed entry inside a messages.snapshot.
// Kind is "message", "thinking" or "tool"; tool entries merge the start/end
// pair into one record.
type SnapshotMessage struct {
	Kind               string         `json:"kind"`
	MessageID          string         `json:"messageId,omitempty"`
	Role               string         `json:"role,omitempty"`
	Content            string         `json:"content,omitempty"`
	ToolID             string         `json:"toolId,omitempty"`
	ToolName           string         `json:"toolName,omitempty"`
	Arguments          map[string]any `json:"arguments,omitempty"`
	Result             string         `json:"result,omitempty"`
	IsError            bool           `json:"isError,omitempty"`
	Cancelled          bool           `json:"cancelled,omitempty"`
	CancellationReason string         `json:"cancellationReason,omitempty"`
	Timestamp          string         `json:"timestamp"`
}

// MessagesSnapshotPayload replays an element's recorded conversation to a
// single observer in one message.
type MessagesSnapshotPayload struct {
	Type      string            `json:"type"` // always EventMessagesSnapshot
	ElementID string            `json:"elementId"`
	Messages  []SnapshotMessage `json:"messages"`
	Timestamp string            `json:"timestamp"`
}

// PongPayload answers an observer ping.
type PongPayload struct {
	Type      string `json:"type"` // always EventPong
	Timestamp string `json:"timestamp"`
}
