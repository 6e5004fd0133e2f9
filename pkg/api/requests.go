package api

// ExecuteWorkflowRequest starts a workflow. Exactly one of Definition (inline
// YAML) or Workflow (a name resolved against the definitions directory) must
// be set.
type ExecuteWorkflowRequest struct {
	Definition string         `json:"definition,omitempty"`
	Workflow   string         `json:"workflow,omitempty"`
	Context    map[string]any `json:"context,omitempty"`
}

// PublishMessageRequest routes an external message onto the correlation bus.
type PublishMessageRequest struct {
	MessageRef     string         `json:"messageRef"`
	CorrelationKey string         `json:"correlationKey"`
	Payload        map[string]any `json:"payload,omitempty"`
}

// CompleteUserTaskRequest resolves a pending user task.
type CompleteUserTaskRequest struct {
	Decision string `json:"decision"`
	Comments string `json:"comments,omitempty"`
	User     string `json:"user,omitempty"`
}

// CancelElementRequest requests cancellation of one running element.
type CancelElementRequest struct {
	Reason string `json:"reason,omitempty"`
}
