package api

// ExecuteWorkflowResponse acknowledges a started instance.
type ExecuteWorkflowResponse struct {
	WorkflowInstanceID string `json:"workflowInstanceId"`
	WorkflowID         string `json:"workflowId"`
	Status             string `json:"status"`
}

// PublishMessageResponse reports how the bus handled a message.
type PublishMessageResponse struct {
	Delivered bool `json:"delivered"`
	Buffered  bool `json:"buffered"`
}

// AcceptedResponse acknowledges an asynchronous action.
type AcceptedResponse struct {
	Accepted bool   `json:"accepted"`
	Message  string `json:"message,omitempty"`
}

// HealthResponse is the /healthz body.
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Observers int    `json:"observers"`
	Instances int    `json:"instances"`
}
