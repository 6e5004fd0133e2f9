package engine

import (
	"context"
	"sync"
	"time"

	"github.com/flowforge-io/flowforge/pkg/model"
	"github.com/flowforge-io/flowforge/pkg/procctx"
)

// Status is the lifecycle state of a workflow instance.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Instance is one running (or finished) workflow. The engine owns the
// registry of instances; each instance owns its context and frontier.
type Instance struct {
	ID         string
	Definition *model.Definition
	Context    *procctx.Store
	StartTime  time.Time

	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	status   Status
	failure  error
	endTime  time.Time
	frontier map[string]int // element id → active token count
}

func newInstance(id string, def *model.Definition, store *procctx.Store, cancel context.CancelFunc) *Instance {
	return &Instance{
		ID:         id,
		Definition: def,
		Context:    store,
		StartTime:  time.Now(),
		cancel:     cancel,
		done:       make(chan struct{}),
		status:     StatusRunning,
		frontier:   make(map[string]int),
	}
}

// Done closes when the instance reaches a terminal state.
func (i *Instance) Done() <-chan struct{} { return i.done }

func (i *Instance) finish(status Status, failure error) {
	i.mu.Lock()
	i.status = status
	i.failure = failure
	i.endTime = time.Now()
	i.mu.Unlock()
	close(i.done)
}

func (i *Instance) enter(elementID string) {
	i.mu.Lock()
	i.frontier[elementID]++
	i.mu.Unlock()
}

func (i *Instance) leave(elementID string) {
	i.mu.Lock()
	i.frontier[elementID]--
	if i.frontier[elementID] <= 0 {
		delete(i.frontier, elementID)
	}
	i.mu.Unlock()
}

// InstanceStatus is the read-only snapshot returned by the status endpoint.
type InstanceStatus struct {
	InstanceID  string    `json:"workflowInstanceId"`
	WorkflowID  string    `json:"workflowId"`
	Status      Status    `json:"status"`
	Frontier    []string  `json:"activeElements"`
	ContextKeys []string  `json:"contextKeys"`
	StartTime   time.Time `json:"startTime"`
	DurationMs  int64     `json:"durationMs"`
	Error       string    `json:"error,omitempty"`
}

// Snapshot returns a point-in-time view of the instance.
func (i *Instance) Snapshot() *InstanceStatus {
	i.mu.Lock()
	defer i.mu.Unlock()

	frontier := make([]string, 0, len(i.frontier))
	for id := range i.frontier {
		frontier = append(frontier, id)
	}

	end := i.endTime
	if end.IsZero() {
		end = time.Now()
	}

	st := &InstanceStatus{
		InstanceID:  i.ID,
		WorkflowID:  i.Definition.Process.ID,
		Status:      i.status,
		Frontier:    frontier,
		ContextKeys: i.Context.Keys(),
		StartTime:   i.StartTime,
		DurationMs:  end.Sub(i.StartTime).Milliseconds(),
	}
	if i.failure != nil {
		st.Error = i.failure.Error()
	}
	return st
}
