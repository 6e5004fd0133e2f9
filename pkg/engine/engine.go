// Package engine executes loaded workflow definitions: it owns the instance
// registry, the token scheduler and the wiring between executors, the
// correlation bus and the event broadcaster.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowforge-io/flowforge/pkg/config"
	"github.com/flowforge-io/flowforge/pkg/correlation"
	"github.com/flowforge-io/flowforge/pkg/events"
	"github.com/flowforge-io/flowforge/pkg/executor"
	"github.com/flowforge-io/flowforge/pkg/gateway"
	"github.com/flowforge-io/flowforge/pkg/llm"
	"github.com/flowforge-io/flowforge/pkg/model"
	"github.com/flowforge-io/flowforge/pkg/procctx"
)

// ErrNotFound is returned for operations on an unknown instance id.
var ErrNotFound = errors.New("workflow instance not found")

// Options carries the engine's collaborators. Config and Publisher are
// required; the rest default to working no-op or in-process implementations.
type Options struct {
	Config    *config.Config
	Publisher events.Publisher
	Bus       *correlation.Bus
	Cancels   *events.CancelRegistry

	LLM       llm.Client
	Tools     executor.ToolProvider
	Transport executor.Transport
	Decisions executor.DecisionService

	Logger *slog.Logger
}

// Engine runs workflow instances. All methods are safe for concurrent use.
type Engine struct {
	cfg      *config.Config
	pub      events.Publisher
	bus      *correlation.Bus
	cancels  *events.CancelRegistry
	registry *executor.Registry
	gateways *gateway.Evaluator
	logger   *slog.Logger

	deadlockTimeout time.Duration

	mu        sync.Mutex
	instances map[string]*Instance
}

func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "engine")

	bus := opts.Bus
	if bus == nil {
		bus = correlation.NewBus(opts.Config.Correlation.BufferTTL(), logger)
	}
	cancels := opts.Cancels
	if cancels == nil {
		cancels = events.NewCancelRegistry(logger)
	}

	e := &Engine{
		cfg:             opts.Config,
		pub:             opts.Publisher,
		bus:             bus,
		cancels:         cancels,
		gateways:        gateway.New(logger),
		logger:          logger,
		deadlockTimeout: opts.Config.Engine.DeadlockTimeout(),
		instances:       make(map[string]*Instance),
	}

	e.registry = executor.NewRegistry(&executor.Deps{
		Publisher:        opts.Publisher,
		Bus:              bus,
		Cancels:          cancels,
		LLM:              opts.LLM,
		Tools:            opts.Tools,
		Transport:        opts.Transport,
		Decisions:        opts.Decisions,
		RunChild:         e.runChild,
		Lookup:           e.LookupDefinition,
		PublicBaseURL:    opts.Config.PublicBaseURL,
		DefaultRecipient: opts.Config.Send.DefaultRecipient,
		Agentic:          opts.Config.Agentic,
		Logger:           logger,
	})
	return e
}

// Bus exposes the correlation bus for the API layer (message publication,
// webhook decisions, debug stats).
func (e *Engine) Bus() *correlation.Bus { return e.bus }

// Execute starts a new instance of the definition with the given initial
// context and returns immediately; the instance runs in the background.
// The instance id is injected into the context as "workflowInstanceId".
func (e *Engine) Execute(ctx context.Context, def *model.Definition, initial map[string]any) (*Instance, error) {
	if def.StartEvent() == nil {
		return nil, fmt.Errorf("process %s has no start event", def.Process.ID)
	}

	id := uuid.New().String()
	store := procctx.New(initial)
	store.Set("workflowInstanceId", id)

	// instance lifetime is independent of the caller's request context
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	inst := newInstance(id, def, store, cancel)

	e.mu.Lock()
	e.instances[id] = inst
	e.mu.Unlock()

	e.logger.Info("workflow started",
		"workflowInstanceId", id, "workflowId", def.Process.ID)
	e.pub.Publish(events.EventWorkflowStarted, "", events.WorkflowStartedPayload{
		Type:               events.EventWorkflowStarted,
		WorkflowInstanceID: id,
		WorkflowID:         def.Process.ID,
		WorkflowName:       def.Process.Name,
		Timestamp:          events.Timestamp(),
	})

	go e.runInstance(runCtx, inst)
	return inst, nil
}

func (e *Engine) runInstance(ctx context.Context, inst *Instance) {
	sched := newScheduler(inst, inst.Definition, inst.Context,
		e.registry, e.gateways, e.pub, e.deadlockTimeout, e.logger)
	err := sched.run(ctx)

	var status Status
	var outcome string
	var failure error
	switch {
	case err == nil:
		status, outcome = StatusSucceeded, events.OutcomeSuccess
	case errors.Is(err, context.Canceled):
		status, outcome = StatusCancelled, events.OutcomeCancelled
	default:
		status, outcome, failure = StatusFailed, events.OutcomeFailed, err
	}
	completed := events.WorkflowCompletedPayload{
		Type:               events.EventWorkflowCompleted,
		WorkflowInstanceID: inst.ID,
		Outcome:            outcome,
		DurationMs:         time.Since(inst.StartTime).Milliseconds(),
		Timestamp:          events.Timestamp(),
	}
	if failure != nil {
		completed.Error = failure.Error()
	}
	e.pub.Publish(events.EventWorkflowCompleted, "", completed)
	e.logger.Info("workflow completed",
		"workflowInstanceId", inst.ID, "outcome", outcome, "durationMs", completed.DurationMs)

	// finish last so Done() observers see the terminal event
	inst.finish(status, failure)
}

// runChild schedules a nested graph (expanded sub-process or call activity)
// inside an existing instance. Wired into executor deps.
func (e *Engine) runChild(ctx context.Context, def *model.Definition, store *procctx.Store, instanceID string) error {
	inst := e.instance(instanceID)
	if inst == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, instanceID)
	}
	sched := newScheduler(inst, def, store,
		e.registry, e.gateways, e.pub, e.deadlockTimeout, e.logger)
	return sched.run(ctx)
}

// LookupDefinition loads a workflow definition by name from the configured
// definitions directory. Used by call activities and the API.
func (e *Engine) LookupDefinition(name string) (*model.Definition, error) {
	dir := e.cfg.DefinitionsDir
	if dir == "" {
		return nil, fmt.Errorf("definition %q: no definitions directory configured", name)
	}
	candidates := []string{name, name + ".yaml", name + ".yml"}
	for _, c := range candidates {
		data, err := os.ReadFile(filepath.Join(dir, filepath.Clean(c)))
		if err != nil {
			continue
		}
		def, err := model.Load(data)
		if err != nil {
			return nil, fmt.Errorf("definition %q: %w", name, err)
		}
		return def, nil
	}
	return nil, fmt.Errorf("definition %q not found in %s", name, dir)
}

func (e *Engine) instance(id string) *Instance {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.instances[id]
}

// Status returns a snapshot of the instance, or ErrNotFound.
func (e *Engine) Status(id string) (*InstanceStatus, error) {
	inst := e.instance(id)
	if inst == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return inst.Snapshot(), nil
}

// List returns snapshots of every known instance, oldest first.
func (e *Engine) List() []*InstanceStatus {
	e.mu.Lock()
	instances := make([]*Instance, 0, len(e.instances))
	for _, inst := range e.instances {
		instances = append(instances, inst)
	}
	e.mu.Unlock()

	slices.SortFunc(instances, func(a, b *Instance) int {
		return a.StartTime.Compare(b.StartTime)
	})
	out := make([]*InstanceStatus, 0, len(instances))
	for _, inst := range instances {
		out = append(out, inst.Snapshot())
	}
	return out
}

// Cancel stops a running instance: suspended executors wake with a cancelled
// context and no further elements are activated. Idempotent.
func (e *Engine) Cancel(id string) error {
	inst := e.instance(id)
	if inst == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	e.logger.Info("workflow cancellation requested", "workflowInstanceId", id)
	inst.cancel()
	return nil
}

// CancelElement requests cancellation of one running element (an agentic
// task mid-stream, typically). Returns whether the element accepted the
// request; either way the outcome is published to observers.
func (e *Engine) CancelElement(elementID, reason string) bool {
	if e.cancels.Request(elementID) {
		e.logger.Info("element cancellation accepted",
			"elementId", elementID, "reason", reason)
		e.pub.Publish(events.EventTaskCancelling, elementID, events.TaskCancellingPayload{
			Type:      events.EventTaskCancelling,
			ElementID: elementID,
			TaskID:    elementID,
			Timestamp: events.Timestamp(),
		})
		return true
	}
	e.pub.Publish(events.EventTaskCancelFailed, elementID, events.TaskCancelFailedPayload{
		Type:      events.EventTaskCancelFailed,
		TaskID:    elementID,
		Reason:    "task is unknown or past its cancellable window",
		Timestamp: events.Timestamp(),
	})
	return false
}

// PublishMessage routes an external message onto the correlation bus.
// Returns true when a suspended executor received it immediately.
func (e *Engine) PublishMessage(messageRef, correlationKey string, payload map[string]any) bool {
	return e.bus.Publish(messageRef, correlationKey, payload)
}

// CompleteUserTask resolves a pending user task with a human decision.
func (e *Engine) CompleteUserTask(elementID, decision, comments, user string) bool {
	return e.bus.Publish("userTask", elementID, map[string]any{
		"decision": decision,
		"comments": comments,
		"user":     user,
	})
}
