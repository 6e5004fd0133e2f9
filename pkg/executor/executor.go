// Package executor maps BPMN element kinds to their execution strategies.
// Executors run one element at a time, publish progress through the event
// broadcaster and may suspend on the correlation bus, a timer or a model
// stream. Suspended executors hold no locks; cancellation is cooperative
// through the context.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/flowforge-io/flowforge/pkg/config"
	"github.com/flowforge-io/flowforge/pkg/correlation"
	"github.com/flowforge-io/flowforge/pkg/events"
	"github.com/flowforge-io/flowforge/pkg/llm"
	"github.com/flowforge-io/flowforge/pkg/mcp"
	"github.com/flowforge-io/flowforge/pkg/model"
	"github.com/flowforge-io/flowforge/pkg/procctx"
)

// Activation is one element execution within one workflow instance.
type Activation struct {
	InstanceID string
	Definition *model.Definition
	Element    *model.Element
	Context    *procctx.Store
}

// Executor runs a single element to completion (or suspension, inside
// Execute). The error return decides the element's terminal state: nil is
// completed, a CancelledError is cancelled, anything else is failed.
type Executor interface {
	Execute(ctx context.Context, act *Activation) error
}

// ToolProvider is the MCP surface agentic tasks use. *mcp.ToolExecutor
// implements it.
type ToolProvider interface {
	ListToolDefinitions(ctx context.Context) []llm.ToolDefinition
	Execute(ctx context.Context, call llm.ToolCall) *mcp.ToolResult
}

// DecisionService evaluates an external business rule.
type DecisionService interface {
	Evaluate(ctx context.Context, decisionRef string, input map[string]any) (map[string]any, error)
}

// ChildRunner schedules a nested definition (sub-process or call activity)
// against the given context store. Wired by the engine to avoid a package
// cycle.
type ChildRunner func(ctx context.Context, def *model.Definition, store *procctx.Store, instanceID string) error

// DefinitionLookup resolves a call activity's calledElement reference.
type DefinitionLookup func(name string) (*model.Definition, error)

// Deps are the shared collaborators every executor draws on.
type Deps struct {
	Publisher events.Publisher
	Bus       *correlation.Bus
	Cancels   *events.CancelRegistry

	LLM   llm.Client
	Tools ToolProvider

	Transport  Transport
	Decisions  DecisionService
	HTTPClient *http.Client

	RunChild ChildRunner
	Lookup   DefinitionLookup

	PublicBaseURL    string
	DefaultRecipient string
	Agentic          config.AgenticConfig

	Logger *slog.Logger
}

func (d *Deps) httpClient() *http.Client {
	if d.HTTPClient != nil {
		return d.HTTPClient
	}
	return http.DefaultClient
}

// Registry maps element kinds to executors. Gateways and boundary events are
// not registered; the scheduler handles them directly.
type Registry struct {
	executors map[model.ElementKind]Executor
}

// NewRegistry wires an executor for every schedulable element kind.
func NewRegistry(deps *Deps) *Registry {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	deps.Logger = deps.Logger.With("component", "executor")

	instant := &instantExecutor{}
	r := &Registry{executors: map[model.ElementKind]Executor{
		model.KindStartEvent:        instant,
		model.KindEndEvent:          instant,
		model.KindIntermediateEvent: instant,
		model.KindTask:              instant,
		model.KindManualTask:        instant,

		model.KindScriptTask:       &scriptExecutor{deps: deps},
		model.KindServiceTask:      &serviceExecutor{deps: deps},
		model.KindSendTask:         &sendExecutor{deps: deps},
		model.KindReceiveTask:      &receiveExecutor{deps: deps},
		model.KindUserTask:         &userTaskExecutor{deps: deps},
		model.KindBusinessRuleTask: &businessRuleExecutor{deps: deps},
		model.KindAgenticTask:      &agenticExecutor{deps: deps},

		model.KindTimerIntermediateCatchEvent: &timerExecutor{deps: deps},

		model.KindSubProcess:   &subProcessExecutor{deps: deps},
		model.KindCallActivity: &callActivityExecutor{deps: deps},
	}}
	return r
}

// Lookup returns the executor for an element kind.
func (r *Registry) Lookup(kind model.ElementKind) (Executor, error) {
	exec, ok := r.executors[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoExecutor, kind)
	}
	return exec, nil
}

// instantExecutor completes immediately. Start/end/intermediate events and
// plain/manual tasks carry no behavior of their own.
type instantExecutor struct{}

func (e *instantExecutor) Execute(context.Context, *Activation) error { return nil }

// resultKey is where an executor stores its output when no resultVariable is
// declared.
func resultKey(elementID string) string { return elementID + "_result" }
