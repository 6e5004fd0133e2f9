package executor

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flowforge-io/flowforge/pkg/config"
	"github.com/flowforge-io/flowforge/pkg/correlation"
	"github.com/flowforge-io/flowforge/pkg/events"
	"github.com/flowforge-io/flowforge/pkg/model"
	"github.com/flowforge-io/flowforge/pkg/procctx"
)

// eventRecorder captures published events for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

type recordedEvent struct {
	Type      string
	ElementID string
	Payload   any
}

func (r *eventRecorder) Publish(eventType, elementID string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{Type: eventType, ElementID: elementID, Payload: payload})
}

// ofType returns the recorded events of one type, in order.
func (r *eventRecorder) ofType(eventType string) []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recordedEvent
	for _, ev := range r.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func testDeps(t *testing.T) (*Deps, *eventRecorder) {
	t.Helper()
	recorder := &eventRecorder{}
	bus := correlation.NewBus(correlation.DefaultBufferTTL, slog.Default())
	deps := &Deps{
		Publisher: recorder,
		Bus:       bus,
		Cancels:   events.NewCancelRegistry(slog.Default()),
		Agentic:   config.AgenticConfig{MaxRetriesDefault: 3, ConfidenceDefault: 0.7},
		Logger:    slog.Default(),
	}
	return deps, recorder
}

func activation(element model.Element, ctxVals map[string]any) *Activation {
	def := &model.Definition{Process: model.Process{
		ID:       "test-process",
		Elements: []model.Element{element},
	}}
	def.Index()
	return &Activation{
		InstanceID: "wf-test",
		Definition: def,
		Element:    def.ElementByID(element.ID),
		Context:    procctx.New(ctxVals),
	}
}

func TestRegistry_Lookup(t *testing.T) {
	deps, _ := testDeps(t)
	r := NewRegistry(deps)

	for _, kind := range []model.ElementKind{
		model.KindStartEvent, model.KindEndEvent, model.KindTask,
		model.KindScriptTask, model.KindUserTask, model.KindReceiveTask,
		model.KindAgenticTask, model.KindSubProcess, model.KindCallActivity,
		model.KindTimerIntermediateCatchEvent,
	} {
		exec, err := r.Lookup(kind)
		require.NoError(t, err, "kind %s", kind)
		require.NotNil(t, exec)
	}

	_, err := r.Lookup(model.KindExclusiveGateway)
	require.ErrorIs(t, err, ErrNoExecutor)
}

func TestInstantExecutor(t *testing.T) {
	deps, _ := testDeps(t)
	r := NewRegistry(deps)

	exec, err := r.Lookup(model.KindManualTask)
	require.NoError(t, err)

	act := activation(model.Element{ID: "m1", Kind: model.KindManualTask}, nil)
	require.NoError(t, exec.Execute(context.Background(), act))
}

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}
