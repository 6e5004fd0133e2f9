package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge-io/flowforge/pkg/config"
	"github.com/flowforge-io/flowforge/pkg/correlation"
	"github.com/flowforge-io/flowforge/pkg/events"
	"github.com/flowforge-io/flowforge/pkg/llm"
	"github.com/flowforge-io/flowforge/pkg/model"
)

// recorder captures published events for assertions.
type recorder struct {
	mu   sync.Mutex
	recs []recorded
}

type recorded struct {
	eventType string
	elementID string
	payload   any
}

func (r *recorder) Publish(eventType, elementID string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, recorded{eventType: eventType, elementID: elementID, payload: payload})
}

func (r *recorder) ofType(eventType string) []recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recorded
	for _, rec := range r.recs {
		if rec.eventType == eventType {
			out = append(out, rec)
		}
	}
	return out
}

func (r *recorder) completions(status string) []events.ElementCompletedPayload {
	var out []events.ElementCompletedPayload
	for _, rec := range r.ofType(events.EventElementCompleted) {
		p := rec.payload.(events.ElementCompletedPayload)
		if p.Status == status {
			out = append(out, p)
		}
	}
	return out
}

func (r *recorder) activatedIDs() []string {
	var out []string
	for _, rec := range r.ofType(events.EventElementActivated) {
		out = append(out, rec.payload.(events.ElementActivatedPayload).ElementID)
	}
	return out
}

func testConfig() *config.Config {
	return &config.Config{
		Engine:  config.EngineConfig{DeadlockTimeoutMs: 2000},
		Agentic: config.AgenticConfig{MaxRetriesDefault: 3, ConfidenceDefault: 0.7},
	}
}

type testEngine struct {
	eng     *Engine
	rec     *recorder
	bus     *correlation.Bus
	cancels *events.CancelRegistry
}

func newTestEngine(t *testing.T, cfg *config.Config, client llm.Client) *testEngine {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rec := &recorder{}
	bus := correlation.NewBus(0, logger)
	cancels := events.NewCancelRegistry(logger)
	eng := New(Options{
		Config:    cfg,
		Publisher: rec,
		Bus:       bus,
		Cancels:   cancels,
		LLM:       client,
		Logger:    logger,
	})
	return &testEngine{eng: eng, rec: rec, bus: bus, cancels: cancels}
}

func definition(elements []model.Element, conns []model.Connection) *model.Definition {
	def := &model.Definition{Process: model.Process{
		ID:          "test-process",
		Name:        "Test process",
		Elements:    elements,
		Connections: conns,
	}}
	def.Index()
	return def
}

func waitDone(t *testing.T, inst *Instance, timeout time.Duration) {
	t.Helper()
	select {
	case <-inst.Done():
	case <-time.After(timeout):
		t.Fatalf("instance %s did not finish within %s", inst.ID, timeout)
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func outcomeOf(t *testing.T, rec *recorder) events.WorkflowCompletedPayload {
	t.Helper()
	completed := rec.ofType(events.EventWorkflowCompleted)
	require.Len(t, completed, 1)
	return completed[0].payload.(events.WorkflowCompletedPayload)
}

func TestEngine_ExclusiveRoutingSkipsUntakenBranch(t *testing.T) {
	te := newTestEngine(t, testConfig(), nil)

	def := definition(
		[]model.Element{
			{ID: "start", Kind: model.KindStartEvent},
			{ID: "calc", Kind: model.KindScriptTask, Properties: model.Properties{"script": "sum = num1 + num2"}},
			{ID: "route", Kind: model.KindExclusiveGateway},
			{ID: "high", Kind: model.KindScriptTask, Properties: model.Properties{"script": `path = "high"`}},
			{ID: "low", Kind: model.KindScriptTask, Properties: model.Properties{"script": `path = "low"`}},
			{ID: "end", Kind: model.KindEndEvent},
		},
		[]model.Connection{
			{ID: "f1", From: "start", To: "calc"},
			{ID: "f2", From: "calc", To: "route"},
			{ID: "f3", From: "route", To: "high", Properties: model.Properties{"condition": "sum >= 10"}},
			{ID: "f4", From: "route", To: "low"},
			{ID: "f5", From: "high", To: "end"},
			{ID: "f6", From: "low", To: "end"},
		},
	)

	inst, err := te.eng.Execute(context.Background(), def, map[string]any{"num1": 7, "num2": 5})
	require.NoError(t, err)
	waitDone(t, inst, 5*time.Second)

	assert.Equal(t, events.OutcomeSuccess, outcomeOf(t, te.rec).Outcome)
	assert.Equal(t, "high", inst.Context.GetString("path"))

	taken := te.rec.ofType(events.EventGatewayPathTaken)
	require.Len(t, taken, 1)
	assert.Equal(t, []string{"f3"}, taken[0].payload.(events.GatewayPathTakenPayload).TakenFlows)

	skipped := te.rec.completions("skipped")
	require.Len(t, skipped, 1)
	assert.Equal(t, "low", skipped[0].ElementID)
	assert.NotContains(t, te.rec.activatedIDs(), "low")
}

func TestEngine_NoMatchingPathFailsInstance(t *testing.T) {
	te := newTestEngine(t, testConfig(), nil)

	def := definition(
		[]model.Element{
			{ID: "start", Kind: model.KindStartEvent},
			{ID: "route", Kind: model.KindExclusiveGateway},
			{ID: "only", Kind: model.KindTask},
			{ID: "end", Kind: model.KindEndEvent},
		},
		[]model.Connection{
			{ID: "f1", From: "start", To: "route"},
			{ID: "f2", From: "route", To: "only", Properties: model.Properties{"condition": "amount > 100"}},
			{ID: "f3", From: "only", To: "end"},
		},
	)

	inst, err := te.eng.Execute(context.Background(), def, map[string]any{"amount": 5})
	require.NoError(t, err)
	waitDone(t, inst, 5*time.Second)

	assert.Equal(t, events.OutcomeFailed, outcomeOf(t, te.rec).Outcome)
	errs := te.rec.ofType(events.EventTaskError)
	require.Len(t, errs, 1)
	assert.Equal(t, "NoMatchingPath", errs[0].payload.(events.TaskErrorPayload).ErrorType)
}

func TestEngine_ParallelForkJoinFiresOnce(t *testing.T) {
	te := newTestEngine(t, testConfig(), nil)

	def := definition(
		[]model.Element{
			{ID: "start", Kind: model.KindStartEvent},
			{ID: "split", Kind: model.KindParallelGateway},
			{ID: "a", Kind: model.KindScriptTask, Properties: model.Properties{"script": "a = 1"}},
			{ID: "b", Kind: model.KindScriptTask, Properties: model.Properties{"script": "b = 2"}},
			{ID: "join", Kind: model.KindParallelGateway},
			{ID: "after", Kind: model.KindScriptTask, Properties: model.Properties{"script": "total = a + b"}},
			{ID: "end", Kind: model.KindEndEvent},
		},
		[]model.Connection{
			{ID: "f1", From: "start", To: "split"},
			{ID: "f2", From: "split", To: "a"},
			{ID: "f3", From: "split", To: "b"},
			{ID: "f4", From: "a", To: "join"},
			{ID: "f5", From: "b", To: "join"},
			{ID: "f6", From: "join", To: "after"},
			{ID: "f7", From: "after", To: "end"},
		},
	)

	inst, err := te.eng.Execute(context.Background(), def, nil)
	require.NoError(t, err)
	waitDone(t, inst, 5*time.Second)

	assert.Equal(t, events.OutcomeSuccess, outcomeOf(t, te.rec).Outcome)
	total, ok := inst.Context.Get("total")
	require.True(t, ok)
	assert.EqualValues(t, 3, total)

	joinRuns := 0
	for _, id := range te.rec.activatedIDs() {
		if id == "join" {
			joinRuns++
		}
	}
	assert.Equal(t, 1, joinRuns)
}

func TestEngine_InclusiveJoinWaitsOnlyLiveBranches(t *testing.T) {
	te := newTestEngine(t, testConfig(), nil)

	def := definition(
		[]model.Element{
			{ID: "start", Kind: model.KindStartEvent},
			{ID: "split", Kind: model.KindInclusiveGateway},
			{ID: "cheap", Kind: model.KindScriptTask, Properties: model.Properties{"script": "cheap_done = true"}},
			{ID: "audit", Kind: model.KindScriptTask, Properties: model.Properties{"script": "audit_done = true"}},
			{ID: "join", Kind: model.KindInclusiveGateway},
			{ID: "end", Kind: model.KindEndEvent},
		},
		[]model.Connection{
			{ID: "f1", From: "start", To: "split"},
			{ID: "f2", From: "split", To: "cheap", Properties: model.Properties{"condition": "amount > 0"}},
			{ID: "f3", From: "split", To: "audit", Properties: model.Properties{"condition": "amount > 100"}},
			{ID: "f4", From: "cheap", To: "join"},
			{ID: "f5", From: "audit", To: "join"},
			{ID: "f6", From: "join", To: "end"},
		},
	)

	inst, err := te.eng.Execute(context.Background(), def, map[string]any{"amount": 10})
	require.NoError(t, err)
	waitDone(t, inst, 5*time.Second)

	// the audit branch was skipped, so the join must not wait for it
	assert.Equal(t, events.OutcomeSuccess, outcomeOf(t, te.rec).Outcome)
	assert.Equal(t, "true", inst.Context.GetString("cheap_done"))
	assert.Empty(t, inst.Context.GetString("audit_done"))

	skipped := te.rec.completions("skipped")
	require.Len(t, skipped, 1)
	assert.Equal(t, "audit", skipped[0].ElementID)
}

func TestEngine_DeadlockDiagnosisNamesBranches(t *testing.T) {
	cfg := testConfig()
	cfg.Engine.DeadlockTimeoutMs = 150
	te := newTestEngine(t, cfg, nil)

	def := definition(
		[]model.Element{
			{ID: "start", Kind: model.KindStartEvent},
			{ID: "split", Kind: model.KindParallelGateway},
			{ID: "a", Kind: model.KindScriptTask, Properties: model.Properties{"script": "a = 1"}},
			{ID: "b", Kind: model.KindScriptTask, Properties: model.Properties{"script": "b = undefined_name +"}},
			{ID: "join", Kind: model.KindParallelGateway},
			{ID: "end", Kind: model.KindEndEvent},
		},
		[]model.Connection{
			{ID: "f1", From: "start", To: "split"},
			{ID: "f2", From: "split", To: "a"},
			{ID: "f3", From: "split", To: "b"},
			{ID: "f4", From: "a", To: "join"},
			{ID: "f5", From: "b", To: "join"},
			{ID: "f6", From: "join", To: "end"},
		},
	)

	inst, err := te.eng.Execute(context.Background(), def, nil)
	require.NoError(t, err)
	waitDone(t, inst, 5*time.Second)

	assert.Equal(t, events.OutcomeFailed, outcomeOf(t, te.rec).Outcome)

	var deadlock *events.TaskErrorPayload
	for _, rec := range te.rec.ofType(events.EventTaskError) {
		p := rec.payload.(events.TaskErrorPayload)
		if p.ErrorType == "Deadlock" {
			deadlock = &p
		}
	}
	require.NotNil(t, deadlock, "expected a Deadlock task.error")
	assert.Equal(t, "join", deadlock.ElementID)
	assert.Contains(t, deadlock.Message, "arrived from [a]")
	assert.Contains(t, deadlock.Message, "waiting on [b]")
	// the end event was never reached
	assert.NotContains(t, te.rec.activatedIDs(), "end")
}

func userTaskDefinition() *model.Definition {
	return definition(
		[]model.Element{
			{ID: "start", Kind: model.KindStartEvent},
			{ID: "approve", Kind: model.KindUserTask, Name: "Approve order", Properties: model.Properties{"assignee": "ops"}},
			{ID: "end", Kind: model.KindEndEvent},
		},
		[]model.Connection{
			{ID: "f1", From: "start", To: "approve"},
			{ID: "f2", From: "approve", To: "end"},
		},
	)
}

func TestEngine_UserTaskApproval(t *testing.T) {
	te := newTestEngine(t, testConfig(), nil)

	inst, err := te.eng.Execute(context.Background(), userTaskDefinition(), nil)
	require.NoError(t, err)

	waitFor(t, time.Second, func() bool { return te.bus.Stats().ActiveWaiters == 1 })
	require.Len(t, te.rec.ofType(events.EventUserTaskCreated), 1)
	require.True(t, te.eng.CompleteUserTask("approve", "approved", "lgtm", "alice"))

	waitDone(t, inst, 5*time.Second)
	assert.Equal(t, events.OutcomeSuccess, outcomeOf(t, te.rec).Outcome)
	assert.Equal(t, "approved", inst.Context.GetString("approve_decision"))
	assert.Equal(t, "alice", inst.Context.GetString("approve_completedBy"))
}

func TestEngine_UserTaskRejectionFailsWorkflow(t *testing.T) {
	te := newTestEngine(t, testConfig(), nil)

	inst, err := te.eng.Execute(context.Background(), userTaskDefinition(), nil)
	require.NoError(t, err)

	waitFor(t, time.Second, func() bool { return te.bus.Stats().ActiveWaiters == 1 })
	require.True(t, te.eng.CompleteUserTask("approve", "rejected", "too expensive", "bob"))

	waitDone(t, inst, 5*time.Second)
	outcome := outcomeOf(t, te.rec)
	assert.Equal(t, events.OutcomeFailed, outcome.Outcome)
	assert.Contains(t, outcome.Error, "rejected")

	errs := te.rec.ofType(events.EventTaskError)
	require.Len(t, errs, 1)
	assert.Equal(t, "UserTaskRejected", errs[0].payload.(events.TaskErrorPayload).ErrorType)
	assert.NotContains(t, te.rec.activatedIDs(), "end")
}

func receiveDefinition() *model.Definition {
	return definition(
		[]model.Element{
			{ID: "start", Kind: model.KindStartEvent},
			{ID: "wait", Kind: model.KindReceiveTask, Properties: model.Properties{
				"messageRef":     "payment.confirmed",
				"correlationKey": "${orderId}",
			}},
			{ID: "end", Kind: model.KindEndEvent},
		},
		[]model.Connection{
			{ID: "f1", From: "start", To: "wait"},
			{ID: "f2", From: "wait", To: "end"},
		},
	)
}

func TestEngine_ReceiveTaskCorrelation(t *testing.T) {
	te := newTestEngine(t, testConfig(), nil)

	inst, err := te.eng.Execute(context.Background(), receiveDefinition(), map[string]any{"orderId": "A-1"})
	require.NoError(t, err)

	waitFor(t, time.Second, func() bool { return te.bus.Stats().ActiveWaiters == 1 })
	assert.True(t, te.eng.PublishMessage("payment.confirmed", "A-1", map[string]any{"paid": true}))

	waitDone(t, inst, 5*time.Second)
	assert.Equal(t, events.OutcomeSuccess, outcomeOf(t, te.rec).Outcome)
	paid, ok := inst.Context.Get("paid")
	require.True(t, ok)
	assert.Equal(t, true, paid)
}

func TestEngine_CancelStopsInstance(t *testing.T) {
	te := newTestEngine(t, testConfig(), nil)

	inst, err := te.eng.Execute(context.Background(), receiveDefinition(), map[string]any{"orderId": "A-1"})
	require.NoError(t, err)

	waitFor(t, time.Second, func() bool { return te.bus.Stats().ActiveWaiters == 1 })
	require.NoError(t, te.eng.Cancel(inst.ID))

	waitDone(t, inst, 5*time.Second)
	assert.Equal(t, events.OutcomeCancelled, outcomeOf(t, te.rec).Outcome)
	assert.NotContains(t, te.rec.activatedIDs(), "end")

	st, err := te.eng.Status(inst.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, st.Status)
}

func TestEngine_BoundaryTimerRedirectsFlow(t *testing.T) {
	te := newTestEngine(t, testConfig(), nil)

	def := definition(
		[]model.Element{
			{ID: "start", Kind: model.KindStartEvent},
			{ID: "wait", Kind: model.KindReceiveTask, Properties: model.Properties{
				"messageRef":     "never.sent",
				"correlationKey": "k",
			}},
			{ID: "escalate", Kind: model.KindBoundaryTimerEvent, AttachedToRef: "wait", Properties: model.Properties{
				"timerType":     "duration",
				"timerDuration": "PT0.1S",
			}},
			{ID: "endNormal", Kind: model.KindEndEvent},
			{ID: "endTimeout", Kind: model.KindEndEvent},
		},
		[]model.Connection{
			{ID: "f1", From: "start", To: "wait"},
			{ID: "f2", From: "wait", To: "endNormal"},
			{ID: "f3", From: "escalate", To: "endTimeout"},
		},
	)

	inst, err := te.eng.Execute(context.Background(), def, nil)
	require.NoError(t, err)
	waitDone(t, inst, 5*time.Second)

	assert.Equal(t, events.OutcomeSuccess, outcomeOf(t, te.rec).Outcome)
	assert.Contains(t, te.rec.activatedIDs(), "endTimeout")
	assert.NotContains(t, te.rec.activatedIDs(), "endNormal")

	cancelled := te.rec.completions("cancelled")
	require.Len(t, cancelled, 1)
	assert.Equal(t, "wait", cancelled[0].ElementID)
}

func TestEngine_EndEventNameMarksFailure(t *testing.T) {
	te := newTestEngine(t, testConfig(), nil)

	def := definition(
		[]model.Element{
			{ID: "start", Kind: model.KindStartEvent},
			{ID: "end", Kind: model.KindEndEvent, Name: "Payment Rejected"},
		},
		[]model.Connection{{ID: "f1", From: "start", To: "end"}},
	)

	inst, err := te.eng.Execute(context.Background(), def, nil)
	require.NoError(t, err)
	waitDone(t, inst, 5*time.Second)

	outcome := outcomeOf(t, te.rec)
	assert.Equal(t, events.OutcomeFailed, outcome.Outcome)
	assert.Contains(t, outcome.Error, "Payment Rejected")
}

func agenticDefinition() *model.Definition {
	return definition(
		[]model.Element{
			{ID: "start", Kind: model.KindStartEvent},
			{ID: "analyze", Kind: model.KindAgenticTask, Name: "Analyze", Properties: model.Properties{
				"model":        "claude-sonnet-4-5",
				"systemPrompt": "You are a helpful analyst.",
				"prompt":       "Summarize the order.",
			}},
			{ID: "end", Kind: model.KindEndEvent},
		},
		[]model.Connection{
			{ID: "f1", From: "start", To: "analyze"},
			{ID: "f2", From: "analyze", To: "end"},
		},
	)
}

func TestEngine_AgenticTaskRunsToCompletion(t *testing.T) {
	client := llm.NewScriptedClient(llm.Turn{
		&llm.TextChunk{Content: "Order is fine. "},
		&llm.TextChunk{Content: "Ship it."},
	})
	te := newTestEngine(t, testConfig(), client)

	inst, err := te.eng.Execute(context.Background(), agenticDefinition(), nil)
	require.NoError(t, err)
	waitDone(t, inst, 5*time.Second)

	assert.Equal(t, events.OutcomeSuccess, outcomeOf(t, te.rec).Outcome)
	assert.Equal(t, "Order is fine. Ship it.", inst.Context.GetString("analyze_result"))

	ends := te.rec.ofType(events.EventTextMessageEnd)
	require.Len(t, ends, 1)
	assert.False(t, ends[0].payload.(events.TextMessageEndPayload).Cancelled)
}

// holdingClient streams one chunk then holds the stream open until the
// context is cancelled.
type holdingClient struct {
	emitted chan struct{}
}

func (c *holdingClient) Generate(ctx context.Context, _ *llm.GenerateInput) (<-chan llm.Chunk, error) {
	out := make(chan llm.Chunk)
	go func() {
		defer close(out)
		select {
		case out <- &llm.TextChunk{Content: "Partial findings. "}:
		case <-ctx.Done():
			return
		}
		close(c.emitted)
		<-ctx.Done()
	}()
	return out, nil
}

func (c *holdingClient) Close() error { return nil }

func TestEngine_ElementCancellationContinuesFlow(t *testing.T) {
	client := &holdingClient{emitted: make(chan struct{})}
	te := newTestEngine(t, testConfig(), client)

	inst, err := te.eng.Execute(context.Background(), agenticDefinition(), nil)
	require.NoError(t, err)

	<-client.emitted
	waitFor(t, time.Second, func() bool { return te.cancels.Cancellable("analyze") })
	require.True(t, te.eng.CancelElement("analyze", "operator request"))

	waitDone(t, inst, 5*time.Second)

	// the cancelled element retires cleanly and the flow still reaches the end
	assert.Equal(t, events.OutcomeSuccess, outcomeOf(t, te.rec).Outcome)
	assert.Contains(t, te.rec.activatedIDs(), "end")

	require.Len(t, te.rec.ofType(events.EventTaskCancelling), 1)
	cancelled := te.rec.ofType(events.EventTaskCancelled)
	require.Len(t, cancelled, 1)
	assert.Contains(t, cancelled[0].payload.(events.TaskCancelledPayload).PartialContent, "Partial findings.")

	completions := te.rec.completions("cancelled")
	require.Len(t, completions, 1)
	assert.Equal(t, "analyze", completions[0].ElementID)
}

func TestEngine_CancelElementUnknownTask(t *testing.T) {
	te := newTestEngine(t, testConfig(), nil)

	assert.False(t, te.eng.CancelElement("ghost", ""))
	failed := te.rec.ofType(events.EventTaskCancelFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, "ghost", failed[0].payload.(events.TaskCancelFailedPayload).TaskID)
}

func TestEngine_SubProcessRunsChildGraph(t *testing.T) {
	te := newTestEngine(t, testConfig(), nil)

	def := definition(
		[]model.Element{
			{ID: "start", Kind: model.KindStartEvent},
			{
				ID: "prep", Kind: model.KindSubProcess, Expanded: true,
				ChildElements: []model.Element{
					{ID: "cs", Kind: model.KindStartEvent},
					{ID: "mark", Kind: model.KindScriptTask, Properties: model.Properties{"script": "prepared = true"}},
					{ID: "ce", Kind: model.KindEndEvent},
				},
				ChildConns: []model.Connection{
					{ID: "cf1", From: "cs", To: "mark"},
					{ID: "cf2", From: "mark", To: "ce"},
				},
			},
			{ID: "end", Kind: model.KindEndEvent},
		},
		[]model.Connection{
			{ID: "f1", From: "start", To: "prep"},
			{ID: "f2", From: "prep", To: "end"},
		},
	)

	inst, err := te.eng.Execute(context.Background(), def, nil)
	require.NoError(t, err)
	waitDone(t, inst, 5*time.Second)

	assert.Equal(t, events.OutcomeSuccess, outcomeOf(t, te.rec).Outcome)
	prepared, ok := inst.Context.Get("prepared")
	require.True(t, ok)
	assert.Equal(t, true, prepared)
	// the child graph's elements ran under the same instance
	assert.Contains(t, te.rec.activatedIDs(), "mark")
}

func TestEngine_StatusAndList(t *testing.T) {
	te := newTestEngine(t, testConfig(), nil)

	_, err := te.eng.Status("missing")
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, te.eng.Cancel("missing"), ErrNotFound)

	inst, err := te.eng.Execute(context.Background(), receiveDefinition(), map[string]any{"orderId": "A-1"})
	require.NoError(t, err)
	waitFor(t, time.Second, func() bool { return te.bus.Stats().ActiveWaiters == 1 })

	st, err := te.eng.Status(inst.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, st.Status)
	assert.Contains(t, st.Frontier, "wait")
	assert.Contains(t, st.ContextKeys, "workflowInstanceId")

	list := te.eng.List()
	require.Len(t, list, 1)
	assert.Equal(t, inst.ID, list[0].InstanceID)

	require.NoError(t, te.eng.Cancel(inst.ID))
	waitDone(t, inst, 5*time.Second)
}
