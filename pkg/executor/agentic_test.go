package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge-io/flowforge/pkg/events"
	"github.com/flowforge-io/flowforge/pkg/llm"
	"github.com/flowforge-io/flowforge/pkg/mcp"
	"github.com/flowforge-io/flowforge/pkg/model"
)

func agenticElement(props model.Properties) model.Element {
	base := model.Properties{
		"model":        "claude-sonnet-4-5",
		"systemPrompt": "You are a helpful analyst.",
		"prompt":       "Summarize order ${orderId}.",
	}
	for k, v := range props {
		base[k] = v
	}
	return model.Element{ID: "analyze", Kind: model.KindAgenticTask, Name: "Analyze order", Properties: base}
}

func TestAgenticExecutor_StreamsAndStoresResult(t *testing.T) {
	deps, recorder := testDeps(t)
	deps.LLM = llm.NewScriptedClient(llm.Turn{
		&llm.TextChunk{Content: "The order looks fine. "},
		&llm.TextChunk{Content: "Nothing unusual was found."},
	})
	exec := &agenticExecutor{deps: deps}

	act := activation(agenticElement(nil), map[string]any{"orderId": "A-42"})
	require.NoError(t, exec.Execute(context.Background(), act))

	result := act.Context.GetString("analyze_result")
	assert.Equal(t, "The order looks fine. Nothing unusual was found.", result)

	// every delta went out as content; sentences went out as chunks
	contents := recorder.ofType(events.EventTextMessageContent)
	require.Len(t, contents, 2)
	chunks := recorder.ofType(events.EventTextMessageChunk)
	require.NotEmpty(t, chunks)

	// start, deltas, chunks and end all share one messageId
	start := recorder.ofType(events.EventTextMessageStart)
	require.Len(t, start, 1)
	messageID := start[0].Payload.(events.TextMessageStartPayload).MessageID
	for _, ev := range contents {
		assert.Equal(t, messageID, ev.Payload.(events.TextMessageContentPayload).MessageID)
	}
	ends := recorder.ofType(events.EventTextMessageEnd)
	require.Len(t, ends, 1)
	endPayload := ends[0].Payload.(events.TextMessageEndPayload)
	assert.Equal(t, messageID, endPayload.MessageID)
	assert.False(t, endPayload.Cancelled)

	// prompt template was resolved against the context
	scripted := deps.LLM.(*llm.ScriptedClient)
	require.Len(t, scripted.Calls(), 1)
	assert.Equal(t, "Summarize order A-42.", scripted.Calls()[0].Messages[0].Content)
}

func TestAgenticExecutor_LowConfidenceRetriesThenFails(t *testing.T) {
	deps, recorder := testDeps(t)
	deps.LLM = llm.NewScriptedClient(llm.Turn{
		&llm.TextChunk{Content: "Not sure about this one. Confidence: 0.3"},
	})
	exec := &agenticExecutor{deps: deps}

	act := activation(agenticElement(model.Properties{
		"confidenceThreshold": 0.8,
		"maxRetries":          2,
	}), nil)

	err := exec.Execute(context.Background(), act)
	require.ErrorIs(t, err, ErrLowConfidence)

	var lce *LowConfidenceError
	require.ErrorAs(t, err, &lce)
	assert.Equal(t, 2, lce.Attempts)
	assert.InDelta(t, 0.3, lce.Best, 1e-9)

	// one message per attempt, plus retry progress events
	assert.Len(t, recorder.ofType(events.EventTextMessageStart), 2)
	assert.Len(t, recorder.ofType(events.EventTaskProgress), 2)
}

func TestAgenticExecutor_ConfidenceAccepted(t *testing.T) {
	deps, _ := testDeps(t)
	deps.LLM = llm.NewScriptedClient(llm.Turn{
		&llm.TextChunk{Content: "All good here. Confidence: 0.92"},
	})
	exec := &agenticExecutor{deps: deps}

	act := activation(agenticElement(model.Properties{"confidenceThreshold": 0.8}), nil)
	require.NoError(t, exec.Execute(context.Background(), act))

	conf, ok := act.Context.Get("analyze_confidence")
	require.True(t, ok)
	assert.InDelta(t, 0.92, conf.(float64), 1e-9)
}

// stubTools answers every tool call with a fixed result.
type stubTools struct {
	defs  []llm.ToolDefinition
	calls []llm.ToolCall
}

func (s *stubTools) ListToolDefinitions(context.Context) []llm.ToolDefinition { return s.defs }

func (s *stubTools) Execute(_ context.Context, call llm.ToolCall) *mcp.ToolResult {
	s.calls = append(s.calls, call)
	return &mcp.ToolResult{CallID: call.ID, Name: call.Name, Content: "pods: 3"}
}

func TestAgenticExecutor_ToolLoop(t *testing.T) {
	deps, recorder := testDeps(t)
	tools := &stubTools{defs: []llm.ToolDefinition{
		{Name: "kubernetes.get_pods", Description: "list pods"},
		{Name: "github.list_repos", Description: "list repos"},
	}}
	deps.Tools = tools
	deps.LLM = llm.NewScriptedClient(
		llm.Turn{
			&llm.TextChunk{Content: "Checking the cluster. "},
			&llm.ToolCallChunk{CallID: "call-1", Name: "kubernetes.get_pods", Arguments: `{"namespace":"default"}`},
		},
		llm.Turn{
			&llm.TextChunk{Content: "Three pods are running."},
		},
	)
	exec := &agenticExecutor{deps: deps}

	act := activation(agenticElement(model.Properties{
		"mcpTools": []any{"kubernetes"},
	}), nil)
	require.NoError(t, exec.Execute(context.Background(), act))

	// the tool ran once and its result fed the second model call
	require.Len(t, tools.calls, 1)
	assert.Equal(t, "kubernetes.get_pods", tools.calls[0].Name)

	scripted := deps.LLM.(*llm.ScriptedClient)
	calls := scripted.Calls()
	require.Len(t, calls, 2)
	// only the declared server's tools were offered
	require.Len(t, calls[0].Tools, 1)
	assert.Equal(t, "kubernetes.get_pods", calls[0].Tools[0].Name)
	// the follow-up conversation carries the tool result turn
	last := calls[1].Messages[len(calls[1].Messages)-1]
	assert.Equal(t, llm.RoleTool, last.Role)
	assert.Equal(t, "pods: 3", last.Content)

	starts := recorder.ofType(events.EventTaskToolStart)
	require.Len(t, starts, 1)
	assert.Equal(t, "call-1", starts[0].Payload.(events.TaskToolStartPayload).ToolID)
	ends := recorder.ofType(events.EventTaskToolEnd)
	require.Len(t, ends, 1)
	assert.Equal(t, "pods: 3", ends[0].Payload.(events.TaskToolEndPayload).Result)
	assert.Len(t, recorder.ofType(events.EventAgentToolUse), 1)

	// both attempts' text accumulated into the stored result
	assert.Equal(t, "Checking the cluster. Three pods are running.",
		act.Context.GetString("analyze_result"))
}

// dripClient emits a few chunks then blocks until cancelled, so a
// cancellation request lands mid-stream deterministically.
type dripClient struct {
	emitted chan struct{}
}

func (c *dripClient) Generate(ctx context.Context, _ *llm.GenerateInput) (<-chan llm.Chunk, error) {
	out := make(chan llm.Chunk)
	go func() {
		defer close(out)
		for i := 0; i < 5; i++ {
			select {
			case out <- &llm.TextChunk{Content: "chunk. "}:
			case <-ctx.Done():
				return
			}
		}
		close(c.emitted)
		<-ctx.Done()
	}()
	return out, nil
}

func (c *dripClient) Close() error { return nil }

func TestAgenticExecutor_CancellationMidStream(t *testing.T) {
	deps, recorder := testDeps(t)
	drip := &dripClient{emitted: make(chan struct{})}
	deps.LLM = drip
	exec := &agenticExecutor{deps: deps}

	act := activation(agenticElement(nil), nil)

	done := make(chan error, 1)
	go func() { done <- exec.Execute(context.Background(), act) }()

	// the task advertised itself as cancellable, then request cancellation
	<-drip.emitted
	waitFor(t, time.Second, func() bool { return deps.Cancels.Cancellable("analyze") })
	require.True(t, deps.Cancels.Request("analyze"))

	err := <-done
	require.ErrorIs(t, err, context.Canceled)

	var cancelled *CancelledError
	require.ErrorAs(t, err, &cancelled)
	assert.Contains(t, cancelled.PartialContent, "chunk.")

	ends := recorder.ofType(events.EventTextMessageEnd)
	require.Len(t, ends, 1)
	endPayload := ends[0].Payload.(events.TextMessageEndPayload)
	assert.True(t, endPayload.Cancelled)

	flags := recorder.ofType(events.EventTaskCancellable)
	require.Len(t, flags, 2)
	assert.True(t, flags[0].Payload.(events.TaskCancellablePayload).Cancellable)
	assert.False(t, flags[1].Payload.(events.TaskCancellablePayload).Cancellable)
}

// raceClient cancels the task itself and only then delivers its one chunk,
// so the delta always arrives with the cancellation already in flight.
type raceClient struct {
	cancels *events.CancelRegistry
}

func (c *raceClient) Generate(ctx context.Context, _ *llm.GenerateInput) (<-chan llm.Chunk, error) {
	out := make(chan llm.Chunk, 1)
	go func() {
		for !c.cancels.Request("analyze") {
			time.Sleep(time.Millisecond)
		}
		<-ctx.Done()
		out <- &llm.TextChunk{Content: "last words."}
		close(out)
	}()
	return out, nil
}

func (c *raceClient) Close() error { return nil }

func TestAgenticExecutor_ChunkRacingCancellationIsKept(t *testing.T) {
	deps, _ := testDeps(t)
	deps.LLM = &raceClient{cancels: deps.Cancels}
	exec := &agenticExecutor{deps: deps}

	act := activation(agenticElement(nil), nil)
	err := exec.Execute(context.Background(), act)
	require.ErrorIs(t, err, context.Canceled)

	// a delta received as the cancellation fires is still part of the
	// partial result
	var cancelled *CancelledError
	require.ErrorAs(t, err, &cancelled)
	assert.Contains(t, cancelled.PartialContent, "last words.")
}

func TestParseConfidence(t *testing.T) {
	tests := []struct {
		name string
		text string
		want float64
	}{
		{"labelled", "Summary done. Confidence: 0.85", 0.85},
		{"json style", `{"confidence": 0.4}`, 0.4},
		{"equals", "confidence = 1.0", 1.0},
		{"absent assumes full", "no score in here", 1.0},
		{"case insensitive", "CONFIDENCE 0.25", 0.25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, parseConfidence(tt.text), 1e-9)
		})
	}
}
