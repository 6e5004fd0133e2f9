package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, ch <-chan Chunk) []Chunk {
	t.Helper()
	var out []Chunk
	for chunk := range ch {
		out = append(out, chunk)
	}
	return out
}

func TestScriptedClient_ReplaysTurns(t *testing.T) {
	client := NewScriptedClient(
		Turn{&ThinkingChunk{Content: "considering"}, &TextChunk{Content: "first answer"}},
		Turn{&TextChunk{Content: "second answer"}, &StopChunk{Reason: "end_turn"}},
	)

	input := &GenerateInput{Messages: []Message{{Role: RoleUser, Content: "go"}}}

	ch, err := client.Generate(context.Background(), input)
	require.NoError(t, err)
	chunks := collect(t, ch)
	require.Len(t, chunks, 3) // thinking + text + implicit stop
	assert.Equal(t, "considering", chunks[0].(*ThinkingChunk).Content)
	assert.Equal(t, "first answer", chunks[1].(*TextChunk).Content)
	assert.IsType(t, &StopChunk{}, chunks[2])

	ch, err = client.Generate(context.Background(), input)
	require.NoError(t, err)
	chunks = collect(t, ch)
	require.Len(t, chunks, 2) // explicit stop, none appended
	assert.Equal(t, "second answer", chunks[0].(*TextChunk).Content)
	assert.Equal(t, "end_turn", chunks[1].(*StopChunk).Reason)

	// exhausted script repeats the last turn
	ch, err = client.Generate(context.Background(), input)
	require.NoError(t, err)
	assert.Len(t, collect(t, ch), 2)

	assert.Len(t, client.Calls(), 3)
}

func TestScriptedClient_ToolCallTurn(t *testing.T) {
	client := NewScriptedClient(
		Turn{&ToolCallChunk{CallID: "call-1", Name: "calculator", Arguments: `{"a":2,"b":3}`}},
	)

	ch, err := client.Generate(context.Background(), &GenerateInput{
		Messages: []Message{{Role: RoleUser, Content: "add"}},
		Tools:    []ToolDefinition{{Name: "calculator", Description: "adds"}},
	})
	require.NoError(t, err)

	chunks := collect(t, ch)
	require.Len(t, chunks, 2)
	tc := chunks[0].(*ToolCallChunk)
	assert.Equal(t, "calculator", tc.Name)
	assert.JSONEq(t, `{"a":2,"b":3}`, tc.Arguments)
}

func TestScriptedClient_ContextCancelled(t *testing.T) {
	client := NewScriptedClient(Turn{&TextChunk{Content: "never read"}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ch, err := client.Generate(ctx, &GenerateInput{Messages: []Message{{Role: RoleUser, Content: "x"}}})
	require.NoError(t, err)

	// channel closes without necessarily delivering anything
	for range ch {
	}
}
