package llm

import (
	"context"
	"sync"
)

// Turn is one scripted model response: the chunks Generate emits, in order.
// A StopChunk is appended automatically when the turn doesn't end with one.
type Turn []Chunk

// ScriptedClient replays predefined turns. It backs local runs without an
// API key and deterministic tests: each Generate call consumes the next
// turn, and the last turn repeats once the script is exhausted.
type ScriptedClient struct {
	mu    sync.Mutex
	turns []Turn
	next  int
	calls []*GenerateInput
}

func NewScriptedClient(turns ...Turn) *ScriptedClient {
	return &ScriptedClient{turns: turns}
}

func (c *ScriptedClient) Generate(ctx context.Context, input *GenerateInput) (<-chan Chunk, error) {
	c.mu.Lock()
	c.calls = append(c.calls, input)
	var turn Turn
	if len(c.turns) > 0 {
		i := c.next
		if i >= len(c.turns) {
			i = len(c.turns) - 1
		}
		turn = c.turns[i]
		c.next++
	}
	c.mu.Unlock()

	out := make(chan Chunk, len(turn)+1)
	go func() {
		defer close(out)
		terminal := false
		for _, chunk := range turn {
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
			switch chunk.(type) {
			case *StopChunk, *ErrorChunk:
				terminal = true
			}
		}
		if !terminal {
			select {
			case out <- &StopChunk{}:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}

func (c *ScriptedClient) Close() error { return nil }

// Calls returns every GenerateInput received, for assertions.
func (c *ScriptedClient) Calls() []*GenerateInput {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*GenerateInput, len(c.calls))
	copy(out, c.calls)
	return out
}
