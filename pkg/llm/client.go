// Package llm provides the streaming model client used by agentic tasks. It
// exposes a channel-based API: Generate returns a stream of typed chunks and
// the channel is closed when the stream completes. Errors are delivered
// in-band as ErrorChunk values so consumers handle exactly one stream.
package llm

import (
	"context"
)

// Client is the interface agentic task executors call.
type Client interface {
	// Generate sends a conversation to the model and returns a stream of
	// chunks. The returned channel is closed when the stream completes.
	Generate(ctx context.Context, input *GenerateInput) (<-chan Chunk, error)

	// Close releases underlying connections.
	Close() error
}

// GenerateInput is a single model request.
type GenerateInput struct {
	System      string
	Messages    []Message
	Tools       []ToolDefinition // nil = no tools
	Model       string           // "" = client default
	MaxTokens   int              // 0 = client default
	Temperature float64          // 0 = client default
}

// Message is one turn of the conversation.
type Message struct {
	Role       string // "user", "assistant", "tool"
	Content    string
	ToolCalls  []ToolCall // assistant messages only
	ToolCallID string     // tool result messages only
	ToolName   string     // tool result messages only
	IsError    bool       // tool result messages only
}

// Conversation roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolDefinition describes a tool available to the model.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]any // JSON Schema
}

// ToolCall is the model's request to invoke a tool.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // JSON
}

// Chunk is the interface for all streaming chunk types.
type Chunk interface {
	chunkType() ChunkType
}

// ChunkType identifies the kind of streaming chunk.
type ChunkType string

const (
	ChunkTypeText     ChunkType = "text"
	ChunkTypeThinking ChunkType = "thinking"
	ChunkTypeToolCall ChunkType = "tool_call"
	ChunkTypeUsage    ChunkType = "usage"
	ChunkTypeStop     ChunkType = "stop"
	ChunkTypeError    ChunkType = "error"
)

// TextChunk is a delta of the model's text response.
type TextChunk struct{ Content string }

// ThinkingChunk is a delta of the model's internal reasoning.
type ThinkingChunk struct{ Content string }

// ToolCallChunk signals the model wants to call a tool. Arguments is the
// complete JSON input, assembled from the partial deltas.
type ToolCallChunk struct{ CallID, Name, Arguments string }

// UsageChunk reports token consumption for this call.
type UsageChunk struct{ InputTokens, OutputTokens int64 }

// StopChunk ends a message, carrying the provider stop reason.
type StopChunk struct{ Reason string }

// ErrorChunk signals a provider error. It is always the last chunk.
type ErrorChunk struct {
	Message   string
	Retryable bool
}

func (c *TextChunk) chunkType() ChunkType     { return ChunkTypeText }
func (c *ThinkingChunk) chunkType() ChunkType { return ChunkTypeThinking }
func (c *ToolCallChunk) chunkType() ChunkType { return ChunkTypeToolCall }
func (c *UsageChunk) chunkType() ChunkType    { return ChunkTypeUsage }
func (c *StopChunk) chunkType() ChunkType     { return ChunkTypeStop }
func (c *ErrorChunk) chunkType() ChunkType    { return ChunkTypeError }
