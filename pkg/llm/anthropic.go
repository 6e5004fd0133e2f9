package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicConfig configures the Anthropic-backed client.
type AnthropicConfig struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
}

// AnthropicClient streams completions from the Anthropic Messages API.
type AnthropicClient struct {
	client sdk.Client
	cfg    AnthropicConfig
	logger *slog.Logger
}

func NewAnthropicClient(cfg AnthropicConfig, logger *slog.Logger) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: api key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("anthropic: model is required")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	return &AnthropicClient{
		client: sdk.NewClient(option.WithAPIKey(cfg.APIKey)),
		cfg:    cfg,
		logger: logger.With("component", "llm", "provider", "anthropic"),
	}, nil
}

// Generate opens a Messages streaming request and adapts its events into
// chunks. Tool call JSON is assembled from partial deltas and emitted as a
// single ToolCallChunk when the block stops.
func (c *AnthropicClient) Generate(ctx context.Context, input *GenerateInput) (<-chan Chunk, error) {
	params, err := c.prepareParams(input)
	if err != nil {
		return nil, err
	}

	stream := c.client.Messages.NewStreaming(ctx, *params)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("anthropic messages stream: %w", err)
	}

	out := make(chan Chunk, 32)
	go func() {
		defer close(out)
		defer func() { _ = stream.Close() }()

		emit := func(chunk Chunk) bool {
			select {
			case out <- chunk:
				return true
			case <-ctx.Done():
				return false
			}
		}

		type toolBuffer struct {
			id, name  string
			fragments []string
		}
		toolBlocks := make(map[int]*toolBuffer)

		for stream.Next() {
			switch ev := stream.Current().AsAny().(type) {
			case sdk.ContentBlockStartEvent:
				if toolUse, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
					toolBlocks[int(ev.Index)] = &toolBuffer{id: toolUse.ID, name: toolUse.Name}
				}
			case sdk.ContentBlockDeltaEvent:
				switch delta := ev.Delta.AsAny().(type) {
				case sdk.TextDelta:
					if delta.Text != "" && !emit(&TextChunk{Content: delta.Text}) {
						return
					}
				case sdk.ThinkingDelta:
					if delta.Thinking != "" && !emit(&ThinkingChunk{Content: delta.Thinking}) {
						return
					}
				case sdk.InputJSONDelta:
					if tb := toolBlocks[int(ev.Index)]; tb != nil && delta.PartialJSON != "" {
						tb.fragments = append(tb.fragments, delta.PartialJSON)
					}
				}
			case sdk.ContentBlockStopEvent:
				if tb := toolBlocks[int(ev.Index)]; tb != nil {
					delete(toolBlocks, int(ev.Index))
					args := "{}"
					if len(tb.fragments) > 0 {
						args = ""
						for _, f := range tb.fragments {
							args += f
						}
					}
					if !emit(&ToolCallChunk{CallID: tb.id, Name: tb.name, Arguments: args}) {
						return
					}
				}
			case sdk.MessageDeltaEvent:
				if !emit(&UsageChunk{
					InputTokens:  ev.Usage.InputTokens,
					OutputTokens: ev.Usage.OutputTokens,
				}) {
					return
				}
			case sdk.MessageStopEvent:
				if !emit(&StopChunk{}) {
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			c.logger.Error("stream failed", "error", err)
			emit(&ErrorChunk{Message: err.Error(), Retryable: true})
		}
	}()
	return out, nil
}

func (c *AnthropicClient) Close() error { return nil }

func (c *AnthropicClient) prepareParams(input *GenerateInput) (*sdk.MessageNewParams, error) {
	if len(input.Messages) == 0 {
		return nil, fmt.Errorf("anthropic: messages are required")
	}

	modelID := input.Model
	if modelID == "" {
		modelID = c.cfg.Model
	}
	maxTokens := input.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.cfg.MaxTokens
	}

	msgs, err := encodeMessages(input.Messages)
	if err != nil {
		return nil, err
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(modelID),
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
	}
	if input.System != "" {
		params.System = []sdk.TextBlockParam{{Text: input.System}}
	}
	if t := firstNonZero(input.Temperature, c.cfg.Temperature); t > 0 {
		params.Temperature = sdk.Float(t)
	}
	if len(input.Tools) > 0 {
		tools, err := encodeTools(input.Tools)
		if err != nil {
			return nil, err
		}
		params.Tools = tools
	}
	return &params, nil
}

func encodeMessages(msgs []Message) ([]sdk.MessageParam, error) {
	out := make([]sdk.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleUser:
			out = append(out, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		case RoleAssistant:
			blocks := make([]sdk.ContentBlockParamUnion, 0, 1+len(m.ToolCalls))
			if m.Content != "" {
				blocks = append(blocks, sdk.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, sdk.NewToolUseBlock(tc.ID, json.RawMessage(tc.Arguments), tc.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, sdk.NewAssistantMessage(blocks...))
		case RoleTool:
			out = append(out, sdk.NewUserMessage(sdk.NewToolResultBlock(m.ToolCallID, m.Content, m.IsError)))
		default:
			return nil, fmt.Errorf("anthropic: unsupported message role %q", m.Role)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("anthropic: at least one user/assistant message is required")
	}
	return out, nil
}

func encodeTools(defs []ToolDefinition) ([]sdk.ToolUnionParam, error) {
	out := make([]sdk.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		if def.Name == "" {
			return nil, fmt.Errorf("anthropic: tool missing name")
		}
		schema := sdk.ToolInputSchemaParam{}
		if def.InputSchema != nil {
			schema.ExtraFields = def.InputSchema
		}
		u := sdk.ToolUnionParamOfTool(schema, def.Name)
		if u.OfTool != nil && def.Description != "" {
			u.OfTool.Description = sdk.String(def.Description)
		}
		out = append(out, u)
	}
	return out, nil
}

func firstNonZero(vals ...float64) float64 {
	for _, v := range vals {
		if v != 0 {
			return v
		}
	}
	return 0
}
