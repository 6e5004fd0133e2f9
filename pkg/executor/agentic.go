package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/flowforge-io/flowforge/pkg/condition"
	"github.com/flowforge-io/flowforge/pkg/events"
	"github.com/flowforge-io/flowforge/pkg/llm"
	"github.com/flowforge-io/flowforge/pkg/model"
)

// agenticExecutor drives an AI agent: stream a model response, surface every
// delta as text.message.content and every completed sentence as
// text.message.chunk (same messageId), run requested MCP tools, and retry
// until the reported confidence clears the threshold. Cancellable at every
// await.
type agenticExecutor struct {
	deps *Deps
}

func (e *agenticExecutor) Execute(ctx context.Context, act *Activation) error {
	props := act.Element.Properties
	elementID := act.Element.ID

	modelName := props.String("model")
	system := condition.Resolve(props.String("systemPrompt"), act.Context)
	prompt := condition.Resolve(props.String("prompt"), act.Context)
	if prompt == "" {
		prompt = act.Element.Name
	}

	threshold := props.Float("confidenceThreshold", e.deps.Agentic.ConfidenceDefault)
	maxRetries := props.Int("maxRetries", e.deps.Agentic.MaxRetriesDefault)
	if maxRetries < 1 {
		maxRetries = 1
	}

	if e.deps.LLM == nil {
		return fmt.Errorf("agentic task %s: no model client wired", elementID)
	}

	runCtx := ctx
	if e.allowCancellation(props) && e.deps.Cancels != nil {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithCancel(ctx)
		deregister := e.deps.Cancels.Register(elementID, cancel)
		defer deregister()

		e.publishCancellable(elementID, true)
		defer e.publishCancellable(elementID, false)
	}

	e.deps.Publisher.Publish(events.EventTaskThinking, elementID, events.TaskThinkingPayload{
		Type:               events.EventTaskThinking,
		WorkflowInstanceID: act.InstanceID,
		ElementID:          elementID,
		Content:            fmt.Sprintf("Initializing %s agent", modelName),
		Timestamp:          events.Timestamp(),
	})

	tools := e.selectTools(runCtx, props.StringSlice("mcpTools"))

	best := 0.0
	for attempt := 1; attempt <= maxRetries; attempt++ {
		result, err := e.runAttempt(runCtx, act, &attemptInput{
			system: system,
			prompt: prompt,
			model:  modelName,
			tools:  tools,
		})
		if err != nil {
			return err
		}

		confidence := parseConfidence(result)
		if confidence > best {
			best = confidence
		}
		if confidence >= threshold {
			act.Context.Set(resultKey(elementID), result)
			act.Context.Set(elementID+"_confidence", confidence)
			return nil
		}

		e.deps.Publisher.Publish(events.EventTaskProgress, elementID, events.TaskProgressPayload{
			Type:      events.EventTaskProgress,
			ElementID: elementID,
			Progress:  float64(attempt) / float64(maxRetries),
			Message: fmt.Sprintf("confidence %.2f below threshold %.2f, retrying (attempt %d/%d)",
				confidence, threshold, attempt, maxRetries),
			Timestamp: events.Timestamp(),
		})
	}

	return &LowConfidenceError{
		ElementID: elementID,
		Attempts:  maxRetries,
		Best:      best,
		Threshold: threshold,
	}
}

type attemptInput struct {
	system string
	prompt string
	model  string
	tools  []llm.ToolDefinition
}

// runAttempt streams one complete agent turn, looping while the model keeps
// requesting tools. Returns the accumulated text of the attempt.
func (e *agenticExecutor) runAttempt(ctx context.Context, act *Activation, in *attemptInput) (string, error) {
	elementID := act.Element.ID
	messageID := uuid.New().String()

	e.deps.Publisher.Publish(events.EventTextMessageStart, elementID, events.TextMessageStartPayload{
		Type:               events.EventTextMessageStart,
		WorkflowInstanceID: act.InstanceID,
		ElementID:          elementID,
		MessageID:          messageID,
		Role:               llm.RoleAssistant,
		Timestamp:          events.Timestamp(),
	})

	detector := &events.SentenceDetector{}
	var full strings.Builder
	messages := []llm.Message{{Role: llm.RoleUser, Content: in.prompt}}

	for {
		stream, err := e.deps.LLM.Generate(ctx, &llm.GenerateInput{
			System:   in.system,
			Messages: messages,
			Tools:    in.tools,
			Model:    in.model,
		})
		if err != nil {
			return "", fmt.Errorf("agentic task %s: %w", elementID, err)
		}

		var assistantText strings.Builder
		var toolCalls []llm.ToolCall
		var streamErr error

		for chunk := range stream {
			// process the chunk before honoring cancellation: a delta that
			// raced the cancel is still part of the partial result
			switch c := chunk.(type) {
			case *llm.TextChunk:
				assistantText.WriteString(c.Content)
				full.WriteString(c.Content)
				e.publishDelta(act, messageID, c.Content, detector)
			case *llm.ThinkingChunk:
				e.deps.Publisher.Publish(events.EventTaskThinking, elementID, events.TaskThinkingPayload{
					Type:               events.EventTaskThinking,
					WorkflowInstanceID: act.InstanceID,
					ElementID:          elementID,
					Content:            c.Content,
					Timestamp:          events.Timestamp(),
				})
			case *llm.ToolCallChunk:
				toolCalls = append(toolCalls, llm.ToolCall{ID: c.CallID, Name: c.Name, Arguments: c.Arguments})
			case *llm.ErrorChunk:
				streamErr = errors.New(c.Message)
			case *llm.UsageChunk, *llm.StopChunk:
				// bookkeeping only
			}
			if ctx.Err() != nil {
				break
			}
		}

		if ctx.Err() != nil {
			return "", e.cancelled(act, messageID, full.String(), detector)
		}
		if streamErr != nil {
			return "", fmt.Errorf("agentic task %s: model stream: %w", elementID, streamErr)
		}
		if len(toolCalls) == 0 {
			if tail := detector.Flush(); tail != "" {
				e.publishChunk(act, messageID, tail)
			}
			e.deps.Publisher.Publish(events.EventTextMessageEnd, elementID, events.TextMessageEndPayload{
				Type:               events.EventTextMessageEnd,
				WorkflowInstanceID: act.InstanceID,
				ElementID:          elementID,
				MessageID:          messageID,
				Timestamp:          events.Timestamp(),
			})
			return full.String(), nil
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   assistantText.String(),
			ToolCalls: toolCalls,
		})
		for _, call := range toolCalls {
			toolMsg, err := e.runTool(ctx, act, call)
			if err != nil {
				return "", err
			}
			messages = append(messages, toolMsg)
			if ctx.Err() != nil {
				return "", e.cancelled(act, messageID, full.String(), detector)
			}
		}
	}
}

// publishDelta emits the raw delta and any sentences it completed.
func (e *agenticExecutor) publishDelta(act *Activation, messageID, delta string, detector *events.SentenceDetector) {
	e.deps.Publisher.Publish(events.EventTextMessageContent, act.Element.ID, events.TextMessageContentPayload{
		Type:               events.EventTextMessageContent,
		WorkflowInstanceID: act.InstanceID,
		ElementID:          act.Element.ID,
		MessageID:          messageID,
		Delta:              delta,
		Timestamp:          events.Timestamp(),
	})
	for _, sentence := range detector.Feed(delta) {
		e.publishChunk(act, messageID, sentence)
	}
}

func (e *agenticExecutor) publishChunk(act *Activation, messageID, sentence string) {
	e.deps.Publisher.Publish(events.EventTextMessageChunk, act.Element.ID, events.TextMessageChunkPayload{
		Type:               events.EventTextMessageChunk,
		WorkflowInstanceID: act.InstanceID,
		ElementID:          act.Element.ID,
		MessageID:          messageID,
		Content:            sentence,
		Timestamp:          events.Timestamp(),
	})
}

// runTool executes one MCP tool call with start/end events around it and
// returns the tool-result turn for the conversation.
func (e *agenticExecutor) runTool(ctx context.Context, act *Activation, call llm.ToolCall) (llm.Message, error) {
	elementID := act.Element.ID
	if e.deps.Tools == nil {
		return llm.Message{}, fmt.Errorf("agentic task %s: model requested tool %s but no tool provider is wired",
			elementID, call.Name)
	}

	args := parseToolArgs(call.Arguments)
	e.deps.Publisher.Publish(events.EventTaskToolStart, elementID, events.TaskToolStartPayload{
		Type:               events.EventTaskToolStart,
		WorkflowInstanceID: act.InstanceID,
		ElementID:          elementID,
		ToolID:             call.ID,
		ToolName:           call.Name,
		Arguments:          args,
		Timestamp:          events.Timestamp(),
	})

	result := e.deps.Tools.Execute(ctx, call)

	e.deps.Publisher.Publish(events.EventTaskToolEnd, elementID, events.TaskToolEndPayload{
		Type:               events.EventTaskToolEnd,
		WorkflowInstanceID: act.InstanceID,
		ElementID:          elementID,
		ToolID:             call.ID,
		ToolName:           call.Name,
		Result:             result.Content,
		IsError:            result.IsError,
		Timestamp:          events.Timestamp(),
	})
	e.deps.Publisher.Publish(events.EventAgentToolUse, elementID, events.AgentToolUsePayload{
		Type:      events.EventAgentToolUse,
		ElementID: elementID,
		ToolName:  call.Name,
		Arguments: args,
		Timestamp: events.Timestamp(),
	})

	return llm.Message{
		Role:       llm.RoleTool,
		Content:    result.Content,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		IsError:    result.IsError,
	}, nil
}

// cancelled closes the streamed message with a cancellation marker so the
// partial content survives in replay history.
func (e *agenticExecutor) cancelled(act *Activation, messageID, partial string, detector *events.SentenceDetector) error {
	if tail := detector.Flush(); tail != "" {
		e.publishChunk(act, messageID, tail)
	}
	e.deps.Publisher.Publish(events.EventTextMessageEnd, act.Element.ID, events.TextMessageEndPayload{
		Type:               events.EventTextMessageEnd,
		WorkflowInstanceID: act.InstanceID,
		ElementID:          act.Element.ID,
		MessageID:          messageID,
		Cancelled:          true,
		CancellationReason: "cancellation requested",
		Timestamp:          events.Timestamp(),
	})
	return &CancelledError{
		ElementID:      act.Element.ID,
		PartialContent: partial,
		Reason:         "cancellation requested",
	}
}

func (e *agenticExecutor) publishCancellable(elementID string, cancellable bool) {
	e.deps.Publisher.Publish(events.EventTaskCancellable, elementID, events.TaskCancellablePayload{
		Type:        events.EventTaskCancellable,
		ElementID:   elementID,
		TaskID:      elementID,
		Cancellable: cancellable,
		Timestamp:   events.Timestamp(),
	})
}

// allowCancellation defaults to true; authors opt out via allowCancellation
// on the element or under its custom config.
func (e *agenticExecutor) allowCancellation(props model.Properties) bool {
	if v, ok := props["allowCancellation"].(bool); ok {
		return v
	}
	if custom := props.Map("custom"); custom != nil {
		if v, ok := custom["allowCancellation"].(bool); ok {
			return v
		}
	}
	return true
}

// selectTools returns the MCP tool definitions the element declares. An
// entry matches a full "server.tool" name, a bare server id, or a bare tool
// name.
func (e *agenticExecutor) selectTools(ctx context.Context, declared []string) []llm.ToolDefinition {
	if len(declared) == 0 || e.deps.Tools == nil {
		return nil
	}

	available := e.deps.Tools.ListToolDefinitions(ctx)
	var selected []llm.ToolDefinition
	for _, def := range available {
		serverID, toolName, _ := strings.Cut(def.Name, ".")
		for _, want := range declared {
			if want == def.Name || want == serverID || want == toolName {
				selected = append(selected, def)
				break
			}
		}
	}
	return selected
}

func parseToolArgs(raw string) map[string]any {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return map[string]any{"raw": raw}
	}
	return args
}

var confidenceRe = regexp.MustCompile(`(?i)confidence["']?\s*[:=]?\s*([01](?:\.\d+)?)`)

// parseConfidence extracts a self-reported confidence score from the model's
// response. Absent scores count as full confidence.
func parseConfidence(text string) float64 {
	m := confidenceRe.FindStringSubmatch(text)
	if m == nil {
		return 1.0
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil || v < 0 || v > 1 {
		return 1.0
	}
	return v
}
