package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flowforge-io/flowforge/pkg/condition"
	"github.com/flowforge-io/flowforge/pkg/events"
)

// receiveExecutor suspends on the correlation bus until a message keyed
// (messageRef, resolvedCorrelationKey) arrives. The payload is merged
// shallowly into the context, and the full delivery is recorded under
// "<id>_message" / "<id>_payload".
type receiveExecutor struct {
	deps *Deps
}

func (e *receiveExecutor) Execute(ctx context.Context, act *Activation) error {
	props := act.Element.Properties

	ref := props.String("messageRef")
	if ref == "" {
		return fmt.Errorf("receive task %s has no messageRef", act.Element.ID)
	}
	key := condition.Resolve(props.String("correlationKey"), act.Context)

	timeout := time.Duration(props.Int("timeout", 0)) * time.Second
	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	e.deps.Publisher.Publish(events.EventTaskProgress, act.Element.ID, events.TaskProgressPayload{
		Type:      events.EventTaskProgress,
		ElementID: act.Element.ID,
		Message:   fmt.Sprintf("waiting for message %q (key %q)", ref, key),
		Timestamp: events.Timestamp(),
	})

	payload, err := e.deps.Bus.Wait(waitCtx, ref, key)
	if err != nil {
		// distinguish the receive deadline from an engine-level cancel
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return &ReceiveTimeoutError{
				ElementID:      act.Element.ID,
				MessageRef:     ref,
				CorrelationKey: key,
				Timeout:        timeout,
			}
		}
		return fmt.Errorf("receive task %s: %w", act.Element.ID, err)
	}

	act.Context.Merge(payload)
	act.Context.Set(act.Element.ID+"_message", map[string]any{
		"messageRef":     ref,
		"correlationKey": key,
		"payload":        payload,
	})
	act.Context.Set(act.Element.ID+"_payload", payload)
	return nil
}
