package executor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/flowforge-io/flowforge/pkg/condition"
	"github.com/flowforge-io/flowforge/pkg/events"
)

// maxServiceResponseBytes caps how much of a Web Service response is kept.
const maxServiceResponseBytes = 1 << 20

// serviceExecutor handles service tasks. "External" publishes a topic and
// suspends on the correlation bus until an external worker completes it;
// "Web Service" issues an HTTP call; every other implementation is a logged
// no-op.
type serviceExecutor struct {
	deps *Deps
}

func (e *serviceExecutor) Execute(ctx context.Context, act *Activation) error {
	impl := act.Element.Properties.String("implementation")
	switch impl {
	case "External":
		return e.executeExternal(ctx, act)
	case "Web Service":
		return e.executeWebService(ctx, act)
	default:
		e.deps.Logger.Warn("service task implementation not supported, treating as no-op",
			"elementId", act.Element.ID, "implementation", impl)
		return nil
	}
}

// executeExternal announces the topic and waits for the completion message
// keyed (topic, instanceId). External workers complete the task through the
// message-publish endpoint.
func (e *serviceExecutor) executeExternal(ctx context.Context, act *Activation) error {
	topic := condition.Resolve(act.Element.Properties.String("topic"), act.Context)
	if topic == "" {
		return fmt.Errorf("external service task %s has no topic", act.Element.ID)
	}

	e.deps.Publisher.Publish(events.EventTaskProgress, act.Element.ID, events.TaskProgressPayload{
		Type:      events.EventTaskProgress,
		ElementID: act.Element.ID,
		Message:   fmt.Sprintf("waiting for external completion on topic %q", topic),
		Timestamp: events.Timestamp(),
	})

	payload, err := e.deps.Bus.Wait(ctx, topic, act.InstanceID)
	if err != nil {
		return fmt.Errorf("external service task %s: %w", act.Element.ID, err)
	}

	act.Context.Merge(payload)
	e.storeResult(act, payload)
	return nil
}

func (e *serviceExecutor) executeWebService(ctx context.Context, act *Activation) error {
	endpoint := condition.Resolve(act.Element.Properties.String("endpoint"), act.Context)
	if endpoint == "" {
		return fmt.Errorf("web service task %s has no endpoint", act.Element.ID)
	}

	method := strings.ToUpper(act.Element.Properties.String("method"))
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return fmt.Errorf("web service task %s: %w", act.Element.ID, err)
	}

	resp, err := e.deps.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("web service task %s: %w", act.Element.ID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxServiceResponseBytes))
	if err != nil {
		return fmt.Errorf("web service task %s: read response: %w", act.Element.ID, err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("web service task %s: %s returned %d", act.Element.ID, endpoint, resp.StatusCode)
	}

	e.storeResult(act, string(body))
	return nil
}

func (e *serviceExecutor) storeResult(act *Activation, result any) {
	key := act.Element.Properties.String("resultVariable")
	if key == "" {
		key = resultKey(act.Element.ID)
	}
	act.Context.Set(key, result)
}
