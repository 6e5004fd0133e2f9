package executor

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/flowforge-io/flowforge/pkg/events"
)

// userTaskExecutor announces a pending human decision and suspends on the
// correlation bus under ("userTask", elementId) until an observer or the API
// completes it. The decision lands in the context as "<id>_decision",
// "<id>_comments" and "<id>_completedBy"; a rejected decision terminates the
// workflow as failed.
type userTaskExecutor struct {
	deps *Deps
}

func (e *userTaskExecutor) Execute(ctx context.Context, act *Activation) error {
	props := act.Element.Properties
	elementID := act.Element.ID

	fields, summary := e.formData(act)
	e.deps.Publisher.Publish(events.EventUserTaskCreated, elementID, events.UserTaskCreatedPayload{
		Type:       events.EventUserTaskCreated,
		ElementID:  elementID,
		TaskID:     elementID,
		Name:       act.Element.Name,
		Assignee:   props.String("assignee"),
		FormFields: fields,
		Message:    summary,
		Timestamp:  events.Timestamp(),
	})

	payload, err := e.deps.Bus.Wait(ctx, "userTask", elementID)
	if err != nil {
		return fmt.Errorf("user task %s: %w", elementID, err)
	}

	act.Context.Merge(payload)

	decision, _ := payload["decision"].(string)
	comments, _ := payload["comments"].(string)
	user, _ := payload["user"].(string)
	act.Context.Set(elementID+"_decision", decision)
	act.Context.Set(elementID+"_comments", comments)
	act.Context.Set(elementID+"_completedBy", user)

	if decision == "rejected" {
		return &RejectionError{ElementID: elementID, Comments: comments, User: user}
	}
	return nil
}

// formData resolves the fields shown to the approver: declared formFields
// picked from the context, otherwise every "*_result" key produced by
// upstream tasks.
func (e *userTaskExecutor) formData(act *Activation) ([]string, string) {
	fields := act.Element.Properties.StringSlice("formFields")
	if len(fields) == 0 {
		for _, key := range act.Context.Keys() {
			if strings.HasSuffix(key, "_result") {
				fields = append(fields, key)
			}
		}
		sort.Strings(fields)
	}

	var lines []string
	for _, field := range fields {
		if v := act.Context.GetString(field); v != "" {
			lines = append(lines, fmt.Sprintf("%s: %s", field, v))
		}
	}
	return fields, strings.Join(lines, "\n")
}
