package executor

import (
	"context"
	"fmt"
)

// businessRuleExecutor delegates to an external decision service and merges
// the decision output into the context. Without a wired service the task is
// a logged no-op, matching the instant-completion contract.
type businessRuleExecutor struct {
	deps *Deps
}

func (e *businessRuleExecutor) Execute(ctx context.Context, act *Activation) error {
	decisionRef := act.Element.Properties.String("decisionRef")
	if e.deps.Decisions == nil || decisionRef == "" {
		e.deps.Logger.Warn("business rule task has no decision service, skipping",
			"elementId", act.Element.ID, "decisionRef", decisionRef)
		return nil
	}

	output, err := e.deps.Decisions.Evaluate(ctx, decisionRef, act.Context.Snapshot())
	if err != nil {
		return fmt.Errorf("business rule %s: %w", decisionRef, err)
	}

	key := act.Element.Properties.String("resultVariable")
	if key == "" {
		key = resultKey(act.Element.ID)
	}
	act.Context.Set(key, output)
	return nil
}
