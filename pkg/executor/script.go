package executor

import (
	"context"
	"fmt"

	"github.com/flowforge-io/flowforge/pkg/condition"
)

// scriptExecutor runs a script task: newline-separated `name = expression`
// assignments evaluated against the context. Assignments write straight into
// the context; when a resultVariable is declared, the conventional "result"
// key is copied under that name as well.
type scriptExecutor struct {
	deps *Deps
}

func (e *scriptExecutor) Execute(_ context.Context, act *Activation) error {
	script := act.Element.Properties.String("script")
	if script == "" {
		return nil
	}

	if err := condition.RunScript(script, act.Context); err != nil {
		return fmt.Errorf("script task %s: %w", act.Element.ID, err)
	}

	if rv := act.Element.Properties.String("resultVariable"); rv != "" {
		if v, ok := act.Context.Get("result"); ok {
			act.Context.Set(rv, v)
		}
	}

	e.deps.Logger.Debug("script task completed", "elementId", act.Element.ID)
	return nil
}
