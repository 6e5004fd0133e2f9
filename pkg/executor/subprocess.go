package executor

import (
	"context"
	"fmt"

	"github.com/flowforge-io/flowforge/pkg/procctx"
)

// subProcessExecutor recurses into an expanded sub-process's child graph,
// running it as a nested definition against the parent context. Control
// returns to the sub-process element's outgoing flows on completion.
type subProcessExecutor struct {
	deps *Deps
}

func (e *subProcessExecutor) Execute(ctx context.Context, act *Activation) error {
	if len(act.Element.ChildElements) == 0 {
		e.deps.Logger.Warn("sub-process has no child elements", "elementId", act.Element.ID)
		return nil
	}
	if e.deps.RunChild == nil {
		return fmt.Errorf("sub-process %s: no child runner wired", act.Element.ID)
	}

	child := act.Definition.ChildDefinition(act.Element)
	if err := e.deps.RunChild(ctx, child, act.Context, act.InstanceID); err != nil {
		return fmt.Errorf("sub-process %s: %w", act.Element.ID, err)
	}
	return nil
}

// callActivityExecutor runs a referenced definition as a sub-instance,
// either synchronously (block until complete) or asynchronously
// (fire-and-continue).
type callActivityExecutor struct {
	deps *Deps
}

func (e *callActivityExecutor) Execute(ctx context.Context, act *Activation) error {
	props := act.Element.Properties

	called := props.String("calledElement")
	if called == "" {
		return fmt.Errorf("call activity %s has no calledElement", act.Element.ID)
	}
	if e.deps.Lookup == nil || e.deps.RunChild == nil {
		return fmt.Errorf("call activity %s: no definition lookup wired", act.Element.ID)
	}

	def, err := e.deps.Lookup(called)
	if err != nil {
		return fmt.Errorf("call activity %s: %w", act.Element.ID, err)
	}

	store := act.Context
	inherit := true
	if _, ok := props["inheritVariables"]; ok {
		inherit = props.Bool("inheritVariables")
	}
	if !inherit {
		store = procctx.New(map[string]any{
			"workflowInstanceId": act.Context.GetString("workflowInstanceId"),
		})
	}

	if props.Bool("async") {
		// fire-and-continue: the callee outlives this element's activation
		go func() {
			if err := e.deps.RunChild(context.WithoutCancel(ctx), def, store, act.InstanceID); err != nil {
				e.deps.Logger.Error("async call activity failed",
					"elementId", act.Element.ID, "calledElement", called, "error", err)
			}
		}()
		return nil
	}

	if err := e.deps.RunChild(ctx, def, store, act.InstanceID); err != nil {
		return fmt.Errorf("call activity %s: %w", act.Element.ID, err)
	}
	return nil
}
