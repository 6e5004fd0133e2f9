// Package gateway decides which sequence flows a token follows out of a
// gateway element.
package gateway

import (
	"fmt"
	"log/slog"

	"github.com/flowforge-io/flowforge/pkg/condition"
	"github.com/flowforge-io/flowforge/pkg/model"
	"github.com/flowforge-io/flowforge/pkg/procctx"
)

// NoMatchingPathError means an exclusive or inclusive gateway had no truthy
// condition and no default flow. The workflow fails on it.
type NoMatchingPathError struct {
	GatewayID string
}

func (e *NoMatchingPathError) Error() string {
	return fmt.Sprintf("gateway %s: no outgoing flow matched and no default flow exists", e.GatewayID)
}

// FlowEvaluation records how a single outgoing flow was judged, for the
// observer event stream.
type FlowEvaluation struct {
	ConnectionID string
	Condition    string
	Matched      bool
	IsDefault    bool
	Err          error
}

// Decision is the outcome of evaluating one gateway.
type Decision struct {
	Kind        model.ElementKind
	Taken       []model.Connection
	NotTaken    []model.Connection
	Evaluations []FlowEvaluation
}

// Evaluator evaluates gateway routing against the instance context.
type Evaluator struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Evaluator {
	return &Evaluator{logger: logger.With("component", "gateway")}
}

// Evaluate decides the outgoing flows for a gateway element.
//
// Exclusive: conditions are checked in definition order and the first truthy
// one wins. The (at most one) empty-condition flow is the default and is
// taken only when nothing matches. Inclusive: every flow whose condition is
// empty or truthy is taken. Parallel: every flow is taken unconditionally.
// A condition that fails to evaluate counts as not matched.
func (ev *Evaluator) Evaluate(def *model.Definition, gw *model.Element, ctx *procctx.Store) (*Decision, error) {
	conns := def.OutgoingConnections(gw.ID)
	decision := &Decision{Kind: gw.Kind}

	switch gw.Kind {
	case model.KindParallelGateway:
		decision.Taken = conns
		for _, c := range conns {
			decision.Evaluations = append(decision.Evaluations, FlowEvaluation{ConnectionID: c.ID, Matched: true})
		}
		return decision, nil

	case model.KindExclusiveGateway:
		return ev.evaluateExclusive(gw, conns, ctx, decision)

	case model.KindInclusiveGateway:
		return ev.evaluateInclusive(gw, conns, ctx, decision)
	}
	return nil, fmt.Errorf("element %s: kind %q is not a gateway", gw.ID, gw.Kind)
}

func (ev *Evaluator) evaluateExclusive(gw *model.Element, conns []model.Connection, ctx *procctx.Store, decision *Decision) (*Decision, error) {
	var defaultFlow *model.Connection
	var taken *model.Connection

	for i := range conns {
		c := &conns[i]
		cond := c.Condition()
		if cond == "" {
			defaultFlow = c
			decision.Evaluations = append(decision.Evaluations, FlowEvaluation{ConnectionID: c.ID, IsDefault: true})
			continue
		}
		if taken != nil {
			decision.Evaluations = append(decision.Evaluations, FlowEvaluation{ConnectionID: c.ID, Condition: cond})
			continue
		}
		matched, err := condition.Evaluate(cond, ctx)
		if err != nil {
			ev.logger.Warn("condition evaluation failed, treating as not matched",
				"gatewayId", gw.ID, "connectionId", c.ID, "error", err)
			matched = false
		}
		decision.Evaluations = append(decision.Evaluations, FlowEvaluation{
			ConnectionID: c.ID, Condition: cond, Matched: matched, Err: err,
		})
		if matched {
			taken = c
		}
	}

	if taken == nil {
		taken = defaultFlow
	}
	if taken == nil {
		return nil, &NoMatchingPathError{GatewayID: gw.ID}
	}

	decision.Taken = []model.Connection{*taken}
	for _, c := range conns {
		if c.ID != taken.ID {
			decision.NotTaken = append(decision.NotTaken, c)
		}
	}
	markTaken(decision.Evaluations, taken.ID)
	return decision, nil
}

func (ev *Evaluator) evaluateInclusive(gw *model.Element, conns []model.Connection, ctx *procctx.Store, decision *Decision) (*Decision, error) {
	for i := range conns {
		c := &conns[i]
		cond := c.Condition()
		matched := true
		var err error
		if cond != "" {
			matched, err = condition.Evaluate(cond, ctx)
			if err != nil {
				ev.logger.Warn("condition evaluation failed, treating as not matched",
					"gatewayId", gw.ID, "connectionId", c.ID, "error", err)
				matched = false
			}
		}
		decision.Evaluations = append(decision.Evaluations, FlowEvaluation{
			ConnectionID: c.ID, Condition: cond, Matched: matched, IsDefault: cond == "", Err: err,
		})
		if matched {
			decision.Taken = append(decision.Taken, *c)
		} else {
			decision.NotTaken = append(decision.NotTaken, *c)
		}
	}
	if len(decision.Taken) == 0 {
		return nil, &NoMatchingPathError{GatewayID: gw.ID}
	}
	return decision, nil
}

// markTaken flips the Matched flag for the default flow when it ends up
// being the one taken.
func markTaken(evals []FlowEvaluation, takenID string) {
	for i := range evals {
		if evals[i].ConnectionID == takenID {
			evals[i].Matched = true
		}
	}
}
