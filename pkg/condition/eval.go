package condition

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"

	"github.com/flowforge-io/flowforge/pkg/procctx"
)

// EvaluationError reports a condition that contained templates or operators
// but could not be parsed or evaluated.
type EvaluationError struct {
	Condition string
	Err       error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("condition %q: %v", e.Condition, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

// truthyStrings are the bare words that count as true under the fallback
// rule for plain string conditions.
var truthyStrings = map[string]bool{
	"true": true, "yes": true, "1": true, "approved": true,
}

// Evaluate decides whether a sequence flow condition holds against the
// context. Empty conditions are never passed here; the gateway evaluator
// handles defaults.
//
// Plain strings with no templates and no operators follow the truthy-word
// rule (true/yes/1/approved, case-insensitive). Everything else has its
// ${path} templates substituted (strings quoted, numbers literal) and is
// evaluated as a boolean expression.
func Evaluate(cond string, ctx *procctx.Store) (bool, error) {
	trimmed := strings.TrimSpace(cond)
	if trimmed == "" {
		return false, nil
	}

	if !HasTemplate(trimmed) && !hasOperators(trimmed) {
		return truthyStrings[strings.ToLower(trimmed)], nil
	}

	resolved := resolveForEval(trimmed, ctx)
	out, err := evalExpr(resolved, ctx.Snapshot())
	if err != nil {
		return false, &EvaluationError{Condition: cond, Err: err}
	}
	return truthy(out), nil
}

// evalExpr runs an expression with the builtin function library disabled, so
// a context key like "sum" or "max" always resolves to its value rather than
// shadowing it with a builtin.
func evalExpr(input string, env map[string]any) (any, error) {
	program, err := expr.Compile(input,
		expr.Env(env),
		expr.AllowUndefinedVariables(),
		expr.DisableAllBuiltins(),
	)
	if err != nil {
		return nil, err
	}
	return expr.Run(program, env)
}

// hasOperators reports whether the condition uses the expression grammar
// rather than being a bare word.
func hasOperators(s string) bool {
	for _, op := range []string{"==", "!=", "<", ">", "&&", "||", "(", ")", "+", "*", "/"} {
		if strings.Contains(s, op) {
			return true
		}
	}
	// a spaced minus is subtraction; hyphens inside words (re-run, opt-out)
	// keep the bare-word rule
	if strings.Contains(s, " - ") {
		return true
	}
	for _, kw := range []string{" and ", " or ", "not "} {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

// truthy mirrors loose boolean coercion: false, zero, "" and empty
// collections are false, everything else is true.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	return true
}
