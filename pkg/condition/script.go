package condition

import (
	"fmt"
	"strings"

	"github.com/flowforge-io/flowforge/pkg/procctx"
)

// RunScript executes a script task body: a sequence of `name = expression`
// assignment lines evaluated against the current context. Each assignment is
// visible to the lines that follow it. Blank lines and lines starting with
// `#` are skipped.
func RunScript(script string, ctx *procctx.Store) error {
	for lineNo, raw := range strings.Split(script, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, rhs, ok := splitAssignment(line)
		if !ok {
			return fmt.Errorf("script line %d: expected `name = expression`, got %q", lineNo+1, line)
		}
		resolved := resolveForEval(rhs, ctx)
		out, err := evalExpr(resolved, ctx.Snapshot())
		if err != nil {
			return fmt.Errorf("script line %d: %w", lineNo+1, err)
		}
		ctx.Set(name, out)
	}
	return nil
}

// splitAssignment splits on the first `=` that is not part of a comparison
// operator (==, !=, <=, >=).
func splitAssignment(line string) (name, rhs string, ok bool) {
	for i := 0; i < len(line); i++ {
		if line[i] != '=' {
			continue
		}
		if i+1 < len(line) && line[i+1] == '=' {
			i++ // skip ==
			continue
		}
		if i > 0 && (line[i-1] == '!' || line[i-1] == '<' || line[i-1] == '>' || line[i-1] == '=') {
			continue
		}
		name = strings.TrimSpace(line[:i])
		rhs = strings.TrimSpace(line[i+1:])
		if name == "" || rhs == "" || strings.ContainsAny(name, " \t") {
			return "", "", false
		}
		return name, rhs, true
	}
	return "", "", false
}
