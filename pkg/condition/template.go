// Package condition implements ${path} template resolution and the
// restricted boolean condition grammar used on sequence flows.
package condition

import (
	"regexp"
	"strconv"

	"github.com/flowforge-io/flowforge/pkg/procctx"
)

var templateRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// Resolve replaces every ${path} occurrence with the context value at path
// (dotted lookup). Missing paths resolve to the empty string.
func Resolve(text string, ctx *procctx.Store) string {
	return templateRe.ReplaceAllStringFunc(text, func(match string) string {
		path := templateRe.FindStringSubmatch(match)[1]
		return ctx.GetString(trimSpace(path))
	})
}

// HasTemplate reports whether text contains at least one ${path} occurrence.
func HasTemplate(text string) bool {
	return templateRe.MatchString(text)
}

// resolveForEval substitutes ${path} occurrences into a form suitable for
// expression parsing: strings are quoted, numbers and booleans are inserted
// literally, so `${decision} == "approved"` resolves to a valid expression.
func resolveForEval(text string, ctx *procctx.Store) string {
	return templateRe.ReplaceAllStringFunc(text, func(match string) string {
		path := trimSpace(templateRe.FindStringSubmatch(match)[1])
		v, ok := ctx.Get(path)
		if !ok || v == nil {
			return `""`
		}
		switch t := v.(type) {
		case string:
			return strconv.Quote(t)
		case bool:
			return strconv.FormatBool(t)
		case int:
			return strconv.Itoa(t)
		case int64:
			return strconv.FormatInt(t, 10)
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64)
		default:
			return strconv.Quote(ctx.GetString(path))
		}
	})
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && (s[start] == ' ' || s[start] == '\t') {
		start++
	}
	for end > start && (s[end-1] == ' ' || s[end-1] == '\t') {
		end--
	}
	return s[start:end]
}
