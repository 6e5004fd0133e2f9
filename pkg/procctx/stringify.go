package procctx

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// stringify renders a context value for template interpolation.
// Numbers keep their natural form (no trailing ".000000"); maps and slices
// render as JSON so nested results stay readable in messages.
func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	default:
		return fmt.Sprintf("%v", t)
	}
}
