package moostache

import (
	"encoding/json"
	"strconv"
	"strings"
)

// resolve looks up a dotted path in the scope stack. Scopes are
// consulted from innermost outward, but only the first path segment
// falls back to outer scopes: later segments are fully qualified and
// miss to nil. An array index that parses but is out of bounds also
// misses to nil without consulting outer scopes.
func resolve(path string, scopes []any) any {
	if path == "." {
		return scopes[len(scopes)-1]
	}
	segments := strings.Split(path, ".")
	var resolved any
scope:
	for i := len(scopes) - 1; i >= 0; i-- {
		resolved = scopes[i]
		for idx, key := range segments {
			switch current := resolved.(type) {
			case []any:
				index, err := strconv.ParseUint(key, 10, 64)
				if err != nil {
					if idx == 0 {
						continue scope
					}
					return nil
				}
				if index >= uint64(len(current)) {
					return nil
				}
				resolved = current[index]
			case map[string]any:
				child, ok := current[key]
				if !ok {
					if idx == 0 {
						continue scope
					}
					return nil
				}
				resolved = child
			default:
				// nulls, strings, numbers and bools are not keyed
				if idx == 0 {
					continue scope
				}
				return nil
			}
		}
		return resolved
	}
	return resolved
}

// isTruthy reports whether a resolved value renders a section body.
// Every numeric value equal to zero is falsy, including 0.0 and -0.
func isTruthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	case float64:
		return v != 0
	case float32:
		return v != 0
	case int:
		return v != 0
	case int8:
		return v != 0
	case int16:
		return v != 0
	case int32:
		return v != 0
	case int64:
		return v != 0
	case uint:
		return v != 0
	case uint8:
		return v != 0
	case uint16:
		return v != 0
	case uint32:
		return v != 0
	case uint64:
		return v != 0
	case json.Number:
		f, err := v.Float64()
		return err == nil && f != 0
	default:
		return false
	}
}
