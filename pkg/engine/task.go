package engine

import (
	"fmt"
	"strconv"
)

// Task is one declared unit of work within a lifecycle action's ordered
// task list. Order is significant: later tasks may depend on the side
// effects of earlier ones.
type Task struct {
	// Label is the human-readable description shown in logs and reports.
	Label string `yaml:"name" json:"label"`

	// Op is the operation key resolved against the plugin registry.
	Op string `yaml:"op" json:"op"`

	// Params are the operation-specific parameters passed to the plugin.
	Params Params `yaml:"params" json:"params,omitempty"`
}

// Params is a free-form parameter mapping for a single task. Values come
// from YAML or literal construction, so the typed accessors tolerate the
// concrete types both produce (string, bool, int, int64, float64, nested
// maps).
type Params map[string]any

// Has reports whether key is present.
func (p Params) Has(key string) bool {
	if p == nil {
		return false
	}
	_, ok := p[key]
	return ok
}

// String returns the string value of key, or "" when absent or not a
// string.
func (p Params) String(key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

// StringOr returns the string value of key, or def when absent.
func (p Params) StringOr(key, def string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return def
}

// Bool returns the boolean value of key, or false when absent.
func (p Params) Bool(key string) bool {
	v, _ := p[key].(bool)
	return v
}

// Int returns the integer value of key, converting from the numeric and
// string forms YAML decoding produces. The second return is false when
// the key is absent or not convertible.
func (p Params) Int(key string) (int, bool) {
	return toInt(p[key])
}

// Map returns the nested mapping at key, or nil when absent. Both
// map[string]any and map[any]any (older YAML decoders) are accepted.
func (p Params) Map(key string) Params {
	switch v := p[key].(type) {
	case map[string]any:
		return Params(v)
	case Params:
		return v
	case map[any]any:
		out := make(Params, len(v))
		for k, val := range v {
			out[fmt.Sprint(k)] = val
		}
		return out
	default:
		return nil
	}
}

// IntMap returns the nested mapping at key with all values converted to
// integers; non-convertible values are dropped.
func (p Params) IntMap(key string) map[string]int {
	m := p.Map(key)
	if m == nil {
		return nil
	}
	out := make(map[string]int, len(m))
	for k, v := range m {
		if n, ok := toInt(v); ok {
			out[k] = n
		}
	}
	return out
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		return int(n), true
	case string:
		parsed, err := strconv.Atoi(n)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}
