package normalize

import (
	"fmt"
	"strconv"
)

// Options reads typed values from an opaque options bag decoded from YAML.
type Options map[string]any

func (o Options) String(key, def string) string {
	v, ok := o[key]
	if !ok || v == nil {
		return def
	}
	return fmt.Sprint(v)
}

func (o Options) Int(key string, def int) int {
	switch v := o[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func (o Options) Float(key string, def float64) float64 {
	switch v := o[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func (o Options) Bool(key string, def bool) bool {
	switch v := o[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// Strings accepts a list or a single scalar.
func (o Options) Strings(key string) []string {
	switch v := o[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	case nil:
		return nil
	default:
		return []string{fmt.Sprint(v)}
	}
}

// Has reports whether key is set to a non-nil value.
func (o Options) Has(key string) bool {
	v, ok := o[key]
	return ok && v != nil
}
