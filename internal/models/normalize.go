package models

import "strconv"

// NormalizeValue converts numeric strings to int64 or float64 so pass-through
// source fields serialize as numbers. Non-numeric values are returned as-is.
func NormalizeValue(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return v
}

// NormalizeMap applies NormalizeValue to every value of a pass-through bag,
// recursing into nested maps and slices.
func NormalizeMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch t := v.(type) {
		case map[string]any:
			out[k] = NormalizeMap(t)
		case []any:
			vals := make([]any, len(t))
			for i, e := range t {
				if im, ok := e.(map[string]any); ok {
					vals[i] = NormalizeMap(im)
				} else {
					vals[i] = NormalizeValue(e)
				}
			}
			out[k] = vals
		default:
			out[k] = NormalizeValue(v)
		}
	}
	return out
}
