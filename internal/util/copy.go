package util

// DeepCopyMap copies nested map[string]any / []any structures so the result
// shares no mutable containers with the input. Scalar leaves and values of
// other types are copied by assignment.
func DeepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}

	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = DeepCopyValue(v)
	}

	return out
}

// DeepCopyValue is the element-wise counterpart of DeepCopyMap.
func DeepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return DeepCopyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = DeepCopyValue(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	case []byte:
		return append([]byte(nil), t...)
	default:
		return v
	}
}
