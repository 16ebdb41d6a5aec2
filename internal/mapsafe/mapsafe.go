package mapsafe

// Get retrieves a typed value from a map[string]any.
// If the key is missing or the type cannot be converted, it returns the default value.
// Numbers decoded from YAML or JSON convert between int, float64 and float32.
func Get[T any](m map[string]any, key string, defaultValue T) T {
	val, ok := m[key]
	if !ok {
		return defaultValue
	}

	switch any(defaultValue).(type) {
	case int:
		if f, ok := number(val); ok {
			return any(int(f)).(T)
		}
	case float64:
		if f, ok := number(val); ok {
			return any(f).(T)
		}
	case float32:
		if f, ok := number(val); ok {
			return any(float32(f)).(T)
		}
	case []string:
		switch x := val.(type) {
		case []string:
			return any(x).(T)
		case []any:
			out := make([]string, 0, len(x))
			for _, item := range x {
				s, ok := item.(string)
				if !ok {
					return defaultValue
				}
				out = append(out, s)
			}
			return any(out).(T)
		}
	default:
		// fallback: if type matches exactly
		if v2, ok := val.(T); ok {
			return v2
		}
	}

	return defaultValue
}

func number(val any) (float64, bool) {
	switch x := val.(type) {
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case float64:
		return x, true
	case float32:
		return float64(x), true
	}
	return 0, false
}
