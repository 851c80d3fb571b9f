package runner

// Typed accessors over a node's configuration map. Values arrive
// JSON-decoded, so numbers are float64 unless normalized upstream.

func cfgString(config map[string]any, key, fallback string) string {
	if v, ok := config[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func cfgInt(config map[string]any, key string, fallback int64) int64 {
	switch v := config[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return fallback
}

func cfgFloat(config map[string]any, key string, fallback float64) float64 {
	switch v := config[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	}
	return fallback
}

func cfgBool(config map[string]any, key string, fallback bool) bool {
	if v, ok := config[key].(bool); ok {
		return v
	}
	return fallback
}

func cfgMap(config map[string]any, key string) map[string]any {
	if v, ok := config[key].(map[string]any); ok {
		return v
	}
	return nil
}

func cfgSlice(config map[string]any, key string) []any {
	if v, ok := config[key].([]any); ok {
		return v
	}
	return nil
}
