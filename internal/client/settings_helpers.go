package client

import "strings"

// IndexBody builds a create-index request body from flat or nested
// settings. Flat dotted keys in defaults are added only where settings does
// not already define them. Returns nil when both are empty.
func IndexBody(settings map[string]any, defaults map[string]string) map[string]any {
	if len(settings) == 0 && len(defaults) == 0 {
		return nil
	}
	nested := buildNestedMap(settings)
	if len(defaults) > 0 {
		flat := make(map[string]any, len(defaults))
		for k, v := range defaults {
			flat[k] = v
		}
		fillMissing(nested, buildNestedMap(flat))
	}
	return map[string]any{"settings": nested}
}

// buildNestedMap converts a flat map with dotted keys into a nested map.
// e.g. {"index.number_of_replicas": "2"} becomes {"index": {"number_of_replicas": "2"}}
// Multiple keys sharing a common prefix are merged rather than overwritten.
func buildNestedMap(flat map[string]any) map[string]any {
	result := make(map[string]any)
	for key, val := range flat {
		parts := strings.SplitN(key, ".", 2)
		if len(parts) == 1 {
			if existingSub, ok := result[key].(map[string]any); ok {
				if newSub, ok := val.(map[string]any); ok {
					mergeNestedMaps(existingSub, buildNestedMap(newSub))
					continue
				}
			}
			if sub, ok := val.(map[string]any); ok {
				val = buildNestedMap(sub)
			}
			result[key] = val
			continue
		}
		sub, ok := result[parts[0]].(map[string]any)
		if !ok {
			sub = make(map[string]any)
			result[parts[0]] = sub
		}
		mergeNestedMaps(sub, buildNestedMap(map[string]any{parts[1]: val}))
	}
	return result
}

// mergeNestedMaps merges src into dst recursively. When both dst[k] and src[k]
// are maps, they are merged; otherwise src[k] overwrites dst[k].
func mergeNestedMaps(dst, src map[string]any) {
	for k, v := range src {
		if existingSub, ok := dst[k].(map[string]any); ok {
			if newSub, ok := v.(map[string]any); ok {
				mergeNestedMaps(existingSub, newSub)
				continue
			}
		}
		dst[k] = v
	}
}

// fillMissing copies leaves of src into dst where dst has no value yet.
func fillMissing(dst, src map[string]any) {
	for k, v := range src {
		existing, ok := dst[k]
		if !ok {
			dst[k] = v
			continue
		}
		existingSub, ok1 := existing.(map[string]any)
		newSub, ok2 := v.(map[string]any)
		if ok1 && ok2 {
			fillMissing(existingSub, newSub)
		}
	}
}
