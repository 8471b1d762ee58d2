package domain

import (
	"fmt"
	"regexp"
	"strings"
)

var macroPlaceholder = regexp.MustCompile(`\{(\w+?)\}`)

// TransformJSON recursively walks a model value replacing macro strings. A
// string starting with '$' is a macro: '{name}' placeholders are expanded
// from the mappings, and a macro without placeholders is looked up whole. On
// a lookup miss the original string is kept unchanged, so transforming with
// an empty mapping is the identity.
func TransformJSON(value any, mappings map[string]any) any {
	switch node := value.(type) {
	case []any:
		result := make([]any, len(node))
		for i, item := range node {
			result[i] = TransformJSON(item, mappings)
		}
		return result
	case map[string]any:
		result := make(map[string]any, len(node))
		for key, item := range node {
			newKey := key
			if transformed, ok := TransformJSON(key, mappings).(string); ok {
				newKey = transformed
			}
			result[newKey] = TransformJSON(item, mappings)
		}
		return result
	case string:
		if strings.HasPrefix(node, "$") {
			if expanded, ok := expandMacro(node[1:], mappings); ok {
				return expanded
			}
		}
		return node
	default:
		return node
	}
}

// expandMacro substitutes '{name}' placeholders, or looks the whole macro up
// as a mapping key when no placeholder is present.
func expandMacro(macro string, mappings map[string]any) (any, bool) {
	replaced := false
	missing := false
	result := macroPlaceholder.ReplaceAllStringFunc(macro, func(m string) string {
		replaced = true
		name := m[1 : len(m)-1]
		value, ok := mappings[name]
		if !ok {
			missing = true
			return m
		}
		return fmt.Sprint(value)
	})
	if replaced {
		if missing {
			return nil, false
		}
		return result, true
	}
	value, ok := mappings[macro]
	return value, ok
}

// MergeLists concatenates two sequences dropping items that are structurally
// equal to an element already present.
func MergeLists(a, b []any) []any {
	result := make([]any, 0, len(a)+len(b))
	for _, item := range append(append([]any(nil), a...), b...) {
		exists := false
		for _, old := range result {
			if DeepEqual(item, old) {
				exists = true
				break
			}
		}
		if !exists {
			result = append(result, item)
		}
	}
	return result
}

// MergeDicts merges b into a copy of a. Nested mappings merge recursively and
// nested sequences merge with MergeLists, except below maxLevels (0 means
// unlimited, 1 means shallow: values from b win outright). Conflicting value
// kinds are an error.
func MergeDicts(a, b map[string]any, maxLevels int) (map[string]any, error) {
	result := make(map[string]any, len(a)+len(b))
	for key, value := range a {
		result[key] = value
		other, ok := b[key]
		if !ok {
			continue
		}
		if fmt.Sprintf("%T", other) != fmt.Sprintf("%T", value) {
			return nil, NewDomainError(ErrCodeInvalidType,
				fmt.Sprintf("cannot merge %T with %T at key %q", value, other, key), nil)
		}
		switch typed := other.(type) {
		case map[string]any:
			if maxLevels != 1 {
				next := maxLevels
				if next > 0 {
					next--
				}
				merged, err := MergeDicts(value.(map[string]any), typed, next)
				if err != nil {
					return nil, err
				}
				result[key] = merged
				continue
			}
			result[key] = other
		case []any:
			if maxLevels != 1 {
				result[key] = MergeLists(value.([]any), typed)
				continue
			}
			result[key] = other
		default:
			result[key] = other
		}
	}
	for key, value := range b {
		if _, ok := result[key]; !ok {
			result[key] = value
		}
	}
	return result, nil
}
