package translate

import (
	"encoding/json"
	"fmt"
	"strings"
)

// The upstream's schema dialect is narrower than JSON Schema: several
// keywords are rejected outright, validation keywords are unsupported,
// nullable union types aren't a thing, and type names must be uppercase.
// CleanSchema rewrites a client schema into that dialect without losing
// the validation intent (it is folded into descriptions so the model can
// still see it).

// droppedKeys are removed wherever they appear.
var droppedKeys = map[string]bool{
	"$schema":              true,
	"additionalProperties": true,
	"format":               true,
	"default":              true,
	"uniqueItems":          true,
}

// validationKeys are unsupported upstream; their values get folded into
// the description instead. Order matters for deterministic output.
var validationKeys = []string{
	"minLength", "maxLength", "minimum", "maximum",
	"exclusiveMinimum", "exclusiveMaximum", "minItems", "maxItems",
}

// CleanSchema sanitizes a raw JSON schema for the upstream. Unknown keys
// pass through untouched; only the rewrites above are applied. Input that
// isn't valid JSON is returned as-is.
func CleanSchema(raw json.RawMessage) json.RawMessage {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return raw
	}
	cleaned := cleanValue(v)
	out, err := json.Marshal(cleaned)
	if err != nil {
		return raw
	}
	return out
}

func cleanValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cleanObject(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cleanValue(item)
		}
		return out
	default:
		return v
	}
}

func cleanObject(obj map[string]any) map[string]any {
	// Collect validation constraints before rewriting so they can be
	// folded into the description.
	var validations []string
	for _, key := range validationKeys {
		if value, ok := obj[key]; ok {
			validations = append(validations, fmt.Sprintf("%s: %s", key, formatConstraint(value)))
		}
	}

	cleaned := make(map[string]any, len(obj))
	for key, value := range obj {
		if droppedKeys[key] {
			continue
		}
		if isValidationKey(key) {
			continue
		}

		if key == "type" {
			cleaned[key] = normalizeType(value)
			continue
		}

		if key == "description" && len(validations) > 0 {
			if desc, ok := value.(string); ok {
				cleaned[key] = fmt.Sprintf("%s (%s)", desc, strings.Join(validations, ", "))
				continue
			}
		}

		cleaned[key] = cleanValue(value)
	}

	// Constraints with nowhere to go get a synthesized description.
	if len(validations) > 0 {
		if _, ok := cleaned["description"]; !ok {
			cleaned["description"] = "Validation: " + strings.Join(validations, ", ")
		}
	}

	return cleaned
}

func isValidationKey(key string) bool {
	for _, k := range validationKeys {
		if k == key {
			return true
		}
	}
	return false
}

// normalizeType collapses nullable unions like ["string","null"] to the
// non-null member and uppercases type names.
func normalizeType(value any) any {
	switch t := value.(type) {
	case string:
		return strings.ToUpper(t)
	case []any:
		var nonNull []any
		for _, item := range t {
			if s, ok := item.(string); ok && s == "null" {
				continue
			}
			nonNull = append(nonNull, item)
		}
		var picked any
		switch {
		case len(nonNull) > 0:
			picked = nonNull[0]
		case len(t) > 0:
			picked = t[0]
		default:
			picked = "string"
		}
		if s, ok := picked.(string); ok {
			return strings.ToUpper(s)
		}
		return picked
	default:
		return value
	}
}

// formatConstraint renders a constraint value the way it looked in the
// source schema (integers without a trailing .0).
func formatConstraint(v any) string {
	if f, ok := v.(float64); ok && f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
