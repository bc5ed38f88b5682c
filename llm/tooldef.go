package llm

import (
	"strconv"
	"strings"
)

// ToolDefinition is the provider-agnostic tool declaration: a name, a
// description, and JSON-schema-shaped parameters. Adapters round-trip this
// into each provider's native format.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// NormalizeSchema rewrites a JSON schema in place-compatible fashion for
// providers with strict parsers: type keywords are lower-cased and numeric
// constraint fields that arrive as quoted strings become real numbers.
// The input is not mutated; a normalized copy is returned.
func NormalizeSchema(schema map[string]interface{}) map[string]interface{} {
	if schema == nil {
		return nil
	}
	out := make(map[string]interface{}, len(schema))
	for k, v := range schema {
		out[k] = normalizeSchemaValue(k, v)
	}
	return out
}

var numericSchemaFields = map[string]bool{
	"minimum":       true,
	"maximum":       true,
	"minLength":     true,
	"maxLength":     true,
	"minItems":      true,
	"maxItems":      true,
	"minProperties": true,
	"maxProperties": true,
	"multipleOf":    true,
}

func normalizeSchemaValue(key string, v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return NormalizeSchema(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = normalizeSchemaValue("", item)
		}
		return out
	case string:
		if key == "type" {
			return strings.ToLower(val)
		}
		if numericSchemaFields[key] {
			if n, err := strconv.ParseFloat(val, 64); err == nil {
				return n
			}
		}
		return val
	default:
		return v
	}
}
