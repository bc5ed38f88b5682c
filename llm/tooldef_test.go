package llm

import "testing"

func TestNormalizeSchemaLowercasesTypes(t *testing.T) {
	schema := map[string]interface{}{
		"type": "OBJECT",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{"type": "String"},
		},
	}
	out := NormalizeSchema(schema)
	if out["type"] != "object" {
		t.Errorf("type = %v, want object", out["type"])
	}
	props := out["properties"].(map[string]interface{})
	if props["path"].(map[string]interface{})["type"] != "string" {
		t.Error("nested type not lowercased")
	}
	// Input must not be mutated.
	if schema["type"] != "OBJECT" {
		t.Error("input schema was mutated")
	}
}

func TestNormalizeSchemaConvertsQuotedNumerics(t *testing.T) {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"limit": map[string]interface{}{
				"type":    "integer",
				"minimum": "1",
				"maximum": "100",
			},
		},
	}
	out := NormalizeSchema(schema)
	limit := out["properties"].(map[string]interface{})["limit"].(map[string]interface{})
	if limit["minimum"] != float64(1) {
		t.Errorf("minimum = %v (%T), want 1", limit["minimum"], limit["minimum"])
	}
	if limit["maximum"] != float64(100) {
		t.Errorf("maximum = %v (%T), want 100", limit["maximum"], limit["maximum"])
	}
}

func TestNormalizeSchemaLeavesNonNumericStringsAlone(t *testing.T) {
	schema := map[string]interface{}{
		"description": "a number like 42",
		"minimum":     "not a number",
	}
	out := NormalizeSchema(schema)
	if out["description"] != "a number like 42" {
		t.Error("description changed")
	}
	if out["minimum"] != "not a number" {
		t.Error("unparseable numeric constraint should stay a string")
	}
}

func TestNormalizeSchemaNil(t *testing.T) {
	if NormalizeSchema(nil) != nil {
		t.Error("nil schema should stay nil")
	}
}
