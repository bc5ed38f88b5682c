package llm

import (
	"encoding/json"
	"testing"
)

func TestRepairJSONValidInput(t *testing.T) {
	input := `{"path": "main.go", "limit": 10}`
	out, ok := RepairJSON(input)
	if !ok {
		t.Fatal("expected valid input to be accepted")
	}
	if string(out) != input {
		t.Errorf("valid input should pass through unchanged, got %s", out)
	}
}

func TestRepairJSONEmptyInput(t *testing.T) {
	out, ok := RepairJSON("")
	if !ok || string(out) != "{}" {
		t.Errorf("empty input should repair to {}, got %q ok=%v", out, ok)
	}
	out, ok = RepairJSON("   \n\t")
	if !ok || string(out) != "{}" {
		t.Errorf("whitespace input should repair to {}, got %q ok=%v", out, ok)
	}
}

func TestRepairJSONTruncatedObject(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  map[string]interface{}
	}{
		{
			name:  "cut mid string value",
			input: `{"path": "main.go", "content": "partial te`,
			want:  map[string]interface{}{"path": "main.go"},
		},
		{
			name:  "cut after complete value",
			input: `{"limit": 10, "path": "main.go", "recur`,
			want:  map[string]interface{}{"limit": float64(10), "path": "main.go"},
		},
		{
			name:  "cut after comma",
			input: `{"path": "main.go",`,
			want:  map[string]interface{}{"path": "main.go"},
		},
		{
			name:  "dangling key",
			input: `{"path": "main.go", "limit"`,
			want:  map[string]interface{}{"path": "main.go"},
		},
		{
			name:  "dangling key with colon",
			input: `{"path": "main.go", "limit":`,
			want:  map[string]interface{}{"path": "main.go"},
		},
		{
			name:  "nested object cut open",
			input: `{"edit": {"old": "a", "new": "b"`,
			want:  map[string]interface{}{"edit": map[string]interface{}{"old": "a", "new": "b"}},
		},
		{
			name:  "array cut open",
			input: `{"files": ["a.go", "b.go"`,
			want:  map[string]interface{}{"files": []interface{}{"a.go", "b.go"}},
		},
		{
			name:  "boolean literal complete",
			input: `{"recursive": true`,
			want:  map[string]interface{}{"recursive": true},
		},
	}

	for _, tc := range cases {
		out, ok := RepairJSON(tc.input)
		if !ok {
			t.Errorf("%s: expected repair to succeed for %q", tc.name, tc.input)
			continue
		}
		var got map[string]interface{}
		if err := json.Unmarshal(out, &got); err != nil {
			t.Errorf("%s: repaired output %q is not valid JSON: %v", tc.name, out, err)
			continue
		}
		if len(got) != len(tc.want) {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
			continue
		}
		for k := range tc.want {
			if _, present := got[k]; !present {
				t.Errorf("%s: missing key %q in %v", tc.name, k, got)
			}
		}
	}
}

func TestRepairJSONTruncatedNumberDropped(t *testing.T) {
	// A number at the very end may itself be truncated (e.g. "12" of
	// "123"), so it must not survive the repair.
	out, ok := RepairJSON(`{"path": "main.go", "limit": 12`)
	if !ok {
		t.Fatal("expected repair to succeed")
	}
	var got map[string]interface{}
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatalf("repaired output is not valid JSON: %v", err)
	}
	if _, present := got["limit"]; present {
		t.Errorf("trailing number should be dropped, got %v", got)
	}
	if got["path"] != "main.go" {
		t.Errorf("earlier complete value lost: %v", got)
	}
}

func TestRepairJSONUnsalvageable(t *testing.T) {
	for _, input := range []string{`{`, `["`, `{"`} {
		if out, ok := RepairJSON(input); ok {
			// "{" alone closes to "{}" which is fine; only flag outputs
			// that are not valid JSON.
			if !json.Valid(out) {
				t.Errorf("RepairJSON(%q) reported ok with invalid output %q", input, out)
			}
			continue
		}
	}
	if _, ok := RepairJSON(`not json at all`); ok {
		t.Error("bare prose should not repair to valid JSON")
	}
	// Truncated before any complete value exists.
	if _, ok := RepairJSON(`{"path": "src/ma`); ok {
		t.Error("object with no complete value should not be repairable")
	}
}
