package memory

import (
	"errors"
	"testing"
)

func TestUnwrapNestedText(t *testing.T) {
	inner := `{"results": [{"entity_name": "budget_note", "observations": ["Q3 budget approved"]}]}`
	layered := map[string]any{
		"content": []any{map[string]any{"type": "text", "text": `{"data": {"content": [{"type": "text", "text": ` + quote(inner) + `}]}}`}},
	}

	v, err := Unwrap(layered, 3)
	if err != nil {
		t.Fatalf("unwrap: %v", err)
	}
	recs := Records(v)
	if len(recs) != 1 || recs[0].EntityName != "budget_note" {
		t.Fatalf("unexpected records %+v", recs)
	}
	if recs[0].Text() != "Q3 budget approved" {
		t.Errorf("unexpected text %q", recs[0].Text())
	}
}

func TestUnwrapRawPassthrough(t *testing.T) {
	v, err := Unwrap(map[string]any{"content": []any{map[string]any{"text": "plain words"}}}, 3)
	if err != nil {
		t.Fatalf("unwrap: %v", err)
	}
	if v != "plain words" {
		t.Errorf("expected raw text passthrough, got %v", v)
	}
}

func TestUnwrapDepthLimit(t *testing.T) {
	v := any(map[string]any{"results": []any{}})
	for i := 0; i < 4; i++ {
		raw, err := json.Marshal(v)
		if err != nil {
			t.Fatal(err)
		}
		v = map[string]any{"content": []any{map[string]any{"text": string(raw)}}}
	}

	_, err := Unwrap(v, 2)
	if !errors.Is(err, ErrProtocolMismatch) {
		t.Fatalf("expected protocol mismatch, got %v", err)
	}
	if _, err := Unwrap(v, 4); err != nil {
		t.Errorf("four layers should unwrap with depth 4: %v", err)
	}
}

func TestRecordsLayouts(t *testing.T) {
	entity := map[string]any{"name": "alice", "entityType": "person", "data": map[string]any{"observations": []any{"likes tea"}}}
	tests := []struct {
		name string
		in   any
	}{
		{"results", map[string]any{"results": []any{entity}}},
		{"entities", map[string]any{"entities": []any{entity}}},
		{"data list", map[string]any{"data": []any{entity}}},
		{"data.entities", map[string]any{"data": map[string]any{"entities": []any{entity}}}},
		{"data.results", map[string]any{"data": map[string]any{"results": []any{entity}}}},
		{"bare list", []any{entity}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs := Records(tt.in)
			if len(recs) != 1 {
				t.Fatalf("expected one record, got %d", len(recs))
			}
			r := recs[0]
			if r.EntityName != "alice" || r.EntityType != "person" || len(r.Observations) != 1 {
				t.Errorf("unexpected record %+v", r)
			}
		})
	}

	if recs := Records(map[string]any{"status": "ok"}); len(recs) != 0 {
		t.Errorf("expected no records, got %+v", recs)
	}
}

func quote(s string) string {
	raw, _ := json.Marshal(s)
	return string(raw)
}
