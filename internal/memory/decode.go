package memory

import (
	"fmt"
	"strings"
	"time"
)

// DefaultMaxUnwrapDepth covers the two JSON-in-string layers the memory
// service emits today plus one spare.
const DefaultMaxUnwrapDepth = 3

// Unwrap peels JSON documents that arrive encoded as text inside
// content[0].text or data.content[0].text. Text that is not JSON is returned
// as is. Nesting deeper than maxDepth returns the last value reached together
// with ErrProtocolMismatch instead of looping.
func Unwrap(v any, maxDepth int) (any, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxUnwrapDepth
	}
	cur := v
	for depth := 0; ; depth++ {
		text, ok := wrappedText(cur)
		if !ok {
			return cur, nil
		}
		if depth >= maxDepth {
			return cur, fmt.Errorf("%w: more than %d layers", ErrProtocolMismatch, maxDepth)
		}
		trimmed := strings.TrimSpace(text)
		if !strings.HasPrefix(trimmed, "{") && !strings.HasPrefix(trimmed, "[") {
			return text, nil
		}
		var next any
		if err := json.Unmarshal([]byte(trimmed), &next); err != nil {
			return text, nil
		}
		cur = next
	}
}

// wrappedText finds an MCP-style text payload in v.
func wrappedText(v any) (string, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return "", false
	}
	if text, ok := firstText(m["content"]); ok {
		return text, true
	}
	if data, ok := m["data"].(map[string]any); ok {
		return firstText(data["content"])
	}
	return "", false
}

func firstText(v any) (string, bool) {
	list, ok := v.([]any)
	if !ok || len(list) == 0 {
		return "", false
	}
	item, ok := list[0].(map[string]any)
	if !ok {
		return "", false
	}
	text, ok := item["text"].(string)
	return text, ok
}

// Records extracts entity records from the response layouts the memory
// service has used: results, entities, a data list, data.entities and
// data.results.
func Records(v any) []Record {
	switch t := v.(type) {
	case []any:
		return recordList(t)
	case map[string]any:
		if list, ok := t["results"].([]any); ok {
			return recordList(list)
		}
		if list, ok := t["entities"].([]any); ok {
			return recordList(list)
		}
		switch data := t["data"].(type) {
		case []any:
			return recordList(data)
		case map[string]any:
			if list, ok := data["entities"].([]any); ok {
				return recordList(list)
			}
			if list, ok := data["results"].([]any); ok {
				return recordList(list)
			}
		}
	}
	return nil
}

func recordList(list []any) []Record {
	out := make([]Record, 0, len(list))
	for _, item := range list {
		switch v := item.(type) {
		case string:
			out = append(out, Record{EntityName: v})
		case map[string]any:
			out = append(out, recordFrom(v))
		}
	}
	return out
}

func recordFrom(m map[string]any) Record {
	r := Record{
		EntityName: firstString(m, "entity_name", "entityName", "name"),
		EntityType: firstString(m, "entity_type", "entityType", "type"),
	}
	obs := m["observations"]
	if obs == nil {
		if data, ok := m["data"].(map[string]any); ok {
			obs = data["observations"]
		}
	}
	r.Observations = stringList(obs)
	if meta, ok := m["metadata"].(map[string]any); ok {
		r.Metadata = meta
	}
	if s, ok := m["score"].(float64); ok {
		r.Score = s
	}
	if ts := firstString(m, "updated_at", "timestamp"); ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			r.UpdatedAt = t
		}
	}
	return r
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func stringList(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			} else if item != nil {
				out = append(out, fmt.Sprint(item))
			}
		}
		return out
	case string:
		return []string{t}
	}
	return nil
}
