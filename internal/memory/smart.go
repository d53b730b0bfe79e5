package memory

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// request is a smart_memory call decoded from its loose argument map.
type request struct {
	Action       string
	Query        string
	Entities     []string
	EntityName   string
	EntityType   string
	Observations []string
	Metadata     map[string]any
	RelationType string
	Properties   map[string]any
	Limit        int
	FilterType   string
	Depth        int
	MaxEntities  int
}

func parseRequest(args map[string]any) request {
	r := request{
		Action:   firstString(args, "action"),
		Query:    firstString(args, "query"),
		Entities: stringList(args["entities"]),
	}
	if data, ok := args["data"].(map[string]any); ok {
		r.EntityName = firstString(data, "entity_name", "entityName")
		r.EntityType = firstString(data, "entity_type", "entityType")
		r.RelationType = firstString(data, "relationType", "relation_type")
		r.Observations = stringList(data["observations"])
		if inner, ok := data["data"].(map[string]any); ok && len(r.Observations) == 0 {
			r.Observations = stringList(inner["observations"])
		}
		if meta, ok := data["metadata"].(map[string]any); ok {
			r.Metadata = meta
		}
		if props, ok := data["properties"].(map[string]any); ok {
			r.Properties = props
		}
	}
	if opts, ok := args["options"].(map[string]any); ok {
		r.Limit = intOf(opts["limit"])
		r.FilterType = firstString(opts, "entityType", "entity_type")
		r.Depth = intOf(opts["depth"])
		r.MaxEntities = intOf(opts["maxEntities"])
	}
	if r.EntityName == "" && len(r.Entities) > 0 {
		r.EntityName = r.Entities[0]
	}
	if r.EntityType == "" {
		r.EntityType = "observation"
	}
	if len(r.Observations) == 0 && r.Query != "" && r.Action == ActionRemember {
		r.Observations = []string{r.Query}
	}
	return r
}

func intOf(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

// agentFilter recognises the "agent_id:<id>" query form used to list an
// agent's own memories.
func agentFilter(query string) (string, bool) {
	const prefix = "agent_id:"
	if !strings.HasPrefix(query, prefix) {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(query, prefix)), true
}

// backend is a store that can answer every smart_memory action.
type backend interface {
	remember(ctx context.Context, name, entityType string, observations []string, meta map[string]any) error
	search(ctx context.Context, query, entityType string, limit int) ([]Record, error)
	get(ctx context.Context, names []string) ([]Record, error)
	connect(ctx context.Context, rel Relation) error
	explore(ctx context.Context, name string, depth, limit int) ([]Record, []Relation, error)
	path(ctx context.Context, from, to string) ([]string, error)
	since(ctx context.Context, t time.Time, limit int) ([]Record, error)
	timeline(ctx context.Context, name string) ([]Event, error)
	insights(ctx context.Context) (map[string]any, error)
	stats(ctx context.Context) (map[string]any, error)
}

// serve answers a smart_memory call against b, shaping replies the way
// the remote service does so Records and Unwrap treat all backends alike.
func serve(ctx context.Context, b backend, tool string, args map[string]any, now func() time.Time) (any, error) {
	if tool != ToolSmartMemory {
		return nil, fmt.Errorf("unknown memory tool %q", tool)
	}
	r := parseRequest(args)
	switch r.Action {
	case ActionRemember:
		if r.EntityName == "" {
			return nil, fmt.Errorf("remember: entity name required")
		}
		if err := b.remember(ctx, r.EntityName, r.EntityType, r.Observations, r.Metadata); err != nil {
			return nil, err
		}
		return map[string]any{"success": true, "entities": []any{r.EntityName}}, nil

	case ActionSearch:
		limit := r.Limit
		if limit <= 0 {
			limit = 10
		}
		recs, err := b.search(ctx, r.Query, r.FilterType, limit)
		if err != nil {
			return nil, err
		}
		return map[string]any{"results": recordsOut(recs), "count": len(recs)}, nil

	case ActionGet:
		recs, err := b.get(ctx, r.Entities)
		if err != nil {
			return nil, err
		}
		return map[string]any{"entities": recordsOut(recs)}, nil

	case ActionConnect:
		if len(r.Entities) < 2 {
			return nil, fmt.Errorf("connect: two entities required")
		}
		rel := Relation{From: r.Entities[0], To: r.Entities[1], Type: r.RelationType, Properties: r.Properties}
		if rel.Type == "" {
			rel.Type = "related_to"
		}
		if err := b.connect(ctx, rel); err != nil {
			return nil, err
		}
		return map[string]any{"success": true, "relation": relationOut(rel)}, nil

	case ActionExplore:
		if len(r.Entities) == 0 {
			return nil, fmt.Errorf("explore: entity required")
		}
		depth, limit := r.Depth, r.MaxEntities
		if depth <= 0 {
			depth = 2
		}
		if limit <= 0 {
			limit = 20
		}
		recs, rels, err := b.explore(ctx, r.Entities[0], depth, limit)
		if err != nil {
			return nil, err
		}
		out := make([]any, 0, len(rels))
		for _, rel := range rels {
			out = append(out, relationOut(rel))
		}
		return map[string]any{"entities": recordsOut(recs), "relations": out}, nil

	case ActionPath:
		if len(r.Entities) < 2 {
			return nil, fmt.Errorf("path: two entities required")
		}
		names, err := b.path(ctx, r.Entities[0], r.Entities[1])
		if err != nil {
			return nil, err
		}
		path := make([]any, 0, len(names))
		for _, n := range names {
			path = append(path, n)
		}
		return map[string]any{"found": len(names) > 0, "path": path}, nil

	case ActionDaily:
		start := now().UTC().Truncate(24 * time.Hour)
		recs, err := b.since(ctx, start, 50)
		if err != nil {
			return nil, err
		}
		return map[string]any{"date": start.Format("2006-01-02"), "entities": recordsOut(recs), "count": len(recs)}, nil

	case ActionTimeline:
		if len(r.Entities) == 0 {
			return nil, fmt.Errorf("timeline: entity required")
		}
		events, err := b.timeline(ctx, r.Entities[0])
		if err != nil {
			return nil, err
		}
		out := make([]any, 0, len(events))
		for _, e := range events {
			out = append(out, map[string]any{"observation": e.Observation, "timestamp": e.Timestamp.UTC().Format(time.RFC3339Nano)})
		}
		return map[string]any{"entity": r.Entities[0], "events": out}, nil

	case ActionInsights:
		return b.insights(ctx)

	case ActionStats:
		return b.stats(ctx)
	}
	return nil, fmt.Errorf("unknown smart_memory action %q", r.Action)
}

// recordsOut renders records as generic maps, the form a JSON round trip
// through the remote service would produce.
func recordsOut(recs []Record) []any {
	out := make([]any, 0, len(recs))
	for _, r := range recs {
		obs := make([]any, 0, len(r.Observations))
		for _, o := range r.Observations {
			obs = append(obs, o)
		}
		m := map[string]any{
			"entity_name":  r.EntityName,
			"entity_type":  r.EntityType,
			"observations": obs,
		}
		if r.Metadata != nil {
			m["metadata"] = r.Metadata
		}
		if r.Score != 0 {
			m["score"] = r.Score
		}
		if !r.UpdatedAt.IsZero() {
			m["updated_at"] = r.UpdatedAt.UTC().Format(time.RFC3339Nano)
		}
		out = append(out, m)
	}
	return out
}

func relationOut(rel Relation) map[string]any {
	m := map[string]any{"from": rel.From, "to": rel.To, "relationType": rel.Type}
	if rel.Properties != nil {
		m["properties"] = rel.Properties
	}
	return m
}

// matches reports how well text matches query: 1 for a whole-query
// substring hit, the fraction of query words present otherwise.
func matches(query string, texts ...string) float64 {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return 1
	}
	joined := strings.ToLower(strings.Join(texts, "\n"))
	if strings.Contains(joined, q) {
		return 1
	}
	words := strings.Fields(q)
	hit := 0
	for _, w := range words {
		if strings.Contains(joined, w) {
			hit++
		}
	}
	return float64(hit) / float64(len(words))
}
