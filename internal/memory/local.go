package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

type localEntity struct {
	name       string
	kind       string
	obs        []string
	observedAt []time.Time
	meta       map[string]any
	created    time.Time
	updated    time.Time
}

func (e *localEntity) record(score float64) Record {
	return Record{
		EntityName:   e.name,
		EntityType:   e.kind,
		Observations: append([]string(nil), e.obs...),
		Metadata:     e.meta,
		Score:        score,
		UpdatedAt:    e.updated,
	}
}

// LocalBridge keeps the knowledge graph in process. It answers the same
// smart_memory calls as the remote service and backs tests and
// single-binary deployments.
type LocalBridge struct {
	mu        sync.RWMutex
	entities  map[string]*localEntity
	relations []Relation
	now       func() time.Time
}

// NewLocalBridge returns an empty in-process memory graph.
func NewLocalBridge() *LocalBridge {
	return &LocalBridge{entities: make(map[string]*localEntity), now: time.Now}
}

func (b *LocalBridge) Call(ctx context.Context, tool string, args map[string]any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return serve(ctx, b, tool, args, b.now)
}

func (b *LocalBridge) Close() error { return nil }

func (b *LocalBridge) remember(_ context.Context, name, kind string, obs []string, meta map[string]any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	e, ok := b.entities[name]
	if !ok {
		e = &localEntity{name: name, kind: kind, meta: map[string]any{}, created: now}
		b.entities[name] = e
	}
	for k, v := range meta {
		e.meta[k] = v
	}
	for _, o := range obs {
		e.obs = append(e.obs, o)
		e.observedAt = append(e.observedAt, now)
	}
	e.updated = now
	return nil
}

func (b *LocalBridge) search(_ context.Context, query, kind string, limit int) ([]Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	agentID, byAgent := agentFilter(query)
	var out []Record
	for _, e := range b.entities {
		if kind != "" && e.kind != kind {
			continue
		}
		if byAgent {
			if id, _ := e.meta["agent_id"].(string); id == agentID {
				out = append(out, e.record(1))
			}
			continue
		}
		texts := append([]string{e.name, e.kind}, e.obs...)
		if score := matches(query, texts...); score > 0 {
			out = append(out, e.record(score))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (b *LocalBridge) get(_ context.Context, names []string) ([]Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Record
	for _, n := range names {
		if e, ok := b.entities[n]; ok {
			out = append(out, e.record(0))
		}
	}
	return out, nil
}

func (b *LocalBridge) connect(_ context.Context, rel Relation) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.entities[rel.From]; !ok {
		return fmt.Errorf("connect: entity %q not found", rel.From)
	}
	if _, ok := b.entities[rel.To]; !ok {
		return fmt.Errorf("connect: entity %q not found", rel.To)
	}
	for i, r := range b.relations {
		if r.From == rel.From && r.To == rel.To && r.Type == rel.Type {
			b.relations[i].Properties = rel.Properties
			return nil
		}
	}
	b.relations = append(b.relations, rel)
	return nil
}

// neighbours lists entities one hop away in either direction.
func (b *LocalBridge) neighbours(name string) []string {
	var out []string
	for _, r := range b.relations {
		switch name {
		case r.From:
			out = append(out, r.To)
		case r.To:
			out = append(out, r.From)
		}
	}
	return out
}

func (b *LocalBridge) explore(_ context.Context, name string, depth, limit int) ([]Record, []Relation, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if _, ok := b.entities[name]; !ok {
		return nil, nil, fmt.Errorf("explore: entity %q not found", name)
	}
	seen := map[string]bool{name: true}
	frontier := []string{name}
	var recs []Record
	for d := 0; d < depth && len(frontier) > 0 && len(recs) < limit; d++ {
		var next []string
		for _, n := range frontier {
			for _, m := range b.neighbours(n) {
				if seen[m] || len(recs) >= limit {
					continue
				}
				seen[m] = true
				next = append(next, m)
				recs = append(recs, b.entities[m].record(0))
			}
		}
		frontier = next
	}
	var rels []Relation
	for _, r := range b.relations {
		if seen[r.From] && seen[r.To] {
			rels = append(rels, r)
		}
	}
	return recs, rels, nil
}

func (b *LocalBridge) path(_ context.Context, from, to string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if _, ok := b.entities[from]; !ok {
		return nil, nil
	}
	prev := map[string]string{from: ""}
	queue := []string{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == to {
			var path []string
			for n := to; n != ""; n = prev[n] {
				path = append([]string{n}, path...)
			}
			return path, nil
		}
		for _, m := range b.neighbours(cur) {
			if _, ok := prev[m]; !ok {
				prev[m] = cur
				queue = append(queue, m)
			}
		}
	}
	return nil, nil
}

func (b *LocalBridge) since(_ context.Context, t time.Time, limit int) ([]Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Record
	for _, e := range b.entities {
		if !e.updated.Before(t) {
			out = append(out, e.record(0))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (b *LocalBridge) timeline(_ context.Context, name string) ([]Event, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	e, ok := b.entities[name]
	if !ok {
		return nil, fmt.Errorf("timeline: entity %q not found", name)
	}
	events := make([]Event, len(e.obs))
	for i := range e.obs {
		events[i] = Event{Observation: e.obs[i], Timestamp: e.observedAt[i]}
	}
	return events, nil
}

func (b *LocalBridge) insights(context.Context) (map[string]any, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	types := map[string]any{}
	counts := map[string]int{}
	for _, e := range b.entities {
		counts[e.kind]++
	}
	for k, v := range counts {
		types[k] = v
	}

	degree := map[string]int{}
	for _, r := range b.relations {
		degree[r.From]++
		degree[r.To]++
	}
	names := make([]string, 0, len(degree))
	for n := range degree {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool {
		if degree[names[i]] != degree[names[j]] {
			return degree[names[i]] > degree[names[j]]
		}
		return names[i] < names[j]
	})
	if len(names) > 5 {
		names = names[:5]
	}
	connected := make([]any, 0, len(names))
	for _, n := range names {
		connected = append(connected, map[string]any{"entity_name": n, "degree": degree[n]})
	}
	return map[string]any{"entity_types": types, "most_connected": connected}, nil
}

func (b *LocalBridge) stats(context.Context) (map[string]any, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obs := 0
	for _, e := range b.entities {
		obs += len(e.obs)
	}
	return map[string]any{
		"entities":     len(b.entities),
		"relations":    len(b.relations),
		"observations": obs,
		"backend":      "local",
	}, nil
}
