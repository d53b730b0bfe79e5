package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// Index is an optional semantic index consulted by graph searches in
// addition to substring matching.
type Index interface {
	Index(ctx context.Context, name, text string) error
	Query(ctx context.Context, text string, limit int) ([]string, error)
}

// GraphBridge answers smart_memory calls from a Neo4j graph. Entities are
// (:Entity) nodes and links are [:RELATES {type}] relationships.
type GraphBridge struct {
	driver neo4j.DriverWithContext
	index  Index
	logger *zap.Logger
	now    func() time.Time
}

// NewGraphBridge connects to Neo4j and makes sure the entity constraint
// exists. index may be nil.
func NewGraphBridge(ctx context.Context, uri, user, password string, index Index, logger *zap.Logger) (*GraphBridge, error) {
	auth := neo4j.NoAuth()
	if user != "" {
		auth = neo4j.BasicAuth(user, password, "")
	}
	driver, err := neo4j.NewDriverWithContext(uri, auth)
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("neo4j connectivity: %w", err)
	}
	b := &GraphBridge{driver: driver, index: index, logger: logger, now: time.Now}
	if _, err := b.run(ctx, `CREATE CONSTRAINT entity_name IF NOT EXISTS FOR (e:Entity) REQUIRE e.name IS UNIQUE`, nil); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("neo4j schema: %w", err)
	}
	return b, nil
}

func (b *GraphBridge) Call(ctx context.Context, tool string, args map[string]any) (any, error) {
	return serve(ctx, b, tool, args, b.now)
}

// Close shuts down the Neo4j driver.
func (b *GraphBridge) Close() error {
	return b.driver.Close(context.Background())
}

// Ping verifies the Neo4j connection.
func (b *GraphBridge) Ping(ctx context.Context) error {
	return b.driver.VerifyConnectivity(ctx)
}

func (b *GraphBridge) run(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	session := b.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	result, err := session.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	return result.Collect(ctx)
}

const entityColumns = `e.name AS name, e.type AS type, e.observations AS observations,
	e.metadata AS metadata, e.updated_at AS updated_at`

func entityRecord(rec *neo4j.Record) Record {
	r := Record{}
	if v, ok := rec.Get("name"); ok {
		r.EntityName, _ = v.(string)
	}
	if v, ok := rec.Get("type"); ok {
		r.EntityType, _ = v.(string)
	}
	if v, ok := rec.Get("observations"); ok {
		r.Observations = stringList(v)
	}
	if v, ok := rec.Get("metadata"); ok {
		if s, ok := v.(string); ok && s != "" {
			var meta map[string]any
			if json.Unmarshal([]byte(s), &meta) == nil {
				r.Metadata = meta
			}
		}
	}
	if v, ok := rec.Get("updated_at"); ok {
		if ms, ok := v.(int64); ok {
			r.UpdatedAt = time.UnixMilli(ms)
		}
	}
	if v, ok := rec.Get("score"); ok {
		if s, ok := v.(float64); ok {
			r.Score = s
		}
	}
	return r
}

func (b *GraphBridge) remember(ctx context.Context, name, kind string, obs []string, meta map[string]any) error {
	metaJSON := ""
	if len(meta) > 0 {
		raw, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		metaJSON = string(raw)
	}
	agentID, _ := meta["agent_id"].(string)
	now := b.now().UnixMilli()

	_, err := b.run(ctx,
		`MERGE (e:Entity {name: $name})
		 ON CREATE SET e.type = $type, e.created_at = $now, e.observations = [], e.observed_at = []
		 SET e.updated_at = $now,
		     e.observations = e.observations + $obs,
		     e.observed_at = e.observed_at + [o IN $obs | $now],
		     e.agent_id = CASE WHEN $agentId = '' THEN e.agent_id ELSE $agentId END,
		     e.metadata = CASE WHEN $meta = '' THEN e.metadata ELSE $meta END`,
		map[string]any{
			"name":    name,
			"type":    kind,
			"obs":     obs,
			"now":     now,
			"agentId": agentID,
			"meta":    metaJSON,
		})
	if err != nil {
		return fmt.Errorf("remember %s: %w", name, err)
	}

	if b.index != nil {
		for _, o := range obs {
			if err := b.index.Index(ctx, name, o); err != nil {
				b.logger.Warn("semantic index failed", zap.String("entity", name), zap.Error(err))
			}
		}
	}
	return nil
}

func (b *GraphBridge) search(ctx context.Context, query, kind string, limit int) ([]Record, error) {
	if agentID, ok := agentFilter(query); ok {
		recs, err := b.run(ctx,
			`MATCH (e:Entity {agent_id: $agentId})
			 WHERE $type = '' OR e.type = $type
			 RETURN `+entityColumns+`, 1.0 AS score
			 ORDER BY e.updated_at DESC LIMIT $limit`,
			map[string]any{"agentId": agentID, "type": kind, "limit": limit})
		if err != nil {
			return nil, fmt.Errorf("search agent memories: %w", err)
		}
		return collectRecords(recs), nil
	}

	recs, err := b.run(ctx,
		`MATCH (e:Entity)
		 WHERE ($type = '' OR e.type = $type)
		   AND (toLower(e.name) CONTAINS $q OR any(o IN e.observations WHERE toLower(o) CONTAINS $q))
		 RETURN `+entityColumns+`, 1.0 AS score
		 ORDER BY e.updated_at DESC LIMIT $limit`,
		map[string]any{"q": strings.ToLower(query), "type": kind, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}
	out := collectRecords(recs)

	if b.index != nil && len(out) < limit {
		names, err := b.index.Query(ctx, query, limit)
		if err != nil {
			b.logger.Warn("semantic search failed", zap.Error(err))
			return out, nil
		}
		seen := make(map[string]bool, len(out))
		for _, r := range out {
			seen[r.EntityName] = true
		}
		var extra []string
		for _, n := range names {
			if !seen[n] {
				extra = append(extra, n)
			}
		}
		more, err := b.get(ctx, extra)
		if err != nil {
			return out, nil
		}
		for _, r := range more {
			if len(out) >= limit {
				break
			}
			if kind != "" && r.EntityType != kind {
				continue
			}
			r.Score = 0.5
			out = append(out, r)
		}
	}
	return out, nil
}

func (b *GraphBridge) get(ctx context.Context, names []string) ([]Record, error) {
	if len(names) == 0 {
		return nil, nil
	}
	recs, err := b.run(ctx,
		`MATCH (e:Entity) WHERE e.name IN $names RETURN `+entityColumns,
		map[string]any{"names": names})
	if err != nil {
		return nil, fmt.Errorf("get entities: %w", err)
	}
	return collectRecords(recs), nil
}

func (b *GraphBridge) connect(ctx context.Context, rel Relation) error {
	props := ""
	if len(rel.Properties) > 0 {
		raw, err := json.Marshal(rel.Properties)
		if err != nil {
			return fmt.Errorf("encode relation properties: %w", err)
		}
		props = string(raw)
	}
	recs, err := b.run(ctx,
		`MATCH (a:Entity {name: $from}), (c:Entity {name: $to})
		 MERGE (a)-[r:RELATES {type: $type}]->(c)
		 SET r.properties = $props, r.updated_at = $now
		 RETURN count(r) AS n`,
		map[string]any{"from": rel.From, "to": rel.To, "type": rel.Type, "props": props, "now": b.now().UnixMilli()})
	if err != nil {
		return fmt.Errorf("connect %s -> %s: %w", rel.From, rel.To, err)
	}
	if len(recs) == 0 {
		return fmt.Errorf("connect: entities %q or %q not found", rel.From, rel.To)
	}
	if n, _ := recs[0].Get("n"); n == int64(0) {
		return fmt.Errorf("connect: entities %q or %q not found", rel.From, rel.To)
	}
	return nil
}

func (b *GraphBridge) explore(ctx context.Context, name string, depth, limit int) ([]Record, []Relation, error) {
	if depth > 5 {
		depth = 5
	}
	// Variable-length bounds cannot be parameters.
	recs, err := b.run(ctx,
		fmt.Sprintf(`MATCH (s:Entity {name: $name})-[:RELATES*1..%d]-(e:Entity)
		 WHERE e.name <> $name
		 RETURN DISTINCT `+entityColumns+` LIMIT $limit`, depth),
		map[string]any{"name": name, "limit": limit})
	if err != nil {
		return nil, nil, fmt.Errorf("explore %s: %w", name, err)
	}
	entities := collectRecords(recs)

	names := []string{name}
	for _, r := range entities {
		names = append(names, r.EntityName)
	}
	relRecs, err := b.run(ctx,
		`MATCH (a:Entity)-[r:RELATES]->(c:Entity)
		 WHERE a.name IN $names AND c.name IN $names
		 RETURN a.name AS from, c.name AS to, r.type AS type`,
		map[string]any{"names": names})
	if err != nil {
		return nil, nil, fmt.Errorf("explore relations %s: %w", name, err)
	}
	rels := make([]Relation, 0, len(relRecs))
	for _, rec := range relRecs {
		from, _ := rec.Get("from")
		to, _ := rec.Get("to")
		kind, _ := rec.Get("type")
		rel := Relation{}
		rel.From, _ = from.(string)
		rel.To, _ = to.(string)
		rel.Type, _ = kind.(string)
		rels = append(rels, rel)
	}
	return entities, rels, nil
}

func (b *GraphBridge) path(ctx context.Context, from, to string) ([]string, error) {
	recs, err := b.run(ctx,
		`MATCH p = shortestPath((a:Entity {name: $from})-[:RELATES*..6]-(c:Entity {name: $to}))
		 RETURN [n IN nodes(p) | n.name] AS names`,
		map[string]any{"from": from, "to": to})
	if err != nil {
		return nil, fmt.Errorf("path %s -> %s: %w", from, to, err)
	}
	if len(recs) == 0 {
		return nil, nil
	}
	v, _ := recs[0].Get("names")
	return stringList(v), nil
}

func (b *GraphBridge) since(ctx context.Context, t time.Time, limit int) ([]Record, error) {
	recs, err := b.run(ctx,
		`MATCH (e:Entity) WHERE e.updated_at >= $since
		 RETURN `+entityColumns+`
		 ORDER BY e.updated_at DESC LIMIT $limit`,
		map[string]any{"since": t.UnixMilli(), "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("daily entities: %w", err)
	}
	return collectRecords(recs), nil
}

func (b *GraphBridge) timeline(ctx context.Context, name string) ([]Event, error) {
	recs, err := b.run(ctx,
		`MATCH (e:Entity {name: $name}) RETURN e.observations AS obs, e.observed_at AS at`,
		map[string]any{"name": name})
	if err != nil {
		return nil, fmt.Errorf("timeline %s: %w", name, err)
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("timeline: entity %q not found", name)
	}
	rawObs, _ := recs[0].Get("obs")
	rawAt, _ := recs[0].Get("at")
	obs := stringList(rawObs)
	at, _ := rawAt.([]any)
	events := make([]Event, 0, len(obs))
	for i, o := range obs {
		ev := Event{Observation: o}
		if i < len(at) {
			if ms, ok := at[i].(int64); ok {
				ev.Timestamp = time.UnixMilli(ms)
			}
		}
		events = append(events, ev)
	}
	return events, nil
}

func (b *GraphBridge) insights(ctx context.Context) (map[string]any, error) {
	typeRecs, err := b.run(ctx,
		`MATCH (e:Entity) RETURN e.type AS type, count(*) AS n ORDER BY n DESC`, nil)
	if err != nil {
		return nil, fmt.Errorf("insights types: %w", err)
	}
	types := map[string]any{}
	for _, rec := range typeRecs {
		kind, _ := rec.Get("type")
		n, _ := rec.Get("n")
		if s, ok := kind.(string); ok {
			types[s] = n
		}
	}

	degRecs, err := b.run(ctx,
		`MATCH (e:Entity)-[r:RELATES]-()
		 RETURN e.name AS name, count(r) AS degree
		 ORDER BY degree DESC, name LIMIT 5`, nil)
	if err != nil {
		return nil, fmt.Errorf("insights degree: %w", err)
	}
	connected := make([]any, 0, len(degRecs))
	for _, rec := range degRecs {
		name, _ := rec.Get("name")
		degree, _ := rec.Get("degree")
		connected = append(connected, map[string]any{"entity_name": name, "degree": degree})
	}
	return map[string]any{"entity_types": types, "most_connected": connected}, nil
}

func (b *GraphBridge) stats(ctx context.Context) (map[string]any, error) {
	recs, err := b.run(ctx,
		`OPTIONAL MATCH (e:Entity)
		 WITH count(e) AS entities, sum(size(coalesce(e.observations, []))) AS observations
		 OPTIONAL MATCH ()-[r:RELATES]->()
		 RETURN entities, observations, count(r) AS relations`, nil)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	out := map[string]any{"backend": "graph"}
	if len(recs) > 0 {
		for _, key := range []string{"entities", "observations", "relations"} {
			v, _ := recs[0].Get(key)
			out[key] = v
		}
	}
	return out, nil
}

func collectRecords(recs []*neo4j.Record) []Record {
	out := make([]Record, 0, len(recs))
	for _, rec := range recs {
		out = append(out, entityRecord(rec))
	}
	return out
}
