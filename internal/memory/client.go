package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Options tunes a Client.
type Options struct {
	Timeout        time.Duration
	MaxUnwrapDepth int
	Source         string
}

// Client speaks the smart_memory vocabulary over a Bridge. A nil Client or
// one without a bridge reports ErrUnavailable from every call.
type Client struct {
	bridge Bridge
	opts   Options
	logger *zap.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// NewClient wraps bridge.
func NewClient(bridge Bridge, opts Options, logger *zap.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxUnwrapDepth <= 0 {
		opts.MaxUnwrapDepth = DefaultMaxUnwrapDepth
	}
	if opts.Source == "" {
		opts.Source = "aibrain"
	}
	return &Client{
		bridge: bridge,
		opts:   opts,
		logger: logger,
		tracer: otel.Tracer("github.com/nidhogg/aibrain/internal/memory"),
		now:    time.Now,
	}
}

// Available reports whether calls can reach a backend.
func (c *Client) Available() bool {
	return c != nil && c.bridge != nil
}

func (c *Client) call(ctx context.Context, args map[string]any) (any, error) {
	if !c.Available() {
		return nil, ErrUnavailable
	}
	action, _ := args["action"].(string)
	ctx, span := c.tracer.Start(ctx, "memory.call", trace.WithAttributes(attribute.String("memory.action", action)))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	raw, err := c.bridge.Call(ctx, ToolSmartMemory, args)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("smart_memory %s: %w", action, err)
	}
	v, err := Unwrap(raw, c.opts.MaxUnwrapDepth)
	if errors.Is(err, ErrProtocolMismatch) {
		c.logger.Warn("memory response nested too deep", zap.String("action", action), zap.Error(err))
	}
	return v, nil
}

func (c *Client) callMap(ctx context.Context, args map[string]any) (map[string]any, error) {
	v, err := c.call(ctx, args)
	if err != nil {
		return nil, err
	}
	if m, ok := v.(map[string]any); ok {
		return m, nil
	}
	return map[string]any{"result": v}, nil
}

// Remember stores content as a new memory entity owned by agentID and
// returns the entity name.
func (c *Client) Remember(ctx context.Context, agentID, content, entityType string) (string, error) {
	if entityType == "" {
		entityType = "agent_memory"
	}
	ts := c.now().UTC()
	name := fmt.Sprintf("%s_memory_%d", agentID, ts.UnixNano())
	_, err := c.call(ctx, map[string]any{
		"action":   ActionRemember,
		"query":    content,
		"entities": []any{name},
		"data": map[string]any{
			"entity_name": name,
			"entity_type": entityType,
			"data":        map[string]any{"observations": []any{content}},
			"metadata": map[string]any{
				"agent_id":  agentID,
				"timestamp": ts.Format(time.RFC3339Nano),
				"source":    c.opts.Source,
			},
		},
	})
	if err != nil {
		return "", err
	}
	return name, nil
}

// StoreEntity creates or extends a named entity.
func (c *Client) StoreEntity(ctx context.Context, name, entityType string, observations []string, meta map[string]any) error {
	obs := make([]any, 0, len(observations))
	for _, o := range observations {
		obs = append(obs, o)
	}
	data := map[string]any{"entityType": entityType, "observations": obs}
	if meta != nil {
		data["metadata"] = meta
	}
	_, err := c.call(ctx, map[string]any{
		"action":   ActionRemember,
		"entities": []any{name},
		"data":     data,
	})
	return err
}

// AddObservation appends one observation to an existing entity.
func (c *Client) AddObservation(ctx context.Context, name, observation string) error {
	_, err := c.call(ctx, map[string]any{
		"action":   ActionRemember,
		"entities": []any{name},
		"query":    observation,
	})
	return err
}

// Search returns entities matching query, optionally limited to one type.
func (c *Client) Search(ctx context.Context, query string, limit int, entityType string) ([]Record, error) {
	if limit <= 0 {
		limit = 10
	}
	opts := map[string]any{"limit": limit}
	if entityType != "" {
		opts["entityType"] = entityType
	}
	v, err := c.call(ctx, map[string]any{
		"action":  ActionSearch,
		"query":   query,
		"options": opts,
	})
	if err != nil {
		return nil, err
	}
	return Records(v), nil
}

// AgentMemories lists memories recorded by agentID.
func (c *Client) AgentMemories(ctx context.Context, agentID string, limit int) ([]Record, error) {
	return c.Search(ctx, "agent_id:"+agentID, limit, "")
}

// Get fetches one entity by name. It returns nil when the entity is absent.
func (c *Client) Get(ctx context.Context, name string) (*Record, error) {
	v, err := c.call(ctx, map[string]any{
		"action":   ActionGet,
		"entities": []any{name},
	})
	if err != nil {
		return nil, err
	}
	recs := Records(v)
	if len(recs) == 0 {
		return nil, nil
	}
	return &recs[0], nil
}

// Connect links two entities with a typed relation.
func (c *Client) Connect(ctx context.Context, from, to, relationType string, props map[string]any) error {
	data := map[string]any{"relationType": relationType}
	if props != nil {
		data["properties"] = props
	}
	_, err := c.call(ctx, map[string]any{
		"action":   ActionConnect,
		"entities": []any{from, to},
		"data":     data,
	})
	return err
}

// Explore walks the graph around name.
func (c *Client) Explore(ctx context.Context, name string, depth, maxEntities int) (map[string]any, error) {
	return c.callMap(ctx, map[string]any{
		"action":   ActionExplore,
		"entities": []any{name},
		"options":  map[string]any{"depth": depth, "maxEntities": maxEntities},
	})
}

// Path finds a chain of relations between two entities.
func (c *Client) Path(ctx context.Context, from, to string) (map[string]any, error) {
	return c.callMap(ctx, map[string]any{
		"action":   ActionPath,
		"entities": []any{from, to},
	})
}

// Daily summarises entities touched today.
func (c *Client) Daily(ctx context.Context) (map[string]any, error) {
	return c.callMap(ctx, map[string]any{"action": ActionDaily, "query": "today"})
}

// Timeline lists an entity's observations in order.
func (c *Client) Timeline(ctx context.Context, name string) (map[string]any, error) {
	return c.callMap(ctx, map[string]any{
		"action":   ActionTimeline,
		"entities": []any{name},
	})
}

// Insights reports patterns across the graph.
func (c *Client) Insights(ctx context.Context) (map[string]any, error) {
	return c.callMap(ctx, map[string]any{"action": ActionInsights, "query": "generate patterns and insights"})
}

// Stats reports graph size.
func (c *Client) Stats(ctx context.Context) (map[string]any, error) {
	return c.callMap(ctx, map[string]any{"action": ActionStats})
}

// Health reports whether a stats call succeeds.
func (c *Client) Health(ctx context.Context) bool {
	_, err := c.Stats(ctx)
	return err == nil
}

// Close releases the bridge.
func (c *Client) Close() error {
	if !c.Available() {
		return nil
	}
	return c.bridge.Close()
}
