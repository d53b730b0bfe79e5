// Package memory reaches the knowledge graph agents remember into. The
// remote service speaks JSON-RPC over HTTP; local graph and in-process
// backends answer the same smart_memory tool calls.
package memory

import (
	"context"
	"errors"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ToolSmartMemory is the single tool the memory service exposes.
const ToolSmartMemory = "smart_memory"

// smart_memory actions.
const (
	ActionRemember = "remember"
	ActionSearch   = "search"
	ActionGet      = "get"
	ActionConnect  = "connect"
	ActionExplore  = "explore"
	ActionPath     = "path"
	ActionDaily    = "daily"
	ActionTimeline = "timeline"
	ActionInsights = "insights"
	ActionStats    = "stats"
)

var (
	// ErrUnavailable means no memory backend is attached or enabled.
	ErrUnavailable = errors.New("memory unavailable")
	// ErrProtocolMismatch flags responses nested deeper than the decoder
	// accepts.
	ErrProtocolMismatch = errors.New("memory response nesting exceeds supported depth")
)

// Bridge is the single remote-call primitive of the memory service.
type Bridge interface {
	Call(ctx context.Context, tool string, args map[string]any) (any, error)
	Close() error
}

// Record is one entity returned by the memory service.
type Record struct {
	EntityName   string         `json:"entity_name"`
	EntityType   string         `json:"entity_type"`
	Observations []string       `json:"observations"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Score        float64        `json:"score,omitempty"`
	UpdatedAt    time.Time      `json:"updated_at,omitempty"`
}

// Text joins the record's observations for display.
func (r Record) Text() string {
	switch len(r.Observations) {
	case 0:
		return r.EntityName
	case 1:
		return r.Observations[0]
	}
	out := r.Observations[0]
	for _, o := range r.Observations[1:] {
		out += "; " + o
	}
	return out
}

// Relation links two entities.
type Relation struct {
	From       string         `json:"from"`
	To         string         `json:"to"`
	Type       string         `json:"relationType"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Event is one timestamped observation on an entity's timeline.
type Event struct {
	Observation string    `json:"observation"`
	Timestamp   time.Time `json:"timestamp"`
}
