package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nidhogg/aibrain/internal/memory"
	"go.uber.org/zap"
)

const (
	recentLimit = 10
	recallLimit = 3
)

// AttachMemory binds a memory client and enables lazy initialisation.
func (a *Agent) AttachMemory(mem *memory.Client) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.mem = mem
	a.memEnabled = mem.Available()
	a.memReady = false
	a.memChecked = time.Time{}
	a.recent = nil
}

// DetachMemory drops the memory session. The agent keeps working without
// recall.
func (a *Agent) DetachMemory() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.mem = nil
	a.memEnabled = false
	a.memReady = false
	a.recent = nil
}

// MemoryReady reports whether a memory session is active.
func (a *Agent) MemoryReady() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.memReady
}

func (a *Agent) memoryClient() *memory.Client {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.memReady {
		return nil
	}
	return a.mem
}

// initMemory brings the session up on first use. A failed health check
// leaves the agent in no-memory mode until memoryRetry passes.
func (a *Agent) initMemory(ctx context.Context) bool {
	a.mu.RLock()
	ready, enabled, checked, mem := a.memReady, a.memEnabled, a.memChecked, a.mem
	a.mu.RUnlock()
	if ready {
		return true
	}
	if !enabled || !mem.Available() {
		return false
	}
	if !checked.IsZero() && time.Since(checked) < memoryRetry {
		return false
	}

	a.initMu.Lock()
	defer a.initMu.Unlock()
	if a.MemoryReady() {
		return true
	}

	healthy := mem.Health(ctx)
	a.mu.Lock()
	a.memChecked = time.Now()
	a.mu.Unlock()
	if !healthy {
		a.logger.Warn("memory service unreachable, continuing without memory")
		return false
	}

	recent, err := mem.AgentMemories(ctx, a.id, recentLimit)
	if err != nil {
		a.logger.Warn("load recent memories", zap.Error(err))
	}
	a.mu.Lock()
	a.memReady = true
	a.recent = recent
	a.mu.Unlock()
	a.logger.Info("memory session ready", zap.Int("recent", len(recent)))
	return true
}

func (a *Agent) attachRecall(ctx context.Context, request string, rctx map[string]any) {
	records, err := a.Recall(ctx, request, recallLimit)
	if err != nil {
		a.logger.Debug("recall failed", zap.Error(err))
		return
	}
	if len(records) > 0 {
		texts := make([]string, len(records))
		for i, r := range records {
			texts[i] = r.Text()
		}
		rctx["relevant_memories"] = texts
	}
	rctx["memory_summary"] = a.MemorySummary()
}

// Remember stores content as an observation owned by this agent and adds
// it to the recent cache.
func (a *Agent) Remember(ctx context.Context, content, entityType string) error {
	mem := a.memoryClient()
	if mem == nil {
		return memory.ErrUnavailable
	}
	if entityType == "" {
		entityType = "observation"
	}
	name, err := mem.Remember(ctx, a.id, content, entityType)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.recent = append([]memory.Record{{
		EntityName:   name,
		EntityType:   entityType,
		Observations: []string{content},
		UpdatedAt:    time.Now(),
	}}, a.recent...)
	if len(a.recent) > recentLimit {
		a.recent = a.recent[:recentLimit]
	}
	a.mu.Unlock()
	return nil
}

// Recall searches memory for records related to query.
func (a *Agent) Recall(ctx context.Context, query string, limit int) ([]memory.Record, error) {
	mem := a.memoryClient()
	if mem == nil {
		return nil, memory.ErrUnavailable
	}
	return mem.Search(ctx, query, limit, "")
}

// CreateEntity stores a named entity tagged with this agent's identity.
func (a *Agent) CreateEntity(ctx context.Context, name, entityType string, observations []string, meta map[string]any) error {
	mem := a.memoryClient()
	if mem == nil {
		return memory.ErrUnavailable
	}
	tagged := copyContext(meta)
	tagged["created_by_agent"] = a.id
	tagged["agent_role"] = a.profile.Role
	tagged["personality"] = a.profile.Personality
	return mem.StoreEntity(ctx, name, entityType, observations, tagged)
}

// RecentMemories returns a copy of the recent cache, newest first.
func (a *Agent) RecentMemories() []memory.Record {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]memory.Record(nil), a.recent...)
}

// MemorySummary renders the three most recent memories for a prompt.
func (a *Agent) MemorySummary() string {
	recent := a.RecentMemories()
	if len(recent) == 0 {
		return "No recent memories available."
	}
	if len(recent) > recallLimit {
		recent = recent[:recallLimit]
	}
	var b strings.Builder
	b.WriteString("Recent memories:")
	for _, r := range recent {
		obs := ""
		if len(r.Observations) > 0 {
			obs = r.Observations[0]
		}
		fmt.Fprintf(&b, "\n- %s: %s", r.EntityName, truncate(obs, 100))
	}
	return b.String()
}
