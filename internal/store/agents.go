package store

import (
	"context"
	"fmt"

	"github.com/nidhogg/aibrain/internal/agent"
)

// SaveAgents upserts the running roster so operators can inspect it.
func (s *Store) SaveAgents(ctx context.Context, infos []agent.Info) error {
	for _, a := range infos {
		tools, err := json.Marshal(a.Tools)
		if err != nil {
			return fmt.Errorf("marshal tools: %w", err)
		}
		_, err = s.db.Exec(ctx, `
			INSERT INTO agents (role, agent_id, personality, authority, tools, max_steps, temperature, coordinator, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
			ON CONFLICT (role) DO UPDATE SET
				agent_id = EXCLUDED.agent_id,
				personality = EXCLUDED.personality,
				authority = EXCLUDED.authority,
				tools = EXCLUDED.tools,
				max_steps = EXCLUDED.max_steps,
				temperature = EXCLUDED.temperature,
				coordinator = EXCLUDED.coordinator,
				updated_at = EXCLUDED.updated_at`,
			a.Role, a.AgentID, a.Personality, a.Authority, tools,
			a.MaxSteps, a.Temperature, a.Coordinator,
		)
		if err != nil {
			return fmt.Errorf("save agent %s: %w", a.Role, err)
		}
	}
	return nil
}

// ListAgents returns the last saved roster ordered by role.
func (s *Store) ListAgents(ctx context.Context) ([]agent.Info, error) {
	rows, err := s.db.Query(ctx, `
		SELECT role, agent_id, personality, authority, tools, max_steps, temperature, coordinator
		FROM agents ORDER BY role`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var out []agent.Info
	for rows.Next() {
		var a agent.Info
		var tools []byte
		if err := rows.Scan(&a.Role, &a.AgentID, &a.Personality, &a.Authority, &tools,
			&a.MaxSteps, &a.Temperature, &a.Coordinator); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		if len(tools) > 0 {
			if err := json.Unmarshal(tools, &a.Tools); err != nil {
				return nil, fmt.Errorf("decode tools for %s: %w", a.Role, err)
			}
		}
		a.Status = "saved"
		out = append(out, a)
	}
	return out, rows.Err()
}
