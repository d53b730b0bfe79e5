package command

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/nidhogg/aibrain/internal/memory"
)

// MemoryStore is the part of the memory client the commands use.
type MemoryStore interface {
	Remember(ctx context.Context, agentID, content, entityType string) (string, error)
	Search(ctx context.Context, query string, limit int, entityType string) ([]memory.Record, error)
	Stats(ctx context.Context) (map[string]any, error)
}

const recallLimit = 5

// RegisterMemoryCommands registers /remember, /recall and /memory.
func RegisterMemoryCommands(reg *Registry, m MemoryStore) {
	reg.Register(rememberCommand(m))
	reg.Register(recallCommand(m))
	reg.Register(memoryStatsCommand(m))
}

func rememberCommand(m MemoryStore) *Command {
	return &Command{
		Name:        "remember",
		Description: "Store a note in long-term memory",
		Usage:       "/remember <content>",
		Handler: func(ctx context.Context, args string, cc *CommandContext) (*CommandResult, error) {
			if args == "" {
				return &CommandResult{Content: "Usage: /remember <content>"}, nil
			}
			owner := cc.UserID
			if owner == "" {
				owner = "user"
			}
			name, err := m.Remember(ctx, owner, args, "note")
			if err != nil {
				return &CommandResult{Content: fmt.Sprintf("Failed: %v", err)}, nil
			}
			return &CommandResult{Content: fmt.Sprintf("Remembered as %q.", name)}, nil
		},
	}
}

func recallCommand(m MemoryStore) *Command {
	return &Command{
		Name:        "recall",
		Description: "Search long-term memory",
		Usage:       "/recall <query>",
		Handler: func(ctx context.Context, args string, _ *CommandContext) (*CommandResult, error) {
			if args == "" {
				return &CommandResult{Content: "Usage: /recall <query>"}, nil
			}
			records, err := m.Search(ctx, args, recallLimit, "")
			if err != nil {
				return &CommandResult{Content: fmt.Sprintf("Failed: %v", err)}, nil
			}
			if len(records) == 0 {
				return &CommandResult{Content: "No memories found."}, nil
			}
			var b strings.Builder
			fmt.Fprintf(&b, "Found %d memories:\n", len(records))
			for _, r := range records {
				fmt.Fprintf(&b, "  - %s: %s\n", r.EntityName, r.Text())
			}
			return &CommandResult{Content: b.String(), Data: records}, nil
		},
	}
}

func memoryStatsCommand(m MemoryStore) *Command {
	return &Command{
		Name:        "memory",
		Description: "Show memory graph statistics",
		Usage:       "/memory",
		Handler: func(ctx context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			stats, err := m.Stats(ctx)
			if err != nil {
				return &CommandResult{Content: fmt.Sprintf("Memory unavailable: %v", err)}, nil
			}
			keys := make([]string, 0, len(stats))
			for k := range stats {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			var b strings.Builder
			b.WriteString("Memory statistics:\n")
			for _, k := range keys {
				fmt.Fprintf(&b, "  %s: %v\n", k, stats[k])
			}
			return &CommandResult{Content: b.String(), Data: stats}, nil
		},
	}
}
