package agent

import (
	"context"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/nidhogg/aibrain/internal/mcp"
	"github.com/nidhogg/aibrain/internal/memory"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Directory lists the agents a process runs. The router implements it.
type Directory interface {
	Infos() []Info
}

// ToolSource is an external server whose tools are bridged into the
// registry.
type ToolSource interface {
	Name() string
	ListTools() []mcp.ToolInfo
	CallTool(ctx context.Context, name string, args map[string]interface{}) (string, error)
}

func emptySchema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

// RegisterBuiltinTools adds the default tools to a registry. dir and mem
// may be nil; the tools that need them then report what is missing.
func RegisterBuiltinTools(reg *ToolRegistry, dir Directory, mem *memory.Client) {
	reg.Register(Tool{
		Name:        "get_current_time",
		Description: "Get the current local and UTC time",
		Parameters:  emptySchema(),
		Source:      "builtin",
	}, func(ctx context.Context, args map[string]any) (string, error) {
		now := time.Now()
		return fmt.Sprintf(`{"local_time":%q,"utc_time":%q}`,
			now.Format(time.RFC3339), now.UTC().Format(time.RFC3339)), nil
	})

	reg.Register(Tool{
		Name:        "list_agents",
		Description: "List the agents available for delegation",
		Parameters:  emptySchema(),
		Source:      "builtin",
	}, func(ctx context.Context, args map[string]any) (string, error) {
		if dir == nil {
			return "[]", nil
		}
		type brief struct {
			Role      string   `json:"role"`
			Authority string   `json:"authority"`
			Tools     []string `json:"tools"`
		}
		infos := dir.Infos()
		list := make([]brief, len(infos))
		for i, in := range infos {
			list[i] = brief{Role: in.Role, Authority: in.Authority, Tools: in.Tools}
		}
		b, err := json.Marshal(list)
		if err != nil {
			return "", err
		}
		return string(b), nil
	})

	reg.Register(Tool{
		Name:        "memory_stats",
		Description: "Report how many entities, relations and observations the memory graph holds",
		Parameters:  emptySchema(),
		Source:      "builtin",
	}, func(ctx context.Context, args map[string]any) (string, error) {
		stats, err := mem.Stats(ctx)
		if err != nil {
			return "", fmt.Errorf("memory stats: %w", err)
		}
		b, err := json.Marshal(stats)
		if err != nil {
			return "", err
		}
		return string(b), nil
	})

	reg.Register(Tool{
		Name:        "memory_timeline",
		Description: "Show when observations were added to a memory entity",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"entity": map[string]string{"type": "string", "description": "Entity name"},
			},
			"required": []string{"entity"},
		},
		Source: "builtin",
	}, func(ctx context.Context, args map[string]any) (string, error) {
		name, _ := args["entity"].(string)
		if name == "" {
			return "", fmt.Errorf("memory_timeline: entity is required")
		}
		tl, err := mem.Timeline(ctx, name)
		if err != nil {
			return "", fmt.Errorf("memory timeline: %w", err)
		}
		b, err := json.Marshal(tl)
		if err != nil {
			return "", err
		}
		return string(b), nil
	})
}

// RegisterMCPTools bridges external server tools into the registry.
func RegisterMCPTools(reg *ToolRegistry, sources []ToolSource) {
	for _, src := range sources {
		for _, tool := range src.ListTools() {
			src, t := src, tool
			reg.Register(Tool{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
				Source:      src.Name(),
			}, func(ctx context.Context, args map[string]any) (string, error) {
				return src.CallTool(ctx, t.Name, args)
			})
		}
	}
}
