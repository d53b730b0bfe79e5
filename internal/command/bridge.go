package command

import (
	"context"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/nidhogg/aibrain/internal/agent"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// BridgeCommands registers the named commands (all when names is empty) as
// cmd_<name> tools so reasoning runs can call them through USE_TOOL. Each
// tool takes a single "args" string.
func BridgeCommands(reg *Registry, tools *agent.ToolRegistry, cc *CommandContext, names ...string) int {
	cmds := reg.List()
	if len(names) > 0 {
		cmds = cmds[:0:0]
		for _, n := range names {
			if c, ok := reg.Get(n); ok {
				cmds = append(cmds, c)
			}
		}
	}

	for _, c := range cmds {
		c := c
		tools.Register(agent.Tool{
			Name:        "cmd_" + c.Name,
			Description: fmt.Sprintf("Slash command /%s: %s. Usage: %s", c.Name, c.Description, c.Usage),
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"args": map[string]any{
						"type":        "string",
						"description": "Command arguments (everything after the command name)",
					},
				},
			},
			Source: "command",
		}, func(ctx context.Context, args map[string]any) (string, error) {
			raw, _ := args["args"].(string)
			result, err := c.Handler(ctx, raw, cc)
			if err != nil {
				return "", err
			}
			if result.Data == nil {
				return result.Content, nil
			}
			b, err := json.Marshal(result)
			if err != nil {
				return result.Content, nil
			}
			return string(b), nil
		})
	}
	return len(cmds)
}
