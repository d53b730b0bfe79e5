package command

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/nidhogg/aibrain/internal/agent"
	"github.com/nidhogg/aibrain/internal/session"
	"github.com/nidhogg/aibrain/internal/workflow"
)

// AgentLister lists registered agents.
type AgentLister interface {
	Infos() []agent.Info
}

// ToolLister lists tools agents can call.
type ToolLister interface {
	Definitions() []agent.Tool
}

// StatusProvider provides adapter connection status.
type StatusProvider interface {
	StatusAll() []AdapterStatus
}

// AdapterStatus describes the connection state of a platform adapter.
type AdapterStatus struct {
	Name      string `json:"name"`
	Platform  string `json:"platform"`
	Connected bool   `json:"connected"`
}

// WorkflowStatus reports the request pipeline.
type WorkflowStatus interface {
	Status(ctx context.Context) workflow.Status
}

// Builtins are the dependencies of the built-in commands. Commands whose
// dependency is nil are not registered.
type Builtins struct {
	Agents   AgentLister
	Tools    ToolLister
	Adapters StatusProvider
	Workflow WorkflowStatus
	Sessions session.Registry
}

// RegisterBuiltins registers /help and the commands Builtins can serve:
// /agents, /tools, /status and /clear.
func RegisterBuiltins(reg *Registry, b Builtins) {
	reg.Register(helpCommand(reg))
	if b.Agents != nil {
		reg.Register(agentsCommand(b.Agents))
	}
	if b.Tools != nil {
		reg.Register(toolsCommand(b.Tools))
	}
	if b.Workflow != nil || b.Adapters != nil {
		reg.Register(statusCommand(b.Workflow, b.Adapters))
	}
	if b.Sessions != nil {
		reg.Register(clearCommand(b.Sessions))
	}
}

func helpCommand(reg *Registry) *Command {
	return &Command{
		Name:        "help",
		Description: "List all available commands",
		Usage:       "/help",
		Handler: func(_ context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			cmds := reg.List()
			var b strings.Builder
			b.WriteString("Available commands:\n")
			for _, c := range cmds {
				fmt.Fprintf(&b, "  /%s: %s\n", c.Name, c.Description)
				if c.Usage != "" {
					fmt.Fprintf(&b, "    Usage: %s\n", c.Usage)
				}
			}
			return &CommandResult{Content: b.String()}, nil
		},
	}
}

func agentsCommand(lister AgentLister) *Command {
	return &Command{
		Name:        "agents",
		Description: "List the agents requests can be routed to",
		Usage:       "/agents",
		Handler: func(_ context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			agents := lister.Infos()
			if len(agents) == 0 {
				return &CommandResult{Content: "No agents registered."}, nil
			}
			var b strings.Builder
			b.WriteString("Registered agents:\n")
			for _, a := range agents {
				fmt.Fprintf(&b, "  [%s] %s, authority: %s, status: %s\n",
					a.AgentID, a.Role, a.Authority, a.Status)
			}
			return &CommandResult{Content: b.String(), Data: agents}, nil
		},
	}
}

func toolsCommand(lister ToolLister) *Command {
	return &Command{
		Name:        "tools",
		Description: "List tools agents can use",
		Usage:       "/tools",
		Handler: func(_ context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			tools := lister.Definitions()
			if len(tools) == 0 {
				return &CommandResult{Content: "No tools available."}, nil
			}
			// Group tools by source.
			sources := make(map[string][]string)
			for _, t := range tools {
				sources[t.Source] = append(sources[t.Source], t.Name)
			}
			order := make([]string, 0, len(sources))
			for s := range sources {
				order = append(order, s)
			}
			sort.Strings(order)

			var b strings.Builder
			b.WriteString("Tools:\n")
			for _, src := range order {
				names := sources[src]
				fmt.Fprintf(&b, "  %s (%d tools)\n", src, len(names))
				for _, n := range names {
					fmt.Fprintf(&b, "    - %s\n", n)
				}
			}
			return &CommandResult{Content: b.String()}, nil
		},
	}
}

func statusCommand(wf WorkflowStatus, adapters StatusProvider) *Command {
	return &Command{
		Name:        "status",
		Description: "Show agent and adapter status",
		Usage:       "/status",
		Handler: func(ctx context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			var b strings.Builder
			var data any
			if wf != nil {
				st := wf.Status(ctx)
				data = st
				fmt.Fprintf(&b, "Brain: %s\n", st.BrainStatus)
				fmt.Fprintf(&b, "Agents: %d (primary: %s, routing: %s)\n",
					st.AgentSystem.TotalAgents, st.AgentSystem.PrimaryAgent, st.AgentSystem.RoutingPolicy)
				fmt.Fprintf(&b, "Memory: %s\n", st.Memory)
				fmt.Fprintf(&b, "Workflows: %d active of %d, %d processed\n", st.Active, st.MaxConcurrent, st.Processed)
			}
			if adapters != nil {
				list := adapters.StatusAll()
				if len(list) == 0 {
					b.WriteString("No adapters configured.\n")
				} else {
					b.WriteString("Adapter status:\n")
					for _, a := range list {
						state := "disconnected"
						if a.Connected {
							state = "connected"
						}
						fmt.Fprintf(&b, "  %s (%s): %s\n", a.Name, a.Platform, state)
					}
				}
			}
			return &CommandResult{Content: b.String(), Data: data}, nil
		},
	}
}

func clearCommand(sessions session.Registry) *Command {
	return &Command{
		Name:        "clear",
		Description: "Start a fresh conversation in this channel",
		Usage:       "/clear",
		Handler: func(ctx context.Context, _ string, cc *CommandContext) (*CommandResult, error) {
			if cc.Platform == "" || cc.ChannelID == "" {
				return &CommandResult{Content: "Nothing to clear here."}, nil
			}
			existed, err := sessions.Clear(ctx, cc.Platform, cc.ChannelID)
			if err != nil {
				return nil, fmt.Errorf("clear session: %w", err)
			}
			if !existed {
				return &CommandResult{Content: "No active conversation to clear."}, nil
			}
			return &CommandResult{Content: "Conversation cleared. Starting fresh."}, nil
		},
	}
}
