// Package command implements the slash commands every chat surface
// accepts before a message reaches the agents.
package command

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Command represents a slash command.
type Command struct {
	Name        string
	Description string
	Usage       string
	Handler     CommandHandler
}

// CommandHandler is the function signature for command execution.
type CommandHandler func(ctx context.Context, args string, cc *CommandContext) (*CommandResult, error)

// CommandContext identifies who issued a command and where.
type CommandContext struct {
	Platform  string
	ChannelID string
	UserID    string
	UserName  string
	SessionID string
}

// CommandResult holds the output of a command.
type CommandResult struct {
	Content string      `json:"content"`
	Data    interface{} `json:"data,omitempty"`
}

// Registry holds all registered commands.
type Registry struct {
	commands map[string]*Command
	mu       sync.RWMutex
}

// NewRegistry creates an empty command registry.
func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]*Command)}
}

// Register adds a command to the registry.
func (r *Registry) Register(cmd *Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[cmd.Name] = cmd
}

// IsCommand reports whether text is a slash command.
func IsCommand(text string) bool {
	t := strings.TrimSpace(text)
	return len(t) > 1 && t[0] == '/' && t[1] != ' '
}

// Dispatch parses a slash command string and executes the matching handler.
func (r *Registry) Dispatch(ctx context.Context, input string, cc *CommandContext) (*CommandResult, error) {
	// Parse: "/command_name args..."
	input = strings.TrimPrefix(strings.TrimSpace(input), "/")
	parts := strings.SplitN(input, " ", 2)
	name := strings.ToLower(parts[0])
	args := ""
	if len(parts) > 1 {
		args = strings.TrimSpace(parts[1])
	}
	if cc == nil {
		cc = &CommandContext{}
	}

	cmd, ok := r.Get(name)
	if !ok {
		return &CommandResult{
			Content: fmt.Sprintf("Unknown command: /%s. Type /help for available commands.", name),
		}, nil
	}

	return cmd.Handler(ctx, args, cc)
}

// Get returns the command registered under name.
func (r *Registry) Get(name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[name]
	return cmd, ok
}

// List returns all registered commands sorted by name.
func (r *Registry) List() []*Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		result = append(result, cmd)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result
}
