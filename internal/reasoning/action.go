// Package reasoning implements the bounded think/act/observe loop agents use
// for requests that need more than a direct answer.
package reasoning

import "strings"

// ActionKind is one entry of the closed action set a model may choose from.
type ActionKind string

const (
	ActionThink       ActionKind = "think"
	ActionSearch      ActionKind = "search"
	ActionCalculate   ActionKind = "calculate"
	ActionCommunicate ActionKind = "communicate"
	ActionDelegate    ActionKind = "delegate"
	ActionUseTool     ActionKind = "use_tool"
	ActionConclude    ActionKind = "conclude"
)

// AllActions lists the closed set in prompt order.
var AllActions = []ActionKind{
	ActionThink,
	ActionSearch,
	ActionCalculate,
	ActionCommunicate,
	ActionDelegate,
	ActionUseTool,
	ActionConclude,
}

// Label is the upper-case token models are asked to emit.
func (k ActionKind) Label() string { return strings.ToUpper(string(k)) }

// Terminal reports whether the action ends a run.
func (k ActionKind) Terminal() bool { return k == ActionConclude }

// ParseActionKind matches a token case-insensitively against the closed set.
func ParseActionKind(token string) (ActionKind, bool) {
	want := ActionKind(strings.ToLower(strings.TrimSpace(token)))
	for _, k := range AllActions {
		if k == want {
			return k, true
		}
	}
	return ActionThink, false
}
