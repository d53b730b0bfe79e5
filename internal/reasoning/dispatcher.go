package reasoning

import (
	"context"
	"fmt"
)

// Actions is the handler surface an agent exposes to its engine. Handlers
// return an observation string; an error is reported back to the model as
// an observation too, never as a control-flow signal.
type Actions interface {
	Search(ctx context.Context, params map[string]any) (string, error)
	Calculate(ctx context.Context, params map[string]any) (string, error)
	Communicate(ctx context.Context, params map[string]any) (string, error)
	Delegate(ctx context.Context, params map[string]any) (string, error)
	UseTool(ctx context.Context, params map[string]any) (string, error)
}

// Handler executes one action kind.
type Handler func(ctx context.Context, params map[string]any) (string, error)

// Dispatcher is the closed action table for one agent. THINK and CONCLUDE
// are handled by the engine and have no entry.
type Dispatcher struct {
	handlers map[ActionKind]Handler
}

// NewDispatcher builds the table from an Actions implementation.
func NewDispatcher(a Actions) *Dispatcher {
	return &Dispatcher{handlers: map[ActionKind]Handler{
		ActionSearch:      a.Search,
		ActionCalculate:   a.Calculate,
		ActionCommunicate: a.Communicate,
		ActionDelegate:    a.Delegate,
		ActionUseTool:     a.UseTool,
	}}
}

// Dispatch runs the handler for kind. A panicking handler is reported as an
// error.
func (d *Dispatcher) Dispatch(ctx context.Context, kind ActionKind, params map[string]any) (out string, err error) {
	h, ok := d.handlers[kind]
	if !ok {
		return "", fmt.Errorf("no handler for action %s", kind.Label())
	}
	defer func() {
		if r := recover(); r != nil {
			out, err = "", fmt.Errorf("action %s panicked: %v", kind.Label(), r)
		}
	}()
	return h(ctx, params)
}
