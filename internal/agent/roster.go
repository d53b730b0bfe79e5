package agent

import (
	"fmt"

	"github.com/nidhogg/aibrain/internal/config"
	"github.com/nidhogg/aibrain/internal/reasoning"
	"go.uber.org/zap"
)

// Personas returns the built-in personas in registration order. The first
// is the default coordinator.
func Personas() []Persona {
	return []Persona{Assistant{}, Analyst{}, DevLead{}, Operations{}}
}

// PersonaFor looks up a built-in persona by role.
func PersonaFor(role string) (Persona, bool) {
	for _, p := range Personas() {
		if p.Profile().Role == role {
			return p, true
		}
	}
	return nil, false
}

// CompleterFunc builds the completion port for one agent, so each can carry
// its own provider binding, model and temperature.
type CompleterFunc func(p Profile, ac config.AgentConfig) reasoning.CompletionPort

// BuildRoster creates every enabled built-in agent, applying per-role
// overrides from cfg. Agents come back in registration order.
func BuildRoster(cfg config.AgentsConfig, base Deps, completer CompleterFunc, logger *zap.Logger) ([]*Agent, error) {
	overrides := make(map[string]config.AgentConfig, len(cfg.Roster))
	for _, ac := range cfg.Roster {
		if _, ok := PersonaFor(ac.Role); !ok {
			return nil, fmt.Errorf("agents.roster: unknown role %q", ac.Role)
		}
		overrides[ac.Role] = ac
	}

	var agents []*Agent
	for _, p := range Personas() {
		prof := p.Profile()
		ac := overrides[prof.Role]
		if !ac.IsEnabled() {
			logger.Info("agent disabled", zap.String("role", prof.Role))
			continue
		}
		deps := base
		deps.ProfileDir = cfg.ProfileDir
		deps.MaxSteps = ac.MaxSteps
		deps.Temperature = ac.Temperature
		if ac.Temperature != nil {
			prof.Temperature = *ac.Temperature
		}
		if completer != nil {
			deps.Completer = completer(prof, ac)
		}
		agents = append(agents, New(p, deps, logger))
	}
	if len(agents) == 0 {
		return nil, fmt.Errorf("agents.roster: every agent is disabled")
	}
	return agents, nil
}
