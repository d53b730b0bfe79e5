// Package workflow runs one inbound request through routing and agent
// processing and shapes the result every surface returns.
package workflow

import (
	"strings"
	"time"
)

// Interface is the surface a request arrived on.
type Interface string

const (
	InterfaceVoice     Interface = "voice"
	InterfaceChat      Interface = "chat"
	InterfaceMessaging Interface = "messaging"
	InterfaceAPI       Interface = "api"
)

var interfaceAliases = map[string]Interface{
	"voice":     InterfaceVoice,
	"chat":      InterfaceChat,
	"web":       InterfaceChat,
	"websocket": InterfaceChat,
	"messaging": InterfaceMessaging,
	"whatsapp":  InterfaceMessaging,
	"telegram":  InterfaceMessaging,
	"slack":     InterfaceMessaging,
	"discord":   InterfaceMessaging,
	"api":       InterfaceAPI,
	"rest":      InterfaceAPI,
}

// NormalizeInterface maps channel names onto the four interfaces. Unknown
// values become api.
func NormalizeInterface(s string) Interface {
	if i, ok := interfaceAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return i
	}
	return InterfaceAPI
}

// Message is one entry of the conversation trace.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Action records something an agent did while serving the request.
type Action struct {
	Tool      string    `json:"tool"`
	Action    string    `json:"action"`
	Result    string    `json:"result"`
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp"`
}

// State is the per-request conversation state. It is created at request
// entry and never shared between requests.
type State struct {
	UserID         string
	SessionID      string
	Interface      Interface
	Messages       []Message
	CurrentMessage string
	SelectedAgent  string
	Response       string
	Actions        []Action
	Errors         []string
	Context        map[string]any
	StartedAt      time.Time

	now func() time.Time
}

// NewState starts a conversation with message as the first user entry.
func NewState(userID, sessionID string, iface Interface, message string, rctx map[string]any) *State {
	s := &State{
		UserID:         userID,
		SessionID:      sessionID,
		Interface:      iface,
		CurrentMessage: message,
		Context:        make(map[string]any, len(rctx)+4),
		now:            time.Now,
	}
	for k, v := range rctx {
		s.Context[k] = v
	}
	s.StartedAt = s.now()
	s.AddMessage("user", message)
	return s
}

func (s *State) AddMessage(role, content string) {
	s.Messages = append(s.Messages, Message{Role: role, Content: content, Timestamp: s.now()})
}

func (s *State) AddAction(tool, action, result string, success bool) {
	s.Actions = append(s.Actions, Action{
		Tool: tool, Action: action, Result: result, Success: success, Timestamp: s.now(),
	})
}

func (s *State) AddError(msg string) {
	s.Errors = append(s.Errors, msg)
}

func (s *State) SetContext(key string, value any) {
	s.Context[key] = value
}

// Summary is a compact description of a finished conversation.
type Summary struct {
	UserID        string        `json:"user_id"`
	SessionID     string        `json:"session_id"`
	Interface     Interface     `json:"interface"`
	SelectedAgent string        `json:"selected_agent,omitempty"`
	Messages      int           `json:"message_count"`
	Actions       int           `json:"actions_count"`
	Errors        int           `json:"errors_count"`
	Duration      time.Duration `json:"duration"`
}

func (s *State) Summary() Summary {
	return Summary{
		UserID:        s.UserID,
		SessionID:     s.SessionID,
		Interface:     s.Interface,
		SelectedAgent: s.SelectedAgent,
		Messages:      len(s.Messages),
		Actions:       len(s.Actions),
		Errors:        len(s.Errors),
		Duration:      s.now().Sub(s.StartedAt),
	}
}
