// Package gateway connects chat platforms to the workflow: adapters turn
// platform events into inbound messages and post replies back.
package gateway

import (
	"context"
	"time"
)

// Adapter is one chat platform connection.
type Adapter interface {
	Platform() string
	Connect(ctx context.Context) error
	Send(ctx context.Context, msg *OutboundMessage) error
	OnMessage(handler MessageHandler)
	Status() AdapterStatus
	Close() error
}

// MessageHandler processes inbound messages from any platform.
type MessageHandler func(msg *InboundMessage)

// InboundMessage is a normalized message from any platform.
type InboundMessage struct {
	Platform  string    `json:"platform"`
	ChannelID string    `json:"channel_id"`
	UserID    string    `json:"user_id"`
	UserName  string    `json:"user_name"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	ReplyTo   string    `json:"reply_to,omitempty"`
}

// OutboundMessage is a message sent to a specific platform channel.
type OutboundMessage struct {
	Platform  string `json:"platform"`
	ChannelID string `json:"channel_id"`
	// Agent is the role that produced the reply; adapters may style it.
	Agent   string `json:"agent,omitempty"`
	Content string `json:"content"`
	ReplyTo string `json:"reply_to,omitempty"`
}

// AdapterStatus describes the connection state of an adapter.
type AdapterStatus struct {
	Platform    string     `json:"platform"`
	Connected   bool       `json:"connected"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	Details     string     `json:"details,omitempty"`
}

// AgentPersona defines how an agent appears on a platform.
type AgentPersona struct {
	Name    string `json:"name"`
	IconURL string `json:"icon_url"`
	Emoji   string `json:"emoji"` // fallback if no icon_url, e.g. ":robot_face:"
}

// connState is the connection bookkeeping every adapter shares.
type connState struct {
	connected   bool
	connectedAt time.Time
	lastError   string
}

func (c *connState) status(platform, details string) AdapterStatus {
	s := AdapterStatus{Platform: platform, Connected: c.connected, Error: c.lastError}
	if c.connected {
		t := c.connectedAt
		s.ConnectedAt = &t
		s.Details = details
	}
	return s
}

// splitMessage cuts text into chunks of at most limit runes.
func splitMessage(text string, limit int) []string {
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return []string{text}
	}
	var chunks []string
	for i := 0; i < len(runes); i += limit {
		end := i + limit
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}
