package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"go.uber.org/zap"
)

// SlackAdapter implements Adapter for Slack using Socket Mode.
type SlackAdapter struct {
	client   *slack.Client
	socket   *socketmode.Client
	handler  MessageHandler
	personas map[string]*AgentPersona // agent role -> persona
	botID    string
	state    connState
	mu       sync.RWMutex
	logger   *zap.Logger
}

// NewSlackAdapter creates a Slack gateway adapter.
// botToken is the Bot User OAuth Token (xoxb-...).
// appToken is the App-Level Token (xapp-...) for Socket Mode.
func NewSlackAdapter(botToken, appToken string, logger *zap.Logger) *SlackAdapter {
	client := slack.New(botToken,
		slack.OptionAppLevelToken(appToken),
	)

	socket := socketmode.New(client,
		socketmode.OptionLog(zap.NewStdLog(logger)),
	)

	return &SlackAdapter{
		client:   client,
		socket:   socket,
		personas: make(map[string]*AgentPersona),
		logger:   logger,
	}
}

func (a *SlackAdapter) Platform() string { return "slack" }

func (a *SlackAdapter) OnMessage(h MessageHandler) { a.handler = h }

// SetPersona registers how an agent role is displayed in Slack.
func (a *SlackAdapter) SetPersona(role string, persona *AgentPersona) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.personas[role] = persona
}

// Connect checks the bot token and starts the Socket Mode event loop in the
// background.
func (a *SlackAdapter) Connect(ctx context.Context) error {
	auth, err := a.client.AuthTestContext(ctx)
	if err != nil {
		a.mu.Lock()
		a.state.lastError = fmt.Sprintf("auth failed: %v", err)
		a.mu.Unlock()
		return fmt.Errorf("slack auth: %w", err)
	}

	a.mu.Lock()
	a.botID = auth.UserID
	a.state = connState{connected: true, connectedAt: time.Now()}
	a.mu.Unlock()

	go a.handleEvents(ctx)
	go func() {
		if err := a.socket.RunContext(ctx); err != nil && ctx.Err() == nil {
			a.logger.Warn("slack socket mode stopped", zap.Error(err))
			a.mu.Lock()
			a.state.connected = false
			a.state.lastError = err.Error()
			a.mu.Unlock()
		}
	}()
	a.logger.Info("slack adapter connected via socket mode", zap.String("bot", auth.User))
	return nil
}

// handleEvents processes incoming Socket Mode events.
func (a *SlackAdapter) handleEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-a.socket.Events:
			if !ok {
				return
			}
			a.processEvent(evt)
		}
	}
}

func (a *SlackAdapter) processEvent(evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnectionError:
		a.logger.Warn("slack connection error")
	case socketmode.EventTypeEventsAPI:
		eventsAPI, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		a.socket.Ack(*evt.Request)

		if eventsAPI.Type != slackevents.CallbackEvent {
			return
		}
		switch inner := eventsAPI.InnerEvent.Data.(type) {
		case *slackevents.MessageEvent:
			// Ignore bot messages and edits to avoid loops
			if inner.BotID != "" || inner.SubType != "" {
				return
			}
			a.dispatch(inner.Channel, inner.User, inner.Text, inner.ThreadTimeStamp, inner.TimeStamp)
		case *slackevents.AppMentionEvent:
			a.dispatch(inner.Channel, inner.User, inner.Text, inner.ThreadTimeStamp, inner.TimeStamp)
		}
	}
}

func (a *SlackAdapter) dispatch(channel, user, text, threadTS, ts string) {
	if a.handler == nil {
		return
	}
	if threadTS == "" {
		threadTS = ts
	}
	a.mu.RLock()
	botID := a.botID
	a.mu.RUnlock()
	if botID != "" {
		text = strings.TrimSpace(strings.ReplaceAll(text, "<@"+botID+">", ""))
	}

	a.handler(&InboundMessage{
		Platform:  "slack",
		ChannelID: channel,
		UserID:    user,
		UserName:  user,
		Content:   text,
		Timestamp: time.Now(),
		ReplyTo:   threadTS,
	})
}

// Send posts a message to a Slack channel with agent persona styling.
func (a *SlackAdapter) Send(ctx context.Context, msg *OutboundMessage) error {
	opts := []slack.MsgOption{
		slack.MsgOptionText(msg.Content, false),
	}

	// Thread reply if we have a tracked thread
	if msg.ReplyTo != "" {
		opts = append(opts, slack.MsgOptionTS(msg.ReplyTo))
	}
	opts = append(opts, a.personaOpts(msg.Agent)...)

	_, _, err := a.client.PostMessageContext(ctx, msg.ChannelID, opts...)
	if err != nil {
		a.logger.Error("slack send failed",
			zap.String("channel", msg.ChannelID), zap.Error(err))
		return fmt.Errorf("slack send: %w", err)
	}
	return nil
}

// personaOpts builds Slack message options for agent persona display.
func (a *SlackAdapter) personaOpts(role string) []slack.MsgOption {
	if role == "" {
		return nil
	}
	a.mu.RLock()
	p, ok := a.personas[role]
	a.mu.RUnlock()
	if !ok {
		return nil
	}

	opts := []slack.MsgOption{
		slack.MsgOptionUsername(p.Name),
	}
	if p.IconURL != "" {
		opts = append(opts, slack.MsgOptionIconURL(p.IconURL))
	} else if p.Emoji != "" {
		opts = append(opts, slack.MsgOptionIconEmoji(p.Emoji))
	}
	return opts
}

func (a *SlackAdapter) Status() AdapterStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state.status("slack", "bot="+a.botID)
}

// Close is a no-op; the socket context cancellation handles shutdown.
func (a *SlackAdapter) Close() error {
	a.mu.Lock()
	a.state.connected = false
	a.mu.Unlock()
	return nil
}
