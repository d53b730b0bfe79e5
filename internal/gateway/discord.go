package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const discordMessageLimit = 2000

// DiscordAdapter implements Adapter for Discord using the bot gateway.
type DiscordAdapter struct {
	token    string
	session  *discordgo.Session
	handler  MessageHandler
	personas map[string]*AgentPersona // agent role -> persona
	state    connState
	mu       sync.RWMutex
	logger   *zap.Logger
}

// NewDiscordAdapter creates a Discord gateway adapter.
func NewDiscordAdapter(token string, logger *zap.Logger) *DiscordAdapter {
	return &DiscordAdapter{
		token:    token,
		personas: make(map[string]*AgentPersona),
		logger:   logger,
	}
}

func (a *DiscordAdapter) Platform() string { return "discord" }

func (a *DiscordAdapter) OnMessage(h MessageHandler) { a.handler = h }

// SetPersona registers how an agent role is labelled in Discord.
func (a *DiscordAdapter) SetPersona(role string, persona *AgentPersona) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.personas[role] = persona
}

// Connect opens the Discord gateway websocket.
func (a *DiscordAdapter) Connect(_ context.Context) error {
	session, err := discordgo.New("Bot " + a.token)
	if err != nil {
		a.fail(fmt.Sprintf("session create: %v", err))
		return fmt.Errorf("discord session: %w", err)
	}
	a.session = session

	a.session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent
	a.session.AddHandler(a.onMessageCreate)

	if err := a.session.Open(); err != nil {
		a.fail(fmt.Sprintf("open failed: %v", err))
		return fmt.Errorf("discord open: %w", err)
	}

	a.mu.Lock()
	a.state = connState{connected: true, connectedAt: time.Now()}
	a.mu.Unlock()

	guildCount := len(a.session.State.Guilds)
	if guildCount == 0 {
		a.logger.Warn("discord bot not added to any server; invite it first")
	}
	a.logger.Info("discord adapter connected",
		zap.String("user", a.session.State.User.Username),
		zap.Int("guilds", guildCount))
	return nil
}

func (a *DiscordAdapter) fail(msg string) {
	a.mu.Lock()
	a.state.connected = false
	a.state.lastError = msg
	a.mu.Unlock()
}

// onMessageCreate handles incoming Discord messages.
func (a *DiscordAdapter) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	// Ignore messages from the bot itself and other bots
	if m.Author == nil || m.Author.Bot || (s.State.User != nil && m.Author.ID == s.State.User.ID) {
		return
	}
	if a.handler == nil {
		return
	}

	content := m.Content
	if s.State.User != nil {
		content = strings.TrimSpace(strings.ReplaceAll(content, "<@"+s.State.User.ID+">", ""))
	}
	a.handler(&InboundMessage{
		Platform:  "discord",
		ChannelID: m.ChannelID,
		UserID:    m.Author.ID,
		UserName:  m.Author.Username,
		Content:   content,
		Timestamp: m.Timestamp,
		ReplyTo:   m.ID,
	})
}

// Send posts a message to a Discord channel, prefixed with the agent's
// persona name when one is set, split at Discord's message limit.
func (a *DiscordAdapter) Send(_ context.Context, msg *OutboundMessage) error {
	if a.session == nil {
		return fmt.Errorf("discord send: not connected")
	}
	a.mu.RLock()
	persona, hasPersona := a.personas[msg.Agent]
	a.mu.RUnlock()

	content := msg.Content
	if hasPersona {
		content = fmt.Sprintf("**[%s]** %s", persona.Name, msg.Content)
	}
	for i, chunk := range splitMessage(content, discordMessageLimit) {
		var err error
		if i == 0 && msg.ReplyTo != "" {
			_, err = a.session.ChannelMessageSendReply(msg.ChannelID, chunk, &discordgo.MessageReference{
				MessageID: msg.ReplyTo,
				ChannelID: msg.ChannelID,
			})
		} else {
			_, err = a.session.ChannelMessageSend(msg.ChannelID, chunk)
		}
		if err != nil {
			return fmt.Errorf("discord send: %w", err)
		}
	}
	return nil
}

// Close shuts down the Discord session.
func (a *DiscordAdapter) Close() error {
	a.mu.Lock()
	a.state.connected = false
	a.mu.Unlock()
	if a.session != nil {
		return a.session.Close()
	}
	return nil
}

func (a *DiscordAdapter) Status() AdapterStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	details := ""
	if a.session != nil && a.session.State != nil && a.session.State.User != nil {
		details = fmt.Sprintf("bot=%s, guilds=%d", a.session.State.User.Username, len(a.session.State.Guilds))
	}
	return a.state.status("discord", details)
}
