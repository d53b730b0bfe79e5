package gateway

import (
	"context"
	"time"

	"github.com/nidhogg/aibrain/internal/command"
	"github.com/nidhogg/aibrain/internal/session"
	"github.com/nidhogg/aibrain/internal/workflow"
	"go.uber.org/zap"
)

// Processor runs one request through the agent workflow.
type Processor interface {
	Process(ctx context.Context, req workflow.Request) *workflow.Result
}

// Sender delivers replies to a platform channel.
type Sender interface {
	Send(ctx context.Context, msg *OutboundMessage) error
}

// Limiter decides whether key may make another request now.
type Limiter interface {
	Allow(ctx context.Context, key string) bool
}

const (
	bridgeTimeout   = 2 * time.Minute
	rateLimitedText = "You're sending messages too fast. Please wait a moment and try again."
)

// Bridge turns inbound platform messages into workflow requests and posts
// the results back to the originating channel.
type Bridge struct {
	wf       Processor
	commands *command.Registry
	sessions session.Registry
	limiter  Limiter
	sender   Sender
	timeout  time.Duration
	logger   *zap.Logger
}

// NewBridge creates a bridge. commands, sessions and limiter may be nil.
func NewBridge(wf Processor, commands *command.Registry, sessions session.Registry, limiter Limiter, sender Sender, logger *zap.Logger) *Bridge {
	return &Bridge{
		wf:       wf,
		commands: commands,
		sessions: sessions,
		limiter:  limiter,
		sender:   sender,
		timeout:  bridgeTimeout,
		logger:   logger,
	}
}

// Handle is a MessageHandler. Work runs on its own goroutine so adapters
// are never blocked by a slow model.
func (b *Bridge) Handle(msg *InboundMessage) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		defer cancel()
		b.handle(ctx, msg)
	}()
}

func (b *Bridge) handle(ctx context.Context, msg *InboundMessage) {
	reply := &OutboundMessage{
		Platform:  msg.Platform,
		ChannelID: msg.ChannelID,
		ReplyTo:   msg.ReplyTo,
	}

	sessionID := session.ID(msg.Platform, msg.ChannelID)
	if b.commands != nil && command.IsCommand(msg.Content) {
		res, err := b.commands.Dispatch(ctx, msg.Content, &command.CommandContext{
			Platform:  msg.Platform,
			ChannelID: msg.ChannelID,
			UserID:    msg.UserID,
			UserName:  msg.UserName,
			SessionID: sessionID,
		})
		if err != nil {
			b.logger.Warn("command failed", zap.String("platform", msg.Platform), zap.Error(err))
			reply.Content = "Command failed: " + err.Error()
		} else {
			reply.Content = res.Content
		}
		b.send(ctx, reply)
		return
	}

	if b.limiter != nil && !b.limiter.Allow(ctx, msg.Platform+":"+msg.UserID) {
		b.logger.Info("rate limited",
			zap.String("platform", msg.Platform), zap.String("user", msg.UserID))
		reply.Content = rateLimitedText
		b.send(ctx, reply)
		return
	}

	if b.sessions != nil {
		s, err := b.sessions.Resolve(ctx, msg.Platform, msg.ChannelID)
		if err != nil {
			b.logger.Warn("resolve session", zap.Error(err))
		} else {
			sessionID = s.ID
		}
	}

	res := b.wf.Process(ctx, workflow.Request{
		Message:   msg.Content,
		UserID:    msg.UserID,
		Interface: msg.Platform,
		SessionID: sessionID,
		Context: map[string]any{
			"user_name":  msg.UserName,
			"platform":   msg.Platform,
			"channel_id": msg.ChannelID,
		},
	})
	reply.Agent = res.Agent
	reply.Content = res.Response
	b.send(ctx, reply)
}

func (b *Bridge) send(ctx context.Context, msg *OutboundMessage) {
	if msg.Content == "" {
		return
	}
	if err := b.sender.Send(ctx, msg); err != nil {
		b.logger.Error("send reply failed",
			zap.String("platform", msg.Platform),
			zap.String("channel", msg.ChannelID),
			zap.Error(err))
	}
}
