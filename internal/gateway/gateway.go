package gateway

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/nidhogg/aibrain/internal/command"
	"go.uber.org/zap"
)

// Gateway manages all platform adapters and fans their messages into one
// handler.
type Gateway struct {
	adapters map[string]Adapter
	handler  MessageHandler
	mu       sync.RWMutex
	logger   *zap.Logger
}

// NewGateway creates a gateway manager.
func NewGateway(logger *zap.Logger) *Gateway {
	return &Gateway{
		adapters: make(map[string]Adapter),
		logger:   logger,
	}
}

// SetHandler sets the callback for all inbound messages.
func (g *Gateway) SetHandler(h MessageHandler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handler = h
}

// Register adds an adapter and wires its message handler.
func (g *Gateway) Register(adapter Adapter) {
	g.mu.Lock()
	defer g.mu.Unlock()

	platform := adapter.Platform()
	g.adapters[platform] = adapter
	adapter.OnMessage(func(msg *InboundMessage) {
		g.mu.RLock()
		h := g.handler
		g.mu.RUnlock()
		if h != nil {
			h(msg)
		}
	})
	g.logger.Info("registered gateway adapter", zap.String("platform", platform))
}

// ConnectAll starts every registered adapter. An adapter that fails to
// connect is logged and left disconnected; the count of connected
// adapters is returned.
func (g *Gateway) ConnectAll(ctx context.Context) int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	connected := 0
	for platform, adapter := range g.adapters {
		if err := adapter.Connect(ctx); err != nil {
			g.logger.Warn("adapter connect failed",
				zap.String("platform", platform), zap.Error(err))
			continue
		}
		connected++
		g.logger.Info("adapter connected", zap.String("platform", platform))
	}
	return connected
}

// Send sends a message to a specific platform channel.
func (g *Gateway) Send(ctx context.Context, msg *OutboundMessage) error {
	g.mu.RLock()
	adapter, ok := g.adapters[msg.Platform]
	g.mu.RUnlock()

	if !ok {
		return fmt.Errorf("no adapter for platform: %s", msg.Platform)
	}
	return adapter.Send(ctx, msg)
}

// Notify posts text to a channel. It lets agents reach chat platforms.
func (g *Gateway) Notify(ctx context.Context, platform, channelID, text string) error {
	return g.Send(ctx, &OutboundMessage{Platform: platform, ChannelID: channelID, Content: text})
}

// Close shuts down all adapters.
func (g *Gateway) Close() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for platform, adapter := range g.adapters {
		if err := adapter.Close(); err != nil {
			g.logger.Error("adapter close failed",
				zap.String("platform", platform), zap.Error(err))
		}
	}
	return nil
}

// Adapters returns the registered platform names, sorted.
func (g *Gateway) Adapters() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	names := make([]string, 0, len(g.adapters))
	for p := range g.adapters {
		names = append(names, p)
	}
	sort.Strings(names)
	return names
}

// Statuses reports every adapter's connection state, sorted by platform.
func (g *Gateway) Statuses() []AdapterStatus {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]AdapterStatus, 0, len(g.adapters))
	for _, a := range g.adapters {
		out = append(out, a.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Platform < out[j].Platform })
	return out
}

// StatusAll satisfies command.StatusProvider.
func (g *Gateway) StatusAll() []command.AdapterStatus {
	statuses := g.Statuses()
	out := make([]command.AdapterStatus, len(statuses))
	for i, s := range statuses {
		out[i] = command.AdapterStatus{Name: s.Platform, Platform: s.Platform, Connected: s.Connected}
	}
	return out
}
