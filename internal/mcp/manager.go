package mcp

import (
	"context"
	"time"

	"github.com/nidhogg/aibrain/internal/config"
	"go.uber.org/zap"
)

const connectTimeout = 10 * time.Second

// ConnectAll connects to every configured SSE server. Servers that fail
// are logged and skipped.
func ConnectAll(ctx context.Context, cfg config.MCPConfig, logger *zap.Logger) []*Client {
	var clients []*Client
	for _, s := range cfg.Servers {
		if s.Type != "" && s.Type != "sse" {
			logger.Warn("unsupported MCP transport", zap.String("name", s.Name), zap.String("type", s.Type))
			continue
		}
		c := NewClient(s.Name, s.URL, logger)
		cctx, cancel := context.WithTimeout(ctx, connectTimeout)
		err := c.Connect(cctx)
		cancel()
		if err != nil {
			logger.Warn("MCP server unavailable", zap.String("name", s.Name), zap.Error(err))
			continue
		}
		clients = append(clients, c)
	}
	return clients
}
