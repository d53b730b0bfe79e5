//go:build e2e

package e2e

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	tcneo4j "github.com/testcontainers/testcontainers-go/modules/neo4j"
	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"

	"github.com/nidhogg/aibrain/internal/gateway"
	"github.com/nidhogg/aibrain/internal/provider"
	pgstore "github.com/nidhogg/aibrain/internal/store"
)

// Package-level shared state, set by TestMain.
var (
	testLogger   *zap.Logger
	testNeo4jURI string
	testPGStore  *pgstore.Store
	testRedisURL string
)

// startNeo4j starts a Neo4j testcontainer, returns URI + cleanup func.
func startNeo4j(ctx context.Context) (string, func(), error) {
	container, err := tcneo4j.Run(ctx, "neo4j:5-community",
		tcneo4j.WithoutAuthentication(),
	)
	if err != nil {
		return "", nil, fmt.Errorf("start neo4j: %w", err)
	}
	uri, err := container.BoltUrl(ctx)
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("neo4j bolt url: %w", err)
	}
	cleanup := func() { container.Terminate(ctx) }
	return uri, cleanup, nil
}

// startPostgres starts a PostgreSQL testcontainer, returns DSN + cleanup func.
func startPostgres(ctx context.Context) (string, func(), error) {
	container, err := tcpg.Run(ctx, "postgres:16-alpine",
		tcpg.WithDatabase("brain_test"),
		tcpg.WithUsername("test"),
		tcpg.WithPassword("test"),
		tcpg.BasicWaitStrategies(),
	)
	if err != nil {
		return "", nil, fmt.Errorf("start postgres: %w", err)
	}
	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("pg connection string: %w", err)
	}
	cleanup := func() { container.Terminate(ctx) }
	return dsn, cleanup, nil
}

// startRedis starts a Redis testcontainer, returns URL + cleanup func.
func startRedis(ctx context.Context) (string, func(), error) {
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		return "", nil, fmt.Errorf("start redis: %w", err)
	}
	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("redis endpoint: %w", err)
	}
	url := "redis://" + endpoint
	cleanup := func() { container.Terminate(ctx) }
	return url, cleanup, nil
}

// scriptedCompleter answers every prompt with a canned reply and keeps the
// prompts it saw.
type scriptedCompleter struct {
	reply string

	mu      sync.Mutex
	prompts []string
}

func (s *scriptedCompleter) Complete(_ context.Context, system string, history []provider.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var b strings.Builder
	b.WriteString(system)
	for _, m := range history {
		b.WriteString("\n" + m.Content)
	}
	s.prompts = append(s.prompts, b.String())
	return s.reply, nil
}

// CaptureAdapter is a gateway adapter that records outbound messages and
// lets tests inject inbound ones.
type CaptureAdapter struct {
	platform string
	handler  gateway.MessageHandler

	mu   sync.Mutex
	sent []*gateway.OutboundMessage
}

func NewCaptureAdapter(platform string) *CaptureAdapter {
	return &CaptureAdapter{platform: platform}
}

func (c *CaptureAdapter) Platform() string                   { return c.platform }
func (c *CaptureAdapter) Connect(context.Context) error      { return nil }
func (c *CaptureAdapter) OnMessage(h gateway.MessageHandler) { c.handler = h }
func (c *CaptureAdapter) Close() error                       { return nil }

func (c *CaptureAdapter) Status() gateway.AdapterStatus {
	return gateway.AdapterStatus{Platform: c.platform, Connected: true}
}

func (c *CaptureAdapter) Send(_ context.Context, msg *gateway.OutboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

// Inject delivers msg as if the platform had received it.
func (c *CaptureAdapter) Inject(msg *gateway.InboundMessage) {
	msg.Platform = c.platform
	c.handler(msg)
}

// WaitSent blocks until n messages were sent or timeout passes.
func (c *CaptureAdapter) WaitSent(n int, timeout time.Duration) []*gateway.OutboundMessage {
	deadline := time.Now().Add(timeout)
	for {
		c.mu.Lock()
		out := append([]*gateway.OutboundMessage(nil), c.sent...)
		c.mu.Unlock()
		if len(out) >= n || time.Now().After(deadline) {
			return out
		}
		time.Sleep(50 * time.Millisecond)
	}
}
