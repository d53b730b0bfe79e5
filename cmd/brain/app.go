package main

import (
	"context"
	"fmt"
	"time"

	"github.com/felixgeelhaar/fortify/ratelimit"
	"github.com/nidhogg/aibrain/internal/agent"
	"github.com/nidhogg/aibrain/internal/command"
	"github.com/nidhogg/aibrain/internal/config"
	"github.com/nidhogg/aibrain/internal/embedding"
	"github.com/nidhogg/aibrain/internal/gateway"
	"github.com/nidhogg/aibrain/internal/mcp"
	"github.com/nidhogg/aibrain/internal/memory"
	"github.com/nidhogg/aibrain/internal/provider"
	"github.com/nidhogg/aibrain/internal/reasoning"
	"github.com/nidhogg/aibrain/internal/router"
	"github.com/nidhogg/aibrain/internal/session"
	"github.com/nidhogg/aibrain/internal/store"
	"github.com/nidhogg/aibrain/internal/vectorstore"
	"github.com/nidhogg/aibrain/internal/workflow"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// app is the fully wired service. Optional backends are nil when they are
// not configured or cannot be reached.
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	providers *provider.Router
	tools     *agent.ToolRegistry
	router    *router.Router
	memory    *memory.Client
	store     *store.Store
	redis     *redis.Client
	sessions  session.Registry
	events    *session.EventBus
	gateway   *gateway.Gateway
	commands  *command.Registry
	limiter   ratelimit.RateLimiter
	workflow  *workflow.Workflow

	mcpClients []*mcp.Client
	vectors    *vectorstore.Client
}

type buildOptions struct {
	// gateways registers the chat platform adapters enabled in config.
	gateways bool
	// persistence connects Postgres and Redis.
	persistence bool
}

func build(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts buildOptions) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		tools:    agent.NewToolRegistry(),
		router:   router.New(cfg.Routing.Policy, logger),
		gateway:  gateway.NewGateway(logger),
		commands: command.NewRegistry(),
		sessions: session.NewMemory(),
	}

	if err := a.buildProviders(ctx); err != nil {
		return nil, err
	}
	a.buildMemory(ctx)
	if opts.persistence {
		a.connectStore(ctx)
		a.connectRedis(ctx)
	}

	agent.RegisterBuiltinTools(a.tools, a.router, a.memory)
	a.mcpClients = mcp.ConnectAll(ctx, cfg.MCP, logger)
	sources := make([]agent.ToolSource, len(a.mcpClients))
	for i, c := range a.mcpClients {
		sources[i] = c
	}
	agent.RegisterMCPTools(a.tools, sources)
	if a.memory != nil {
		command.RegisterMemoryCommands(a.commands, a.memory)
		command.BridgeCommands(a.commands, a.tools, &command.CommandContext{Platform: "agent"}, "remember", "recall")
	}

	if err := a.buildAgents(); err != nil {
		return nil, err
	}

	wfOpts := workflow.Options{MaxConcurrent: cfg.Limits.MaxConcurrent}
	if a.memory != nil {
		wfOpts.Memory = a.memory
	}
	if a.store != nil {
		wfOpts.Recorder = a.store
	}
	if a.events != nil {
		wfOpts.Publisher = a.events
	}
	wf, err := workflow.New(a.router, wfOpts, logger)
	if err != nil {
		return nil, fmt.Errorf("build workflow: %w", err)
	}
	a.workflow = wf

	a.limiter = ratelimit.New(&ratelimit.Config{
		Rate:     cfg.Limits.Rate,
		Burst:    cfg.Limits.Burst,
		FailOpen: true,
	})

	command.RegisterBuiltins(a.commands, command.Builtins{
		Agents:   a.router,
		Tools:    a.tools,
		Adapters: a.gateway,
		Workflow: a.workflow,
		Sessions: a.sessions,
	})

	if opts.gateways {
		a.registerGateways()
	}
	return a, nil
}

func (a *app) buildProviders(ctx context.Context) error {
	a.providers = provider.NewRouter(a.logger)
	for _, pc := range a.cfg.Providers {
		p, err := provider.New(ctx, provider.ProviderConfig{
			ID:        pc.ID,
			Type:      pc.Type,
			Name:      pc.Name,
			Endpoint:  pc.Endpoint,
			APIKey:    pc.APIKey,
			Model:     pc.Model,
			MaxTokens: pc.MaxTokens,
			Extra:     pc.Extra,
			Timeout:   time.Duration(pc.TimeoutMS) * time.Millisecond,
		}, a.logger)
		if err != nil {
			return fmt.Errorf("provider %s: %w", pc.ID, err)
		}
		a.providers.Register(p)
	}
	if len(a.cfg.Providers) == 0 {
		a.logger.Warn("no LLM providers configured; agents answer without a model")
	}
	return nil
}

// buildMemory picks the memory backend. Failures leave memory disabled.
func (a *app) buildMemory(ctx context.Context) {
	mc := a.cfg.Memory
	if !mc.Enabled {
		return
	}
	opts := memory.Options{Timeout: mc.Timeout(), MaxUnwrapDepth: mc.MaxUnwrapDepth}

	var bridge memory.Bridge
	switch mc.Backend {
	case config.BackendLocal:
		bridge = memory.NewLocalBridge()
	case config.BackendGraph:
		neo := a.cfg.Database.Neo4j
		gb, err := memory.NewGraphBridge(ctx, neo.URI, neo.User, neo.Password, a.semanticIndex(), a.logger)
		if err != nil {
			a.logger.Warn("neo4j unavailable, running without memory", zap.Error(err))
			return
		}
		bridge = gb
	default:
		bridge = memory.NewRemoteBridge(mc.SupergatewayURL, mc.Timeout(), a.logger)
	}
	a.memory = memory.NewClient(bridge, opts, a.logger)
	a.logger.Info("memory enabled", zap.String("backend", mc.Backend))
}

// semanticIndex returns a Qdrant-backed index when both Qdrant and an
// embedding provider are configured.
func (a *app) semanticIndex() memory.Index {
	q := a.cfg.Database.Qdrant
	if q.Host == "" || a.cfg.Embedding.Provider == "" {
		return nil
	}
	emb, err := embedding.New(embedding.Config{
		Provider:  a.cfg.Embedding.Provider,
		Endpoint:  a.cfg.Embedding.Endpoint,
		Model:     a.cfg.Embedding.Model,
		APIKey:    a.cfg.Embedding.APIKey,
		Dimension: a.cfg.Embedding.Dimension,
	})
	if err != nil {
		a.logger.Warn("embedding unavailable, semantic recall disabled", zap.Error(err))
		return nil
	}
	vc, err := vectorstore.NewClient(vectorstore.QdrantConfig{Host: q.Host, Port: q.Port})
	if err != nil {
		a.logger.Warn("qdrant unavailable, semantic recall disabled", zap.Error(err))
		return nil
	}
	a.vectors = vc
	return vectorstore.NewSemanticIndex(vc, emb, a.cfg.Memory.Collection, a.logger)
}

func (a *app) connectStore(ctx context.Context) {
	dsn := a.cfg.Database.Postgres.DSN
	if dsn == "" {
		return
	}
	s, err := store.New(ctx, dsn, a.logger)
	if err != nil {
		a.logger.Warn("postgres unavailable, running without transcripts", zap.Error(err))
		return
	}
	if err := s.Migrate(ctx, a.cfg.Server.MigrationsDir); err != nil {
		a.logger.Warn("migrations failed, running without transcripts", zap.Error(err))
		s.Close()
		return
	}
	a.store = s
}

func (a *app) connectRedis(ctx context.Context) {
	url := a.cfg.Database.Redis.URL
	if url == "" {
		return
	}
	rdb, err := session.Connect(ctx, url)
	if err != nil {
		a.logger.Warn("redis unavailable, using in-process sessions", zap.Error(err))
		return
	}
	a.redis = rdb
	a.sessions = session.NewRedis(rdb, 0, a.logger)
	a.events = session.NewEventBus(rdb, session.DefaultStream, a.logger)
}

func (a *app) buildAgents() error {
	var completer agent.CompleterFunc
	if len(a.cfg.Providers) > 0 {
		rc := a.cfg.Reasoning
		completer = func(p agent.Profile, ac config.AgentConfig) reasoning.CompletionPort {
			if ac.Provider != "" {
				a.providers.Bind(p.Role, ac.Provider)
			}
			return provider.NewCompleter(a.providers, provider.CompleterConfig{
				Role:             p.Role,
				Model:            ac.Model,
				Temperature:      p.Temperature,
				Timeout:          rc.CompletionTimeout(),
				RetryAttempts:    rc.RetryAttempts,
				RetryDelay:       rc.RetryDelay(),
				BreakerThreshold: rc.BreakerThreshold,
				BreakerTimeout:   rc.BreakerTimeout(),
			}, a.logger)
		}
	}

	rc := a.cfg.Reasoning
	base := agent.Deps{
		Tools:         a.tools,
		Notifier:      a.gateway,
		Memory:        a.memory,
		MemoryEnabled: a.memory != nil,
		Reasoning: reasoning.Config{
			MaxSteps:          rc.MaxSteps,
			Temperature:       rc.Temperature,
			HistoryWindow:     rc.HistoryWindow,
			CompletionTimeout: rc.CompletionTimeout(),
			ActionTimeout:     rc.ActionTimeout(),
			RunTimeout:        rc.RunTimeout(),
		},
	}
	agents, err := agent.BuildRoster(a.cfg.Agents, base, completer, a.logger)
	if err != nil {
		return err
	}

	primary := a.cfg.Routing.Primary
	if primary == "" {
		primary = agents[0].Role()
	}
	found := false
	for _, ag := range agents {
		if ag.Role() == primary {
			found = true
		}
	}
	if !found {
		a.logger.Warn("primary agent not in roster, using first agent",
			zap.String("primary", primary), zap.String("using", agents[0].Role()))
		primary = agents[0].Role()
	}
	// The primary registers first so it learns the others as peers.
	for _, ag := range agents {
		if ag.Role() == primary {
			a.router.Register(ag, true)
		}
	}
	for _, ag := range agents {
		if ag.Role() != primary {
			a.router.Register(ag, false)
		}
	}
	return nil
}

func (a *app) registerGateways() {
	gc := a.cfg.Gateway
	bridge := gateway.NewBridge(a.workflow, a.commands, a.sessions, a.limiter, a.gateway, a.logger)
	a.gateway.SetHandler(bridge.Handle)

	if gc.Slack.Enabled && gc.Slack.BotToken != "" {
		a.gateway.Register(gateway.NewSlackAdapter(gc.Slack.BotToken, gc.Slack.AppToken, a.logger))
	}
	if gc.Discord.Enabled && gc.Discord.BotToken != "" {
		a.gateway.Register(gateway.NewDiscordAdapter(gc.Discord.BotToken, a.logger))
	}
	if gc.Telegram.Enabled && gc.Telegram.BotToken != "" {
		a.gateway.Register(gateway.NewTelegramAdapter(gc.Telegram.BotToken, gc.Telegram.Debug, a.logger))
	}
}

// persistRoster saves the roster description for dashboards.
func (a *app) persistRoster(ctx context.Context) {
	if a.store == nil {
		return
	}
	if err := a.store.SaveAgents(ctx, a.router.Infos()); err != nil {
		a.logger.Warn("save agent roster", zap.Error(err))
	}
}

func (a *app) close() {
	a.gateway.Close()
	for _, c := range a.mcpClients {
		c.Close()
	}
	if a.memory != nil {
		if err := a.memory.Close(); err != nil {
			a.logger.Warn("close memory", zap.Error(err))
		}
	}
	if a.vectors != nil {
		a.vectors.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
	if a.redis != nil {
		a.redis.Close()
	}
}
