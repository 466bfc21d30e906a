package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"cmdloop/internal/agent"
	"cmdloop/internal/audit"
	"cmdloop/internal/config"
	"cmdloop/internal/dispatch"
	"cmdloop/internal/domain"
	"cmdloop/internal/invoke"
	"cmdloop/internal/mcp"
	"cmdloop/internal/metrics"
	"cmdloop/internal/provider"
	"cmdloop/internal/security"
	"cmdloop/internal/tool"
)

// app is the wired command loop: config, safety, tools, servers, model.
type app struct {
	cfg      *config.Config
	audit    *audit.SQLiteStore // nil when the audit log is off
	security *security.Engine
	registry *tool.Registry
	servers  *mcp.Manager
	prompt   *agent.PromptBuilder
	loop     *agent.Loop
	metrics  *metrics.Collector
}

type appOptions struct {
	Confirm domain.ConfirmFunc
	Status  domain.StatusFunc
	Hooks   agent.Hooks
	// Model overrides the configured model when non-empty.
	Model string
}

func buildApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	if err := os.MkdirAll(cfg.General.Workspace, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	a := &app{cfg: cfg, metrics: metrics.Default}

	var auditLog domain.AuditLogger
	if cfg.Security.AuditLog {
		store, err := audit.NewSQLiteStore(cfg.Security.AuditDBPath, logger)
		if err != nil {
			return nil, fmt.Errorf("audit store: %w", err)
		}
		a.audit = store
		auditLog = store
	}

	sec, err := security.NewEngine(cfg.Security, opts.Confirm, auditLog, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("security engine: %w", err)
	}
	a.security = sec

	schemas := tool.DefaultSchemas()
	if cfg.Tools.SchemaFile != "" {
		overlay, err := tool.LoadSchemas(cfg.Tools.SchemaFile)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("tool schemas: %w", err)
		}
		for name, s := range overlay {
			schemas[name] = s
		}
	}
	a.registry = tool.NewRegistry(logger)
	tool.RegisterBuiltins(a.registry, tool.BuiltinConfig{
		Workspace:      cfg.General.Workspace,
		Sandbox:        cfg.Security.WorkspaceSandbox,
		CommandTimeout: cfg.Tools.CommandTimeout,
		MaxOutputBytes: cfg.Tools.MaxOutputBytes,
		BackupSuffix:   cfg.Tools.BackupSuffix,
	}, schemas)
	executor := tool.NewExecutor(tool.ExecutorConfig{
		Registry: a.registry,
		Gate:     sec,
		Audit:    auditLog,
		Logger:   logger,
	})

	servers, err := mcp.NewManager(mcp.ManagerConfig{
		ConfigPath:     cfg.MCP.ConfigPath,
		ConnectTimeout: seconds(cfg.MCP.ConnectTimeoutSeconds),
		CallTimeout:    seconds(cfg.MCP.CallTimeoutSeconds),
		Status:         opts.Status,
		Logger:         logger,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("capability servers: %w", err)
	}
	a.servers = servers
	if err := servers.ConnectAll(ctx); err != nil {
		// One unreachable server must not stop the others.
		logger.Warn("some capability servers failed to connect", "err", err)
	}

	client, err := provider.New(cfg.Provider, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	dispatcher := dispatch.New(dispatch.Config{
		Local:   executor,
		Remote:  servers,
		Confirm: sec,
		Metrics: a.metrics,
		Logger:  logger,
	})

	model := cfg.Provider.Model
	if opts.Model != "" {
		model = opts.Model
	}
	a.loop, err = agent.NewLoop(agent.Config{
		Client:        client,
		Parser:        invoke.NewParser(dispatch.Vocabulary{Local: a.registry, Remote: servers}),
		Dispatcher:    dispatcher,
		Limiter:       agent.LimiterFor(cfg.Provider.RequestsPerMinute),
		Hooks:         opts.Hooks,
		Model:         model,
		Temperature:   cfg.Provider.Temperature,
		MaxTokens:     cfg.Provider.MaxTokens,
		MaxIterations: cfg.General.MaxIterations,
		Metrics:       a.metrics,
		Logger:        logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	a.prompt = agent.NewPromptBuilder(agent.PromptConfig{
		Workspace:         cfg.General.Workspace,
		SystemPromptExtra: cfg.General.SystemPromptExtra,
	})
	return a, nil
}

// tools lists local then remote tools for the system prompt.
func (a *app) tools() []agent.ToolInfo {
	return append(agent.LocalTools(a.registry.Schemas()), agent.RemoteTools(a.servers.GetAllTools())...)
}

// run executes one request on top of history and returns the outcome.
func (a *app) run(ctx context.Context, history []domain.Message, request string) (*agent.Outcome, error) {
	a.metrics.ServersConnected().Set(int64(a.connectedServers()))
	messages := a.prompt.BuildMessages(a.tools(), history, request)
	out, err := a.loop.Run(ctx, messages)
	if errors.Is(err, agent.ErrModel) {
		return out, fmt.Errorf("model unavailable: %w", err)
	}
	return out, err
}

func (a *app) connectedServers() int {
	n := 0
	for _, s := range a.servers.Servers() {
		if s.Connected {
			n++
		}
	}
	return n
}

func (a *app) Close() {
	if a.servers != nil {
		a.servers.DisconnectAll()
	}
	if a.audit != nil {
		if err := a.audit.Close(); err != nil {
			logger.Warn("close audit store", "err", err)
		}
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
