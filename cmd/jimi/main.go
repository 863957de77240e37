// Command jimi is the interactive CLI around the agent execution core:
// it wires the provider, tools, approval gate, and session together,
// renders Wire events to the terminal, and drives turns from stdin.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"

	jimi "github.com/jimihq/jimi"
	"github.com/jimihq/jimi/internal/config"
	"github.com/jimihq/jimi/observer"
	"github.com/jimihq/jimi/provider/resolve"
	"github.com/jimihq/jimi/store"
	"github.com/jimihq/jimi/store/postgres"
	"github.com/jimihq/jimi/store/sqlite"
	filetools "github.com/jimihq/jimi/tools/file"
	httptool "github.com/jimihq/jimi/tools/http"
	memorytools "github.com/jimihq/jimi/tools/memory"
	searchtool "github.com/jimihq/jimi/tools/search"
	shelltool "github.com/jimihq/jimi/tools/shell"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to jimi.toml (default: <workdir>/jimi.toml)")
		workdir    = flag.String("workdir", "", "workspace directory (default: current directory)")
		yolo       = flag.Bool("yolo", false, "approve all tool actions without prompting")
		verbose    = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()

	if err := run(*configPath, *workdir, *yolo, *verbose); err != nil {
		fmt.Fprintln(os.Stderr, "jimi:", err)
		os.Exit(1)
	}
}

func run(configPath, workdir string, yolo, verbose bool) error {
	if workdir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return err
		}
		workdir = wd
	}
	if configPath == "" {
		configPath = config.DefaultPath(workdir)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if yolo {
		cfg.Approval.Yolo = true
	}

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx := context.Background()

	// Provider stack: backend, retry, rate limit, observability.
	streaming := true
	if cfg.LLM.Streaming != nil {
		streaming = *cfg.LLM.Streaming
	}
	provider, err := resolve.Provider(resolve.Config{
		Provider:  cfg.LLM.Provider,
		APIKey:    cfg.LLM.APIKey,
		Model:     cfg.LLM.Model,
		BaseURL:   cfg.LLM.BaseURL,
		Streaming: &streaming,
	})
	if err != nil {
		return err
	}
	provider = jimi.WithRetry(provider,
		jimi.RetryMaxAttempts(cfg.LLM.MaxAttempts),
		jimi.RetryLogger(logger))
	if cfg.LLM.RPM > 0 || cfg.LLM.TPM > 0 {
		provider = jimi.WithRateLimit(provider, jimi.RPM(cfg.LLM.RPM), jimi.TPM(cfg.LLM.TPM))
	}

	var tracer jimi.Tracer
	if cfg.Observer.Enabled {
		shutdown, err := observer.Init(ctx)
		if err != nil {
			return fmt.Errorf("observer: %w", err)
		}
		defer shutdown(context.Background())
		pricing := make(map[string]observer.ModelPricing, len(cfg.Pricing))
		for model, p := range cfg.Pricing {
			pricing[model] = observer.ModelPricing{InputPerMillion: p.Input, OutputPerMillion: p.Output}
		}
		provider = observer.WrapProvider(provider, cfg.LLM.Model, pricing)
		tracer = observer.NewTracer()
	}

	// Long-term memory backend.
	facts, err := openFactStore(ctx, cfg.Memory, workdir, logger)
	if err != nil {
		return err
	}
	if facts != nil {
		defer facts.Close()
	}

	// Shell runner: host by default, Docker sandbox when configured.
	var shellOpts []shelltool.Option
	if cfg.Shell.SandboxImage != "" {
		runner, err := shelltool.NewDockerRunner(cfg.Shell.SandboxImage)
		if err != nil {
			return fmt.Errorf("sandbox: %w", err)
		}
		shellOpts = append(shellOpts, shelltool.WithRunner(runner))
	}

	toolFactory := func(rt *jimi.Runtime, bus *jimi.Wire, includeSubagentTools bool) (*jimi.Registry, error) {
		reg := jimi.NewRegistry(
			jimi.RegistryBus(bus),
			jimi.RegistryWorkdir(rt.WorkDir),
			jimi.RegistryApproval(rt.Approval),
			jimi.RegistryLogger(rt.Logger),
		)
		tools := []jimi.Tool{
			shelltool.New(shellOpts...),
			filetools.NewReadTool(),
			filetools.NewWriteTool(),
			filetools.NewEditTool(),
			filetools.NewListTool(),
			httptool.New(),
			searchtool.New(cfg.Search.BraveAPIKey),
			jimi.NewAskUserTool(),
		}
		if facts != nil {
			tools = append(tools,
				memorytools.NewRememberTool(facts),
				memorytools.NewMemorySearchTool(facts))
		}
		for _, t := range tools {
			if err := reg.Register(t); err != nil {
				return nil, err
			}
		}
		return reg, nil
	}

	rt := jimi.NewRuntime(jimi.Runtime{
		Provider:         provider,
		WorkDir:          workdir,
		MaxContextTokens: cfg.LLM.ContextWindow,
		MaxSteps:         cfg.Agent.MaxSteps,
		Tools:            toolFactory,
		Logger:           logger,
		Tracer:           tracer,
	})

	stateDir := filepath.Join(workdir, ".jimi")
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return err
	}

	var opts []jimi.SessionOption
	if action := jimi.GuardAction(cfg.Approval.InjectionAction); action != jimi.GuardOff {
		opts = append(opts, jimi.SessionInputGuard(jimi.NewInputGuard(action, logger)))
	}

	// NewSession repoints the gate at the session bus before building
	// the tool registry.
	rt.Approval = jimi.NewApproval(nil,
		jimi.ApprovalYolo(cfg.Approval.Yolo), jimi.ApprovalLogger(logger))
	session, err := jimi.NewSession(buildAgent(cfg.Agent), rt, filepath.Join(stateDir, "history.jsonl"), opts...)
	if err != nil {
		return err
	}
	defer session.Close()

	return repl(session, bufio.NewReader(os.Stdin))
}

// openFactStore builds the configured long-term memory backend, or nil
// when memory is off.
func openFactStore(ctx context.Context, cfg config.MemoryConfig, workdir string, logger *slog.Logger) (store.FactStore, error) {
	switch cfg.Backend {
	case "", "off":
		return nil, nil
	case "sqlite":
		path := cfg.Path
		if path == "" {
			path = "jimi.db"
		}
		if !filepath.IsAbs(path) {
			path = filepath.Join(workdir, ".jimi", path)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		s := sqlite.New(path, sqlite.WithLogger(logger))
		if err := s.Init(ctx); err != nil {
			return nil, fmt.Errorf("memory: %w", err)
		}
		return s, nil
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("memory: %w", err)
		}
		s := postgres.New(pool, postgres.WithLogger(logger))
		if err := s.Init(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("memory: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("memory: unknown backend %q", cfg.Backend)
	}
}

// buildAgent converts the config agent tree into the core's AgentConfig.
func buildAgent(cfg config.AgentConfig) *jimi.AgentConfig {
	agent := &jimi.AgentConfig{
		Name:         cfg.Name,
		SystemPrompt: cfg.SystemPrompt,
		AllowedTools: cfg.AllowedTools,
	}
	if len(cfg.Subagents) > 0 {
		agent.Subagents = make(map[string]*jimi.AgentConfig, len(cfg.Subagents))
		for name, sub := range cfg.Subagents {
			prompt := sub.SystemPrompt
			if prompt == "" {
				prompt = cfg.SystemPrompt
			}
			agent.Subagents[name] = &jimi.AgentConfig{
				Name:         name,
				SystemPrompt: prompt,
				AllowedTools: sub.AllowedTools,
			}
		}
	}
	return agent
}
