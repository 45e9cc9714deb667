// Command roost runs the fleet-management agent: topic bridge, tool registry,
// watcher engine, and the operator HTTP API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/roostlabs/roost/pkg/agent"
	"github.com/roostlabs/roost/pkg/bus"
	"github.com/roostlabs/roost/pkg/capture"
	"github.com/roostlabs/roost/pkg/config"
	"github.com/roostlabs/roost/pkg/memory"
	"github.com/roostlabs/roost/pkg/model/openai"
	"github.com/roostlabs/roost/pkg/prompt"
	"github.com/roostlabs/roost/pkg/server"
	"github.com/roostlabs/roost/pkg/skills"
	"github.com/roostlabs/roost/pkg/store/sqlite"
	"github.com/roostlabs/roost/pkg/tool"
	"github.com/roostlabs/roost/pkg/watcher"
	"github.com/roostlabs/roost/pkg/world"
)

const agentNode = "roost-agent"

var (
	flagConfig   string
	flagDB       string
	flagIdentity string
	flagLogLevel string
)

func main() {
	root := &cobra.Command{
		Use:           "roost",
		Short:         "Autonomous fleet-management agent",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", "roost.yaml", "path to the YAML config file")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "log level (debug, info, warn, error)")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	serve.Flags().StringVar(&flagDB, "db", "roost.db", "path to the sqlite database")
	serve.Flags().StringVar(&flagIdentity, "identity", "", "path to an identity prompt file")
	root.AddCommand(serve)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		slog.Error("Fatal", "error", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	// A .env next to the binary is a development convenience; absence is fine.
	_ = godotenv.Load()
	setupLogging(flagLogLevel)

	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	slog.Info("Starting roost", "machine", cfg.Bus.MachineID, "scope", cfg.Bus.Scope, "model", cfg.LLM.Model)

	st, err := sqlite.New(flagDB)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	// In-process transport. Producers embed the bus session; a networked
	// transport plugs in behind the same interface.
	session := bus.NewMemorySession()
	decoder := bus.NewDecoder()
	decoder.RegisterHints(cfg.Topics)
	bridge := bus.New(session, decoder, cfg.Bus.Scope, cfg.Bus.MachineID)
	defer bridge.Close()

	policy := tool.Policy{
		ProtectedNodes:      cfg.Safety.ProtectedNodes,
		AllowedPathPrefixes: cfg.Safety.AllowedDataPaths,
	}
	registry := tool.NewRegistry(policy)

	worldModel := world.New(bridge)
	memories := memory.New(st)
	captures := capture.NewRouter(bridge, st, policy)
	prompts := prompt.NewBuilder(worldModel, st, captures, registry, memories, policy)
	if flagIdentity != "" {
		data, err := os.ReadFile(flagIdentity)
		if err != nil {
			return fmt.Errorf("reading identity file: %w", err)
		}
		prompts.SetIdentity(string(data))
	}

	chatProvider := openai.New(openai.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      os.Getenv(cfg.LLM.APIKeyEnv),
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Timeout:     time.Duration(cfg.LLM.TimeoutSec) * time.Second,
	})
	chatAgent := agent.New(chatProvider, registry, prompts, st, cfg.Safety.MaxAgentTurns)

	// Watcher evaluations may run on a smaller model than chat.
	evalProvider := openai.New(openai.Config{
		BaseURL:     cfg.Watchers.EvalBaseURL,
		APIKey:      os.Getenv(cfg.LLM.APIKeyEnv),
		Model:       cfg.Watchers.EvalModel,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Timeout:     time.Duration(cfg.LLM.TimeoutSec) * time.Second,
	})
	evalAgent := agent.New(evalProvider, registry, prompts, st, cfg.Safety.MaxAgentTurns)

	engine := watcher.NewEngine(evalAgent, prompts, bridge, registry, st, cfg.Safety.MaxEvalsPerMinute)

	if err := skills.RegisterAll(registry, skills.Deps{
		Bridge:   bridge,
		World:    worldModel,
		Watchers: engine,
		Captures: captures,
		Memory:   memories,
	}); err != nil {
		return err
	}

	// Configured topics start buffering at boot rather than on first use.
	for suffix := range cfg.Topics {
		if err := bridge.Subscribe(suffix, func(bus.Sample) {}); err != nil {
			slog.Warn("Failed to subscribe configured topic", "topic", suffix, "error", err)
		}
	}

	worldModel.Refresh(ctx)
	if err := captures.Resume(ctx); err != nil {
		slog.Warn("Capture resume failed", "error", err)
	}
	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("starting watcher engine: %w", err)
	}
	defer engine.Stop()

	// Housekeeping timers: agent heartbeat and periodic world refresh.
	jobs := cron.New()
	if _, err := jobs.AddFunc("@every 5s", func() { bridge.PublishHealth(agentNode) }); err != nil {
		return err
	}
	if _, err := jobs.AddFunc("@every 30s", func() { worldModel.Refresh(ctx) }); err != nil {
		return err
	}
	jobs.Start()
	defer jobs.Stop()

	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
	srv := server.New(addr, chatAgent, worldModel, engine, captures)
	return srv.Start(ctx)
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}
