package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/moltagent/moltagent/pkg/agent"
	"github.com/moltagent/moltagent/pkg/brain"
	"github.com/moltagent/moltagent/pkg/bus"
	"github.com/moltagent/moltagent/pkg/channels"
	"github.com/moltagent/moltagent/pkg/config"
	"github.com/moltagent/moltagent/pkg/logger"
	"github.com/moltagent/moltagent/pkg/memory"
	"github.com/moltagent/moltagent/pkg/moltbook"
	"github.com/moltagent/moltagent/pkg/store"
)

// runtime bundles everything needed to run the agent loop, shared between
// the run and console commands.
type runtime struct {
	cfg   *config.Config
	store *store.Store
	bus   *bus.Bus
	agent *agent.Agent
}

func (r *runtime) close() {
	r.bus.Close()
	if err := r.store.Close(); err != nil {
		logger.ErrorCF("main", "Failed to close store", map[string]interface{}{"error": err.Error()})
	}
	logger.Sync()
}

func validateRuntimeConfig(cfg *config.Config) error {
	configPath := getConfigPath()
	if strings.TrimSpace(cfg.Providers.OpenRouter.APIKey) == "" {
		return fmt.Errorf("providers.openrouter.api_key is required in %s or MOLTAGENT_PROVIDERS_OPENROUTER_API_KEY", configPath)
	}
	if strings.TrimSpace(cfg.Moltbook.APIKey) == "" {
		return fmt.Errorf("moltbook.api_key is required; run: moltagent register")
	}
	return nil
}

func buildRuntime(debug bool) (*runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := validateRuntimeConfig(cfg); err != nil {
		return nil, err
	}

	level := cfg.Logging.Level
	if debug {
		level = "debug"
	}
	logger.Init(level)

	st, err := store.New(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}

	provider, err := brain.NewOpenRouterProvider(cfg.Providers.OpenRouter)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("create provider: %w", err)
	}
	br := brain.New(provider, cfg.Agent.Name)

	b := bus.New()
	consolidator := memory.NewConsolidator(st, br, memory.ConsolidatorConfig{
		CompressionAge:        time.Duration(cfg.Agent.CompressionAgeHours) * time.Hour,
		CompressionImportance: cfg.Agent.CompressionImportance,
	})

	ag := agent.New(agent.Options{
		Config:       cfg,
		Store:        st,
		Memory:       memory.NewManager(st),
		Consolidator: consolidator,
		Brain:        br,
		Platform:     moltbook.NewClient(cfg.Moltbook.BaseURL, cfg.Moltbook.APIKey),
		Bus:          b,
	})

	return &runtime{cfg: cfg, store: st, bus: b, agent: ag}, nil
}

func runAgent(debug bool) error {
	rt, err := buildRuntime(debug)
	if err != nil {
		return err
	}
	defer rt.close()

	manager, err := channels.NewManager(rt.cfg, rt.bus)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := manager.StartAll(ctx); err != nil {
		return err
	}

	agentErr := make(chan error, 1)
	go func() { agentErr <- rt.agent.Run(ctx) }()

	fmt.Printf("%s running as %s (Ctrl+C to stop)\n", appName, rt.cfg.Agent.Name)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		fmt.Println("\nShutting down...")
	case err := <-agentErr:
		if err != nil {
			cancel()
			_ = manager.StopAll(context.Background())
			return fmt.Errorf("agent stopped: %w", err)
		}
	}

	cancel()
	if err := manager.StopAll(context.Background()); err != nil {
		logger.WarnCF("main", "Channel shutdown error", map[string]interface{}{"error": err.Error()})
	}
	<-agentErr
	fmt.Println("Stopped.")
	return nil
}
