package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/moltagent/moltagent/pkg/config"
	"github.com/moltagent/moltagent/pkg/moltbook"
	"github.com/moltagent/moltagent/pkg/store"
)

func executeCLI() error {
	return buildRootCommand().Execute()
}

func buildRootCommand() *cobra.Command {
	var showVersion bool

	root := &cobra.Command{
		Use:   "moltagent",
		Short: "Autonomous Moltbook agent with persistent memory and an owner control channel",
		Long: strings.TrimSpace(`moltagent is a self-directed social agent for Moltbook.

It posts, comments and handles DMs on a randomized heartbeat, consolidates
its episodic memory into insights, and reports to a single owner over
Discord. Use the CLI to onboard, register the agent, run it, or drive it
from a local console.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion()
				return nil
			}
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.Flags().BoolVarP(&showVersion, "version", "v", false, "Show build/version metadata")

	root.AddCommand(newOnboardCommand())
	root.AddCommand(newRegisterCommand())
	root.AddCommand(newRunCommand())
	root.AddCommand(newConsoleCommand())
	root.AddCommand(newStatusCommand())
	root.AddCommand(newVersionCommand())

	return root
}

func newOnboardCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "onboard",
		Short:   "Initialize ~/.moltagent config and workspace",
		Example: "  moltagent onboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return onboard()
		},
	}
}

func newRegisterCommand() *cobra.Command {
	var description string

	cmd := &cobra.Command{
		Use:     "register",
		Short:   "Register the agent on Moltbook and save the issued API key",
		Example: "  moltagent register --description \"A curious conversationalist\"",
		RunE: func(cmd *cobra.Command, args []string) error {
			return register(description)
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "Public agent description")
	return cmd
}

func newRunCommand() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run the agent: heartbeat, consolidation, worker, and control channel",
		Example: "  moltagent run --debug",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(debug)
		},
	}
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func newConsoleCommand() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:   "console",
		Short: "Run the agent with a local interactive console instead of Discord",
		Long: "Start the full agent and attach an interactive console. Owner commands\n" +
			"(/status, /search, /post, /pause, ...) are typed directly; notifications\n" +
			"print inline.",
		Example: "  moltagent console",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConsole(debug)
		},
	}
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Short:   "Show configuration and runtime readiness",
		Example: "  moltagent status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return statusCmd()
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show build/version metadata",
		RunE: func(cmd *cobra.Command, args []string) error {
			printVersion()
			return nil
		},
	}
}

func onboard() error {
	configPath := getConfigPath()

	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("Config already exists at %s\n", configPath)
		fmt.Print("Overwrite? (y/n): ")
		reader := bufio.NewReader(os.Stdin)
		response, readErr := reader.ReadString('\n')
		if readErr != nil {
			fmt.Println("Aborted.")
			return nil
		}
		response = strings.ToLower(strings.TrimSpace(response))
		if response != "y" && response != "yes" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	cfg := config.DefaultConfig()
	if err := config.SaveConfig(configPath, cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	workspace := config.ExpandHome(cfg.Agent.Workspace)
	if err := os.MkdirAll(filepath.Join(workspace, "state"), 0o755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}

	fmt.Printf("%s is ready!\n", appName)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Add your OpenRouter API key to", configPath)
	fmt.Println("  2. Register on Moltbook: moltagent register -d \"who your agent is\"")
	fmt.Println("  3. (Optional) Add a Discord bot token and your user id under channels.discord")
	fmt.Println("  4. Run it: moltagent run")
	return nil
}

func register(description string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if strings.TrimSpace(cfg.Moltbook.APIKey) != "" {
		return fmt.Errorf("moltbook.api_key already set; remove it from %s to re-register", getConfigPath())
	}

	client := moltbook.NewClient(cfg.Moltbook.BaseURL, "")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := client.Register(ctx, cfg.Agent.Name, description)
	if err != nil {
		return fmt.Errorf("register on moltbook: %w", err)
	}

	cfg.Moltbook.APIKey = result.APIKey
	if err := config.SaveConfig(getConfigPath(), cfg); err != nil {
		return fmt.Errorf("save api key: %w", err)
	}

	fmt.Printf("Registered as %s (id %s). API key saved.\n", result.Agent.Name, result.Agent.ID)
	return nil
}

func statusCmd() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	configPath := getConfigPath()
	fmt.Printf("%s Status\n", appName)
	fmt.Printf("Version: %s\n\n", formatVersion())

	mark := func(ok bool) string {
		if ok {
			return "ok"
		}
		return "not set"
	}

	if _, err := os.Stat(configPath); err == nil {
		fmt.Println("Config:", configPath, "(present)")
	} else {
		fmt.Println("Config:", configPath, "(missing, run: moltagent onboard)")
	}

	dbPath := cfg.DBPath()
	if _, err := os.Stat(dbPath); err == nil {
		fmt.Println("State DB:", dbPath, "(present)")
	} else {
		fmt.Println("State DB:", dbPath, "(not initialized)")
	}

	fmt.Println("Agent name:", cfg.Agent.Name)
	fmt.Println("Model:", cfg.Providers.OpenRouter.Model)
	fmt.Println("OpenRouter key:", mark(strings.TrimSpace(cfg.Providers.OpenRouter.APIKey) != ""))
	fmt.Println("Moltbook key:", mark(strings.TrimSpace(cfg.Moltbook.APIKey) != ""))
	fmt.Println("Discord token:", mark(strings.TrimSpace(cfg.Channels.Discord.Token) != ""))

	if _, err := os.Stat(dbPath); err == nil {
		st, err := store.New(dbPath)
		if err == nil {
			defer st.Close()
			if stats, serr := st.Stats(context.Background()); serr == nil {
				state := "running"
				if stats.Paused {
					state = "paused"
				}
				fmt.Printf("\nEpisodes: %d | Insights: %d | Strategy: v%d | State: %s\n",
					stats.Episodes, stats.Insights, stats.StrategyV, state)
			}
		}
	}
	return nil
}
