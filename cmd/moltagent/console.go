package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"

	"github.com/moltagent/moltagent/pkg/bus"
	"github.com/moltagent/moltagent/pkg/channels"
)

// runConsole runs the full agent with a local REPL in place of Discord.
// Typed input becomes owner commands; notifications print inline.
func runConsole(debug bool) error {
	rt, err := buildRuntime(debug)
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	agentErr := make(chan error, 1)
	go func() { agentErr <- rt.agent.Run(ctx) }()

	go printNotifications(ctx, rt.bus)

	fmt.Printf("%s console (type /status, /search <q>, /post ..., or exit)\n\n", appName)
	consoleLoop(rt.bus)

	cancel()
	<-agentErr
	fmt.Println("Stopped.")
	return nil
}

func printNotifications(ctx context.Context, b *bus.Bus) {
	for {
		n, ok := b.NextNotification(ctx)
		if !ok {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		fmt.Printf("\n[%s] %s\n", n.Kind, n.Content)
	}
}

func publishConsoleCommand(b *bus.Bus, input string) {
	name, args := channels.ParseCommand(input)
	b.PublishCommand(bus.Command{
		Channel:  "console",
		SenderID: "owner",
		ChatID:   "console",
		Name:     name,
		Args:     args,
	})
}

func consoleLoop(b *bus.Bus) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          appName + "> ",
		HistoryFile:     filepath.Join(os.TempDir(), ".moltagent_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Printf("Error initializing readline: %v\n", err)
		fmt.Println("Falling back to simple input mode...")
		simpleConsoleLoop(b)
		return
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Println("\nGoodbye!")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Println("Goodbye!")
			return
		}

		publishConsoleCommand(b, input)
	}
}

func simpleConsoleLoop(b *bus.Bus) {
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Print(appName + "> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				fmt.Println("\nGoodbye!")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Println("Goodbye!")
			return
		}

		publishConsoleCommand(b, input)
	}
}
