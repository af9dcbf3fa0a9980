package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/seclens/seclens/pkg/orchestrator"
)

// AskCmd runs one orchestration from the terminal.
type AskCmd struct {
	Message []string `arg:"" help:"The question to ask."`

	Scope   string `help:"Scope key for tool resolution (e.g. an index name)."`
	Backend string `help:"Backend id for binding lookups (defaults to config)."`
	System  string `help:"System prompt." default:"You are a security analytics assistant. Use the available tools to answer from indexed data; cite the evidence you found."`
}

func (c *AskCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	backend := c.Backend
	if backend == "" {
		backend = cfg.Orchestrator.BackendID
	}

	result, err := a.orchestrator.Orchestrate(ctx, orchestrator.Request{
		Scope:        c.Scope,
		BackendID:    backend,
		SystemPrompt: c.System,
		UserMessage:  strings.Join(c.Message, " "),
	})
	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}

	fmt.Println(result.FinalText)
	if result.ChartSpec != nil {
		encoded, _ := json.MarshalIndent(result.ChartSpec, "", "  ")
		fmt.Printf("\nchart spec:\n%s\n", encoded)
	}
	fmt.Fprintf(os.Stderr, "\n[%s, %d tool calls, %d tokens]\n",
		result.Termination, result.ToolCallCount, result.TokensUsed)
	return nil
}
