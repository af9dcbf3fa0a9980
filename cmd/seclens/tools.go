package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/seclens/seclens/pkg/registry"
	"github.com/seclens/seclens/pkg/transport"
)

// ToolsCmd groups registry inspection commands.
type ToolsCmd struct {
	List     ToolsListCmd     `cmd:"" help:"List the tools a scope resolves to."`
	Describe ToolsDescribeCmd `cmd:"" help:"Show a registered tool server and its tools."`
}

// ToolsListCmd prints the tool surface a scope would see.
type ToolsListCmd struct {
	Scope   string `help:"Scope key to resolve." required:""`
	Backend string `help:"Backend id for binding lookups (defaults to config)."`
}

func (c *ToolsListCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	backend := c.Backend
	if backend == "" {
		backend = cfg.Orchestrator.BackendID
	}

	servers, err := a.resolver.Resolve(ctx, backend, c.Scope)
	if err != nil {
		return err
	}
	if len(servers) == 0 {
		fmt.Printf("no tool servers bound to scope %q\n", c.Scope)
		return nil
	}

	for _, server := range servers {
		fmt.Printf("%s (%s, %s)\n", server.Name, server.ID, server.Kind)
		defs, err := a.executor.ListTools(ctx, server)
		if err != nil {
			fmt.Printf("  error: %v\n", err)
			continue
		}
		for _, def := range defs {
			fmt.Printf("  %-40s %s\n", def.Name, def.Description)
		}
	}
	return nil
}

// ToolsDescribeCmd looks a server up by name, ignoring scope bindings.
type ToolsDescribeCmd struct {
	Name string `arg:"" help:"Registered server name."`
}

func (c *ToolsDescribeCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	server, err := a.store.GetServerByName(ctx, c.Name)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return fmt.Errorf("no tool server named %q", c.Name)
		}
		return err
	}

	fmt.Printf("%s (%s)\n", server.Name, server.ID)
	fmt.Printf("  kind:    %s\n", server.Kind)
	switch server.Kind {
	case transport.KindStdio:
		fmt.Printf("  command: %s %s\n", server.Command, strings.Join(server.Args, " "))
	default:
		fmt.Printf("  url:     %s\n", server.URL)
	}
	fmt.Printf("  active:  %t\n", server.Active)

	if !server.Active {
		return nil
	}
	defs, err := a.executor.ListTools(ctx, server)
	if err != nil {
		return fmt.Errorf("listing tools: %w", err)
	}
	for _, def := range defs {
		fmt.Printf("  %-40s %s\n", def.Name, def.Description)
	}
	return nil
}
