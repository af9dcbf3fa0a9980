package main

import (
	"fmt"

	"github.com/seclens/seclens/pkg/config"
)

// ValidateCmd checks a config file without starting anything.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	if cli.Config == "" {
		return fmt.Errorf("--config is required for validate")
	}
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}

	fmt.Printf("%s is valid\n", cli.Config)
	fmt.Printf("  model:        %s/%s\n", cfg.Model.Provider, cfg.Model.Model)
	if cfg.Database.Driver != "" {
		fmt.Printf("  registry:     %s\n", cfg.Database.Driver)
	} else {
		fmt.Printf("  registry:     inline (%d servers, %d bindings)\n",
			len(cfg.Tools.Servers), len(cfg.Tools.Bindings))
	}
	fmt.Printf("  backend:      %s\n", cfg.Orchestrator.BackendID)
	fmt.Printf("  iterations:   %d\n", cfg.Orchestrator.MaxIterations)
	return nil
}
