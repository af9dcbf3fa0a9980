// Command seclens runs the tool-orchestration layer of the security
// analytics assistant: one-shot questions from the terminal, a serving
// mode for the chat backend, and registry inspection helpers.
//
// Usage:
//
//	seclens ask --config config.yaml --scope sec-logs "any failed logins today?"
//	seclens tools list --config config.yaml --scope sec-logs
//	seclens serve --config config.yaml
package main

import (
	"fmt"
	"runtime/debug"

	"github.com/alecthomas/kong"

	"github.com/seclens/seclens/pkg/config"
	"github.com/seclens/seclens/pkg/logger"
)

// CLI defines the command-line interface.
type CLI struct {
	Ask      AskCmd      `cmd:"" help:"Ask a one-shot question through the orchestrator."`
	Tools    ToolsCmd    `cmd:"" help:"Inspect the resolved tool surface."`
	Serve    ServeCmd    `cmd:"" help:"Start the HTTP serving mode."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`
	Version  VersionCmd  `cmd:"" help:"Show version information."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:""`
	LogFormat string `help:"Log format (text, json)." default:""`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run(cli *CLI) error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("seclens version %s\n", version)
	return nil
}

// loadConfig loads the file named by --config with CLI logging overrides
// applied, and installs the process logger.
func loadConfig(cli *CLI) (*config.Config, error) {
	_ = config.LoadDotEnv("")

	cfg, err := config.Load(cli.Config)
	if err != nil {
		return nil, err
	}
	if cli.LogLevel != "" {
		cfg.Logger.Level = cli.LogLevel
	}
	if cli.LogFormat != "" {
		cfg.Logger.Format = cli.LogFormat
	}
	logger.Setup(cfg.Logger.Level, cfg.Logger.Format)
	return cfg, nil
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("seclens"),
		kong.Description("Tool orchestration for the seclens security assistant."),
		kong.UsageOnError(),
	)
	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
