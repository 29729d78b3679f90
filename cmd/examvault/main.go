package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/starford/examvault/internal"
	pkgconfig "github.com/starford/examvault/pkg/config"
	"github.com/urfave/cli/v3"
)

func loadOptions(cmd *cli.Command) ([]internal.Option, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadOrDefault(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return []internal.Option{
		internal.WithConfig(cfg),
	}, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

// action adapts a command runner to a cli action.
func action(run func(context.Context, ...internal.Option) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		opts, err := loadOptions(cmd)
		if err != nil {
			return err
		}
		return run(ctx, opts...)
	}
}

func history(ctx context.Context, cmd *cli.Command) error {
	subjectID := cmd.Args().First()
	if subjectID == "" {
		return errors.New("usage: examvault history <subject-id>")
	}
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	return internal.RunHistory(ctx, subjectID, opts...)
}

func main() {
	cmd := &cli.Command{
		Name:   "examvault",
		Usage:  "Examination paper vault with a tamper-evident audit ledger and day-gated release",
		Action: serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API (default)",
				Action: serve,
			},
			{
				Name:   "verify",
				Usage:  "Verify the ledger and exit non-zero if it is broken",
				Action: action(internal.RunVerify),
			},
			{
				Name:   "rebuild",
				Usage:  "Re-mine every block after genesis",
				Action: action(internal.RunRebuild),
			},
			{
				Name:      "history",
				Usage:     "Print the ledger history of a document",
				ArgsUsage: "<subject-id>",
				Action:    history,
			},
			{
				Name:   "chain",
				Usage:  "Print the full ledger",
				Action: action(internal.RunChain),
			},
			{
				Name:   "mcp",
				Usage:  "Serve read-only MCP tools over stdio",
				Action: action(internal.RunMCP),
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
