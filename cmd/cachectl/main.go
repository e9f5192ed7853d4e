// Package main is the cachectl admin CLI. It inspects and clears the result
// cache and runs one-off searches and mechanism lookups against PubChem using
// the same configuration as the server.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/helixir/compound-enrichment-service/internal/app"
	"github.com/helixir/compound-enrichment-service/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// cli holds the persistent flags shared by every subcommand.
type cli struct {
	configPath string
	output     string
	verbose    bool
	out        io.Writer
	errOut     io.Writer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	c := &cli{out: out, errOut: errOut}

	root := &cobra.Command{
		Use:     "cachectl",
		Short:   "Administer the compound enrichment result cache",
		Version: version,
		Long: `cachectl reads the service configuration (config file plus ENRICH_*
environment variables) and operates on the configured cache backend.

Use it to inspect cache statistics, drop cached searches, or run a search or
mechanism lookup from the command line.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return validateFormat(c.output)
		},
	}

	root.PersistentFlags().StringVar(&c.configPath, "config", "", "config file (default: ./config.yaml or /etc/compound-enrichment-service/config.yaml)")
	root.PersistentFlags().StringVarP(&c.output, "output", "o", formatJSON, "output format: json or yaml")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "log at debug level to stderr")

	root.AddCommand(
		newStatsCmd(c),
		newClearCmd(c),
		newSearchCmd(c),
		newMechanismCmd(c),
	)
	return root
}

// open loads configuration and wires the application.
func (c *cli) open(ctx context.Context) (*app.App, error) {
	cfg, err := config.LoadFile(c.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg.Metrics.Enabled = false

	level := zerolog.WarnLevel
	if c.verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: c.errOut}).
		Level(level).
		With().Timestamp().Str("component", "cachectl").Logger()

	return app.New(ctx, cfg, logger)
}

func (c *cli) print(v any) error {
	return writeOutput(c.out, c.output, v)
}
