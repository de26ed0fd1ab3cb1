// Command rewind manages event-sourced inventories from the command line.
// Every state change is appended to the configured backend, and any past
// state can be reconstructed by version or by time
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kode4food/rewind"
	"github.com/kode4food/rewind/inventory"
)

type app struct {
	out     io.Writer
	logger  *zap.Logger
	backend rewind.Backend
	closer  closeFunc
	store   *inventory.Store

	configPath  string
	backendName string
	verbose     bool
	jsonOutput  bool
}

func main() {
	a := &app{out: os.Stdout}
	err := a.rootCmd().ExecuteContext(context.Background())
	if cerr := a.close(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "rewind",
		Short:         "Event-sourced inventory ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.open(cmd.Context())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "",
		"path to a TOML config file (default $REWIND_CONFIG)")
	flags.StringVarP(&a.backendName, "backend", "b", "",
		"backend override: memory, bolt, redis, or postgres")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")
	flags.BoolVar(&a.jsonOutput, "json", false, "output in JSON format")

	root.AddCommand(
		a.createCmd(),
		a.addCmd(),
		a.removeCmd(),
		a.showCmd(),
		a.historyCmd(),
		a.listCmd(),
	)
	return root
}

func (a *app) open(ctx context.Context) error {
	if a.logger == nil {
		logger, err := newLogger(a.verbose)
		if err != nil {
			return err
		}
		a.logger = logger
	}

	if a.backend == nil {
		cfg, err := LoadConfig(a.configPath)
		if err != nil {
			return err
		}
		if a.backendName != "" {
			cfg.Backend = a.backendName
		}
		b, closer, err := openBackend(ctx, cfg, a.logger)
		if err != nil {
			return err
		}
		a.backend = b
		a.closer = closer
		a.logger.Debug("backend opened", zap.String("backend", cfg.Backend))
	}

	a.store = inventory.NewStore(a.backend, rewind.WithLogger(a.logger))
	return nil
}

func (a *app) close() error {
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	if a.closer == nil {
		return nil
	}
	closer := a.closer
	a.closer = nil
	a.backend = nil
	return closer()
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	if verbose {
		cfg = zap.NewDevelopmentConfig()
	}
	return cfg.Build()
}
