// mlat: command line front end for the multilateration estimator
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-mlat/internal/config"
)

var version = "0.1.0"

// rootOptions are the flags shared by every subcommand
type rootOptions struct {
	configPath string
	debug      bool
	jsonOut    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "mlat",
		Short:         "Estimate transmitter positions from observation point ranges",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "",
		"Config file supplying the default scene and estimation options")
	rootCmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging on stderr")
	rootCmd.PersistentFlags().BoolVar(&opts.jsonOut, "json", false, "Print results as JSON")

	rootCmd.AddCommand(
		newEstimateCmd(opts),
		newDistanceCmd(opts),
		newSimulateCmd(opts),
		newSweepCmd(opts),
	)

	return rootCmd
}

// load reads the config file (or defaults) and validates it
func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (o *rootOptions) logger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelWarn
	if o.debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}
