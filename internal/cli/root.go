// Package cli implements the goroute command line.
package cli

import (
	"log/slog"
	"os"

	"github.com/fxsml/goroute/config"
	"github.com/spf13/cobra"
)

// EnvStage is the config stage of the settings loaded by the commands.
const EnvStage = "run"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	ConfigFile string
	EnvFiles   []string
}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "goroute",
		Short: "goroute runs message routes",
		Long: `goroute runs message routes between Kafka, NATS, RabbitMQ, CloudEvents
over HTTP and in-process endpoints, declared in a YAML file.

Settings are read from the file, then overridden by environment variables.
Run "goroute keys" for the variable names.`,
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			level := slog.LevelInfo
			if opts.Verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
			return config.LoadDotEnv(opts.EnvFiles...)
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")
	cmd.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", "", "YAML settings file")
	cmd.PersistentFlags().StringSliceVar(&opts.EnvFiles, "env-file", nil, ".env files to load (default .env if present)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewKeysCommand())
	return cmd
}
