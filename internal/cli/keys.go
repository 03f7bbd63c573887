package cli

import (
	"fmt"

	"github.com/fxsml/goroute/config"
	"github.com/spf13/cobra"
)

// NewKeysCommand creates the keys command.
func NewKeysCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "List the environment variables read by run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, key := range config.Keys(EnvStage, Settings{}) {
				fmt.Fprintln(cmd.OutOrStdout(), key)
			}
			return nil
		},
	}
}
