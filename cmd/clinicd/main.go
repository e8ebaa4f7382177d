// Command clinicd runs the veterinary clinic API and its maintenance tasks.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	_ "time/tzdata"

	"github.com/R3E-Network/vetclinic/internal/config"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configFile string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "clinicd",
		Short:         "Multi-tenant veterinary clinic API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "YAML config file (overrides CLINIC_CONFIG_FILE)")

	root.AddCommand(
		newServeCommand(opts),
		newMigrateCommand(opts),
		newSeedCommand(opts),
		newTokenCommand(opts),
	)
	return root
}

func (o *rootOptions) load() (config.Config, error) {
	if o.configFile != "" {
		return config.LoadFrom(o.configFile)
	}
	return config.Load()
}
