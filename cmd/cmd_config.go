package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	var (
		configPath string
		overrides  []string
	)

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath, overrides)
			if err != nil {
				return err
			}
			return cfg.Dump(os.Stdout)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")
	cmd.Flags().StringArrayVarP(&overrides, "set", "s", nil, "Override a config key, key=value")
	return cmd
}
