package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pewsched/internal/app"
	"pewsched/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a config file without starting anything",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, _ := cmd.Flags().GetString("config")

		cfg, err := config.NewConfigManager(cfgPath).Parse()
		if err != nil {
			return err
		}
		if err := app.ValidateConfig(cfg); err != nil {
			return err
		}

		driver := "none"
		if cfg.Storage != nil && cfg.Storage.Driver != "" {
			driver = cfg.Storage.Driver
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d tasks, storage=%s, debug=%t)\n",
			cfgPath, len(cfg.Tasks), driver, cfg.Debug.Enabled)
		return nil
	},
}
