package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Long:  "Prints the configuration after defaults, the config file, GETHTML_* variables and flags are merged. The bot token is redacted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, closer, err := a.load(cmd, nil)
			if err != nil {
				return err
			}
			defer func() { _ = closer.Close() }()

			if cfg.Telegram.Token != "" {
				cfg.Telegram.Token = "<redacted>"
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("marshaling config: %w", err)
			}
			_, err = a.stdout.Write(out)
			return err
		},
	}
}
