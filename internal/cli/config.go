package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd(ro *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect vrpdiag configuration",
		Long: `Configuration hierarchy (highest to lowest priority):
1. Environment variables (PORT, DATABASE_URL, DIAG_MODE, ...)
2. Config file (--config or VRPDIAG_CONFIG)
3. Defaults`,
	}
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ro.load()
			if err != nil {
				return err
			}
			cfg.Auth.HMACSecret = redact(cfg.Auth.HMACSecret)
			cfg.DatabaseURL = redact(cfg.DatabaseURL)
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			if ro.cfgFile != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "# config file: %s\n", ro.cfgFile)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	cmd.AddCommand(show)
	return cmd
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}
