// Package cli implements the vrpdiag command line.
package cli

import (
	"os"

	"github.com/spf13/cobra"

	"vrpdiag/internal/config"
)

type rootOptions struct {
	cfgFile string
	verbose bool
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	ro := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "vrpdiag",
		Short: "vrpdiag - explain why jobs were left unassigned",
		Long: `vrpdiag inspects a solved vehicle routing problem and reports, for every job
the solver left out, the constraint that prevented its insertion.

It can run one-shot on files (report, solve) or as an HTTP service (serve).`,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.PersistentFlags().StringVar(&ro.cfgFile, "config", os.Getenv("VRPDIAG_CONFIG"), "config file (YAML)")
	cmd.PersistentFlags().BoolVarP(&ro.verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(
		newReportCmd(ro),
		newSolveCmd(ro),
		newServeCmd(ro),
		newConfigCmd(ro),
		newVersionCmd(),
	)
	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func (ro *rootOptions) load() (config.Config, error) {
	return config.Load(ro.cfgFile)
}
