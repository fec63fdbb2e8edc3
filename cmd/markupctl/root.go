package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "markupctl",
		Short:         "Vertical markup tooling",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newCalculateCmd(), newMigrateCmd())
	return root
}
