package main

import (
	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Destroy the job's VM and delete its disk images",
	Long: `Cleanup stops the job's VM, undefines it, and removes its overlay disk
and cloud-init seed image. Resources that are already gone are treated
as success, so cleanup is safe to invoke after a partial create and
safe to invoke more than once.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ranVerb = true
		ctx := cmd.Context()

		e, closer, err := buildExecutor(ctx)
		if err != nil {
			return err
		}
		defer closer()

		return e.Cleanup(ctx)
	},
}
