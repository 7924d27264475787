package main

import (
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run <script>",
	Short: "Execute a job script inside the job's VM",
	Long: `Run streams the given script over SSH to the build account's default
shell on the job's VM and relays its output. The remote exit status
decides the verdict: non-zero is a job failure, while any inability to
reach the VM or hold the session is an infrastructure failure.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ranVerb = true
		ctx := cmd.Context()

		e, closer, err := buildExecutor(ctx)
		if err != nil {
			return err
		}
		defer closer()

		return e.Run(ctx, args[0])
	},
}
