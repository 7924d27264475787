package main

import (
	"github.com/spf13/cobra"

	"github.com/forgeci/vmrunner/internal/executor"
)

var (
	createBaseImage string
	createVCPUs     int
	createRAMMB     int
	createNetwork   string
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Provision the job's VM and wait until it accepts SSH",
	Long: `Create snapshots the base image into a copy-on-write overlay named after
the job, defines and boots a VM on it, then waits for a DHCP
lease and a successful SSH handshake before returning. A non-zero exit
means the VM is not usable and the job should not proceed to run.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ranVerb = true
		ctx := cmd.Context()

		e, closer, err := buildExecutor(ctx)
		if err != nil {
			return err
		}
		defer closer()

		return e.Create(ctx, executor.CreateOptions{
			BaseImage: createBaseImage,
			VCPUs:     createVCPUs,
			MemoryMB:  createRAMMB,
			Network:   createNetwork,
		})
	},
}

func init() {
	createCmd.Flags().StringVarP(&createBaseImage, "base-image", "i", "", "base qcow2 image to snapshot for this job (required)")
	createCmd.Flags().IntVarP(&createVCPUs, "cpus", "c", executor.DefaultVCPUs, "virtual CPU count")
	createCmd.Flags().IntVarP(&createRAMMB, "ram-mb", "r", executor.DefaultMemoryMB, "memory in MiB")
	createCmd.Flags().StringVarP(&createNetwork, "network", "n", "", "libvirt network to attach (defaults from config)")
}
