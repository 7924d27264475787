// vmrunner is a custom executor for a CI runner: it provisions one
// ephemeral libvirt VM per job, executes the job script inside it over SSH,
// and tears the VM down afterwards.
//
// The orchestrator invokes the three verbs as separate processes, so no
// state is shared between them; the VM identity is re-derived from the
// job's environment on every invocation. Failures map to the exit codes
// the orchestrator configured via BUILD_FAILURE_EXIT_CODE and
// SYSTEM_FAILURE_EXIT_CODE, which drive its retry decisions.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/forgeci/vmrunner/internal/config"
	"github.com/forgeci/vmrunner/internal/executor"
	vmrunnerlibvirt "github.com/forgeci/vmrunner/internal/libvirt"
	"github.com/forgeci/vmrunner/internal/machine"
	"github.com/forgeci/vmrunner/internal/outcome"
	"github.com/forgeci/vmrunner/internal/sshexec"
)

var (
	version = "dev"
	commit  = "unknown"
)

var configPath string

// ranVerb records whether a verb's RunE was reached. Errors surfacing
// before that point are cobra parse failures (unknown verb, bad flag) and
// classify as usage failures rather than the default system failure.
var ranVerb bool

func main() {
	codes, err := config.ExitCodesFromEnv()
	if err != nil {
		fail(codes, err)
	}

	if err := rootCmd.Execute(); err != nil {
		if !ranVerb {
			err = outcome.Usagef("%v", err)
		}
		fail(codes, err)
	}
}

func fail(codes outcome.Codes, err error) {
	fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
	os.Exit(codes.ExitCode(err))
}

var rootCmd = &cobra.Command{
	Use:   "vmrunner",
	Short: "Per-job libvirt VM executor for CI runners",
	Long: `vmrunner provisions a single ephemeral libvirt VM for a CI job and runs
the job's build script inside it over SSH.

The runner invokes the lifecycle verbs as separate processes:

  create   snapshot the base image, boot the VM, wait until SSH is reachable
  run      stream the job script to the VM's build account
  cleanup  stop and undefine the VM, delete its disk images

Job identity comes from CUSTOM_ENV_CI_PROJECT_NAME and CUSTOM_ENV_CI_JOB_ID.`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath, "runner configuration file")

	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(cleanupCmd)
}

// buildExecutor assembles the executor for a verb invocation: runner
// config, job context from the environment, a libvirt connection, and the
// SSH client. The returned closer releases the libvirt connection.
func buildExecutor(ctx context.Context) (*executor.Executor, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	job, err := config.JobContextFromEnv()
	if err != nil {
		return nil, nil, err
	}

	client, err := vmrunnerlibvirt.Connect(ctx, cfg.LibvirtSocket)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to libvirt: %w", err)
	}
	closer := func() {
		if err := client.Close(); err != nil {
			log.Printf("Warning: failed to close libvirt connection: %v", err)
		}
	}

	shell, err := sshexec.NewClient(cfg.SSH)
	if err != nil {
		closer()
		return nil, nil, err
	}

	return executor.New(cfg, job, machine.NewManager(client.Libvirt()), shell), closer, nil
}
