// Package executor implements the three lifecycle verbs of the custom
// executor: create provisions a fresh VM for a job, run executes the job
// script inside it, cleanup tears everything down.
//
// Each verb runs as an independent process. Nothing is carried between
// them: every verb re-derives the VM identity from the job context and
// reconstructs the VM state by querying libvirt. Failures are classified
// per internal/outcome; anything not explicitly tagged is a system failure,
// so unexpected errors lean toward "retry on fresh infrastructure".
package executor

import (
	"context"
	"io"
	"os"

	"github.com/forgeci/vmrunner/internal/config"
	"github.com/forgeci/vmrunner/internal/libvirt"
)

// Log section names recognized by the orchestrator's log viewer.
const (
	sectionProvision = "vm_provision"
	sectionBuild     = "build_script"
)

// machineManager defines the VM substrate operations the verbs need.
// In production this is satisfied by *machine.Manager.
type machineManager interface {
	// CreateOverlay creates a copy-on-write overlay backed by a base image.
	CreateOverlay(ctx context.Context, basePath, overlayPath string) error

	// WriteSeedISO writes a cloud-init seed ISO.
	WriteSeedISO(path string, data []byte) error

	// DefineAndStart defines and starts a headless domain.
	DefineAndStart(ctx context.Context, spec libvirt.DomainSpec) error

	// Address queries the domain's current IPv4 lease, ok=false if none yet.
	Address(ctx context.Context, name string) (string, bool, error)

	// Stop force-stops the domain; absent or stopped domains are success.
	Stop(ctx context.Context, name string) error

	// Undefine removes the domain definition; absent domains are success.
	Undefine(ctx context.Context, name string) error

	// RemoveDisk deletes a disk image; a missing file is success.
	RemoveDisk(path string) error
}

// shellRunner defines the remote shell operations the verbs need.
// In production this is satisfied by *sshexec.Client.
type shellRunner interface {
	// Probe performs a connect-and-authenticate round trip.
	Probe(ctx context.Context, host string) error

	// RunScript streams a script to the remote default shell and returns
	// the remote exit status.
	RunScript(ctx context.Context, host string, script io.Reader, stdout, stderr io.Writer) (int, error)
}

// Executor runs the lifecycle verbs for one job.
type Executor struct {
	cfg   *config.Config
	job   config.JobContext
	vms   machineManager
	shell shellRunner

	// stdout receives section markers and the job's own output, which the
	// orchestrator captures as the job log. stderr receives the script's
	// error stream.
	stdout io.Writer
	stderr io.Writer
}

// New creates an Executor for the given job.
func New(cfg *config.Config, job config.JobContext, vms machineManager, shell shellRunner) *Executor {
	return &Executor{
		cfg:    cfg,
		job:    job,
		vms:    vms,
		shell:  shell,
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
}
