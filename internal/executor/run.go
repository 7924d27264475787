package executor

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/forgeci/vmrunner/internal/naming"
	"github.com/forgeci/vmrunner/internal/outcome"
	"github.com/forgeci/vmrunner/internal/trace"
)

// Run executes the job script inside the VM created for this job.
//
// The VM's address is re-queried here rather than remembered from create:
// run executes as an independent process and holds no state. The script is
// streamed to the build account's default shell over stdin; its exit status
// becomes the verb's outcome. A non-zero status is a build failure (the
// job's own script failed, retrying on a fresh VM would not help), while
// any failure to reach the VM at all is a system failure.
func (e *Executor) Run(ctx context.Context, scriptPath string) error {
	script, err := os.Open(scriptPath)
	if err != nil {
		return outcome.Usagef("cannot open job script %s: %v", scriptPath, err)
	}
	defer func() { _ = script.Close() }()

	id := naming.Derive(e.job.ProjectName, e.job.JobID, e.cfg.ImagesRoot)

	addr, ok, err := e.vms.Address(ctx, id.Name)
	if err != nil {
		return fmt.Errorf("failed to resolve address of VM '%s': %w", id.Name, err)
	}
	if !ok {
		return fmt.Errorf("VM '%s' has no network address", id.Name)
	}

	log.Printf("Executing job script on VM '%s' (%s)...", id.Name, addr)

	trace.Start(e.stdout, sectionBuild)
	defer trace.End(e.stdout, sectionBuild)

	status, err := e.shell.RunScript(ctx, addr, script, e.stdout, e.stderr)
	if err != nil {
		return fmt.Errorf("failed to execute job script on %s: %w", addr, err)
	}
	if status != 0 {
		return outcome.Build(status)
	}

	log.Printf("Job script completed successfully")
	return nil
}
