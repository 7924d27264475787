package executor

import (
	"context"
	"fmt"
	"log"

	"github.com/forgeci/vmrunner/internal/naming"
)

// Cleanup tears down the job's VM and its disk images.
//
// Cleanup is idempotent: it runs after successful jobs, after failed jobs,
// after a create that died halfway, and possibly more than once. Every step
// treats "already gone" as success. The orchestrator invokes it as a
// separate step, so a cleanup failure never masks the run verb's outcome.
func (e *Executor) Cleanup(ctx context.Context) error {
	id := naming.Derive(e.job.ProjectName, e.job.JobID, e.cfg.ImagesRoot)

	log.Printf("Stopping VM '%s'...", id.Name)
	if err := e.vms.Stop(ctx, id.Name); err != nil {
		return fmt.Errorf("failed to stop VM: %w", err)
	}

	log.Printf("Undefining VM '%s'...", id.Name)
	if err := e.vms.Undefine(ctx, id.Name); err != nil {
		return fmt.Errorf("failed to undefine VM: %w", err)
	}

	log.Printf("Removing disk images for VM '%s'...", id.Name)
	if err := e.vms.RemoveDisk(id.DiskPath); err != nil {
		return fmt.Errorf("failed to remove overlay disk: %w", err)
	}
	if err := e.vms.RemoveDisk(id.SeedISOPath); err != nil {
		return fmt.Errorf("failed to remove seed ISO: %w", err)
	}

	log.Printf("VM '%s' cleaned up", id.Name)
	return nil
}
