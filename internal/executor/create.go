package executor

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/forgeci/vmrunner/internal/cloudinit"
	"github.com/forgeci/vmrunner/internal/libvirt"
	"github.com/forgeci/vmrunner/internal/naming"
	"github.com/forgeci/vmrunner/internal/outcome"
	"github.com/forgeci/vmrunner/internal/poll"
	"github.com/forgeci/vmrunner/internal/trace"
)

// Defaults for unset create options.
const (
	DefaultVCPUs    = 4
	DefaultMemoryMB = 4096
)

// CreateOptions configures the VM a job runs in. Only BaseImage is
// required; the substrate validates whether the combination is actually
// satisfiable when the domain starts.
type CreateOptions struct {
	BaseImage string
	VCPUs     int
	MemoryMB  int
	Network   string
}

// Create provisions the job's VM: a copy-on-write overlay of the base
// image, a headless domain booted from it, and two readiness waits: first
// for a DHCP lease, then for SSH on the leased address. The VM is ready for
// the run verb when Create returns nil.
//
// No rollback happens on failure; the orchestrator invokes cleanup as a
// separate step regardless of create's result.
func (e *Executor) Create(ctx context.Context, opts CreateOptions) error {
	if opts.BaseImage == "" {
		return outcome.Usagef("base image is required (-i)")
	}
	if opts.VCPUs <= 0 {
		opts.VCPUs = DefaultVCPUs
	}
	if opts.MemoryMB <= 0 {
		opts.MemoryMB = DefaultMemoryMB
	}
	network := opts.Network
	if network == "" {
		network = e.cfg.Network
	}

	id := naming.Derive(e.job.ProjectName, e.job.JobID, e.cfg.ImagesRoot)

	trace.Start(e.stdout, sectionProvision)
	defer trace.End(e.stdout, sectionProvision)

	log.Printf("Creating overlay disk for VM '%s'...", id.Name)
	if err := e.vms.CreateOverlay(ctx, opts.BaseImage, id.DiskPath); err != nil {
		return fmt.Errorf("failed to create overlay disk: %w", err)
	}

	seedPath, err := e.writeSeedISO(id)
	if err != nil {
		return err
	}

	log.Printf("Starting VM '%s'...", id.Name)
	spec := libvirt.DomainSpec{
		Name:        id.Name,
		UUID:        id.UUID,
		VCPUs:       opts.VCPUs,
		MemoryMB:    opts.MemoryMB,
		DiskPath:    id.DiskPath,
		SeedISOPath: seedPath,
		Network:     network,
	}
	if err := e.vms.DefineAndStart(ctx, spec); err != nil {
		return fmt.Errorf("failed to start VM: %w", err)
	}

	log.Printf("Waiting for VM '%s' to acquire a network address...", id.Name)
	addr, err := poll.Until(ctx,
		func(ctx context.Context) (string, bool, error) {
			return e.vms.Address(ctx, id.Name)
		},
		e.cfg.Readiness.AddressInterval.Std(),
		e.cfg.Readiness.AddressAttempts,
	)
	if err != nil {
		return fmt.Errorf("VM '%s' never acquired a network address: %w", id.Name, err)
	}
	log.Printf("VM '%s' has address %s", id.Name, addr)

	log.Printf("Waiting for SSH on %s...", addr)
	_, err = poll.Until(ctx,
		func(ctx context.Context) (struct{}, bool, error) {
			if err := e.shell.Probe(ctx, addr); err != nil {
				// The daemon is not up yet or the key is not in place yet;
				// both resolve by waiting.
				return struct{}{}, false, nil
			}
			return struct{}{}, true, nil
		},
		e.cfg.Readiness.ShellInterval.Std(),
		e.cfg.Readiness.ShellAttempts,
	)
	if err != nil {
		return fmt.Errorf("SSH on %s never became reachable: %w", addr, err)
	}

	log.Printf("VM '%s' is ready", id.Name)
	return nil
}

// writeSeedISO generates and writes the cloud-init seed ISO when a public
// key is configured. Returns the ISO path, or "" when seeding is disabled.
func (e *Executor) writeSeedISO(id naming.Identity) (string, error) {
	keyFile := e.cfg.CloudInit.SSHPublicKeyFile
	if keyFile == "" {
		return "", nil
	}

	key, err := os.ReadFile(keyFile)
	if err != nil {
		return "", fmt.Errorf("failed to read public key %s: %w", keyFile, err)
	}

	log.Printf("Generating cloud-init seed ISO for VM '%s'...", id.Name)
	iso, err := cloudinit.GenerateISO(cloudinit.Seed{
		InstanceID:    id.Name,
		User:          e.cfg.SSH.User,
		AuthorizedKey: string(key),
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate seed ISO: %w", err)
	}

	if err := e.vms.WriteSeedISO(id.SeedISOPath, iso); err != nil {
		return "", fmt.Errorf("failed to write seed ISO: %w", err)
	}

	return id.SeedISOPath, nil
}
