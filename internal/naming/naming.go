// Package naming provides the naming conventions that tie the three
// lifecycle verbs together. Each verb runs as an independent process, so
// every name here must be a pure function of the job context: the create,
// run and cleanup invocations reconstruct identical identities without any
// shared state.
package naming

import (
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
)

// domainNamespace seeds the SHA1-derived libvirt domain UUIDs. Fixed so the
// same VM name always maps to the same UUID.
var domainNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// Identity is the derived per-job VM identity. It is recomputed in every
// invocation and never persisted.
type Identity struct {
	// Name is the libvirt domain name, unique per running job.
	Name string

	// UUID is a stable domain UUID derived from Name, so a redefinition
	// after a crashed invocation reuses the same identity.
	UUID string

	// DiskPath is the qcow2 copy-on-write overlay backing the VM.
	DiskPath string

	// SeedISOPath is the optional cloud-init seed ISO next to the overlay.
	SeedISOPath string
}

// Derive computes the VM identity for a job.
//
// Format: runner-{project}-{jobID}, overlay at {imagesRoot}/{name}.qcow2.
// Uniqueness across concurrently running jobs follows from the caller
// guaranteeing distinct (project, jobID) pairs.
func Derive(projectName, jobID, imagesRoot string) Identity {
	name := VMName(projectName, jobID)
	return Identity{
		Name:        name,
		UUID:        DomainUUID(name),
		DiskPath:    DiskPath(imagesRoot, name),
		SeedISOPath: SeedISOPath(imagesRoot, name),
	}
}

// VMName returns the libvirt domain name for a job.
// Format: runner-{project}-{jobID}
func VMName(projectName, jobID string) string {
	return fmt.Sprintf("runner-%s-%s", projectName, jobID)
}

// DiskPath returns the path of the VM's overlay disk image.
// Format: {imagesRoot}/{vmName}.qcow2
func DiskPath(imagesRoot, vmName string) string {
	return filepath.Join(imagesRoot, vmName+".qcow2")
}

// SeedISOPath returns the path of the VM's cloud-init seed ISO.
// Format: {imagesRoot}/{vmName}_cloudinit.iso
func SeedISOPath(imagesRoot, vmName string) string {
	return filepath.Join(imagesRoot, vmName+"_cloudinit.iso")
}

// DomainUUID returns a deterministic UUID for a VM name.
func DomainUUID(vmName string) string {
	return uuid.NewSHA1(domainNamespace, []byte(vmName)).String()
}
