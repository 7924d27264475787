// Package machine adapts the virtualization substrate (libvirt + qemu-img)
// into the operations the lifecycle verbs need: overlay creation, domain
// define/start, lease address lookup, and idempotent teardown.
//
// Teardown operations treat "already gone" as success: cleanup may run after
// a partially failed create, after a completed job, or twice in a row, and
// must succeed in all of them.
package machine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/digitalocean/go-libvirt"

	vmrunnerlibvirt "github.com/forgeci/vmrunner/internal/libvirt"
)

// execCommand creates qemu-img commands; overridable in tests.
var execCommand = exec.CommandContext

// libvirtClient defines the libvirt operations needed for VM management.
// In production this is satisfied by *libvirt.Libvirt directly; in tests by
// mock implementations.
type libvirtClient interface {
	DomainLookupByName(name string) (libvirt.Domain, error)
	DomainDefineXML(xml string) (libvirt.Domain, error)
	DomainCreate(dom libvirt.Domain) error
	DomainDestroy(dom libvirt.Domain) error
	DomainUndefineFlags(dom libvirt.Domain, flags libvirt.DomainUndefineFlagsValues) error
	DomainInterfaceAddresses(dom libvirt.Domain, source uint32, flags uint32) ([]libvirt.DomainInterface, error)
}

// Manager performs VM substrate operations for the lifecycle verbs.
type Manager struct {
	lv libvirtClient
}

// NewManager creates a Manager on top of a connected go-libvirt client.
func NewManager(lv *libvirt.Libvirt) *Manager {
	return &Manager{lv: lv}
}

func newManagerWithClient(lv libvirtClient) *Manager {
	return &Manager{lv: lv}
}

// CreateOverlay creates a qcow2 copy-on-write overlay at overlayPath backed
// by basePath. The base image is never written to.
//
// This shells out to qemu-img rather than using libvirt storage pools; the
// images root is a plain directory shared with the orchestrator's
// out-of-band reclamation tooling.
func (m *Manager) CreateOverlay(ctx context.Context, basePath, overlayPath string) error {
	if _, err := os.Stat(basePath); err != nil {
		return fmt.Errorf("base image %s: %w", basePath, err)
	}

	cmd := execCommand(ctx,
		"qemu-img", "create",
		"-f", "qcow2",
		"-b", basePath,
		"-F", "qcow2",
		overlayPath,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("qemu-img create failed: %w: %s", err, strings.TrimSpace(string(out)))
	}

	return nil
}

// DefineAndStart persistently defines the domain described by spec and
// starts it. The definition outlives a host crash, so Undefine can still
// find it during a later cleanup. The domain is headless and the call
// returns as soon as libvirt has started the VM; boot progress is observed
// separately via Address.
func (m *Manager) DefineAndStart(ctx context.Context, spec vmrunnerlibvirt.DomainSpec) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	xml, err := vmrunnerlibvirt.GenerateDomainXML(spec)
	if err != nil {
		return fmt.Errorf("failed to generate domain XML: %w", err)
	}

	dom, err := m.lv.DomainDefineXML(xml)
	if err != nil {
		return fmt.Errorf("failed to define domain %s: %w", spec.Name, err)
	}

	if err := m.lv.DomainCreate(dom); err != nil {
		return fmt.Errorf("failed to start domain %s: %w", spec.Name, err)
	}

	return nil
}

// Address queries the DHCP lease table for the domain's IPv4 address.
// Returns ok=false while no lease exists yet. A missing domain is an error:
// address queries only make sense against a created VM.
//
// Any CIDR suffix is stripped before returning the address.
func (m *Manager) Address(ctx context.Context, name string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	dom, err := m.lv.DomainLookupByName(name)
	if err != nil {
		return "", false, fmt.Errorf("VM %s not found: %w", name, err)
	}

	ifaces, err := m.lv.DomainInterfaceAddresses(dom, uint32(libvirt.DomainInterfaceAddressesSrcLease), 0)
	if err != nil {
		// The lease table query can fail transiently while the guest is
		// still acquiring its address; report not-ready, not failure.
		return "", false, nil
	}

	for _, iface := range ifaces {
		for _, addr := range iface.Addrs {
			if addr.Type != int32(libvirt.IPAddrTypeIpv4) {
				continue
			}
			ip := addr.Addr
			if i := strings.IndexByte(ip, '/'); i >= 0 {
				ip = ip[:i]
			}
			if ip != "" {
				return ip, true, nil
			}
		}
	}

	return "", false, nil
}

// Stop force-stops the domain. A domain that is absent or already stopped
// counts as success.
func (m *Manager) Stop(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dom, err := m.lv.DomainLookupByName(name)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to look up domain %s: %w", name, err)
	}

	if err := m.lv.DomainDestroy(dom); err != nil {
		if isNotFound(err) || isNotRunning(err) {
			return nil
		}
		return fmt.Errorf("failed to stop domain %s: %w", name, err)
	}

	return nil
}

// Undefine removes the domain definition. An absent domain counts as
// success.
func (m *Manager) Undefine(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dom, err := m.lv.DomainLookupByName(name)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to look up domain %s: %w", name, err)
	}

	if err := m.lv.DomainUndefineFlags(dom, libvirt.DomainUndefineNvram); err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to undefine domain %s: %w", name, err)
	}

	return nil
}

// RemoveDisk deletes a disk image file. A missing file counts as success.
func (m *Manager) RemoveDisk(path string) error {
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}

// WriteSeedISO writes a cloud-init seed ISO next to the overlay disk.
func (m *Manager) WriteSeedISO(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write seed ISO %s: %w", path, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var lverr libvirt.Error
	return errors.As(err, &lverr) && lverr.Code == uint32(libvirt.ErrNoDomain)
}

func isNotRunning(err error) bool {
	var lverr libvirt.Error
	return errors.As(err, &lverr) && lverr.Code == uint32(libvirt.ErrOperationInvalid)
}
