package libvirt

import (
	"fmt"

	"libvirt.org/go/libvirtxml"
)

// DomainSpec describes a single-job runner VM. The domain is headless: no
// graphics device is attached, and the serial console goes to a pty nobody
// holds, so defining and starting it never blocks on an interactive console.
type DomainSpec struct {
	Name     string
	UUID     string
	VCPUs    int
	MemoryMB int

	// DiskPath is the qcow2 overlay used as the boot disk.
	DiskPath string

	// SeedISOPath optionally attaches a cloud-init NoCloud seed ISO.
	SeedISOPath string

	// Network is the libvirt network the single interface attaches to.
	Network string
}

// GenerateDomainXML generates libvirt domain XML for a runner VM.
func GenerateDomainXML(spec DomainSpec) (string, error) {
	if spec.Name == "" {
		return "", fmt.Errorf("domain name is required")
	}
	if spec.DiskPath == "" {
		return "", fmt.Errorf("disk path is required")
	}
	if spec.VCPUs < 1 {
		return "", fmt.Errorf("vcpus must be >= 1, got %d", spec.VCPUs)
	}
	if spec.MemoryMB < 1 {
		return "", fmt.Errorf("memory must be >= 1 MiB, got %d", spec.MemoryMB)
	}

	domain := &libvirtxml.Domain{
		Type: "kvm",
		Name: spec.Name,
		UUID: spec.UUID,
		Memory: &libvirtxml.DomainMemory{
			Value: uint(spec.MemoryMB),
			Unit:  "MiB",
		},
		VCPU: &libvirtxml.DomainVCPU{
			Placement: "static",
			Value:     uint(spec.VCPUs),
		},
		OS: &libvirtxml.DomainOS{
			Type: &libvirtxml.DomainOSType{
				Arch: "x86_64",
				Type: "hvm",
			},
		},
		Features: &libvirtxml.DomainFeatureList{
			ACPI: &libvirtxml.DomainFeature{},
			APIC: &libvirtxml.DomainFeatureAPIC{},
		},
		CPU: &libvirtxml.DomainCPU{
			Mode: "host-model",
			Model: &libvirtxml.DomainCPUModel{
				Fallback: "allow",
			},
		},
		Clock: &libvirtxml.DomainClock{
			Offset: "utc",
		},
		// The VM is single-use; never bring it back by itself.
		OnPoweroff: "destroy",
		OnReboot:   "restart",
		OnCrash:    "destroy",
		Devices: &libvirtxml.DomainDeviceList{
			MemBalloon: &libvirtxml.DomainMemBalloon{
				Model: "virtio",
			},
			RNGs: []libvirtxml.DomainRNG{
				{
					Model: "virtio",
					Backend: &libvirtxml.DomainRNGBackend{
						Random: &libvirtxml.DomainRNGBackendRandom{
							Device: "/dev/urandom",
						},
					},
				},
			},
		},
	}

	// Boot disk: the per-job qcow2 overlay.
	bootDisk := libvirtxml.DomainDisk{
		Device: "disk",
		Driver: &libvirtxml.DomainDiskDriver{
			Name:  "qemu",
			Type:  "qcow2",
			Cache: "none",
		},
		Source: &libvirtxml.DomainDiskSource{
			File: &libvirtxml.DomainDiskSourceFile{
				File: spec.DiskPath,
			},
		},
		Target: &libvirtxml.DomainDiskTarget{
			Dev: "vda",
			Bus: "virtio",
		},
		Boot: &libvirtxml.DomainDeviceBoot{
			Order: 1,
		},
	}
	domain.Devices.Disks = append(domain.Devices.Disks, bootDisk)

	// Cloud-init seed ISO, if configured.
	if spec.SeedISOPath != "" {
		cdrom := libvirtxml.DomainDisk{
			Device: "cdrom",
			Driver: &libvirtxml.DomainDiskDriver{
				Name: "qemu",
				Type: "raw",
			},
			Source: &libvirtxml.DomainDiskSource{
				File: &libvirtxml.DomainDiskSourceFile{
					File: spec.SeedISOPath,
				},
			},
			Target: &libvirtxml.DomainDiskTarget{
				Dev: "sda",
				Bus: "sata",
			},
			ReadOnly: &libvirtxml.DomainDiskReadOnly{},
		}
		domain.Devices.Disks = append(domain.Devices.Disks, cdrom)
	}

	// Single interface on the configured network. The address comes from the
	// network's DHCP, observed later through the lease table.
	netIface := libvirtxml.DomainInterface{
		Source: &libvirtxml.DomainInterfaceSource{
			Network: &libvirtxml.DomainInterfaceSourceNetwork{
				Network: spec.Network,
			},
		},
		Model: &libvirtxml.DomainInterfaceModel{
			Type: "virtio",
		},
	}
	domain.Devices.Interfaces = append(domain.Devices.Interfaces, netIface)

	// Serial console on a pty; useful for post-mortem virsh console, never
	// attached by this tool.
	domain.Devices.Serials = []libvirtxml.DomainSerial{
		{
			Source: &libvirtxml.DomainChardevSource{
				Pty: &libvirtxml.DomainChardevSourcePty{},
			},
			Target: &libvirtxml.DomainSerialTarget{
				Port: func() *uint { p := uint(0); return &p }(),
			},
		},
	}
	domain.Devices.Consoles = []libvirtxml.DomainConsole{
		{
			Source: &libvirtxml.DomainChardevSource{
				Pty: &libvirtxml.DomainChardevSourcePty{},
			},
			Target: &libvirtxml.DomainConsoleTarget{
				Type: "serial",
				Port: func() *uint { p := uint(0); return &p }(),
			},
		},
	}

	xml, err := domain.Marshal()
	if err != nil {
		return "", fmt.Errorf("failed to marshal domain XML: %w", err)
	}

	return xml, nil
}
