package libvirt

import (
	"fmt"
	"path/filepath"

	"libvirt.org/go/libvirtxml"

	"github.com/jimyag/vmhost/pkg/provisioner"
)

const (
	defaultCPU      = 1
	defaultMemoryMB = 1024
)

// DomainXML 生成 KVM 域定义
// box 是磁盘镜像路径，相对路径相对于 imageDir
// seedISO 非空时作为 cloud-init 种子以只读光驱挂载
func DomainXML(name, box, imageDir, network, seedISO string, opts provisioner.CreateOptions) (string, error) {
	cpu := opts.CPU
	if cpu <= 0 {
		cpu = defaultCPU
	}
	memoryMB := opts.MemoryMB
	if memoryMB <= 0 {
		memoryMB = defaultMemoryMB
	}

	diskPath := box
	if !filepath.IsAbs(diskPath) {
		diskPath = filepath.Join(imageDir, box)
	}

	domain := &libvirtxml.Domain{
		Type: "kvm",
		Name: name,
		Memory: &libvirtxml.DomainMemory{
			Value: uint(memoryMB),
			Unit:  "MiB",
		},
		VCPU: &libvirtxml.DomainVCPU{
			Placement: "static",
			Value:     uint(cpu),
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
		OnPoweroff: "destroy",
		OnReboot:   "restart",
		OnCrash:    "restart",
		Devices: &libvirtxml.DomainDeviceList{
			Disks: []libvirtxml.DomainDisk{
				{
					Device: "disk",
					Driver: &libvirtxml.DomainDiskDriver{
						Name: "qemu",
						Type: "qcow2",
					},
					Source: &libvirtxml.DomainDiskSource{
						File: &libvirtxml.DomainDiskSourceFile{
							File: diskPath,
						},
					},
					Target: &libvirtxml.DomainDiskTarget{
						Dev: "vda",
						Bus: "virtio",
					},
				},
			},
			Interfaces: []libvirtxml.DomainInterface{
				{
					Source: &libvirtxml.DomainInterfaceSource{
						Network: &libvirtxml.DomainInterfaceSourceNetwork{
							Network: network,
						},
					},
					Model: &libvirtxml.DomainInterfaceModel{
						Type: "virtio",
					},
				},
			},
		},
	}

	if seedISO != "" {
		domain.Devices.Disks = append(domain.Devices.Disks, libvirtxml.DomainDisk{
			Device: "cdrom",
			Driver: &libvirtxml.DomainDiskDriver{
				Name: "qemu",
				Type: "raw",
			},
			Source: &libvirtxml.DomainDiskSource{
				File: &libvirtxml.DomainDiskSourceFile{
					File: seedISO,
				},
			},
			Target: &libvirtxml.DomainDiskTarget{
				Dev: "sda",
				Bus: "sata",
			},
			ReadOnly: &libvirtxml.DomainDiskReadOnly{},
		})
	}

	out, err := domain.Marshal()
	if err != nil {
		return "", fmt.Errorf("marshal domain xml for %s: %w", name, err)
	}
	return out, nil
}
