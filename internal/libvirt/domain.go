package libvirt

import (
	"fmt"
	"path/filepath"

	"libvirt.org/go/libvirtxml"
)

// DiskRef identifies an image the way a domain can reference it: by file
// path, or by pool and volume name.
type DiskRef struct {
	Path   string
	Pool   string
	Volume string
}

// AttachedDisk is one disk of a domain that references an image.
type AttachedDisk struct {
	Domain string // Domain name
	Target string // Target device, e.g. "vda"
	Format string // Driver format, e.g. "qcow2"
}

// FindDisk returns the disk of the domain described by domainXML that
// references ref. It returns false if the domain does not use the image.
func FindDisk(domainXML string, ref DiskRef) (AttachedDisk, bool, error) {
	var domain libvirtxml.Domain
	if err := domain.Unmarshal(domainXML); err != nil {
		return AttachedDisk{}, false, fmt.Errorf("failed to parse domain XML: %w", err)
	}
	if domain.Devices == nil {
		return AttachedDisk{}, false, nil
	}

	for _, disk := range domain.Devices.Disks {
		if disk.Source == nil || disk.Target == nil || !matches(disk.Source, ref) {
			continue
		}
		attached := AttachedDisk{Domain: domain.Name, Target: disk.Target.Dev}
		if disk.Driver != nil {
			attached.Format = disk.Driver.Type
		}
		return attached, true, nil
	}
	return AttachedDisk{}, false, nil
}

func matches(src *libvirtxml.DomainDiskSource, ref DiskRef) bool {
	switch {
	case src.File != nil:
		return ref.Path != "" && filepath.Clean(src.File.File) == filepath.Clean(ref.Path)
	case src.Volume != nil:
		return ref.Volume != "" && src.Volume.Pool == ref.Pool && src.Volume.Volume == ref.Volume
	default:
		return false
	}
}

// BlockCopyDestXML generates the destination disk XML of a block copy job
// writing to the file at path in the given format.
func BlockCopyDestXML(path, format string) (string, error) {
	disk := &libvirtxml.DomainDisk{
		Device: "disk",
		Driver: &libvirtxml.DomainDiskDriver{
			Name: "qemu",
			Type: format,
		},
		Source: &libvirtxml.DomainDiskSource{
			File: &libvirtxml.DomainDiskSourceFile{
				File: path,
			},
		},
	}

	xml, err := disk.Marshal()
	if err != nil {
		return "", fmt.Errorf("failed to marshal block copy destination XML: %w", err)
	}
	return xml, nil
}
