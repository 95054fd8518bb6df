package storage

import (
	"errors"

	"github.com/digitalocean/go-libvirt"
	"github.com/google/uuid"

	"github.com/jbweber/vdisk/internal/metastore"
	"github.com/jbweber/vdisk/internal/vdisk"
)

// identityNamespace derives stable identifiers for volumes that were not
// created through this package.
var identityNamespace = uuid.MustParse("6f4cb1a2-49a4-4c5e-9d2c-0b7d0c3f5e11")

// GetVirtualDiskInformation answers disk information queries from the
// volume description, the guests using it and the metadata sidecar.
func (m *Manager) GetVirtualDiskInformation(h vdisk.Handle, info *vdisk.DiskInfo) vdisk.Status {
	ov, st := m.lookup(h)
	if st != vdisk.StatusSuccess {
		return st
	}

	vi, err := m.describeVolume(ov.vol)
	if err != nil {
		return m.fail("StorageVolGetXMLDesc", err)
	}

	switch info.Version {
	case vdisk.InfoSize:
		info.Size = vdisk.SizeInfo{
			VirtualSize:  vi.Capacity,
			PhysicalSize: vi.Allocation,
			SectorSize:   vdisk.SectorSize,
		}
	case vdisk.InfoIdentifier:
		info.Identifier = m.identity(ov.vol, metastore.FieldIdentifier)
	case vdisk.InfoVirtualDiskID:
		info.VirtualDiskID = m.identity(ov.vol, metastore.FieldVirtualDiskID)
	case vdisk.InfoParentLocation:
		if vi.BackingPath == "" {
			return vdisk.StatusInvalidParameter
		}
		_, err := m.client.StorageVolLookupByPath(vi.BackingPath)
		info.ParentResolved = err == nil
		info.ParentLocations = []string{vi.BackingPath}
	case vdisk.InfoParentIdentifier:
		if vi.BackingPath == "" {
			return vdisk.StatusInvalidParameter
		}
		parent, err := m.client.StorageVolLookupByPath(vi.BackingPath)
		if err != nil {
			return m.fail("StorageVolLookupByPath", err)
		}
		info.ParentIdentifier = m.identity(parent, metastore.FieldIdentifier)
	case vdisk.InfoVirtualStorageType:
		info.StorageType = vi.Format.DeviceType()
	case vdisk.InfoProviderSubtype:
		info.ProviderSubtype = providerSubtype(vi)
	case vdisk.InfoIs4kAligned:
		info.Is4kAligned = vi.Capacity%4096 == 0
	case vdisk.InfoPhysicalDisk:
		info.PhysicalDisk = vdisk.PhysicalDiskInfo{
			LogicalSectorSize:  vdisk.SectorSize,
			PhysicalSectorSize: vdisk.SectorSize,
		}
	case vdisk.InfoPhysicalSectorSize:
		info.PhysicalSectorSize = vdisk.SectorSize
	case vdisk.InfoSmallestSafeVirtualSize:
		info.SmallestSafeVirtualSize = vi.Capacity
	case vdisk.InfoIsLoaded:
		_, _, found, err := m.findAttachment(ov.vol, vi.Path)
		if err != nil {
			return m.fail("DomainGetXMLDesc", err)
		}
		info.IsLoaded = found
	default:
		return vdisk.StatusNotSupported
	}
	return vdisk.StatusSuccess
}

// SetVirtualDiskInformation records identifiers in the metadata sidecar.
// Rebasing and sector size changes are not available through libvirt.
func (m *Manager) SetVirtualDiskInformation(h vdisk.Handle, info *vdisk.SetInfo) vdisk.Status {
	ov, st := m.lookup(h)
	if st != vdisk.StatusSuccess {
		return st
	}
	if !ov.writable() {
		return vdisk.StatusAccessDenied
	}

	var field string
	var id uuid.UUID
	switch info.Version {
	case vdisk.SetInfoIdentifier:
		field, id = metastore.FieldIdentifier, info.Identifier
	case vdisk.SetInfoVirtualDiskID:
		field, id = metastore.FieldVirtualDiskID, info.VirtualDiskID
	default:
		return vdisk.StatusNotSupported
	}

	if m.meta == nil {
		return vdisk.StatusNotSupported
	}
	if err := m.meta.SetIdentity(volumeKey(ov.vol), field, id); err != nil {
		return m.fail("MetadataSetIdentity", err)
	}
	return vdisk.StatusSuccess
}

// identity returns the recorded identifier of vol, or one derived from its
// libvirt key.
func (m *Manager) identity(vol libvirt.StorageVol, field string) uuid.UUID {
	if m.meta != nil {
		id, err := m.meta.Identity(volumeKey(vol), field)
		if err == nil {
			return id
		}
		if !errors.Is(err, metastore.ErrNotFound) {
			m.log.WithError(err).Warn("Failed to read disk identifier")
		}
	}
	key := vol.Key
	if key == "" {
		key = volumeKey(vol)
	}
	return uuid.NewSHA1(identityNamespace, []byte(field+":"+key))
}

func providerSubtype(vi *VolumeInfo) uint32 {
	switch {
	case vi.BackingPath != "":
		return vdisk.ProviderSubtypeDifferencing
	case vi.Allocation >= vi.Capacity:
		return vdisk.ProviderSubtypeFixed
	default:
		return vdisk.ProviderSubtypeDynamic
	}
}
