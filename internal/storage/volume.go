package storage

import (
	"fmt"

	"github.com/digitalocean/go-libvirt"
	libvirtxml "libvirt.org/go/libvirtxml"
)

// createVolume creates a new volume in pool.
func (m *Manager) createVolume(pool libvirt.StoragePool, spec VolumeSpec) (libvirt.StorageVol, error) {
	if err := spec.Validate(); err != nil {
		return libvirt.StorageVol{}, fmt.Errorf("invalid volume spec: %w", err)
	}

	volumeXML, err := generateVolumeXML(spec)
	if err != nil {
		return libvirt.StorageVol{}, fmt.Errorf("failed to generate volume XML: %w", err)
	}

	vol, err := m.client.StorageVolCreateXML(pool, volumeXML, 0)
	if err != nil {
		return libvirt.StorageVol{}, fmt.Errorf("failed to create volume %s: %w", spec.Name, err)
	}
	return vol, nil
}

// cloneVolume copies src into a new volume named name in pool.
func (m *Manager) cloneVolume(pool libvirt.StoragePool, src libvirt.StorageVol, name string, format VolumeFormat) (libvirt.StorageVol, error) {
	_, capacity, _, err := m.client.StorageVolGetInfo(src)
	if err != nil {
		return libvirt.StorageVol{}, fmt.Errorf("failed to get volume info for %s: %w", src.Name, err)
	}

	volumeXML, err := generateVolumeXML(VolumeSpec{Name: name, Format: format, Capacity: capacity})
	if err != nil {
		return libvirt.StorageVol{}, fmt.Errorf("failed to generate volume XML: %w", err)
	}

	vol, err := m.client.StorageVolCreateXMLFrom(pool, volumeXML, src, 0)
	if err != nil {
		return libvirt.StorageVol{}, fmt.Errorf("failed to clone volume %s to %s: %w", src.Name, name, err)
	}
	return vol, nil
}

// describeVolume collects the state of vol from libvirt.
func (m *Manager) describeVolume(vol libvirt.StorageVol) (*VolumeInfo, error) {
	path, err := m.client.StorageVolGetPath(vol)
	if err != nil {
		return nil, fmt.Errorf("failed to get volume path: %w", err)
	}

	_, capacity, allocation, err := m.client.StorageVolGetInfo(vol)
	if err != nil {
		return nil, fmt.Errorf("failed to get volume info: %w", err)
	}

	xmlDesc, err := m.client.StorageVolGetXMLDesc(vol, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to get volume XML: %w", err)
	}

	var def libvirtxml.StorageVolume
	if err := def.Unmarshal(xmlDesc); err != nil {
		return nil, fmt.Errorf("failed to parse volume XML: %w", err)
	}

	info := &VolumeInfo{
		Name:       vol.Name,
		Key:        vol.Key,
		Path:       path,
		Pool:       vol.Pool,
		Capacity:   capacity,
		Allocation: allocation,
		Format:     VolumeFormatRaw,
	}
	if def.Target != nil && def.Target.Format != nil && def.Target.Format.Type != "" {
		info.Format = VolumeFormat(def.Target.Format.Type)
	}
	if def.BackingStore != nil {
		info.BackingPath = def.BackingStore.Path
	}
	return info, nil
}

// volumeKey names the records of vol in the metadata store.
func volumeKey(vol libvirt.StorageVol) string {
	return vol.Pool + "/" + vol.Name
}

// generateVolumeXML generates XML for a storage volume.
func generateVolumeXML(spec VolumeSpec) (string, error) {
	owner := currentQEMUOwner()

	vol := &libvirtxml.StorageVolume{
		Type: "file",
		Name: spec.Name,
		Capacity: &libvirtxml.StorageVolumeSize{
			Value: spec.Capacity,
			Unit:  "B",
		},
		Target: &libvirtxml.StorageVolumeTarget{
			Format: &libvirtxml.StorageVolumeTargetFormat{
				Type: string(spec.Format),
			},
			Permissions: &libvirtxml.StorageVolumeTargetPermissions{
				Owner: owner.UID,
				Group: owner.GID,
				Mode:  "0644",
			},
		},
	}

	if spec.Preallocate {
		vol.Allocation = &libvirtxml.StorageVolumeSize{
			Value: spec.Capacity,
			Unit:  "B",
		}
	} else {
		vol.Allocation = &libvirtxml.StorageVolumeSize{Value: 0, Unit: "B"}
	}

	if spec.BackingPath != "" {
		backingFormat, err := FormatForPath(spec.BackingPath)
		if err != nil {
			backingFormat = VolumeFormatQCOW2
		}
		vol.BackingStore = &libvirtxml.StorageVolumeBackingStore{
			Path: spec.BackingPath,
			Format: &libvirtxml.StorageVolumeTargetFormat{
				Type: string(backingFormat),
			},
		}
	}

	xml, err := vol.Marshal()
	if err != nil {
		return "", err
	}

	return trimXMLHeader(xml), nil
}
