package storage

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/digitalocean/go-libvirt"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jbweber/vdisk/internal/metastore"
	"github.com/jbweber/vdisk/internal/vdisk"
)

// openVolume is the state behind one handle. The handle table is shared;
// the fields are only touched by the Disk holding the handle.
type openVolume struct {
	vol    libvirt.StorageVol
	access vdisk.AccessMask
	mirror *mirrorJob
}

func (o *openVolume) writable() bool {
	return o.access == vdisk.AccessNone || o.access&vdisk.AccessWritable != 0
}

// operation is the state behind one vdisk.Operation token.
type operation struct {
	handle vdisk.Handle
}

func (m *Manager) register(vol libvirt.StorageVol, access vdisk.AccessMask) vdisk.Handle {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.next++
	h := vdisk.Handle(m.next)
	m.handles[h] = &openVolume{vol: vol, access: access}
	return h
}

func (m *Manager) lookup(h vdisk.Handle) (*openVolume, vdisk.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ov, ok := m.handles[h]
	if !ok {
		return nil, vdisk.StatusInvalidHandle
	}
	return ov, vdisk.StatusSuccess
}

func (m *Manager) lookupPool() (libvirt.StoragePool, vdisk.Status) {
	pool, err := m.client.StoragePoolLookupByName(m.pool)
	if err != nil {
		return libvirt.StoragePool{}, m.fail("StoragePoolLookupByName", err)
	}
	return pool, vdisk.StatusSuccess
}

// volumeName maps an image path to the name of its volume in the pool.
// Absolute paths must lie in the pool directory.
func (m *Manager) volumeName(pool libvirt.StoragePool, path string) (string, vdisk.Status) {
	name := filepath.Base(path)
	if name == "." || name == string(filepath.Separator) {
		return "", vdisk.StatusInvalidParameter
	}
	if !filepath.IsAbs(path) {
		return name, vdisk.StatusSuccess
	}

	dir, err := m.poolPath(pool)
	if err != nil {
		return "", m.fail("StoragePoolGetXMLDesc", err)
	}
	if filepath.Clean(filepath.Dir(path)) != filepath.Clean(dir) {
		m.log.WithField("path", path).Warnf("Image is outside the pool directory %s", dir)
		return "", vdisk.StatusInvalidParameter
	}
	return name, vdisk.StatusSuccess
}

// resolveVolume finds the volume of an existing image, refreshing the pool
// once in case the file was created outside libvirt.
func (m *Manager) resolveVolume(path string) (libvirt.StorageVol, vdisk.Status) {
	find := func() (libvirt.StorageVol, error) {
		if filepath.IsAbs(path) {
			return m.client.StorageVolLookupByPath(path)
		}
		pool, err := m.client.StoragePoolLookupByName(m.pool)
		if err != nil {
			return libvirt.StorageVol{}, err
		}
		return m.client.StorageVolLookupByName(pool, filepath.Base(path))
	}

	vol, err := find()
	if hasErrorCode(err, libvirt.ErrNoStorageVol) {
		if rerr := m.RefreshPool(context.Background(), m.pool); rerr == nil {
			vol, err = find()
		}
	}
	if err != nil {
		return libvirt.StorageVol{}, m.fail("StorageVolLookup", err)
	}
	return vol, vdisk.StatusSuccess
}

// CreateVirtualDisk creates a volume in the pool.
func (m *Manager) CreateVirtualDisk(path string, access vdisk.AccessMask, flags vdisk.CreateFlag, params *vdisk.CreateParameters) (vdisk.Handle, vdisk.Status) {
	if params == nil {
		return 0, vdisk.StatusInvalidParameter
	}

	pool, st := m.lookupPool()
	if st != vdisk.StatusSuccess {
		return 0, st
	}
	name, st := m.volumeName(pool, path)
	if st != vdisk.StatusSuccess {
		return 0, st
	}
	format, err := FormatForPath(path)
	if err != nil {
		m.log.WithError(err).Warn("Cannot create image")
		return 0, vdisk.StatusInvalidParameter
	}

	spec := VolumeSpec{
		Name:        name,
		Format:      format,
		Capacity:    params.MaximumSize,
		Preallocate: flags&vdisk.CreateFlagFullPhysicalAllocation != 0,
	}

	if params.ParentPath != "" {
		if !format.SupportsBacking() {
			m.log.WithField("format", format).Warn("Differencing images need the qcow2 format")
			return 0, vdisk.StatusNotSupported
		}
		parent, st := m.resolveVolume(params.ParentPath)
		if st != vdisk.StatusSuccess {
			return 0, st
		}
		parentInfo, err := m.describeVolume(parent)
		if err != nil {
			return 0, m.fail("StorageVolGetInfo", err)
		}
		spec.BackingPath = parentInfo.Path
		if spec.Capacity == 0 {
			spec.Capacity = parentInfo.Capacity
		}
	}

	vol, err := m.createVolume(pool, spec)
	if err != nil {
		var lerr libvirt.Error
		if errors.As(err, &lerr) {
			return 0, m.fail("StorageVolCreateXML", err)
		}
		m.log.WithError(err).Warn("Cannot create image")
		return 0, vdisk.StatusInvalidParameter
	}

	if m.meta != nil && params.UniqueID != uuid.Nil {
		key := volumeKey(vol)
		for _, field := range []string{metastore.FieldIdentifier, metastore.FieldVirtualDiskID} {
			if err := m.meta.SetIdentity(key, field, params.UniqueID); err != nil {
				m.log.WithError(err).WithField("volume", key).Warn("Failed to record disk identifier")
			}
		}
	}

	m.log.WithFields(logrus.Fields{"volume": vol.Name, "format": format, "capacity": spec.Capacity}).Debug("Created volume")
	return m.register(vol, access), vdisk.StatusSuccess
}

// OpenVirtualDisk opens an existing volume by path or by name.
func (m *Manager) OpenVirtualDisk(path string, access vdisk.AccessMask, flags vdisk.OpenFlag) (vdisk.Handle, vdisk.Status) {
	vol, st := m.resolveVolume(path)
	if st != vdisk.StatusSuccess {
		return 0, st
	}
	return m.register(vol, access), vdisk.StatusSuccess
}

// CloseHandle forgets h. A mirror job still running on it is left to
// libvirt.
func (m *Manager) CloseHandle(h vdisk.Handle) vdisk.Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	ov, ok := m.handles[h]
	if !ok {
		return vdisk.StatusInvalidHandle
	}
	if ov.mirror != nil && ov.mirror.domain != nil {
		m.log.WithField("volume", ov.vol.Name).Warn("Closing handle with an unbroken mirror")
	}
	delete(m.handles, h)
	return vdisk.StatusSuccess
}

// OpenDrive is not available: libvirt has no notion of host drives.
func (m *Manager) OpenDrive(path string) (vdisk.Handle, vdisk.Status) {
	return 0, vdisk.StatusNotSupported
}

// CreateOperation allocates an operation token.
func (m *Manager) CreateOperation() (vdisk.Operation, vdisk.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.next++
	op := vdisk.Operation(m.next)
	m.ops[op] = &operation{}
	return op, vdisk.StatusSuccess
}

// ReleaseOperation frees an operation token.
func (m *Manager) ReleaseOperation(op vdisk.Operation) vdisk.Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.ops[op]; !ok {
		return vdisk.StatusInvalidHandle
	}
	delete(m.ops, op)
	return vdisk.StatusSuccess
}

// bind associates op with h for the lifetime of an asynchronous request.
func (m *Manager) bind(h vdisk.Handle, op vdisk.Operation) vdisk.Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.ops[op]
	if !ok {
		return vdisk.StatusInvalidHandle
	}
	o.handle = h
	return vdisk.StatusSuccess
}

// ResizeVirtualDisk changes the capacity of the volume.
func (m *Manager) ResizeVirtualDisk(h vdisk.Handle, newSize uint64) vdisk.Status {
	ov, st := m.lookup(h)
	if st != vdisk.StatusSuccess {
		return st
	}
	if !ov.writable() {
		return vdisk.StatusAccessDenied
	}

	_, capacity, _, err := m.client.StorageVolGetInfo(ov.vol)
	if err != nil {
		return m.fail("StorageVolGetInfo", err)
	}

	var flags libvirt.StorageVolResizeFlags
	if newSize < capacity {
		flags = libvirt.StorageVolResizeShrink
	}
	if err := m.client.StorageVolResize(ov.vol, newSize, flags); err != nil {
		return m.fail("StorageVolResize", err)
	}
	return vdisk.StatusSuccess
}

// SetVirtualDiskMetadata stores a blob in the metadata sidecar.
func (m *Manager) SetVirtualDiskMetadata(h vdisk.Handle, key uuid.UUID, data []byte) vdisk.Status {
	ov, st := m.metadataHandle(h)
	if st != vdisk.StatusSuccess {
		return st
	}
	if !ov.writable() {
		return vdisk.StatusAccessDenied
	}
	if err := m.meta.Set(volumeKey(ov.vol), key, data); err != nil {
		return m.fail("MetadataSet", err)
	}
	return vdisk.StatusSuccess
}

// GetVirtualDiskMetadata copies a blob from the metadata sidecar.
func (m *Manager) GetVirtualDiskMetadata(h vdisk.Handle, key uuid.UUID, buf []byte) (uint32, vdisk.Status) {
	ov, st := m.metadataHandle(h)
	if st != vdisk.StatusSuccess {
		return 0, st
	}

	data, err := m.meta.Get(volumeKey(ov.vol), key)
	if errors.Is(err, metastore.ErrNotFound) {
		return 0, vdisk.StatusNotFound
	}
	if err != nil {
		return 0, m.fail("MetadataGet", err)
	}

	size := uint32(len(data))
	if len(buf) < len(data) {
		return size, vdisk.StatusInsufficientBuffer
	}
	copy(buf, data)
	return size, vdisk.StatusSuccess
}

// DeleteVirtualDiskMetadata removes a blob from the metadata sidecar.
func (m *Manager) DeleteVirtualDiskMetadata(h vdisk.Handle, key uuid.UUID) vdisk.Status {
	ov, st := m.metadataHandle(h)
	if st != vdisk.StatusSuccess {
		return st
	}
	if !ov.writable() {
		return vdisk.StatusAccessDenied
	}

	err := m.meta.Delete(volumeKey(ov.vol), key)
	if errors.Is(err, metastore.ErrNotFound) {
		return vdisk.StatusNotFound
	}
	if err != nil {
		return m.fail("MetadataDelete", err)
	}
	return vdisk.StatusSuccess
}

// EnumerateVirtualDiskMetadata lists the metadata keys of the volume.
func (m *Manager) EnumerateVirtualDiskMetadata(h vdisk.Handle, keys []uuid.UUID) (uint32, vdisk.Status) {
	ov, st := m.metadataHandle(h)
	if st != vdisk.StatusSuccess {
		return 0, st
	}

	stored, err := m.meta.Keys(volumeKey(ov.vol))
	if err != nil {
		return 0, m.fail("MetadataKeys", err)
	}

	count := uint32(len(stored))
	if len(keys) < len(stored) {
		return count, vdisk.StatusInsufficientBuffer
	}
	copy(keys, stored)
	return count, vdisk.StatusSuccess
}

func (m *Manager) metadataHandle(h vdisk.Handle) (*openVolume, vdisk.Status) {
	ov, st := m.lookup(h)
	if st != vdisk.StatusSuccess {
		return nil, st
	}
	if m.meta == nil {
		return nil, vdisk.StatusNotSupported
	}
	return ov, vdisk.StatusSuccess
}

// GetStorageDependencyInformation is not available on libvirt hosts.
func (m *Manager) GetStorageDependencyInformation(h vdisk.Handle, flags vdisk.DependencyFlag, size uint32) ([]vdisk.DependencyEntry, uint32, vdisk.Status) {
	return nil, 0, vdisk.StatusNotSupported
}
