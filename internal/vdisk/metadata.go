package vdisk

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// MetadataStore reads and writes the GUID-keyed blobs attached to a disk.
// It is bound to one Disk and shares its handle.
type MetadataStore struct {
	disk *Disk
}

// Metadata returns the metadata store of the disk.
func (d *Disk) Metadata() *MetadataStore {
	return &MetadataStore{disk: d}
}

func (m *MetadataStore) handle(op string) (Handle, error) {
	if !m.disk.IsOpen() {
		return 0, fmt.Errorf("metadata %s: %w", op, ErrNotOpen)
	}
	return m.disk.handle, nil
}

// Set attaches data under key, overwriting any existing blob.
func (m *MetadataStore) Set(ctx context.Context, key uuid.UUID, data []byte) error {
	h, err := m.handle("set")
	if err != nil {
		return err
	}
	if st := m.disk.platform.SetVirtualDiskMetadata(h, key, data); st != StatusSuccess {
		return platformError("SetVirtualDiskMetadata", m.disk.path, st)
	}
	m.disk.log.WithField("key", key.String()).Debugf("Set %d bytes of metadata", len(data))
	return nil
}

// Get copies the blob stored under key into buf and returns its size.
// buf must already be sized for the blob; Size reports the required size.
// A buffer of the wrong size or a missing key is a *PlatformError.
func (m *MetadataStore) Get(ctx context.Context, key uuid.UUID, buf []byte) (uint32, error) {
	h, err := m.handle("get")
	if err != nil {
		return 0, err
	}
	n, st := m.disk.platform.GetVirtualDiskMetadata(h, key, buf)
	if st != StatusSuccess {
		return n, platformError("GetVirtualDiskMetadata", m.disk.path, st)
	}
	return n, nil
}

// Size returns the size of the blob stored under key.
func (m *MetadataStore) Size(ctx context.Context, key uuid.UUID) (uint32, error) {
	h, err := m.handle("size")
	if err != nil {
		return 0, err
	}
	n, st := m.disk.platform.GetVirtualDiskMetadata(h, key, nil)
	if st != StatusSuccess && !bufferTooSmall(st) {
		return 0, platformError("GetVirtualDiskMetadata", m.disk.path, st)
	}
	return n, nil
}

// Lookup returns the blob stored under key.
func (m *MetadataStore) Lookup(ctx context.Context, key uuid.UUID) ([]byte, error) {
	size, err := m.Size(ctx, key)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	if size == 0 {
		return buf, nil
	}
	n, err := m.Get(ctx, key, buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// Delete removes the blob stored under key. Deleting a missing key fails.
func (m *MetadataStore) Delete(ctx context.Context, key uuid.UUID) error {
	h, err := m.handle("delete")
	if err != nil {
		return err
	}
	if st := m.disk.platform.DeleteVirtualDiskMetadata(h, key); st != StatusSuccess {
		return platformError("DeleteVirtualDiskMetadata", m.disk.path, st)
	}
	return nil
}

// Keys enumerates the metadata keys of the disk.
//
// The first call probes the count with no buffer; an insufficient-buffer
// status is expected. The second call fills a buffer of that count, and the
// count it returns is authoritative even if it differs from the probe.
func (m *MetadataStore) Keys(ctx context.Context) ([]uuid.UUID, error) {
	h, err := m.handle("enumerate")
	if err != nil {
		return nil, err
	}

	count, st := m.disk.platform.EnumerateVirtualDiskMetadata(h, nil)
	switch {
	case st == StatusSuccess && count == 0:
		return []uuid.UUID{}, nil
	case st != StatusSuccess && !bufferTooSmall(st):
		return nil, platformError("EnumerateVirtualDiskMetadata", m.disk.path, st)
	}

	keys := make([]uuid.UUID, count)
	n, st := m.disk.platform.EnumerateVirtualDiskMetadata(h, keys)
	if st != StatusSuccess {
		return nil, platformError("EnumerateVirtualDiskMetadata", m.disk.path, st)
	}
	if int(n) < len(keys) {
		keys = keys[:n]
	}
	return keys, nil
}
