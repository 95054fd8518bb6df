package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/digitalocean/go-libvirt"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbweber/vdisk/internal/metastore"
	"github.com/jbweber/vdisk/internal/vdisk"
)

const testPoolPath = "/srv/vdisk"

func newTestManager(t *testing.T) (*Manager, *mockLibvirtClient, *metastore.Store) {
	t.Helper()

	client := newMockLibvirtClient()
	client.addPool("vdisk", testPoolPath)

	meta, err := metastore.Open(context.Background(), metastore.Config{InMemory: true}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })

	return NewManager(client, WithPool("vdisk"), WithMetadataStore(meta)), client, meta
}

func createTestVolume(t *testing.T, mgr *Manager, path string, size uint64) vdisk.Handle {
	t.Helper()
	h, st := mgr.CreateVirtualDisk(path, vdisk.AccessNone, vdisk.CreateFlagNone, &vdisk.CreateParameters{MaximumSize: size})
	require.Equal(t, vdisk.StatusSuccess, st)
	require.True(t, h.Valid())
	return h
}

func TestManager_CreateVirtualDisk(t *testing.T) {
	mgr, client, meta := newTestManager(t)
	id := uuid.MustParse("8d7e3a4c-1f0b-4a52-9a77-4b1f6b0f2c01")

	h, st := mgr.CreateVirtualDisk(testPoolPath+"/a.qcow2", vdisk.AccessNone, vdisk.CreateFlagNone, &vdisk.CreateParameters{
		UniqueID:    id,
		MaximumSize: 1 << 30,
	})
	require.Equal(t, vdisk.StatusSuccess, st)
	assert.True(t, h.Valid())

	vol := client.volumes["vdisk"]["a.qcow2"]
	require.NotNil(t, vol)
	assert.Equal(t, "qcow2", vol.format)
	assert.Equal(t, uint64(1<<30), vol.capacity)
	assert.Zero(t, vol.allocation)

	for _, field := range []string{metastore.FieldIdentifier, metastore.FieldVirtualDiskID} {
		got, err := meta.Identity("vdisk/a.qcow2", field)
		require.NoError(t, err)
		assert.Equal(t, id, got)
	}
}

func TestManager_CreateVirtualDisk_Preallocated(t *testing.T) {
	mgr, client, _ := newTestManager(t)

	_, st := mgr.CreateVirtualDisk("fixed.raw", vdisk.AccessNone, vdisk.CreateFlagFullPhysicalAllocation, &vdisk.CreateParameters{MaximumSize: 1 << 20})
	require.Equal(t, vdisk.StatusSuccess, st)

	vol := client.volumes["vdisk"]["fixed.raw"]
	require.NotNil(t, vol)
	assert.Equal(t, uint64(1<<20), vol.allocation)
}

func TestManager_CreateVirtualDisk_Errors(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		params *vdisk.CreateParameters
		setup  func(*mockLibvirtClient)
		want   vdisk.Status
	}{
		{
			name: "nil parameters",
			path: "a.qcow2",
			want: vdisk.StatusInvalidParameter,
		},
		{
			name:   "unknown extension",
			path:   "a.vmdk",
			params: &vdisk.CreateParameters{MaximumSize: 1 << 20},
			want:   vdisk.StatusInvalidParameter,
		},
		{
			name:   "outside pool directory",
			path:   "/tmp/a.qcow2",
			params: &vdisk.CreateParameters{MaximumSize: 1 << 20},
			want:   vdisk.StatusInvalidParameter,
		},
		{
			name:   "zero size",
			path:   "a.qcow2",
			params: &vdisk.CreateParameters{},
			want:   vdisk.StatusInvalidParameter,
		},
		{
			name:   "already exists",
			path:   "a.qcow2",
			params: &vdisk.CreateParameters{MaximumSize: 1 << 20},
			setup: func(m *mockLibvirtClient) {
				m.addVolume("vdisk", &mockVolume{name: "a.qcow2", format: "qcow2", capacity: 1})
			},
			want: vdisk.StatusFileExists,
		},
		{
			name:   "missing pool",
			path:   "a.qcow2",
			params: &vdisk.CreateParameters{MaximumSize: 1 << 20},
			setup: func(m *mockLibvirtClient) {
				delete(m.pools, "vdisk")
			},
			want: vdisk.StatusPathNotFound,
		},
		{
			name:   "differencing raw",
			path:   "child.raw",
			params: &vdisk.CreateParameters{ParentPath: "base.qcow2"},
			want:   vdisk.StatusNotSupported,
		},
		{
			name:   "missing parent",
			path:   "child.qcow2",
			params: &vdisk.CreateParameters{ParentPath: "base.qcow2"},
			want:   vdisk.StatusFileNotFound,
		},
		{
			name:   "libvirt failure",
			path:   "a.qcow2",
			params: &vdisk.CreateParameters{MaximumSize: 1 << 20},
			setup: func(m *mockLibvirtClient) {
				m.fail["StorageVolCreateXML"] = libvirtErr(libvirt.ErrAccessDenied, "denied")
			},
			want: vdisk.StatusAccessDenied,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr, client, _ := newTestManager(t)
			if tt.setup != nil {
				tt.setup(client)
			}

			h, st := mgr.CreateVirtualDisk(tt.path, vdisk.AccessNone, vdisk.CreateFlagNone, tt.params)
			assert.Equal(t, tt.want, st)
			assert.Zero(t, h)
		})
	}
}

func TestManager_CreateVirtualDisk_Differencing(t *testing.T) {
	mgr, client, _ := newTestManager(t)
	client.addVolume("vdisk", &mockVolume{name: "base.qcow2", format: "qcow2", capacity: 8 << 30, allocation: 8 << 30})

	_, st := mgr.CreateVirtualDisk("child.qcow2", vdisk.AccessNone, vdisk.CreateFlagNone, &vdisk.CreateParameters{ParentPath: "base.qcow2"})
	require.Equal(t, vdisk.StatusSuccess, st)

	child := client.volumes["vdisk"]["child.qcow2"]
	require.NotNil(t, child)
	assert.Equal(t, testPoolPath+"/base.qcow2", child.backing)
	assert.Equal(t, uint64(8<<30), child.capacity, "capacity is inherited from the parent")
}

func TestManager_OpenVirtualDisk(t *testing.T) {
	mgr, client, _ := newTestManager(t)
	client.addVolume("vdisk", &mockVolume{name: "a.qcow2", format: "qcow2", capacity: 1 << 30})

	h1, st := mgr.OpenVirtualDisk("a.qcow2", vdisk.AccessAll, vdisk.OpenFlagNone)
	require.Equal(t, vdisk.StatusSuccess, st)
	h2, st := mgr.OpenVirtualDisk(testPoolPath+"/a.qcow2", vdisk.AccessGetInfo, vdisk.OpenFlagNone)
	require.Equal(t, vdisk.StatusSuccess, st)
	assert.NotEqual(t, h1, h2)

	_, st = mgr.OpenVirtualDisk("missing.qcow2", vdisk.AccessAll, vdisk.OpenFlagNone)
	assert.Equal(t, vdisk.StatusFileNotFound, st)

	assert.Equal(t, vdisk.StatusSuccess, mgr.CloseHandle(h1))
	assert.Equal(t, vdisk.StatusInvalidHandle, mgr.CloseHandle(h1))
}

func TestManager_OpenVirtualDisk_RefreshesPool(t *testing.T) {
	mgr, client, _ := newTestManager(t)
	client.unlisted["vdisk"] = []*mockVolume{{name: "late.qcow2", path: testPoolPath + "/late.qcow2", format: "qcow2"}}

	_, st := mgr.OpenVirtualDisk(testPoolPath+"/late.qcow2", vdisk.AccessAll, vdisk.OpenFlagNone)
	require.Equal(t, vdisk.StatusSuccess, st)
	assert.Equal(t, 1, client.called("StoragePoolRefresh"))
}

func TestManager_Unsupported(t *testing.T) {
	mgr, _, _ := newTestManager(t)

	_, st := mgr.OpenDrive(`\\.\PhysicalDrive0`)
	assert.Equal(t, vdisk.StatusNotSupported, st)

	_, _, st = mgr.GetStorageDependencyInformation(1, vdisk.DependencyFlagParents, vdisk.MinDependencyInfoSize)
	assert.Equal(t, vdisk.StatusNotSupported, st)
}

func TestManager_Operations(t *testing.T) {
	mgr, _, _ := newTestManager(t)

	op1, st := mgr.CreateOperation()
	require.Equal(t, vdisk.StatusSuccess, st)
	op2, st := mgr.CreateOperation()
	require.Equal(t, vdisk.StatusSuccess, st)
	assert.NotEqual(t, op1, op2)

	assert.Equal(t, vdisk.StatusSuccess, mgr.ReleaseOperation(op1))
	assert.Equal(t, vdisk.StatusInvalidHandle, mgr.ReleaseOperation(op1))
}

func TestManager_ResizeVirtualDisk(t *testing.T) {
	mgr, client, _ := newTestManager(t)
	h := createTestVolume(t, mgr, "a.qcow2", 1<<30)

	require.Equal(t, vdisk.StatusSuccess, mgr.ResizeVirtualDisk(h, 2<<30))
	assert.Equal(t, uint64(2<<30), client.volumes["vdisk"]["a.qcow2"].capacity)

	require.Equal(t, vdisk.StatusSuccess, mgr.ResizeVirtualDisk(h, 1<<29))
	assert.Equal(t, uint64(1<<29), client.volumes["vdisk"]["a.qcow2"].capacity)

	ro, st := mgr.OpenVirtualDisk("a.qcow2", vdisk.AccessGetInfo, vdisk.OpenFlagNone)
	require.Equal(t, vdisk.StatusSuccess, st)
	assert.Equal(t, vdisk.StatusAccessDenied, mgr.ResizeVirtualDisk(ro, 4<<30))

	assert.Equal(t, vdisk.StatusInvalidHandle, mgr.ResizeVirtualDisk(999, 1<<30))
}

func TestManager_Metadata(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	h := createTestVolume(t, mgr, "a.qcow2", 1<<30)

	keyA := uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	keyB := uuid.MustParse("00000000-0000-0000-0000-00000000000b")

	require.Equal(t, vdisk.StatusSuccess, mgr.SetVirtualDiskMetadata(h, keyA, []byte("hello")))
	require.Equal(t, vdisk.StatusSuccess, mgr.SetVirtualDiskMetadata(h, keyB, nil))

	size, st := mgr.GetVirtualDiskMetadata(h, keyA, nil)
	assert.Equal(t, vdisk.StatusInsufficientBuffer, st)
	assert.Equal(t, uint32(5), size)

	buf := make([]byte, 8)
	size, st = mgr.GetVirtualDiskMetadata(h, keyA, buf)
	require.Equal(t, vdisk.StatusSuccess, st)
	assert.Equal(t, "hello", string(buf[:size]))

	n, st := mgr.EnumerateVirtualDiskMetadata(h, nil)
	assert.Equal(t, vdisk.StatusInsufficientBuffer, st)
	assert.Equal(t, uint32(2), n)

	keys := make([]uuid.UUID, 2)
	n, st = mgr.EnumerateVirtualDiskMetadata(h, keys)
	require.Equal(t, vdisk.StatusSuccess, st)
	assert.Equal(t, uint32(2), n)
	assert.ElementsMatch(t, []uuid.UUID{keyA, keyB}, keys)

	require.Equal(t, vdisk.StatusSuccess, mgr.DeleteVirtualDiskMetadata(h, keyA))
	assert.Equal(t, vdisk.StatusNotFound, mgr.DeleteVirtualDiskMetadata(h, keyA))
	_, st = mgr.GetVirtualDiskMetadata(h, keyA, buf)
	assert.Equal(t, vdisk.StatusNotFound, st)

	ro, st := mgr.OpenVirtualDisk("a.qcow2", vdisk.AccessGetInfo, vdisk.OpenFlagNone)
	require.Equal(t, vdisk.StatusSuccess, st)
	assert.Equal(t, vdisk.StatusAccessDenied, mgr.SetVirtualDiskMetadata(ro, keyA, []byte("x")))
	assert.Equal(t, vdisk.StatusAccessDenied, mgr.DeleteVirtualDiskMetadata(ro, keyB))
}

func TestManager_Metadata_WithoutStore(t *testing.T) {
	client := newMockLibvirtClient()
	client.addPool("vdisk", testPoolPath)
	mgr := NewManager(client, WithPool("vdisk"))
	h := createTestVolume(t, mgr, "a.qcow2", 1<<30)

	assert.Equal(t, vdisk.StatusNotSupported, mgr.SetVirtualDiskMetadata(h, uuid.New(), []byte("x")))
	_, st := mgr.EnumerateVirtualDiskMetadata(h, nil)
	assert.Equal(t, vdisk.StatusNotSupported, st)

	// Identifiers are still derived from the volume key.
	info := vdisk.DiskInfo{Version: vdisk.InfoIdentifier}
	require.Equal(t, vdisk.StatusSuccess, mgr.GetVirtualDiskInformation(h, &info))
	assert.NotEqual(t, uuid.Nil, info.Identifier)

	set := vdisk.SetInfo{Version: vdisk.SetInfoIdentifier, Identifier: uuid.New()}
	assert.Equal(t, vdisk.StatusNotSupported, mgr.SetVirtualDiskInformation(h, &set))
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want vdisk.Status
	}{
		{"nil", nil, vdisk.StatusSuccess},
		{"plain error", errors.New("boom"), vdisk.StatusGenFailure},
		{"no volume", libvirtErr(libvirt.ErrNoStorageVol, "x"), vdisk.StatusFileNotFound},
		{"no pool", libvirtErr(libvirt.ErrNoStoragePool, "x"), vdisk.StatusPathNotFound},
		{"no domain", libvirtErr(libvirt.ErrNoDomain, "x"), vdisk.StatusNotFound},
		{"exists", libvirtErr(libvirt.ErrStorageVolExist, "x"), vdisk.StatusFileExists},
		{"denied", libvirtErr(libvirt.ErrOperationDenied, "x"), vdisk.StatusAccessDenied},
		{"no support", libvirtErr(libvirt.ErrNoSupport, "x"), vdisk.StatusNotSupported},
		{"invalid arg", libvirtErr(libvirt.ErrInvalidArg, "x"), vdisk.StatusInvalidParameter},
		{"other", libvirtErr(libvirt.ErrInternalError, "x"), vdisk.StatusGenFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusOf(tt.err))
		})
	}
}
