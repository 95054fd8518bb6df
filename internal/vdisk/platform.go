package vdisk

import "github.com/google/uuid"

// Platform is the host virtual-disk service.
//
// Every call returns a raw Status; the Disk maps StatusSuccess transparently
// and surfaces everything else as a *PlatformError carrying the code.
//
// In production this is satisfied by internal/virtdisk (Windows) or
// internal/storage (libvirt). In tests it is satisfied by fakes.
type Platform interface {
	// CreateVirtualDisk creates a new image file and returns a handle to it.
	CreateVirtualDisk(path string, access AccessMask, flags CreateFlag, params *CreateParameters) (Handle, Status)

	// OpenVirtualDisk opens an existing image.
	OpenVirtualDisk(path string, access AccessMask, flags OpenFlag) (Handle, Status)

	// CloseHandle releases a handle returned by any Open or Create call.
	CloseHandle(h Handle) Status

	// OpenDrive opens a read-only handle to a volume or physical drive path.
	OpenDrive(path string) (Handle, Status)

	// CreateOperation creates the synchronization context for one
	// asynchronous operation.
	CreateOperation() (Operation, Status)

	// ReleaseOperation releases an operation context.
	ReleaseOperation(op Operation) Status

	// GetOperationProgress reports the progress of op on h.
	GetOperationProgress(h Handle, op Operation, progress *Progress) Status

	// MirrorVirtualDisk starts mirroring h to destination. It returns
	// StatusIOPending when the mirror was accepted and runs asynchronously.
	MirrorVirtualDisk(h Handle, destination string, op Operation) Status

	// BreakMirrorVirtualDisk breaks the mirror of h, promoting the
	// destination to the active backing store.
	BreakMirrorVirtualDisk(h Handle, op Operation) Status

	// ResizeVirtualDisk changes the virtual size of h.
	ResizeVirtualDisk(h Handle, newSize uint64) Status

	// GetVirtualDiskInformation fills info for info.Version.
	GetVirtualDiskInformation(h Handle, info *DiskInfo) Status

	// SetVirtualDiskInformation applies info for info.Version.
	SetVirtualDiskInformation(h Handle, info *SetInfo) Status

	// SetVirtualDiskMetadata attaches or overwrites the blob stored under key.
	SetVirtualDiskMetadata(h Handle, key uuid.UUID, data []byte) Status

	// GetVirtualDiskMetadata copies the blob stored under key into buf and
	// returns its size. When buf is too small it returns the required size
	// with StatusInsufficientBuffer.
	GetVirtualDiskMetadata(h Handle, key uuid.UUID, buf []byte) (uint32, Status)

	// DeleteVirtualDiskMetadata removes the blob stored under key.
	DeleteVirtualDiskMetadata(h Handle, key uuid.UUID) Status

	// EnumerateVirtualDiskMetadata copies the metadata keys into keys and
	// returns the number of keys. When keys is too small it returns the
	// required count with an insufficient-buffer class status.
	EnumerateVirtualDiskMetadata(h Handle, keys []uuid.UUID) (uint32, Status)

	// GetStorageDependencyInformation queries the dependencies of a drive
	// handle using a result buffer of size bytes. When size is too small it
	// returns the required size with StatusInsufficientBuffer.
	GetStorageDependencyInformation(h Handle, flags DependencyFlag, size uint32) ([]DependencyEntry, uint32, Status)
}
