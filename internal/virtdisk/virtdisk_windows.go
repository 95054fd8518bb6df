//go:build windows

package virtdisk

import (
	"errors"
	"fmt"
	"sync"
	"syscall"
	"unsafe"

	"github.com/Microsoft/go-winio/pkg/guid"
	"github.com/Microsoft/go-winio/vhd"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/windows"

	"github.com/jbweber/vdisk/internal/vdisk"
)

var (
	modvirtdisk = windows.NewLazySystemDLL("virtdisk.dll")

	procMirrorVirtualDisk               = modvirtdisk.NewProc("MirrorVirtualDisk")
	procBreakMirrorVirtualDisk          = modvirtdisk.NewProc("BreakMirrorVirtualDisk")
	procGetVirtualDiskOperationProgress = modvirtdisk.NewProc("GetVirtualDiskOperationProgress")
	procResizeVirtualDisk               = modvirtdisk.NewProc("ResizeVirtualDisk")
	procGetVirtualDiskInformation       = modvirtdisk.NewProc("GetVirtualDiskInformation")
	procSetVirtualDiskInformation       = modvirtdisk.NewProc("SetVirtualDiskInformation")
	procSetVirtualDiskMetadata          = modvirtdisk.NewProc("SetVirtualDiskMetadata")
	procGetVirtualDiskMetadata          = modvirtdisk.NewProc("GetVirtualDiskMetadata")
	procDeleteVirtualDiskMetadata       = modvirtdisk.NewProc("DeleteVirtualDiskMetadata")
	procEnumerateVirtualDiskMetadata    = modvirtdisk.NewProc("EnumerateVirtualDiskMetadata")
	procGetStorageDependencyInformation = modvirtdisk.NewProc("GetStorageDependencyInformation")
)

const (
	mirrorVirtualDiskVersion1 = 1
	resizeVirtualDiskVersion1 = 1
)

type mirrorParameters struct {
	Version               uint32
	_                     uint32
	MirrorVirtualDiskPath *uint16
}

type resizeParameters struct {
	Version uint32
	_       uint32
	NewSize uint64
}

type virtualDiskProgress struct {
	OperationStatus uint32
	_               uint32
	CurrentValue    uint64
	CompletionValue uint64
}

// SET_VIRTUAL_DISK_INFO renditions, one per union member, all 32 bytes.
type setInfoPath struct {
	Version        uint32
	_              uint32
	ParentFilePath *uint16
	_              [16]byte
}

type setInfoPathWithDepth struct {
	Version        uint32
	_              uint32
	ChildDepth     uint32
	_              uint32
	ParentFilePath *uint16
	_              [8]byte
}

type setInfoGUID struct {
	Version uint32
	_       uint32
	ID      guid.GUID
	_       [8]byte
}

type setInfoUint32 struct {
	Version uint32
	_       uint32
	Value   uint32
	_       [20]byte
}

// Platform is the virtdisk.dll backend.
type Platform struct {
	log *logrus.Entry

	mu     sync.Mutex
	nextOp vdisk.Operation
	ops    map[vdisk.Operation]*windows.Overlapped
}

var _ vdisk.Platform = (*Platform)(nil)

// New loads virtdisk.dll and returns a Platform bound to it.
func New(log *logrus.Entry) (vdisk.Platform, error) {
	if err := modvirtdisk.Load(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	return &Platform{
		log: defaultLogger(log),
		ops: make(map[vdisk.Operation]*windows.Overlapped),
	}, nil
}

// statusOf extracts the Win32 error code carried by err.
func statusOf(err error) vdisk.Status {
	if err == nil {
		return vdisk.StatusSuccess
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return vdisk.Status(errno)
	}
	return vdisk.StatusInvalidParameter
}

// call invokes proc and returns its DWORD result as a status.
//
//go:uintptrescapes
func call(proc *windows.LazyProc, args ...uintptr) vdisk.Status {
	if err := proc.Find(); err != nil {
		return vdisk.StatusNotSupported
	}
	r1, _, _ := proc.Call(args...)
	return vdisk.Status(r1)
}

func (p *Platform) CreateVirtualDisk(path string, access vdisk.AccessMask, flags vdisk.CreateFlag, params *vdisk.CreateParameters) (vdisk.Handle, vdisk.Status) {
	create := vhd.CreateVirtualDiskParameters{
		Version: 2,
		Version2: vhd.CreateVersion2{
			UniqueID:                 toGUID(params.UniqueID),
			MaximumSize:              params.MaximumSize,
			BlockSizeInBytes:         params.BlockSize,
			SectorSizeInBytes:        params.LogicalSectorSize,
			PhysicalSectorSizeInByte: params.PhysicalSectorSize,
		},
	}
	if params.ParentPath != "" {
		parent, err := windows.UTF16PtrFromString(params.ParentPath)
		if err != nil {
			return 0, vdisk.StatusInvalidParameter
		}
		create.Version2.ParentPath = parent
	}

	h, err := vhd.CreateVirtualDisk(path, vhd.VirtualDiskAccessMask(access), vhd.CreateVirtualDiskFlag(flags), &create)
	if err != nil {
		p.log.WithError(err).WithField("path", path).Debug("CreateVirtualDisk failed")
		return 0, statusOf(err)
	}
	return vdisk.Handle(h), vdisk.StatusSuccess
}

// OpenVirtualDisk opens path with version 2 parameters. Version 2 requires
// an empty access mask, so the requested mask selects the get-info-only and
// read-only modes instead.
func (p *Platform) OpenVirtualDisk(path string, access vdisk.AccessMask, flags vdisk.OpenFlag) (vdisk.Handle, vdisk.Status) {
	params := vhd.OpenVirtualDiskParameters{
		Version: 2,
		Version2: vhd.OpenVersion2{
			GetInfoOnly: access == vdisk.AccessGetInfo,
			ReadOnly:    access != vdisk.AccessNone && access&vdisk.AccessWritable == 0,
		},
	}

	h, err := vhd.OpenVirtualDiskWithParameters(path, vhd.VirtualDiskAccessNone, vhd.VirtualDiskFlag(flags), &params)
	if err != nil {
		p.log.WithError(err).WithField("path", path).Debug("OpenVirtualDisk failed")
		return vdisk.InvalidHandle, statusOf(err)
	}
	return vdisk.Handle(h), vdisk.StatusSuccess
}

func (p *Platform) CloseHandle(h vdisk.Handle) vdisk.Status {
	return statusOf(windows.CloseHandle(windows.Handle(h)))
}

func (p *Platform) OpenDrive(path string) (vdisk.Handle, vdisk.Status) {
	name, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return vdisk.InvalidHandle, vdisk.StatusInvalidParameter
	}
	h, err := windows.CreateFile(
		name,
		windows.GENERIC_READ,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE,
		nil,
		windows.OPEN_EXISTING,
		windows.FILE_ATTRIBUTE_NORMAL|windows.FILE_FLAG_BACKUP_SEMANTICS,
		0,
	)
	if err != nil {
		return vdisk.InvalidHandle, statusOf(err)
	}
	return vdisk.Handle(h), vdisk.StatusSuccess
}

// CreateOperation allocates an OVERLAPPED with a manual-reset event.
func (p *Platform) CreateOperation() (vdisk.Operation, vdisk.Status) {
	event, err := windows.CreateEvent(nil, 1, 0, nil)
	if err != nil {
		return 0, statusOf(err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextOp++
	p.ops[p.nextOp] = &windows.Overlapped{HEvent: event}
	return p.nextOp, vdisk.StatusSuccess
}

func (p *Platform) ReleaseOperation(op vdisk.Operation) vdisk.Status {
	p.mu.Lock()
	ov, ok := p.ops[op]
	delete(p.ops, op)
	p.mu.Unlock()

	if !ok {
		return vdisk.StatusInvalidHandle
	}
	return statusOf(windows.CloseHandle(ov.HEvent))
}

func (p *Platform) overlapped(op vdisk.Operation) *windows.Overlapped {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ops[op]
}

func (p *Platform) GetOperationProgress(h vdisk.Handle, op vdisk.Operation, progress *vdisk.Progress) vdisk.Status {
	ov := p.overlapped(op)
	if ov == nil {
		return vdisk.StatusInvalidHandle
	}

	var raw virtualDiskProgress
	st := call(procGetVirtualDiskOperationProgress,
		uintptr(h),
		uintptr(unsafe.Pointer(ov)),
		uintptr(unsafe.Pointer(&raw)))
	if st != vdisk.StatusSuccess {
		return st
	}

	*progress = vdisk.Progress{
		OperationStatus: vdisk.Status(raw.OperationStatus),
		CurrentValue:    raw.CurrentValue,
		CompletionValue: raw.CompletionValue,
	}
	return vdisk.StatusSuccess
}

func (p *Platform) MirrorVirtualDisk(h vdisk.Handle, destination string, op vdisk.Operation) vdisk.Status {
	ov := p.overlapped(op)
	if ov == nil {
		return vdisk.StatusInvalidHandle
	}
	dest, err := windows.UTF16PtrFromString(destination)
	if err != nil {
		return vdisk.StatusInvalidParameter
	}

	params := mirrorParameters{Version: mirrorVirtualDiskVersion1, MirrorVirtualDiskPath: dest}
	return call(procMirrorVirtualDisk,
		uintptr(h),
		0,
		uintptr(unsafe.Pointer(&params)),
		uintptr(unsafe.Pointer(ov)))
}

// BreakMirrorVirtualDisk takes no OVERLAPPED; progress of the break is
// reported through the operation the caller polls.
func (p *Platform) BreakMirrorVirtualDisk(h vdisk.Handle, op vdisk.Operation) vdisk.Status {
	return call(procBreakMirrorVirtualDisk, uintptr(h))
}

func (p *Platform) ResizeVirtualDisk(h vdisk.Handle, newSize uint64) vdisk.Status {
	params := resizeParameters{Version: resizeVirtualDiskVersion1, NewSize: newSize}
	return call(procResizeVirtualDisk,
		uintptr(h),
		0,
		uintptr(unsafe.Pointer(&params)),
		0)
}

func (p *Platform) GetVirtualDiskInformation(h vdisk.Handle, info *vdisk.DiskInfo) vdisk.Status {
	size := uint32(getInfoSize)
	for attempt := 0; attempt < 2; attempt++ {
		buf := newGetInfoBuffer(info.Version, size)
		size = uint32(len(buf))
		var used uint32
		st := call(procGetVirtualDiskInformation,
			uintptr(h),
			uintptr(unsafe.Pointer(&size)),
			uintptr(unsafe.Pointer(&buf[0])),
			uintptr(unsafe.Pointer(&used)))
		if st == vdisk.StatusInsufficientBuffer {
			continue
		}
		if st != vdisk.StatusSuccess {
			return st
		}
		if err := decodeDiskInfo(buf, used, info); err != nil {
			p.log.WithError(err).Warn("Failed to decode disk information")
			return vdisk.StatusInvalidParameter
		}
		return vdisk.StatusSuccess
	}
	return vdisk.StatusInsufficientBuffer
}

func (p *Platform) SetVirtualDiskInformation(h vdisk.Handle, info *vdisk.SetInfo) vdisk.Status {
	version := uint32(info.Version)

	switch info.Version {
	case vdisk.SetInfoParentPath:
		parent, err := windows.UTF16PtrFromString(info.ParentPath)
		if err != nil {
			return vdisk.StatusInvalidParameter
		}
		raw := setInfoPath{Version: version, ParentFilePath: parent}
		return call(procSetVirtualDiskInformation, uintptr(h), uintptr(unsafe.Pointer(&raw)))
	case vdisk.SetInfoParentPathWithDepth:
		parent, err := windows.UTF16PtrFromString(info.ParentPath)
		if err != nil {
			return vdisk.StatusInvalidParameter
		}
		raw := setInfoPathWithDepth{Version: version, ChildDepth: info.ChildDepth, ParentFilePath: parent}
		return call(procSetVirtualDiskInformation, uintptr(h), uintptr(unsafe.Pointer(&raw)))
	case vdisk.SetInfoIdentifier, vdisk.SetInfoVirtualDiskID:
		id := info.Identifier
		if info.Version == vdisk.SetInfoVirtualDiskID {
			id = info.VirtualDiskID
		}
		raw := setInfoGUID{Version: version, ID: toGUID(id)}
		return call(procSetVirtualDiskInformation, uintptr(h), uintptr(unsafe.Pointer(&raw)))
	case vdisk.SetInfoPhysicalSectorSize:
		raw := setInfoUint32{Version: version, Value: info.PhysicalSectorSize}
		return call(procSetVirtualDiskInformation, uintptr(h), uintptr(unsafe.Pointer(&raw)))
	default:
		return vdisk.StatusInvalidParameter
	}
}

func (p *Platform) SetVirtualDiskMetadata(h vdisk.Handle, key uuid.UUID, data []byte) vdisk.Status {
	g := toGUID(key)
	var ptr unsafe.Pointer
	if len(data) > 0 {
		ptr = unsafe.Pointer(&data[0])
	}
	return call(procSetVirtualDiskMetadata,
		uintptr(h),
		uintptr(unsafe.Pointer(&g)),
		uintptr(len(data)),
		uintptr(ptr))
}

func (p *Platform) GetVirtualDiskMetadata(h vdisk.Handle, key uuid.UUID, buf []byte) (uint32, vdisk.Status) {
	g := toGUID(key)
	size := uint32(len(buf))
	var ptr unsafe.Pointer
	if len(buf) > 0 {
		ptr = unsafe.Pointer(&buf[0])
	}
	st := call(procGetVirtualDiskMetadata,
		uintptr(h),
		uintptr(unsafe.Pointer(&g)),
		uintptr(unsafe.Pointer(&size)),
		uintptr(ptr))
	return size, st
}

func (p *Platform) DeleteVirtualDiskMetadata(h vdisk.Handle, key uuid.UUID) vdisk.Status {
	g := toGUID(key)
	return call(procDeleteVirtualDiskMetadata, uintptr(h), uintptr(unsafe.Pointer(&g)))
}

func (p *Platform) EnumerateVirtualDiskMetadata(h vdisk.Handle, keys []uuid.UUID) (uint32, vdisk.Status) {
	count := uint32(len(keys))
	guids := make([]guid.GUID, len(keys))
	var ptr unsafe.Pointer
	if len(guids) > 0 {
		ptr = unsafe.Pointer(&guids[0])
	}

	st := call(procEnumerateVirtualDiskMetadata,
		uintptr(h),
		uintptr(unsafe.Pointer(&count)),
		uintptr(ptr))
	if st != vdisk.StatusSuccess {
		return count, st
	}

	for i := 0; i < int(count) && i < len(keys); i++ {
		keys[i] = uuid.UUID(guids[i].ToArray())
	}
	return count, vdisk.StatusSuccess
}

func (p *Platform) GetStorageDependencyInformation(h vdisk.Handle, flags vdisk.DependencyFlag, size uint32) ([]vdisk.DependencyEntry, uint32, vdisk.Status) {
	buf := newDependencyBuffer(size)
	var used uint32
	st := call(procGetStorageDependencyInformation,
		uintptr(h),
		uintptr(flags),
		uintptr(len(buf)),
		uintptr(unsafe.Pointer(&buf[0])),
		uintptr(unsafe.Pointer(&used)))
	if st != vdisk.StatusSuccess {
		return nil, used, st
	}

	entries, err := decodeDependencies(buf, uint64(uintptr(unsafe.Pointer(&buf[0]))))
	if err != nil {
		p.log.WithError(err).Warn("Failed to decode storage dependency information")
		return nil, used, vdisk.StatusInvalidParameter
	}
	return entries, used, vdisk.StatusSuccess
}
