package vdisk

import (
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// fakePlatform is a scripted Platform that records every call.
type fakePlatform struct {
	calls []string

	nextHandle Handle
	open       map[Handle]string

	createStatus Status
	createParams *CreateParameters
	createFlags  CreateFlag
	openStatus   Status
	closeStatus  Status

	// Progress snapshots returned by successive GetOperationProgress calls.
	// The last snapshot repeats once exhausted.
	progress      []Progress
	progressIndex int
	progressErr   Status
	progressOps   []Operation

	nextOp      Operation
	released    []Operation
	createOpErr Status

	mirrorStatus Status
	mirrorDest   string
	breakStatus  Status

	resizeStatus Status
	resizedTo    uint64

	info       map[InfoVersion]DiskInfo
	pathInfo   map[string]map[InfoVersion]DiskInfo
	infoStatus Status
	setInfo    []SetInfo
	setStatus  Status

	metadata     map[uuid.UUID][]byte
	enumProbe    uint32
	enumKeys     []uuid.UUID
	enumCalls    int
	metaSetError Status

	driveStatus   Status
	drivePaths    []string
	depFlags      []DependencyFlag
	depSizes      []uint32
	depRequired   uint32
	depEntries    []DependencyEntry
	depFinalError Status
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		nextHandle: 100,
		nextOp:     500,
		open:       make(map[Handle]string),
		info:       make(map[InfoVersion]DiskInfo),
		pathInfo:   make(map[string]map[InfoVersion]DiskInfo),
		metadata:   make(map[uuid.UUID][]byte),
	}
}

func (f *fakePlatform) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakePlatform) newHandle(path string) Handle {
	f.nextHandle++
	f.open[f.nextHandle] = path
	return f.nextHandle
}

func (f *fakePlatform) CreateVirtualDisk(path string, access AccessMask, flags CreateFlag, params *CreateParameters) (Handle, Status) {
	f.record("CreateVirtualDisk")
	if f.createStatus != StatusSuccess {
		return 0, f.createStatus
	}
	f.createParams = params
	f.createFlags = flags
	return f.newHandle(path), StatusSuccess
}

func (f *fakePlatform) OpenVirtualDisk(path string, access AccessMask, flags OpenFlag) (Handle, Status) {
	f.record("OpenVirtualDisk")
	if f.openStatus != StatusSuccess {
		return InvalidHandle, f.openStatus
	}
	return f.newHandle(path), StatusSuccess
}

func (f *fakePlatform) CloseHandle(h Handle) Status {
	f.record("CloseHandle")
	delete(f.open, h)
	return f.closeStatus
}

func (f *fakePlatform) OpenDrive(path string) (Handle, Status) {
	f.record("OpenDrive")
	f.drivePaths = append(f.drivePaths, path)
	if f.driveStatus != StatusSuccess {
		return InvalidHandle, f.driveStatus
	}
	return f.newHandle(path), StatusSuccess
}

func (f *fakePlatform) CreateOperation() (Operation, Status) {
	f.record("CreateOperation")
	if f.createOpErr != StatusSuccess {
		return 0, f.createOpErr
	}
	f.nextOp++
	return f.nextOp, StatusSuccess
}

func (f *fakePlatform) ReleaseOperation(op Operation) Status {
	f.record("ReleaseOperation")
	f.released = append(f.released, op)
	return StatusSuccess
}

func (f *fakePlatform) GetOperationProgress(h Handle, op Operation, progress *Progress) Status {
	f.record("GetOperationProgress")
	f.progressOps = append(f.progressOps, op)
	if f.progressErr != StatusSuccess {
		return f.progressErr
	}
	if len(f.progress) == 0 {
		return StatusSuccess
	}
	i := f.progressIndex
	if i >= len(f.progress) {
		i = len(f.progress) - 1
	}
	*progress = f.progress[i]
	f.progressIndex++
	return StatusSuccess
}

func (f *fakePlatform) MirrorVirtualDisk(h Handle, destination string, op Operation) Status {
	f.record("MirrorVirtualDisk")
	f.mirrorDest = destination
	return f.mirrorStatus
}

func (f *fakePlatform) BreakMirrorVirtualDisk(h Handle, op Operation) Status {
	f.record("BreakMirrorVirtualDisk")
	return f.breakStatus
}

func (f *fakePlatform) ResizeVirtualDisk(h Handle, newSize uint64) Status {
	f.record("ResizeVirtualDisk")
	if f.resizeStatus == StatusSuccess {
		f.resizedTo = newSize
	}
	return f.resizeStatus
}

func (f *fakePlatform) GetVirtualDiskInformation(h Handle, info *DiskInfo) Status {
	f.record("GetVirtualDiskInformation")
	if f.infoStatus != StatusSuccess {
		return f.infoStatus
	}
	if stored, ok := f.pathInfo[f.open[h]][info.Version]; ok {
		*info = stored
		return StatusSuccess
	}
	stored, ok := f.info[info.Version]
	if !ok {
		return StatusNotSupported
	}
	*info = stored
	return StatusSuccess
}

// setPathInfo overrides an info version for one image path.
func (f *fakePlatform) setPathInfo(path string, info DiskInfo) {
	if f.pathInfo[path] == nil {
		f.pathInfo[path] = make(map[InfoVersion]DiskInfo)
	}
	f.pathInfo[path][info.Version] = info
}

func (f *fakePlatform) SetVirtualDiskInformation(h Handle, info *SetInfo) Status {
	f.record("SetVirtualDiskInformation")
	if f.setStatus == StatusSuccess {
		f.setInfo = append(f.setInfo, *info)
	}
	return f.setStatus
}

func (f *fakePlatform) SetVirtualDiskMetadata(h Handle, key uuid.UUID, data []byte) Status {
	f.record("SetVirtualDiskMetadata")
	if f.metaSetError != StatusSuccess {
		return f.metaSetError
	}
	f.metadata[key] = append([]byte(nil), data...)
	return StatusSuccess
}

func (f *fakePlatform) GetVirtualDiskMetadata(h Handle, key uuid.UUID, buf []byte) (uint32, Status) {
	f.record("GetVirtualDiskMetadata")
	data, ok := f.metadata[key]
	if !ok {
		return 0, StatusNotFound
	}
	if len(buf) < len(data) {
		return uint32(len(data)), StatusInsufficientBuffer
	}
	return uint32(copy(buf, data)), StatusSuccess
}

func (f *fakePlatform) DeleteVirtualDiskMetadata(h Handle, key uuid.UUID) Status {
	f.record("DeleteVirtualDiskMetadata")
	if _, ok := f.metadata[key]; !ok {
		return StatusNotFound
	}
	delete(f.metadata, key)
	return StatusSuccess
}

func (f *fakePlatform) EnumerateVirtualDiskMetadata(h Handle, keys []uuid.UUID) (uint32, Status) {
	f.record("EnumerateVirtualDiskMetadata")
	f.enumCalls++
	if keys == nil {
		if f.enumProbe == 0 {
			return 0, StatusSuccess
		}
		return f.enumProbe, StatusInsufficientBuffer
	}
	n := copy(keys, f.enumKeys)
	return uint32(n), StatusSuccess
}

func (f *fakePlatform) GetStorageDependencyInformation(h Handle, flags DependencyFlag, size uint32) ([]DependencyEntry, uint32, Status) {
	f.record("GetStorageDependencyInformation")
	f.depFlags = append(f.depFlags, flags)
	f.depSizes = append(f.depSizes, size)
	if f.depRequired > size {
		return nil, f.depRequired, StatusInsufficientBuffer
	}
	if f.depFinalError != StatusSuccess {
		return nil, 0, f.depFinalError
	}
	return f.depEntries, size, StatusSuccess
}

func (f *fakePlatform) count(call string) int {
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakePlatform) trace() string {
	return strings.Join(f.calls, ",")
}

// quietLogger discards log output.
func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func newTestDisk(p Platform, t DiskType, opts ...Option) *Disk {
	opts = append([]Option{WithLogger(quietLogger()), WithPollInterval(1)}, opts...)
	d, err := New(p, t, opts...)
	if err != nil {
		panic(err)
	}
	return d
}
