package image

import (
	"sort"

	"github.com/google/uuid"

	"github.com/jbweber/vdisk/internal/vdisk"
)

type memImage struct {
	size   uint64
	parent string
	fixed  bool
	id     uuid.UUID
	meta   map[uuid.UUID][]byte
}

func (m *memImage) clone() *memImage {
	c := *m
	c.meta = make(map[uuid.UUID][]byte, len(m.meta))
	for k, v := range m.meta {
		c.meta[k] = append([]byte(nil), v...)
	}
	return &c
}

// memPlatform is an in-memory vdisk.Platform holding whole images.
type memPlatform struct {
	images  map[string]*memImage
	handles map[vdisk.Handle]string

	// mirrors maps a handle to its pending mirror destination.
	mirrors map[vdisk.Handle]string
	broken  map[vdisk.Handle]bool

	nextHandle vdisk.Handle
	nextOp     vdisk.Operation

	createCalls  int
	resizeCalls  int
	mirrorCalls  int
	failMetaKey  uuid.UUID
	createStatus vdisk.Status
}

func newMemPlatform() *memPlatform {
	return &memPlatform{
		images:     make(map[string]*memImage),
		handles:    make(map[vdisk.Handle]string),
		mirrors:    make(map[vdisk.Handle]string),
		broken:     make(map[vdisk.Handle]bool),
		nextHandle: 10,
		nextOp:     100,
	}
}

func (p *memPlatform) add(path string, img *memImage) {
	if img.meta == nil {
		img.meta = make(map[uuid.UUID][]byte)
	}
	p.images[path] = img
}

func (p *memPlatform) image(h vdisk.Handle) (*memImage, bool) {
	path, ok := p.handles[h]
	if !ok {
		return nil, false
	}
	img, ok := p.images[path]
	return img, ok
}

func (p *memPlatform) newHandle(path string) vdisk.Handle {
	p.nextHandle++
	p.handles[p.nextHandle] = path
	return p.nextHandle
}

func (p *memPlatform) CreateVirtualDisk(path string, _ vdisk.AccessMask, flags vdisk.CreateFlag, params *vdisk.CreateParameters) (vdisk.Handle, vdisk.Status) {
	p.createCalls++
	if p.createStatus != vdisk.StatusSuccess {
		return 0, p.createStatus
	}
	if _, ok := p.images[path]; ok {
		return 0, vdisk.StatusFileExists
	}

	img := &memImage{
		size:  params.MaximumSize,
		fixed: flags&vdisk.CreateFlagFullPhysicalAllocation != 0,
		id:    params.UniqueID,
	}
	if params.ParentPath != "" {
		parent, ok := p.images[params.ParentPath]
		if !ok {
			return 0, vdisk.StatusPathNotFound
		}
		img.parent = params.ParentPath
		if img.size == 0 {
			img.size = parent.size
		}
	}
	p.add(path, img)
	return p.newHandle(path), vdisk.StatusSuccess
}

func (p *memPlatform) OpenVirtualDisk(path string, _ vdisk.AccessMask, _ vdisk.OpenFlag) (vdisk.Handle, vdisk.Status) {
	if _, ok := p.images[path]; !ok {
		return 0, vdisk.StatusFileNotFound
	}
	return p.newHandle(path), vdisk.StatusSuccess
}

func (p *memPlatform) CloseHandle(h vdisk.Handle) vdisk.Status {
	if _, ok := p.handles[h]; !ok {
		return vdisk.StatusInvalidHandle
	}
	delete(p.handles, h)
	return vdisk.StatusSuccess
}

func (p *memPlatform) OpenDrive(string) (vdisk.Handle, vdisk.Status) {
	return 0, vdisk.StatusNotSupported
}

func (p *memPlatform) CreateOperation() (vdisk.Operation, vdisk.Status) {
	p.nextOp++
	return p.nextOp, vdisk.StatusSuccess
}

func (p *memPlatform) ReleaseOperation(vdisk.Operation) vdisk.Status {
	return vdisk.StatusSuccess
}

func (p *memPlatform) GetOperationProgress(h vdisk.Handle, _ vdisk.Operation, progress *vdisk.Progress) vdisk.Status {
	if _, ok := p.handles[h]; !ok {
		return vdisk.StatusInvalidHandle
	}
	if p.broken[h] {
		*progress = vdisk.Progress{OperationStatus: vdisk.StatusSuccess, CurrentValue: 100, CompletionValue: 100}
		return vdisk.StatusSuccess
	}
	*progress = vdisk.Progress{OperationStatus: vdisk.StatusIOPending, CurrentValue: 100, CompletionValue: 100}
	return vdisk.StatusSuccess
}

func (p *memPlatform) MirrorVirtualDisk(h vdisk.Handle, destination string, _ vdisk.Operation) vdisk.Status {
	p.mirrorCalls++
	img, ok := p.image(h)
	if !ok {
		return vdisk.StatusInvalidHandle
	}
	if _, exists := p.images[destination]; exists {
		return vdisk.StatusFileExists
	}
	p.images[destination] = img.clone()
	p.mirrors[h] = destination
	return vdisk.StatusIOPending
}

func (p *memPlatform) BreakMirrorVirtualDisk(h vdisk.Handle, _ vdisk.Operation) vdisk.Status {
	dest, ok := p.mirrors[h]
	if !ok {
		return vdisk.StatusInvalidParameter
	}
	delete(p.mirrors, h)
	p.handles[h] = dest
	p.broken[h] = true
	return vdisk.StatusIOPending
}

func (p *memPlatform) ResizeVirtualDisk(h vdisk.Handle, newSize uint64) vdisk.Status {
	p.resizeCalls++
	img, ok := p.image(h)
	if !ok {
		return vdisk.StatusInvalidHandle
	}
	if newSize < img.size {
		return vdisk.StatusInvalidParameter
	}
	img.size = newSize
	return vdisk.StatusSuccess
}

func (p *memPlatform) GetVirtualDiskInformation(h vdisk.Handle, info *vdisk.DiskInfo) vdisk.Status {
	img, ok := p.image(h)
	if !ok {
		return vdisk.StatusInvalidHandle
	}

	switch info.Version {
	case vdisk.InfoSize:
		info.Size = vdisk.SizeInfo{VirtualSize: img.size, PhysicalSize: img.size / 4, SectorSize: 512}
	case vdisk.InfoIdentifier:
		info.Identifier = img.id
	case vdisk.InfoProviderSubtype:
		switch {
		case img.parent != "":
			info.ProviderSubtype = vdisk.ProviderSubtypeDifferencing
		case img.fixed:
			info.ProviderSubtype = vdisk.ProviderSubtypeFixed
		default:
			info.ProviderSubtype = vdisk.ProviderSubtypeDynamic
		}
	case vdisk.InfoParentLocation:
		if img.parent == "" {
			return vdisk.StatusInvalidParameter
		}
		info.ParentResolved = true
		info.ParentLocations = []string{img.parent}
	default:
		return vdisk.StatusNotSupported
	}
	return vdisk.StatusSuccess
}

func (p *memPlatform) SetVirtualDiskInformation(vdisk.Handle, *vdisk.SetInfo) vdisk.Status {
	return vdisk.StatusNotSupported
}

func (p *memPlatform) SetVirtualDiskMetadata(h vdisk.Handle, key uuid.UUID, data []byte) vdisk.Status {
	img, ok := p.image(h)
	if !ok {
		return vdisk.StatusInvalidHandle
	}
	if key == p.failMetaKey {
		return vdisk.StatusAccessDenied
	}
	img.meta[key] = append([]byte(nil), data...)
	return vdisk.StatusSuccess
}

func (p *memPlatform) GetVirtualDiskMetadata(h vdisk.Handle, key uuid.UUID, buf []byte) (uint32, vdisk.Status) {
	img, ok := p.image(h)
	if !ok {
		return 0, vdisk.StatusInvalidHandle
	}
	data, ok := img.meta[key]
	if !ok {
		return 0, vdisk.StatusNotFound
	}
	if len(buf) != len(data) {
		return uint32(len(data)), vdisk.StatusInsufficientBuffer
	}
	copy(buf, data)
	return uint32(len(data)), vdisk.StatusSuccess
}

func (p *memPlatform) DeleteVirtualDiskMetadata(h vdisk.Handle, key uuid.UUID) vdisk.Status {
	img, ok := p.image(h)
	if !ok {
		return vdisk.StatusInvalidHandle
	}
	if _, ok := img.meta[key]; !ok {
		return vdisk.StatusNotFound
	}
	delete(img.meta, key)
	return vdisk.StatusSuccess
}

func (p *memPlatform) EnumerateVirtualDiskMetadata(h vdisk.Handle, keys []uuid.UUID) (uint32, vdisk.Status) {
	img, ok := p.image(h)
	if !ok {
		return 0, vdisk.StatusInvalidHandle
	}
	all := make([]uuid.UUID, 0, len(img.meta))
	for k := range img.meta {
		all = append(all, k)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].String() < all[j].String() })
	if len(keys) < len(all) {
		return uint32(len(all)), vdisk.StatusMoreData
	}
	copy(keys, all)
	return uint32(len(all)), vdisk.StatusSuccess
}

func (p *memPlatform) GetStorageDependencyInformation(vdisk.Handle, vdisk.DependencyFlag, uint32) ([]vdisk.DependencyEntry, uint32, vdisk.Status) {
	return nil, 0, vdisk.StatusNotSupported
}
