package vdisk

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Disk owns at most one open handle to a virtual disk image.
//
// A Disk is not safe for concurrent use; callers must serialize calls into
// one Disk. Distinct Disks are independent.
type Disk struct {
	platform Platform
	variant  Variant
	waiter   *Waiter
	log      *logrus.Entry
	newID    func() (uuid.UUID, error)

	path       string
	parentPath string
	handle     Handle
	info       *DiskInfo
}

type options struct {
	pollInterval time.Duration
	log          *logrus.Entry
	newID        func() (uuid.UUID, error)
	onProgress   ProgressFunc
}

// Option configures a Disk or Resolver.
type Option func(*options)

// WithPollInterval sets the delay between progress queries.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) { o.pollInterval = d }
}

// WithLogger sets the logger.
func WithLogger(log *logrus.Entry) Option {
	return func(o *options) { o.log = log }
}

// WithUUIDGenerator replaces the generator of new disk identifiers.
func WithUUIDGenerator(fn func() (uuid.UUID, error)) Option {
	return func(o *options) { o.newID = fn }
}

// WithProgress registers a callback invoked for every progress snapshot.
func WithProgress(fn ProgressFunc) Option {
	return func(o *options) { o.onProgress = fn }
}

func buildOptions(opts []Option) options {
	o := options{
		pollInterval: DefaultPollInterval,
		newID:        uuid.NewRandom,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logrus.NewEntry(logrus.StandardLogger())
	}
	return o
}

// New creates a closed Disk of type t backed by platform.
func New(platform Platform, t DiskType, opts ...Option) (*Disk, error) {
	if platform == nil {
		return nil, invalidArgument("platform is required")
	}
	variant, err := VariantOf(t)
	if err != nil {
		return nil, err
	}

	o := buildOptions(opts)
	log := o.log.WithField("type", t.String())
	waiter := NewWaiter(platform, o.pollInterval, log)
	waiter.onProgress = o.onProgress

	return &Disk{
		platform: platform,
		variant:  variant,
		waiter:   waiter,
		log:      log,
		newID:    o.newID,
	}, nil
}

// Create creates a new image described by spec and keeps it open.
//
// Validation errors are returned before any platform call. Create is
// single-shot: a Disk that already holds a handle fails with ErrAlreadyOpen.
func (d *Disk) Create(ctx context.Context, spec CreateSpec) error {
	if err := spec.Validate(d.variant); err != nil {
		return fmt.Errorf("invalid create spec: %w", err)
	}
	if d.IsOpen() {
		return fmt.Errorf("create %s: %w", spec.Path, ErrAlreadyOpen)
	}

	id, err := d.newID()
	if err != nil {
		return fmt.Errorf("failed to generate disk identifier: %w", err)
	}

	params := &CreateParameters{
		UniqueID:           id,
		MaximumSize:        spec.Size,
		BlockSize:          spec.BlockSize,
		LogicalSectorSize:  spec.LogicalSectorSize,
		PhysicalSectorSize: spec.PhysicalSectorSize,
		ParentPath:         spec.ParentPath,
	}

	h, st := d.platform.CreateVirtualDisk(spec.Path, AccessNone, d.variant.CreateFlags, params)
	if st != StatusSuccess {
		return platformError("CreateVirtualDisk", spec.Path, st)
	}
	if !h.Valid() {
		return platformError("CreateVirtualDisk", spec.Path, StatusInvalidHandle)
	}

	d.handle = h
	d.path = spec.Path
	d.parentPath = spec.ParentPath
	d.info = nil

	d.log.WithFields(logrus.Fields{
		"path": spec.Path,
		"size": spec.Size,
		"id":   id.String(),
	}).Info("Created virtual disk")
	return nil
}

// Open opens an existing image. Any handle currently held is closed first,
// so Open is safe to call in every state. An empty path is rejected without
// touching the held handle; a platform failure leaves the Disk closed.
func (d *Disk) Open(ctx context.Context, path string, access AccessMask, flags OpenFlag) error {
	if path == "" {
		return invalidArgument("disk path is required")
	}

	d.Close()

	h, st := d.platform.OpenVirtualDisk(path, access, flags)
	if st != StatusSuccess {
		return platformError("OpenVirtualDisk", path, st)
	}
	if !h.Valid() {
		return platformError("OpenVirtualDisk", path, StatusInvalidHandle)
	}

	d.handle = h
	d.path = path
	d.parentPath = ""
	d.info = nil

	d.log.WithField("path", path).Debug("Opened virtual disk")
	return nil
}

// Close releases the held handle. It returns false when nothing was open.
func (d *Disk) Close() bool {
	if !d.IsOpen() {
		return false
	}

	st := d.platform.CloseHandle(d.handle)
	d.handle = 0
	d.info = nil

	if st != StatusSuccess {
		d.log.WithField("path", d.path).Warnf("Failed to close virtual disk handle: %v", st)
		return false
	}
	return true
}

// IsOpen reports whether the Disk holds a live handle.
func (d *Disk) IsOpen() bool {
	return d.handle.Valid()
}

// Handle returns the raw platform handle.
func (d *Disk) Handle() Handle {
	return d.handle
}

// Path returns the path of the image last created, opened or mirrored to.
func (d *Disk) Path() string {
	return d.path
}

// ParentPath returns the parent path given at creation or last set.
func (d *Disk) ParentPath() string {
	return d.parentPath
}

// Type returns the disk type selected at construction.
func (d *Disk) Type() DiskType {
	return d.variant.Type
}

// IsResizable reports whether the disk type supports Resize.
func (d *Disk) IsResizable() bool {
	return d.variant.Resizable
}

// Variant returns the policy record of the Disk.
func (d *Disk) Variant() Variant {
	return d.variant
}

// DiskInfo queries disk information for version. The result is cached and
// stays valid until the next mutating call on the Disk.
func (d *Disk) DiskInfo(ctx context.Context, version InfoVersion) (*DiskInfo, error) {
	if !d.IsOpen() {
		return nil, fmt.Errorf("get disk info: %w", ErrNotOpen)
	}

	info := &DiskInfo{Version: version}
	if st := d.platform.GetVirtualDiskInformation(d.handle, info); st != StatusSuccess {
		return nil, platformError("GetVirtualDiskInformation", d.path, st)
	}

	d.info = info
	return info, nil
}

// CachedInfo returns the last info snapshot, or nil.
func (d *Disk) CachedInfo() *DiskInfo {
	return d.info
}

// SetDiskInfo updates disk information.
func (d *Disk) SetDiskInfo(ctx context.Context, info SetInfo) error {
	if !d.IsOpen() {
		return fmt.Errorf("set disk info: %w", ErrNotOpen)
	}

	switch info.Version {
	case SetInfoParentPath, SetInfoParentPathWithDepth:
		if info.ParentPath == "" {
			return invalidArgument("parent path is required")
		}
	case SetInfoPhysicalSectorSize:
		if info.PhysicalSectorSize != 512 && info.PhysicalSectorSize != 4096 {
			return invalidArgument("physical sector size %d must be 512 or 4096", info.PhysicalSectorSize)
		}
	case SetInfoIdentifier, SetInfoVirtualDiskID:
	default:
		return invalidArgument("unsupported set info version %d", info.Version)
	}

	d.info = nil
	if st := d.platform.SetVirtualDiskInformation(d.handle, &info); st != StatusSuccess {
		return platformError("SetVirtualDiskInformation", d.path, st)
	}

	if info.Version == SetInfoParentPath || info.Version == SetInfoParentPathWithDepth {
		d.parentPath = info.ParentPath
	}
	return nil
}

// SetParentPath re-links a differencing disk to a moved parent.
func (d *Disk) SetParentPath(ctx context.Context, parentPath string) error {
	return d.SetDiskInfo(ctx, SetInfo{Version: SetInfoParentPath, ParentPath: parentPath})
}

// SetPhysicalSectorSize changes the physical sector size reported by the disk.
func (d *Disk) SetPhysicalSectorSize(ctx context.Context, size uint32) error {
	return d.SetDiskInfo(ctx, SetInfo{Version: SetInfoPhysicalSectorSize, PhysicalSectorSize: size})
}

// Resize changes the virtual size of the disk.
//
// Disk types that are not resizable return false without calling the
// platform; this is a documented no-op, not an error.
func (d *Disk) Resize(ctx context.Context, newSize uint64) (bool, error) {
	if newSize%SectorSize != 0 {
		return false, invalidArgument("new size %d is not a multiple of %d", newSize, SectorSize)
	}
	if !d.variant.Resizable {
		d.log.WithField("path", d.path).Debug("Disk type is not resizable, skipping resize")
		return false, nil
	}
	if !d.IsOpen() {
		return false, fmt.Errorf("resize: %w", ErrNotOpen)
	}

	d.info = nil
	if st := d.platform.ResizeVirtualDisk(d.handle, newSize); st != StatusSuccess {
		return false, platformError("ResizeVirtualDisk", d.path, st)
	}

	d.log.WithFields(logrus.Fields{"path": d.path, "size": newSize}).Info("Resized virtual disk")
	return true, nil
}

// maxChainDepth bounds ParentChain against parent loops.
const maxChainDepth = 64

// ParentChain returns the paths of the ancestors of the disk, nearest first.
// Non-differencing disks have an empty chain.
func (d *Disk) ParentChain(ctx context.Context) ([]string, error) {
	if !d.IsOpen() {
		return nil, fmt.Errorf("parent chain: %w", ErrNotOpen)
	}

	var chain []string
	current := d
	for depth := 0; depth < maxChainDepth; depth++ {
		parent, resolved, err := current.parentLocation(ctx)
		if current != d {
			current.Close()
		}
		if err != nil {
			return chain, err
		}
		if parent == "" {
			return chain, nil
		}
		chain = append(chain, parent)
		if !resolved {
			return chain, fmt.Errorf("parent %s of %s is not resolved", parent, current.path)
		}

		// The type policy of an ancestor is irrelevant for info queries.
		next, err := New(d.platform, DiskTypeDynamic, WithLogger(d.log))
		if err != nil {
			return chain, err
		}
		if err := next.Open(ctx, parent, AccessGetInfo, OpenFlagNoParents); err != nil {
			return chain, fmt.Errorf("failed to open parent %s: %w", parent, err)
		}
		current = next
	}

	if current != d {
		current.Close()
	}
	return chain, fmt.Errorf("parent chain of %s exceeds %d levels", d.path, maxChainDepth)
}

// parentLocation returns the first parent location of the disk, or "" for
// disks that are not differencing disks.
func (d *Disk) parentLocation(ctx context.Context) (string, bool, error) {
	info, err := d.DiskInfo(ctx, InfoProviderSubtype)
	if err != nil {
		return "", false, err
	}
	if info.ProviderSubtype != ProviderSubtypeDifferencing {
		return "", false, nil
	}

	info, err = d.DiskInfo(ctx, InfoParentLocation)
	if err != nil {
		return "", false, err
	}
	if len(info.ParentLocations) == 0 {
		return "", false, nil
	}
	return info.ParentLocations[0], info.ParentResolved, nil
}
