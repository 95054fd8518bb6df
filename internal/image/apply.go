// Package image reconciles VirtualDisk manifests against the host virtual
// disk service.
package image

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/jbweber/vdisk/api/v1alpha1"
	"github.com/jbweber/vdisk/internal/naming"
	"github.com/jbweber/vdisk/internal/status"
	"github.com/jbweber/vdisk/internal/vdisk"
)

type options struct {
	log      *logrus.Entry
	diskOpts []vdisk.Option
}

// Option configures Apply.
type Option func(*options)

// WithLogger sets the logger for progress lines.
func WithLogger(log *logrus.Entry) Option {
	return func(o *options) { o.log = log }
}

// WithDiskOptions passes options to every vdisk.Disk created by Apply.
func WithDiskOptions(opts ...vdisk.Option) Option {
	return func(o *options) { o.diskOpts = append(o.diskOpts, opts...) }
}

// Apply brings the image described by vd into existence and records what it
// observed in vd.Status.
//
// The workflow is:
//  1. Open spec.path, or create it when it does not exist
//  2. Grow the image when spec.size exceeds its virtual size
//  3. Write every metadata entry
//  4. Record size, identifier and parent chain
//  5. Mirror to spec.mirror.destination, unless a previous apply already did
//
// Apply never deletes an image. On failure the disk is left in phase Failed
// with the Ready condition explaining why.
func Apply(ctx context.Context, vd *v1alpha1.VirtualDisk, platform vdisk.Platform, opts ...Option) error {
	o := options{log: logrus.NewEntry(logrus.StandardLogger())}
	for _, opt := range opts {
		opt(&o)
	}
	log := o.log.WithField("disk", vd.Name)

	vd.Normalize()
	diskType, err := vdisk.ParseDiskType(string(vd.Spec.Type))
	if err != nil {
		return err
	}
	size, err := vd.SizeBytes()
	if err != nil {
		return fmt.Errorf("invalid size: %w", err)
	}

	var dest string
	if vd.Spec.Mirror != nil {
		dest = vd.Spec.Mirror.Destination
		if dest == "" {
			dest = naming.MirrorPath(vd.Spec.Path)
		}
	}
	mirrored := dest != "" && vd.Status.Path == dest && status.IsConditionTrue(vd, v1alpha1.ConditionMirrored)

	vd.SetPhase(v1alpha1.DiskPhasePending)
	if err := status.TransitionToCreating(vd); err != nil {
		return err
	}
	fail := func(reason string, err error) error {
		status.TransitionToFailed(vd, reason, err.Error())
		return err
	}

	diskOpts := append([]vdisk.Option{vdisk.WithLogger(log)}, o.diskOpts...)
	d, err := vdisk.New(platform, diskType, diskOpts...)
	if err != nil {
		return fail("InvalidSpec", err)
	}
	defer d.Close()

	created, err := provision(ctx, d, vd, size, mirrored, log)
	if err != nil {
		return fail("ProvisionFailed", err)
	}
	if d.Path() != dest {
		mirrored = false
	}
	status.MarkProvisioned(vd, created)

	if !created && size > 0 {
		if err := grow(ctx, d, size, log); err != nil {
			return fail("ResizeFailed", err)
		}
	}

	if len(vd.Spec.Metadata) > 0 {
		log.Infof("Writing %d metadata entries...", len(vd.Spec.Metadata))
		if err := writeMetadata(ctx, d, vd.Spec.Metadata); err != nil {
			status.MarkMetadataFailed(vd, err)
			return fail("MetadataFailed", err)
		}
		status.MarkMetadataApplied(vd)
	}

	if err := observe(ctx, d, vd); err != nil {
		return fail("InfoFailed", err)
	}
	if err := status.TransitionToReady(vd); err != nil {
		return err
	}

	if dest != "" && !mirrored {
		if err := status.TransitionToMirroring(vd); err != nil {
			return err
		}
		log.Infof("Mirroring virtual disk to %s...", dest)
		if err := d.Mirror(ctx, dest); err != nil {
			status.MarkMirrorFailed(vd, err)
			return fail("MirrorFailed", err)
		}
		status.MarkMirrored(vd, dest)
		vd.Status.Path = d.Path()
		if err := status.TransitionToReady(vd); err != nil {
			return err
		}
	}

	log.Infof("Virtual disk '%s' is ready", vd.Name)
	return nil
}

// provision opens the active image of vd, creating spec.path when it does
// not exist. After a completed mirror the active image is the destination.
func provision(ctx context.Context, d *vdisk.Disk, vd *v1alpha1.VirtualDisk, size uint64, mirrored bool, log *logrus.Entry) (bool, error) {
	if mirrored {
		log.Infof("Opening mirrored virtual disk %s...", vd.Status.Path)
		err := d.Open(ctx, vd.Status.Path, vdisk.AccessAll, vdisk.OpenFlagNone)
		if err == nil {
			return false, nil
		}
		if !notFound(err) {
			return false, err
		}
		log.Warnf("Mirror %s is gone, falling back to %s", vd.Status.Path, vd.Spec.Path)
	}

	log.Infof("Opening virtual disk %s...", vd.Spec.Path)
	err := d.Open(ctx, vd.Spec.Path, vdisk.AccessAll, vdisk.OpenFlagNone)
	if err == nil {
		return false, nil
	}
	if !notFound(err) {
		return false, err
	}

	label := "parent size"
	if size > 0 {
		label = v1alpha1.FormatSize(size)
	}
	log.Infof("Creating %s virtual disk %s (%s)...", vd.Spec.Type, vd.Spec.Path, label)
	err = d.Create(ctx, vdisk.CreateSpec{
		Path:               vd.Spec.Path,
		ParentPath:         vd.Spec.ParentPath,
		Size:               size,
		BlockSize:          vd.Spec.BlockSize,
		LogicalSectorSize:  vd.Spec.LogicalSectorSize,
		PhysicalSectorSize: vd.Spec.PhysicalSectorSize,
	})
	return err == nil, err
}

func notFound(err error) bool {
	return vdisk.IsPlatformCode(err, vdisk.StatusFileNotFound) || vdisk.IsPlatformCode(err, vdisk.StatusPathNotFound)
}

// grow resizes d to size when size exceeds its virtual size. Shrinking is
// never attempted.
func grow(ctx context.Context, d *vdisk.Disk, size uint64, log *logrus.Entry) error {
	info, err := d.DiskInfo(ctx, vdisk.InfoSize)
	if err != nil {
		return err
	}

	current := info.Size.VirtualSize
	switch {
	case size == current:
		return nil
	case size < current:
		log.Warnf("Requested size %s is smaller than the current %s, not shrinking",
			v1alpha1.FormatSize(size), v1alpha1.FormatSize(current))
		return nil
	case !d.IsResizable():
		log.Warnf("%s disks cannot be resized, keeping %s", d.Type(), v1alpha1.FormatSize(current))
		return nil
	}

	log.Infof("Growing virtual disk from %s to %s...", v1alpha1.FormatSize(current), v1alpha1.FormatSize(size))
	_, err = d.Resize(ctx, size)
	return err
}

// writeMetadata writes every entry and reports all failures together.
func writeMetadata(ctx context.Context, d *vdisk.Disk, entries []v1alpha1.MetadataEntry) error {
	var result *multierror.Error
	store := d.Metadata()

	for _, e := range entries {
		id, err := naming.ResolveMetadataID(e.Key, e.ID)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if err := store.Set(ctx, id, []byte(e.Value)); err != nil {
			name := e.Key
			if name == "" {
				name = e.ID
			}
			result = multierror.Append(result, fmt.Errorf("metadata %q: %w", name, err))
		}
	}

	return result.ErrorOrNil()
}

// observe records what the host reports about the open image.
func observe(ctx context.Context, d *vdisk.Disk, vd *v1alpha1.VirtualDisk) error {
	info, err := d.DiskInfo(ctx, vdisk.InfoSize)
	if err != nil {
		return err
	}
	vd.Status.VirtualSize = info.Size.VirtualSize
	vd.Status.PhysicalSize = info.Size.PhysicalSize

	info, err = d.DiskInfo(ctx, vdisk.InfoIdentifier)
	switch {
	case err == nil:
		vd.Status.Identifier = info.Identifier.String()
		vd.UID = vd.Status.Identifier
	case !vdisk.IsPlatformCode(err, vdisk.StatusNotSupported):
		return err
	}

	chain, err := d.ParentChain(ctx)
	switch {
	case err == nil:
		vd.Status.ParentChain = chain
	case !vdisk.IsPlatformCode(err, vdisk.StatusNotSupported):
		return err
	}

	vd.Status.Path = d.Path()
	return nil
}
