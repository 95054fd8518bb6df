package storage

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jbweber/vdisk/internal/vdisk"
)

// PoolType represents the type of storage pool backend.
type PoolType string

const (
	PoolTypeDir PoolType = "dir" // Directory-based storage
)

// VolumeFormat is the libvirt name of an image format.
type VolumeFormat string

const (
	VolumeFormatQCOW2 VolumeFormat = "qcow2"
	VolumeFormatRaw   VolumeFormat = "raw"
	VolumeFormatVHD   VolumeFormat = "vpc" // qemu's name for VHD
	VolumeFormatVHDX  VolumeFormat = "vhdx"
	VolumeFormatISO   VolumeFormat = "iso"
)

// FormatForPath derives the volume format from a file extension.
func FormatForPath(path string) (VolumeFormat, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".qcow2":
		return VolumeFormatQCOW2, nil
	case ".raw", ".img":
		return VolumeFormatRaw, nil
	case ".vhd":
		return VolumeFormatVHD, nil
	case ".vhdx":
		return VolumeFormatVHDX, nil
	case ".iso":
		return VolumeFormatISO, nil
	default:
		return "", fmt.Errorf("cannot derive image format from %q (use .qcow2, .raw, .img, .vhd or .vhdx)", path)
	}
}

// DeviceType maps a volume format to the virtual storage device type.
func (f VolumeFormat) DeviceType() vdisk.VirtualStorageType {
	switch f {
	case VolumeFormatVHD:
		return vdisk.VirtualStorageType{DeviceID: vdisk.DeviceTypeVHD, VendorID: vdisk.VendorMicrosoft}
	case VolumeFormatVHDX:
		return vdisk.VirtualStorageType{DeviceID: vdisk.DeviceTypeVHDX, VendorID: vdisk.VendorMicrosoft}
	case VolumeFormatISO:
		return vdisk.VirtualStorageType{DeviceID: vdisk.DeviceTypeISO, VendorID: vdisk.VendorMicrosoft}
	default:
		return vdisk.VirtualStorageType{DeviceID: vdisk.DeviceTypeUnknown}
	}
}

// SupportsBacking reports whether the format can carry a backing store.
func (f VolumeFormat) SupportsBacking() bool {
	return f == VolumeFormatQCOW2
}

// VolumeSpec specifies how to create a storage volume.
type VolumeSpec struct {
	Name        string       // Volume name, the base name of the image path
	Format      VolumeFormat // Disk format
	Capacity    uint64       // Virtual size in bytes
	Preallocate bool         // Allocate the full capacity up front
	BackingPath string       // Optional parent image for differencing disks
}

// Validate checks if the volume spec is valid.
func (v *VolumeSpec) Validate() error {
	if v.Name == "" {
		return fmt.Errorf("volume name is required")
	}
	if v.Format == "" {
		return fmt.Errorf("volume format is required")
	}
	if v.Capacity == 0 {
		return fmt.Errorf("volume capacity must be greater than 0")
	}
	if v.BackingPath != "" && !v.Format.SupportsBacking() {
		return fmt.Errorf("backing volumes are only supported for qcow2 format, not %s", v.Format)
	}
	if v.BackingPath != "" && v.Preallocate {
		return fmt.Errorf("differencing volumes cannot be preallocated")
	}
	return nil
}

// PoolInfo contains information about a storage pool.
type PoolInfo struct {
	Name       string   // Pool name
	Type       PoolType // Pool type
	Path       string   // Pool path (for dir-based pools)
	UUID       string   // Pool UUID
	State      string   // Pool state (running, stopped, etc.)
	Capacity   uint64   // Total capacity in bytes
	Allocation uint64   // Allocated space in bytes
	Available  uint64   // Available space in bytes
}

// VolumeInfo contains information about a storage volume.
type VolumeInfo struct {
	Name        string       // Volume name
	Key         string       // libvirt volume key
	Format      VolumeFormat // Disk format
	Path        string       // Full path to volume
	Pool        string       // Pool name
	Capacity    uint64       // Capacity in bytes
	Allocation  uint64       // Allocated space in bytes
	BackingPath string       // Backing store path, if any
}

// Default pool configuration.
const (
	// DefaultPool is the pool name used when none is configured.
	DefaultPool = "vdisk"
	// DefaultPoolPath is the directory of the default pool.
	DefaultPoolPath = "/var/lib/libvirt/images/vdisk"
)
