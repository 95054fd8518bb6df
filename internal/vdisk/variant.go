package vdisk

import (
	"fmt"
	"strings"
)

// DiskType is the kind of virtual disk a Disk manages.
type DiskType int

const (
	DiskTypeFixed DiskType = iota + 1
	DiskTypeDynamic
	DiskTypeDifferencing
)

func (t DiskType) String() string {
	switch t {
	case DiskTypeFixed:
		return "fixed"
	case DiskTypeDynamic:
		return "dynamic"
	case DiskTypeDifferencing:
		return "differencing"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// ParseDiskType parses "fixed", "dynamic" or "differencing".
func ParseDiskType(s string) (DiskType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fixed":
		return DiskTypeFixed, nil
	case "dynamic":
		return DiskTypeDynamic, nil
	case "differencing", "diff":
		return DiskTypeDifferencing, nil
	default:
		return 0, invalidArgument("unknown disk type %q (must be fixed, dynamic or differencing)", s)
	}
}

// DiskTypeForSubtype maps a provider subtype reported by the host to a DiskType.
func DiskTypeForSubtype(subtype uint32) (DiskType, error) {
	switch subtype {
	case ProviderSubtypeFixed:
		return DiskTypeFixed, nil
	case ProviderSubtypeDynamic:
		return DiskTypeDynamic, nil
	case ProviderSubtypeDifferencing:
		return DiskTypeDifferencing, nil
	default:
		return 0, invalidArgument("unknown provider subtype %d", subtype)
	}
}

// Variant is the immutable policy record of a DiskType.
type Variant struct {
	Type           DiskType
	Resizable      bool
	CreateFlags    CreateFlag
	AllowsParent   bool
	RequiresParent bool
}

var variants = map[DiskType]Variant{
	// Fixed disks are fully allocated up front and cannot be resized.
	DiskTypeFixed: {
		Type:        DiskTypeFixed,
		Resizable:   false,
		CreateFlags: CreateFlagFullPhysicalAllocation,
	},
	// A dynamic disk created with a parent is a differencing image.
	DiskTypeDynamic: {
		Type:         DiskTypeDynamic,
		Resizable:    true,
		CreateFlags:  CreateFlagNone,
		AllowsParent: true,
	},
	DiskTypeDifferencing: {
		Type:           DiskTypeDifferencing,
		Resizable:      true,
		CreateFlags:    CreateFlagNone,
		AllowsParent:   true,
		RequiresParent: true,
	},
}

// VariantOf returns the policy record for t.
func VariantOf(t DiskType) (Variant, error) {
	v, ok := variants[t]
	if !ok {
		return Variant{}, invalidArgument("unknown disk type %d", int(t))
	}
	return v, nil
}

// CreateSpec specifies how to create a virtual disk.
type CreateSpec struct {
	Path               string // Image path
	ParentPath         string // Parent image; required for differencing, rejected for fixed
	Size               uint64 // Virtual size in bytes, multiple of 512
	BlockSize          uint32 // 0 selects the host default
	LogicalSectorSize  uint32 // 0 selects the host default
	PhysicalSectorSize uint32 // 0 selects the host default
}

// Validate checks the spec against the policy of v.
func (s *CreateSpec) Validate(v Variant) error {
	if s.Path == "" {
		return invalidArgument("disk path is required")
	}
	if s.Size%SectorSize != 0 {
		return invalidArgument("disk size %d is not a multiple of %d", s.Size, SectorSize)
	}
	if v.RequiresParent && s.ParentPath == "" {
		return invalidArgument("%s disk requires a parent path", v.Type)
	}
	if !v.AllowsParent && s.ParentPath != "" {
		return invalidArgument("%s disk cannot have a parent", v.Type)
	}
	if !validSectorSize(s.LogicalSectorSize) {
		return invalidArgument("logical sector size %d must be 0, 512 or 4096", s.LogicalSectorSize)
	}
	if !validSectorSize(s.PhysicalSectorSize) {
		return invalidArgument("physical sector size %d must be 0, 512 or 4096", s.PhysicalSectorSize)
	}
	return nil
}

func validSectorSize(n uint32) bool {
	return n == 0 || n == 512 || n == 4096
}
