package v1alpha1

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// GroupName is the API group for vdisk resources.
	GroupName = "vdisk.cofront.xyz"

	// Version is the API version.
	Version = "v1alpha1"

	// VirtualDiskKind is the kind string for VirtualDisk resources.
	VirtualDiskKind = "VirtualDisk"
)

// APIVersion returns the apiVersion string of this package.
func APIVersion() string {
	return GroupName + "/" + Version
}

// NewVirtualDisk creates a new dynamic VirtualDisk with TypeMeta and
// ObjectMeta defaults.
func NewVirtualDisk(name, path string) *VirtualDisk {
	return &VirtualDisk{
		TypeMeta: TypeMeta{
			APIVersion: APIVersion(),
			Kind:       VirtualDiskKind,
		},
		ObjectMeta: ObjectMeta{
			Name:              name,
			CreationTimestamp: Time{Time: time.Now()},
			Generation:        1,
		},
		Spec: VirtualDiskSpec{
			Path: path,
			Type: DiskTypeDynamic,
		},
		Status: VirtualDiskStatus{
			Phase: DiskPhasePending,
		},
	}
}

// SetDefaultAPIVersion ensures the disk has the correct apiVersion and kind.
func SetDefaultAPIVersion(vd *VirtualDisk) {
	if vd.APIVersion == "" {
		vd.APIVersion = APIVersion()
	}
	if vd.Kind == "" {
		vd.Kind = VirtualDiskKind
	}
}

// Normalize sanitizes user input to consistent formats.
// This is called automatically before validation.
func (vd *VirtualDisk) Normalize() {
	vd.Name = strings.TrimSpace(vd.Name)
	vd.Spec.Path = strings.TrimSpace(vd.Spec.Path)
	vd.Spec.ParentPath = strings.TrimSpace(vd.Spec.ParentPath)
	vd.Spec.Size = strings.TrimSpace(vd.Spec.Size)

	vd.Spec.Type = DiskType(strings.ToLower(strings.TrimSpace(string(vd.Spec.Type))))
	if vd.Spec.Type == "" {
		vd.Spec.Type = DiskTypeDynamic
	}

	if vd.Status.Phase == "" {
		vd.Status.Phase = DiskPhasePending
	}
}

// SizeBytes returns the parsed spec.size, or 0 when it is omitted.
func (vd *VirtualDisk) SizeBytes() (uint64, error) {
	if vd.Spec.Size == "" {
		return 0, nil
	}
	return ParseSize(vd.Spec.Size)
}

// SetPhase sets the disk phase in status.
func (vd *VirtualDisk) SetPhase(phase DiskPhase) {
	vd.Status.Phase = phase
}

// GetPhase returns the current disk phase.
func (vd *VirtualDisk) GetPhase() DiskPhase {
	return vd.Status.Phase
}

// UpdateObservedGeneration updates status.observedGeneration to match metadata.generation.
func (vd *VirtualDisk) UpdateObservedGeneration() {
	vd.Status.ObservedGeneration = vd.Generation
}

var sizeUnits = []struct {
	suffix string
	factor uint64
}{
	{"Ti", 1 << 40},
	{"Gi", 1 << 30},
	{"Mi", 1 << 20},
	{"Ki", 1 << 10},
	{"T", 1e12},
	{"G", 1e9},
	{"M", 1e6},
	{"K", 1e3},
}

// ParseSize parses a byte count with an optional binary (Ki, Mi, Gi, Ti)
// or decimal (K, M, G, T) suffix.
func ParseSize(s string) (uint64, error) {
	num := strings.TrimSpace(s)
	factor := uint64(1)
	for _, u := range sizeUnits {
		if strings.HasSuffix(num, u.suffix) {
			num = strings.TrimSuffix(num, u.suffix)
			factor = u.factor
			break
		}
	}

	n, err := strconv.ParseUint(strings.TrimSpace(num), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if n > ^uint64(0)/factor {
		return 0, fmt.Errorf("size %q overflows", s)
	}
	return n * factor, nil
}

// FormatSize renders a byte count with the largest binary suffix that
// divides it exactly.
func FormatSize(n uint64) string {
	for _, u := range sizeUnits[:4] {
		if n != 0 && n%u.factor == 0 {
			return strconv.FormatUint(n/u.factor, 10) + u.suffix
		}
	}
	return strconv.FormatUint(n, 10)
}
