package v1alpha1

// VirtualDisk is a virtual disk image managed through the host virtual
// disk service.
//
// This resource separates desired state (Spec) from observed state
// (Status), following Kubernetes API conventions.
//
// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:resource:shortName=vd;vds
// +kubebuilder:printcolumn:name="Phase",type=string,JSONPath=`.status.phase`
// +kubebuilder:printcolumn:name="Path",type=string,JSONPath=`.status.path`
type VirtualDisk struct {
	TypeMeta `json:",inline" yaml:",inline"`

	// +optional
	ObjectMeta `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	Spec VirtualDiskSpec `json:"spec" yaml:"spec"`

	// +optional
	Status VirtualDiskStatus `json:"status,omitempty" yaml:"status,omitempty"`
}

// DiskType is the allocation policy of a disk.
type DiskType string

const (
	DiskTypeFixed        DiskType = "fixed"
	DiskTypeDynamic      DiskType = "dynamic"
	DiskTypeDifferencing DiskType = "differencing"
)

// VirtualDiskSpec defines the desired state of a VirtualDisk.
type VirtualDiskSpec struct {
	// Path is the image file. Its extension selects the image format.
	Path string `json:"path" yaml:"path" validate:"required"`

	// Type is the allocation policy. Defaults to dynamic.
	// +kubebuilder:validation:Enum=fixed;dynamic;differencing
	Type DiskType `json:"type,omitempty" yaml:"type,omitempty" validate:"required,oneof=fixed dynamic differencing"`

	// Size is the virtual size, e.g. "20Gi" or "512Mi". Differencing disks
	// inherit the size of their parent when it is omitted. A size larger
	// than the current one grows an existing disk.
	// +optional
	Size string `json:"size,omitempty" yaml:"size,omitempty" validate:"required_unless=Type differencing"`

	// ParentPath is the parent image of a differencing disk.
	// +optional
	ParentPath string `json:"parentPath,omitempty" yaml:"parentPath,omitempty" validate:"required_if=Type differencing"`

	// BlockSize in bytes; 0 selects the host default.
	// +optional
	BlockSize uint32 `json:"blockSize,omitempty" yaml:"blockSize,omitempty"`

	// +optional
	// +kubebuilder:validation:Enum=512;4096
	LogicalSectorSize uint32 `json:"logicalSectorSize,omitempty" yaml:"logicalSectorSize,omitempty" validate:"omitempty,oneof=512 4096"`

	// +optional
	// +kubebuilder:validation:Enum=512;4096
	PhysicalSectorSize uint32 `json:"physicalSectorSize,omitempty" yaml:"physicalSectorSize,omitempty" validate:"omitempty,oneof=512 4096"`

	// Metadata entries to attach to the disk.
	// +optional
	Metadata []MetadataEntry `json:"metadata,omitempty" yaml:"metadata,omitempty" validate:"dive"`

	// Mirror copies the disk to a new image once it is provisioned.
	// +optional
	Mirror *MirrorSpec `json:"mirror,omitempty" yaml:"mirror,omitempty"`
}

// MetadataEntry is one blob attached to a disk. Entries are keyed by ID,
// or by a key derived from Key when ID is empty.
type MetadataEntry struct {
	Key   string `json:"key,omitempty" yaml:"key,omitempty" validate:"required_without=ID"`
	ID    string `json:"id,omitempty" yaml:"id,omitempty" validate:"omitempty,uuid"`
	Value string `json:"value" yaml:"value"`
}

// MirrorSpec describes a mirror of the disk.
type MirrorSpec struct {
	// Destination is the image the disk is mirrored to. Defaults to
	// "<name>-mirror<ext>" next to the source.
	// +optional
	Destination string `json:"destination,omitempty" yaml:"destination,omitempty"`
}

// VirtualDiskStatus defines the observed state of a VirtualDisk.
type VirtualDiskStatus struct {
	// +optional
	Phase DiskPhase `json:"phase,omitempty" yaml:"phase,omitempty"`

	// Path is the image currently backing the disk. It differs from
	// spec.path after a mirror.
	// +optional
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// +optional
	Identifier string `json:"identifier,omitempty" yaml:"identifier,omitempty"`

	// +optional
	VirtualSize uint64 `json:"virtualSize,omitempty" yaml:"virtualSize,omitempty"`

	// +optional
	PhysicalSize uint64 `json:"physicalSize,omitempty" yaml:"physicalSize,omitempty"`

	// ParentChain lists the ancestors of a differencing disk, nearest first.
	// +optional
	ParentChain []string `json:"parentChain,omitempty" yaml:"parentChain,omitempty"`

	// +optional
	ObservedGeneration int64 `json:"observedGeneration,omitempty" yaml:"observedGeneration,omitempty"`

	// +optional
	Conditions []Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

// DiskPhase is a simple, high-level summary of where the disk is in its lifecycle.
type DiskPhase string

const (
	DiskPhasePending   DiskPhase = "Pending"
	DiskPhaseCreating  DiskPhase = "Creating"
	DiskPhaseReady     DiskPhase = "Ready"
	DiskPhaseMirroring DiskPhase = "Mirroring"
	DiskPhaseFailed    DiskPhase = "Failed"
)

// Condition types of a VirtualDisk.
const (
	ConditionReady           = "Ready"
	ConditionProvisioned     = "Provisioned"
	ConditionMetadataApplied = "MetadataApplied"
	ConditionMirrored        = "Mirrored"
)

// DeepCopy creates a deep copy of VirtualDisk.
func (in *VirtualDisk) DeepCopy() *VirtualDisk {
	if in == nil {
		return nil
	}
	out := new(VirtualDisk)
	*out = *in
	out.ObjectMeta = *in.ObjectMeta.DeepCopy()

	if in.Spec.Metadata != nil {
		out.Spec.Metadata = append([]MetadataEntry(nil), in.Spec.Metadata...)
	}
	if in.Spec.Mirror != nil {
		mirror := *in.Spec.Mirror
		out.Spec.Mirror = &mirror
	}
	if in.Status.ParentChain != nil {
		out.Status.ParentChain = append([]string(nil), in.Status.ParentChain...)
	}
	if in.Status.Conditions != nil {
		out.Status.Conditions = append([]Condition(nil), in.Status.Conditions...)
	}
	return out
}
