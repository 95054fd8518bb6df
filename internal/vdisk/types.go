package vdisk

import (
	"fmt"

	"github.com/google/uuid"
)

// Status is a raw status code reported by the host virtual-disk service.
// Codes follow Win32 error numbering on every backend.
type Status uint32

const (
	StatusSuccess            Status = 0    // ERROR_SUCCESS
	StatusFileNotFound       Status = 2    // ERROR_FILE_NOT_FOUND
	StatusPathNotFound       Status = 3    // ERROR_PATH_NOT_FOUND
	StatusAccessDenied       Status = 5    // ERROR_ACCESS_DENIED
	StatusInvalidHandle      Status = 6    // ERROR_INVALID_HANDLE
	StatusGenFailure         Status = 31   // ERROR_GEN_FAILURE
	StatusNotSupported       Status = 50   // ERROR_NOT_SUPPORTED
	StatusFileExists         Status = 80   // ERROR_FILE_EXISTS
	StatusInvalidParameter   Status = 87   // ERROR_INVALID_PARAMETER
	StatusInsufficientBuffer Status = 122  // ERROR_INSUFFICIENT_BUFFER
	StatusMoreData           Status = 234  // ERROR_MORE_DATA
	StatusIOPending          Status = 997  // ERROR_IO_PENDING
	StatusNotFound           Status = 1168 // ERROR_NOT_FOUND
)

var statusNames = map[Status]string{
	StatusSuccess:            "success",
	StatusFileNotFound:       "file not found",
	StatusPathNotFound:       "path not found",
	StatusAccessDenied:       "access denied",
	StatusInvalidHandle:      "invalid handle",
	StatusGenFailure:         "general failure",
	StatusNotSupported:       "not supported",
	StatusFileExists:         "file exists",
	StatusInvalidParameter:   "invalid parameter",
	StatusInsufficientBuffer: "insufficient buffer",
	StatusMoreData:           "more data",
	StatusIOPending:          "operation pending",
	StatusNotFound:           "element not found",
}

// Error implements the error interface so that a PlatformError can be
// matched with errors.Is(err, vdisk.StatusNotFound).
func (s Status) Error() string {
	if name, ok := statusNames[s]; ok {
		return fmt.Sprintf("%s (code %d)", name, uint32(s))
	}
	return fmt.Sprintf("status code %d (0x%08x)", uint32(s), uint32(s))
}

// String returns the same text as Error.
func (s Status) String() string {
	return s.Error()
}

// bufferTooSmall reports whether s is one of the "insufficient buffer" class
// codes expected from the first call of a two-call query.
func bufferTooSmall(s Status) bool {
	return s == StatusInsufficientBuffer || s == StatusMoreData
}

// Handle is an opaque platform handle.
type Handle uintptr

// InvalidHandle is the platform's "invalid handle" marker.
// The zero Handle is the closed sentinel.
const InvalidHandle = ^Handle(0)

// Valid reports whether h refers to a live platform resource.
func (h Handle) Valid() bool {
	return h != 0 && h != InvalidHandle
}

// Operation is an opaque token for one asynchronous host operation.
// It wraps the synchronization primitive the host signals on.
type Operation uintptr

// AccessMask selects the access requested when opening a virtual disk.
type AccessMask uint32

const (
	AccessNone     AccessMask = 0x00000000
	AccessAttachRO AccessMask = 0x00010000
	AccessAttachRW AccessMask = 0x00020000
	AccessDetach   AccessMask = 0x00040000
	AccessGetInfo  AccessMask = 0x00080000
	AccessCreate   AccessMask = 0x00100000
	AccessMetaOps  AccessMask = 0x00200000
	AccessRead     AccessMask = 0x000d0000
	AccessAll      AccessMask = 0x003f0000
	AccessWritable AccessMask = 0x00320000
)

// OpenFlag modifies how a virtual disk is opened.
type OpenFlag uint32

const (
	OpenFlagNone                        OpenFlag = 0x00000000
	OpenFlagNoParents                   OpenFlag = 0x00000001
	OpenFlagBlankFile                   OpenFlag = 0x00000002
	OpenFlagBootDrive                   OpenFlag = 0x00000004
	OpenFlagCachedIO                    OpenFlag = 0x00000008
	OpenFlagCustomDiffChain             OpenFlag = 0x00000010
	OpenFlagParentCachedIO              OpenFlag = 0x00000020
	OpenFlagVHDSetFileOnly              OpenFlag = 0x00000040
	OpenFlagIgnoreRelativeParentLocator OpenFlag = 0x00000080
	OpenFlagNoWriteHardening            OpenFlag = 0x00000100
)

// CreateFlag modifies how a virtual disk is created.
type CreateFlag uint32

const (
	CreateFlagNone                        CreateFlag = 0x00000000
	CreateFlagFullPhysicalAllocation      CreateFlag = 0x00000001
	CreateFlagPreventWritesToSourceDisk   CreateFlag = 0x00000002
	CreateFlagDoNotCopyMetadataFromParent CreateFlag = 0x00000004
	CreateFlagCreateBackingStorage        CreateFlag = 0x00000008
	CreateFlagSparseFile                  CreateFlag = 0x00000080
)

// DependencyFlag selects what a storage dependency query reports.
type DependencyFlag uint32

const (
	DependencyFlagNone DependencyFlag = 0x00000000
	// DependencyFlagParents returns the ancestors (host volumes) of the target.
	DependencyFlagParents DependencyFlag = 0x00000001
	// DependencyFlagDiskHandle marks the queried handle as a disk handle
	// rather than a volume handle.
	DependencyFlagDiskHandle DependencyFlag = 0x00000002
)

// SectorSize is the alignment every disk size must honour.
const SectorSize = 512

// MinDependencyInfoSize is the size of a dependency info header holding a
// single entry. It is the buffer size used for the first call of a
// dependency query.
const MinDependencyInfoSize uint32 = 72

// Storage device types.
const (
	DeviceTypeUnknown uint32 = 0
	DeviceTypeISO     uint32 = 1
	DeviceTypeVHD     uint32 = 2
	DeviceTypeVHDX    uint32 = 3
	DeviceTypeVHDSet  uint32 = 4
)

// VendorMicrosoft identifies Microsoft as the virtual storage vendor.
var VendorMicrosoft = uuid.MustParse("ec984aec-a0f9-47e9-901f-71415a66345b")

// VirtualStorageType identifies the device type and vendor of a virtual disk.
type VirtualStorageType struct {
	DeviceID uint32    `json:"deviceId" yaml:"deviceId"`
	VendorID uuid.UUID `json:"vendorId" yaml:"vendorId"`
}

// CreateParameters are the values handed to the platform by Disk.Create.
type CreateParameters struct {
	UniqueID           uuid.UUID
	MaximumSize        uint64
	BlockSize          uint32
	LogicalSectorSize  uint32
	PhysicalSectorSize uint32
	ParentPath         string
}

// Progress is a snapshot of an asynchronous operation.
type Progress struct {
	OperationStatus Status
	CurrentValue    uint64
	CompletionValue uint64
}

// Percent returns the completion percentage, or 0 when the completion value
// is not yet known.
func (p Progress) Percent() float64 {
	if p.CompletionValue == 0 {
		return 0
	}
	return float64(p.CurrentValue) * 100 / float64(p.CompletionValue)
}

// InfoVersion selects which piece of disk information a query returns.
type InfoVersion uint32

const (
	InfoSize                    InfoVersion = 1
	InfoIdentifier              InfoVersion = 2
	InfoParentLocation          InfoVersion = 3
	InfoParentIdentifier        InfoVersion = 4
	InfoParentTimestamp         InfoVersion = 5
	InfoVirtualStorageType      InfoVersion = 6
	InfoProviderSubtype         InfoVersion = 7
	InfoIs4kAligned             InfoVersion = 8
	InfoPhysicalDisk            InfoVersion = 9
	InfoPhysicalSectorSize      InfoVersion = 10
	InfoSmallestSafeVirtualSize InfoVersion = 11
	InfoFragmentation           InfoVersion = 12
	InfoIsLoaded                InfoVersion = 13
	InfoVirtualDiskID           InfoVersion = 14
)

var infoVersionNames = map[InfoVersion]string{
	InfoSize:                    "size",
	InfoIdentifier:              "identifier",
	InfoParentLocation:          "parent-location",
	InfoParentIdentifier:        "parent-identifier",
	InfoParentTimestamp:         "parent-timestamp",
	InfoVirtualStorageType:      "storage-type",
	InfoProviderSubtype:         "provider-subtype",
	InfoIs4kAligned:             "4k-aligned",
	InfoPhysicalDisk:            "physical-disk",
	InfoPhysicalSectorSize:      "physical-sector-size",
	InfoSmallestSafeVirtualSize: "smallest-safe-size",
	InfoFragmentation:           "fragmentation",
	InfoIsLoaded:                "is-loaded",
	InfoVirtualDiskID:           "virtual-disk-id",
}

func (v InfoVersion) String() string {
	if name, ok := infoVersionNames[v]; ok {
		return name
	}
	return fmt.Sprintf("info-version-%d", uint32(v))
}

// ParseInfoVersion parses the names printed by InfoVersion.String.
func ParseInfoVersion(s string) (InfoVersion, error) {
	for v, name := range infoVersionNames {
		if name == s {
			return v, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown info version %q", ErrInvalidArgument, s)
}

// Provider subtypes reported for InfoProviderSubtype.
const (
	ProviderSubtypeFixed        uint32 = 2
	ProviderSubtypeDynamic      uint32 = 3
	ProviderSubtypeDifferencing uint32 = 4
)

// SizeInfo is returned for InfoSize.
type SizeInfo struct {
	VirtualSize  uint64 `json:"virtualSize" yaml:"virtualSize"`
	PhysicalSize uint64 `json:"physicalSize" yaml:"physicalSize"`
	BlockSize    uint32 `json:"blockSize" yaml:"blockSize"`
	SectorSize   uint32 `json:"sectorSize" yaml:"sectorSize"`
}

// PhysicalDiskInfo is returned for InfoPhysicalDisk.
type PhysicalDiskInfo struct {
	LogicalSectorSize  uint32 `json:"logicalSectorSize" yaml:"logicalSectorSize"`
	PhysicalSectorSize uint32 `json:"physicalSectorSize" yaml:"physicalSectorSize"`
	IsRemote           bool   `json:"isRemote" yaml:"isRemote"`
}

// DiskInfo is a snapshot of disk information. Only the fields belonging to
// Version are populated by a query.
type DiskInfo struct {
	Version InfoVersion `json:"version" yaml:"version"`

	Size                    SizeInfo           `json:"size,omitempty" yaml:"size,omitempty"`
	Identifier              uuid.UUID          `json:"identifier,omitempty" yaml:"identifier,omitempty"`
	ParentResolved          bool               `json:"parentResolved,omitempty" yaml:"parentResolved,omitempty"`
	ParentLocations         []string           `json:"parentLocations,omitempty" yaml:"parentLocations,omitempty"`
	ParentIdentifier        uuid.UUID          `json:"parentIdentifier,omitempty" yaml:"parentIdentifier,omitempty"`
	ParentTimestamp         uint32             `json:"parentTimestamp,omitempty" yaml:"parentTimestamp,omitempty"`
	StorageType             VirtualStorageType `json:"storageType,omitempty" yaml:"storageType,omitempty"`
	ProviderSubtype         uint32             `json:"providerSubtype,omitempty" yaml:"providerSubtype,omitempty"`
	Is4kAligned             bool               `json:"is4kAligned,omitempty" yaml:"is4kAligned,omitempty"`
	PhysicalDisk            PhysicalDiskInfo   `json:"physicalDisk,omitempty" yaml:"physicalDisk,omitempty"`
	PhysicalSectorSize      uint32             `json:"physicalSectorSize,omitempty" yaml:"physicalSectorSize,omitempty"`
	SmallestSafeVirtualSize uint64             `json:"smallestSafeVirtualSize,omitempty" yaml:"smallestSafeVirtualSize,omitempty"`
	FragmentationPercentage uint32             `json:"fragmentationPercentage,omitempty" yaml:"fragmentationPercentage,omitempty"`
	IsLoaded                bool               `json:"isLoaded,omitempty" yaml:"isLoaded,omitempty"`
	VirtualDiskID           uuid.UUID          `json:"virtualDiskId,omitempty" yaml:"virtualDiskId,omitempty"`
}

// SetInfoVersion selects which piece of disk information an update changes.
type SetInfoVersion uint32

const (
	SetInfoParentPath          SetInfoVersion = 1
	SetInfoIdentifier          SetInfoVersion = 2
	SetInfoParentPathWithDepth SetInfoVersion = 3
	SetInfoPhysicalSectorSize  SetInfoVersion = 4
	SetInfoVirtualDiskID       SetInfoVersion = 5
)

// SetInfo is an update to disk information. Only the fields belonging to
// Version are read.
type SetInfo struct {
	Version            SetInfoVersion
	ParentPath         string
	ChildDepth         uint32
	Identifier         uuid.UUID
	PhysicalSectorSize uint32
	VirtualDiskID      uuid.UUID
}

// DependencyEntry describes one ancestor disk or volume of a queried drive.
type DependencyEntry struct {
	DependencyTypeFlags         uint32             `json:"dependencyTypeFlags" yaml:"dependencyTypeFlags"`
	ProviderSpecificFlags       uint32             `json:"providerSpecificFlags" yaml:"providerSpecificFlags"`
	StorageType                 VirtualStorageType `json:"storageType" yaml:"storageType"`
	AncestorLevel               uint32             `json:"ancestorLevel" yaml:"ancestorLevel"`
	DependencyDeviceName        string             `json:"dependencyDeviceName,omitempty" yaml:"dependencyDeviceName,omitempty"`
	HostVolumeName              string             `json:"hostVolumeName,omitempty" yaml:"hostVolumeName,omitempty"`
	DependentVolumeName         string             `json:"dependentVolumeName,omitempty" yaml:"dependentVolumeName,omitempty"`
	DependentVolumeRelativePath string             `json:"dependentVolumeRelativePath,omitempty" yaml:"dependentVolumeRelativePath,omitempty"`
}
