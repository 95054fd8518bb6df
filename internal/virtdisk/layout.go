package virtdisk

import (
	"encoding/binary"
	"fmt"
	"unicode/utf16"

	"github.com/Microsoft/go-winio/pkg/guid"
	"github.com/google/uuid"

	"github.com/jbweber/vdisk/internal/vdisk"
)

// Buffer layouts of the virtdisk.dll output structures on 64-bit Windows.
const (
	// GET_VIRTUAL_DISK_INFO: Version, padding, then an 8-aligned union
	// whose largest member (Size) is 24 bytes.
	getInfoUnionOffset = 8
	getInfoSize        = 32

	// STORAGE_DEPENDENCY_INFO: Version, NumberEntries, then an array of
	// STORAGE_DEPENDENCY_INFO_TYPE_2 entries of 64 bytes each.
	dependencyHeaderSize   = 8
	dependencyEntrySize    = 64
	dependencyInfoVersion2 = 2
)

var le = binary.LittleEndian

// toUUID converts a GUID in Windows memory layout to a uuid.UUID.
func toUUID(b []byte) uuid.UUID {
	var a [16]byte
	copy(a[:], b)
	return uuid.UUID(guid.FromWindowsArray(a).ToArray())
}

// toGUID converts a uuid.UUID to a GUID for passing to virtdisk.dll.
func toGUID(u uuid.UUID) guid.GUID {
	return guid.FromArray(u)
}

// newGetInfoBuffer allocates a GET_VIRTUAL_DISK_INFO buffer of size bytes
// with the requested version set.
func newGetInfoBuffer(version vdisk.InfoVersion, size uint32) []byte {
	if size < getInfoSize {
		size = getInfoSize
	}
	buf := make([]byte, size)
	le.PutUint32(buf, uint32(version))
	return buf
}

// decodeDiskInfo decodes the union of a GET_VIRTUAL_DISK_INFO buffer of
// which used bytes were written.
func decodeDiskInfo(buf []byte, used uint32, info *vdisk.DiskInfo) error {
	if used == 0 || used > uint32(len(buf)) {
		used = uint32(len(buf))
	}
	if used < getInfoUnionOffset {
		return fmt.Errorf("disk info %s: short header (%d bytes)", info.Version, used)
	}
	b := buf[getInfoUnionOffset:used]

	need := func(n int) error {
		if len(b) < n {
			return fmt.Errorf("disk info %s: short buffer (%d < %d bytes)", info.Version, len(b), n)
		}
		return nil
	}

	switch info.Version {
	case vdisk.InfoSize:
		if err := need(24); err != nil {
			return err
		}
		info.Size = vdisk.SizeInfo{
			VirtualSize:  le.Uint64(b[0:]),
			PhysicalSize: le.Uint64(b[8:]),
			BlockSize:    le.Uint32(b[16:]),
			SectorSize:   le.Uint32(b[20:]),
		}
	case vdisk.InfoIdentifier, vdisk.InfoParentIdentifier, vdisk.InfoVirtualDiskID:
		if err := need(16); err != nil {
			return err
		}
		id := toUUID(b[:16])
		switch info.Version {
		case vdisk.InfoIdentifier:
			info.Identifier = id
		case vdisk.InfoParentIdentifier:
			info.ParentIdentifier = id
		default:
			info.VirtualDiskID = id
		}
	case vdisk.InfoParentLocation:
		if err := need(4); err != nil {
			return err
		}
		info.ParentResolved = le.Uint32(b[0:]) != 0
		info.ParentLocations = decodeMultiSZ(b[4:])
	case vdisk.InfoVirtualStorageType:
		if err := need(20); err != nil {
			return err
		}
		info.StorageType = vdisk.VirtualStorageType{
			DeviceID: le.Uint32(b[0:]),
			VendorID: toUUID(b[4:20]),
		}
	case vdisk.InfoPhysicalDisk:
		if err := need(12); err != nil {
			return err
		}
		info.PhysicalDisk = vdisk.PhysicalDiskInfo{
			LogicalSectorSize:  le.Uint32(b[0:]),
			PhysicalSectorSize: le.Uint32(b[4:]),
			IsRemote:           le.Uint32(b[8:]) != 0,
		}
	case vdisk.InfoSmallestSafeVirtualSize:
		if err := need(8); err != nil {
			return err
		}
		info.SmallestSafeVirtualSize = le.Uint64(b[0:])
	case vdisk.InfoParentTimestamp, vdisk.InfoProviderSubtype, vdisk.InfoIs4kAligned,
		vdisk.InfoPhysicalSectorSize, vdisk.InfoFragmentation, vdisk.InfoIsLoaded:
		if err := need(4); err != nil {
			return err
		}
		v := le.Uint32(b[0:])
		switch info.Version {
		case vdisk.InfoParentTimestamp:
			info.ParentTimestamp = v
		case vdisk.InfoProviderSubtype:
			info.ProviderSubtype = v
		case vdisk.InfoIs4kAligned:
			info.Is4kAligned = v != 0
		case vdisk.InfoPhysicalSectorSize:
			info.PhysicalSectorSize = v
		case vdisk.InfoFragmentation:
			info.FragmentationPercentage = v
		default:
			info.IsLoaded = v != 0
		}
	default:
		return fmt.Errorf("unsupported disk info version %d", uint32(info.Version))
	}
	return nil
}

// newDependencyBuffer allocates a STORAGE_DEPENDENCY_INFO buffer of size
// bytes with the version 2 header set.
func newDependencyBuffer(size uint32) []byte {
	if size < dependencyHeaderSize {
		size = dependencyHeaderSize
	}
	buf := make([]byte, size)
	le.PutUint32(buf, dependencyInfoVersion2)
	return buf
}

// decodeDependencies decodes a STORAGE_DEPENDENCY_INFO version 2 buffer.
//
// The string members of each entry are pointers into the same buffer; base
// is the address of buf[0] and is used to turn them into offsets.
func decodeDependencies(buf []byte, base uint64) ([]vdisk.DependencyEntry, error) {
	if len(buf) < dependencyHeaderSize {
		return nil, fmt.Errorf("dependency info: short header (%d bytes)", len(buf))
	}
	if v := le.Uint32(buf[0:]); v != dependencyInfoVersion2 {
		return nil, fmt.Errorf("dependency info: unexpected version %d", v)
	}
	count := int(le.Uint32(buf[4:]))
	if end := dependencyHeaderSize + count*dependencyEntrySize; end > len(buf) {
		return nil, fmt.Errorf("dependency info: %d entries overflow %d byte buffer", count, len(buf))
	}

	str := func(ptr uint64) (string, error) {
		if ptr == 0 {
			return "", nil
		}
		if ptr < base || ptr >= base+uint64(len(buf)) {
			return "", fmt.Errorf("dependency info: string pointer 0x%x outside buffer", ptr)
		}
		return decodeUTF16Z(buf[ptr-base:]), nil
	}

	entries := make([]vdisk.DependencyEntry, 0, count)
	for i := 0; i < count; i++ {
		e := buf[dependencyHeaderSize+i*dependencyEntrySize:]
		entry := vdisk.DependencyEntry{
			DependencyTypeFlags:   le.Uint32(e[0:]),
			ProviderSpecificFlags: le.Uint32(e[4:]),
			StorageType: vdisk.VirtualStorageType{
				DeviceID: le.Uint32(e[8:]),
				VendorID: toUUID(e[12:28]),
			},
			AncestorLevel: le.Uint32(e[28:]),
		}

		names := []*string{
			&entry.DependencyDeviceName,
			&entry.HostVolumeName,
			&entry.DependentVolumeName,
			&entry.DependentVolumeRelativePath,
		}
		for j, name := range names {
			s, err := str(le.Uint64(e[32+8*j:]))
			if err != nil {
				return nil, err
			}
			*name = s
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// decodeUTF16Z decodes a NUL-terminated little-endian UTF-16 string.
func decodeUTF16Z(b []byte) string {
	u := make([]uint16, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		c := le.Uint16(b[i:])
		if c == 0 {
			break
		}
		u = append(u, c)
	}
	return string(utf16.Decode(u))
}

// decodeMultiSZ decodes a list of NUL-terminated UTF-16 strings ending with
// an empty string or the end of the buffer.
func decodeMultiSZ(b []byte) []string {
	var out []string
	for len(b) >= 2 {
		s := decodeUTF16Z(b)
		if s == "" {
			break
		}
		out = append(out, s)
		n := (len(utf16.Encode([]rune(s))) + 1) * 2
		if n > len(b) {
			break
		}
		b = b[n:]
	}
	return out
}

// encodeUTF16Z encodes s as a NUL-terminated little-endian UTF-16 string.
func encodeUTF16Z(s string) []byte {
	u := utf16.Encode([]rune(s))
	b := make([]byte, (len(u)+1)*2)
	for i, c := range u {
		le.PutUint16(b[2*i:], c)
	}
	return b
}
