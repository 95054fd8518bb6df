package output

import (
	"fmt"
	"strings"

	"github.com/jbweber/vdisk/internal/vdisk"
)

type infoField struct {
	key   string
	label string
	value any
}

// infoFields lists the fields of info that belong to its version.
func infoFields(info *vdisk.DiskInfo) []infoField {
	switch info.Version {
	case vdisk.InfoSize:
		return []infoField{
			{"virtualSize", "VIRTUAL SIZE", info.Size.VirtualSize},
			{"physicalSize", "PHYSICAL SIZE", info.Size.PhysicalSize},
			{"blockSize", "BLOCK SIZE", info.Size.BlockSize},
			{"sectorSize", "SECTOR SIZE", info.Size.SectorSize},
		}
	case vdisk.InfoIdentifier:
		return []infoField{{"identifier", "IDENTIFIER", info.Identifier.String()}}
	case vdisk.InfoParentLocation:
		return []infoField{
			{"parentResolved", "PARENT RESOLVED", info.ParentResolved},
			{"parentLocations", "PARENT LOCATIONS", info.ParentLocations},
		}
	case vdisk.InfoParentIdentifier:
		return []infoField{{"parentIdentifier", "PARENT IDENTIFIER", info.ParentIdentifier.String()}}
	case vdisk.InfoParentTimestamp:
		return []infoField{{"parentTimestamp", "PARENT TIMESTAMP", info.ParentTimestamp}}
	case vdisk.InfoVirtualStorageType:
		return []infoField{
			{"deviceId", "DEVICE ID", info.StorageType.DeviceID},
			{"vendorId", "VENDOR ID", info.StorageType.VendorID.String()},
		}
	case vdisk.InfoProviderSubtype:
		return []infoField{{"providerSubtype", "PROVIDER SUBTYPE", info.ProviderSubtype}}
	case vdisk.InfoIs4kAligned:
		return []infoField{{"is4kAligned", "4K ALIGNED", info.Is4kAligned}}
	case vdisk.InfoPhysicalDisk:
		return []infoField{
			{"logicalSectorSize", "LOGICAL SECTOR SIZE", info.PhysicalDisk.LogicalSectorSize},
			{"physicalSectorSize", "PHYSICAL SECTOR SIZE", info.PhysicalDisk.PhysicalSectorSize},
			{"isRemote", "REMOTE", info.PhysicalDisk.IsRemote},
		}
	case vdisk.InfoPhysicalSectorSize:
		return []infoField{{"physicalSectorSize", "PHYSICAL SECTOR SIZE", info.PhysicalSectorSize}}
	case vdisk.InfoSmallestSafeVirtualSize:
		return []infoField{{"smallestSafeVirtualSize", "SMALLEST SAFE SIZE", info.SmallestSafeVirtualSize}}
	case vdisk.InfoFragmentation:
		return []infoField{{"fragmentationPercentage", "FRAGMENTATION %", info.FragmentationPercentage}}
	case vdisk.InfoIsLoaded:
		return []infoField{{"isLoaded", "LOADED", info.IsLoaded}}
	case vdisk.InfoVirtualDiskID:
		return []infoField{{"virtualDiskId", "VIRTUAL DISK ID", info.VirtualDiskID.String()}}
	default:
		return nil
	}
}

// infoView is the serializable form of info.
func infoView(info *vdisk.DiskInfo) map[string]any {
	view := map[string]any{"version": info.Version.String()}
	for _, f := range infoFields(info) {
		view[f.key] = f.value
	}
	return view
}

func formatValue(v any) string {
	switch v := v.(type) {
	case []string:
		if len(v) == 0 {
			return "-"
		}
		return strings.Join(v, ", ")
	case string:
		if v == "" {
			return "-"
		}
		return v
	default:
		return fmt.Sprint(v)
	}
}
