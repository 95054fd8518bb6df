// Package storage implements vdisk.Platform on libvirt storage pools.
//
// This package handles:
//   - Pool lifecycle (ensure, create, refresh, info)
//   - Image create, open and resize as volumes of one directory pool
//   - Mirroring, as a block copy job when a running guest has the image
//     attached and as a volume clone otherwise
//   - Disk information derived from the volume description
//   - Importing existing image files into the pool
//
// Volume Naming:
//
// An image path names its volume by base name. Relative paths are looked
// up in the pool; absolute paths must lie in the pool directory. The file
// extension selects the format:
//   - .qcow2: qcow2, the only format that can carry a parent
//   - .raw, .img: raw
//   - .vhd: vpc
//   - .vhdx: vhdx
//
// Metadata and Identifiers:
//
// libvirt volumes have no room for user metadata or disk identifiers. A
// MetadataStore (see internal/metastore) carries both, keyed by
// "pool/volume". Without one, metadata calls report StatusNotSupported
// and identifiers are derived from the volume key.
//
// Format Validation:
//
// The package performs pure Go magic byte detection to validate imports:
//   - VHDX: "vhdxfile" at offset 0
//   - VHD: "conectix" at offset 0 or in the footer
//   - QCOW2: Magic bytes "QFI\xfb" at offset 0
//   - ISO: "CD001" at offset 0x8001
//   - RAW: MBR signature 0x55aa at offset 510
//
// Example usage:
//
//	client, err := libvirt.Connect(cfg.Libvirt)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	mgr := storage.NewManager(client.Libvirt(),
//	    storage.WithPool("vdisk"),
//	    storage.WithMetadataStore(meta),
//	)
//	if err := mgr.EnsureDefaultPool(ctx, "/var/lib/libvirt/images/vdisk"); err != nil {
//	    return err
//	}
//
//	disk, err := vdisk.New(mgr, vdisk.DiskTypeDynamic)
//	if err != nil {
//	    return err
//	}
//	err = disk.Create(ctx, vdisk.CreateSpec{Path: "data.qcow2", Size: 20 << 30})
package storage
