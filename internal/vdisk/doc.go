// Package vdisk manages the lifecycle of virtual disk images (fixed, dynamic
// and differencing) on top of a host virtual-disk service.
//
// The package is a thin but stateful wrapper. The host service is consumed
// through the Platform interface, which mirrors the status-code API of the
// Windows virtdisk library. Two implementations exist in this repository:
//   - internal/virtdisk: the Windows virtdisk.dll backend
//   - internal/storage: a libvirt storage/domain backend
//
// Handle Lifecycle:
//
// A Disk owns at most one open platform handle. Create is single-shot per
// Disk, Open always closes the current handle first, and Close is idempotent.
//
//	disk, err := vdisk.New(platform, vdisk.DiskTypeFixed)
//	if err != nil {
//	    return err
//	}
//	defer disk.Close()
//
//	err = disk.Create(ctx, vdisk.CreateSpec{
//	    Path: `E:\fixed.vhdx`,
//	    Size: 1 << 30,
//	})
//
// Asynchronous Operations:
//
// Long running host operations (mirroring) are driven by a Waiter which polls
// operation progress at a fixed interval until a caller supplied Predicate
// reports completion. Mirror runs the two phase mirror-then-break protocol,
// each phase with its own operation context.
//
// Two-Call Queries:
//
// Metadata enumeration and storage dependency queries follow the host's
// "query size, then fetch" idiom: a first call with no (or a minimal) buffer
// learns the required size, an insufficient-buffer status is expected, and a
// second call fetches with exactly that capacity.
package vdisk
