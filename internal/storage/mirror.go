package storage

import (
	"context"
	"path/filepath"

	"github.com/digitalocean/go-libvirt"

	lv "github.com/jbweber/vdisk/internal/libvirt"
	"github.com/jbweber/vdisk/internal/vdisk"
)

// mirrorJob tracks a mirror from its start to the break.
//
// With a running guest attached, the mirror is a libvirt block copy job
// and domain is set. Otherwise the source is cloned into a new volume
// before MirrorVirtualDisk returns and dest is already valid.
type mirrorJob struct {
	op       vdisk.Operation
	destName string
	dest     libvirt.StorageVol

	domain *libvirt.Domain
	target string
}

// MirrorVirtualDisk starts copying the volume to destination.
func (m *Manager) MirrorVirtualDisk(h vdisk.Handle, destination string, op vdisk.Operation) vdisk.Status {
	ov, st := m.lookup(h)
	if st != vdisk.StatusSuccess {
		return st
	}
	if !ov.writable() {
		return vdisk.StatusAccessDenied
	}
	if ov.mirror != nil {
		m.log.WithField("volume", ov.vol.Name).Warn("A mirror is already running")
		return vdisk.StatusInvalidParameter
	}
	if st := m.bind(h, op); st != vdisk.StatusSuccess {
		return st
	}

	pool, st := m.lookupPool()
	if st != vdisk.StatusSuccess {
		return st
	}
	name, st := m.volumeName(pool, destination)
	if st != vdisk.StatusSuccess {
		return st
	}
	format, err := FormatForPath(destination)
	if err != nil {
		m.log.WithError(err).Warn("Cannot mirror image")
		return vdisk.StatusInvalidParameter
	}

	source, err := m.describeVolume(ov.vol)
	if err != nil {
		return m.fail("StorageVolGetXMLDesc", err)
	}

	dom, attached, found, err := m.findAttachment(ov.vol, source.Path)
	if err != nil {
		return m.fail("DomainGetXMLDesc", err)
	}

	log := m.log.WithField("volume", ov.vol.Name)
	if !found {
		log.Debug("Image not attached to a running guest, cloning volume")
		dest, err := m.cloneVolume(pool, ov.vol, name, format)
		if err != nil {
			return m.fail("StorageVolCreateXMLFrom", err)
		}
		ov.mirror = &mirrorJob{op: op, destName: name, dest: dest}
		return vdisk.StatusSuccess
	}

	poolDir, err := m.poolPath(pool)
	if err != nil {
		return m.fail("StoragePoolGetXMLDesc", err)
	}
	destXML, err := lv.BlockCopyDestXML(filepath.Join(poolDir, name), string(format))
	if err != nil {
		return m.fail("DomainBlockCopy", err)
	}

	log.WithField("domain", attached.Domain).Debugf("Starting block copy of %s", attached.Target)
	if err := m.client.DomainBlockCopy(dom, attached.Target, destXML, nil, libvirt.DomainBlockCopyTransientJob); err != nil {
		return m.fail("DomainBlockCopy", err)
	}

	ov.mirror = &mirrorJob{op: op, destName: name, domain: &dom, target: attached.Target}
	return vdisk.StatusIOPending
}

// GetOperationProgress reports the block copy job of the handle.
func (m *Manager) GetOperationProgress(h vdisk.Handle, op vdisk.Operation, progress *vdisk.Progress) vdisk.Status {
	ov, st := m.lookup(h)
	if st != vdisk.StatusSuccess {
		return st
	}
	job := ov.mirror
	if job == nil || job.op != op {
		return vdisk.StatusNotFound
	}

	if job.domain == nil {
		_, capacity, _, err := m.client.StorageVolGetInfo(job.dest)
		if err != nil {
			return m.fail("StorageVolGetInfo", err)
		}
		*progress = vdisk.Progress{OperationStatus: vdisk.StatusSuccess, CurrentValue: capacity, CompletionValue: capacity}
		return vdisk.StatusSuccess
	}

	found, _, _, cur, end, err := m.client.DomainGetBlockJobInfo(*job.domain, job.target, 0)
	if err != nil {
		return m.fail("DomainGetBlockJobInfo", err)
	}
	if found == 0 {
		// The job vanished before the break: libvirt aborted it.
		progress.OperationStatus = vdisk.StatusNotFound
		return vdisk.StatusSuccess
	}

	progress.OperationStatus = vdisk.StatusIOPending
	progress.CurrentValue = cur
	progress.CompletionValue = end
	if end == 0 {
		// Not started; keep Current != Completion.
		progress.CompletionValue = 1
	}
	return vdisk.StatusSuccess
}

// BreakMirrorVirtualDisk pivots the guest to the copy, or adopts the clone,
// and switches the handle to the destination volume.
func (m *Manager) BreakMirrorVirtualDisk(h vdisk.Handle, op vdisk.Operation) vdisk.Status {
	ov, st := m.lookup(h)
	if st != vdisk.StatusSuccess {
		return st
	}
	job := ov.mirror
	if job == nil {
		return vdisk.StatusNotFound
	}
	if st := m.bind(h, op); st != vdisk.StatusSuccess {
		return st
	}

	dest := job.dest
	if job.domain != nil {
		if err := m.client.DomainBlockJobAbort(*job.domain, job.target, libvirt.DomainBlockJobAbortPivot); err != nil {
			return m.fail("DomainBlockJobAbort", err)
		}

		// The copy was written behind the pool's back.
		if err := m.RefreshPool(context.Background(), m.pool); err != nil {
			return m.fail("StoragePoolRefresh", err)
		}
		pool, st := m.lookupPool()
		if st != vdisk.StatusSuccess {
			return st
		}
		vol, err := m.client.StorageVolLookupByName(pool, job.destName)
		if err != nil {
			return m.fail("StorageVolLookupByName", err)
		}
		dest = vol
	}

	if m.meta != nil {
		if err := m.meta.Copy(volumeKey(ov.vol), volumeKey(dest)); err != nil {
			m.log.WithError(err).Warn("Failed to carry metadata over to the mirror")
		}
	}

	ov.vol = dest
	ov.mirror = nil

	m.log.WithField("volume", dest.Name).Debug("Mirror broken")
	return vdisk.StatusSuccess
}

// findAttachment looks for a running guest using vol.
func (m *Manager) findAttachment(vol libvirt.StorageVol, path string) (libvirt.Domain, lv.AttachedDisk, bool, error) {
	domains, _, err := m.client.ConnectListAllDomains(1, libvirt.ConnectListDomainsActive)
	if err != nil {
		return libvirt.Domain{}, lv.AttachedDisk{}, false, err
	}

	ref := lv.DiskRef{Path: path, Pool: vol.Pool, Volume: vol.Name}
	for _, dom := range domains {
		xml, err := m.client.DomainGetXMLDesc(dom, 0)
		if err != nil {
			return libvirt.Domain{}, lv.AttachedDisk{}, false, err
		}
		disk, found, err := lv.FindDisk(xml, ref)
		if err != nil {
			return libvirt.Domain{}, lv.AttachedDisk{}, false, err
		}
		if found {
			return dom, disk, true, nil
		}
	}
	return libvirt.Domain{}, lv.AttachedDisk{}, false, nil
}
