package storage

import (
	"errors"

	"github.com/digitalocean/go-libvirt"

	"github.com/jbweber/vdisk/internal/vdisk"
)

// statusOf maps a libvirt error to the status code reported to vdisk.
func statusOf(err error) vdisk.Status {
	if err == nil {
		return vdisk.StatusSuccess
	}

	var lerr libvirt.Error
	if !errors.As(err, &lerr) {
		return vdisk.StatusGenFailure
	}

	switch libvirt.ErrorNumber(lerr.Code) {
	case libvirt.ErrNoStorageVol:
		return vdisk.StatusFileNotFound
	case libvirt.ErrNoStoragePool:
		return vdisk.StatusPathNotFound
	case libvirt.ErrNoDomain:
		return vdisk.StatusNotFound
	case libvirt.ErrStorageVolExist:
		return vdisk.StatusFileExists
	case libvirt.ErrAccessDenied, libvirt.ErrOperationDenied:
		return vdisk.StatusAccessDenied
	case libvirt.ErrNoSupport:
		return vdisk.StatusNotSupported
	case libvirt.ErrInvalidArg, libvirt.ErrOperationInvalid:
		return vdisk.StatusInvalidParameter
	default:
		return vdisk.StatusGenFailure
	}
}

func hasErrorCode(err error, code libvirt.ErrorNumber) bool {
	var lerr libvirt.Error
	return errors.As(err, &lerr) && libvirt.ErrorNumber(lerr.Code) == code
}

// fail logs err, which the status code alone cannot carry, and returns
// its status.
func (m *Manager) fail(op string, err error) vdisk.Status {
	status := statusOf(err)
	m.log.WithError(err).WithField("status", uint32(status)).Debugf("%s failed", op)
	return status
}
