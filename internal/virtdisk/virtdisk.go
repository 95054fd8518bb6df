// Package virtdisk implements vdisk.Platform on top of the Windows virtual
// disk service (virtdisk.dll).
//
// Image create and open go through github.com/Microsoft/go-winio/vhd; the
// remaining calls are bound lazily from virtdisk.dll. Asynchronous calls
// are driven through OVERLAPPED structures owned by an operation table, so
// that vdisk.Operation tokens stay plain integers.
//
// On platforms other than Windows, New returns ErrUnsupported.
package virtdisk

import (
	"errors"

	"github.com/sirupsen/logrus"
)

// ErrUnsupported is returned by New when virtdisk.dll is not available.
var ErrUnsupported = errors.New("virtdisk: the Windows virtual disk service is not available on this platform")

func defaultLogger(log *logrus.Entry) *logrus.Entry {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return log.WithField("backend", "virtdisk")
}
