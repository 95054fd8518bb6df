//go:build !windows

package virtdisk

import (
	"github.com/sirupsen/logrus"

	"github.com/jbweber/vdisk/internal/vdisk"
)

// New returns ErrUnsupported.
func New(log *logrus.Entry) (vdisk.Platform, error) {
	defaultLogger(log).Debug("virtdisk.dll requested on a non-Windows host")
	return nil, ErrUnsupported
}
