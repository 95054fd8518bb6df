package vdisk

import (
	"context"
	"fmt"
	"unicode"

	"github.com/sirupsen/logrus"
)

// DefaultDependencyDrive is the volume Disk.Dependencies queries.
const DefaultDependencyDrive = 'E'

// DriveQuery is the device path and flags used to query the dependencies of
// a drive identifier.
type DriveQuery struct {
	Path  string
	Flags DependencyFlag
}

// DriveQueryFor maps a drive identifier to its device path and flags.
// A digit selects a physical drive, a letter selects a volume.
func DriveQueryFor(identifier rune) (DriveQuery, error) {
	switch {
	case identifier >= '0' && identifier <= '9':
		return DriveQuery{
			Path:  fmt.Sprintf(`\\.\PhysicalDrive%c`, identifier),
			Flags: DependencyFlagParents | DependencyFlagDiskHandle,
		}, nil
	case identifier <= unicode.MaxASCII && unicode.IsLetter(identifier):
		return DriveQuery{
			Path:  fmt.Sprintf(`\\.\%c:\`, unicode.ToUpper(identifier)),
			Flags: DependencyFlagParents,
		}, nil
	default:
		return DriveQuery{}, invalidArgument("drive identifier %q must be a letter or a digit", identifier)
	}
}

// Resolver enumerates the storage dependencies of mounted drives.
type Resolver struct {
	platform Platform
	log      *logrus.Entry
}

// NewResolver creates a Resolver. Only WithLogger applies.
func NewResolver(platform Platform, opts ...Option) *Resolver {
	o := buildOptions(opts)
	return &Resolver{platform: platform, log: o.log}
}

// Resolve returns the dependency chain of the drive named by identifier.
//
// A short-lived read-only handle to the drive is held for the duration of
// the query. The result is never cached. A PlatformError from the open
// usually means the drive is not mounted.
func (r *Resolver) Resolve(ctx context.Context, identifier rune) ([]DependencyEntry, error) {
	q, err := DriveQueryFor(identifier)
	if err != nil {
		return nil, err
	}

	h, st := r.platform.OpenDrive(q.Path)
	if st != StatusSuccess {
		return nil, platformError("OpenDrive", q.Path, st)
	}
	if !h.Valid() {
		return nil, platformError("OpenDrive", q.Path, StatusInvalidHandle)
	}
	defer func() {
		if st := r.platform.CloseHandle(h); st != StatusSuccess {
			r.log.WithField("drive", q.Path).Warnf("Failed to close drive handle: %v", st)
		}
	}()

	entries, required, st := r.platform.GetStorageDependencyInformation(h, q.Flags, MinDependencyInfoSize)
	if st == StatusInsufficientBuffer {
		r.log.WithFields(logrus.Fields{
			"drive":    q.Path,
			"required": required,
		}).Debug("Dependency info exceeds minimal buffer, requerying")
		entries, _, st = r.platform.GetStorageDependencyInformation(h, q.Flags, required)
	}
	if st != StatusSuccess {
		return nil, platformError("GetStorageDependencyInformation", q.Path, st)
	}
	return entries, nil
}

// Dependencies resolves the dependencies of DefaultDependencyDrive.
func (d *Disk) Dependencies(ctx context.Context) ([]DependencyEntry, error) {
	return NewResolver(d.platform, WithLogger(d.log)).Resolve(ctx, DefaultDependencyDrive)
}
