package vdisk

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument is returned when a request fails validation.
	// Validation always happens before any platform call.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrAlreadyOpen is returned by Create when the Disk already holds a handle.
	ErrAlreadyOpen = errors.New("virtual disk already open")

	// ErrNotOpen is returned by operations that need an open handle.
	ErrNotOpen = errors.New("virtual disk not open")
)

// PlatformError carries a status code the host service rejected a call with.
type PlatformError struct {
	Op   string // Platform call, e.g. "MirrorVirtualDisk"
	Path string // Disk or drive path, if known
	Code Status
}

func (e *PlatformError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s failed: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("%s %s failed: %s", e.Op, e.Path, e.Code)
}

// Unwrap exposes the raw status code.
func (e *PlatformError) Unwrap() error {
	return e.Code
}

// ErrorKind classifies errors returned by this package.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindInvalidArgument
	KindAlreadyOpen
	KindNotOpen
	KindPlatform
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindAlreadyOpen:
		return "AlreadyOpen"
	case KindNotOpen:
		return "NotOpen"
	case KindPlatform:
		return "PlatformError"
	default:
		return "Unknown"
	}
}

// KindOf returns the kind of err.
func KindOf(err error) ErrorKind {
	var perr *PlatformError
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrInvalidArgument):
		return KindInvalidArgument
	case errors.Is(err, ErrAlreadyOpen):
		return KindAlreadyOpen
	case errors.Is(err, ErrNotOpen):
		return KindNotOpen
	case errors.As(err, &perr):
		return KindPlatform
	default:
		return KindUnknown
	}
}

// IsPlatformCode reports whether err is a PlatformError carrying code.
func IsPlatformCode(err error, code Status) bool {
	var perr *PlatformError
	return errors.As(err, &perr) && perr.Code == code
}

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

func platformError(op, path string, code Status) error {
	return &PlatformError{Op: op, Path: path, Code: code}
}
