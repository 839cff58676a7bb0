// Package status defines the error categories shared by every SkadiDB
// subsystem and maps them onto errno-style integer codes.
package status

import (
	"syscall"

	"github.com/cockroachdb/errors"
)

// Error categories. Subsystems wrap these with context; callers test with
// errors.Is or convert to an integer with Code.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNoMemory        = errors.New("out of memory")
	ErrInvalidState    = errors.New("invalid state")
	ErrNoSpace         = errors.New("no space left on device")
	ErrBusy            = errors.New("resource busy")
	ErrNotFound        = errors.New("not found")
	ErrIO              = errors.New("i/o error")
)

var codes = []struct {
	err   error
	errno syscall.Errno
}{
	{ErrInvalidArgument, syscall.EINVAL},
	{ErrNoMemory, syscall.ENOMEM},
	{ErrInvalidState, syscall.EBADF},
	{ErrNoSpace, syscall.ENOSPC},
	{ErrBusy, syscall.EBUSY},
	{ErrNotFound, syscall.ENOENT},
	{ErrIO, syscall.EIO},
}

// Code returns 0 for a nil error and an errno value otherwise. Errors that
// carry no category but wrap a syscall.Errno keep that errno; anything else
// is reported as EIO.
func Code(err error) int {
	if err == nil {
		return 0
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return int(c.errno)
		}
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return int(errno)
	}
	return int(syscall.EIO)
}

// InvalidArgumentf wraps ErrInvalidArgument with a formatted message.
func InvalidArgumentf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvalidArgument, format, args...)
}

// InvalidStatef wraps ErrInvalidState with a formatted message.
func InvalidStatef(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvalidState, format, args...)
}
