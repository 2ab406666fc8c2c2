package cachefs

import (
	"errors"
	"os"
	"syscall"

	"github.com/moparisthebest/cache-fs/pkg/common"
)

// ToErrno maps dispatcher errors onto kernel error numbers. A remote
// that went away with no cached copy surfaces as plain EIO; anything
// unrecognized does too.
func ToErrno(err error) syscall.Errno {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, common.ErrNotFound):
		return syscall.ENOENT
	case errors.Is(err, common.ErrNotDirectory):
		return syscall.ENOTDIR
	case errors.Is(err, common.ErrIsDirectory):
		return syscall.EISDIR
	case errors.Is(err, common.ErrReadOnly):
		return syscall.EROFS
	case errors.Is(err, common.ErrSourceUnavailable):
		return syscall.EIO
	case errors.Is(err, common.ErrCorruptIndex):
		return syscall.EIO
	case os.IsNotExist(err):
		return syscall.ENOENT
	default:
		return syscall.EIO
	}
}
