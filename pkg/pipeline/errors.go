package pipeline

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"net"
	"os"
	"syscall"

	"github.com/corvusec/magpie/pkg/archive"
	"github.com/corvusec/magpie/pkg/repository"
	"github.com/corvusec/magpie/pkg/telegram"
	"github.com/corvusec/magpie/pkg/types"
)

// ErrSizeMismatch means the downloaded byte count differs from the size
// the platform declared for the document. The transfer is retried.
var ErrSizeMismatch = errors.New("downloaded size differs from declared size")

// Classify buckets a job failure into its error class. Classification
// happens exactly once, at the point the job is marked failed; the class
// is recorded on the job row and the job_failed event.
func Classify(err error) types.ErrorClass {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, telegram.ErrAuthFailed):
		return types.ErrClassAuthFailed
	case errors.Is(err, archive.ErrPasswordRequired):
		return types.ErrClassPasswordRequired
	case errors.Is(err, archive.ErrUnsafePath),
		errors.Is(err, archive.ErrBombCeiling),
		errors.Is(err, archive.ErrBombRatio):
		return types.ErrClassUnsafeArchive
	case repository.IsBusy(err):
		return types.ErrClassDBTransient
	case repository.IsConstraint(err):
		return types.ErrClassDBConstraint
	case isStorageErr(err):
		return types.ErrClassStorageIO
	case isNetworkErr(err):
		return types.ErrClassTransientNetwork
	default:
		return types.ErrClassUnknown
	}
}

func isStorageErr(err error) bool {
	var pathErr *os.PathError
	var linkErr *os.LinkError
	if errors.As(err, &pathErr) || errors.As(err, &linkErr) {
		return true
	}
	return errors.Is(err, fs.ErrPermission) ||
		errors.Is(err, syscall.ENOSPC) ||
		errors.Is(err, syscall.EDQUOT) ||
		errors.Is(err, syscall.EROFS)
}

func isNetworkErr(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, ErrSizeMismatch) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
