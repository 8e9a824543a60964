//go:build unix

package fileserver

import (
	"errors"

	"golang.org/x/sys/unix"
)

// isProcessCreationError reports whether the kernel refused to create the
// process at all, as opposed to refusing the program image.
func isProcessCreationError(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.ENOMEM)
}

func isExecFormatError(err error) bool {
	return errors.Is(err, unix.ENOEXEC)
}
