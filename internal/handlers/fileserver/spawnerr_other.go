//go:build !unix

package fileserver

func isProcessCreationError(error) bool { return false }

func isExecFormatError(error) bool { return false }
