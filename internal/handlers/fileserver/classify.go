package fileserver

import (
	"os"
	"strings"
)

// Kind classifies the filesystem entry a request path names.
type Kind int

const (
	// KindUnclassified is used for requests rejected before classification.
	KindUnclassified Kind = iota
	KindMissing
	KindDirectory
	KindRegularAsset
	KindRegularScript
	// KindOther covers devices, sockets, FIFOs and anything else that is
	// neither a regular file nor a directory.
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindMissing:
		return "Missing"
	case KindDirectory:
		return "Directory"
	case KindRegularAsset:
		return "RegularAsset"
	case KindRegularScript:
		return "RegularScript"
	case KindOther:
		return "Other"
	default:
		return "Unclassified"
	}
}

// Classify stats fsPath (following symlinks) and classifies it. A regular
// file is a script when scriptSuffix occurs anywhere in requestPath, not only
// as its final extension. Any stat failure, permission errors included,
// counts as missing. No permission checks are made.
func Classify(fsPath, requestPath, scriptSuffix string) Kind {
	fi, err := os.Stat(fsPath)
	if err != nil {
		return KindMissing
	}
	mode := fi.Mode()
	switch {
	case mode.IsDir():
		return KindDirectory
	case mode.IsRegular():
		if scriptSuffix != "" && strings.Contains(requestPath, scriptSuffix) {
			return KindRegularScript
		}
		return KindRegularAsset
	default:
		return KindOther
	}
}
