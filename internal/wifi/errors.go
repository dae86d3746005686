package wifi

import "errors"

var (
	// ErrScanFailed is returned when the scan command cannot be run or exits
	// with an error.
	ErrScanFailed = errors.New("wifi: scan failed")

	// ErrNoCommand is returned when ArpScan has no command configured.
	ErrNoCommand = errors.New("wifi: no scan command configured")
)
