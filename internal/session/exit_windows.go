//go:build windows

package session

import "os"

// Windows has no POSIX-style termination signals to report.
func exitSignalName(ps *os.ProcessState) string {
	_ = ps
	return ""
}
