//go:build !windows

package store

import "golang.org/x/sys/unix"

// processAlive probes the pid with a null signal. EPERM still means the
// process exists.
func processAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}
	return err == unix.EPERM
}
