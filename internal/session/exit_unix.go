//go:build !windows

package session

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// exitSignalName reports the name of the signal that terminated the process,
// or "" for a normal exit.
func exitSignalName(ps *os.ProcessState) string {
	ws, ok := ps.Sys().(syscall.WaitStatus)
	if !ok || !ws.Signaled() {
		return ""
	}
	return unix.SignalName(unix.Signal(ws.Signal()))
}
