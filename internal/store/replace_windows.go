//go:build windows

package store

import (
	"syscall"
	"unsafe"
)

// Windows cannot rename over an existing file; use MoveFileExW with
// MOVEFILE_REPLACE_EXISTING.
func replaceFile(tmpPath, finalPath string) error {
	from, err := syscall.UTF16PtrFromString(tmpPath)
	if err != nil {
		return err
	}
	to, err := syscall.UTF16PtrFromString(finalPath)
	if err != nil {
		return err
	}
	k32 := syscall.NewLazyDLL("kernel32.dll")
	proc := k32.NewProc("MoveFileExW")
	const moveFileReplaceExisting = 0x1
	const moveFileWriteThrough = 0x8
	r1, _, e1 := proc.Call(
		uintptr(unsafe.Pointer(from)),
		uintptr(unsafe.Pointer(to)),
		uintptr(moveFileReplaceExisting|moveFileWriteThrough),
	)
	if r1 == 0 {
		if e1 != nil && e1 != syscall.Errno(0) {
			return e1
		}
		return syscall.EINVAL
	}
	return nil
}
