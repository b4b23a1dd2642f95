//go:build windows

package lockfile

import (
	"os"

	"golang.org/x/sys/windows"
)

// lockExclusive blocks until an exclusive LockFileEx lock covering the first
// byte of the file is held.
func lockExclusive(f *os.File) error {
	ol := new(windows.Overlapped)
	return windows.LockFileEx(windows.Handle(f.Fd()), windows.LOCKFILE_EXCLUSIVE_LOCK, 0, 1, 0, ol)
}

func unlock(f *os.File) error {
	ol := new(windows.Overlapped)
	return windows.UnlockFileEx(windows.Handle(f.Fd()), 0, 1, 0, ol)
}
