//go:build unix

package filelog

import (
	"os"

	"golang.org/x/sys/unix"
)

// lockFile blocks until f holds the exclusive advisory lock. Writers, the
// rotating publisher and the removing subscriber all serialize on it.
func lockFile(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_EX)
}

func unlockFile(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
