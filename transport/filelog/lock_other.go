//go:build !unix

package filelog

import "os"

// Without flock, writers rely on O_APPEND alone and rotation is best effort.
func lockFile(*os.File) error { return nil }

func unlockFile(*os.File) error { return nil }
