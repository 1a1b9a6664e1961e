//go:build !unix && !windows

package fsx

import "os"

// Platforms without flock or LockFileEx run unlocked; the store is
// single-writer by contract.
func lockFile(*os.File) error { return nil }

func unlockFile(*os.File) error { return nil }
