package build

import (
	"os"
	"path/filepath"
	"time"
)

// GraphvaultTestingDir is the directory that contains all of the files and
// folders created during testing.
var GraphvaultTestingDir = filepath.Join(os.TempDir(), "GraphvaultTesting")

// TempDir joins the provided directories and prefixes them with the
// package-wide testing directory, wiping any stale contents from a
// previous run.
func TempDir(dirs ...string) string {
	path := filepath.Join(GraphvaultTestingDir, filepath.Join(dirs...))
	_ = os.RemoveAll(path) // ignore error instead of panicking in production
	return path
}

// Retry calls fn up to tries times, sleeping durationBetweenAttempts between
// attempts, returning nil on the first success. If fn never succeeds, the
// final error is returned. Useful for polling asynchronous orchestrator
// state in tests without a fixed sleep.
func Retry(tries int, durationBetweenAttempts time.Duration, fn func() error) (err error) {
	for i := 1; i < tries; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		time.Sleep(durationBetweenAttempts)
	}
	return fn()
}
