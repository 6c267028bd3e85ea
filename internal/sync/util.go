package sync

import (
	"os"
	"path/filepath"
	"sort"
)

func sortStrings(s []string) { sort.Strings(s) }

// atomicWrite writes data to a temp file beside path and renames it into
// place, the same write-to-temp-then-rename discipline the spec requires
// for both the state and progress files.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &LocalError{Path: path, Err: err}
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".driftsync.tmp.*")
	if err != nil {
		return &LocalError{Path: path, Err: err}
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return &LocalError{Path: path, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		return &LocalError{Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &LocalError{Path: path, Err: err}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return &LocalError{Path: path, Err: err}
	}
	success = true
	return nil
}
