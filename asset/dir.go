package asset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Dir is the on-disk asset store: one file per key.
type Dir string

func (d Dir) Path(k Key) string {
	return filepath.Join(string(d), string(k))
}

func (d Dir) Exists(k Key) (bool, error) {
	if _, err := os.Stat(d.Path(k)); nil != err {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}

		return false, fmt.Errorf("failed to stat asset file: %v", err)
	}

	return true, nil
}

func (d Dir) Read(k Key) ([]byte, error) {
	b, err := os.ReadFile(d.Path(k))
	if nil != err {
		return nil, fmt.Errorf("failed to read asset file: %w", err)
	}

	return b, nil
}

// Write stores b under k through a temporary file so a concurrent Read never
// sees a partial asset.
func (d Dir) Write(k Key, b []byte) (err error) {
	f, err := os.CreateTemp(string(d), "."+string(k)+"-*.tmp")
	if nil != err {
		return fmt.Errorf("failed to create temporary asset file: %v", err)
	}
	tmpPath := f.Name()
	defer func() {
		if nil != err {
			if removeErr := os.Remove(tmpPath); nil != removeErr && !errors.Is(removeErr, os.ErrNotExist) {
				err = errors.Join(err, fmt.Errorf("failed to remove incomplete asset file: %v", removeErr))
			}
		}
	}()

	if _, err := f.Write(b); nil != err {
		return errors.Join(fmt.Errorf("failed to write asset file: %v", err), f.Close())
	}

	if err := f.Sync(); nil != err {
		return errors.Join(fmt.Errorf("failed to sync asset file: %v", err), f.Close())
	}

	if err := f.Close(); nil != err {
		return fmt.Errorf("failed to close asset file: %v", err)
	}

	if err := os.Rename(tmpPath, d.Path(k)); nil != err {
		return fmt.Errorf("failed to move asset file into place: %v", err)
	}

	return nil
}
