// Package open creates files holding credentials.
package open

import (
	"os"
	"path/filepath"
)

// NewSafeFile creates an empty file readable and writable only by its owner.
//
// Missing parent directories are created with 0700. An existing file is
// truncated, and its permission is narrowed.
func NewSafeFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), os.FileMode(0700)); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_TRUNC|os.O_CREATE|os.O_RDWR, os.FileMode(0600))
	if err != nil {
		return nil, err
	}
	if err := Restrict(path); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}
