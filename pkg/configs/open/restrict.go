//go:build !windows

package open

import "os"

// Restrict makes an existing file accessible only by its owner.
func Restrict(path string) error {
	return os.Chmod(path, os.FileMode(0600))
}
