//go:build windows

package open

import (
	"os"

	winacl "github.com/hectane/go-acl"
)

// Restrict makes an existing file accessible only by its owner.
//
// File modes are ignored by windows on creation, so ACL is replaced.
func Restrict(path string) error {
	return winacl.Chmod(path, os.FileMode(0600))
}
