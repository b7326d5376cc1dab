package open_test

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/opst/modelsync/pkg/configs/open"
)

func TestNewSafeFile(t *testing.T) {
	t.Run("when the file exists, it is truncated", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "profile")
		if err := os.WriteFile(path, []byte("old content"), 0644); err != nil {
			t.Fatal(err)
		}

		f, err := open.NewSafeFile(path)
		if err != nil {
			t.Fatal(err)
		}
		defer f.Close()

		stat, err := f.Stat()
		if err != nil {
			t.Fatal(err)
		}
		if stat.Size() != 0 {
			t.Errorf("file is not truncated: size = %d", stat.Size())
		}
	})

	t.Run("when the file is created, only the owner can access it", func(t *testing.T) {
		if runtime.GOOS == "windows" {
			t.Skip("file mode bits are not meaningful on windows")
		}
		path := filepath.Join(t.TempDir(), "profile")

		f, err := open.NewSafeFile(path)
		if err != nil {
			t.Fatal(err)
		}
		f.Close()

		stat, err := os.Stat(path)
		if err != nil {
			t.Fatal(err)
		}
		if perm := stat.Mode().Perm(); perm&0077 != 0 {
			t.Errorf("permission is too loose: %o", perm)
		}
	})

	t.Run("when parent directories are missing, they are created", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ".modelsync", "profile")

		f, err := open.NewSafeFile(path)
		if err != nil {
			t.Fatal(err)
		}
		f.Close()

		if _, err := os.Stat(path); err != nil {
			t.Error(err)
		}
	})

	t.Run("when an existing file has loose permission, it is narrowed", func(t *testing.T) {
		if runtime.GOOS == "windows" {
			t.Skip("file mode bits are not meaningful on windows")
		}
		path := filepath.Join(t.TempDir(), "profile")
		if err := os.WriteFile(path, []byte("content"), 0644); err != nil {
			t.Fatal(err)
		}

		if err := open.Restrict(path); err != nil {
			t.Fatal(err)
		}

		stat, err := os.Stat(path)
		if err != nil {
			t.Fatal(err)
		}
		if perm := stat.Mode().Perm(); perm&0077 != 0 {
			t.Errorf("permission is too loose: %o", perm)
		}
	})
}
