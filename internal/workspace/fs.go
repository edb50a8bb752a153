package workspace

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
)

// FS is the set of file operations jobs depend on.
type FS interface {
	Exists(path string) bool
	MkdirAll(path string) error
	Copy(src, dst string, overwrite bool) error
	Move(src, dst string, overwrite bool) error
	Remove(path string) error
	FileSize(path string) (int64, error)
}

// ErrExists is returned by Copy/Move when dst exists and overwrite is false.
var ErrExists = errors.New("destination already exists")

// OS implements FS on the local filesystem.
type OS struct{}

func (OS) Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

func (OS) MkdirAll(path string) error { return os.MkdirAll(path, 0o755) }

// Remove deletes path recursively; a missing path is not an error.
func (OS) Remove(path string) error {
	if path == "" {
		return nil
	}
	err := os.RemoveAll(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (OS) FileSize(path string) (int64, error) {
	st, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if st.IsDir() {
		return 0, fmt.Errorf("%s: is a directory", path)
	}
	return st.Size(), nil
}

// Copy copies a regular file, creating dst's parent directories.
func (o OS) Copy(src, dst string, overwrite bool) error {
	if err := o.prepareDest(dst, overwrite); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".partial"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}

// Move renames src to dst, falling back to copy+remove across filesystems.
func (o OS) Move(src, dst string, overwrite bool) error {
	if err := o.prepareDest(dst, overwrite); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	} else if !isCrossDevice(err) {
		return err
	}
	if err := o.Copy(src, dst, true); err != nil {
		return err
	}
	return os.Remove(src)
}

func (o OS) prepareDest(dst string, overwrite bool) error {
	if err := o.MkdirAll(filepath.Dir(dst)); err != nil {
		return err
	}
	if !o.Exists(dst) {
		return nil
	}
	if !overwrite {
		return fmt.Errorf("%s: %w", dst, ErrExists)
	}
	return o.Remove(dst)
}

func isCrossDevice(err error) bool { return errors.Is(err, syscall.EXDEV) }
