package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

var (
	// ErrNotRegular is returned when the configuration path is not a
	// regular file.
	ErrNotRegular = errors.New("not a regular file")

	// ErrWorldWritable is returned for files or directories writable by
	// other users.
	ErrWorldWritable = errors.New("writable by other users")
)

// CheckFilePermissions verifies that path is a regular file that other users
// cannot write. The returned error wraps fs.ErrNotExist for missing files.
func CheckFilePermissions(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if !fi.Mode().IsRegular() {
		return fmt.Errorf("%s: %w", path, ErrNotRegular)
	}
	if fi.Mode().Perm()&0o002 != 0 {
		return fmt.Errorf("%s: %w", path, ErrWorldWritable)
	}
	return nil
}

// IsNotExist reports whether err came from a missing file.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
