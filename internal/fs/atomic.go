package fs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ReadFile reads the whole named file.
func ReadFile(fsys FileSystem, name string) ([]byte, error) {
	f, err := fsys.OpenFile(name, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return io.ReadAll(f)
}

// WriteFileAtomic writes the contents of r to name so that readers observe
// either the old file or the complete new one.
//
// The data goes to a temporary sibling that is flushed with Datasync and
// renamed over name. The parent directory is synced afterwards so the rename
// survives a crash. It returns the number of bytes written.
func WriteFileAtomic(fsys FileSystem, name string, r io.Reader) (n int64, err error) {
	dir := filepath.Dir(name)
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return 0, err
	}

	tmp := name + ".tmp"
	f, err := fsys.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, err
	}

	defer func() {
		if err != nil {
			_ = fsys.Remove(tmp)
		}
	}()

	n, err = io.Copy(f, r)
	if err != nil {
		_ = f.Close()
		return n, fmt.Errorf("write %s: %w", tmp, err)
	}
	if err = Datasync(f); err != nil {
		_ = f.Close()
		return n, fmt.Errorf("sync %s: %w", tmp, err)
	}
	if err = f.Close(); err != nil {
		return n, fmt.Errorf("close %s: %w", tmp, err)
	}
	if err = fsys.Rename(tmp, name); err != nil {
		return n, err
	}
	return n, SyncDir(fsys, dir)
}

// SyncDir syncs a directory so created and renamed entries are durable.
func SyncDir(fsys FileSystem, dir string) error {
	f, err := fsys.OpenFile(dir, os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	// Some platforms refuse to sync directories.
	if err := f.Sync(); err != nil && !errors.Is(err, os.ErrInvalid) {
		return err
	}
	return nil
}
