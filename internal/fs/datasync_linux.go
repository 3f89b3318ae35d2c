//go:build linux

package fs

import "golang.org/x/sys/unix"

// Datasync flushes file data to stable storage, skipping the inode
// timestamp update that a full fsync would write.
func Datasync(f File) error {
	fd, ok := f.(interface{ Fd() uintptr })
	if !ok {
		return f.Sync()
	}
	for {
		err := unix.Fdatasync(int(fd.Fd()))
		if err != unix.EINTR {
			return err
		}
	}
}
