//go:build linux || darwin || freebsd || netbsd || openbsd

package storage

import (
	"time"

	"golang.org/x/sys/unix"
)

// createdAt returns the inode change time. Unix filesystems do not expose a
// portable creation time, so metadata change time stands in for it.
func createdAt(path string) (time.Time, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return time.Time{}, err
	}
	return time.Unix(st.Ctim.Unix()), nil
}
