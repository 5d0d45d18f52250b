//go:build linux || darwin || freebsd || netbsd || openbsd

package checks

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// changeTime is the later of mtime and ctime. Heartbeat writers flip the
// file mode, which only moves ctime.
func changeTime(path string, fi os.FileInfo) time.Time {
	mtime := fi.ModTime()
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return mtime
	}
	sec, nsec := st.Ctim.Unix()
	if ctime := time.Unix(sec, nsec); ctime.After(mtime) {
		return ctime
	}
	return mtime
}
