//go:build linux || darwin

package cache

import (
	"os"
	"syscall"
)

// fileidFromInfo extracts device+inode from a *syscall.Stat_t, the
// stable identity open_file uses to reject duplicate fileids.
func fileidFromInfo(info os.FileInfo) fileid {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return fileid{}
	}
	return fileid{dev: uint64(st.Dev), ino: uint64(st.Ino)}
}
