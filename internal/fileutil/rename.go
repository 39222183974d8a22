package fileutil

import (
	"io/fs"
	"os"
)

// renameChecked is the best-effort fallback when the kernel cannot refuse a
// replacing rename itself; a writer racing between the check and the rename
// can still be replaced.
func renameChecked(src, dst string) error {
	if _, err := os.Lstat(dst); err == nil {
		return &os.LinkError{Op: "rename", Old: src, New: dst, Err: fs.ErrExist}
	}
	return os.Rename(src, dst)
}
