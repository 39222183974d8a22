package fileutil

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// ErrDestinationExists reports that a move target is already taken. Moves never overwrite.
var ErrDestinationExists = errors.New("destination already exists")

// MoveFile renames src to dst without replacing an existing dst. When the two
// paths live on different filesystems it falls back to a verified copy followed
// by removal of src. The returned bool reports whether the copy path was used.
func MoveFile(src, dst string) (bool, error) {
	err := renameNoReplace(src, dst)
	if err == nil {
		return false, nil
	}
	if errors.Is(err, fs.ErrExist) {
		return false, fmt.Errorf("%w: %s", ErrDestinationExists, dst)
	}
	if !isCrossDevice(err) {
		return false, err
	}

	if err := CopyFileVerified(src, dst); err != nil {
		return true, fmt.Errorf("cross-device copy: %w", err)
	}
	if err := os.Remove(src); err != nil {
		return true, fmt.Errorf("remove source after copy: %w", err)
	}
	return true, nil
}

// CopyFileVerified streams src to a newly created dst with SHA256 + size
// integrity verification, carrying over the source mode and modification time.
// dst must not exist; it is removed again on any failure.
func CopyFileVerified(src, dst string) (err error) {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}
	if !srcInfo.Mode().IsRegular() {
		return fmt.Errorf("copy %s: not a regular file", src)
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, srcInfo.Mode().Perm())
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrDestinationExists, dst)
		}
		return err
	}
	defer func() {
		_ = out.Close()
		if err != nil {
			_ = os.Remove(dst)
		}
	}()

	srcHasher := sha256.New()
	written, err := io.Copy(out, io.TeeReader(in, srcHasher))
	if err != nil {
		return err
	}
	if err = out.Sync(); err != nil {
		return err
	}
	if err = out.Close(); err != nil {
		return err
	}
	if written != srcInfo.Size() {
		return fmt.Errorf("copy size mismatch: source %d bytes, copied %d bytes", srcInfo.Size(), written)
	}
	if err = verifyCopy(dst, written, srcHasher.Sum(nil)); err != nil {
		return err
	}
	return os.Chtimes(dst, srcInfo.ModTime(), srcInfo.ModTime())
}

// verifyCopy re-reads path from disk and compares it against the size and
// SHA256 sum observed while reading the source.
func verifyCopy(path string, wantSize int64, wantSum []byte) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("reopen copy: %w", err)
	}
	defer f.Close()

	hasher := sha256.New()
	n, err := io.Copy(hasher, f)
	if err != nil {
		return fmt.Errorf("read back copy: %w", err)
	}
	if n != wantSize {
		return fmt.Errorf("copy size mismatch: expected %d bytes, found %d on disk", wantSize, n)
	}
	if !bytes.Equal(hasher.Sum(nil), wantSum) {
		return errors.New("copy hash mismatch: file corrupted during copy")
	}
	return nil
}

// Exists reports whether path names an existing file system entry.
func Exists(path string) (bool, error) {
	_, err := os.Lstat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// EnsureDir creates dir and any missing parents. An existing non-directory is an error.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", filepath.Clean(dir), err)
	}
	return nil
}
