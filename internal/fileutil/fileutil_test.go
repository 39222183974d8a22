package fileutil

import (
	"crypto/sha256"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"
)

func TestMoveFileRenamesWithinDirectory(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "report.pdf")
	dst := filepath.Join(dir, "Documents", "report.pdf")
	if err := os.WriteFile(src, []byte("pdf"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := EnsureDir(filepath.Dir(dst)); err != nil {
		t.Fatal(err)
	}

	copied, err := MoveFile(src, dst)
	if err != nil {
		t.Fatalf("MoveFile: %v", err)
	}
	if copied {
		t.Fatal("same-filesystem move should not copy")
	}
	if ok, _ := Exists(src); ok {
		t.Fatal("source should be gone")
	}
	got, err := os.ReadFile(dst)
	if err != nil || string(got) != "pdf" {
		t.Fatalf("unexpected destination content %q err=%v", got, err)
	}
}

func TestMoveFileNeverOverwrites(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.txt")
	dst := filepath.Join(dir, "b.txt")
	if err := os.WriteFile(src, []byte("new"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dst, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := MoveFile(src, dst)
	if !errors.Is(err, ErrDestinationExists) {
		t.Fatalf("expected ErrDestinationExists, got %v", err)
	}
	got, _ := os.ReadFile(dst)
	if string(got) != "old" {
		t.Fatalf("destination was overwritten: %q", got)
	}
	if ok, _ := Exists(src); !ok {
		t.Fatal("source should remain after a refused move")
	}
}

func TestMoveFileMissingSource(t *testing.T) {
	dir := t.TempDir()
	_, err := MoveFile(filepath.Join(dir, "gone"), filepath.Join(dir, "dst"))
	if err == nil {
		t.Fatal("expected error for missing source")
	}
	if errors.Is(err, ErrDestinationExists) {
		t.Fatalf("missing source misreported as collision: %v", err)
	}
}

func TestCopyFileVerifiedPreservesModeAndTime(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "setup.exe")
	dst := filepath.Join(dir, "copy.exe")
	if err := os.WriteFile(src, []byte("binary"), 0o750); err != nil {
		t.Fatal(err)
	}
	stamp := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	if err := os.Chtimes(src, stamp, stamp); err != nil {
		t.Fatal(err)
	}

	if err := CopyFileVerified(src, dst); err != nil {
		t.Fatalf("CopyFileVerified: %v", err)
	}
	info, err := os.Stat(dst)
	if err != nil {
		t.Fatal(err)
	}
	if !info.ModTime().Equal(stamp) {
		t.Fatalf("mtime not preserved: %s", info.ModTime())
	}
	if info.Mode().Perm()&0o100 == 0 {
		t.Fatalf("expected owner execute bit, got %o", info.Mode().Perm())
	}
}

func TestCopyFileVerifiedRefusesExistingDestination(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	if err := os.WriteFile(src, []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dst, []byte("keep"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := CopyFileVerified(src, dst); !errors.Is(err, ErrDestinationExists) {
		t.Fatalf("expected ErrDestinationExists, got %v", err)
	}
	got, _ := os.ReadFile(dst)
	if string(got) != "keep" {
		t.Fatalf("existing destination clobbered: %q", got)
	}
}

func TestVerifyCopyReadsBackFromDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "movie.mkv")
	if err := os.WriteFile(path, []byte("frames"), 0o644); err != nil {
		t.Fatal(err)
	}
	sum := sha256.Sum256([]byte("frames"))
	if err := verifyCopy(path, 6, sum[:]); err != nil {
		t.Fatalf("intact copy rejected: %v", err)
	}

	if err := os.WriteFile(path, []byte("frameX"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := verifyCopy(path, 6, sum[:]); err == nil || !strings.Contains(err.Error(), "hash mismatch") {
		t.Fatalf("expected hash mismatch for corrupted copy, got %v", err)
	}

	if err := os.WriteFile(path, []byte("fra"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := verifyCopy(path, 6, sum[:]); err == nil || !strings.Contains(err.Error(), "size mismatch") {
		t.Fatalf("expected size mismatch for truncated copy, got %v", err)
	}
}

func TestIsCrossDevice(t *testing.T) {
	err := &os.LinkError{Op: "rename", Old: "a", New: "b", Err: syscall.EXDEV}
	if !isCrossDevice(err) {
		t.Fatal("EXDEV link error should be cross-device")
	}
	if isCrossDevice(&os.LinkError{Op: "rename", Old: "a", New: "b", Err: syscall.EACCES}) {
		t.Fatal("EACCES is not cross-device")
	}
}

func TestEnsureDirRejectsFile(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "Images")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := EnsureDir(blocker); err == nil {
		t.Fatal("expected error when a file occupies the directory name")
	}
}
