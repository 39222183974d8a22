package logs_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"downnest/internal/logs"
)

func writeLog(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
}

func appendLog(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open append: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("append log: %v", err)
	}
}

func TestLastLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "downnest.log")
	writeLog(t, path, "a\nb\nc\n")

	lines, offset, err := logs.Last(path, 2, logs.Filter{})
	if err != nil {
		t.Fatalf("Last returned error: %v", err)
	}
	if len(lines) != 2 || lines[0] != "b" || lines[1] != "c" {
		t.Fatalf("unexpected lines: %#v", lines)
	}
	if offset != 6 {
		t.Fatalf("offset = %d, want 6", offset)
	}

	lines, offset, err = logs.Last(filepath.Join(t.TempDir(), "missing.log"), 5, logs.Filter{})
	if err != nil || len(lines) != 0 || offset != 0 {
		t.Fatalf("missing file: lines=%v offset=%d err=%v", lines, offset, err)
	}
}

func TestFilterByLevelAndComponent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "downnest.log")
	writeLog(t, path, `{"level":"DEBUG","msg":"poll","component":"routing"}
{"level":"INFO","msg":"moved","component":"routing"}
plain text line
{"level":"WARN","msg":"saturated","component":"pool"}
`)

	lines, _, err := logs.Last(path, 10, logs.Filter{MinLevel: "info"})
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 3 {
		t.Fatalf("expected info, plain, and warn lines, got %#v", lines)
	}

	lines, _, err = logs.Last(path, 10, logs.Filter{Component: "pool"})
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 2 || lines[1] != `{"level":"WARN","msg":"saturated","component":"pool"}` {
		t.Fatalf("unexpected component filter result %#v", lines)
	}
}

func TestReadFromKeepsPartialLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "downnest.log")
	writeLog(t, path, "one\ntw")

	lines, offset, err := logs.ReadFrom(path, 0, logs.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 1 || lines[0] != "one" || offset != 4 {
		t.Fatalf("lines=%v offset=%d", lines, offset)
	}
	appendLog(t, path, "o\n")
	lines, offset, err = logs.ReadFrom(path, offset, logs.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 1 || lines[0] != "two" || offset != 8 {
		t.Fatalf("lines=%v offset=%d", lines, offset)
	}

	writeLog(t, path, "new\n")
	lines, _, err = logs.ReadFrom(path, offset, logs.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 1 || lines[0] != "new" {
		t.Fatalf("expected restart after truncation, got %v", lines)
	}
}

func TestFollowEmitsAppendedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "downnest.log")
	writeLog(t, path, "start\n")
	_, offset, err := logs.Last(path, 1, logs.Filter{})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	var mu sync.Mutex
	var got []string
	done := make(chan error, 1)
	go func() {
		done <- logs.Follow(ctx, path, offset, logs.Filter{}, func(line string) {
			mu.Lock()
			got = append(got, line)
			mu.Unlock()
		})
	}()

	time.Sleep(100 * time.Millisecond)
	appendLog(t, path, "later\n")

	deadline := time.Now().Add(5 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("follow did not emit the appended line")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != "later" {
		t.Fatalf("unexpected follow lines: %#v", got)
	}
}

func TestPointCurrent(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "downnest-1.log")
	second := filepath.Join(dir, "downnest-2.log")
	writeLog(t, first, "first\n")
	writeLog(t, second, "second\n")

	if err := logs.PointCurrent(dir, first); err != nil {
		t.Fatal(err)
	}
	if err := logs.PointCurrent(dir, second); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(logs.CurrentPath(dir))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "second\n" {
		t.Fatalf("pointer resolves to %q", data)
	}
}
