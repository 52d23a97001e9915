package logging

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestNewRotatingWriter(t *testing.T) {
	t.Run("creates nested directories", func(t *testing.T) {
		logPath := filepath.Join(t.TempDir(), "nested", "dir", "cubic.log")

		rw, err := NewRotatingWriter(logPath, DefaultRotationConfig())
		if err != nil {
			t.Fatalf("NewRotatingWriter failed: %v", err)
		}
		defer func() { _ = rw.Close() }()

		if _, err := os.Stat(logPath); os.IsNotExist(err) {
			t.Errorf("log file was not created at %s", logPath)
		}
	})

	t.Run("appends to existing file", func(t *testing.T) {
		logPath := filepath.Join(t.TempDir(), "cubic.log")
		if err := os.WriteFile(logPath, []byte("initial\n"), 0644); err != nil {
			t.Fatal(err)
		}

		rw, err := NewRotatingWriter(logPath, DefaultRotationConfig())
		if err != nil {
			t.Fatalf("NewRotatingWriter failed: %v", err)
		}
		if rw.CurrentSize() != int64(len("initial\n")) {
			t.Errorf("CurrentSize() = %d", rw.CurrentSize())
		}
		_, _ = rw.Write([]byte("more\n"))
		_ = rw.Close()

		content, _ := os.ReadFile(logPath)
		if string(content) != "initial\nmore\n" {
			t.Errorf("content = %q", content)
		}
	})
}

func TestRotatingWriter_Rotates(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "cubic.log")

	rw, err := NewRotatingWriter(logPath, RotationConfig{MaxSizeMB: 1, MaxBackups: 2})
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}
	defer func() { _ = rw.Close() }()
	rw.setMaxBytes(10)

	for i := 0; i < 4; i++ {
		if _, err := rw.Write([]byte(fmt.Sprintf("line-%d\n", i))); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	current, _ := os.ReadFile(logPath)
	if string(current) != "line-3\n" {
		t.Errorf("current file = %q, want %q", current, "line-3\n")
	}
	backup1, _ := os.ReadFile(logPath + ".1")
	if string(backup1) != "line-2\n" {
		t.Errorf("backup .1 = %q, want %q", backup1, "line-2\n")
	}
	backup2, _ := os.ReadFile(logPath + ".2")
	if string(backup2) != "line-1\n" {
		t.Errorf("backup .2 = %q, want %q", backup2, "line-1\n")
	}
	if _, err := os.Stat(logPath + ".3"); !os.IsNotExist(err) {
		t.Error("backups beyond MaxBackups should be removed")
	}
}

func TestRotatingWriter_Compress(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "cubic.log")

	rw, err := NewRotatingWriter(logPath, RotationConfig{MaxSizeMB: 1, MaxBackups: 1, Compress: true})
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}
	defer func() { _ = rw.Close() }()
	rw.setMaxBytes(8)

	_, _ = rw.Write([]byte("first\n"))
	_, _ = rw.Write([]byte("second\n"))

	f, err := os.Open(logPath + ".1.gz")
	if err != nil {
		t.Fatalf("compressed backup missing: %v", err)
	}
	defer f.Close()
	zr, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	data, _ := io.ReadAll(zr)
	if string(data) != "first\n" {
		t.Errorf("decompressed = %q, want %q", data, "first\n")
	}
}

func TestRotatingWriter_WriteAfterClose(t *testing.T) {
	rw, err := NewRotatingWriter(filepath.Join(t.TempDir(), "cubic.log"), DefaultRotationConfig())
	if err != nil {
		t.Fatal(err)
	}
	_ = rw.Close()
	if _, err := rw.Write([]byte("x")); err == nil {
		t.Error("expected error writing to closed writer")
	}
}

func TestRotatingWriter_Concurrent(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "cubic.log")
	rw, err := NewRotatingWriter(logPath, RotationConfig{MaxSizeMB: 1, MaxBackups: 5})
	if err != nil {
		t.Fatal(err)
	}
	rw.setMaxBytes(200)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_, _ = fmt.Fprintf(rw, "worker-%d-%d\n", n, j)
			}
		}(i)
	}
	wg.Wait()
	_ = rw.Close()

	content, _ := os.ReadFile(logPath)
	for _, line := range strings.Split(strings.TrimSpace(string(content)), "\n") {
		if !strings.HasPrefix(line, "worker-") {
			t.Errorf("torn line %q", line)
		}
	}
}
