package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRotatingWriter_NoRotationWhenDisabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roombot.log")
	rw, err := NewRotatingWriter(path, RotationConfig{MaxSizeMB: 0})
	if err != nil {
		t.Fatalf("NewRotatingWriter() error = %v", err)
	}
	defer rw.Close()

	data := []byte(strings.Repeat("x", 4096))
	for i := 0; i < 10; i++ {
		if _, err := rw.Write(data); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}

	if rw.CurrentSize() != int64(len(data)*10) {
		t.Errorf("CurrentSize() = %d", rw.CurrentSize())
	}
	if _, err := os.Stat(path + ".1"); !os.IsNotExist(err) {
		t.Error("no backup should exist when rotation is disabled")
	}
}

func TestRotatingWriter_RotatesAndKeepsBackups(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "roombot.log")
	rw, err := NewRotatingWriter(path, RotationConfig{MaxSizeMB: 1, MaxBackups: 2})
	if err != nil {
		t.Fatalf("NewRotatingWriter() error = %v", err)
	}
	defer rw.Close()

	chunk := []byte(strings.Repeat("a", 600*1024))
	for i := 0; i < 5; i++ {
		if _, err := rw.Write(chunk); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}

	for _, p := range []string{path, path + ".1", path + ".2"} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("expected %s to exist: %v", p, err)
		}
	}
	if _, err := os.Stat(path + ".3"); !os.IsNotExist(err) {
		t.Error("backups beyond MaxBackups should be removed")
	}
}

func TestRotatingWriter_CreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "roombot.log")
	rw, err := NewRotatingWriter(path, DefaultRotationConfig())
	if err != nil {
		t.Fatalf("NewRotatingWriter() error = %v", err)
	}
	if rw.FilePath() != path {
		t.Errorf("FilePath() = %s", rw.FilePath())
	}
	if err := rw.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if _, err := rw.Write([]byte("late")); err == nil {
		t.Error("Write() after Close should fail")
	}
	if err := rw.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestGzipFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in.log")
	if err := os.WriteFile(src, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := gzipFile(src, src+".gz"); err != nil {
		t.Fatalf("gzipFile() error = %v", err)
	}
	info, err := os.Stat(src + ".gz")
	if err != nil || info.Size() == 0 {
		t.Fatalf("compressed file missing or empty: %v", err)
	}
}

func TestNewFileLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roombot.log")
	l, err := NewFileLogger(path, LevelInfo, RotationConfig{})
	if err != nil {
		t.Fatalf("NewFileLogger() error = %v", err)
	}
	l.WithBot("b1").Info("bot spawned")
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	entries, err := ReadLogs(path)
	if err != nil {
		t.Fatalf("ReadLogs() error = %v", err)
	}
	if len(entries) != 1 || entries[0].BotID != "b1" {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestRotatingWriter_NoBackupsTruncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roombot.log")
	rw, err := NewRotatingWriter(path, RotationConfig{MaxSizeMB: 1, MaxBackups: 0})
	if err != nil {
		t.Fatalf("NewRotatingWriter() error = %v", err)
	}
	defer rw.Close()

	chunk := []byte(strings.Repeat("b", 700*1024))
	for range 3 {
		if _, err := rw.Write(chunk); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	if rw.CurrentSize() != int64(len(chunk)) {
		t.Errorf("CurrentSize() = %d, want one chunk", rw.CurrentSize())
	}
	if got := BackupFiles(path); len(got) != 0 {
		t.Errorf("BackupFiles() = %v, want none", got)
	}
}

func TestRotatingWriter_CompressedBackupsAreReadable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roombot.log")
	rw, err := NewRotatingWriter(path, RotationConfig{MaxSizeMB: 1, MaxBackups: 3, Compress: true})
	if err != nil {
		t.Fatalf("NewRotatingWriter() error = %v", err)
	}

	// Each line is padded so three of them fill more than a megabyte.
	pad := strings.Repeat("p", 400*1024)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range 6 {
		line := fmt.Sprintf(`{"time":%q,"level":"INFO","msg":"line %d","pad":%q}`+"\n",
			start.Add(time.Duration(i)*time.Second).Format(time.RFC3339Nano), i, pad)
		if _, err := rw.Write([]byte(line)); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	if err := rw.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	backups := BackupFiles(path)
	if len(backups) == 0 {
		t.Fatal("expected rotated backups")
	}
	for _, b := range backups {
		if !strings.HasSuffix(b, ".gz") {
			t.Errorf("backup %s was not compressed", b)
		}
	}

	entries, err := ReadLogFiles(path)
	if err != nil {
		t.Fatalf("ReadLogFiles() error = %v", err)
	}
	if len(entries) != 6 {
		t.Fatalf("ReadLogFiles() returned %d entries, want 6", len(entries))
	}
	for i, e := range entries {
		if want := fmt.Sprintf("line %d", i); e.Message != want {
			t.Errorf("entry %d = %q, want %q", i, e.Message, want)
		}
	}
}

func TestReadLogFiles_OnlyBackups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roombot.log")
	line := `{"time":"2026-01-01T00:00:00Z","level":"WARN","msg":"old"}` + "\n"
	if err := os.WriteFile(path+".1", []byte(line), 0o644); err != nil {
		t.Fatal(err)
	}
	entries, err := ReadLogFiles(path)
	if err != nil || len(entries) != 1 || entries[0].Message != "old" {
		t.Errorf("ReadLogFiles() = %+v, %v", entries, err)
	}

	if _, err := ReadLogFiles(filepath.Join(t.TempDir(), "missing.log")); err == nil {
		t.Error("ReadLogFiles() with no files should fail")
	}
}
