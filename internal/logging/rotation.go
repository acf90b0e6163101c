package logging

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// RotationConfig controls size-based rotation of the server log file.
type RotationConfig struct {
	// MaxSizeMB rotates the file once it would grow past this size.
	// Zero disables rotation.
	MaxSizeMB int
	// MaxBackups is the number of rotated files kept as <file>.1 .. <file>.N.
	MaxBackups int
	// Compress gzips rotated files to <file>.N.gz.
	Compress bool
}

// DefaultRotationConfig returns the rotation used for logging.file.
func DefaultRotationConfig() RotationConfig {
	return RotationConfig{
		MaxSizeMB:  50,
		MaxBackups: 5,
		Compress:   true,
	}
}

// RotatingWriter appends to a log file and rotates it by size. Backups are
// numbered from 1 (newest) and can be read back with ReadLogFiles. It is safe
// for concurrent use.
type RotatingWriter struct {
	mu sync.Mutex

	path     string
	maxBytes int64
	backups  int
	compress bool

	file *os.File
	size int64

	// Background gzip jobs; Close waits for them.
	compressing sync.WaitGroup
}

// NewRotatingWriter opens (or creates) path for appending.
func NewRotatingWriter(path string, cfg RotationConfig) (*RotatingWriter, error) {
	rw := &RotatingWriter{
		path:     path,
		maxBytes: int64(cfg.MaxSizeMB) << 20,
		backups:  cfg.MaxBackups,
		compress: cfg.Compress,
	}
	if err := rw.open(); err != nil {
		return nil, err
	}
	return rw, nil
}

// open must be called with mu held.
func (rw *RotatingWriter) open() error {
	if err := os.MkdirAll(filepath.Dir(rw.path), 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(rw.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	rw.file = f
	rw.size = info.Size()
	return nil
}

// Write appends p, rotating first when p would push the file past the limit.
// A failed rotation is reported on stderr and the write still goes to the
// current file.
func (rw *RotatingWriter) Write(p []byte) (int, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.file == nil {
		return 0, errors.New("log file is closed")
	}
	if rw.maxBytes > 0 && rw.size > 0 && rw.size+int64(len(p)) > rw.maxBytes {
		if err := rw.rotate(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: log rotation failed: %v\n", err)
		}
		if rw.file == nil {
			return 0, errors.New("log file unavailable after rotation")
		}
	}

	n, err := rw.file.Write(p)
	rw.size += int64(n)
	return n, err
}

// rotate must be called with mu held.
func (rw *RotatingWriter) rotate() error {
	// The previous .1 must be compressed before it moves to .2.
	rw.compressing.Wait()

	if err := rw.file.Close(); err != nil {
		return fmt.Errorf("close log file: %w", err)
	}
	rw.file = nil

	if err := rw.shiftBackups(); err != nil {
		// Older backups may be out of order; the current file still rotates.
		fmt.Fprintf(os.Stderr, "Warning: log backup shift failed: %v\n", err)
	}

	if rw.backups <= 0 {
		if err := os.Truncate(rw.path, 0); err != nil {
			return errors.Join(fmt.Errorf("truncate log file: %w", err), rw.open())
		}
		return rw.open()
	}

	first := backupName(rw.path, 1)
	if err := os.Rename(rw.path, first); err != nil {
		return errors.Join(fmt.Errorf("rename log file: %w", err), rw.open())
	}
	if rw.compress {
		rw.compressing.Go(func() { compressBackup(first) })
	}
	return rw.open()
}

// shiftBackups renames <file>.i to <file>.i+1, oldest first, dropping the
// one that would exceed the limit. Missing files are skipped.
func (rw *RotatingWriter) shiftBackups() error {
	var errs []error
	remove := func(p string) {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}

	limit := max(rw.backups, 1)
	remove(backupName(rw.path, limit))
	remove(backupName(rw.path, limit) + ".gz")
	if rw.backups <= 0 {
		return errors.Join(errs...)
	}

	for i := limit - 1; i >= 1; i-- {
		for _, ext := range []string{".gz", ""} {
			from := backupName(rw.path, i) + ext
			if _, err := os.Stat(from); err != nil {
				continue
			}
			if err := os.Rename(from, backupName(rw.path, i+1)+ext); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func backupName(path string, n int) string {
	return fmt.Sprintf("%s.%d", path, n)
}

// BackupFiles lists the rotated files of path from oldest to newest,
// stopping at the first missing number. A compressed backup is preferred
// when both forms exist.
func BackupFiles(path string) []string {
	var newestFirst []string
	for n := 1; ; n++ {
		name := backupName(path, n)
		if _, err := os.Stat(name + ".gz"); err == nil {
			newestFirst = append(newestFirst, name+".gz")
			continue
		}
		if _, err := os.Stat(name); err == nil {
			newestFirst = append(newestFirst, name)
			continue
		}
		break
	}
	out := make([]string, 0, len(newestFirst))
	for i := len(newestFirst) - 1; i >= 0; i-- {
		out = append(out, newestFirst[i])
	}
	return out
}

// compressBackup replaces path with path.gz. It runs in the background, so
// failures go to stderr and leave the plain backup in place.
func compressBackup(path string) {
	if err := gzipFile(path, path+".gz"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to compress rotated log %s: %v\n", path, err)
		_ = os.Remove(path + ".gz")
		return
	}
	_ = os.Remove(path)
}

func gzipFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	zw := gzip.NewWriter(out)
	if _, err := io.Copy(zw, in); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return out.Sync()
}

// Sync flushes the current file.
func (rw *RotatingWriter) Sync() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.file == nil {
		return nil
	}
	return rw.file.Sync()
}

// Close syncs and closes the current file and waits for pending
// compression. Closing twice is a no-op.
func (rw *RotatingWriter) Close() error {
	rw.mu.Lock()
	f := rw.file
	rw.file = nil
	rw.mu.Unlock()

	var err error
	if f != nil {
		err = errors.Join(f.Sync(), f.Close())
	}
	rw.compressing.Wait()
	return err
}

// CurrentSize returns the size of the current file in bytes.
func (rw *RotatingWriter) CurrentSize() int64 {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.size
}

// FilePath returns the path of the current file.
func (rw *RotatingWriter) FilePath() string {
	return rw.path
}
