package logger

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// backupLayout is the timestamp embedded in rotated file names,
// e.g. mnemo-20260105T093000.log
const backupLayout = "20060102T150405"

// logFile appends to the daemon log. When maxBytes is positive the file is
// moved aside to a timestamped backup before a write would exceed it, and
// backups older than maxAge are pruned.
type logFile struct {
	path     string
	maxBytes int64
	maxAge   time.Duration
	compress bool
	now      func() time.Time

	mu   sync.Mutex
	f    *os.File
	size int64
}

func openLogFile(cfg Config) (*logFile, error) {
	lf := &logFile{
		path:     cfg.File,
		maxBytes: int64(cfg.MaxSize) * 1024 * 1024,
		maxAge:   time.Duration(cfg.MaxAge) * 24 * time.Hour,
		compress: cfg.Compress,
		now:      time.Now,
	}

	if err := os.MkdirAll(filepath.Dir(lf.path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	if err := lf.open(); err != nil {
		return nil, err
	}
	lf.prune()

	return lf, nil
}

func (lf *logFile) open() error {
	f, err := os.OpenFile(lf.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}

	lf.f = f
	lf.size = info.Size()
	return nil
}

func (lf *logFile) Write(p []byte) (int, error) {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	if lf.f == nil {
		return 0, os.ErrClosed
	}

	// a single entry larger than the limit still goes to a fresh file
	if lf.maxBytes > 0 && lf.size > 0 && lf.size+int64(len(p)) > lf.maxBytes {
		if err := lf.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := lf.f.Write(p)
	lf.size += int64(n)
	return n, err
}

func (lf *logFile) Close() error {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	if lf.f == nil {
		return nil
	}
	err := lf.f.Close()
	lf.f = nil
	return err
}

// backupName returns the rotated name for t, keeping the extension so
// that mnemo.log becomes mnemo-<timestamp>.log
func (lf *logFile) backupName(t time.Time) string {
	ext := filepath.Ext(lf.path)
	stem := strings.TrimSuffix(lf.path, ext)
	return fmt.Sprintf("%s-%s%s", stem, t.UTC().Format(backupLayout), ext)
}

// backupTime parses the rotation time out of a backup file name
func (lf *logFile) backupTime(name string) (time.Time, bool) {
	ext := filepath.Ext(lf.path)
	prefix := strings.TrimSuffix(filepath.Base(lf.path), ext) + "-"

	name = strings.TrimSuffix(name, ".gz")
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ext) {
		return time.Time{}, false
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ext)

	t, err := time.Parse(backupLayout, stamp)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func (lf *logFile) rotate() error {
	if err := lf.f.Close(); err != nil {
		return err
	}
	lf.f = nil

	backup := lf.backupName(lf.now())
	if err := os.Rename(lf.path, backup); err != nil {
		return fmt.Errorf("failed to rotate log file: %w", err)
	}
	if lf.compress {
		if err := gzipFile(backup); err != nil {
			return fmt.Errorf("failed to compress %s: %w", backup, err)
		}
	}

	if err := lf.open(); err != nil {
		return err
	}
	lf.prune()
	return nil
}

// prune removes backups whose rotation time is older than maxAge
func (lf *logFile) prune() {
	if lf.maxAge <= 0 {
		return
	}

	entries, err := os.ReadDir(filepath.Dir(lf.path))
	if err != nil {
		return
	}

	cutoff := lf.now().Add(-lf.maxAge)
	for _, entry := range entries {
		rotated, ok := lf.backupTime(entry.Name())
		if !ok || !rotated.Before(cutoff) {
			continue
		}
		os.Remove(filepath.Join(filepath.Dir(lf.path), entry.Name()))
	}
}

// gzipFile replaces path with path.gz
func gzipFile(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}

	gzw := gzip.NewWriter(dst)
	if _, err := io.Copy(gzw, src); err != nil {
		dst.Close()
		return err
	}
	if err := gzw.Close(); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}

	return os.Remove(path)
}
