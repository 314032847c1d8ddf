package logging

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// RotationConfig holds configuration for log rotation.
type RotationConfig struct {
	// MaxSizeMB is the maximum size of a log file in megabytes before rotation.
	// A value of 0 disables rotation.
	MaxSizeMB int
	// MaxBackups is the number of rotated log files to keep.
	// A value of 0 keeps no backups.
	MaxBackups int
	// Compress determines whether rotated log files are gzip compressed.
	Compress bool
}

// DefaultRotationConfig returns a RotationConfig with sensible defaults.
func DefaultRotationConfig() RotationConfig {
	return RotationConfig{
		MaxSizeMB:  10,
		MaxBackups: 3,
		Compress:   false,
	}
}

// RollingWriter is an io.WriteCloser that rotates the underlying file when
// it exceeds a size threshold. Rotated files are renamed with a timestamp
// suffix and optionally gzip compressed; the oldest backups beyond
// MaxBackups are pruned. It is safe for concurrent use.
type RollingWriter struct {
	mu   sync.Mutex
	path string
	cfg  RotationConfig

	file *os.File
	size int64

	// now is overridable for tests.
	now func() time.Time
}

// NewRollingWriter opens (or creates) the log file at path.
// If cfg.MaxSizeMB is 0 the writer never rotates.
func NewRollingWriter(path string, cfg RotationConfig) (*RollingWriter, error) {
	w := &RollingWriter{
		path: path,
		cfg:  cfg,
		now:  time.Now,
	}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

// open opens the log file and records its current size.
// The caller must hold the mutex (or be the constructor).
func (w *RollingWriter) open() error {
	if err := os.MkdirAll(filepath.Dir(w.path), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}

	w.file = file
	w.size = info.Size()
	return nil
}

// Write implements io.Writer, rotating first if the write would push the
// file over the size limit.
func (w *RollingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return 0, os.ErrClosed
	}

	limit := int64(w.cfg.MaxSizeMB) * 1024 * 1024
	if limit > 0 && w.size+int64(len(p)) > limit && w.size > 0 {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// Close syncs and closes the current log file.
func (w *RollingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		w.file = nil
		return fmt.Errorf("failed to sync log file: %w", err)
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// rotate renames the current file to a timestamped backup, reopens a fresh
// file, and prunes old backups. The caller must hold the mutex.
func (w *RollingWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close log file for rotation: %w", err)
	}
	w.file = nil

	backup := fmt.Sprintf("%s.%s", w.path, w.now().UTC().Format("20060102T150405.000"))
	if err := os.Rename(w.path, backup); err != nil {
		return fmt.Errorf("failed to rotate log file: %w", err)
	}

	if w.cfg.Compress {
		if err := compressFile(backup); err != nil {
			// Rotation succeeded; compression failure is not fatal.
			_ = err
		}
	}

	if err := w.open(); err != nil {
		return err
	}

	w.prune()
	return nil
}

// prune removes the oldest backups beyond MaxBackups.
// The caller must hold the mutex.
func (w *RollingWriter) prune() {
	backups, err := w.listBackups()
	if err != nil {
		return
	}
	if len(backups) <= w.cfg.MaxBackups {
		return
	}
	// Backups sort lexically by timestamp; oldest first.
	sort.Strings(backups)
	for _, old := range backups[:len(backups)-w.cfg.MaxBackups] {
		os.Remove(old)
	}
}

// listBackups returns the paths of all rotated backups for this log file.
func (w *RollingWriter) listBackups() ([]string, error) {
	entries, err := os.ReadDir(filepath.Dir(w.path))
	if err != nil {
		return nil, err
	}

	base := filepath.Base(w.path)
	var backups []string
	for _, e := range entries {
		name := e.Name()
		if name != base && strings.HasPrefix(name, base+".") {
			backups = append(backups, filepath.Join(filepath.Dir(w.path), name))
		}
	}
	return backups, nil
}

// compressFile gzips the file at path in place, replacing it with path.gz.
func compressFile(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}

	gz := gzip.NewWriter(dst)
	if _, err := io.Copy(gz, src); err != nil {
		gz.Close()
		dst.Close()
		os.Remove(path + ".gz")
		return err
	}
	if err := gz.Close(); err != nil {
		dst.Close()
		os.Remove(path + ".gz")
		return err
	}
	if err := dst.Close(); err != nil {
		os.Remove(path + ".gz")
		return err
	}

	return os.Remove(path)
}
