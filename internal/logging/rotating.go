package logging

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"sync"
)

// DefaultGenerations is how many rotated files a RotatingWriter keeps.
const DefaultGenerations = 5

// RotatingWriter is an io.Writer that rotates its file once it would grow
// past maxSize. Rotated files are gzipped as path.1.gz (newest) through
// path.N.gz (oldest).
type RotatingWriter struct {
	mu          sync.Mutex
	path        string
	maxSize     int64
	generations int
	file        *os.File
	size        int64
}

// NewRotatingWriter opens (or creates) path for appending.
func NewRotatingWriter(path string, maxSize int64) (*RotatingWriter, error) {
	w := &RotatingWriter{
		path:        path,
		maxSize:     maxSize,
		generations: DefaultGenerations,
	}
	if err := w.open(os.O_APPEND); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *RotatingWriter) open(mode int) error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|mode, 0o640)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	w.file = f
	w.size = info.Size()
	return nil
}

// Write implements io.Writer.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.size > 0 && w.size+int64(len(p)) > w.maxSize {
		if err := w.rotate(); err != nil {
			return 0, fmt.Errorf("rotating log: %w", err)
		}
	}

	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// Close closes the current file.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

func (w *RotatingWriter) generation(i int) string {
	return fmt.Sprintf("%s.%d.gz", w.path, i)
}

func (w *RotatingWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return err
	}

	os.Remove(w.generation(w.generations))
	for i := w.generations - 1; i >= 1; i-- {
		if _, err := os.Stat(w.generation(i)); err == nil {
			os.Rename(w.generation(i), w.generation(i+1))
		}
	}

	if err := gzipFile(w.path, w.generation(1)); err != nil {
		os.Remove(w.generation(1))
	}
	return w.open(os.O_TRUNC)
}

func gzipFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, in); err != nil {
		gz.Close()
		return err
	}
	return gz.Close()
}
