package logging

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestRotatingWriter_Writes(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "areamgrd.log")

	w, err := NewRotatingWriter(logPath, 1024*1024)
	if err != nil {
		t.Fatalf("NewRotatingWriter() error = %v", err)
	}
	defer w.Close()

	msg := "rule dispatched\n"
	n, err := w.Write([]byte(msg))
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if n != len(msg) {
		t.Errorf("Write() = %d, want %d", n, len(msg))
	}

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != msg {
		t.Errorf("log content = %q, want %q", string(content), msg)
	}
}

func TestRotatingWriter_AppendsToExisting(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "areamgrd.log")
	if err := os.WriteFile(logPath, []byte("old\n"), 0o640); err != nil {
		t.Fatal(err)
	}

	w, err := NewRotatingWriter(logPath, 1024)
	if err != nil {
		t.Fatalf("NewRotatingWriter() error = %v", err)
	}
	w.Write([]byte("new\n"))
	w.Close()

	content, _ := os.ReadFile(logPath)
	if string(content) != "old\nnew\n" {
		t.Errorf("log content = %q", string(content))
	}
}

func TestRotatingWriter_RotatesAndCompresses(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "areamgrd.log")

	w, err := NewRotatingWriter(logPath, 100)
	if err != nil {
		t.Fatalf("NewRotatingWriter() error = %v", err)
	}
	defer w.Close()

	first := strings.Repeat("a", 80) + "\n"
	second := strings.Repeat("b", 80) + "\n"
	w.Write([]byte(first))
	w.Write([]byte(second))

	current, _ := os.ReadFile(logPath)
	if string(current) != second {
		t.Errorf("current log = %q, want only the second line", string(current))
	}

	f, err := os.Open(logPath + ".1.gz")
	if err != nil {
		t.Fatalf("rotated file missing: %v", err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("rotated file is not valid gzip: %v", err)
	}
	defer gz.Close()
	rotated, _ := io.ReadAll(gz)
	if string(rotated) != first {
		t.Errorf("rotated content = %q, want first line", string(rotated))
	}
}

func TestRotatingWriter_KeepsGenerations(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "areamgrd.log")

	w, err := NewRotatingWriter(logPath, 30)
	if err != nil {
		t.Fatalf("NewRotatingWriter() error = %v", err)
	}
	defer w.Close()

	line := strings.Repeat("z", 40) + "\n"
	for range 30 {
		if _, err := w.Write([]byte(line)); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}

	rotated, _ := filepath.Glob(filepath.Join(dir, "areamgrd.log.*.gz"))
	if len(rotated) != DefaultGenerations {
		t.Errorf("got %d rotated files, want %d", len(rotated), DefaultGenerations)
	}
}

func TestRotatingWriter_ConcurrentWrites(t *testing.T) {
	w, err := NewRotatingWriter(filepath.Join(t.TempDir(), "areamgrd.log"), 1024)
	if err != nil {
		t.Fatalf("NewRotatingWriter() error = %v", err)
	}
	defer w.Close()

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				w.Write([]byte("0123456789\n"))
			}
		}()
	}
	wg.Wait()
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("json", "info", &buf)
	logger = WithOwner(WithProvider(WithRule(logger, "standup"), "discord"), "u1")
	logger.Info("reaction executed")
	logger.Debug("hidden")

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("output is not a single JSON line: %v (%q)", err, buf.String())
	}
	for key, want := range map[string]string{"rule": "standup", "provider": "discord", "owner": "u1", "msg": "reaction executed"} {
		if entry[key] != want {
			t.Errorf("%s = %v, want %q", key, entry[key], want)
		}
	}
}

func TestNewLogger_Text(t *testing.T) {
	var buf bytes.Buffer
	NewLogger("text", "debug", &buf).Debug("polling", "source", "gmail")
	if !strings.Contains(buf.String(), "source=gmail") {
		t.Errorf("text output = %q", buf.String())
	}
}

func TestWithOwner_Empty(t *testing.T) {
	var buf bytes.Buffer
	WithOwner(NewLogger("text", "info", &buf), "").Info("x")
	if strings.Contains(buf.String(), "owner=") {
		t.Errorf("empty owner should not be attached: %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
