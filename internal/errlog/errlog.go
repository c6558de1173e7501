// Package errlog writes the flat-text record of ROMs whose box art could
// not be found.
package errlog

import (
	"bufio"
	"fmt"
	"os"
	"sync"

	"go-rom-boxart/internal/models"
)

// Log appends one line per entry. A nil *Log discards everything.
type Log struct {
	mu   sync.Mutex
	file *os.File
	w    *bufio.Writer
}

// Open creates (or truncates) the log at path.
func Open(path string) (*Log, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open error log %s: %w", path, err)
	}
	return &Log{file: f, w: bufio.NewWriter(f)}, nil
}

// Format renders an entry as "<original filename> | <sha1> | <name>".
func Format(e models.ErrorLogEntry) string {
	return fmt.Sprintf("%s | %s | %s", e.OriginalName, e.SHA1, e.CanonicalName)
}

// Record writes one entry and flushes it.
func (l *Log) Record(e models.ErrorLogEntry) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.w.WriteString(Format(e) + "\n"); err != nil {
		return err
	}
	return l.w.Flush()
}

// Path returns the file the log writes to.
func (l *Log) Path() string {
	if l == nil {
		return ""
	}
	return l.file.Name()
}

// Close flushes and closes the file.
func (l *Log) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	errFlush := l.w.Flush()
	errClose := l.file.Close()
	if errFlush != nil {
		return fmt.Errorf("failed to flush error log: %w", errFlush)
	}
	return errClose
}
