// Package api holds HTTP plumbing shared by the DAT and thumbnail fetchers.
package api

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"os"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultLogFile is where request logs go when no path is configured.
const DefaultLogFile = "api.log"

// LoggingTransport wraps an http.RoundTripper and writes every exchange to a
// log file. Response bodies are logged only for text content; DAT files are
// truncated to maxLoggedBody bytes and images are never dumped.
type LoggingTransport struct {
	Transport http.RoundTripper

	logFile *os.File
	mu      sync.Mutex
	writer  *bufio.Writer
}

const maxLoggedBody = 4096

// NewLoggingTransport opens logFilePath for appending. A nil transport means
// http.DefaultTransport.
func NewLoggingTransport(transport http.RoundTripper, logFilePath string) (*LoggingTransport, error) {
	if logFilePath == "" {
		logFilePath = DefaultLogFile
	}
	f, err := os.OpenFile(logFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open API log file %s: %w", logFilePath, err)
	}
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &LoggingTransport{
		Transport: transport,
		logFile:   f,
		writer:    bufio.NewWriter(f),
	}, nil
}

// RoundTrip performs req and logs it together with the response or error.
func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()

	reqDump, err := httputil.DumpRequestOut(req, false)
	if err != nil {
		log.WithError(err).Error("Failed to dump request for logging")
	}

	resp, err := t.Transport.RoundTrip(req)
	duration := time.Since(start)

	t.mu.Lock()
	defer t.mu.Unlock()
	defer t.writer.Flush()

	if reqDump != nil {
		t.writeLog(fmt.Sprintf("--- Request (%s) ---\n%s", start.Format(time.RFC3339), reqDump))
	}
	if err != nil {
		t.writeLog(fmt.Sprintf("--- Response Error (Duration: %v) ---\n%s", duration, err))
		return resp, err
	}

	contentType := resp.Header.Get("Content-Type")
	headers, dumpErr := httputil.DumpResponse(resp, false)
	if dumpErr != nil {
		log.WithError(dumpErr).Error("Failed to dump response headers for logging")
		headers = []byte("Status: " + resp.Status + "\n")
	}

	if !strings.HasPrefix(contentType, "text/") {
		t.writeLog(fmt.Sprintf("--- Response Headers (Duration: %v, Type: %s) ---\n%s(Body not logged)", duration, contentType, headers))
		return resp, nil
	}

	// Read a prefix and stitch it back in front of the unread remainder.
	prefix := make([]byte, maxLoggedBody)
	n, readErr := io.ReadFull(resp.Body, prefix)
	prefix = prefix[:n]
	if readErr != nil && readErr != io.EOF && readErr != io.ErrUnexpectedEOF {
		log.WithError(readErr).Error("Failed to read response body for logging")
	}
	resp.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(prefix), resp.Body), resp.Body}

	t.writeLog(fmt.Sprintf("--- Response (Duration: %v) ---\n%s--- Body (%s, first %d bytes) ---\n%s",
		duration, headers, contentType, n, prefix))
	return resp, nil
}

func (t *LoggingTransport) writeLog(s string) {
	if _, err := t.writer.WriteString(s + "\n\n"); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing to API log file: %v\n", err)
	}
}

// Close flushes and closes the log file.
func (t *LoggingTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	errFlush := t.writer.Flush()
	errClose := t.logFile.Close()
	if errFlush != nil {
		return fmt.Errorf("failed to flush API log buffer: %w", errFlush)
	}
	return errClose
}
