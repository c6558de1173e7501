package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"go-rom-boxart/internal/helpers"

	log "github.com/sirupsen/logrus"
)

// Custom Downloader Errors
var (
	ErrHttpStatus  = errors.New("unexpected HTTP status code")
	ErrFileSystem  = errors.New("filesystem error") // Covers create, remove, rename
	ErrHttpRequest = errors.New("HTTP request creation/execution error")
)

// ProgressFunc receives the bytes written so far and the expected total
// (0 when the server did not send Content-Length).
type ProgressFunc func(downloaded, total uint64)

// Downloader streams remote files to disk.
type Downloader struct {
	client *http.Client
}

// NewDownloader creates a new Downloader instance. A nil client means
// http.DefaultClient, which has no timeout.
func NewDownloader(client *http.Client) *Downloader {
	if client == nil {
		client = http.DefaultClient
	}
	return &Downloader{client: client}
}

// DownloadFile downloads url to targetFilepath through a temporary file in the
// same directory, creating parent directories as needed. The temp file is
// removed on any failure so a partial download never appears at the target.
// Returns the number of bytes written.
func (d *Downloader) DownloadFile(ctx context.Context, targetFilepath string, url string, progress ProgressFunc) (uint64, error) {
	targetDir := filepath.Dir(targetFilepath)
	if !helpers.CheckAndMakeDir(targetDir) {
		return 0, fmt.Errorf("%w: failed to create target directory %s", ErrFileSystem, targetDir)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: creating download request for %s: %w", ErrHttpRequest, url, err)
	}

	log.Debugf("Downloading %s", url)
	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: performing request for %s: %w", ErrHttpRequest, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: received status %d from %s", ErrHttpStatus, resp.StatusCode, url)
	}

	tempFile, err := os.CreateTemp(targetDir, filepath.Base(targetFilepath)+".*.tmp")
	if err != nil {
		return 0, fmt.Errorf("%w: creating temporary file for %s: %w", ErrFileSystem, targetFilepath, err)
	}
	shouldCleanupTemp := true
	defer func() {
		if shouldCleanupTemp {
			_ = tempFile.Close()
			if removeErr := os.Remove(tempFile.Name()); removeErr != nil && !os.IsNotExist(removeErr) {
				log.WithError(removeErr).Warnf("Failed to remove temporary file %s", tempFile.Name())
			}
		}
	}()

	total, _ := strconv.ParseUint(resp.Header.Get("Content-Length"), 10, 64)
	counter := &helpers.CounterWriter{Writer: tempFile}
	if progress != nil {
		counter.OnProgress = func(written uint64) { progress(written, total) }
	}

	log.Debugf("Writing %s (size: %s)", tempFile.Name(), helpers.BytesToSize(total))
	if _, err := io.Copy(counter, resp.Body); err != nil {
		return counter.Total, fmt.Errorf("%w: writing temporary file %s: %w", ErrFileSystem, tempFile.Name(), err)
	}
	if err := tempFile.Close(); err != nil {
		return counter.Total, fmt.Errorf("%w: closing temp file %s: %w", ErrFileSystem, tempFile.Name(), err)
	}
	if err := os.Rename(tempFile.Name(), targetFilepath); err != nil {
		return counter.Total, fmt.Errorf("%w: renaming temporary file %s to %s: %w", ErrFileSystem, tempFile.Name(), targetFilepath, err)
	}
	shouldCleanupTemp = false

	log.Debugf("Saved %s (%s)", targetFilepath, helpers.BytesToSize(counter.Total))
	return counter.Total, nil
}
