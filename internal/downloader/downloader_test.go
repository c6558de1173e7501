package downloader

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownloadFileSuccess(t *testing.T) {
	body := "game ( name \"X\" )\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	target := filepath.Join(t.TempDir(), "nested", "dir", "file.dat")
	var lastDownloaded, lastTotal uint64
	n, err := NewDownloader(srv.Client()).DownloadFile(context.Background(), target, srv.URL+"/file.dat", func(d, total uint64) {
		lastDownloaded, lastTotal = d, total
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(len(body)), n)
	assert.Equal(t, uint64(len(body)), lastDownloaded)
	assert.Equal(t, uint64(len(body)), lastTotal)

	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, body, string(got))
}

func TestDownloadFileHttpError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	dir := t.TempDir()
	target := filepath.Join(dir, "file.dat")
	_, err := NewDownloader(nil).DownloadFile(context.Background(), target, srv.URL+"/missing.dat", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrHttpStatus))

	_, statErr := os.Stat(target)
	assert.True(t, os.IsNotExist(statErr))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no temp files should be left behind")
}

func TestDownloadFileRequestError(t *testing.T) {
	_, err := NewDownloader(nil).DownloadFile(context.Background(), filepath.Join(t.TempDir(), "f"), "http://127.0.0.1:0/none", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrHttpRequest))
}
