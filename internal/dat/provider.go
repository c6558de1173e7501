package dat

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"go-rom-boxart/internal/downloader"
	"go-rom-boxart/internal/platform"

	log "github.com/sirupsen/logrus"
)

var (
	// ErrNoMapping is returned for a platform key with no known DAT.
	ErrNoMapping = errors.New("no known DAT mapping")
	// ErrUnavailable is returned when a platform's DAT could not be fetched.
	ErrUnavailable = errors.New("DAT unavailable")
)

// Provider makes sure a platform's DAT file is present on disk, downloading
// it on first use. Downloaded files are reused indefinitely.
type Provider struct {
	DatDir     string
	BaseURL    string
	Downloader *downloader.Downloader
	// Progress, when set, returns the progress callback for one DAT download.
	Progress func(datName string) downloader.ProgressFunc
}

// NewProvider creates a Provider storing DATs under datDir.
func NewProvider(datDir, baseURL string, d *downloader.Downloader) *Provider {
	if d == nil {
		d = downloader.NewDownloader(nil)
	}
	return &Provider{DatDir: datDir, BaseURL: strings.TrimRight(baseURL, "/"), Downloader: d}
}

// LocalPath returns the on-disk location of the platform's DAT.
func (p *Provider) LocalPath(key string) (string, error) {
	plat, ok := platform.Lookup(key)
	if !ok || plat.DatName == "" {
		return "", fmt.Errorf("%w for %s", ErrNoMapping, key)
	}
	return filepath.Join(p.DatDir, plat.DatName+".dat"), nil
}

// URL returns the remote location of the platform's DAT.
func (p *Provider) URL(key string) (string, error) {
	plat, ok := platform.Lookup(key)
	if !ok || plat.DatName == "" {
		return "", fmt.Errorf("%w for %s", ErrNoMapping, key)
	}
	return p.BaseURL + "/" + url.PathEscape(plat.DatName) + ".dat", nil
}

// Ensure returns the local path of the platform's DAT, downloading it when
// it does not exist yet.
func (p *Provider) Ensure(ctx context.Context, key string) (string, error) {
	localPath, err := p.LocalPath(key)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(localPath); err == nil {
		log.Debugf("Using cached DAT %s", localPath)
		return localPath, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("%w: checking %s: %w", ErrUnavailable, localPath, err)
	}

	remote, err := p.URL(key)
	if err != nil {
		return "", err
	}
	log.Infof("Downloading DAT for %s...", key)
	var progress downloader.ProgressFunc
	if p.Progress != nil {
		progress = p.Progress(filepath.Base(localPath))
	}
	if _, err := p.Downloader.DownloadFile(ctx, localPath, remote, progress); err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrUnavailable, key, err)
	}
	log.Info("Download complete.")
	return localPath, nil
}
