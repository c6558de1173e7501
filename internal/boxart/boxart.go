// Package boxart locates cover art in the libretro-thumbnails repositories
// and stores it as fixed-size PNG thumbnails.
package boxart

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go-rom-boxart/internal/helpers"
	"go-rom-boxart/internal/platform"

	log "github.com/sirupsen/logrus"
	xdraw "golang.org/x/image/draw"
)

const (
	ThumbnailWidth  = 128
	ThumbnailHeight = 115
	// DefaultMinBytes is the size an existing thumbnail must exceed to be
	// treated as already fetched.
	DefaultMinBytes = 20000

	imageExt      = ".png"
	boxartsSubdir = "raw/master/Named_Boxarts"
)

var (
	// ErrNotFound is returned when no variant/mirror combination produced an image.
	ErrNotFound = errors.New("box art not found")

	errNotImage = errors.New("response is not an image")
	errStatus   = errors.New("unexpected HTTP status")
)

var (
	forbiddenChars = strings.NewReplacer(
		"&", "_", "*", "_", "/", "_", ":", "_", "`", "_",
		"<", "_", ">", "_", "?", "_", "\\", "_", "|", "_", `"`, "_",
	)
	multiFieldTag = regexp.MustCompile(`\(([^)]+?),.*?\)`)
	revTag        = regexp.MustCompile(`\s*\(Rev[^)]+\)`)
	unreleasedTag = regexp.MustCompile(`\s*\((Rev|Beta|Proto)[^)]+\)`)
)

// BaseName derives the thumbnail display name from a canonical name: a
// trailing ROM extension is dropped and characters the thumbnail
// repositories cannot store are replaced with '_'.
func BaseName(canonical string) string {
	return forbiddenChars.Replace(platform.StripRomExtension(canonical))
}

// Variants returns the names to try, in order and without duplicates: the
// base name, region tags collapsed to their first field, "(Rev ...)" tags
// removed, and "(Rev|Beta|Proto ...)" tags removed.
func Variants(base string) []string {
	attempts := []string{base}
	add := func(v string) {
		for _, a := range attempts {
			if a == v {
				return
			}
		}
		attempts = append(attempts, v)
	}
	add(multiFieldTag.ReplaceAllString(base, "($1)"))
	add(strings.TrimSpace(revTag.ReplaceAllString(base, "")))
	add(strings.TrimSpace(unreleasedTag.ReplaceAllString(base, "")))
	return attempts
}

// OutputPath returns where the thumbnail for romFileName is stored.
func OutputPath(boxartDir, romFileName string) string {
	return filepath.Join(boxartDir, romFileName+imageExt)
}

// Result describes the outcome of a successful Fetch.
type Result struct {
	Path     string
	BaseName string
	Skipped  bool   // thumbnail was already present
	URL      string // URL the image came from
	Attempts int
}

// Fetcher downloads and resizes box art.
type Fetcher struct {
	Client    *http.Client
	BaseURL   string
	BoxartDir string
	MinBytes  int64
}

// NewFetcher creates a Fetcher. A nil client means http.DefaultClient.
func NewFetcher(client *http.Client, baseURL, boxartDir string, minBytes int64) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if minBytes <= 0 {
		minBytes = DefaultMinBytes
	}
	return &Fetcher{
		Client:    client,
		BaseURL:   strings.TrimRight(baseURL, "/"),
		BoxartDir: boxartDir,
		MinBytes:  minBytes,
	}
}

// URL returns the thumbnail location of variant inside repo.
func (f *Fetcher) URL(repo, variant string) string {
	return fmt.Sprintf("%s/%s/%s/%s", f.BaseURL, repo, boxartsSubdir, url.PathEscape(variant+imageExt))
}

// Exists reports whether a thumbnail larger than MinBytes is already stored at path.
func (f *Fetcher) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir() && info.Size() > f.MinBytes
}

// Fetch stores the thumbnail for a ROM. Every variant is tried against every
// mirror of p; the first image found wins. Failed attempts are logged and
// never abort the search. ErrNotFound is returned when everything failed.
func (f *Fetcher) Fetch(ctx context.Context, canonical string, p platform.Platform, romFileName string) (Result, error) {
	output := OutputPath(f.BoxartDir, romFileName)
	base := BaseName(canonical)
	res := Result{Path: output, BaseName: base}

	if f.Exists(output) {
		log.Infof("Boxart already exists: %s", output)
		res.Skipped = true
		return res, nil
	}

	repos := platform.Mirrors(p)
	for _, variant := range Variants(base) {
		for _, repo := range repos {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			u := f.URL(repo, variant)
			res.Attempts++
			log.Debugf("Trying: %s", u)
			if err := f.tryFetch(ctx, u, output); err != nil {
				log.WithError(err).Debugf("No usable image at %s", u)
				continue
			}
			log.Infof("Saved: %s", output)
			res.URL = u
			return res, nil
		}
	}

	log.Warnf("Could not find box art for %q using any known fallback", base)
	return res, fmt.Errorf("%w: %s", ErrNotFound, base)
}

func (f *Fetcher) tryFetch(ctx context.Context, u, output string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w %d", errStatus, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "image") {
		return fmt.Errorf("%w: content type %q", errNotImage, ct)
	}

	img, _, err := image.Decode(resp.Body)
	if err != nil {
		return fmt.Errorf("decoding image: %w", err)
	}
	return Save(Resize(img), output)
}

// Resize converts img to NRGBA at the fixed thumbnail resolution.
func Resize(img image.Image) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, ThumbnailWidth, ThumbnailHeight))
	xdraw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Src, nil)
	return dst
}

// Save writes img as PNG to path through a temp file in the same directory.
func Save(img image.Image, path string) error {
	dir := filepath.Dir(path)
	if !helpers.CheckAndMakeDir(dir) {
		return fmt.Errorf("creating %s", dir)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", path, err)
	}
	if err := png.Encode(tmp, img); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("closing %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("renaming %s to %s: %w", tmp.Name(), path, err)
	}
	return nil
}
