// Package pipeline runs the per-ROM identify, rename and box-art sequence.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go-rom-boxart/index"
	"go-rom-boxart/internal/boxart"
	"go-rom-boxart/internal/dat"
	"go-rom-boxart/internal/helpers"
	"go-rom-boxart/internal/models"
	"go-rom-boxart/internal/platform"

	log "github.com/sirupsen/logrus"
)

// Catalog returns the checksum index of a platform.
type Catalog interface {
	Index(ctx context.Context, key string) (*dat.Index, error)
}

// Fetcher stores the box art for one ROM.
type Fetcher interface {
	Fetch(ctx context.Context, canonical string, p platform.Platform, romFileName string) (boxart.Result, error)
}

// ErrorRecorder receives ROMs whose box art could not be found.
type ErrorRecorder interface {
	Record(entry models.ErrorLogEntry) error
}

// HistoryRecorder receives one entry per handled ROM.
type HistoryRecorder interface {
	Record(entry models.HistoryEntry) error
}

// Indexer adds identified ROMs to the search index.
type Indexer interface {
	IndexItem(item index.Item) error
}

// Summary counts what happened during a run.
type Summary struct {
	Scanned       int
	Matched       int
	Unmatched     int
	NoDat         int
	Renamed       int
	BoxartSaved   int
	BoxartSkipped int
	BoxartMissing int
	Failed        int
}

// Runner processes ROMs one at a time. ErrorLog, History and Index are optional.
type Runner struct {
	Catalog  Catalog
	Fetcher  Fetcher
	ErrorLog ErrorRecorder
	History  HistoryRecorder
	Index    Indexer
	Rename   bool
	RunID    string

	hash func(path string) (models.Hashes, error)
	now  func() time.Time
}

// NewRunner creates a Runner with the production hasher and clock.
func NewRunner(catalog Catalog, fetcher Fetcher) *Runner {
	return &Runner{
		Catalog: catalog,
		Fetcher: fetcher,
		hash:    helpers.HashFile,
		now:     time.Now,
	}
}

// Run processes roms in order. A ROM is fully handled before the next one
// starts; per-ROM failures are logged and counted. Run stops early only
// when ctx is cancelled.
func (r *Runner) Run(ctx context.Context, roms []models.RomFile) (Summary, error) {
	var sum Summary
	for _, rom := range roms {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		sum.Scanned++
		if err := r.process(ctx, rom, &sum); err != nil {
			if ctx.Err() != nil {
				return sum, ctx.Err()
			}
			log.WithError(err).Errorf("Failed to process %s", rom.Path)
			sum.Failed++
		}
	}
	return sum, nil
}

func (r *Runner) process(ctx context.Context, rom models.RomFile, sum *Summary) error {
	log.Infof("Processing %s", rom.Path)
	hash := r.hash
	if hash == nil {
		hash = helpers.HashFile
	}
	hashes, err := hash(rom.Path)
	if err != nil {
		return err
	}

	p, ok := platform.Lookup(rom.Platform)
	if !ok {
		return fmt.Errorf("unknown platform %q", rom.Platform)
	}

	entry := models.HistoryEntry{
		RunID:        r.RunID,
		Platform:     p.Key,
		OriginalPath: rom.Path,
		Path:         rom.Path,
		Hashes:       hashes,
	}

	idx, err := r.Catalog.Index(ctx, p.Key)
	if err != nil {
		sum.NoDat++
		return nil
	}

	name, ok := idx.Lookup(hashes.SHA1)
	if !ok {
		log.Infof("No match in DAT: %s", filepath.Base(rom.Path))
		sum.Unmatched++
		entry.Status = models.StatusUnmatched
		r.record(entry)
		return nil
	}
	sum.Matched++
	entry.CanonicalName = name

	if r.Rename {
		newPath, renamed := renameRom(rom.Path, name)
		if renamed {
			sum.Renamed++
			entry.Renamed = true
		}
		entry.Path = newPath
	}

	res, err := r.Fetcher.Fetch(ctx, name, p, filepath.Base(entry.Path))
	entry.BoxartPath = res.Path
	switch {
	case err == nil && res.Skipped:
		sum.BoxartSkipped++
		entry.Status = models.StatusBoxartExists
	case err == nil:
		sum.BoxartSaved++
		entry.Status = models.StatusBoxartSaved
	case errors.Is(err, boxart.ErrNotFound):
		sum.BoxartMissing++
		entry.Status = models.StatusBoxartMissed
		entry.BoxartPath = ""
		if r.ErrorLog != nil {
			logEntry := models.ErrorLogEntry{
				OriginalName:  filepath.Base(rom.Path),
				SHA1:          hashes.SHA1,
				CanonicalName: res.BaseName,
			}
			if err := r.ErrorLog.Record(logEntry); err != nil {
				log.WithError(err).Warn("Failed to write error log entry")
			}
		}
	default:
		entry.Status = models.StatusFailed
		entry.ErrorDetails = err.Error()
		r.record(entry)
		return err
	}

	r.record(entry)
	return nil
}

// renameRom moves path to "<canonical><ext>" in the same directory. It
// returns the path the ROM now lives at and whether a rename happened. A
// failed rename is logged and leaves the ROM where it was.
func renameRom(path, canonical string) (string, bool) {
	ext := filepath.Ext(path)
	if strings.ContainsAny(canonical, `/\`) {
		log.Warnf("Not renaming %s: canonical name %q contains a path separator", filepath.Base(path), canonical)
		return path, false
	}
	newPath := filepath.Join(filepath.Dir(path), canonical+ext)
	if newPath == path {
		return path, false
	}
	if existing, err := os.Stat(newPath); err == nil && !sameFileNewCase(path, newPath, existing) {
		log.Warnf("Not renaming %s: %s already exists", filepath.Base(path), filepath.Base(newPath))
		return path, false
	}
	log.Infof("Renaming %s to %s", filepath.Base(path), filepath.Base(newPath))
	if err := os.Rename(path, newPath); err != nil {
		log.WithError(err).Errorf("Failed to rename %s", path)
		return path, false
	}
	return newPath, true
}

// sameFileNewCase reports whether newPath only differs from path in letter
// case and resolves to the same file, as on case-insensitive filesystems.
func sameFileNewCase(path, newPath string, existing os.FileInfo) bool {
	if !strings.EqualFold(filepath.Base(path), filepath.Base(newPath)) {
		return false
	}
	current, err := os.Stat(path)
	return err == nil && os.SameFile(current, existing)
}

func (r *Runner) record(entry models.HistoryEntry) {
	now := r.now
	if now == nil {
		now = time.Now
	}
	entry.ProcessedAt = now()

	if r.History != nil {
		if err := r.History.Record(entry); err != nil {
			log.WithError(err).Warnf("Failed to record history for %s", entry.Path)
		}
	}
	if r.Index != nil && entry.CanonicalName != "" {
		item := index.Item{
			ID:            entry.Hashes.SHA1,
			Name:          entry.CanonicalName,
			FileName:      filepath.Base(entry.Path),
			FilePath:      entry.Path,
			DirectoryPath: filepath.Dir(entry.Path),
			Platform:      entry.Platform,
			BoxartPath:    entry.BoxartPath,
			Status:        entry.Status,
			Renamed:       entry.Renamed,
			CRC32:         entry.Hashes.CRC32,
			ProcessedAt:   entry.ProcessedAt,
		}
		if p, ok := platform.Lookup(entry.Platform); ok {
			item.PlatformName = p.DatName
		}
		if err := r.Index.IndexItem(item); err != nil {
			log.WithError(err).Warnf("Failed to index %s", entry.Path)
		}
	}
}
