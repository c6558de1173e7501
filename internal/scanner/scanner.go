package scanner

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"go-rom-boxart/internal/models"
	"go-rom-boxart/internal/platform"

	log "github.com/sirupsen/logrus"
)

// ErrScan wraps any filesystem failure that aborts a scan.
var ErrScan = errors.New("rom scan failed")

// FindRoms walks root recursively and returns every file whose extension
// belongs to a supported platform, in traversal order.
func FindRoms(root string) ([]models.RomFile, error) {
	var roms []models.RomFile
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		p, ok := platform.ForExtension(filepath.Ext(d.Name()))
		if !ok {
			log.Debugf("Ignoring %s: unsupported extension", path)
			return nil
		}
		roms = append(roms, models.RomFile{Path: path, Platform: p.Key})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: walking %s: %w", ErrScan, root, err)
	}
	log.Debugf("Scan of %s found %d ROM(s)", root, len(roms))
	return roms, nil
}
