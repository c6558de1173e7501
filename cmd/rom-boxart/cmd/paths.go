package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go-rom-boxart/internal/models"
)

const (
	stateDirName  = ".rom-boxart"
	lockFileName  = ".rom-boxart.lock"
	historyDbName = "history_db"
	indexDirName  = "rom-boxart.bleve"
)

var errNoSdcard = errors.New("SD card directory is not configured (--sdcard-dir or SdcardPath)")

// layout resolves every on-disk location from the configuration.
type layout struct {
	Sdcard   string
	DatDir   string
	Boxart   string
	Database string
	Index    string
	Lock     string
}

func underSdcard(sdcard, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(sdcard, p)
}

func resolveLayout(cfg models.Config) (layout, error) {
	if cfg.SdcardPath == "" {
		return layout{}, errNoSdcard
	}
	sd := cfg.SdcardPath
	l := layout{
		Sdcard:   sd,
		DatDir:   underSdcard(sd, cfg.DatSubdir),
		Boxart:   underSdcard(sd, cfg.BoxartSubdir),
		Database: cfg.DatabasePath,
		Index:    cfg.BleveIndexPath,
		Lock:     filepath.Join(sd, lockFileName),
	}
	if l.Database == "" {
		l.Database = filepath.Join(sd, stateDirName, historyDbName)
	}
	if l.Index == "" {
		l.Index = filepath.Join(sd, stateDirName, indexDirName)
	}
	return l, nil
}

// requireDir returns an error unless path is an existing directory.
func requireDir(path, what string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%s %q: %w", what, path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s %q is not a directory", what, path)
	}
	return nil
}
