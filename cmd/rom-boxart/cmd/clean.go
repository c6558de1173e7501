package cmd

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(cleanCmd)

	cleanCmd.Flags().BoolP("torrents", "t", false, "Also remove *.torrent files")
	cleanCmd.Flags().BoolP("magnets", "m", false, "Also remove *-magnet.txt files")
	cleanCmd.Flags().String("rom-dir", "", "Also clean this ROM directory")
}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove partial downloads (.tmp files) from the SD card",
	Long: `Recursively scans the SD card (and optionally a ROM directory) and removes
files ending in .tmp left behind by interrupted DAT or box art downloads.
Optionally removes *.torrent and *-magnet.txt files as well.`,
	RunE: runClean,
}

type cleanOptions struct {
	Torrents bool
	Magnets  bool
}

type cleanResult struct {
	Tmp, Torrents, Magnets, Failed int
}

// cleanKind returns the category name of a removable file, or "".
func cleanKind(name string, opts cleanOptions) string {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".tmp"):
		return ".tmp"
	case opts.Torrents && strings.HasSuffix(lower, ".torrent"):
		return ".torrent"
	case opts.Magnets && strings.HasSuffix(lower, "-magnet.txt"):
		return "-magnet.txt"
	}
	return ""
}

// cleanDir removes matching files under root. Unreadable paths are logged
// and skipped.
func cleanDir(root string, opts cleanOptions) (cleanResult, error) {
	var res cleanResult
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.Warnf("Error accessing path %q during scan: %v", path, err)
			return nil
		}
		if d.IsDir() {
			return nil
		}
		kind := cleanKind(d.Name(), opts)
		if kind == "" {
			return nil
		}
		if err := os.Remove(path); err != nil {
			if !os.IsNotExist(err) {
				log.Errorf("Failed to remove %s file %q: %v", kind, path, err)
				res.Failed++
			}
			return nil
		}
		log.Infof("Removed %s file: %s", kind, path)
		switch kind {
		case ".tmp":
			res.Tmp++
		case ".torrent":
			res.Torrents++
		case "-magnet.txt":
			res.Magnets++
		}
		return nil
	})
	return res, err
}

func (r cleanResult) String() string {
	var parts []string
	if r.Tmp > 0 {
		parts = append(parts, fmt.Sprintf("%d .tmp file(s)", r.Tmp))
	}
	if r.Torrents > 0 {
		parts = append(parts, fmt.Sprintf("%d .torrent file(s)", r.Torrents))
	}
	if r.Magnets > 0 {
		parts = append(parts, fmt.Sprintf("%d -magnet.txt file(s)", r.Magnets))
	}
	s := "Clean complete. Removed: "
	if len(parts) > 0 {
		s += strings.Join(parts, ", ")
	} else {
		s += "0 files"
	}
	if r.Failed > 0 {
		s += fmt.Sprintf(". Failed to remove %d file(s).", r.Failed)
	}
	return s
}

func runClean(cmd *cobra.Command, args []string) error {
	var opts cleanOptions
	opts.Torrents, _ = cmd.Flags().GetBool("torrents")
	opts.Magnets, _ = cmd.Flags().GetBool("magnets")
	romDir, _ := cmd.Flags().GetString("rom-dir")

	paths, err := resolveLayout(globalConfig)
	if err != nil {
		return err
	}
	roots := []string{paths.Sdcard}
	if romDir != "" {
		roots = append(roots, romDir)
	}

	var total cleanResult
	for _, root := range roots {
		if err := requireDir(root, "clean target"); err != nil {
			return err
		}
		log.Infof("Scanning for removable files in %s...", root)
		res, err := cleanDir(root, opts)
		if err != nil {
			return fmt.Errorf("error during directory walk of %q: %w", root, err)
		}
		total.Tmp += res.Tmp
		total.Torrents += res.Torrents
		total.Magnets += res.Magnets
		total.Failed += res.Failed
	}
	log.Info(total.String())
	if total.Failed > 0 {
		return fmt.Errorf("failed to remove %d file(s)", total.Failed)
	}
	return nil
}
