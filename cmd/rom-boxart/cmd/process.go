package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go-rom-boxart/index"
	"go-rom-boxart/internal/boxart"
	"go-rom-boxart/internal/config"
	"go-rom-boxart/internal/dat"
	"go-rom-boxart/internal/database"
	"go-rom-boxart/internal/downloader"
	"go-rom-boxart/internal/errlog"
	"go-rom-boxart/internal/helpers"
	"go-rom-boxart/internal/models"
	"go-rom-boxart/internal/pipeline"
	"go-rom-boxart/internal/scanner"
)

var errLocked = errors.New("another rom-boxart run holds the SD card lock")

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Identify ROMs and store their box art on the SD card",
	Long: `Scans --rom-dir for ROMs, hashes each one, looks it up in the platform's
No-Intro DAT (downloaded to <sdcard>/no-intro on first use) and stores a
128x115 thumbnail under <sdcard>/_nds/TWiLightMenu/boxart.

With --rename matched ROMs are renamed to their canonical DAT name. With
--errors ROMs whose box art could not be found are listed in errors.txt.`,
	RunE: runProcess,
}

func init() {
	rootCmd.AddCommand(processCmd)

	processCmd.Flags().String("rom-dir", "", "Directory to scan for ROMs (overrides config)")
	processCmd.Flags().Bool("rename", false, "Rename matched ROMs to their canonical DAT name")
	processCmd.Flags().Bool("errors", false, "Write ROMs without box art to the error log")
	processCmd.Flags().String("error-log", "", "Error log path (default errors.txt)")
	processCmd.Flags().Bool("no-history", false, "Do not record processed ROMs in the history database")
	processCmd.Flags().Bool("no-index", false, "Do not add identified ROMs to the search index")

	viper.BindPFlag("process.rom_dir", processCmd.Flags().Lookup("rom-dir"))
	viper.BindPFlag("process.rename", processCmd.Flags().Lookup("rename"))
	viper.BindPFlag("process.errors", processCmd.Flags().Lookup("errors"))
	viper.BindPFlag("process.error_log", processCmd.Flags().Lookup("error-log"))
	viper.BindPFlag("process.no_history", processCmd.Flags().Lookup("no-history"))
	viper.BindPFlag("process.no_index", processCmd.Flags().Lookup("no-index"))
}

type processOptions struct {
	RomDir       string
	Rename       bool
	Errors       bool
	ErrorLogPath string
	History      bool
	Index        bool
}

// resolveProcessOptions starts from the config file and lets explicitly set
// flags win.
func resolveProcessOptions(cmd *cobra.Command, cfg models.Config) processOptions {
	opts := processOptions{
		RomDir:       cfg.RomPath,
		Rename:       cfg.Rename,
		Errors:       cfg.ErrorLog,
		ErrorLogPath: cfg.ErrorLogPath,
		History:      true,
		Index:        true,
	}
	flags := cmd.Flags()
	if flags.Changed("rom-dir") {
		opts.RomDir = viper.GetString("process.rom_dir")
	}
	if flags.Changed("rename") {
		opts.Rename = viper.GetBool("process.rename")
	}
	if flags.Changed("errors") {
		opts.Errors = viper.GetBool("process.errors")
	}
	if flags.Changed("error-log") {
		opts.ErrorLogPath = viper.GetString("process.error_log")
	}
	if flags.Changed("no-history") {
		opts.History = !viper.GetBool("process.no_history")
	}
	if flags.Changed("no-index") {
		opts.Index = !viper.GetBool("process.no_index")
	}
	return opts
}

func runProcess(cmd *cobra.Command, args []string) error {
	opts := resolveProcessOptions(cmd, globalConfig)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sum, err := executeProcess(ctx, globalConfig, opts)
	fmt.Println(renderSummary(sum))
	if errors.Is(err, context.Canceled) {
		log.Warn("Interrupted, stopping after the current ROM.")
	}
	return err
}

// executeProcess runs the whole identify/rename/box-art pass.
func executeProcess(ctx context.Context, cfg models.Config, opts processOptions) (pipeline.Summary, error) {
	var sum pipeline.Summary

	if opts.RomDir == "" {
		return sum, errors.New("ROM directory is not configured (--rom-dir or RomPath)")
	}
	if err := requireDir(opts.RomDir, "ROM directory"); err != nil {
		return sum, err
	}
	paths, err := resolveLayout(cfg)
	if err != nil {
		return sum, err
	}
	if !helpers.CheckAndMakeDir(paths.Sdcard) {
		return sum, fmt.Errorf("cannot create SD card directory %s", paths.Sdcard)
	}

	lock := flock.New(paths.Lock)
	locked, err := lock.TryLock()
	if err != nil {
		return sum, fmt.Errorf("acquire lock %s: %w", paths.Lock, err)
	}
	if !locked {
		return sum, fmt.Errorf("%w: %s", errLocked, paths.Lock)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			log.WithError(err).Warn("Failed to release SD card lock")
		}
	}()

	roms, err := scanner.FindRoms(opts.RomDir)
	if err != nil {
		return sum, err
	}
	log.Infof("Found %d ROM(s) in %s", len(roms), opts.RomDir)

	parser, err := dat.NewParser(cfg.DatParser)
	if err != nil {
		return sum, err
	}

	client := newHttpClient()
	progress := newDatProgress(os.Stdout)
	defer progress.Stop()

	provider := dat.NewProvider(paths.DatDir, cfg.DatBaseURL, downloader.NewDownloader(client))
	provider.Progress = progress.For
	fetcher := boxart.NewFetcher(client, cfg.ThumbnailBaseURL, paths.Boxart, cfg.MinThumbnailBytes)

	catalog := dat.NewCatalog(provider, parser)
	runner := pipeline.NewRunner(catalog, fetcher)
	runner.Rename = opts.Rename
	runner.RunID = uuid.NewString()
	log.WithField("runID", runner.RunID).Debug("Starting run")

	if opts.Errors {
		if opts.ErrorLogPath == "" {
			opts.ErrorLogPath = config.DefaultErrorLogPath
		}
		elog, err := errlog.Open(opts.ErrorLogPath)
		if err != nil {
			return sum, err
		}
		defer func() {
			if err := elog.Close(); err != nil {
				log.WithError(err).Error("Error closing error log")
			}
		}()
		runner.ErrorLog = elog
		log.Infof("Recording ROMs without box art in %s", elog.Path())
	}

	if opts.History {
		if db := openHistoryForRun(paths.Database); db != nil {
			defer db.Close()
			runner.History = db
		}
	}
	if opts.Index {
		if helpers.CheckAndMakeDir(filepath.Dir(paths.Index)) {
			idx, err := index.OpenOrCreateIndex(paths.Index)
			if err != nil {
				log.WithError(err).Warnf("Search index unavailable at %s, continuing without it", paths.Index)
			} else {
				defer idx.Close()
				runner.Index = index.NewWriter(idx)
			}
		}
	}

	sum, err = runner.Run(ctx, roms)
	log.WithField("platforms", catalog.Loaded()).Debug("DAT indexes used by this run")
	return sum, err
}

// openHistoryForRun opens the history database. A database that cannot be
// opened only disables history for this run.
func openHistoryForRun(path string) *database.DB {
	db, err := database.Open(path)
	if err != nil {
		log.WithError(err).Warnf("History database unavailable at %s, continuing without it", path)
		return nil
	}
	return db
}

func renderSummary(sum pipeline.Summary) string {
	rows := [][]string{
		{"Scanned", strconv.Itoa(sum.Scanned)},
		{"Matched", strconv.Itoa(sum.Matched)},
		{"No match in DAT", strconv.Itoa(sum.Unmatched)},
		{"No DAT", strconv.Itoa(sum.NoDat)},
		{"Renamed", strconv.Itoa(sum.Renamed)},
		{"Box art saved", strconv.Itoa(sum.BoxartSaved)},
		{"Box art already present", strconv.Itoa(sum.BoxartSkipped)},
		{"Box art missing", strconv.Itoa(sum.BoxartMissing)},
		{"Failed", strconv.Itoa(sum.Failed)},
	}
	return renderTable([]string{"Result", "ROMs"}, rows, []columnAlignment{alignLeft, alignRight})
}
