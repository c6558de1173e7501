package cmd

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-rom-boxart/internal/dat"
	"go-rom-boxart/internal/downloader"
	"go-rom-boxart/internal/helpers"
	"go-rom-boxart/internal/models"
	"go-rom-boxart/internal/platform"
)

var datCmd = &cobra.Command{
	Use:   "dat",
	Short: "Manage the No-Intro DAT files stored on the SD card",
}

var datFetchCmd = &cobra.Command{
	Use:   "fetch [PLATFORM...]",
	Short: "Download DATs that are not present yet (default: every platform)",
	RunE:  runDatFetch,
}

var datStatsCmd = &cobra.Command{
	Use:   "stats [PLATFORM...]",
	Short: "Show how many checksums each downloaded DAT holds",
	RunE:  runDatStats,
}

var datLookupCmd = &cobra.Command{
	Use:   "lookup SHA1|FILE",
	Short: "Find the canonical name of a checksum or ROM file in the downloaded DATs",
	Args:  cobra.ExactArgs(1),
	RunE:  runDatLookup,
}

func init() {
	rootCmd.AddCommand(datCmd)
	datCmd.AddCommand(datFetchCmd)
	datCmd.AddCommand(datStatsCmd)
	datCmd.AddCommand(datLookupCmd)
}

// platformArgs validates the requested keys, defaulting to every platform.
func platformArgs(args []string) ([]string, error) {
	if len(args) == 0 {
		return platform.Keys(), nil
	}
	keys := make([]string, 0, len(args))
	for _, a := range args {
		k := strings.ToLower(a)
		if _, ok := platform.Lookup(k); !ok {
			return nil, fmt.Errorf("%w: %s", dat.ErrNoMapping, a)
		}
		keys = append(keys, k)
	}
	return keys, nil
}

func newProvider(cfg models.Config) (*dat.Provider, error) {
	paths, err := resolveLayout(cfg)
	if err != nil {
		return nil, err
	}
	return dat.NewProvider(paths.DatDir, cfg.DatBaseURL, downloader.NewDownloader(newHttpClient())), nil
}

func runDatFetch(cmd *cobra.Command, args []string) error {
	keys, err := platformArgs(args)
	if err != nil {
		return err
	}
	provider, err := newProvider(globalConfig)
	if err != nil {
		return err
	}
	progress := newDatProgress(os.Stdout)
	defer progress.Stop()
	provider.Progress = progress.For

	failed := fetchDats(cmd.Context(), provider, keys)
	if failed > 0 {
		return fmt.Errorf("%d DAT(s) could not be downloaded", failed)
	}
	return nil
}

// fetchDats ensures every key's DAT and returns how many failed.
func fetchDats(ctx context.Context, provider *dat.Provider, keys []string) int {
	if ctx == nil {
		ctx = context.Background()
	}
	failed := 0
	for _, key := range keys {
		path, err := provider.Ensure(ctx, key)
		if err != nil {
			log.WithError(err).Errorf("Skipping %s: No DAT", key)
			failed++
			continue
		}
		log.WithField("platform", key).Infof("DAT ready: %s", path)
	}
	return failed
}

type datStat struct {
	Platform   string
	DatName    string
	Present    bool
	Entries    int
	Duplicates int
}

// collectDatStats parses the DATs already on disk. Missing DATs are
// reported, never downloaded.
func collectDatStats(provider *dat.Provider, parser dat.Parser, keys []string) []datStat {
	stats := make([]datStat, 0, len(keys))
	for _, key := range keys {
		p, _ := platform.Lookup(key)
		st := datStat{Platform: key, DatName: p.DatName}
		path, err := provider.LocalPath(key)
		if err == nil {
			if _, statErr := os.Stat(path); statErr == nil {
				idx := dat.LoadFile(path, parser)
				st.Present = true
				st.Entries = idx.Len()
				st.Duplicates = idx.Overwrites()
			}
		}
		stats = append(stats, st)
	}
	return stats
}

func runDatStats(cmd *cobra.Command, args []string) error {
	keys, err := platformArgs(args)
	if err != nil {
		return err
	}
	provider, err := newProvider(globalConfig)
	if err != nil {
		return err
	}
	parser, err := dat.NewParser(globalConfig.DatParser)
	if err != nil {
		return err
	}

	rows := [][]string{}
	for _, st := range collectDatStats(provider, parser, keys) {
		entries, dups := "-", "-"
		if st.Present {
			entries, dups = strconv.Itoa(st.Entries), strconv.Itoa(st.Duplicates)
		}
		rows = append(rows, []string{st.Platform, st.DatName, entries, dups})
	}
	fmt.Println(renderTable(
		[]string{"Platform", "DAT", "Checksums", "Duplicates"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight},
	))
	return nil
}

type datMatch struct {
	Platform string
	Name     string
}

// lookupChecksum searches every downloaded DAT for sha1.
func lookupChecksum(provider *dat.Provider, parser dat.Parser, sha1 string) []datMatch {
	var matches []datMatch
	for _, key := range platform.Keys() {
		path, err := provider.LocalPath(key)
		if err != nil {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if name, ok := dat.LoadFile(path, parser).Lookup(sha1); ok {
			matches = append(matches, datMatch{Platform: key, Name: name})
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Platform < matches[j].Platform })
	return matches
}

// resolveChecksum returns arg when it is a SHA-1 hex digest, otherwise the
// SHA-1 of the file at arg.
func resolveChecksum(arg string) (string, error) {
	if len(arg) == 40 {
		if _, err := hex.DecodeString(arg); err == nil {
			return strings.ToLower(arg), nil
		}
	}
	sum, err := helpers.SHA1File(arg)
	if err != nil {
		return "", fmt.Errorf("%q is neither a SHA-1 checksum nor a readable file: %w", arg, err)
	}
	log.Debugf("SHA-1 of %s is %s", arg, sum)
	return sum, nil
}

func runDatLookup(cmd *cobra.Command, args []string) error {
	provider, err := newProvider(globalConfig)
	if err != nil {
		return err
	}
	parser, err := dat.NewParser(globalConfig.DatParser)
	if err != nil {
		return err
	}
	sha1, err := resolveChecksum(args[0])
	if err != nil {
		return err
	}
	matches := lookupChecksum(provider, parser, sha1)
	if len(matches) == 0 {
		fmt.Println("No downloaded DAT contains that checksum.")
		return errors.New("checksum not found")
	}
	rows := make([][]string, 0, len(matches))
	for _, m := range matches {
		rows = append(rows, []string{m.Platform, m.Name})
	}
	fmt.Println(renderTable([]string{"Platform", "Name"}, rows, nil))
	return nil
}
