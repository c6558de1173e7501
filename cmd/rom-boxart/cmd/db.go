package cmd

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-rom-boxart/internal/database"
	"go-rom-boxart/internal/helpers"
	"go-rom-boxart/internal/models"
)

// dbCmd represents the base command for history database operations
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Interact with the processing history database",
	Long:  `View, verify, search or prune the per-ROM records written by 'process'.`,
}

var dbViewCmd = &cobra.Command{
	Use:   "view",
	Short: "View entries stored in the history database",
	RunE:  runDbView,
}

var dbVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify history entries against the filesystem",
	Long: `Checks that every recorded ROM still exists at its recorded path, optionally
re-hashes it, and checks that recorded box art is still on the SD card.`,
	RunE: runDbVerify,
}

var dbSearchCmd = &cobra.Command{
	Use:   "search QUERY",
	Short: "Search history entries by canonical name or path",
	Args:  cobra.ExactArgs(1),
	RunE:  runDbSearch,
}

var dbDeleteCmd = &cobra.Command{
	Use:   "delete SHA1",
	Short: "Remove the history entry of one ROM",
	Args:  cobra.ExactArgs(1),
	RunE:  runDbDelete,
}

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(dbViewCmd)
	dbCmd.AddCommand(dbVerifyCmd)
	dbCmd.AddCommand(dbSearchCmd)
	dbCmd.AddCommand(dbDeleteCmd)

	dbVerifyCmd.Flags().Bool("check-hash", true, "Perform hash check for existing files")
	dbViewCmd.Flags().String("status", "", "Only show entries with this status (e.g. BoxartMissing)")
}

func openHistory() (*database.DB, error) {
	paths, err := resolveLayout(globalConfig)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(paths.Database); err != nil {
		return nil, fmt.Errorf("no history database at %s (run 'process' first): %w", paths.Database, err)
	}
	return database.Open(paths.Database)
}

// loadHistory returns every entry accepted by keep, ordered by path.
func loadHistory(db *database.DB, keep func(models.HistoryEntry) bool) ([]models.HistoryEntry, error) {
	var entries []models.HistoryEntry
	err := db.FoldHistory(func(e models.HistoryEntry) error {
		if keep == nil || keep(e) {
			entries = append(entries, e)
		}
		return nil
	})
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, err
}

func historyRows(entries []models.HistoryEntry) [][]string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		sha := e.Hashes.SHA1
		if len(sha) > 12 {
			sha = sha[:12]
		}
		renamed := ""
		if e.Renamed {
			renamed = "yes"
		}
		rows = append(rows, []string{e.Platform, e.CanonicalName, e.Path, e.Status, renamed, sha})
	}
	return rows
}

var historyHeaders = []string{"Platform", "Name", "Path", "Status", "Renamed", "SHA1"}

func runDbView(cmd *cobra.Command, args []string) error {
	status, _ := cmd.Flags().GetString("status")
	db, err := openHistory()
	if err != nil {
		return err
	}
	defer db.Close()

	entries, err := loadHistory(db, func(e models.HistoryEntry) bool {
		return status == "" || strings.EqualFold(e.Status, status)
	})
	if err != nil {
		log.WithError(err).Error("Error occurred during database scan (Fold)")
	}
	fmt.Println(renderTable(historyHeaders, historyRows(entries), nil))
	log.Infof("Displayed %d entries.", len(entries))
	return nil
}

type verificationProblem struct {
	Entry  models.HistoryEntry
	Reason string
}

type verifyCounts struct {
	Total, OK, Missing, Mismatch, BoxartMissing int
}

// verifyHistory checks each entry's ROM and box art on disk.
func verifyHistory(entries []models.HistoryEntry, checkHash bool) ([]verificationProblem, verifyCounts) {
	var problems []verificationProblem
	var counts verifyCounts
	for _, e := range entries {
		counts.Total++
		fields := log.Fields{"path": e.Path, "status": e.Status}

		if _, err := os.Stat(e.Path); err != nil {
			counts.Missing++
			problems = append(problems, verificationProblem{Entry: e, Reason: "Missing"})
			log.WithFields(fields).Error("[MISSING] File not found.")
			continue
		}
		if checkHash && !helpers.CheckHash(e.Path, e.Hashes) {
			counts.Mismatch++
			problems = append(problems, verificationProblem{Entry: e, Reason: "Hash Mismatch"})
			log.WithFields(fields).Warn("[MISMATCH] File exists but hash mismatch.")
			continue
		}
		if e.BoxartPath != "" {
			if _, err := os.Stat(e.BoxartPath); err != nil {
				counts.BoxartMissing++
				problems = append(problems, verificationProblem{Entry: e, Reason: "Box Art Missing"})
				log.WithFields(fields).Warnf("[BOXART MISSING] %s", e.BoxartPath)
				continue
			}
		}
		counts.OK++
		log.WithFields(fields).Debug("[OK]")
	}
	return problems, counts
}

func runDbVerify(cmd *cobra.Command, args []string) error {
	checkHash, _ := cmd.Flags().GetBool("check-hash")
	db, err := openHistory()
	if err != nil {
		return err
	}
	defer db.Close()

	entries, err := loadHistory(db, nil)
	if err != nil {
		log.WithError(err).Error("Error occurred during database scan (Fold)")
	}
	problems, counts := verifyHistory(entries, checkHash)
	log.Infof("Verify Summary: Total=%d, OK=%d, Missing=%d, Mismatch=%d, BoxartMissing=%d",
		counts.Total, counts.OK, counts.Missing, counts.Mismatch, counts.BoxartMissing)

	if len(problems) == 0 {
		return nil
	}
	rows := make([][]string, 0, len(problems))
	for _, p := range problems {
		rows = append(rows, []string{p.Entry.Platform, p.Entry.Path, p.Reason})
	}
	fmt.Println(renderTable([]string{"Platform", "Path", "Problem"}, rows, nil))
	return fmt.Errorf("%d entr(ies) failed verification", len(problems))
}

func runDbSearch(cmd *cobra.Command, args []string) error {
	term := strings.ToLower(args[0])
	db, err := openHistory()
	if err != nil {
		return err
	}
	defer db.Close()

	entries, err := loadHistory(db, func(e models.HistoryEntry) bool {
		return strings.Contains(strings.ToLower(e.CanonicalName), term) ||
			strings.Contains(strings.ToLower(e.Path), term)
	})
	if err != nil {
		log.WithError(err).Error("Error occurred during database scan (Fold)")
	}
	fmt.Println(renderTable(historyHeaders, historyRows(entries), nil))
	log.Infof("Found %d matching entries for query '%s'.", len(entries), term)
	return nil
}

func runDbDelete(cmd *cobra.Command, args []string) error {
	db, err := openHistory()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Delete(database.HistoryKey(args[0])); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return fmt.Errorf("no history entry for %s", args[0])
		}
		return err
	}
	log.Infof("Deleted history entry %s", args[0])
	return nil
}
