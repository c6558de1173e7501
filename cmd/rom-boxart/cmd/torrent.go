package cmd

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-rom-boxart/internal/models"
)

const torrentPieceLength = 512 * 1024

type torrentJob struct {
	SourcePath string
	Platforms  []string
}

type torrentOptions struct {
	Trackers  []string
	OutputDir string
	Overwrite bool
	Magnet    bool
}

var (
	torrentPlatforms    []string
	announceURLs        []string
	torrentOutputDir    string
	overwriteTorrents   bool
	generateMagnetLinks bool
)

var torrentCmd = &cobra.Command{
	Use:   "torrent",
	Short: "Generate .torrent files for the ROM folders recorded in history",
	Long: `Generates one BitTorrent metainfo (.torrent) file per directory that holds
ROMs identified by 'process'. You must specify tracker announce URLs.`,
	RunE: runTorrent,
}

func init() {
	rootCmd.AddCommand(torrentCmd)

	torrentCmd.Flags().StringSliceVar(&announceURLs, "announce", []string{}, "Tracker announce URL (repeatable)")
	torrentCmd.Flags().StringSliceVar(&torrentPlatforms, "platform", []string{}, "Only folders holding ROMs of these platforms (default: all)")
	torrentCmd.Flags().StringVarP(&torrentOutputDir, "output-dir", "o", "", "Directory to save generated .torrent files (default: inside each ROM folder)")
	torrentCmd.Flags().BoolVarP(&overwriteTorrents, "overwrite", "f", false, "Overwrite existing .torrent files")
	torrentCmd.Flags().BoolVar(&generateMagnetLinks, "magnet-links", false, "Generate a .txt file containing the magnet link alongside each .torrent file")
	torrentCmd.Flags().IntP("concurrency", "c", 4, "Number of concurrent torrent generation workers")
}

// torrentJobs groups matched history entries by ROM directory.
func torrentJobs(entries []models.HistoryEntry, platforms []string) []torrentJob {
	want := make(map[string]bool, len(platforms))
	for _, p := range platforms {
		want[strings.ToLower(p)] = true
	}
	byDir := make(map[string]map[string]bool)
	for _, e := range entries {
		if e.CanonicalName == "" || e.Path == "" {
			continue
		}
		if len(want) > 0 && !want[e.Platform] {
			continue
		}
		dir := filepath.Dir(e.Path)
		if byDir[dir] == nil {
			byDir[dir] = make(map[string]bool)
		}
		byDir[dir][e.Platform] = true
	}

	jobs := make([]torrentJob, 0, len(byDir))
	for dir, plats := range byDir {
		job := torrentJob{SourcePath: dir}
		for p := range plats {
			job.Platforms = append(job.Platforms, p)
		}
		sort.Strings(job.Platforms)
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].SourcePath < jobs[j].SourcePath })
	return jobs
}

func torrentWorker(id int, jobs <-chan torrentJob, opts torrentOptions, wg *sync.WaitGroup, ok, failed *atomic.Int64) {
	defer wg.Done()
	for job := range jobs {
		entry := log.WithFields(log.Fields{"directory": job.SourcePath, "platforms": job.Platforms})
		if _, err := generateTorrentFile(job.SourcePath, opts); err != nil {
			entry.WithError(err).Errorf("Worker %d: Failed to generate torrent", id)
			failed.Add(1)
			continue
		}
		ok.Add(1)
	}
}

func runTorrent(cmd *cobra.Command, args []string) error {
	if len(announceURLs) == 0 {
		return errors.New("at least one --announce URL is required")
	}
	concurrency, _ := cmd.Flags().GetInt("concurrency")
	if concurrency <= 0 {
		log.Warnf("Invalid concurrency value %d, defaulting to 4", concurrency)
		concurrency = 4
	}

	db, err := openHistory()
	if err != nil {
		return err
	}
	entries, err := loadHistory(db, nil)
	db.Close()
	if err != nil {
		return fmt.Errorf("error scanning database: %w", err)
	}

	jobs := torrentJobs(entries, torrentPlatforms)
	if len(jobs) == 0 {
		log.Info("No identified ROM folders found in the history database.")
		return nil
	}
	opts := torrentOptions{
		Trackers:  announceURLs,
		OutputDir: torrentOutputDir,
		Overwrite: overwriteTorrents,
		Magnet:    generateMagnetLinks,
	}
	log.Infof("Generating torrents for %d ROM folder(s) using %d workers...", len(jobs), concurrency)

	queue := make(chan torrentJob, concurrency)
	var wg sync.WaitGroup
	var okCount, failCount atomic.Int64
	for i := 1; i <= concurrency; i++ {
		wg.Add(1)
		go torrentWorker(i, queue, opts, &wg, &okCount, &failCount)
	}
	for _, j := range jobs {
		queue <- j
	}
	close(queue)
	wg.Wait()

	log.Infof("Torrent generation complete. Success: %d, Failed: %d", okCount.Load(), failCount.Load())
	if n := failCount.Load(); n > 0 {
		return fmt.Errorf("%d torrents failed to generate", n)
	}
	return nil
}

func torrentOutputPath(sourcePath, outputDir string) (string, error) {
	name := filepath.Base(sourcePath) + ".torrent"
	if outputDir == "" {
		return filepath.Join(sourcePath, name), nil
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", fmt.Errorf("error creating output directory %s: %w", outputDir, err)
	}
	return filepath.Join(outputDir, name), nil
}

// generateTorrentFile writes a .torrent for the directory sourcePath and
// returns its path. An existing file is kept unless opts.Overwrite is set.
func generateTorrentFile(sourcePath string, opts torrentOptions) (string, error) {
	stat, err := os.Stat(sourcePath)
	if err != nil {
		return "", fmt.Errorf("error stating source path %s: %w", sourcePath, err)
	}
	if !stat.IsDir() {
		return "", fmt.Errorf("source path is not a directory: %s", sourcePath)
	}

	outPath, err := torrentOutputPath(sourcePath, opts.OutputDir)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(outPath); err == nil {
		if !opts.Overwrite {
			log.WithField("path", outPath).Info("Skipping existing torrent file (use --overwrite to replace)")
			return outPath, nil
		}
		log.WithField("path", outPath).Warn("Overwriting existing torrent file")
	}

	mi := metainfo.MetaInfo{AnnounceList: make([][]string, len(opts.Trackers))}
	for i, tracker := range opts.Trackers {
		mi.AnnounceList[i] = []string{tracker}
	}
	if len(opts.Trackers) > 0 {
		mi.Announce = opts.Trackers[0]
	}
	mi.CreatedBy = "rom-boxart"

	info := metainfo.Info{PieceLength: torrentPieceLength}
	if err := info.BuildFromFilePath(sourcePath); err != nil {
		return "", fmt.Errorf("error building torrent info from path %s: %w", sourcePath, err)
	}
	// The torrent must not include itself when written inside the folder.
	info.Files = excludeTorrentArtifacts(info.Files)
	if err := rehashPieces(&info, sourcePath); err != nil {
		return "", err
	}
	if mi.InfoBytes, err = bencode.Marshal(info); err != nil {
		return "", fmt.Errorf("error marshaling torrent info: %w", err)
	}

	f, err := os.Create(outPath)
	if err != nil {
		return "", fmt.Errorf("error creating torrent file %s: %w", outPath, err)
	}
	defer f.Close()
	if err := mi.Write(f); err != nil {
		return "", fmt.Errorf("error writing torrent file %s: %w", outPath, err)
	}
	log.WithField("path", outPath).Info("Successfully generated torrent file")

	if opts.Magnet {
		magnetPath := strings.TrimSuffix(outPath, ".torrent") + "-magnet.txt"
		uri := magnetURI(mi.HashInfoBytes().HexString(), stat.Name(), opts.Trackers)
		if err := os.WriteFile(magnetPath, []byte(uri), 0644); err != nil {
			log.WithError(err).WithField("path", magnetPath).Error("Failed to write magnet link file")
		}
	}
	return outPath, nil
}

func isTorrentArtifact(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".torrent") || strings.HasSuffix(lower, "-magnet.txt") || strings.HasSuffix(lower, ".tmp")
}

func excludeTorrentArtifacts(files []metainfo.FileInfo) []metainfo.FileInfo {
	kept := files[:0]
	for _, fi := range files {
		if len(fi.Path) > 0 && isTorrentArtifact(fi.Path[len(fi.Path)-1]) {
			continue
		}
		kept = append(kept, fi)
	}
	return kept
}

// rehashPieces recomputes piece hashes over info.Files after filtering.
func rehashPieces(info *metainfo.Info, root string) error {
	err := info.GeneratePieces(func(fi metainfo.FileInfo) (io.ReadCloser, error) {
		return os.Open(filepath.Join(append([]string{root}, fi.Path...)...))
	})
	if err != nil {
		return fmt.Errorf("error hashing pieces of %s: %w", root, err)
	}
	return nil
}

func magnetURI(infoHash, displayName string, trackers []string) string {
	parts := []string{
		"magnet:?xt=urn:btih:" + infoHash,
		"dn=" + url.QueryEscape(displayName),
	}
	for _, tr := range trackers {
		parts = append(parts, "tr="+url.QueryEscape(tr))
	}
	return strings.Join(parts, "&")
}
