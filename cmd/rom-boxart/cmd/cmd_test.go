package cmd

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/anacrolix/torrent/metainfo"
	"github.com/blevesearch/bleve/v2"
	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-rom-boxart/internal/config"
	"go-rom-boxart/internal/dat"
	"go-rom-boxart/internal/database"
	"go-rom-boxart/internal/models"
	"go-rom-boxart/internal/pipeline"
)

const (
	romPayload = "GBA test rom payload"
	romSHA1    = "482b707105c534317cd160d2683388f115c3bf7b"
	gbaDat     = `clrmamepro ( name "Nintendo - Game Boy Advance" )

game (
	name "Test Game (USA)"
	rom ( name "Test Game (USA).gba" size 20 crc 00000000 sha1 482b707105c534317cd160d2683388f115c3bf7b )
)
`
	thumbPath = "/thumbs/Nintendo_-_Game_Boy_Advance/raw/master/Named_Boxarts/Test Game (USA).png"
)

func resetFlags(t *testing.T, c *cobra.Command) {
	t.Cleanup(func() {
		c.Flags().VisitAll(func(f *pflag.Flag) {
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		})
	})
}

func TestResolveLayout(t *testing.T) {
	_, err := resolveLayout(config.ApplyDefaults(models.Config{}))
	assert.True(t, errors.Is(err, errNoSdcard))

	l, err := resolveLayout(config.ApplyDefaults(models.Config{SdcardPath: "/sd"}))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/sd", "no-intro"), l.DatDir)
	assert.Equal(t, filepath.Join("/sd", "_nds", "TWiLightMenu", "boxart"), l.Boxart)
	assert.Equal(t, filepath.Join("/sd", ".rom-boxart", "history_db"), l.Database)
	assert.Equal(t, filepath.Join("/sd", lockFileName), l.Lock)

	l, err = resolveLayout(config.ApplyDefaults(models.Config{SdcardPath: "/sd", DatSubdir: "/dats", DatabasePath: "/db"}))
	require.NoError(t, err)
	assert.Equal(t, "/dats", l.DatDir)
	assert.Equal(t, "/db", l.Database)
}

func TestResolveProcessOptions(t *testing.T) {
	resetFlags(t, processCmd)
	cfg := config.ApplyDefaults(models.Config{RomPath: "/cfg/roms", ErrorLog: true})

	opts := resolveProcessOptions(processCmd, cfg)
	assert.Equal(t, "/cfg/roms", opts.RomDir)
	assert.False(t, opts.Rename)
	assert.True(t, opts.Errors)
	assert.Equal(t, config.DefaultErrorLogPath, opts.ErrorLogPath)
	assert.True(t, opts.History)

	require.NoError(t, processCmd.Flags().Set("rom-dir", "/flag/roms"))
	require.NoError(t, processCmd.Flags().Set("rename", "true"))
	require.NoError(t, processCmd.Flags().Set("errors", "false"))
	require.NoError(t, processCmd.Flags().Set("no-index", "true"))

	opts = resolveProcessOptions(processCmd, cfg)
	assert.Equal(t, "/flag/roms", opts.RomDir)
	assert.True(t, opts.Rename)
	assert.False(t, opts.Errors)
	assert.False(t, opts.Index)
	assert.True(t, opts.History)
}

type boxartServer struct {
	*httptest.Server
	datRequests atomic.Int32
}

func newBoxartServer(t *testing.T) *boxartServer {
	t.Helper()
	var img bytes.Buffer
	require.NoError(t, png.Encode(&img, image.NewRGBA(image.Rect(0, 0, 200, 180))))

	s := &boxartServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/dat/Nintendo - Game Boy Advance.dat":
			s.datRequests.Add(1)
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte(gbaDat))
		case thumbPath:
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(img.Bytes())
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func TestExecuteProcess(t *testing.T) {
	srv := newBoxartServer(t)
	romDir := t.TempDir()
	sdcard := t.TempDir()
	errorsPath := filepath.Join(t.TempDir(), "errors.txt")

	require.NoError(t, os.WriteFile(filepath.Join(romDir, "tg.gba"), []byte(romPayload), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(romDir, "unknown.gba"), []byte("not in any dat"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(romDir, "readme.txt"), []byte("ignored"), 0644))

	cfg := config.ApplyDefaults(models.Config{
		SdcardPath:       sdcard,
		DatBaseURL:       srv.URL + "/dat",
		ThumbnailBaseURL: srv.URL + "/thumbs",
	})
	opts := processOptions{RomDir: romDir, Rename: true, Errors: true, ErrorLogPath: errorsPath, History: true, Index: true}

	sum, err := executeProcess(context.Background(), cfg, opts)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Scanned)
	assert.Equal(t, 1, sum.Matched)
	assert.Equal(t, 1, sum.Unmatched)
	assert.Equal(t, 1, sum.Renamed)
	assert.Equal(t, 1, sum.BoxartSaved)
	assert.Equal(t, int32(1), srv.datRequests.Load())

	assert.FileExists(t, filepath.Join(romDir, "Test Game (USA).gba"))
	assert.NoFileExists(t, filepath.Join(romDir, "tg.gba"))
	assert.FileExists(t, filepath.Join(sdcard, "no-intro", "Nintendo - Game Boy Advance.dat"))
	assert.FileExists(t, filepath.Join(sdcard, "_nds", "TWiLightMenu", "boxart", "Test Game (USA).gba.png"))

	logged, err := os.ReadFile(errorsPath)
	require.NoError(t, err)
	assert.Empty(t, logged)

	paths, err := resolveLayout(cfg)
	require.NoError(t, err)
	db, err := database.Open(paths.Database)
	require.NoError(t, err)
	entry, err := db.GetHistory(romSHA1)
	require.NoError(t, err)
	assert.Equal(t, models.StatusBoxartSaved, entry.Status)
	assert.NotEmpty(t, entry.RunID)
	require.NoError(t, db.Close())

	idx, err := bleve.Open(paths.Index)
	require.NoError(t, err)
	count, err := idx.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
	require.NoError(t, idx.Close())

	// A second run reuses the downloaded DAT.
	sum, err = executeProcess(context.Background(), cfg, opts)
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Renamed)
	assert.Equal(t, int32(1), srv.datRequests.Load())
}

func TestExecuteProcessRefusesWhenLocked(t *testing.T) {
	sdcard := t.TempDir()
	cfg := config.ApplyDefaults(models.Config{SdcardPath: sdcard})
	paths, err := resolveLayout(cfg)
	require.NoError(t, err)

	held := flock.New(paths.Lock)
	ok, err := held.TryLock()
	require.NoError(t, err)
	require.True(t, ok)
	defer held.Unlock()

	_, err = executeProcess(context.Background(), cfg, processOptions{RomDir: t.TempDir()})
	assert.True(t, errors.Is(err, errLocked))
}

func TestExecuteProcessRequiresRomDir(t *testing.T) {
	cfg := config.ApplyDefaults(models.Config{SdcardPath: t.TempDir()})
	_, err := executeProcess(context.Background(), cfg, processOptions{})
	assert.Error(t, err)
	_, err = executeProcess(context.Background(), cfg, processOptions{RomDir: filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)
}

func TestDatStatsAndLookup(t *testing.T) {
	datDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(datDir, "Nintendo - Game Boy Advance.dat"), []byte(gbaDat), 0644))
	provider := dat.NewProvider(datDir, "http://unused.invalid", nil)

	stats := collectDatStats(provider, dat.ClrMameParser{}, []string{"gba", "nes"})
	require.Len(t, stats, 2)
	assert.True(t, stats[0].Present)
	assert.Equal(t, 1, stats[0].Entries)
	assert.False(t, stats[1].Present)

	matches := lookupChecksum(provider, dat.ClrMameParser{}, strings.ToUpper(romSHA1))
	require.Len(t, matches, 1)
	assert.Equal(t, datMatch{Platform: "gba", Name: "Test Game (USA)"}, matches[0])

	_, err := platformArgs([]string{"GBA", "bogus"})
	assert.True(t, errors.Is(err, dat.ErrNoMapping))
}

func TestResolveChecksum(t *testing.T) {
	got, err := resolveChecksum(strings.ToUpper(romSHA1))
	require.NoError(t, err)
	assert.Equal(t, romSHA1, got)

	rom := filepath.Join(t.TempDir(), "tg.gba")
	require.NoError(t, os.WriteFile(rom, []byte(romPayload), 0644))
	got, err = resolveChecksum(rom)
	require.NoError(t, err)
	assert.Equal(t, romSHA1, got)

	_, err = resolveChecksum(filepath.Join(t.TempDir(), "missing.gba"))
	assert.Error(t, err)
}

func TestVerifyHistory(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.gba")
	changed := filepath.Join(dir, "changed.gba")
	boxart := filepath.Join(dir, "good.gba.png")
	require.NoError(t, os.WriteFile(good, []byte(romPayload), 0644))
	require.NoError(t, os.WriteFile(changed, []byte("edited"), 0644))
	require.NoError(t, os.WriteFile(boxart, []byte("png"), 0644))

	entries := []models.HistoryEntry{
		{Path: good, Hashes: models.Hashes{SHA1: romSHA1}, BoxartPath: boxart},
		{Path: changed, Hashes: models.Hashes{SHA1: romSHA1}},
		{Path: filepath.Join(dir, "gone.gba"), Hashes: models.Hashes{SHA1: romSHA1}},
		{Path: good, Hashes: models.Hashes{SHA1: romSHA1}, BoxartPath: filepath.Join(dir, "nope.png")},
	}
	problems, counts := verifyHistory(entries, true)
	assert.Equal(t, verifyCounts{Total: 4, OK: 1, Missing: 1, Mismatch: 1, BoxartMissing: 1}, counts)
	require.Len(t, problems, 3)
	assert.Equal(t, "Hash Mismatch", problems[0].Reason)

	_, counts = verifyHistory(entries[1:2], false)
	assert.Equal(t, 1, counts.OK)
}

func TestCleanDir(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "_nds", "TWiLightMenu", "boxart")
	require.NoError(t, os.MkdirAll(nested, 0755))
	files := map[string]string{
		filepath.Join(nested, "a.gba.png.123.tmp"): "",
		filepath.Join(root, "x.DAT.TMP"):           "",
		filepath.Join(root, "roms.torrent"):        "",
		filepath.Join(root, "roms-magnet.txt"):     "",
		filepath.Join(nested, "keep.gba.png"):      "",
	}
	for p := range files {
		require.NoError(t, os.WriteFile(p, nil, 0644))
	}

	res, err := cleanDir(root, cleanOptions{Torrents: true})
	require.NoError(t, err)
	assert.Equal(t, cleanResult{Tmp: 2, Torrents: 1}, res)
	assert.FileExists(t, filepath.Join(root, "roms-magnet.txt"))
	assert.FileExists(t, filepath.Join(nested, "keep.gba.png"))
	assert.Contains(t, res.String(), "2 .tmp file(s)")
}

func TestTorrentJobs(t *testing.T) {
	entries := []models.HistoryEntry{
		{Platform: "gba", Path: "/roms/gba/a.gba", CanonicalName: "A"},
		{Platform: "gba", Path: "/roms/gba/b.gba", CanonicalName: "B"},
		{Platform: "nes", Path: "/roms/nes/c.nes", CanonicalName: "C"},
		{Platform: "nes", Path: "/roms/nes/d.nes"},
	}
	jobs := torrentJobs(entries, nil)
	require.Len(t, jobs, 2)
	assert.Equal(t, "/roms/gba", filepath.ToSlash(jobs[0].SourcePath))
	assert.Equal(t, []string{"gba"}, jobs[0].Platforms)

	jobs = torrentJobs(entries, []string{"NES"})
	require.Len(t, jobs, 1)
	assert.Equal(t, "/roms/nes", filepath.ToSlash(jobs[0].SourcePath))
}

func TestGenerateTorrentFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "gba")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Test Game (USA).gba"), []byte(romPayload), 0644))

	opts := torrentOptions{Trackers: []string{"udp://tracker.example:80/announce"}, Magnet: true}
	out, err := generateTorrentFile(dir, opts)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "gba.torrent"), out)

	mi, err := metainfo.LoadFromFile(out)
	require.NoError(t, err)
	assert.Equal(t, "udp://tracker.example:80/announce", mi.Announce)
	info, err := mi.UnmarshalInfo()
	require.NoError(t, err)
	require.Len(t, info.Files, 1)
	assert.Equal(t, []string{"Test Game (USA).gba"}, info.Files[0].Path)

	magnet, err := os.ReadFile(filepath.Join(dir, "gba-magnet.txt"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(magnet), "magnet:?xt=urn:btih:"+mi.HashInfoBytes().HexString()))

	// Regenerating with overwrite must not pick up the earlier .torrent.
	opts.Overwrite = true
	_, err = generateTorrentFile(dir, opts)
	require.NoError(t, err)
	mi, err = metainfo.LoadFromFile(out)
	require.NoError(t, err)
	info, err = mi.UnmarshalInfo()
	require.NoError(t, err)
	assert.Len(t, info.Files, 1)
}

func TestRenderSummary(t *testing.T) {
	out := renderSummary(pipeline.Summary{Scanned: 3, Matched: 2, BoxartSaved: 2})
	assert.Contains(t, out, "Box art saved")
	assert.Contains(t, out, "Result")
	assert.NotContains(t, out, "RESULT")
}

func TestRenderTablePadsRows(t *testing.T) {
	out := renderTable([]string{"Platform", "Name", "Entries"},
		[][]string{{"gba", "Nintendo - Game Boy Advance"}, {"gb", "Nintendo - Game Boy", "12", "extra"}},
		[]columnAlignment{alignLeft, alignLeft, alignRight})
	assert.Contains(t, out, "Platform")
	assert.Contains(t, out, "Nintendo - Game Boy Advance")
	assert.NotContains(t, out, "extra")
	assert.Empty(t, renderTable(nil, nil, nil))
}
