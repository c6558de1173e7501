package main

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	binaryName = "rom-boxart"
	binaryPath string
)

// TestMain builds the binary once for every test in the package.
func TestMain(m *testing.M) {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		fmt.Println("Could not get caller information")
		os.Exit(1)
	}
	if runtime.GOOS == "windows" {
		binaryName += ".exe"
	}
	buildDir, err := os.MkdirTemp("", "rom-boxart-it")
	if err != nil {
		fmt.Printf("Failed to create build directory: %v\n", err)
		os.Exit(1)
	}
	binaryPath = filepath.Join(buildDir, binaryName)

	buildCmd := exec.Command("go", "build", "-o", binaryPath, ".")
	buildCmd.Dir = filepath.Dir(filename)
	if out, err := buildCmd.CombinedOutput(); err != nil {
		fmt.Printf("Failed to build binary: %v\nOutput:\n%s\n", err, out)
		os.Exit(1)
	}

	code := m.Run()
	os.RemoveAll(buildDir)
	os.Exit(code)
}

// runCommand executes the binary in dir and returns stdout, stderr and the error.
func runCommand(t *testing.T, dir string, args ...string) (string, string, error) {
	t.Helper()
	cmd := exec.Command(binaryPath, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

func createTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestHelpListsCommands(t *testing.T) {
	stdout, _, err := runCommand(t, t.TempDir(), "--help")
	require.NoError(t, err)
	for _, name := range []string{"process", "dat", "db", "search", "clean", "torrent"} {
		assert.Contains(t, stdout, name)
	}
}

func TestProcessRequiresSdcard(t *testing.T) {
	_, stderr, err := runCommand(t, t.TempDir(), "process", "--rom-dir", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, stderr, "SD card directory is not configured")
}

func TestProcessEndToEnd(t *testing.T) {
	const datBody = `game (
	name "Test Game (USA)"
	rom ( name "Test Game (USA).gba" size 20 crc 00000000 sha1 482b707105c534317cd160d2683388f115c3bf7b )
)
`
	var img bytes.Buffer
	require.NoError(t, png.Encode(&img, image.NewRGBA(image.Rect(0, 0, 64, 64))))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/dat/Nintendo - Game Boy Advance.dat":
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte(datBody))
		case strings.HasSuffix(r.URL.Path, "/Named_Boxarts/Test Game (USA).png"):
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(img.Bytes())
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	workDir := t.TempDir()
	romDir := t.TempDir()
	sdcard := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(romDir, "tg.gba"), []byte("GBA test rom payload"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(romDir, "other.gba"), []byte("unknown"), 0644))

	cfgPath := createTempConfig(t, fmt.Sprintf(`
DatBaseURL = "%s/dat"
ThumbnailBaseURL = "%s/thumbs"
`, srv.URL, srv.URL))

	stdout, stderr, err := runCommand(t, workDir,
		"--config", cfgPath, "--sdcard-dir", sdcard,
		"process", "--rom-dir", romDir, "--rename", "--errors")
	require.NoError(t, err, "stderr: %s", stderr)
	assert.Contains(t, stdout, "Box art saved")

	assert.FileExists(t, filepath.Join(romDir, "Test Game (USA).gba"))
	assert.FileExists(t, filepath.Join(sdcard, "_nds", "TWiLightMenu", "boxart", "Test Game (USA).gba.png"))

	// errors.txt is created in the working directory and stays empty: the
	// only matched ROM got its box art.
	content, err := os.ReadFile(filepath.Join(workDir, "errors.txt"))
	require.NoError(t, err)
	assert.Empty(t, content)

	stdout, stderr, err = runCommand(t, workDir, "--config", cfgPath, "--sdcard-dir", sdcard, "db", "view")
	require.NoError(t, err, "stderr: %s", stderr)
	assert.Contains(t, stdout, "Test Game (USA)")
	assert.Contains(t, stdout, "Unmatched")

	stdout, stderr, err = runCommand(t, workDir, "--config", cfgPath, "--sdcard-dir", sdcard, "search", "-q", "+platform:gba")
	require.NoError(t, err, "stderr: %s", stderr)
	assert.Contains(t, stdout, "Test Game (USA)")
}
