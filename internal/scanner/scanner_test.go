package scanner

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"go-rom-boxart/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("rom"), 0644))
}

func TestFindRoms(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "a.gba"))
	touch(t, filepath.Join(root, "nested", "deeper", "B.SFC"))
	touch(t, filepath.Join(root, "nested", "c.Gen"))
	touch(t, filepath.Join(root, "readme.txt"))
	touch(t, filepath.Join(root, "nested", "save.sav"))

	roms, err := FindRoms(root)
	require.NoError(t, err)

	sort.Slice(roms, func(i, j int) bool { return roms[i].Path < roms[j].Path })
	assert.Equal(t, []models.RomFile{
		{Path: filepath.Join(root, "a.gba"), Platform: "gba"},
		{Path: filepath.Join(root, "nested", "c.Gen"), Platform: "md"},
		{Path: filepath.Join(root, "nested", "deeper", "B.SFC"), Platform: "snes"},
	}, roms)
}

func TestFindRomsEmpty(t *testing.T) {
	roms, err := FindRoms(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, roms)
}

func TestFindRomsMissingRoot(t *testing.T) {
	_, err := FindRoms(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrScan))
}
