package dat

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	paths map[string]string
	err   error
	calls map[string]int
}

func (f *fakeSource) Ensure(_ context.Context, key string) (string, error) {
	f.calls[key]++
	if f.err != nil {
		return "", f.err
	}
	return f.paths[key], nil
}

func TestCatalogBuildsIndexOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gba.dat")
	require.NoError(t, os.WriteFile(path, []byte(sampleDat), 0644))
	src := &fakeSource{paths: map[string]string{"gba": path}, calls: map[string]int{}}

	c := NewCatalog(src, nil)
	first, err := c.Index(context.Background(), "gba")
	require.NoError(t, err)
	second, err := c.Index(context.Background(), "gba")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, src.calls["gba"])
	assert.Equal(t, 2, first.Len())
	assert.Equal(t, []string{"gba"}, c.Loaded())
}

func TestCatalogRemembersFailure(t *testing.T) {
	src := &fakeSource{err: ErrUnavailable, calls: map[string]int{}}
	c := NewCatalog(src, LineParser{})

	_, err := c.Index(context.Background(), "nes")
	require.Error(t, err)
	_, err = c.Index(context.Background(), "nes")
	require.Error(t, err)

	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.Equal(t, 1, src.calls["nes"], "a failed platform must not be retried")
	assert.Empty(t, c.Loaded())
}

func TestCatalogUnparseableDatYieldsEmptyIndex(t *testing.T) {
	dir := t.TempDir()
	src := &fakeSource{paths: map[string]string{"gb": filepath.Join(dir, "gone.dat")}, calls: map[string]int{}}
	c := NewCatalog(src, nil)

	idx, err := c.Index(context.Background(), "gb")
	require.NoError(t, err)
	assert.Equal(t, 0, idx.Len())
	_, ok := idx.Lookup(sha1Test)
	assert.False(t, ok)
}
