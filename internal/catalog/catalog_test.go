package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordGetList(t *testing.T) {
	dir := t.TempDir()
	body := []byte(`{"type":"FeatureCollection"}`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "countries.geojson"), body, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tavg_10m.arrow"), []byte("arrow"), 0o644))

	c, err := Open(dir)
	require.NoError(t, err)
	defer c.Close()
	ctx := context.Background()

	e, err := c.Record(ctx, "countries", "countries.geojson", "http://example/countries.geojson")
	require.NoError(t, err)
	assert.Equal(t, int64(len(body)), e.Bytes)
	assert.Len(t, e.XXHash, 16)

	_, err = c.Record(ctx, "worldclim/tavg/10m", "tavg_10m.arrow", "http://example/wc.zip")
	require.NoError(t, err)

	got, ok, err := c.Get(ctx, "countries")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, e.XXHash, got.XXHash)
	assert.Equal(t, "http://example/countries.geojson", got.SourceURL)
	assert.WithinDuration(t, e.FetchedAt, got.FetchedAt, 0)

	_, ok, err = c.Get(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, ok)

	all, err := c.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "countries", all[0].Key)
}

func TestRecordOverwrites(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a.bin")
	require.NoError(t, os.WriteFile(p, []byte("one"), 0o644))
	c, err := Open(dir)
	require.NoError(t, err)
	defer c.Close()
	ctx := context.Background()

	first, err := c.Record(ctx, "a", "a.bin", "u")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(p, []byte("three"), 0o644))
	second, err := c.Record(ctx, "a", "a.bin", "u")
	require.NoError(t, err)
	assert.NotEqual(t, first.XXHash, second.XXHash)

	all, err := c.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Equal(t, int64(5), all[0].Bytes)
}

func TestVerify(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []string{"ok.bin", "changed.bin", "gone.bin"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte(n), 0o644))
	}
	c, err := Open(dir)
	require.NoError(t, err)
	defer c.Close()
	ctx := context.Background()
	for _, n := range []string{"ok.bin", "changed.bin", "gone.bin"} {
		_, err := c.Record(ctx, n, n, "u")
		require.NoError(t, err)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "changed.bin"), []byte("different"), 0o644))
	require.NoError(t, os.Remove(filepath.Join(dir, "gone.bin")))

	bad, err := c.Verify(ctx)
	require.NoError(t, err)
	require.Len(t, bad, 2)
	byKey := map[string]Mismatch{}
	for _, m := range bad {
		byKey[m.Key] = m
	}
	assert.NotEmpty(t, byKey["changed.bin"].Actual)
	assert.False(t, byKey["changed.bin"].Missing)
	assert.True(t, byKey["gone.bin"].Missing)
}

func TestReopenKeepsEntries(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f"), []byte("x"), 0o644))
	c, err := Open(dir)
	require.NoError(t, err)
	_, err = c.Record(context.Background(), "f", "f", "u")
	require.NoError(t, err)
	require.NoError(t, c.Close())

	c2, err := Open(dir)
	require.NoError(t, err)
	defer c2.Close()
	_, ok, err := c2.Get(context.Background(), "f")
	require.NoError(t, err)
	assert.True(t, ok)
}
