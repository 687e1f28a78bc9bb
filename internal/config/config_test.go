package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{"LATLONDATA", "LATLONRES", "WORLDCLIM_BASE_URL", "WORLDCLIM_VERSION",
		"COUNTRIES_URL", "NATURAL_EARTH_URL", "HTTP_TIMEOUT", "MAX_GRID_BYTES", "ADDR", "API_BASE"} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	dir := filepath.Join(t.TempDir(), "data")
	t.Setenv("LATLONDATA", dir)

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, dir, c.DataDir)
	assert.Equal(t, "10m", c.Resolution)
	assert.Equal(t, "2.1", c.WorldClimVersion)
	assert.Contains(t, c.WorldClimBaseURL, "2_1")
	assert.Equal(t, DefaultCountriesURL, c.CountriesURL)
	assert.Equal(t, "/api", c.APIBase)
	assert.Equal(t, DefaultHTTPTimeout, c.HTTPTimeout)
	assert.Equal(t, DefaultMaxGridBytes, c.MaxGridBytes)

	st, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, st.IsDir())
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("LATLONDATA", t.TempDir())
	t.Setenv("LATLONRES", "2.5m")
	t.Setenv("WORLDCLIM_VERSION", "2.0")
	t.Setenv("HTTP_TIMEOUT", "30")
	t.Setenv("API_BASE", "/v1/")
	t.Setenv("MAX_GRID_BYTES", "1048576")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, int64(1<<20), c.MaxGridBytes)
	assert.Equal(t, "2.5m", c.Resolution)
	assert.Contains(t, c.WorldClimBaseURL, "v2.0")
	assert.Equal(t, 30*time.Second, c.HTTPTimeout)
	assert.Equal(t, "/v1", c.APIBase)
}

func TestMaxGridBytesInvalid(t *testing.T) {
	clearEnv(t)
	t.Setenv("LATLONDATA", t.TempDir())
	for _, v := range []string{"lots", "0", "-5"} {
		t.Setenv("MAX_GRID_BYTES", v)
		_, err := Load()
		assert.Error(t, err, v)
	}
}

func TestResolutionInvalid(t *testing.T) {
	clearEnv(t)
	t.Setenv("LATLONRES", "1m")
	_, err := Resolution("")
	assert.ErrorIs(t, err, ErrResolution)

	res, err := Resolution("30s")
	require.NoError(t, err)
	assert.Equal(t, "30s", res)
}

func TestLoadEnvFile(t *testing.T) {
	clearEnv(t)
	os.Unsetenv("LATLONRES")
	p := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(p, []byte("LATLONRES=5m\n"), 0o644))
	LoadEnv(p)
	t.Cleanup(func() { os.Unsetenv("LATLONRES") })
	assert.Equal(t, "5m", os.Getenv("LATLONRES"))
}
