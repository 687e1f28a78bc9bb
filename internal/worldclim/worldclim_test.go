package worldclim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeriods(t *testing.T) {
	p := Periods()
	require.Len(t, p, NumPeriods)
	assert.Equal(t, "mai", p[4])
	assert.Equal(t, []string{"djf", "mam", "jja", "son", "ann"}, p[12:])
	i, ok := PeriodIndex("jja")
	assert.True(t, ok)
	assert.Equal(t, 14, i)
}

func TestExpand(t *testing.T) {
	got, err := Expand([]string{"tavg, prec", "tavg"})
	require.NoError(t, err)
	assert.Equal(t, []string{"tavg", "prec"}, got)

	all, err := Expand([]string{"all"})
	require.NoError(t, err)
	assert.Len(t, all, len(Variables))

	_, err = Expand([]string{"snow"})
	assert.ErrorIs(t, err, ErrVariable)
}

func TestNames(t *testing.T) {
	assert.Equal(t, "wc2.1_10m_tavg.zip", ArchiveName("2.1", "10m", "tavg"))
	assert.Equal(t, "https://x/wc2.1_5m_prec.zip", ArchiveURL("https://x", "2.1", "5m", "prec"))
	assert.Equal(t, "wc2.1_2.5m_tmin_03.tif", MonthTIF("2.1", "2.5m", "tmin", 3))
	assert.Equal(t, "tavg_30s.arrow", GridFile("tavg", "30s"))

	m, ok := MonthOf("2.1", "10m", "tavg", "wc2.1_10m_tavg_12.tif")
	assert.True(t, ok)
	assert.Equal(t, 12, m)
	_, ok = MonthOf("2.1", "10m", "tavg", "wc2.1_10m_tavg_13.tif")
	assert.False(t, ok)
	_, ok = MonthOf("2.1", "10m", "tavg", "wc2.1_10m_prec_01.tif")
	assert.False(t, ok)
}

func TestValidateResolution(t *testing.T) {
	for _, r := range Resolutions {
		assert.NoError(t, ValidateResolution(r))
	}
	assert.ErrorIs(t, ValidateResolution("1m"), ErrResolution)
}

func TestCellSize(t *testing.T) {
	for _, r := range Resolutions {
		d, err := CellSize(r)
		require.NoError(t, err)
		assert.Greater(t, d, 0.0)
	}
	d, err := CellSize("30s")
	require.NoError(t, err)
	assert.InDelta(t, 43200, 360/d, 1e-6)
	_, err = CellSize("1m")
	assert.ErrorIs(t, err, ErrResolution)
}
