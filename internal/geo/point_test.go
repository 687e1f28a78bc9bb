package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeLon(t *testing.T) {
	cases := []struct {
		in, want float64
	}{
		{0, 0},
		{180, 180},
		{-180, -180},
		{190, -170},
		{360, 0},
		{350, -10},
		{540, 180},
		{-190, -190},
	}
	for _, c := range cases {
		assert.InDelta(t, c.want, NormalizeLon(c.in), 1e-9, "lon %v", c.in)
	}
	assert.True(t, math.IsNaN(NormalizeLon(math.NaN())))
	assert.True(t, math.IsInf(NormalizeLon(math.Inf(1)), 1))
}

func TestZip(t *testing.T) {
	pts, ok := Zip([]float64{1, 2}, []float64{3, 4})
	assert.True(t, ok)
	assert.Equal(t, []Point{{1, 3}, {2, 4}}, pts)

	_, ok = Zip([]float64{1}, []float64{3, 4})
	assert.False(t, ok)
}

func TestKeyExact(t *testing.T) {
	assert.Equal(t, "50,10", Point{50, 10}.Key())
	assert.NotEqual(t, Point{50.0000001, 10}.Key(), Point{50, 10}.Key())
}

func TestValid(t *testing.T) {
	assert.True(t, Point{1, 2}.Valid())
	assert.False(t, Point{math.NaN(), 2}.Valid())
	assert.False(t, Point{1, math.Inf(1)}.Valid())
}

func TestParseCoord(t *testing.T) {
	f, err := ParseCoord("-12.5")
	assert.NoError(t, err)
	assert.Equal(t, -12.5, f)
	for _, s := range []string{"NaN", "nan", "Inf", "-Inf", "+Infinity", "1e400"} {
		_, err := ParseCoord(s)
		assert.ErrorContains(t, err, "finite", s)
	}
	_, err = ParseCoord("north")
	assert.ErrorContains(t, err, "not a number")
}
