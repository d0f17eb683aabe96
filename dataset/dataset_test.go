package dataset_test

import (
	"math"
	"math/bits"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/TuSKan/zarr-testdata/dataset"
	"github.com/TuSKan/zarr-testdata/zarr"
)

func TestWindVariants(t *testing.T) {
	variants := dataset.WindVariants()
	require.Len(t, variants, 14)

	require.Equal(t, "wind_zlib_little", variants[0].Name())
	require.Equal(t, "wind_zlib_big", variants[1].Name())
	require.Equal(t, "wind_blosc_little", variants[2].Name())
	require.Equal(t, "wind_zstd_big", variants[13].Name())

	seen := map[string]bool{}
	for _, v := range variants {
		require.False(t, seen[v.Name()], "duplicate variant %s", v.Name())
		seen[v.Name()] = true
	}
}

func TestVariableBytes(t *testing.T) {
	v := &dataset.Variable{Name: "time", Dims: []string{"time"}, Int: []int64{0, 6, 12}}
	require.Equal(t, []int{3}, v.Shape())
	require.Equal(t, zarr.Int64, v.DType())

	b := v.Bytes()
	require.Len(t, b, 24)
	require.Equal(t, byte(6), b[8])

	arr := v.Array()
	require.Equal(t, "time", arr.Name)
	require.Equal(t, []string{"time"}, arr.Dims)
	require.Equal(t, []int{3}, arr.Shape)
}

func TestGradientEdges(t *testing.T) {
	ds, err := dataset.Gradient()
	require.NoError(t, err)

	temp, err := ds.Var("2m_temperature")
	require.NoError(t, err)
	require.Equal(t, []int{dataset.NT, dataset.NL, dataset.NY, dataset.NX}, temp.Shape())
	// West to east ramp.
	require.InDelta(t, 273.15, temp.Float.Get(0, 0, 0, 0), 1e-12)
	require.InDelta(t, 313.15, temp.Float.Get(0, 0, 0, dataset.NX-1), 1e-12)
	require.InDelta(t, 313.15, temp.Float.Get(2, 9, 399, dataset.NX-1), 1e-12)

	precip, err := ds.Var("total_precipitation")
	require.NoError(t, err)
	// South to north ramp.
	require.InDelta(t, 0, precip.Float.Get(0, 0, 0, 0), 1e-12)
	require.InDelta(t, 0.01, precip.Float.Get(0, 0, dataset.NY-1, 0), 1e-12)

	wind, err := ds.Var("wind_zstd_little")
	require.NoError(t, err)
	require.InDelta(t, 1, wind.Float.Get(0, 0, 0, 7), 1e-12)
	require.InDelta(t, 20, wind.Float.Get(0, 0, dataset.NY-1, 7), 1e-12)

	// The gradient flavor never byte-swaps.
	windBig, err := ds.Var("wind_zstd_big")
	require.NoError(t, err)
	require.Equal(t, wind.Float.Elements[:100], windBig.Float.Elements[:100])
}

func TestRandomDeterminism(t *testing.T) {
	a, err := dataset.Random(1, true)
	require.NoError(t, err)
	b, err := dataset.Random(1, true)
	require.NoError(t, err)
	c, err := dataset.Random(2, true)
	require.NoError(t, err)

	tempA, err := a.Var("2m_temperature")
	require.NoError(t, err)
	tempB, err := b.Var("2m_temperature")
	require.NoError(t, err)
	tempC, err := c.Var("2m_temperature")
	require.NoError(t, err)

	require.Equal(t, tempA.Float.Elements[:1000], tempB.Float.Elements[:1000])
	require.NotEqual(t, tempA.Float.Elements[:1000], tempC.Float.Elements[:1000])

	// Temperatures cluster around 273.15 K.
	mean := tempA.Float.Sum() / float64(len(tempA.Float.Elements))
	require.InDelta(t, 273.15, mean, 0.5)

	// Precipitation is non-negative.
	precip, err := a.Var("total_precipitation")
	require.NoError(t, err)
	for _, e := range precip.Float.Elements[:10000] {
		require.GreaterOrEqual(t, e, 0.0)
	}
}

func TestRandomWindByteSwap(t *testing.T) {
	ds, err := dataset.Random(1, true)
	require.NoError(t, err)

	little, err := ds.Var("wind_lz4_little")
	require.NoError(t, err)
	big, err := ds.Var("wind_lz4_big")
	require.NoError(t, err)

	// The ramp runs 0..1 over the flattened volume.
	n := len(little.Float.Elements)
	require.Equal(t, 0.0, little.Float.Elements[0])
	require.Equal(t, 1.0, little.Float.Elements[n-1])

	// Big variables hold the byte-swapped image of the ramp.
	for i := 0; i < 1000; i++ {
		want := math.Float64frombits(bits.ReverseBytes64(math.Float64bits(little.Float.Elements[i])))
		got := big.Float.Elements[i]
		if math.IsNaN(want) {
			require.True(t, math.IsNaN(got))
			continue
		}
		require.Equal(t, want, got)
	}
}

func TestRandomNoSwap(t *testing.T) {
	ds, err := dataset.Random(1, false)
	require.NoError(t, err)

	little, err := ds.Var("wind_zlib_little")
	require.NoError(t, err)
	big, err := ds.Var("wind_zlib_big")
	require.NoError(t, err)
	require.Equal(t, little.Float.Elements[:100], big.Float.Elements[:100])
}

func TestForecastCoordinates(t *testing.T) {
	ds, err := dataset.Gradient()
	require.NoError(t, err)
	require.Equal(t, "lambert_conformal", ds.Attrs["projection"])

	time, err := ds.Var("time")
	require.NoError(t, err)
	require.Equal(t, []int64{0, 6, 12}, time.Int)
	require.Equal(t, "hours since 2024-01-01", time.Attrs["units"])
	require.Equal(t, "proleptic_gregorian", time.Attrs["calendar"])

	lead, err := ds.Var("lead_time")
	require.NoError(t, err)
	require.Len(t, lead.Int, dataset.NL)
	require.Equal(t, "hours", lead.Attrs["units"])

	lat, err := ds.Var("latitude")
	require.NoError(t, err)
	require.Equal(t, []int{dataset.NY, dataset.NX}, lat.Shape())
	// Center pixel sits on the grid origin.
	require.InDelta(t, 38.5, lat.Float.Get(199, 199), 1e-9)

	lon, err := ds.Var("longitude")
	require.NoError(t, err)
	require.InDelta(t, -97.5, lon.Float.Get(199, 199), 1e-9)

	x, err := ds.Var("x")
	require.NoError(t, err)
	require.Equal(t, int64(0), x.Int[0])
	require.Equal(t, int64(dataset.NX-1), x.Int[dataset.NX-1])

	_, err = ds.Var("no_such_variable")
	require.Error(t, err)
}

func TestOrography(t *testing.T) {
	a, err := dataset.Orography(42)
	require.NoError(t, err)
	b, err := dataset.Orography(42)
	require.NoError(t, err)

	gh, err := a.Var("geopotential_height")
	require.NoError(t, err)
	require.Equal(t, []int{dataset.NY, dataset.NX}, gh.Shape())

	// Hill peak of exactly 2500 m at the center before noise; the noise
	// draw at the center is replayed from the same generator state.
	noise := distuv.Normal{Mu: 0, Sigma: 50, Src: rand.NewPCG(42, 0)}
	var centerNoise float64
	for i := 0; i <= 199*dataset.NX+199; i++ {
		centerNoise = noise.Rand()
	}
	require.Equal(t, 2500+centerNoise, gh.Float.Get(199, 199))

	// 500 m plain far away, within the reach of the N(0, 50) noise.
	require.InDelta(t, 500, gh.Float.Get(0, 0), 300)
	require.InDelta(t, 500, gh.Float.Get(399, 399), 300)

	ghB, err := b.Var("geopotential_height")
	require.NoError(t, err)
	require.Equal(t, gh.Float.Elements[:1000], ghB.Float.Elements[:1000])

	// Latitude and longitude are data variables in this flavor.
	require.Len(t, a.DataVars, 3)
	require.Len(t, a.Coords, 2)
	_, err = a.Var("latitude")
	require.NoError(t, err)
}
