package dataset

import (
	"math"
	"math/bits"
	"math/rand/v2"

	"github.com/ctessum/sparse"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/TuSKan/zarr-testdata/grid"
	"github.com/TuSKan/zarr-testdata/zarr"
)

var forecastDims = []string{"time", "lead_time", "y", "x"}

// Random builds the forecast grid dataset with randomized fields:
// temperature around 0 degrees C, exponentially distributed precipitation,
// and one linspace-filled wind variable per codec/endianness combination.
// The seed fully determines the output. When swapBig is set, the values of
// "_big" wind variables are byte-swapped in place, so serializing them
// big-endian reproduces the little-endian bytes of the original ramp.
func Random(seed uint64, swapBig bool) (*Dataset, error) {
	coords, err := forecastCoords()
	if err != nil {
		return nil, err
	}

	src := rand.NewPCG(seed, 0)
	temperature := distuv.Normal{Mu: 273.15, Sigma: 10, Src: src}
	precipitation := distuv.Exponential{Rate: 1, Src: src}

	temp := sparse.ZerosDense(NT, NL, NY, NX)
	for i := range temp.Elements {
		temp.Elements[i] = temperature.Rand()
	}
	precip := sparse.ZerosDense(NT, NL, NY, NX)
	for i := range precip.Elements {
		precip.Elements[i] = math.Max(0, 0.01*precipitation.Rand())
	}

	ramp := windRamp()
	var swapped *sparse.DenseArray
	if swapBig {
		swapped = byteSwapped(ramp)
	}

	ds := &Dataset{
		Attrs: map[string]any{"projection": "lambert_conformal"},
		DataVars: []*Variable{
			{Name: "2m_temperature", Dims: forecastDims, Float: temp},
			{Name: "total_precipitation", Dims: forecastDims, Float: precip},
		},
		Coords: coords,
	}
	for _, variant := range WindVariants() {
		v := variant
		data := ramp
		if swapBig && v.Endian == zarr.BigEndian {
			data = swapped
		}
		ds.DataVars = append(ds.DataVars, &Variable{
			Name:  v.Name(),
			Dims:  forecastDims,
			Float: data,
			Wind:  &v,
		})
	}
	return ds, nil
}

// Gradient builds the forecast grid dataset with linear ramps for
// interpolation tests: temperature west to east, precipitation and wind
// south to north. No randomness and no byte swapping.
func Gradient() (*Dataset, error) {
	coords, err := forecastCoords()
	if err != nil {
		return nil, err
	}

	temp := tileRows(linspace(273.15, 313.15, NX), false)
	precip := tileRows(linspace(0, 0.01, NY), true)
	wind := tileRows(linspace(1, 20, NY), true)

	ds := &Dataset{
		Attrs: map[string]any{"projection": "lambert_conformal"},
		DataVars: []*Variable{
			{Name: "2m_temperature", Dims: forecastDims, Float: temp},
			{Name: "total_precipitation", Dims: forecastDims, Float: precip},
		},
		Coords: coords,
	}
	for _, variant := range WindVariants() {
		v := variant
		ds.DataVars = append(ds.DataVars, &Variable{
			Name:  v.Name(),
			Dims:  forecastDims,
			Float: wind,
			Wind:  &v,
		})
	}
	return ds, nil
}

// Orography builds the 2-D terrain dataset: a 2000 m Gaussian hill on a
// 500 m plain plus seeded normal noise. Latitude and longitude ride along
// as data variables here, not coordinates.
func Orography(seed uint64) (*Dataset, error) {
	lat, lon, err := grid.HRRR().LatLonGrids(grid.IndexAxis(NX), grid.IndexAxis(NY), Spacing)
	if err != nil {
		return nil, err
	}

	const (
		baseElevation = 500.0
		peak          = 2000.0
		sigma         = 10.0
	)
	centerX := float64((NX - 1) / 2)
	centerY := float64((NY - 1) / 2)

	elevation := sparse.ZerosDense(NY, NX)
	for i := 0; i < NY; i++ {
		dy := float64(i) - centerY
		for j := 0; j < NX; j++ {
			dx := float64(j) - centerX
			elevation.Set(baseElevation+peak*math.Exp(-(dx*dx+dy*dy)/(2*sigma*sigma)), i, j)
		}
	}

	noise := distuv.Normal{Mu: 0, Sigma: 50, Src: rand.NewPCG(seed, 0)}
	for i := range elevation.Elements {
		elevation.Elements[i] += noise.Rand()
	}

	return &Dataset{
		DataVars: []*Variable{
			{Name: "geopotential_height", Dims: []string{"y", "x"}, Float: elevation},
			{Name: "latitude", Dims: []string{"y", "x"}, Float: lat},
			{Name: "longitude", Dims: []string{"y", "x"}, Float: lon},
		},
		Coords: []*Variable{
			indexCoord("y", NY),
			indexCoord("x", NX),
		},
	}, nil
}

// forecastCoords builds the shared coordinate set of the forecast grid
// datasets: time, lead_time, 2-D latitude/longitude, and pixel indices.
func forecastCoords() ([]*Variable, error) {
	lat, lon, err := grid.HRRR().LatLonGrids(grid.IndexAxis(NX), grid.IndexAxis(NY), Spacing)
	if err != nil {
		return nil, err
	}

	times := make([]int64, NT)
	for i := range times {
		times[i] = int64(i) * 6
	}
	leads := make([]int64, NL)
	for i := range leads {
		leads[i] = int64(i)
	}

	return []*Variable{
		{
			Name: "time",
			Dims: []string{"time"},
			Int:  times,
			Attrs: map[string]any{
				"units":    "hours since 2024-01-01",
				"calendar": "proleptic_gregorian",
			},
		},
		{
			Name:  "lead_time",
			Dims:  []string{"lead_time"},
			Int:   leads,
			Attrs: map[string]any{"units": "hours"},
		},
		{Name: "latitude", Dims: []string{"y", "x"}, Float: lat},
		{Name: "longitude", Dims: []string{"y", "x"}, Float: lon},
		indexCoord("x", NX),
		indexCoord("y", NY),
	}, nil
}

func indexCoord(name string, n int) *Variable {
	values := make([]int64, n)
	for i := range values {
		values[i] = int64(i)
	}
	return &Variable{Name: name, Dims: []string{name}, Int: values}
}

// windRamp is the canonical wind field: a linear ramp over the flattened
// 4-D volume, from 0 to 1 inclusive.
func windRamp() *sparse.DenseArray {
	out := sparse.ZerosDense(NT, NL, NY, NX)
	n := len(out.Elements)
	for i := range out.Elements {
		out.Elements[i] = float64(i) / float64(n-1)
	}
	return out
}

// byteSwapped returns a copy with every element's byte order reversed,
// reinterpreted as float64.
func byteSwapped(a *sparse.DenseArray) *sparse.DenseArray {
	out := a.Copy()
	for i, e := range out.Elements {
		out.Elements[i] = math.Float64frombits(bits.ReverseBytes64(math.Float64bits(e)))
	}
	return out
}

// linspace returns n evenly spaced values from lo to hi inclusive.
func linspace(lo, hi float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = lo + (hi-lo)*float64(i)/float64(n-1)
	}
	return out
}

// tileRows expands a 1-D ramp into the full 4-D forecast shape. With
// alongY set, the ramp varies along y and repeats across x; otherwise it
// varies along x and repeats across y.
func tileRows(ramp []float64, alongY bool) *sparse.DenseArray {
	out := sparse.ZerosDense(NT, NL, NY, NX)
	idx := 0
	for t := 0; t < NT; t++ {
		for l := 0; l < NL; l++ {
			for i := 0; i < NY; i++ {
				for j := 0; j < NX; j++ {
					if alongY {
						out.Elements[idx] = ramp[i]
					} else {
						out.Elements[idx] = ramp[j]
					}
					idx++
				}
			}
		}
	}
	return out
}
