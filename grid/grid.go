// Package grid computes geographic coordinate grids for synthetic
// forecast datasets using a Lambert conformal conic projection on a
// spherical globe, matching the grid geometry of the HRRR model.
package grid

import (
	"fmt"
	"math"

	"github.com/ctessum/sparse"
)

// HRRR grid parameters.
const (
	hrrrCentralLon  = 262.5
	hrrrCentralLat  = 38.5
	hrrrStdParallel = 38.5
	hrrrEarthRadius = 6371229.0
)

// LambertConformal is a conformal conic projection with a single standard
// parallel on a spherical globe. Angles are in degrees, the radius in
// meters.
type LambertConformal struct {
	CentralLon  float64
	CentralLat  float64
	StdParallel float64
	Radius      float64
}

// HRRR returns the projection used by the HRRR forecast grid.
func HRRR() LambertConformal {
	return LambertConformal{
		CentralLon:  hrrrCentralLon,
		CentralLat:  hrrrCentralLat,
		StdParallel: hrrrStdParallel,
		Radius:      hrrrEarthRadius,
	}
}

// Inverse maps projected coordinates in meters, relative to the projection
// origin, back to geographic latitude and longitude in degrees. Longitude
// is normalized to (-180, 180].
func (p LambertConformal) Inverse(x, y float64) (lat, lon float64) {
	phi0 := p.CentralLat * math.Pi / 180
	phi1 := p.StdParallel * math.Pi / 180

	n := math.Sin(phi1)
	f := math.Cos(phi1) * math.Pow(math.Tan(math.Pi/4+phi1/2), n) / n
	rho0 := p.Radius * f / math.Pow(math.Tan(math.Pi/4+phi0/2), n)

	rho := math.Hypot(x, rho0-y)
	if n < 0 {
		rho = -rho
	}

	if rho == 0 {
		lat = math.Copysign(90, n)
		lon = normalizeLon(p.CentralLon)
		return lat, lon
	}

	theta := math.Atan2(x, rho0-y)
	lat = (2*math.Atan(math.Pow(p.Radius*f/rho, 1/n)) - math.Pi/2) * 180 / math.Pi
	lon = normalizeLon(p.CentralLon + theta/n*180/math.Pi)
	return lat, lon
}

func normalizeLon(lon float64) float64 {
	lon = math.Mod(lon, 360)
	if lon > 180 {
		lon -= 360
	} else if lon <= -180 {
		lon += 360
	}
	return lon
}

// LatLonGrids computes the latitude and longitude arrays for a grid of
// pixel indices spaced by spacing meters. The grid is centered so that the
// middle pixel of each axis sits at the projection origin; both outputs
// have shape [len(y), len(x)].
func (p LambertConformal) LatLonGrids(x, y []int, spacing float64) (lat, lon *sparse.DenseArray, err error) {
	if len(x) == 0 || len(y) == 0 {
		return nil, nil, fmt.Errorf("empty grid axis: %d x %d", len(x), len(y))
	}
	if spacing <= 0 {
		return nil, nil, fmt.Errorf("non-positive grid spacing: %g", spacing)
	}

	centerX := float64(x[(len(x)-1)/2])
	centerY := float64(y[(len(y)-1)/2])

	lat = sparse.ZerosDense(len(y), len(x))
	lon = sparse.ZerosDense(len(y), len(x))
	for i, yv := range y {
		py := (float64(yv) - centerY) * spacing
		for j, xv := range x {
			px := (float64(xv) - centerX) * spacing
			la, lo := p.Inverse(px, py)
			lat.Set(la, i, j)
			lon.Set(lo, i, j)
		}
	}
	return lat, lon, nil
}

// IndexAxis returns the pixel indices 0..n-1.
func IndexAxis(n int) []int {
	axis := make([]int, n)
	for i := range axis {
		axis[i] = i
	}
	return axis
}
