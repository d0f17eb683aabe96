// Package dataset builds the synthetic meteorological datasets that the
// fixture generator serializes: an HRRR-like forecast grid in random and
// gradient flavors, plus a terrain elevation field.
package dataset

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/ctessum/sparse"

	"github.com/TuSKan/zarr-testdata/zarr"
)

// Grid dimensions shared by every dataset flavor.
const (
	NX = 400 // grid width
	NY = 400 // grid height
	NT = 3   // time points, 6-hourly
	NL = 10  // lead times, hourly

	// Spacing is the grid cell size in meters.
	Spacing = 3000
)

// Compressor identifies the codec a wind variable exercises.
type Compressor int

const (
	CompressorZlib Compressor = iota
	CompressorBlosc
	CompressorLZ4
	CompressorLZ4HC
	CompressorBloscLZ
	CompressorSnappy
	CompressorZstd
)

func (c Compressor) String() string {
	switch c {
	case CompressorZlib:
		return "zlib"
	case CompressorBlosc:
		return "blosc"
	case CompressorLZ4:
		return "lz4"
	case CompressorLZ4HC:
		return "lz4hc"
	case CompressorBloscLZ:
		return "blosclz"
	case CompressorSnappy:
		return "snappy"
	case CompressorZstd:
		return "zstd"
	default:
		return "unknown"
	}
}

// WindVariant describes one member of the wind variable family. The
// compressor and byte order are carried as structured fields; the display
// name is derived from them, never parsed back.
type WindVariant struct {
	Compressor Compressor
	Endian     zarr.Endian
}

// Name returns the variable name, e.g. "wind_zstd_little".
func (v WindVariant) Name() string {
	return fmt.Sprintf("wind_%s_%s", v.Compressor, v.Endian)
}

// WindVariants enumerates the full wind family: every compressor crossed
// with both byte orders, compressor-major.
func WindVariants() []WindVariant {
	compressors := []Compressor{
		CompressorZlib, CompressorBlosc, CompressorLZ4, CompressorLZ4HC,
		CompressorBloscLZ, CompressorSnappy, CompressorZstd,
	}
	variants := make([]WindVariant, 0, len(compressors)*2)
	for _, c := range compressors {
		for _, e := range []zarr.Endian{zarr.LittleEndian, zarr.BigEndian} {
			variants = append(variants, WindVariant{Compressor: c, Endian: e})
		}
	}
	return variants
}

// Variable is a named array of a dataset: either a float64 dense array or
// int64 coordinate values. Encoding is a serialization directive only and
// never affects the variable's semantic content.
type Variable struct {
	Name     string
	Dims     []string
	Float    *sparse.DenseArray
	Int      []int64
	Attrs    map[string]any
	Encoding zarr.Encoding

	// Wind is set for members of the wind family.
	Wind *WindVariant
}

// Shape returns the variable's dimension lengths.
func (v *Variable) Shape() []int {
	if v.Float != nil {
		return v.Float.Shape
	}
	return []int{len(v.Int)}
}

// DType returns the element type.
func (v *Variable) DType() zarr.DType {
	if v.Float != nil {
		return zarr.Float64
	}
	return zarr.Int64
}

// Bytes returns the element data as little-endian C-order bytes.
func (v *Variable) Bytes() []byte {
	if v.Float != nil {
		out := make([]byte, len(v.Float.Elements)*8)
		for i, e := range v.Float.Elements {
			binary.LittleEndian.PutUint64(out[i*8:], math.Float64bits(e))
		}
		return out
	}
	out := make([]byte, len(v.Int)*8)
	for i, e := range v.Int {
		binary.LittleEndian.PutUint64(out[i*8:], uint64(e))
	}
	return out
}

// Array converts the variable into its serializable form.
func (v *Variable) Array() zarr.Array {
	return zarr.Array{
		Name:     v.Name,
		Shape:    v.Shape(),
		Dims:     v.Dims,
		DType:    v.DType(),
		Data:     v.Bytes(),
		Attrs:    v.Attrs,
		Encoding: v.Encoding,
	}
}

// Dataset is an ordered collection of data variables and coordinates with
// group-level attributes. Order is preserved so stores are written
// deterministically.
type Dataset struct {
	Attrs    map[string]any
	DataVars []*Variable
	Coords   []*Variable
}

// Var returns the data variable or coordinate with the given name.
func (d *Dataset) Var(name string) (*Variable, error) {
	for _, v := range d.DataVars {
		if v.Name == name {
			return v, nil
		}
	}
	for _, v := range d.Coords {
		if v.Name == name {
			return v, nil
		}
	}
	return nil, fmt.Errorf("no variable named %s", name)
}

// Variables returns data variables followed by coordinates, in write
// order.
func (d *Dataset) Variables() []*Variable {
	out := make([]*Variable, 0, len(d.DataVars)+len(d.Coords))
	out = append(out, d.DataVars...)
	out = append(out, d.Coords...)
	return out
}
