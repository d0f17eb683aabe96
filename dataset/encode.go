package dataset

import (
	"fmt"

	"github.com/TuSKan/zarr-testdata/zarr"
)

// bloscZstd is the default codec of the V3 fixtures.
func bloscZstd() (zarr.Codec, error) {
	return zarr.NewBlosc(zarr.CnameZstd, 5, zarr.ShuffleByte)
}

// EncodeForecastV3 assigns the V3 forecast encoding to every data
// variable: chunks (1,2,100,100), blosc zstd clevel 5 with byte shuffle,
// and shards (1,4,200,200) when sharded. Coordinates keep their defaults
// (uncompressed, one full-shape chunk).
func EncodeForecastV3(d *Dataset, sharded bool) error {
	codec, err := bloscZstd()
	if err != nil {
		return err
	}
	enc := zarr.Encoding{
		Chunks:     []int{1, 2, 100, 100},
		Compressor: codec,
	}
	if sharded {
		enc.Shards = []int{1, 4, 200, 200}
	}
	for _, v := range d.DataVars {
		v.Encoding = enc
	}
	return nil
}

// EncodeOrographyV3 assigns the V3 orography encoding: geopotential_height
// in (100,100) chunks, latitude/longitude in (400,400) chunks, everything
// blosc zstd. Sharding packs 2x2 chunks per shard, with latitude and
// longitude rechunked to (200,200).
func EncodeOrographyV3(d *Dataset, sharded bool) error {
	codec, err := bloscZstd()
	if err != nil {
		return err
	}
	for _, v := range d.DataVars {
		switch {
		case v.Name == "geopotential_height" && sharded:
			v.Encoding = zarr.Encoding{Chunks: []int{100, 100}, Shards: []int{200, 200}, Compressor: codec}
		case v.Name == "geopotential_height":
			v.Encoding = zarr.Encoding{Chunks: []int{100, 100}, Compressor: codec}
		case sharded:
			v.Encoding = zarr.Encoding{Chunks: []int{200, 200}, Shards: []int{400, 400}, Compressor: codec}
		default:
			v.Encoding = zarr.Encoding{Chunks: []int{400, 400}, Compressor: codec}
		}
	}
	return nil
}

// EncodeForecastV2 assigns the V2 forecast encoding. Each variable is one
// full-shape chunk; the codec and byte order depend on the variable:
// temperature blosc(zstd,5,shuffle), precipitation zlib(1), and each wind
// variable the codec its descriptor names. The blosclz and snappy wind
// variables stay uncompressed.
func EncodeForecastV2(d *Dataset) error {
	for _, v := range d.DataVars {
		switch {
		case v.Name == "2m_temperature":
			codec, err := bloscZstd()
			if err != nil {
				return err
			}
			v.Encoding = zarr.Encoding{Compressor: codec}
		case v.Name == "total_precipitation":
			codec, err := zarr.NewZlib(1)
			if err != nil {
				return err
			}
			v.Encoding = zarr.Encoding{Compressor: codec}
		case v.Wind != nil:
			codec, err := windCodecV2(v.Wind.Compressor)
			if err != nil {
				return fmt.Errorf("variable %s: %w", v.Name, err)
			}
			v.Encoding = zarr.Encoding{Compressor: codec, Endian: v.Wind.Endian}
		}
	}
	return nil
}

func windCodecV2(c Compressor) (zarr.Codec, error) {
	switch c {
	case CompressorZlib:
		return zarr.NewZlib(1)
	case CompressorBlosc:
		return zarr.NewBlosc(zarr.CnameZstd, 5, zarr.ShuffleByte)
	case CompressorLZ4:
		return zarr.NewLZ4(3)
	case CompressorLZ4HC:
		return zarr.NewBlosc(zarr.CnameLZ4HC, 3, zarr.ShuffleByte)
	case CompressorZstd:
		return zarr.NewZstd(3)
	case CompressorBloscLZ, CompressorSnappy:
		return nil, nil
	default:
		return nil, fmt.Errorf("no V2 codec mapping for %s", c)
	}
}

// AddFillValueAttrs marks every data variable with a "NaN" fill_value
// attribute, as the gradient V3 fixture carries.
func AddFillValueAttrs(d *Dataset) {
	for _, v := range d.DataVars {
		if v.Attrs == nil {
			v.Attrs = map[string]any{}
		}
		v.Attrs["fill_value"] = "NaN"
	}
}
