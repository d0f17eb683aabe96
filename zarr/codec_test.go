package zarr_test

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/TuSKan/zarr-testdata/zarr"
)

// float64Payload builds a compressible buffer of smoothly varying values.
func float64Payload(t *testing.T, n int) []byte {
	t.Helper()
	out := make([]byte, n*8)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint64(out[i*8:], math.Float64bits(math.Sin(float64(i)/50)))
	}
	return out
}

func randomPayload(t *testing.T, n int) []byte {
	t.Helper()
	rng := rand.New(rand.NewPCG(7, 11))
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(rng.Uint32())
	}
	return out
}

func TestCodecRoundTrips(t *testing.T) {
	mustCodec := func(c zarr.Codec, err error) zarr.Codec {
		require.NoError(t, err)
		return c
	}
	newBlosc := func(cname zarr.BloscCname, clevel int, shuffle zarr.BloscShuffle) zarr.Codec {
		return mustCodec(zarr.NewBlosc(cname, clevel, shuffle))
	}

	codecs := []struct {
		name  string
		codec zarr.Codec
	}{
		{"zlib", mustCodec(zarr.NewZlib(1))},
		{"gzip", mustCodec(zarr.NewGzip(6))},
		{"zstd", mustCodec(zarr.NewZstd(3))},
		{"lz4", mustCodec(zarr.NewLZ4(3))},
		{"blosc zstd", newBlosc(zarr.CnameZstd, 5, zarr.ShuffleByte)},
		{"blosc lz4", newBlosc(zarr.CnameLZ4, 5, zarr.ShuffleByte)},
		{"blosc lz4hc", newBlosc(zarr.CnameLZ4HC, 3, zarr.ShuffleNone)},
		{"blosc zlib", newBlosc(zarr.CnameZlib, 1, zarr.ShuffleByte)},
		{"blosc snappy", newBlosc(zarr.CnameSnappy, 5, zarr.ShuffleByte)},
		{"blosc blosclz", newBlosc(zarr.CnameBloscLZ, 5, zarr.ShuffleByte)},
	}

	payloads := map[string][]byte{
		"smooth": float64Payload(t, 1024),
		"random": randomPayload(t, 1024*8),
		"empty":  {},
	}

	for _, tc := range codecs {
		for pname, payload := range payloads {
			t.Run(tc.name+"/"+pname, func(t *testing.T) {
				encoded, err := tc.codec.Encode(payload, 8)
				require.NoError(t, err)

				decoded, err := tc.codec.Decode(encoded, 8)
				require.NoError(t, err)
				if len(payload) == 0 {
					require.Empty(t, decoded)
					return
				}
				require.True(t, bytes.Equal(payload, decoded))
			})
		}
	}
}

func TestCodecValidation(t *testing.T) {
	_, err := zarr.NewZlib(10)
	require.Error(t, err)
	_, err = zarr.NewGzip(-1)
	require.Error(t, err)
	_, err = zarr.NewZstd(0)
	require.Error(t, err)
	_, err = zarr.NewZstd(23)
	require.Error(t, err)
	_, err = zarr.NewBlosc(zarr.CnameZstd, 10, zarr.ShuffleNone)
	require.Error(t, err)
	_, err = zarr.NewBlosc(zarr.CnameZstd, 5, zarr.ShuffleBit)
	require.Error(t, err)
}

func TestCodecFromV2Config(t *testing.T) {
	build := []func() (zarr.Codec, error){
		func() (zarr.Codec, error) { return zarr.NewZlib(1) },
		func() (zarr.Codec, error) { return zarr.NewGzip(9) },
		func() (zarr.Codec, error) { return zarr.NewZstd(3) },
		func() (zarr.Codec, error) { return zarr.NewLZ4(3) },
		func() (zarr.Codec, error) { return zarr.NewBlosc(zarr.CnameLZ4HC, 3, zarr.ShuffleByte) },
	}

	payload := float64Payload(t, 256)
	for _, fn := range build {
		original, err := fn()
		require.NoError(t, err)

		rebuilt, err := zarr.CodecFromV2Config(original.V2Config())
		require.NoError(t, err)
		require.Equal(t, original.ID(), rebuilt.ID())

		encoded, err := original.Encode(payload, 8)
		require.NoError(t, err)
		decoded, err := rebuilt.Decode(encoded, 8)
		require.NoError(t, err)
		require.True(t, bytes.Equal(payload, decoded))
	}

	nilCodec, err := zarr.CodecFromV2Config(nil)
	require.NoError(t, err)
	require.Nil(t, nilCodec)

	_, err = zarr.CodecFromV2Config(&zarr.CompressorConfig{ID: "bz2"})
	require.Error(t, err)
}

func TestCompressorConfigKeepsZeroLevels(t *testing.T) {
	// numcodecs always emits the level field, even at 0.
	zl, err := zarr.NewZlib(0)
	require.NoError(t, err)
	raw, err := json.Marshal(zl.V2Config())
	require.NoError(t, err)
	require.JSONEq(t, `{"id": "zlib", "level": 0}`, string(raw))

	bl, err := zarr.NewBlosc(zarr.CnameZstd, 0, zarr.ShuffleNone)
	require.NoError(t, err)
	raw, err = json.Marshal(bl.V2Config())
	require.NoError(t, err)
	require.JSONEq(t, `{"id": "blosc", "cname": "zstd", "clevel": 0, "shuffle": 0, "blocksize": 0}`, string(raw))
}

func TestLZ4IncompressibleInput(t *testing.T) {
	codec, err := zarr.NewLZ4(1)
	require.NoError(t, err)

	payload := randomPayload(t, 4096)
	encoded, err := codec.Encode(payload, 8)
	require.NoError(t, err)
	require.Equal(t, uint32(len(payload)), binary.LittleEndian.Uint32(encoded))

	decoded, err := codec.Decode(encoded, 8)
	require.NoError(t, err)
	require.True(t, bytes.Equal(payload, decoded))
}
