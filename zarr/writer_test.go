package zarr_test

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	_ "gocloud.dev/blob/fileblob"

	"github.com/TuSKan/zarr-testdata/zarr"
)

// counting4x4 is a 4x4 float64 array holding 0..15 in C order, as raw
// little-endian bytes.
func counting4x4(t *testing.T) []byte {
	t.Helper()
	out := make([]byte, 16*8)
	for i := 0; i < 16; i++ {
		binary.LittleEndian.PutUint64(out[i*8:], math.Float64bits(float64(i)))
	}
	return out
}

func newTestWriter(t *testing.T) (*zarr.Writer, string) {
	t.Helper()
	dir := t.TempDir()
	w, err := zarr.NewWriter(context.Background(), "file://"+dir+"?metadata=skip")
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w, dir
}

func TestWriteArrayV2RoundTrip(t *testing.T) {
	ctx := context.Background()
	w, dir := newTestWriter(t)

	compressor, err := zarr.NewBlosc(zarr.CnameZstd, 5, zarr.ShuffleByte)
	require.NoError(t, err)

	data := counting4x4(t)
	require.NoError(t, w.WriteArrayV2(ctx, zarr.Array{
		Name:  "temperature",
		Shape: []int{4, 4},
		Dims:  []string{"y", "x"},
		DType: zarr.Float64,
		Data:  data,
		Attrs: map[string]any{"units": "K"},
		Encoding: zarr.Encoding{
			Chunks:     []int{2, 2},
			Compressor: compressor,
		},
	}))

	// Metadata document.
	rawMeta, err := os.ReadFile(filepath.Join(dir, "temperature", ".zarray"))
	require.NoError(t, err)
	var meta zarr.Metadata
	require.NoError(t, json.Unmarshal(rawMeta, &meta))
	require.Equal(t, 2, meta.ZarrFormat)
	require.Equal(t, []int{4, 4}, meta.Shape)
	require.Equal(t, []int{2, 2}, meta.Chunks)
	require.Equal(t, "<f8", meta.DType)
	require.Equal(t, "C", meta.Order)
	require.Equal(t, "NaN", meta.FillValue)
	require.Nil(t, meta.Filters)
	require.Equal(t, "blosc", meta.Compressor.ID)
	require.Equal(t, "zstd", meta.Compressor.Cname)

	// Dimension names per the xarray convention.
	rawAttrs, err := os.ReadFile(filepath.Join(dir, "temperature", ".zattrs"))
	require.NoError(t, err)
	var attrs map[string]any
	require.NoError(t, json.Unmarshal(rawAttrs, &attrs))
	require.Equal(t, []any{"y", "x"}, attrs["_ARRAY_DIMENSIONS"])
	require.Equal(t, "K", attrs["units"])

	// All four chunks present with "." keys.
	for _, key := range []string{"0.0", "0.1", "1.0", "1.1"} {
		_, err := os.Stat(filepath.Join(dir, "temperature", key))
		require.NoError(t, err, "chunk %s", key)
	}

	// Full read back through the reader.
	r, err := zarr.NewReader(ctx, "file://"+filepath.Join(dir, "temperature"))
	require.NoError(t, err)
	defer r.Close()

	got, err := r.ReadFull(ctx)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestWriteArrayV2BigEndian(t *testing.T) {
	ctx := context.Background()
	w, dir := newTestWriter(t)

	data := counting4x4(t)
	require.NoError(t, w.WriteArrayV2(ctx, zarr.Array{
		Name:     "wind_zlib_big",
		Shape:    []int{4, 4},
		Dims:     []string{"y", "x"},
		DType:    zarr.Float64,
		Data:     data,
		Encoding: zarr.Encoding{Endian: zarr.BigEndian},
	}))

	rawMeta, err := os.ReadFile(filepath.Join(dir, "wind_zlib_big", ".zarray"))
	require.NoError(t, err)
	var meta zarr.Metadata
	require.NoError(t, json.Unmarshal(rawMeta, &meta))
	require.Equal(t, ">f8", meta.DType)
	// Chunks default to the full shape.
	require.Equal(t, []int{4, 4}, meta.Chunks)

	// The single chunk holds big-endian bytes.
	chunk, err := os.ReadFile(filepath.Join(dir, "wind_zlib_big", "0.0"))
	require.NoError(t, err)
	require.Len(t, chunk, 16*8)
	for i := 0; i < 16; i++ {
		require.Equal(t, float64(i), math.Float64frombits(binary.BigEndian.Uint64(chunk[i*8:])))
	}
}

func TestConsolidateV2(t *testing.T) {
	ctx := context.Background()
	w, dir := newTestWriter(t)

	require.NoError(t, w.WriteGroupV2(ctx, map[string]any{"projection": "lambert_conformal"}))
	require.NoError(t, w.WriteArrayV2(ctx, zarr.Array{
		Name:  "temperature",
		Shape: []int{4, 4},
		Dims:  []string{"y", "x"},
		DType: zarr.Float64,
		Data:  counting4x4(t),
	}))
	require.NoError(t, w.ConsolidateV2(ctx))

	raw, err := os.ReadFile(filepath.Join(dir, ".zmetadata"))
	require.NoError(t, err)
	var doc struct {
		Metadata           map[string]json.RawMessage `json:"metadata"`
		ConsolidatedFormat int                        `json:"zarr_consolidated_format"`
	}
	require.NoError(t, json.Unmarshal(raw, &doc))
	require.Equal(t, 1, doc.ConsolidatedFormat)
	for _, key := range []string{".zgroup", ".zattrs", "temperature/.zarray", "temperature/.zattrs"} {
		require.Contains(t, doc.Metadata, key)
	}

	// Consolidated entries mirror the standalone documents.
	standalone, err := os.ReadFile(filepath.Join(dir, "temperature", ".zarray"))
	require.NoError(t, err)
	require.JSONEq(t, string(standalone), string(doc.Metadata["temperature/.zarray"]))
}

func TestWriteArrayV3(t *testing.T) {
	ctx := context.Background()
	w, dir := newTestWriter(t)

	compressor, err := zarr.NewBlosc(zarr.CnameZstd, 5, zarr.ShuffleByte)
	require.NoError(t, err)

	data := counting4x4(t)
	require.NoError(t, w.WriteArrayV3(ctx, zarr.Array{
		Name:  "temperature",
		Shape: []int{4, 4},
		Dims:  []string{"y", "x"},
		DType: zarr.Float64,
		Data:  data,
		Encoding: zarr.Encoding{
			Chunks:     []int{2, 2},
			Compressor: compressor,
		},
	}))
	require.NoError(t, w.WriteGroupV3(ctx, map[string]any{"source": "synthetic"}, true))

	raw, err := os.ReadFile(filepath.Join(dir, "temperature", "zarr.json"))
	require.NoError(t, err)
	var meta map[string]any
	require.NoError(t, json.Unmarshal(raw, &meta))
	require.Equal(t, float64(3), meta["zarr_format"])
	require.Equal(t, "array", meta["node_type"])
	require.Equal(t, "float64", meta["data_type"])
	require.Equal(t, "NaN", meta["fill_value"])
	require.Equal(t, []any{"y", "x"}, meta["dimension_names"])

	grid := meta["chunk_grid"].(map[string]any)
	require.Equal(t, "regular", grid["name"])
	keyEnc := meta["chunk_key_encoding"].(map[string]any)
	require.Equal(t, "default", keyEnc["name"])
	require.Equal(t, "/", keyEnc["configuration"].(map[string]any)["separator"])

	codecs := meta["codecs"].([]any)
	require.Len(t, codecs, 2)
	require.Equal(t, "bytes", codecs[0].(map[string]any)["name"])
	require.Equal(t, "little", codecs[0].(map[string]any)["configuration"].(map[string]any)["endian"])
	require.Equal(t, "blosc", codecs[1].(map[string]any)["name"])
	bloscCfg := codecs[1].(map[string]any)["configuration"].(map[string]any)
	require.Equal(t, "zstd", bloscCfg["cname"])
	require.Equal(t, "shuffle", bloscCfg["shuffle"])
	require.Equal(t, float64(8), bloscCfg["typesize"])

	// Chunk keys use the "c/" prefix and the compressor round-trips.
	chunk, err := os.ReadFile(filepath.Join(dir, "temperature", "c", "0", "1"))
	require.NoError(t, err)
	decoded, err := compressor.Decode(chunk, 8)
	require.NoError(t, err)
	require.Equal(t, float64(2), math.Float64frombits(binary.LittleEndian.Uint64(decoded)))

	// Root group with inline consolidated metadata.
	raw, err = os.ReadFile(filepath.Join(dir, "zarr.json"))
	require.NoError(t, err)
	var group map[string]any
	require.NoError(t, json.Unmarshal(raw, &group))
	require.Equal(t, float64(3), group["zarr_format"])
	require.Equal(t, "group", group["node_type"])
	consolidated := group["consolidated_metadata"].(map[string]any)
	require.Equal(t, "inline", consolidated["kind"])
	require.Equal(t, false, consolidated["must_understand"])
	require.Contains(t, consolidated["metadata"].(map[string]any), "temperature")
}

func TestWriteArrayV3Sharded(t *testing.T) {
	ctx := context.Background()
	w, dir := newTestWriter(t)

	data := counting4x4(t)
	require.NoError(t, w.WriteArrayV3(ctx, zarr.Array{
		Name:  "gh",
		Shape: []int{4, 4},
		Dims:  []string{"y", "x"},
		DType: zarr.Float64,
		Data:  data,
		Encoding: zarr.Encoding{
			Chunks: []int{2, 2},
			Shards: []int{4, 4},
		},
	}))

	raw, err := os.ReadFile(filepath.Join(dir, "gh", "zarr.json"))
	require.NoError(t, err)
	var meta map[string]any
	require.NoError(t, json.Unmarshal(raw, &meta))

	// The outer chunk grid is the shard shape.
	grid := meta["chunk_grid"].(map[string]any)["configuration"].(map[string]any)
	require.Equal(t, []any{float64(4), float64(4)}, grid["chunk_shape"])

	codecs := meta["codecs"].([]any)
	require.Len(t, codecs, 1)
	sharding := codecs[0].(map[string]any)
	require.Equal(t, "sharding_indexed", sharding["name"])
	cfg := sharding["configuration"].(map[string]any)
	require.Equal(t, []any{float64(2), float64(2)}, cfg["chunk_shape"])
	require.Equal(t, "end", cfg["index_location"])
	indexCodecs := cfg["index_codecs"].([]any)
	require.Equal(t, "bytes", indexCodecs[0].(map[string]any)["name"])
	require.Equal(t, "crc32c", indexCodecs[1].(map[string]any)["name"])

	// One shard holding 4 uncompressed 2x2 chunks plus the index.
	shard, err := os.ReadFile(filepath.Join(dir, "gh", "c", "0", "0"))
	require.NoError(t, err)
	const chunkBytes = 2 * 2 * 8
	const indexBytes = 4*16 + 4
	require.Len(t, shard, 4*chunkBytes+indexBytes)

	index := shard[4*chunkBytes:]
	for i := 0; i < 4; i++ {
		offset := binary.LittleEndian.Uint64(index[i*16:])
		nbytes := binary.LittleEndian.Uint64(index[i*16+8:])
		require.Equal(t, uint64(i*chunkBytes), offset)
		require.Equal(t, uint64(chunkBytes), nbytes)
	}
	crc := binary.LittleEndian.Uint32(index[4*16:])
	require.Equal(t, crc32.Checksum(index[:4*16], crc32.MakeTable(crc32.Castagnoli)), crc)

	// Inner chunk (0,1) covers rows 0-1, cols 2-3.
	chunk1 := shard[chunkBytes : 2*chunkBytes]
	require.Equal(t, float64(2), math.Float64frombits(binary.LittleEndian.Uint64(chunk1)))
	require.Equal(t, float64(3), math.Float64frombits(binary.LittleEndian.Uint64(chunk1[8:])))
	require.Equal(t, float64(6), math.Float64frombits(binary.LittleEndian.Uint64(chunk1[16:])))
	require.Equal(t, float64(7), math.Float64frombits(binary.LittleEndian.Uint64(chunk1[24:])))
}

func TestWriteArrayValidation(t *testing.T) {
	ctx := context.Background()
	w, _ := newTestWriter(t)

	base := zarr.Array{
		Name:  "bad",
		Shape: []int{4, 4},
		Dims:  []string{"y", "x"},
		DType: zarr.Float64,
		Data:  counting4x4(t),
	}

	short := base
	short.Data = short.Data[:8]
	require.Error(t, w.WriteArrayV2(ctx, short))

	wrongRank := base
	wrongRank.Encoding.Chunks = []int{2}
	require.Error(t, w.WriteArrayV2(ctx, wrongRank))

	badShard := base
	badShard.Encoding.Chunks = []int{2, 2}
	badShard.Encoding.Shards = []int{3, 3}
	require.Error(t, w.WriteArrayV3(ctx, badShard))

	shardedV2 := base
	shardedV2.Encoding.Chunks = []int{2, 2}
	shardedV2.Encoding.Shards = []int{4, 4}
	require.Error(t, w.WriteArrayV2(ctx, shardedV2))

	noDims := base
	noDims.Dims = []string{"y"}
	require.Error(t, w.WriteArrayV2(ctx, noDims))
}
