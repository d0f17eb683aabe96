package zarr

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"

	"gocloud.dev/blob"
)

// Encoding is the per-variable storage directive: how an array is chunked,
// optionally sharded, compressed and byte-ordered on disk. It is not part
// of the array's semantic content.
type Encoding struct {
	Chunks     []int
	Shards     []int // optional; must be a multiple of Chunks per dimension
	Compressor Codec // nil writes raw chunks
	Endian     Endian
}

// Array is a named n-dimensional array ready for serialization. Data holds
// the C-order little-endian element bytes; the writer applies the byte
// order requested by the encoding.
type Array struct {
	Name     string
	Shape    []int
	Dims     []string
	DType    DType
	Data     []byte
	Attrs    map[string]any
	Encoding Encoding
}

func (a *Array) validate() (chunks []int, err error) {
	if a.Name == "" {
		return nil, fmt.Errorf("array has no name")
	}
	itemSize := a.DType.Size()
	if len(a.Data) != elemCount(a.Shape)*itemSize {
		return nil, fmt.Errorf("array %s: data length %d does not match shape %v",
			a.Name, len(a.Data), a.Shape)
	}
	if len(a.Dims) != len(a.Shape) {
		return nil, fmt.Errorf("array %s: %d dimension names for rank %d",
			a.Name, len(a.Dims), len(a.Shape))
	}

	chunks = a.Encoding.Chunks
	if chunks == nil {
		chunks = a.Shape // single full-shape chunk
	}
	if len(chunks) != len(a.Shape) {
		return nil, fmt.Errorf("array %s: chunk rank %d does not match array rank %d",
			a.Name, len(chunks), len(a.Shape))
	}
	for i, c := range chunks {
		if c <= 0 {
			return nil, fmt.Errorf("array %s: non-positive chunk size in dimension %d", a.Name, i)
		}
	}

	if a.Encoding.Shards != nil {
		if len(a.Encoding.Shards) != len(a.Shape) {
			return nil, fmt.Errorf("array %s: shard rank %d does not match array rank %d",
				a.Name, len(a.Encoding.Shards), len(a.Shape))
		}
		for i, s := range a.Encoding.Shards {
			if s <= 0 || s%chunks[i] != 0 {
				return nil, fmt.Errorf("array %s: shard shape %v is not a multiple of chunk shape %v in dimension %d",
					a.Name, a.Encoding.Shards, chunks, i)
			}
		}
	}
	return chunks, nil
}

// Writer serializes arrays into a Zarr store backed by a blob bucket. It
// records every metadata document it writes so the store can be
// consolidated afterwards.
type Writer struct {
	bucket *blob.Bucket

	v2docs map[string]json.RawMessage
	v3meta map[string]*ArrayMetadataV3
}

// NewWriter opens the bucket at the given URL (e.g. "file:///path") and
// returns a writer for it.
func NewWriter(ctx context.Context, path string) (*Writer, error) {
	bucket, err := blob.OpenBucket(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open bucket: %w", err)
	}
	return NewWriterFromBucket(bucket), nil
}

// NewWriterFromBucket wraps an already-open bucket. The writer takes
// ownership; Close releases the bucket.
func NewWriterFromBucket(bucket *blob.Bucket) *Writer {
	return &Writer{
		bucket: bucket,
		v2docs: map[string]json.RawMessage{},
		v3meta: map[string]*ArrayMetadataV3{},
	}
}

// Close closes the underlying bucket.
func (w *Writer) Close() error {
	return w.bucket.Close()
}

func (w *Writer) putJSON(ctx context.Context, key string, doc any) ([]byte, error) {
	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if err := w.bucket.WriteAll(ctx, key, data, nil); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", key, err)
	}
	return data, nil
}

// ---------------------------------------------------------------------------
// Zarr V2
// ---------------------------------------------------------------------------

// WriteGroupV2 writes the root .zgroup and .zattrs documents.
func (w *Writer) WriteGroupV2(ctx context.Context, attrs map[string]any) error {
	group := map[string]any{"zarr_format": 2}
	data, err := w.putJSON(ctx, ".zgroup", group)
	if err != nil {
		return err
	}
	w.v2docs[".zgroup"] = data

	if attrs == nil {
		attrs = map[string]any{}
	}
	data, err = w.putJSON(ctx, ".zattrs", attrs)
	if err != nil {
		return err
	}
	w.v2docs[".zattrs"] = data
	return nil
}

// WriteArrayV2 writes one array in Zarr V2 layout: .zarray, .zattrs (with
// the xarray _ARRAY_DIMENSIONS convention) and "."-separated chunk keys.
func (w *Writer) WriteArrayV2(ctx context.Context, a Array) error {
	chunks, err := a.validate()
	if err != nil {
		return err
	}
	if a.Encoding.Shards != nil {
		return fmt.Errorf("array %s: sharding requires Zarr V3", a.Name)
	}
	itemSize := a.DType.Size()

	var comp *CompressorConfig
	if a.Encoding.Compressor != nil {
		comp = a.Encoding.Compressor.V2Config()
	}
	meta := Metadata{
		ZarrFormat: 2,
		Shape:      a.Shape,
		Chunks:     chunks,
		DType:      a.DType.V2String(a.Encoding.Endian),
		Compressor: comp,
		FillValue:  a.DType.fillValueV2(),
		Order:      "C",
	}

	key := a.Name + "/.zarray"
	data, err := w.putJSON(ctx, key, &meta)
	if err != nil {
		return err
	}
	w.v2docs[key] = data

	attrs := map[string]any{"_ARRAY_DIMENSIONS": a.Dims}
	for k, v := range a.Attrs {
		attrs[k] = v
	}
	key = a.Name + "/.zattrs"
	data, err = w.putJSON(ctx, key, attrs)
	if err != nil {
		return err
	}
	w.v2docs[key] = data

	grid := GridShape(a.Shape, chunks)
	return iterateSubGrid(make([]int, len(grid)), grid, func(coords []int) error {
		chunk := extractChunk(a.Data, a.Shape, chunks, coords, itemSize)
		encoded, err := w.encodeChunk(chunk, a)
		if err != nil {
			return fmt.Errorf("array %s chunk %v: %w", a.Name, coords, err)
		}
		chunkKey := a.Name + "/" + ChunkKey(coords, ".")
		if err := w.bucket.WriteAll(ctx, chunkKey, encoded, nil); err != nil {
			return fmt.Errorf("failed to write chunk %s: %w", chunkKey, err)
		}
		return nil
	})
}

// ConsolidateV2 aggregates every metadata document written so far into the
// .zmetadata key (zarr_consolidated_format 1).
func (w *Writer) ConsolidateV2(ctx context.Context) error {
	doc := ConsolidatedMetadataV2{
		Metadata:           w.v2docs,
		ConsolidatedFormat: 1,
	}
	_, err := w.putJSON(ctx, ".zmetadata", &doc)
	return err
}

// encodeChunk applies byte order and compression to one extracted chunk.
func (w *Writer) encodeChunk(chunk []byte, a Array) ([]byte, error) {
	itemSize := a.DType.Size()
	if a.Encoding.Endian == BigEndian {
		chunk = swapEndian(chunk, itemSize)
	}
	if a.Encoding.Compressor == nil {
		return chunk, nil
	}
	return a.Encoding.Compressor.Encode(chunk, itemSize)
}

// swapEndian reverses each itemSize-byte group. The input is not modified.
func swapEndian(data []byte, itemSize int) []byte {
	out := make([]byte, len(data))
	for i := 0; i < len(data); i += itemSize {
		for j := 0; j < itemSize; j++ {
			out[i+j] = data[i+itemSize-1-j]
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Zarr V3
// ---------------------------------------------------------------------------

// codecChainV3 is the array-to-bytes chain for unsharded data: the bytes
// codec with the requested endianness, then the optional compressor.
func codecChainV3(a Array) []CodecSpec {
	chain := []CodecSpec{{
		Name:          "bytes",
		Configuration: map[string]any{"endian": a.Encoding.Endian.String()},
	}}
	if a.Encoding.Compressor != nil {
		chain = append(chain, a.Encoding.Compressor.V3Spec(a.DType.Size()))
	}
	return chain
}

// WriteArrayV3 writes one array in Zarr V3 layout: a zarr.json document and
// "c/"-prefixed chunk keys, sharded when the encoding carries a shard shape.
func (w *Writer) WriteArrayV3(ctx context.Context, a Array) error {
	chunks, err := a.validate()
	if err != nil {
		return err
	}

	gridShape := chunks
	codecs := codecChainV3(a)
	if a.Encoding.Shards != nil {
		gridShape = a.Encoding.Shards
		codecs = []CodecSpec{{
			Name: "sharding_indexed",
			Configuration: map[string]any{
				"chunk_shape": chunks,
				"codecs":      codecChainV3(a),
				"index_codecs": []CodecSpec{
					{Name: "bytes", Configuration: map[string]any{"endian": "little"}},
					{Name: "crc32c"},
				},
				"index_location": "end",
			},
		}}
	}

	meta := &ArrayMetadataV3{
		ZarrFormat: 3,
		NodeType:   "array",
		Shape:      a.Shape,
		DataType:   a.DType.V3Name(),
		ChunkGrid: NamedConfig{
			Name:          "regular",
			Configuration: map[string]any{"chunk_shape": gridShape},
		},
		ChunkKeyEncoding: NamedConfig{
			Name:          "default",
			Configuration: map[string]any{"separator": "/"},
		},
		FillValue:      a.DType.fillValueV3(),
		Codecs:         codecs,
		Attributes:     a.Attrs,
		DimensionNames: a.Dims,
	}
	if _, err := w.putJSON(ctx, a.Name+"/zarr.json", meta); err != nil {
		return err
	}
	w.v3meta[a.Name] = meta

	if a.Encoding.Shards != nil {
		return w.writeShardsV3(ctx, a, chunks)
	}

	itemSize := a.DType.Size()
	grid := GridShape(a.Shape, chunks)
	return iterateSubGrid(make([]int, len(grid)), grid, func(coords []int) error {
		chunk := extractChunk(a.Data, a.Shape, chunks, coords, itemSize)
		encoded, err := w.encodeChunk(chunk, a)
		if err != nil {
			return fmt.Errorf("array %s chunk %v: %w", a.Name, coords, err)
		}
		chunkKey := a.Name + "/" + ChunkKeyV3(coords)
		if err := w.bucket.WriteAll(ctx, chunkKey, encoded, nil); err != nil {
			return fmt.Errorf("failed to write chunk %s: %w", chunkKey, err)
		}
		return nil
	})
}

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// writeShardsV3 writes the array as two-tier shards: each shard object is
// the concatenation of its encoded inner chunks followed by a
// (u64 offset, u64 nbytes) index entry per inner chunk and a CRC-32C of
// the index. Inner chunks that fall entirely outside the array are marked
// missing (all-ones offset and length).
func (w *Writer) writeShardsV3(ctx context.Context, a Array, chunks []int) error {
	itemSize := a.DType.Size()
	shards := a.Encoding.Shards
	shardGrid := GridShape(a.Shape, shards)

	chunksPerShard := make([]int, len(shards))
	innerTotal := 1
	for i := range shards {
		chunksPerShard[i] = shards[i] / chunks[i]
		innerTotal *= chunksPerShard[i]
	}
	chunkGrid := GridShape(a.Shape, chunks)

	return iterateSubGrid(make([]int, len(shardGrid)), shardGrid, func(shardCoords []int) error {
		var payload []byte
		index := make([]byte, 0, innerTotal*16)

		err := iterateSubGrid(make([]int, len(shards)), chunksPerShard, func(inner []int) error {
			coords := make([]int, len(shards))
			missing := false
			for i := range coords {
				coords[i] = shardCoords[i]*chunksPerShard[i] + inner[i]
				if coords[i] >= chunkGrid[i] {
					missing = true
				}
			}
			if missing {
				index = binary.LittleEndian.AppendUint64(index, ^uint64(0))
				index = binary.LittleEndian.AppendUint64(index, ^uint64(0))
				return nil
			}

			chunk := extractChunk(a.Data, a.Shape, chunks, coords, itemSize)
			encoded, err := w.encodeChunk(chunk, a)
			if err != nil {
				return fmt.Errorf("array %s chunk %v: %w", a.Name, coords, err)
			}
			index = binary.LittleEndian.AppendUint64(index, uint64(len(payload)))
			index = binary.LittleEndian.AppendUint64(index, uint64(len(encoded)))
			payload = append(payload, encoded...)
			return nil
		})
		if err != nil {
			return err
		}

		index = binary.LittleEndian.AppendUint32(index, crc32.Checksum(index, crc32cTable))
		shard := append(payload, index...)

		shardKey := a.Name + "/" + ChunkKeyV3(shardCoords)
		if err := w.bucket.WriteAll(ctx, shardKey, shard, nil); err != nil {
			return fmt.Errorf("failed to write shard %s: %w", shardKey, err)
		}
		return nil
	})
}

// WriteGroupV3 writes the root zarr.json. With consolidation enabled it
// inlines the metadata of every array written so far, so call it after the
// arrays.
func (w *Writer) WriteGroupV3(ctx context.Context, attrs map[string]any, consolidated bool) error {
	group := &GroupMetadataV3{
		ZarrFormat: 3,
		NodeType:   "group",
		Attributes: attrs,
	}
	if consolidated {
		group.ConsolidatedMetadata = &ConsolidatedMetadataV3{
			Kind:           "inline",
			MustUnderstand: false,
			Metadata:       w.v3meta,
		}
	}
	_, err := w.putJSON(ctx, "zarr.json", group)
	return err
}
