package zarr

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// Dataset reads a Zarr V2 array in batches along the leading dimension,
// yielding tensors. It is the consumption side of the generated fixtures:
// a training loop pulls successive slabs without holding the whole array.
type Dataset struct {
	bucket       *blob.Bucket
	owned        bool
	meta         *Metadata
	codec        Codec
	order        binary.ByteOrder
	separator    string
	CurrentIndex int
}

// NewDataset opens the array at the given bucket URL.
func NewDataset(ctx context.Context, path string) (*Dataset, error) {
	bucket, err := blob.OpenBucket(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open bucket: %w", err)
	}
	ds, err := newDataset(ctx, bucket)
	if err != nil {
		bucket.Close()
		return nil, err
	}
	ds.owned = true
	return ds, nil
}

// NewDatasetFromBucket opens the array stored under the given prefix of an
// already-open bucket. The caller keeps ownership of the bucket.
func NewDatasetFromBucket(ctx context.Context, bucket *blob.Bucket, prefix string) (*Dataset, error) {
	if prefix != "" {
		bucket = blob.PrefixedBucket(bucket, prefix+"/")
	}
	return newDataset(ctx, bucket)
}

func newDataset(ctx context.Context, bucket *blob.Bucket) (*Dataset, error) {
	reader, err := bucket.NewReader(ctx, ".zarray", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open .zarray: %w", err)
	}
	defer reader.Close()

	meta, err := LoadMetadata(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to load metadata: %w", err)
	}
	if len(meta.Shape) == 0 {
		return nil, fmt.Errorf("cannot batch over a 0D array")
	}

	var codec Codec
	if meta.Compressor != nil {
		codec, err = CodecFromV2Config(meta.Compressor)
		if err != nil {
			return nil, fmt.Errorf("unsupported compressor: %w", err)
		}
	}

	separator := meta.DimensionSeparator
	if separator == "" {
		separator = "."
	}

	return &Dataset{
		bucket:    bucket,
		meta:      meta,
		codec:     codec,
		order:     DTypeEndian(meta.DType).byteOrder(),
		separator: separator,
	}, nil
}

// Metadata returns the parsed .zarray document.
func (d *Dataset) Metadata() *Metadata {
	return d.meta
}

// Close releases the underlying bucket when the dataset owns it.
func (d *Dataset) Close() error {
	if d.owned {
		return d.bucket.Close()
	}
	return nil
}

// NextBatch reads the next batch of at most batchSize slabs along the
// leading dimension. Returns io.EOF when the array is exhausted.
func (d *Dataset) NextBatch(ctx context.Context, batchSize int) (*tensors.Tensor, error) {
	if d.CurrentIndex >= d.meta.Shape[0] {
		return nil, io.EOF
	}

	start := d.CurrentIndex
	end := start + batchSize
	if end > d.meta.Shape[0] {
		end = d.meta.Shape[0]
	}

	batchShape := make([]int, len(d.meta.Shape))
	batchShape[0] = end - start
	copy(batchShape[1:], d.meta.Shape[1:])
	totalElements := elemCount(batchShape)

	var f64Batch []float64
	var i64Batch []int64
	switch d.meta.DType {
	case "<f8", ">f8":
		f64Batch = make([]float64, totalElements)
	case "<i8", ">i8":
		i64Batch = make([]int64, totalElements)
	default:
		return nil, fmt.Errorf("unsupported dtype: %s", d.meta.DType)
	}

	// Only chunks overlapping [start, end) in the leading dimension are
	// touched; every chunk in the other dimensions is needed.
	grid := GridShape(d.meta.Shape, d.meta.Chunks)
	subGridStart := make([]int, len(grid))
	subGridEnd := make([]int, len(grid))
	copy(subGridEnd, grid)
	subGridStart[0] = start / d.meta.Chunks[0]
	subGridEnd[0] = (end-1)/d.meta.Chunks[0] + 1

	err := iterateSubGrid(subGridStart, subGridEnd, func(chunkIndices []int) error {
		chunkBytes, err := d.readChunk(ctx, chunkIndices)
		if err != nil {
			return err
		}
		if chunkBytes == nil {
			return nil // missing chunk, leave fill
		}
		return d.copyChunkToBatch(f64Batch, i64Batch, chunkBytes, chunkIndices, start, end, batchShape)
	})
	if err != nil {
		return nil, err
	}

	d.CurrentIndex = end
	if f64Batch != nil {
		return tensors.FromFlatDataAndDimensions(f64Batch, batchShape...), nil
	}
	return tensors.FromFlatDataAndDimensions(i64Batch, batchShape...), nil
}

func (d *Dataset) readChunk(ctx context.Context, chunkIndices []int) ([]byte, error) {
	key := ChunkKey(chunkIndices, d.separator)

	reader, err := d.bucket.NewReader(ctx, key, nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open chunk %s: %w", key, err)
	}
	defer reader.Close()

	chunkBytes, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read chunk %s: %w", key, err)
	}

	if d.codec != nil {
		chunkBytes, err = d.codec.Decode(chunkBytes, 8)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress chunk %s: %w", key, err)
		}
	}
	return chunkBytes, nil
}

func (d *Dataset) copyChunkToBatch(f64Batch []float64, i64Batch []int64, chunkBytes []byte, chunkIndices []int, batchStart, batchEnd int, batchShape []int) error {
	meta := d.meta

	chunkStart := make([]int, len(meta.Shape))
	chunkEnd := make([]int, len(meta.Shape))
	for i, idx := range chunkIndices {
		chunkStart[i] = idx * meta.Chunks[i]
		chunkEnd[i] = chunkStart[i] + meta.Chunks[i]
		if chunkEnd[i] > meta.Shape[i] {
			chunkEnd[i] = meta.Shape[i]
		}
	}

	// Intersect with the batch: [batchStart, batchEnd) in dim 0, the full
	// extent in the others.
	intersectStart := make([]int, len(meta.Shape))
	intersectShape := make([]int, len(meta.Shape))
	intersectStart[0] = max(batchStart, chunkStart[0])
	intersectShape[0] = min(batchEnd, chunkEnd[0]) - intersectStart[0]
	if intersectShape[0] <= 0 {
		return nil
	}
	for i := 1; i < len(meta.Shape); i++ {
		intersectStart[i] = chunkStart[i]
		intersectShape[i] = chunkEnd[i] - chunkStart[i]
	}

	batchStrides := strides(batchShape)
	chunkStrides := strides(meta.Chunks)

	return iterateSubGrid(make([]int, len(meta.Shape)), intersectShape, func(relIndices []int) error {
		chunkOffset := 0
		batchIndex := 0
		for i := range relIndices {
			global := intersectStart[i] + relIndices[i]
			chunkOffset += (global - chunkStart[i]) * chunkStrides[i]
			if i == 0 {
				batchIndex += (global - batchStart) * batchStrides[i]
			} else {
				batchIndex += global * batchStrides[i]
			}
		}

		byteOffset := chunkOffset * 8
		if byteOffset+8 > len(chunkBytes) {
			return fmt.Errorf("chunk index out of bounds")
		}

		bits := d.order.Uint64(chunkBytes[byteOffset:])
		if f64Batch != nil {
			f64Batch[batchIndex] = math.Float64frombits(bits)
		} else {
			i64Batch[batchIndex] = int64(bits)
		}
		return nil
	})
}
