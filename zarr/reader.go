package zarr

import (
	"context"
	"fmt"
	"io"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// Reader reads a single Zarr V2 array from a blob bucket whose root holds
// the array's .zarray document.
type Reader struct {
	bucket    *blob.Bucket
	owned     bool
	meta      *Metadata
	codec     Codec
	itemSize  int
	separator string
}

// NewReader opens the array at the given bucket URL (e.g. a "file://" path
// pointing at the array directory).
func NewReader(ctx context.Context, path string) (*Reader, error) {
	bucket, err := blob.OpenBucket(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open bucket: %w", err)
	}
	r, err := newReader(ctx, bucket)
	if err != nil {
		bucket.Close()
		return nil, err
	}
	r.owned = true
	return r, nil
}

// NewReaderFromBucket opens the array stored under the given prefix of an
// already-open bucket. The caller keeps ownership of the bucket.
func NewReaderFromBucket(ctx context.Context, bucket *blob.Bucket, prefix string) (*Reader, error) {
	if prefix != "" {
		bucket = blob.PrefixedBucket(bucket, prefix+"/")
	}
	return newReader(ctx, bucket)
}

func newReader(ctx context.Context, bucket *blob.Bucket) (*Reader, error) {
	reader, err := bucket.NewReader(ctx, ".zarray", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open .zarray: %w", err)
	}
	defer reader.Close()

	meta, err := LoadMetadata(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to load metadata: %w", err)
	}

	_, itemSize, err := ParseDType(meta.DType)
	if err != nil {
		return nil, fmt.Errorf("invalid dtype: %w", err)
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

	return &Reader{
		bucket:    bucket,
		meta:      meta,
		codec:     codec,
		itemSize:  itemSize,
		separator: separator,
	}, nil
}

// ReadFull reads the entire array into a flat byte slice in C order. The
// bytes keep the on-disk byte order declared by the dtype.
func (r *Reader) ReadFull(ctx context.Context) ([]byte, error) {
	buffer := make([]byte, elemCount(r.meta.Shape)*r.itemSize)

	// A 0D array has a single chunk stored under "0".
	if len(r.meta.Shape) == 0 {
		reader, err := r.bucket.NewReader(ctx, "0", nil)
		if err != nil {
			if gcerrors.Code(err) == gcerrors.NotFound {
				return buffer, nil
			}
			return nil, fmt.Errorf("failed to open 0D chunk: %w", err)
		}
		defer reader.Close()
		_, err = io.ReadFull(reader, buffer)
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("failed to read 0D chunk: %w", err)
		}
		return buffer, nil
	}

	grid := GridShape(r.meta.Shape, r.meta.Chunks)
	globalStrides := strides(r.meta.Shape)
	chunkStrides := strides(r.meta.Chunks)

	err := iterateSubGrid(make([]int, len(grid)), grid, func(coords []int) error {
		chunkData, err := r.ReadChunk(ctx, coords)
		if err != nil {
			return err
		}

		copyShape := make([]int, len(r.meta.Shape))
		srcOffset := make([]int, len(r.meta.Shape))
		dstOffset := make([]int, len(r.meta.Shape))
		for i, coord := range coords {
			start := coord * r.meta.Chunks[i]
			end := start + r.meta.Chunks[i]
			if end > r.meta.Shape[i] {
				end = r.meta.Shape[i]
			}
			copyShape[i] = end - start
			dstOffset[i] = start
		}

		copyND(buffer, globalStrides, dstOffset, chunkData, chunkStrides, srcOffset, copyShape, r.itemSize)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return buffer, nil
}

// ReadChunk reads and decompresses a single chunk given its grid
// coordinates. A missing chunk comes back zero-filled at full chunk size.
func (r *Reader) ReadChunk(ctx context.Context, coords []int) ([]byte, error) {
	key := ChunkKey(coords, r.separator)

	reader, err := r.bucket.NewReader(ctx, key, nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return make([]byte, elemCount(r.meta.Chunks)*r.itemSize), nil
		}
		return nil, fmt.Errorf("failed to open chunk %s: %w", key, err)
	}
	defer reader.Close()

	chunkData, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read chunk %s: %w", key, err)
	}

	if r.codec != nil {
		chunkData, err = r.codec.Decode(chunkData, r.itemSize)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress chunk %s: %w", key, err)
		}
	}

	return chunkData, nil
}

// ReadRegion reads an n-dimensional region of the array.
func (r *Reader) ReadRegion(ctx context.Context, start, shape []int) ([]byte, error) {
	if len(start) != len(r.meta.Shape) || len(shape) != len(r.meta.Shape) {
		return nil, fmt.Errorf("start and shape must match array dimensionality")
	}
	for i := range r.meta.Shape {
		if start[i] < 0 || shape[i] <= 0 || start[i]+shape[i] > r.meta.Shape[i] {
			return nil, fmt.Errorf("region out of bounds at dimension %d", i)
		}
	}

	out := make([]byte, elemCount(shape)*r.itemSize)

	if len(r.meta.Shape) == 0 {
		return r.ReadChunk(ctx, []int{})
	}

	minChunk := make([]int, len(start))
	maxChunk := make([]int, len(start))
	for i := range start {
		minChunk[i] = start[i] / r.meta.Chunks[i]
		maxChunk[i] = (start[i] + shape[i] - 1) / r.meta.Chunks[i]
	}

	dstStrides := strides(shape)
	chunkStrides := strides(r.meta.Chunks)

	end := make([]int, len(maxChunk))
	for i := range maxChunk {
		end[i] = maxChunk[i] + 1
	}

	err := iterateSubGrid(append([]int(nil), minChunk...), end, func(coords []int) error {
		chunkData, err := r.ReadChunk(ctx, coords)
		if err != nil {
			return err
		}

		copyShape := make([]int, len(r.meta.Shape))
		srcOffset := make([]int, len(r.meta.Shape))
		dstOffset := make([]int, len(r.meta.Shape))

		for i := range r.meta.Shape {
			chunkStart := coords[i] * r.meta.Chunks[i]
			chunkEnd := chunkStart + r.meta.Chunks[i]
			if chunkEnd > r.meta.Shape[i] {
				chunkEnd = r.meta.Shape[i]
			}

			intersectStart := max(chunkStart, start[i])
			intersectEnd := min(chunkEnd, start[i]+shape[i])
			if intersectStart >= intersectEnd {
				return nil
			}

			copyShape[i] = intersectEnd - intersectStart
			srcOffset[i] = intersectStart - chunkStart
			dstOffset[i] = intersectStart - start[i]
		}

		copyND(out, dstStrides, dstOffset, chunkData, chunkStrides, srcOffset, copyShape, r.itemSize)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// Metadata returns the parsed .zarray document.
func (r *Reader) Metadata() *Metadata {
	return r.meta
}

// Close releases the underlying bucket when the reader owns it.
func (r *Reader) Close() error {
	if r.owned {
		return r.bucket.Close()
	}
	return nil
}
