// Command zarrgen generates synthetic meteorological Zarr stores for
// exercising downstream readers: an HRRR-like forecast grid in random and
// gradient flavors plus a terrain field, written in Zarr V2 and V3 with a
// spread of codecs, byte orders, chunkings, shardings, and metadata
// consolidation choices.
//
// Usage:
//
//	go run ./cmd/zarrgen [-out output-datasets] [-out-v2 output-datasets-v2] [-seed N]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gocloud.dev/blob/fileblob"

	"github.com/TuSKan/zarr-testdata/dataset"
	"github.com/TuSKan/zarr-testdata/zarr"
)

// orographySeed pins the terrain noise, matching the shipped fixtures.
const orographySeed = 42

func main() {
	if err := run(); err != nil {
		slog.Error("generation failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	outV3 := flag.String("out", "output-datasets", "output directory for Zarr V3 datasets")
	outV2 := flag.String("out-v2", "output-datasets-v2", "output directory for Zarr V2 datasets")
	seed := flag.Uint64("seed", 1, "base seed for the randomized datasets")
	flag.Parse()

	ctx := context.Background()

	if err := writeV3(ctx, *outV3, *seed); err != nil {
		return err
	}
	if err := writeV2(ctx, *outV2, *seed+1); err != nil {
		return err
	}
	return writeV3Sharded(ctx, *outV3, *seed+2)
}

// writeV3 produces the plain (unsharded) V3 datasets.
func writeV3(ctx context.Context, outDir string, seed uint64) error {
	random, err := dataset.Random(seed, true)
	if err != nil {
		return fmt.Errorf("failed to build random dataset: %w", err)
	}
	if err := dataset.EncodeForecastV3(random, false); err != nil {
		return err
	}
	if err := writeDatasetV3(ctx, outDir, "hrrr_grid_dataset.zarr", random, true); err != nil {
		return err
	}

	gradient, err := dataset.Gradient()
	if err != nil {
		return fmt.Errorf("failed to build gradient dataset: %w", err)
	}
	if err := dataset.EncodeForecastV3(gradient, false); err != nil {
		return err
	}
	dataset.AddFillValueAttrs(gradient)
	if err := writeDatasetV3(ctx, outDir, "hrrr_grid_dataset_constant.zarr", gradient, false); err != nil {
		return err
	}

	orography, err := dataset.Orography(orographySeed)
	if err != nil {
		return fmt.Errorf("failed to build orography dataset: %w", err)
	}
	if err := dataset.EncodeOrographyV3(orography, false); err != nil {
		return err
	}
	return writeDatasetV3(ctx, outDir, "hrrr_orography_dataset.zarr", orography, true)
}

// writeV3Sharded produces the sharded V3 datasets, in the same directory
// as the plain V3 ones.
func writeV3Sharded(ctx context.Context, outDir string, seed uint64) error {
	random, err := dataset.Random(seed, true)
	if err != nil {
		return fmt.Errorf("failed to build random dataset: %w", err)
	}
	if err := dataset.EncodeForecastV3(random, true); err != nil {
		return err
	}
	if err := writeDatasetV3(ctx, outDir, "hrrr_grid_dataset_sharded.zarr", random, true); err != nil {
		return err
	}

	orography, err := dataset.Orography(orographySeed)
	if err != nil {
		return fmt.Errorf("failed to build orography dataset: %w", err)
	}
	if err := dataset.EncodeOrographyV3(orography, true); err != nil {
		return err
	}
	return writeDatasetV3(ctx, outDir, "hrrr_orography_dataset_sharded.zarr", orography, true)
}

// writeV2 produces the V2 datasets.
func writeV2(ctx context.Context, outDir string, seed uint64) error {
	random, err := dataset.Random(seed, true)
	if err != nil {
		return fmt.Errorf("failed to build random dataset: %w", err)
	}
	if err := dataset.EncodeForecastV2(random); err != nil {
		return err
	}
	if err := writeDatasetV2(ctx, outDir, "hrrr_grid_dataset.zarr", random, true); err != nil {
		return err
	}

	// The gradient flavor keeps default encoding and is not consolidated.
	gradient, err := dataset.Gradient()
	if err != nil {
		return fmt.Errorf("failed to build gradient dataset: %w", err)
	}
	return writeDatasetV2(ctx, outDir, "hrrr_grid_dataset_constant.zarr", gradient, false)
}

func writeDatasetV3(ctx context.Context, outDir, name string, ds *dataset.Dataset, consolidated bool) error {
	w, err := openStore(outDir, name)
	if err != nil {
		return err
	}
	defer w.Close()

	slog.Info("writing dataset", "path", filepath.Join(outDir, name), "format", "v3",
		"variables", len(ds.DataVars)+len(ds.Coords), "consolidated", consolidated)

	for _, v := range ds.Variables() {
		if err := w.WriteArrayV3(ctx, v.Array()); err != nil {
			return fmt.Errorf("dataset %s: %w", name, err)
		}
	}
	if err := w.WriteGroupV3(ctx, ds.Attrs, consolidated); err != nil {
		return fmt.Errorf("dataset %s: %w", name, err)
	}
	return nil
}

func writeDatasetV2(ctx context.Context, outDir, name string, ds *dataset.Dataset, consolidate bool) error {
	w, err := openStore(outDir, name)
	if err != nil {
		return err
	}
	defer w.Close()

	slog.Info("writing dataset", "path", filepath.Join(outDir, name), "format", "v2",
		"variables", len(ds.DataVars)+len(ds.Coords), "consolidated", consolidate)

	if err := w.WriteGroupV2(ctx, ds.Attrs); err != nil {
		return fmt.Errorf("dataset %s: %w", name, err)
	}
	for _, v := range ds.Variables() {
		if err := w.WriteArrayV2(ctx, v.Array()); err != nil {
			return fmt.Errorf("dataset %s: %w", name, err)
		}
	}
	if consolidate {
		if err := w.ConsolidateV2(ctx); err != nil {
			return fmt.Errorf("dataset %s: %w", name, err)
		}
	}
	return nil
}

// openStore clears and reopens the store directory for one dataset,
// returning a writer that owns the bucket.
func openStore(outDir, name string) (*zarr.Writer, error) {
	path := filepath.Join(outDir, name)
	if err := clearDir(path); err != nil {
		return nil, fmt.Errorf("failed to clear %s: %w", path, err)
	}

	bucket, err := fileblob.OpenBucket(path, &fileblob.Options{
		CreateDir: true,
		Metadata:  fileblob.MetadataDontWrite,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return zarr.NewWriterFromBucket(bucket), nil
}

// clearDir removes everything inside path, leaving the directory itself in
// place so reruns regenerate fixtures from scratch.
func clearDir(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return err
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(path, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}
