package zarr

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec compresses and decompresses whole chunks. The supported set is
// closed: construct instances through NewZlib, NewGzip, NewZstd, NewLZ4 and
// NewBlosc, which validate their parameters up front so that a bad
// configuration fails before anything is written.
type Codec interface {
	ID() string
	Encode(src []byte, typesize int) ([]byte, error)
	Decode(src []byte, typesize int) ([]byte, error)
	// V2Config returns the numcodecs-style compressor object for .zarray.
	V2Config() *CompressorConfig
	// V3Spec returns the V3 codec envelope. typesize is recorded by codecs
	// that need it (blosc); others ignore it.
	V3Spec(typesize int) CodecSpec
}

// CodecFromV2Config reconstructs a Codec from .zarray compressor metadata.
func CodecFromV2Config(c *CompressorConfig) (Codec, error) {
	if c == nil {
		return nil, nil
	}
	switch c.ID {
	case "zlib":
		return NewZlib(intVal(c.Level))
	case "gzip":
		return NewGzip(intVal(c.Level))
	case "zstd":
		return NewZstd(intVal(c.Level))
	case "lz4":
		return NewLZ4(intVal(c.Acceleration))
	case "blosc":
		cname, err := ParseBloscCname(c.Cname)
		if err != nil {
			return nil, err
		}
		shuffle := ShuffleNone
		if c.Shuffle != nil {
			shuffle = BloscShuffle(*c.Shuffle)
		}
		return NewBlosc(cname, intVal(c.Clevel), shuffle)
	default:
		return nil, fmt.Errorf("unsupported compressor: %s", c.ID)
	}
}

func intPtr(v int) *int { return &v }

func intVal(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

// ---------------------------------------------------------------------------
// zlib
// ---------------------------------------------------------------------------

type zlibCodec struct {
	level int
}

// NewZlib returns the zlib codec. Valid levels are 0..9.
func NewZlib(level int) (Codec, error) {
	if level < 0 || level > 9 {
		return nil, fmt.Errorf("zlib level out of range [0, 9]: %d", level)
	}
	return &zlibCodec{level: level}, nil
}

func (c *zlibCodec) ID() string { return "zlib" }

func (c *zlibCodec) Encode(src []byte, _ int) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, c.level)
	if err != nil {
		return nil, fmt.Errorf("failed to init zlib writer: %w", err)
	}
	if _, err := zw.Write(src); err != nil {
		return nil, fmt.Errorf("failed to compress zlib: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close zlib writer: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *zlibCodec) Decode(src []byte, _ int) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("failed to init zlib reader: %w", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress zlib: %w", err)
	}
	return out, nil
}

func (c *zlibCodec) V2Config() *CompressorConfig {
	return &CompressorConfig{ID: "zlib", Level: intPtr(c.level)}
}

func (c *zlibCodec) V3Spec(_ int) CodecSpec {
	return CodecSpec{Name: "zlib", Configuration: map[string]any{"level": c.level}}
}

// ---------------------------------------------------------------------------
// gzip
// ---------------------------------------------------------------------------

type gzipCodec struct {
	level int
}

// NewGzip returns the gzip codec. Valid levels are 0..9.
func NewGzip(level int) (Codec, error) {
	if level < 0 || level > 9 {
		return nil, fmt.Errorf("gzip level out of range [0, 9]: %d", level)
	}
	return &gzipCodec{level: level}, nil
}

func (c *gzipCodec) ID() string { return "gzip" }

func (c *gzipCodec) Encode(src []byte, _ int) ([]byte, error) {
	var buf bytes.Buffer
	gw, err := gzip.NewWriterLevel(&buf, c.level)
	if err != nil {
		return nil, fmt.Errorf("failed to init gzip writer: %w", err)
	}
	if _, err := gw.Write(src); err != nil {
		return nil, fmt.Errorf("failed to compress gzip: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *gzipCodec) Decode(src []byte, _ int) ([]byte, error) {
	gr, err := gzip.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("failed to init gzip reader: %w", err)
	}
	defer gr.Close()
	out, err := io.ReadAll(gr)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress gzip: %w", err)
	}
	return out, nil
}

func (c *gzipCodec) V2Config() *CompressorConfig {
	return &CompressorConfig{ID: "gzip", Level: intPtr(c.level)}
}

func (c *gzipCodec) V3Spec(_ int) CodecSpec {
	return CodecSpec{Name: "gzip", Configuration: map[string]any{"level": c.level}}
}

// ---------------------------------------------------------------------------
// zstd
// ---------------------------------------------------------------------------

type zstdCodec struct {
	level int
}

// NewZstd returns the zstd codec. Valid levels are 1..22.
func NewZstd(level int) (Codec, error) {
	if level < 1 || level > 22 {
		return nil, fmt.Errorf("zstd level out of range [1, 22]: %d", level)
	}
	return &zstdCodec{level: level}, nil
}

func (c *zstdCodec) ID() string { return "zstd" }

func (c *zstdCodec) Encode(src []byte, _ int) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(c.level)))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd writer: %w", err)
	}
	out := enc.EncodeAll(src, nil)
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to close zstd writer: %w", err)
	}
	return out, nil
}

func (c *zstdCodec) Decode(src []byte, _ int) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd reader: %w", err)
	}
	defer dec.Close()
	out, err := dec.DecodeAll(src, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress zstd: %w", err)
	}
	return out, nil
}

func (c *zstdCodec) V2Config() *CompressorConfig {
	return &CompressorConfig{ID: "zstd", Level: intPtr(c.level)}
}

func (c *zstdCodec) V3Spec(_ int) CodecSpec {
	return CodecSpec{Name: "zstd", Configuration: map[string]any{"level": c.level, "checksum": false}}
}

// ---------------------------------------------------------------------------
// lz4 (numcodecs framing: 4-byte little-endian original size + raw block)
// ---------------------------------------------------------------------------

type lz4Codec struct {
	acceleration int
}

// NewLZ4 returns the standalone LZ4 codec with numcodecs framing.
func NewLZ4(acceleration int) (Codec, error) {
	if acceleration < 1 {
		acceleration = 1
	}
	return &lz4Codec{acceleration: acceleration}, nil
}

func (c *lz4Codec) ID() string { return "lz4" }

func (c *lz4Codec) Encode(src []byte, _ int) ([]byte, error) {
	if len(src) == 0 {
		return []byte{0, 0, 0, 0}, nil
	}
	var compressor lz4.Compressor
	dst := make([]byte, lz4.CompressBlockBound(len(src)))
	n, err := compressor.CompressBlock(src, dst)
	if err != nil {
		return nil, fmt.Errorf("failed to compress lz4: %w", err)
	}

	out := make([]byte, 4, 4+n)
	binary.LittleEndian.PutUint32(out, uint32(len(src)))
	if n == 0 {
		// Incompressible: the raw block format can still hold it as literals.
		dst = dst[:lz4.CompressBlockBound(len(src))]
		n, err = lz4RawLiterals(src, dst)
		if err != nil {
			return nil, err
		}
	}
	return append(out, dst[:n]...), nil
}

// lz4RawLiterals encodes src as a single LZ4 literal run. Used when the
// fast compressor reports the input incompressible but the framing still
// requires a valid block.
func lz4RawLiterals(src, dst []byte) (int, error) {
	// Block format: token with literal length, optional extension bytes,
	// then the literals. No match section for the final sequence.
	n := len(src)
	pos := 0
	if n < 15 {
		dst[pos] = byte(n) << 4
		pos++
	} else {
		dst[pos] = 0xF0
		pos++
		rest := n - 15
		for rest >= 255 {
			dst[pos] = 255
			pos++
			rest -= 255
		}
		dst[pos] = byte(rest)
		pos++
	}
	if pos+n > len(dst) {
		return 0, fmt.Errorf("lz4 literal encoding overflow")
	}
	copy(dst[pos:], src)
	return pos + n, nil
}

func (c *lz4Codec) Decode(src []byte, _ int) ([]byte, error) {
	if len(src) < 4 {
		return nil, fmt.Errorf("lz4 buffer missing 4-byte size prefix")
	}
	destSize := binary.LittleEndian.Uint32(src)
	if destSize == 0 {
		return []byte{}, nil
	}
	out := make([]byte, destSize)
	n, err := lz4.UncompressBlock(src[4:], out)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress lz4: %w", err)
	}
	if n != int(destSize) {
		return nil, fmt.Errorf("lz4 size mismatch: expected %d bytes, got %d", destSize, n)
	}
	return out, nil
}

func (c *lz4Codec) V2Config() *CompressorConfig {
	return &CompressorConfig{ID: "lz4", Acceleration: intPtr(c.acceleration)}
}

func (c *lz4Codec) V3Spec(_ int) CodecSpec {
	return CodecSpec{Name: "lz4", Configuration: map[string]any{"acceleration": c.acceleration}}
}

// ---------------------------------------------------------------------------
// blosc (container; see blosc.go for the frame format)
// ---------------------------------------------------------------------------

type bloscCodec struct {
	cname   BloscCname
	clevel  int
	shuffle BloscShuffle
}

// NewBlosc returns the blosc container codec. Valid clevels are 0..9;
// clevel 0 stores chunks uncompressed inside a valid frame.
func NewBlosc(cname BloscCname, clevel int, shuffle BloscShuffle) (Codec, error) {
	if clevel < 0 || clevel > 9 {
		return nil, fmt.Errorf("blosc clevel out of range [0, 9]: %d", clevel)
	}
	switch shuffle {
	case ShuffleNone, ShuffleByte, ShuffleBit:
	default:
		return nil, fmt.Errorf("unknown blosc shuffle: %d", shuffle)
	}
	if shuffle == ShuffleBit {
		return nil, fmt.Errorf("blosc bitshuffle is not supported by this writer")
	}
	if _, err := cname.formatCode(); err != nil {
		return nil, err
	}
	return &bloscCodec{cname: cname, clevel: clevel, shuffle: shuffle}, nil
}

func (c *bloscCodec) ID() string { return "blosc" }

func (c *bloscCodec) Encode(src []byte, typesize int) ([]byte, error) {
	return bloscEncode(src, typesize, c.clevel, c.cname, c.shuffle)
}

func (c *bloscCodec) Decode(src []byte, _ int) ([]byte, error) {
	return bloscDecode(src)
}

func (c *bloscCodec) V2Config() *CompressorConfig {
	return &CompressorConfig{
		ID:        "blosc",
		Cname:     c.cname.String(),
		Clevel:    intPtr(c.clevel),
		Shuffle:   intPtr(int(c.shuffle)),
		Blocksize: intPtr(0),
	}
}

func (c *bloscCodec) V3Spec(typesize int) CodecSpec {
	return CodecSpec{Name: "blosc", Configuration: map[string]any{
		"cname":     c.cname.String(),
		"clevel":    c.clevel,
		"shuffle":   c.shuffle.String(),
		"typesize":  typesize,
		"blocksize": 0,
	}}
}
