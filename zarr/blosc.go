package zarr

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// BloscCname identifies the compressor inside a blosc container.
type BloscCname int

const (
	CnameBloscLZ BloscCname = iota
	CnameLZ4
	CnameLZ4HC
	CnameSnappy
	CnameZlib
	CnameZstd
)

func (c BloscCname) String() string {
	switch c {
	case CnameBloscLZ:
		return "blosclz"
	case CnameLZ4:
		return "lz4"
	case CnameLZ4HC:
		return "lz4hc"
	case CnameSnappy:
		return "snappy"
	case CnameZlib:
		return "zlib"
	case CnameZstd:
		return "zstd"
	default:
		return "unknown"
	}
}

// ParseBloscCname maps a cname string to its BloscCname.
func ParseBloscCname(s string) (BloscCname, error) {
	switch s {
	case "blosclz":
		return CnameBloscLZ, nil
	case "lz4":
		return CnameLZ4, nil
	case "lz4hc":
		return CnameLZ4HC, nil
	case "snappy":
		return CnameSnappy, nil
	case "zlib":
		return CnameZlib, nil
	case "zstd":
		return CnameZstd, nil
	default:
		return 0, fmt.Errorf("unknown blosc cname: %s", s)
	}
}

// formatCode returns the compressor format code stored in bits 5-7 of the
// header flags. lz4 and lz4hc share a format: they produce identical block
// streams.
func (c BloscCname) formatCode() (byte, error) {
	switch c {
	case CnameBloscLZ:
		return 0, nil
	case CnameLZ4, CnameLZ4HC:
		return 1, nil
	case CnameSnappy:
		return 2, nil
	case CnameZlib:
		return 3, nil
	case CnameZstd:
		return 4, nil
	default:
		return 0, fmt.Errorf("unknown blosc cname: %d", c)
	}
}

// BloscShuffle selects the pre-compression filter of a blosc container.
type BloscShuffle int

const (
	ShuffleNone BloscShuffle = iota
	ShuffleByte
	ShuffleBit
)

func (s BloscShuffle) String() string {
	switch s {
	case ShuffleByte:
		return "shuffle"
	case ShuffleBit:
		return "bitshuffle"
	default:
		return "noshuffle"
	}
}

// The blosc1 header layout (16 bytes):
//
//	byte 0: blosc version format
//	byte 1: compressor format version
//	byte 2: flags
//	byte 3: typesize
//	bytes 4..8: nbytes (uncompressed, little-endian u32)
//	bytes 8..12: blocksize
//	bytes 12..16: cbytes (compressed incl. header, little-endian u32)
//
// After the header, non-memcpy frames carry a table of little-endian u32
// block start offsets, then the blocks. Each block holds one or more
// streams, each prefixed by its u32 compressed size; a stream whose stored
// size equals its uncompressed size is a verbatim copy.
const (
	bloscHeaderLen     = 16
	bloscVersionFormat = 2

	bloscFlagShuffle    = 0x1
	bloscFlagMemcpyed   = 0x2
	bloscFlagBitshuffle = 0x4
	bloscFlagDontSplit  = 0x10

	bloscMaxTypesize = 255
)

// bloscEncode packs src into a blosc1 frame. Each frame is a single block
// with a single stream, which every blosc decoder accepts. clevel 0 (or an
// incompressible payload) produces a memcpy frame.
func bloscEncode(src []byte, typesize, clevel int, cname BloscCname, shuffle BloscShuffle) ([]byte, error) {
	nbytes := len(src)
	if typesize <= 0 || typesize > bloscMaxTypesize {
		typesize = 1
	}
	if nbytes%typesize != 0 {
		return nil, fmt.Errorf("blosc: buffer size %d not a multiple of typesize %d", nbytes, typesize)
	}

	code, err := cname.formatCode()
	if err != nil {
		return nil, err
	}

	if clevel == 0 {
		return bloscMemcpyFrame(src, typesize, code), nil
	}

	payload := src
	flags := bloscFlagDontSplit | code<<5
	if shuffle == ShuffleByte && typesize > 1 {
		payload = shuffleBytes(src, typesize)
		flags |= bloscFlagShuffle
	}

	stream, err := bloscCompressStream(payload, cname, clevel)
	if err != nil {
		return nil, err
	}
	if stream == nil || len(stream) >= nbytes {
		// Stored stream: size token equals the uncompressed size.
		stream = payload
	}

	cbytes := bloscHeaderLen + 4 + 4 + len(stream)
	if cbytes >= nbytes+bloscHeaderLen {
		return bloscMemcpyFrame(src, typesize, code), nil
	}

	out := make([]byte, 0, cbytes)
	out = append(out, bloscVersionFormat, 1, flags, byte(typesize))
	out = binary.LittleEndian.AppendUint32(out, uint32(nbytes))
	out = binary.LittleEndian.AppendUint32(out, uint32(nbytes)) // single block
	out = binary.LittleEndian.AppendUint32(out, uint32(cbytes))
	out = binary.LittleEndian.AppendUint32(out, uint32(bloscHeaderLen+4)) // block start
	out = binary.LittleEndian.AppendUint32(out, uint32(len(stream)))
	out = append(out, stream...)
	return out, nil
}

// bloscMemcpyFrame wraps src verbatim, as blosc does at clevel 0.
func bloscMemcpyFrame(src []byte, typesize int, code byte) []byte {
	nbytes := len(src)
	out := make([]byte, 0, bloscHeaderLen+nbytes)
	out = append(out, bloscVersionFormat, 1, bloscFlagMemcpyed|code<<5, byte(typesize))
	out = binary.LittleEndian.AppendUint32(out, uint32(nbytes))
	out = binary.LittleEndian.AppendUint32(out, uint32(nbytes))
	out = binary.LittleEndian.AppendUint32(out, uint32(nbytes+bloscHeaderLen))
	return append(out, src...)
}

// bloscCompressStream compresses one stream with the inner codec. A nil
// result means the stream should be stored verbatim (blosclz has no Go
// implementation, so its streams are always stored).
func bloscCompressStream(src []byte, cname BloscCname, clevel int) ([]byte, error) {
	switch cname {
	case CnameBloscLZ:
		return nil, nil
	case CnameLZ4:
		var compressor lz4.Compressor
		dst := make([]byte, lz4.CompressBlockBound(len(src)))
		n, err := compressor.CompressBlock(src, dst)
		if err != nil {
			return nil, fmt.Errorf("blosc lz4: %w", err)
		}
		if n == 0 {
			return nil, nil
		}
		return dst[:n], nil
	case CnameLZ4HC:
		compressor := lz4.CompressorHC{Level: lz4HCLevel(clevel)}
		dst := make([]byte, lz4.CompressBlockBound(len(src)))
		n, err := compressor.CompressBlock(src, dst)
		if err != nil {
			return nil, fmt.Errorf("blosc lz4hc: %w", err)
		}
		if n == 0 {
			return nil, nil
		}
		return dst[:n], nil
	case CnameSnappy:
		return snappy.Encode(nil, src), nil
	case CnameZlib:
		var buf bytes.Buffer
		level := clevel
		if level > 9 {
			level = 9
		}
		zw, err := zlib.NewWriterLevel(&buf, level)
		if err != nil {
			return nil, fmt.Errorf("blosc zlib: %w", err)
		}
		if _, err := zw.Write(src); err != nil {
			return nil, fmt.Errorf("blosc zlib: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("blosc zlib: %w", err)
		}
		return buf.Bytes(), nil
	case CnameZstd:
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(clevel)))
		if err != nil {
			return nil, fmt.Errorf("blosc zstd: %w", err)
		}
		out := enc.EncodeAll(src, nil)
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("blosc zstd: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown blosc cname: %d", cname)
	}
}

func lz4HCLevel(clevel int) lz4.CompressionLevel {
	levels := []lz4.CompressionLevel{
		lz4.Fast, lz4.Level1, lz4.Level2, lz4.Level3, lz4.Level4,
		lz4.Level5, lz4.Level6, lz4.Level7, lz4.Level8, lz4.Level9,
	}
	if clevel < 0 {
		clevel = 0
	}
	if clevel >= len(levels) {
		clevel = len(levels) - 1
	}
	return levels[clevel]
}

// bloscDecode unpacks a blosc1 frame.
func bloscDecode(src []byte) ([]byte, error) {
	if len(src) < bloscHeaderLen {
		return nil, fmt.Errorf("blosc buffer too small for header (need >= 16 bytes)")
	}
	flags := src[2]
	typesize := int(src[3])
	nbytes := int(binary.LittleEndian.Uint32(src[4:8]))
	blocksize := int(binary.LittleEndian.Uint32(src[8:12]))
	cbytes := int(binary.LittleEndian.Uint32(src[12:16]))
	if cbytes > len(src) {
		return nil, fmt.Errorf("blosc header cbytes %d exceeds buffer size %d", cbytes, len(src))
	}

	if flags&bloscFlagMemcpyed != 0 {
		if bloscHeaderLen+nbytes > len(src) {
			return nil, fmt.Errorf("blosc memcpy frame truncated")
		}
		out := make([]byte, nbytes)
		copy(out, src[bloscHeaderLen:bloscHeaderLen+nbytes])
		return out, nil
	}

	if blocksize <= 0 {
		return nil, fmt.Errorf("blosc invalid blocksize: %d", blocksize)
	}
	code := flags >> 5

	nblocks := (nbytes + blocksize - 1) / blocksize
	if len(src) < bloscHeaderLen+4*nblocks {
		return nil, fmt.Errorf("blosc frame truncated in block index")
	}

	out := make([]byte, nbytes)
	for b := 0; b < nblocks; b++ {
		start := int(binary.LittleEndian.Uint32(src[bloscHeaderLen+4*b:]))
		bsize := blocksize
		leftover := false
		if b == nblocks-1 && nbytes%blocksize != 0 {
			bsize = nbytes % blocksize
			leftover = true
		}

		nsplits := 1
		if flags&bloscFlagDontSplit == 0 && typesize > 1 && typesize <= 16 &&
			!leftover && blocksize/typesize >= 128 {
			nsplits = typesize
		}
		if bsize%nsplits != 0 {
			return nil, fmt.Errorf("blosc block size %d not divisible into %d streams", bsize, nsplits)
		}
		neblock := bsize / nsplits

		block := make([]byte, 0, bsize)
		pos := start
		for s := 0; s < nsplits; s++ {
			if pos+4 > len(src) {
				return nil, fmt.Errorf("blosc frame truncated in stream header")
			}
			csize := int(binary.LittleEndian.Uint32(src[pos:]))
			pos += 4
			if pos+csize > len(src) {
				return nil, fmt.Errorf("blosc frame truncated in stream body")
			}
			stream := src[pos : pos+csize]
			pos += csize

			if csize == neblock {
				block = append(block, stream...)
				continue
			}
			decoded, err := bloscDecompressStream(stream, code, neblock)
			if err != nil {
				return nil, err
			}
			block = append(block, decoded...)
		}

		if flags&bloscFlagShuffle != 0 && typesize > 1 {
			block = unshuffleBytes(block, typesize)
		}
		copy(out[b*blocksize:], block)
	}
	return out, nil
}

func bloscDecompressStream(src []byte, code byte, destSize int) ([]byte, error) {
	switch code {
	case 0:
		return nil, fmt.Errorf("blosclz compressed streams are not supported")
	case 1:
		out := make([]byte, destSize)
		n, err := lz4.UncompressBlock(src, out)
		if err != nil {
			return nil, fmt.Errorf("blosc lz4: %w", err)
		}
		return out[:n], nil
	case 2:
		out, err := snappy.Decode(nil, src)
		if err != nil {
			return nil, fmt.Errorf("blosc snappy: %w", err)
		}
		return out, nil
	case 3:
		zr, err := zlib.NewReader(bytes.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("blosc zlib: %w", err)
		}
		defer zr.Close()
		out, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("blosc zlib: %w", err)
		}
		return out, nil
	case 4:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("blosc zstd: %w", err)
		}
		defer dec.Close()
		out, err := dec.DecodeAll(src, nil)
		if err != nil {
			return nil, fmt.Errorf("blosc zstd: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown blosc compressor code: %d", code)
	}
}

// shuffleBytes applies blosc's byte shuffle: element byte j of every
// element is grouped into stream j.
func shuffleBytes(src []byte, typesize int) []byte {
	nel := len(src) / typesize
	out := make([]byte, len(src))
	for i := 0; i < nel; i++ {
		for j := 0; j < typesize; j++ {
			out[j*nel+i] = src[i*typesize+j]
		}
	}
	return out
}

func unshuffleBytes(src []byte, typesize int) []byte {
	nel := len(src) / typesize
	out := make([]byte, len(src))
	for i := 0; i < nel; i++ {
		for j := 0; j < typesize; j++ {
			out[i*typesize+j] = src[j*nel+i]
		}
	}
	return out
}
