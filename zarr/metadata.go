package zarr

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
)

// Endian is the byte order a variable is stored with on disk.
type Endian int

const (
	LittleEndian Endian = iota
	BigEndian
)

func (e Endian) String() string {
	if e == BigEndian {
		return "big"
	}
	return "little"
}

func (e Endian) byteOrder() binary.ByteOrder {
	if e == BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// DType enumerates the element types the writer produces.
type DType int

const (
	Float64 DType = iota
	Int64
)

// Size returns the element size in bytes.
func (d DType) Size() int { return 8 }

// V2String returns the numpy-style dtype string used in .zarray metadata,
// e.g. "<f8" or ">f8".
func (d DType) V2String(e Endian) string {
	prefix := "<"
	if e == BigEndian {
		prefix = ">"
	}
	switch d {
	case Int64:
		return prefix + "i8"
	default:
		return prefix + "f8"
	}
}

// V3Name returns the Zarr V3 data_type identifier.
func (d DType) V3Name() string {
	switch d {
	case Int64:
		return "int64"
	default:
		return "float64"
	}
}

// fillValueV2 is the .zarray fill_value for the type. NaN must be encoded
// as the string "NaN" to stay representable in JSON.
func (d DType) fillValueV2() any {
	if d == Int64 {
		return 0
	}
	return "NaN"
}

func (d DType) fillValueV3() any {
	if d == Int64 {
		return 0
	}
	return "NaN"
}

// CompressorConfig represents a numcodecs-style Zarr V2 compressor object.
// Which fields are meaningful depends on the id.
type CompressorConfig struct {
	ID           string `json:"id"`
	Cname        string `json:"cname,omitempty"`
	Clevel       *int   `json:"clevel,omitempty"`
	Shuffle      *int   `json:"shuffle,omitempty"`
	Blocksize    *int   `json:"blocksize,omitempty"`
	Level        *int   `json:"level,omitempty"`
	Acceleration *int   `json:"acceleration,omitempty"`
}

// Metadata represents the Zarr V2 .zarray metadata.
type Metadata struct {
	ZarrFormat         int               `json:"zarr_format"`
	Shape              []int             `json:"shape"`
	Chunks             []int             `json:"chunks"`
	DType              string            `json:"dtype"`
	Compressor         *CompressorConfig `json:"compressor"`
	FillValue          any               `json:"fill_value"`
	Order              string            `json:"order"`
	Filters            any               `json:"filters"`
	DimensionSeparator string            `json:"dimension_separator,omitempty"`
}

// LoadMetadata reads and parses a .zarray document.
func LoadMetadata(reader io.Reader) (*Metadata, error) {
	var meta Metadata
	if err := json.NewDecoder(reader).Decode(&meta); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}

	if meta.ZarrFormat != 2 {
		return nil, fmt.Errorf("unsupported zarr_format: %d, expected 2", meta.ZarrFormat)
	}

	return &meta, nil
}

// ParseDType takes a numpy-style string like "<f8", ">f8", "<i8",
// and returns a simplified string name (e.g., "float64", "int64"),
// the byte size, and an error if unsupported.
func ParseDType(s string) (string, int, error) {
	if len(s) < 3 {
		return "", 0, fmt.Errorf("invalid dtype: %s", s)
	}

	kind := s[1]
	sizeStr := s[2:]

	size, err := strconv.Atoi(sizeStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid size in dtype: %s", s)
	}

	switch kind {
	case 'b':
		return "bool", size, nil
	case 'i':
		return fmt.Sprintf("int%d", size*8), size, nil
	case 'u':
		return fmt.Sprintf("uint%d", size*8), size, nil
	case 'f':
		return fmt.Sprintf("float%d", size*8), size, nil
	case 'c':
		return fmt.Sprintf("complex%d", size*8), size, nil
	default:
		return "", 0, fmt.Errorf("unsupported dtype kind: %c in %s", kind, s)
	}
}

// DTypeEndian reports the byte order encoded in a numpy-style dtype string.
func DTypeEndian(s string) Endian {
	if len(s) > 0 && s[0] == '>' {
		return BigEndian
	}
	return LittleEndian
}

// CodecSpec is the Zarr V3 codec envelope: {"name": ..., "configuration": ...}.
type CodecSpec struct {
	Name          string         `json:"name"`
	Configuration map[string]any `json:"configuration,omitempty"`
}

// NamedConfig is the {"name", "configuration"} shape V3 uses for the chunk
// grid and chunk key encoding.
type NamedConfig struct {
	Name          string         `json:"name"`
	Configuration map[string]any `json:"configuration,omitempty"`
}

// ArrayMetadataV3 is the per-array zarr.json document.
type ArrayMetadataV3 struct {
	ZarrFormat       int            `json:"zarr_format"`
	NodeType         string         `json:"node_type"`
	Shape            []int          `json:"shape"`
	DataType         string         `json:"data_type"`
	ChunkGrid        NamedConfig    `json:"chunk_grid"`
	ChunkKeyEncoding NamedConfig    `json:"chunk_key_encoding"`
	FillValue        any            `json:"fill_value"`
	Codecs           []CodecSpec    `json:"codecs"`
	Attributes       map[string]any `json:"attributes,omitempty"`
	DimensionNames   []string       `json:"dimension_names,omitempty"`
}

// ConsolidatedMetadataV3 is the inline consolidated metadata document
// carried on a V3 root group.
type ConsolidatedMetadataV3 struct {
	Kind           string                      `json:"kind"`
	MustUnderstand bool                        `json:"must_understand"`
	Metadata       map[string]*ArrayMetadataV3 `json:"metadata"`
}

// GroupMetadataV3 is the group-level zarr.json document.
type GroupMetadataV3 struct {
	ZarrFormat           int                     `json:"zarr_format"`
	NodeType             string                  `json:"node_type"`
	Attributes           map[string]any          `json:"attributes,omitempty"`
	ConsolidatedMetadata *ConsolidatedMetadataV3 `json:"consolidated_metadata,omitempty"`
}

// ConsolidatedMetadataV2 is the .zmetadata document aggregating every
// metadata key in a V2 store.
type ConsolidatedMetadataV2 struct {
	Metadata           map[string]json.RawMessage `json:"metadata"`
	ConsolidatedFormat int                        `json:"zarr_consolidated_format"`
}
