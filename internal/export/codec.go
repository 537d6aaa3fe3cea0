package export

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/klauspost/compress/zstd"

	"voxelgen/internal/voxel"
)

// Encoded chunk layout, little endian:
//
//	magic   [4]byte "VXCK"
//	version uint8
//	size    uint8   padded edge length
//	pos     3 x int32
//	solid   uint32
//	length  uint32  compressed payload bytes
//	payload zstd frame of PaddedVolume material ids, index order z,y,x
const (
	formatVersion = 1
	headerSize    = 4 + 1 + 1 + 12 + 4 + 4
)

var magic = [4]byte{'V', 'X', 'C', 'K'}

var (
	ErrBadMagic = errors.New("not a voxel chunk record")
	ErrVersion  = errors.New("unsupported chunk record version")
	ErrCorrupt  = errors.New("corrupt chunk record")
	ErrPosRange = errors.New("chunk position does not fit a record")
)

// Codec compresses chunks into self-describing records. It is safe for
// concurrent use.
type Codec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewCodec builds a codec for a compress level name: fastest, default,
// better or best. An empty name means default.
func NewCodec(level string) (*Codec, error) {
	lvl, err := encoderLevel(level)
	if err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(lvl))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(uint64(voxel.PaddedVolume)*2))
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &Codec{enc: enc, dec: dec}, nil
}

func encoderLevel(name string) (zstd.EncoderLevel, error) {
	switch name {
	case "", "default":
		return zstd.SpeedDefault, nil
	case "fastest":
		return zstd.SpeedFastest, nil
	case "better":
		return zstd.SpeedBetterCompression, nil
	case "best":
		return zstd.SpeedBestCompression, nil
	default:
		return 0, fmt.Errorf("unknown compress level %q", name)
	}
}

func (c *Codec) Close() {
	c.enc.Close()
	c.dec.Close()
}

// Encode serialises a chunk into one record. Positions must fit in int32.
func (c *Codec) Encode(ch *voxel.Chunk) ([]byte, error) {
	for _, v := range [3]int{ch.Pos.X, ch.Pos.Y, ch.Pos.Z} {
		if v < math.MinInt32 || v > math.MaxInt32 {
			return nil, fmt.Errorf("%w: %v", ErrPosRange, ch.Pos)
		}
	}

	raw := make([]byte, len(ch.Voxels))
	for i, m := range ch.Voxels {
		raw[i] = byte(m)
	}

	out := make([]byte, headerSize, headerSize+len(raw)/8)
	copy(out[0:4], magic[:])
	out[4] = formatVersion
	out[5] = voxel.PaddedSize
	binary.LittleEndian.PutUint32(out[6:10], uint32(int32(ch.Pos.X)))
	binary.LittleEndian.PutUint32(out[10:14], uint32(int32(ch.Pos.Y)))
	binary.LittleEndian.PutUint32(out[14:18], uint32(int32(ch.Pos.Z)))
	binary.LittleEndian.PutUint32(out[18:22], uint32(ch.Solid))

	out = c.enc.EncodeAll(raw, out)
	binary.LittleEndian.PutUint32(out[22:26], uint32(len(out)-headerSize))
	return out, nil
}

// Header is the uncompressed part of a record.
type Header struct {
	Pos   voxel.ChunkPos
	Solid int
	Size  int
}

// ReadHeader parses the fixed header without decompressing the payload.
func ReadHeader(b []byte) (Header, int, error) {
	if len(b) < headerSize {
		return Header{}, 0, fmt.Errorf("%w: %d bytes is shorter than the header", ErrCorrupt, len(b))
	}
	if [4]byte(b[0:4]) != magic {
		return Header{}, 0, ErrBadMagic
	}
	if b[4] != formatVersion {
		return Header{}, 0, fmt.Errorf("%w: %d", ErrVersion, b[4])
	}
	h := Header{
		Size: int(b[5]),
		Pos: voxel.ChunkPos{
			X: int(int32(binary.LittleEndian.Uint32(b[6:10]))),
			Y: int(int32(binary.LittleEndian.Uint32(b[10:14]))),
			Z: int(int32(binary.LittleEndian.Uint32(b[14:18]))),
		},
		Solid: int(binary.LittleEndian.Uint32(b[18:22])),
	}
	length := int(binary.LittleEndian.Uint32(b[22:26]))
	return h, length, nil
}

// Decode parses a record produced by Encode.
func (c *Codec) Decode(b []byte) (*voxel.Chunk, error) {
	h, length, err := ReadHeader(b)
	if err != nil {
		return nil, err
	}
	if h.Size != voxel.PaddedSize {
		return nil, fmt.Errorf("%w: edge %d, want %d", ErrCorrupt, h.Size, voxel.PaddedSize)
	}
	if len(b)-headerSize != length {
		return nil, fmt.Errorf("%w: payload %d bytes, header says %d", ErrCorrupt, len(b)-headerSize, length)
	}

	raw, err := c.dec.DecodeAll(b[headerSize:], make([]byte, 0, voxel.PaddedVolume))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if len(raw) != voxel.PaddedVolume {
		return nil, fmt.Errorf("%w: %d voxels, want %d", ErrCorrupt, len(raw), voxel.PaddedVolume)
	}

	ch := &voxel.Chunk{Pos: h.Pos, Voxels: make([]voxel.Material, len(raw))}
	for i, v := range raw {
		ch.Voxels[i] = voxel.Material(v)
		if v != byte(voxel.Air) {
			ch.Solid++
		}
	}
	if ch.Solid != h.Solid {
		return nil, fmt.Errorf("%w: %d solid voxels, header says %d", ErrCorrupt, ch.Solid, h.Solid)
	}
	return ch, nil
}
