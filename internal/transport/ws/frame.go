package ws

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/Faultbox/isoterrain/internal/terrain"
	"github.com/Faultbox/isoterrain/pkg/formats"
)

// Frame layout, little-endian:
//
//	magic "CHNK" | version u8 | flags u8 | reserved u16 |
//	coord x,y,z i32 | vertex count u32 | payload
//
// The payload is count 32-byte vertex records, zstd-compressed when
// FlagZstd is set.
const (
	FrameMagic      = "CHNK"
	FrameVersion    = 1
	FrameHeaderSize = 24

	FlagZstd uint8 = 1 << 0
)

var (
	ErrInvalidFrameMagic       = errors.New("invalid chunk frame magic")
	ErrUnsupportedFrameVersion = errors.New("unsupported chunk frame version")
	ErrTruncatedFrame          = errors.New("truncated chunk frame")
)

// Frame is one decoded chunk message.
type Frame struct {
	Coord    terrain.ChunkCoord
	Flags    uint8
	Vertices []terrain.Vertex
}

// EncodeFrame serializes a chunk. compress selects the zstd payload.
func EncodeFrame(coord terrain.ChunkCoord, verts []terrain.Vertex, compress bool) ([]byte, error) {
	payload := encodeVertices(verts)

	var flags uint8
	if compress {
		z, err := formats.Compress(payload)
		if err != nil {
			return nil, fmt.Errorf("compressing chunk %s: %w", coord, err)
		}
		payload = z
		flags |= FlagZstd
	}

	out := make([]byte, FrameHeaderSize, FrameHeaderSize+len(payload))
	copy(out[0:4], FrameMagic)
	out[4] = FrameVersion
	out[5] = flags
	binary.LittleEndian.PutUint32(out[8:], uint32(int32(coord.X)))
	binary.LittleEndian.PutUint32(out[12:], uint32(int32(coord.Y)))
	binary.LittleEndian.PutUint32(out[16:], uint32(int32(coord.Z)))
	binary.LittleEndian.PutUint32(out[20:], uint32(len(verts)))
	return append(out, payload...), nil
}

// DecodeFrame parses a frame produced by EncodeFrame.
func DecodeFrame(data []byte) (*Frame, error) {
	if len(data) < FrameHeaderSize {
		return nil, ErrTruncatedFrame
	}
	if string(data[0:4]) != FrameMagic {
		return nil, ErrInvalidFrameMagic
	}
	if data[4] != FrameVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedFrameVersion, data[4])
	}

	f := &Frame{
		Flags: data[5],
		Coord: terrain.ChunkCoord{
			X: int(int32(binary.LittleEndian.Uint32(data[8:]))),
			Y: int(int32(binary.LittleEndian.Uint32(data[12:]))),
			Z: int(int32(binary.LittleEndian.Uint32(data[16:]))),
		},
	}
	count := int(binary.LittleEndian.Uint32(data[20:]))

	payload := data[FrameHeaderSize:]
	if f.Flags&FlagZstd != 0 {
		raw, err := formats.Decompress(payload)
		if err != nil {
			return nil, fmt.Errorf("chunk %s: %w", f.Coord, err)
		}
		payload = raw
	}
	if len(payload) != count*terrain.VertexStride {
		return nil, fmt.Errorf("%w: %d vertices need %d bytes, have %d",
			ErrTruncatedFrame, count, count*terrain.VertexStride, len(payload))
	}

	f.Vertices = decodeVertices(payload, count)
	return f, nil
}

func encodeVertices(verts []terrain.Vertex) []byte {
	out := make([]byte, len(verts)*terrain.VertexStride)
	for i, v := range verts {
		b := out[i*terrain.VertexStride:]
		putFloats(b[0:], v.Position[:]...)
		putFloats(b[12:], v.Ambient)
		putFloats(b[16:], v.Normal[:]...)
	}
	return out
}

func decodeVertices(data []byte, count int) []terrain.Vertex {
	verts := make([]terrain.Vertex, count)
	for i := range verts {
		b := data[i*terrain.VertexStride:]
		v := &verts[i]
		for k := 0; k < 3; k++ {
			v.Position[k] = getFloat(b[4*k:])
			v.Normal[k] = getFloat(b[16+4*k:])
		}
		v.Ambient = getFloat(b[12:])
	}
	return verts
}

func putFloats(b []byte, vals ...float32) {
	for i, f := range vals {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(f))
	}
}

func getFloat(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}
