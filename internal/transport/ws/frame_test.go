package ws

import (
	"errors"
	"testing"

	"github.com/Faultbox/isoterrain/internal/terrain"
)

func testVertices(n int) []terrain.Vertex {
	verts := make([]terrain.Vertex, n)
	for i := range verts {
		f := float32(i)
		verts[i] = terrain.Vertex{
			Position: [3]float32{f, -f, f * 0.5},
			Ambient:  0.25,
			Normal:   [3]float32{0, 1, 0},
		}
	}
	return verts
}

func TestFrame_RoundTrip(t *testing.T) {
	coord := terrain.ChunkCoord{X: -3, Y: 7, Z: -2147483648}
	verts := testVertices(300)

	for _, compress := range []bool{false, true} {
		data, err := EncodeFrame(coord, verts, compress)
		if err != nil {
			t.Fatalf("EncodeFrame(compress=%v) failed: %v", compress, err)
		}
		if !compress && len(data) != FrameHeaderSize+len(verts)*terrain.VertexStride {
			t.Errorf("raw frame is %d bytes", len(data))
		}

		f, err := DecodeFrame(data)
		if err != nil {
			t.Fatalf("DecodeFrame(compress=%v) failed: %v", compress, err)
		}
		if f.Coord != coord {
			t.Errorf("coord %v, want %v", f.Coord, coord)
		}
		if (f.Flags&FlagZstd != 0) != compress {
			t.Errorf("zstd flag %v, want %v", f.Flags&FlagZstd != 0, compress)
		}
		if len(f.Vertices) != len(verts) {
			t.Fatalf("decoded %d vertices, want %d", len(f.Vertices), len(verts))
		}
		for i := range verts {
			if f.Vertices[i] != verts[i] {
				t.Fatalf("vertex %d: %+v, want %+v", i, f.Vertices[i], verts[i])
			}
		}
	}
}

func TestFrame_Header(t *testing.T) {
	data, err := EncodeFrame(terrain.ChunkCoord{X: 1}, nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if string(data[:4]) != "CHNK" || data[4] != FrameVersion || data[5] != 0 {
		t.Errorf("unexpected header % x", data[:8])
	}
	if data[8] != 1 || data[20] != 0 {
		t.Errorf("unexpected coord/count bytes % x", data[8:24])
	}
}

func TestDecodeFrame_Errors(t *testing.T) {
	good, err := EncodeFrame(terrain.ChunkCoord{}, testVertices(2), false)
	if err != nil {
		t.Fatal(err)
	}

	badMagic := append([]byte(nil), good...)
	copy(badMagic, "XXXX")
	badVersion := append([]byte(nil), good...)
	badVersion[4] = 9

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"short header", good[:10], ErrTruncatedFrame},
		{"bad magic", badMagic, ErrInvalidFrameMagic},
		{"bad version", badVersion, ErrUnsupportedFrameVersion},
		{"short payload", good[:len(good)-1], ErrTruncatedFrame},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeFrame(tt.data); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}
