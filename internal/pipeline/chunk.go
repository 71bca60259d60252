package pipeline

import (
	"context"
	"sync"

	"github.com/Faultbox/isoterrain/internal/device"
	"github.com/Faultbox/isoterrain/internal/terrain"
)

// Chunk is a published chunk. It is immutable once handed out; the
// registry owns it until it is unloaded.
type Chunk struct {
	Coord    terrain.ChunkCoord
	Buffer   device.VertexBuffer
	Counters terrain.Counters
	Bounds   terrain.Bounds

	releaseOnce sync.Once
}

func newChunk(coord terrain.ChunkCoord, buf device.VertexBuffer, counters terrain.Counters, layout terrain.Layout) *Chunk {
	return &Chunk{
		Coord:    coord,
		Buffer:   buf,
		Counters: counters,
		Bounds:   chunkBounds(layout, coord),
	}
}

// chunkBounds is the world box covered by the chunk's interior lattice.
func chunkBounds(layout terrain.Layout, coord terrain.ChunkCoord) terrain.Bounds {
	lo := layout.ChunkOrigin(coord)
	s := layout.WorldSize
	return terrain.Bounds{
		Min: lo.Array(),
		Max: [3]float32{lo.X + s, lo.Y + s, lo.Z + s},
	}
}

// Triangles returns the number of triangles in the chunk.
func (c *Chunk) Triangles() uint32 {
	return c.Counters.Vertices / 3
}

// Wait blocks until the device has run the chunk's extraction and returns
// its error.
func (c *Chunk) Wait(ctx context.Context) error {
	_, err := c.Buffer.Read(ctx)
	return err
}

// Vertices waits for the extraction and returns the vertex records.
// The slice is owned by the chunk and must not be modified.
func (c *Chunk) Vertices(ctx context.Context) ([]terrain.Vertex, error) {
	return c.Buffer.Read(ctx)
}

// Release frees the vertex buffer. It is safe to call more than once.
func (c *Chunk) Release() {
	c.releaseOnce.Do(c.Buffer.Release)
}
