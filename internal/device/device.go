// Package device defines the compute device the chunk pipeline runs on.
//
// Every device owns one in-order Queue. Methods on Build that enqueue work
// return immediately; Counters is the only call that waits for the device.
package device

import (
	"context"
	"errors"

	"github.com/Faultbox/isoterrain/internal/terrain"
)

// Device errors.
var (
	ErrOutOfMemory = errors.New("device out of memory")
	ErrInvalidSize = errors.New("invalid buffer size")
	ErrClosed      = errors.New("device closed")
)

// Limits describes what a device can allocate.
type Limits struct {
	// MaxBufferSize is the largest single buffer in bytes.
	MaxBufferSize int64
	// MemoryBudget caps the bytes held by live per-build resources. Zero means unlimited.
	MemoryBudget int64
}

// DefaultLimits allows 128 MiB buffers and no overall budget.
func DefaultLimits() Limits {
	return Limits{MaxBufferSize: 128 << 20}
}

// Device is a compute backend able to run chunk builds.
type Device interface {
	Name() string
	Limits() Limits
	// Layout is the lattice shape the device's kernels were built for.
	Layout() terrain.Layout
	// Begin reserves the per-build resources for one chunk.
	Begin(coord terrain.ChunkCoord) (Build, error)
	Close() error
}

// Build is the per-chunk command sequence. Calls must follow the order
// GenerateDensity, Scan, Counters, then AllocateVertices and Extract when
// the chunk is not empty, and finally Release.
type Build interface {
	Coord() terrain.ChunkCoord
	// GenerateDensity enqueues density evaluation over the lattice.
	GenerateDensity() error
	// Scan enqueues classification and compaction.
	Scan() error
	// Counters waits for the scan and returns its counters.
	Counters(ctx context.Context) (terrain.Counters, error)
	// AllocateVertices creates an output buffer of exactly n vertices.
	AllocateVertices(n uint32) (VertexBuffer, error)
	// Extract enqueues surface extraction into buf.
	Extract(buf VertexBuffer) error
	// Release enqueues freeing of the lattice and marker storage.
	Release()
}

// VertexBuffer is device memory holding extracted vertices.
type VertexBuffer interface {
	// Len is the capacity in vertices.
	Len() uint32
	// Ready is closed once the extraction writing this buffer has run.
	Ready() <-chan struct{}
	// Read waits for Ready and returns the vertices or the extraction error.
	Read(ctx context.Context) ([]terrain.Vertex, error)
	Release()
}

// BufferBytes returns the size of a vertex buffer holding n vertices.
func BufferBytes(n uint32) int64 {
	return int64(n) * int64(terrain.VertexStride)
}
