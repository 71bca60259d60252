// Package terrain holds the data model shared by every stage of the chunk pipeline.
package terrain

import (
	"fmt"
	"unsafe"

	"github.com/Faultbox/isoterrain/pkg/math"
)

// ChunkCoord identifies a chunk in the regular chunk grid.
type ChunkCoord = math.Vec3i

// Vertex is one output record of the surface extractor.
// The layout matches two std430 vec4s: position + ambient, normal + pad.
type Vertex struct {
	Position [3]float32
	Ambient  float32 // occlusion term in [0,1], 1 = fully open
	Normal   [3]float32
	_        float32
}

// VertexStride is the size in bytes of one Vertex record.
const VertexStride = int(unsafe.Sizeof(Vertex{}))

// Counters are the two values the scan stage accumulates per build.
type Counters struct {
	ActiveVoxels uint32
	Vertices     uint32
}

// Empty reports whether the scan found no surface.
func (c Counters) Empty() bool {
	return c.ActiveVoxels == 0
}

// Marker describes one active cube. Packed holds (voxelIndex << 8) | code.
// VertexOffset is the exclusive prefix of vertex counts, filled by scanners
// that compact with a prefix sum.
type Marker struct {
	Packed       uint32
	VertexOffset uint32
}

// PackMarker packs a linear voxel index and configuration code.
func PackMarker(voxelIndex int, code uint8) uint32 {
	return uint32(voxelIndex)<<8 | uint32(code)
}

// VoxelIndex returns the linear voxel index of the marker.
func (m Marker) VoxelIndex() int {
	return int(m.Packed >> 8)
}

// Code returns the configuration code of the marker.
func (m Marker) Code() uint8 {
	return uint8(m.Packed & 0xff)
}

// Bounds holds an axis-aligned bounding box.
type Bounds struct {
	Min [3]float32
	Max [3]float32
}

// EmptyBounds returns bounds ready to be grown with Extend.
func EmptyBounds() Bounds {
	return Bounds{
		Min: [3]float32{1e30, 1e30, 1e30},
		Max: [3]float32{-1e30, -1e30, -1e30},
	}
}

// Extend grows the bounds to include p.
func (b *Bounds) Extend(p [3]float32) {
	for i := 0; i < 3; i++ {
		b.Min[i] = min(b.Min[i], p[i])
		b.Max[i] = max(b.Max[i], p[i])
	}
}

// MaxLatticeDim is the largest lattice dimension a packed marker can address.
const MaxLatticeDim = 256

// Layout fixes the lattice shape shared by the generator, scanner and extractor.
type Layout struct {
	Dim       int     // lattice points per axis inside the chunk
	Margin    int     // extra lattice points on every side
	WorldSize float32 // chunk edge length in world units
}

// DefaultLayout is 16 points per axis, margin 4, 4 world units per chunk.
func DefaultLayout() Layout {
	return Layout{Dim: 16, Margin: 4, WorldSize: 4}
}

// Validate checks the layout limits.
func (l Layout) Validate() error {
	if l.Dim < 2 || l.Dim > MaxLatticeDim {
		return fmt.Errorf("lattice dim %d out of range [2,%d]", l.Dim, MaxLatticeDim)
	}
	if l.Margin < 0 {
		return fmt.Errorf("negative margin %d", l.Margin)
	}
	if l.WorldSize <= 0 {
		return fmt.Errorf("chunk world size must be positive, got %v", l.WorldSize)
	}
	return nil
}

// Cells returns the number of cubes per axis.
func (l Layout) Cells() int {
	return l.Dim - 1
}

// NumCells returns the number of cubes in a chunk, the marker buffer capacity.
func (l Layout) NumCells() int {
	c := l.Cells()
	return c * c * c
}

// Points returns lattice points per axis including both margins.
func (l Layout) Points() int {
	return l.Dim + 2*l.Margin
}

// NumPoints returns the total number of lattice samples.
func (l Layout) NumPoints() int {
	p := l.Points()
	return p * p * p
}

// VoxelSize returns the world-space edge length of one cube.
func (l Layout) VoxelSize() float32 {
	return l.WorldSize / float32(l.Cells())
}

// ChunkOrigin returns the world position of lattice point (0,0,0) of a chunk.
func (l Layout) ChunkOrigin(coord ChunkCoord) math.Vec3 {
	return coord.Vec3().Scale(l.WorldSize)
}

// WorldPosition maps a lattice position (margin excluded, may be fractional or negative)
// to world space.
func (l Layout) WorldPosition(coord ChunkCoord, p math.Vec3) math.Vec3 {
	return l.ChunkOrigin(coord).Add(p.Scale(l.VoxelSize()))
}

// CellIndex returns the linear index of cube (x,y,z), x fastest.
func (l Layout) CellIndex(x, y, z int) int {
	c := l.Cells()
	return x + y*c + z*c*c
}

// CellCoords inverts CellIndex.
func (l Layout) CellCoords(idx int) (x, y, z int) {
	c := l.Cells()
	x = idx % c
	y = (idx / c) % c
	z = idx / (c * c)
	return x, y, z
}
