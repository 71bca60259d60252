// Package extract turns compacted active-voxel markers into triangle vertices.
package extract

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/alitto/pond/v2"

	"github.com/Faultbox/isoterrain/internal/density"
	"github.com/Faultbox/isoterrain/internal/mctables"
	"github.com/Faultbox/isoterrain/internal/parallel"
	"github.com/Faultbox/isoterrain/internal/terrain"
	"github.com/Faultbox/isoterrain/pkg/math"
)

// GroupSize is the number of markers handled by one work item.
const GroupSize = 32

// ErrOverrun is returned when a marker's vertices would not fit the output buffer.
var ErrOverrun = errors.New("vertex output overrun")

// Options tune the extractor.
type Options struct {
	// Occlusion enables per-vertex ambient occlusion rays.
	Occlusion bool
	// RayLength is the occlusion ray length in voxels.
	RayLength float32
}

// DefaultOptions enables occlusion with 8-voxel rays.
func DefaultOptions() Options {
	return Options{Occlusion: true, RayLength: 8}
}

// Groups returns the number of work groups needed for n markers.
func Groups(n int) int {
	return (n + GroupSize - 1) / GroupSize
}

// Extract writes the triangles of every marker into out, starting at each
// marker's VertexOffset. out must hold exactly the scanned vertex count.
// No marker writes more than its table count or past the end of out; a
// marker that would is skipped and ErrOverrun is returned.
func Extract(ctx context.Context, pool pond.Pool, lat *density.Lattice, markers []terrain.Marker, out []terrain.Vertex, opts Options) error {
	var (
		mu      sync.Mutex
		overrun error
	)

	err := parallel.For(ctx, pool, Groups(len(markers)), func(g int) {
		start := g * GroupSize
		end := min(start+GroupSize, len(markers))
		for _, m := range markers[start:end] {
			n := int(mctables.VertexCounts[m.Code()])
			off := int(m.VertexOffset)
			if off+n > len(out) {
				mu.Lock()
				if overrun == nil {
					overrun = fmt.Errorf("%w: voxel %d needs [%d,%d) of %d", ErrOverrun, m.VoxelIndex(), off, off+n, len(out))
				}
				mu.Unlock()
				continue
			}
			Cube(lat, m, out[off:off+n], opts)
		}
	})
	if err != nil {
		return err
	}
	return overrun
}

// Cube writes the vertices of one marker into dst, which must hold exactly
// VertexCounts[code] entries.
func Cube(lat *density.Lattice, m terrain.Marker, dst []terrain.Vertex, opts Options) {
	layout := lat.Layout
	x, y, z := layout.CellCoords(m.VoxelIndex())
	corners := lat.Corners(x, y, z)

	for i, e := range mctables.Row(m.Code()) {
		c0, c1 := mctables.EdgeCorners[e][0], mctables.EdgeCorners[e][1]
		o0, o1 := mctables.CornerOffsets[c0], mctables.CornerOffsets[c1]
		d0, d1 := corners[c0], corners[c1]
		t := d0 / (d0 - d1)

		p0 := math.Vec3{X: float32(x + o0[0]), Y: float32(y + o0[1]), Z: float32(z + o0[2])}
		p1 := math.Vec3{X: float32(x + o1[0]), Y: float32(y + o1[1]), Z: float32(z + o1[2])}
		p := p0.Lerp(p1, t)

		g0 := lat.Gradient(x+o0[0], y+o0[1], z+o0[2])
		g1 := lat.Gradient(x+o1[0], y+o1[1], z+o1[2])
		normal := g0.Lerp(g1, t).Scale(-1).Normalize()

		ambient := float32(1)
		if opts.Occlusion {
			ambient = Occlusion(lat, p, opts.RayLength)
		}

		dst[i] = terrain.Vertex{
			Position: layout.WorldPosition(lat.Coord, p).Array(),
			Ambient:  ambient,
			Normal:   normal.Array(),
		}
	}
}

// Occlusion casts NumRays rays from lattice position p and returns the mean
// visibility in [0,1]. rayLength is measured in voxels.
func Occlusion(lat *density.Lattice, p math.Vec3, rayLength float32) float32 {
	var total float32
	step := rayLength / NumRaySteps
	for _, dir := range RayDirs {
		var blocked float32
		for i := 0; i < NumRaySteps; i++ {
			s := p.Add(dir.Scale(step * float32(i+1)))
			d := lat.Sample(s)
			blocked += saturate(d*8) * RayFalloff[i]
		}
		total += 1 - saturate(blocked)
	}
	return total / NumRays
}

func saturate(v float32) float32 {
	return max(0, min(1, v))
}

// Bounds returns the axis-aligned box enclosing every vertex position.
func Bounds(vertices []terrain.Vertex) terrain.Bounds {
	b := terrain.EmptyBounds()
	for _, v := range vertices {
		b.Extend(v.Position)
	}
	return b
}
