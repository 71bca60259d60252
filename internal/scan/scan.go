// Package scan classifies the cubes of a density lattice and compacts the
// ones that produce surface into a dense marker list.
//
// Compaction is a two-pass prefix sum over z slabs: the first pass counts
// active cubes and output vertices per slab, an exclusive scan turns those
// counts into slab bases, and the second pass writes markers with their
// vertex offsets. The result matches what an atomic-counter scanner claims,
// ordered by voxel index.
package scan

import (
	"context"
	"fmt"

	"github.com/alitto/pond/v2"

	"github.com/Faultbox/isoterrain/internal/density"
	"github.com/Faultbox/isoterrain/internal/mctables"
	"github.com/Faultbox/isoterrain/internal/parallel"
	"github.com/Faultbox/isoterrain/internal/terrain"
)

// Result holds the compacted markers and the two counters.
type Result struct {
	Counters terrain.Counters
	Markers  []terrain.Marker // len == Counters.ActiveVoxels
}

type slabCount struct {
	active   uint32
	vertices uint32
}

// Scan classifies every interior cube of lat. markers is reused when its
// capacity reaches the layout's cube count; otherwise a new slice is allocated.
func Scan(ctx context.Context, pool pond.Pool, lat *density.Lattice, markers []terrain.Marker) (Result, error) {
	layout := lat.Layout
	cells := layout.Cells()
	if cap(markers) < layout.NumCells() {
		markers = make([]terrain.Marker, layout.NumCells())
	}
	markers = markers[:layout.NumCells()]

	// Pass 1: per-slab counts.
	counts := make([]slabCount, cells)
	err := parallel.For(ctx, pool, cells, func(z int) {
		var c slabCount
		for y := 0; y < cells; y++ {
			for x := 0; x < cells; x++ {
				n := mctables.VertexCounts[mctables.Code(lat.Corners(x, y, z))]
				if n == 0 {
					continue
				}
				c.active++
				c.vertices += uint32(n)
			}
		}
		counts[z] = c
	})
	if err != nil {
		return Result{}, err
	}

	// Exclusive scan over slabs.
	bases := make([]slabCount, cells)
	var total slabCount
	for z, c := range counts {
		bases[z] = total
		total.active += c.active
		total.vertices += c.vertices
	}

	// Pass 2: emit markers at each slab's base.
	err = parallel.For(ctx, pool, cells, func(z int) {
		slot := bases[z].active
		offset := bases[z].vertices
		for y := 0; y < cells; y++ {
			for x := 0; x < cells; x++ {
				code := mctables.Code(lat.Corners(x, y, z))
				n := mctables.VertexCounts[code]
				if n == 0 {
					continue
				}
				markers[slot] = terrain.Marker{
					Packed:       terrain.PackMarker(layout.CellIndex(x, y, z), code),
					VertexOffset: offset,
				}
				slot++
				offset += uint32(n)
			}
		}
	})
	if err != nil {
		return Result{}, err
	}

	return Result{
		Counters: terrain.Counters{ActiveVoxels: total.active, Vertices: total.vertices},
		Markers:  markers[:total.active],
	}, nil
}

// Verify checks that marker vertex ranges partition [0, Counters.Vertices).
func (r Result) Verify() error {
	if uint32(len(r.Markers)) != r.Counters.ActiveVoxels {
		return fmt.Errorf("%d markers for %d active voxels", len(r.Markers), r.Counters.ActiveVoxels)
	}
	var next uint32
	for i, m := range r.Markers {
		if m.VertexOffset != next {
			return fmt.Errorf("marker %d starts at vertex %d, expected %d", i, m.VertexOffset, next)
		}
		n := mctables.VertexCounts[m.Code()]
		if n == 0 {
			return fmt.Errorf("marker %d has inactive code %d", i, m.Code())
		}
		next += uint32(n)
	}
	if next != r.Counters.Vertices {
		return fmt.Errorf("markers cover %d vertices, counter says %d", next, r.Counters.Vertices)
	}
	return nil
}
