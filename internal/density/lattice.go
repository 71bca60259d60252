package density

import (
	"context"
	"fmt"
	stdmath "math"

	"github.com/alitto/pond/v2"

	"github.com/Faultbox/isoterrain/internal/mctables"
	"github.com/Faultbox/isoterrain/internal/parallel"
	"github.com/Faultbox/isoterrain/internal/terrain"
	"github.com/Faultbox/isoterrain/pkg/math"
)

// Lattice is the sampled density of one chunk including its margin.
// Coordinates passed to its methods are margin-relative: the chunk interior
// spans [0, Dim-1] and the margin extends it to [-Margin, Dim-1+Margin].
type Lattice struct {
	Layout terrain.Layout
	Coord  terrain.ChunkCoord
	Values []float32 // x fastest, then y, then z
}

// NewLattice allocates a zeroed lattice for layout.
func NewLattice(layout terrain.Layout) *Lattice {
	return &Lattice{
		Layout: layout,
		Values: make([]float32, layout.NumPoints()),
	}
}

// Lo returns the smallest valid coordinate on each axis.
func (l *Lattice) Lo() int {
	return -l.Layout.Margin
}

// Hi returns the largest valid coordinate on each axis.
func (l *Lattice) Hi() int {
	return l.Layout.Dim - 1 + l.Layout.Margin
}

// InBounds reports whether (x,y,z) is a stored lattice point.
func (l *Lattice) InBounds(x, y, z int) bool {
	lo, hi := l.Lo(), l.Hi()
	return x >= lo && x <= hi && y >= lo && y <= hi && z >= lo && z <= hi
}

// Index returns the storage index of (x,y,z).
func (l *Lattice) Index(x, y, z int) int {
	m, n := l.Layout.Margin, l.Layout.Points()
	return (x + m) + (y+m)*n + (z+m)*n*n
}

// At returns the density at (x,y,z).
func (l *Lattice) At(x, y, z int) float32 {
	return l.Values[l.Index(x, y, z)]
}

// Set stores the density at (x,y,z).
func (l *Lattice) Set(x, y, z int, v float32) {
	l.Values[l.Index(x, y, z)] = v
}

// Corners returns the densities at the eight corners of cube (x,y,z)
// in marching-cubes corner order.
func (l *Lattice) Corners(x, y, z int) [8]float32 {
	var c [8]float32
	for i, o := range mctables.CornerOffsets {
		c[i] = l.At(x+o[0], y+o[1], z+o[2])
	}
	return c
}

// clampedAt reads (x,y,z) after clamping each axis into the stored range.
func (l *Lattice) clampedAt(x, y, z int) float32 {
	lo, hi := l.Lo(), l.Hi()
	return l.At(clamp(x, lo, hi), clamp(y, lo, hi), clamp(z, lo, hi))
}

// Sample returns the trilinear density at a fractional lattice position,
// clamping to the stored range.
func (l *Lattice) Sample(p math.Vec3) float32 {
	x0 := int(stdmath.Floor(float64(p.X)))
	y0 := int(stdmath.Floor(float64(p.Y)))
	z0 := int(stdmath.Floor(float64(p.Z)))
	tx := p.X - float32(x0)
	ty := p.Y - float32(y0)
	tz := p.Z - float32(z0)

	c00 := lerp(l.clampedAt(x0, y0, z0), l.clampedAt(x0+1, y0, z0), tx)
	c10 := lerp(l.clampedAt(x0, y0+1, z0), l.clampedAt(x0+1, y0+1, z0), tx)
	c01 := lerp(l.clampedAt(x0, y0, z0+1), l.clampedAt(x0+1, y0, z0+1), tx)
	c11 := lerp(l.clampedAt(x0, y0+1, z0+1), l.clampedAt(x0+1, y0+1, z0+1), tx)

	return lerp(lerp(c00, c10, ty), lerp(c01, c11, ty), tz)
}

// Gradient returns the central-difference gradient at a lattice point,
// falling back to one-sided differences on the lattice boundary.
func (l *Lattice) Gradient(x, y, z int) math.Vec3 {
	return math.Vec3{
		X: l.diff(x, y, z, 1, 0, 0),
		Y: l.diff(x, y, z, 0, 1, 0),
		Z: l.diff(x, y, z, 0, 0, 1),
	}
}

func (l *Lattice) diff(x, y, z, dx, dy, dz int) float32 {
	hasLo := l.InBounds(x-dx, y-dy, z-dz)
	hasHi := l.InBounds(x+dx, y+dy, z+dz)
	switch {
	case hasLo && hasHi:
		return (l.At(x+dx, y+dy, z+dz) - l.At(x-dx, y-dy, z-dz)) * 0.5
	case hasHi:
		return l.At(x+dx, y+dy, z+dz) - l.At(x, y, z)
	case hasLo:
		return l.At(x, y, z) - l.At(x-dx, y-dy, z-dz)
	default:
		return 0
	}
}

// Generate evaluates field at every lattice point of the chunk at coord.
// Z slabs are spread over pool; a nil pool evaluates serially.
func Generate(ctx context.Context, pool pond.Pool, field Field, dst *Lattice, coord terrain.ChunkCoord) error {
	if len(dst.Values) != dst.Layout.NumPoints() {
		return fmt.Errorf("lattice holds %d values, layout needs %d", len(dst.Values), dst.Layout.NumPoints())
	}
	dst.Coord = coord

	layout := dst.Layout
	lo, hi := dst.Lo(), dst.Hi()
	slabs := hi - lo + 1

	return parallel.For(ctx, pool, slabs, func(i int) {
		z := lo + i
		for y := lo; y <= hi; y++ {
			for x := lo; x <= hi; x++ {
				p := layout.WorldPosition(coord, math.Vec3{X: float32(x), Y: float32(y), Z: float32(z)})
				dst.Set(x, y, z, field.Density(p))
			}
		}
	})
}

func clamp(v, lo, hi int) int {
	return max(lo, min(hi, v))
}

func lerp(a, b, t float32) float32 {
	return a + (b-a)*t
}
