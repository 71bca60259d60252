package extract

import (
	"context"
	"errors"
	stdmath "math"
	"testing"

	"github.com/Faultbox/isoterrain/internal/density"
	"github.com/Faultbox/isoterrain/internal/mctables"
	"github.com/Faultbox/isoterrain/internal/parallel"
	"github.com/Faultbox/isoterrain/internal/scan"
	"github.com/Faultbox/isoterrain/internal/terrain"
	"github.com/Faultbox/isoterrain/pkg/math"
)

func scanLattice(t *testing.T, lat *density.Lattice) scan.Result {
	t.Helper()
	res, err := scan.Scan(context.Background(), nil, lat, nil)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	return res
}

func build(t *testing.T, lat *density.Lattice, opts Options) []terrain.Vertex {
	t.Helper()
	res := scanLattice(t, lat)
	out := make([]terrain.Vertex, res.Counters.Vertices)
	if err := Extract(context.Background(), nil, lat, res.Markers, out, opts); err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	return out
}

func assertUnit(t *testing.T, n [3]float32) {
	t.Helper()
	l := stdmath.Sqrt(float64(n[0]*n[0] + n[1]*n[1] + n[2]*n[2]))
	if stdmath.Abs(l-1) > 1e-5 {
		t.Errorf("normal %v has length %v", n, l)
	}
}

func TestExtract_SingleCubeCaseSeven(t *testing.T) {
	lat := density.NewLattice(terrain.Layout{Dim: 2, Margin: 0, WorldSize: 1})
	for i, o := range mctables.CornerOffsets {
		v := float32(-1)
		if i < 3 {
			v = 1
		}
		lat.Set(o[0], o[1], o[2], v)
	}

	out := build(t, lat, Options{})
	if len(out) != 9 {
		t.Fatalf("expected 9 vertices, got %d", len(out))
	}

	e2 := [3]float32{0.5, 1, 0}
	e3 := [3]float32{0, 0.5, 0}
	e8 := [3]float32{0, 0, 0.5}
	e9 := [3]float32{1, 0, 0.5}
	e10 := [3]float32{1, 1, 0.5}
	want := [][3]float32{e2, e8, e3, e2, e10, e8, e10, e9, e8}

	solid := math.Vec3{X: 2.0 / 3, Y: 1.0 / 3}
	for i, v := range out {
		if v.Position != want[i] {
			t.Errorf("vertex %d: position %v, want %v", i, v.Position, want[i])
		}
		if v.Ambient != 1 {
			t.Errorf("vertex %d: ambient %v with occlusion off", i, v.Ambient)
		}
		assertUnit(t, v.Normal)

		// Normals point away from the solid corners.
		n := math.Vec3{X: v.Normal[0], Y: v.Normal[1], Z: v.Normal[2]}
		p := math.Vec3{X: v.Position[0], Y: v.Position[1], Z: v.Position[2]}
		if n.Dot(p.Sub(solid)) <= 0 {
			t.Errorf("vertex %d: normal %v points into the solid", i, v.Normal)
		}
	}
}

func TestExtract_PlaneIsFlat(t *testing.T) {
	const c = 3.25
	layout := terrain.Layout{Dim: 8, Margin: 1, WorldSize: 7}
	lat := density.NewLattice(layout)
	field := density.FieldFunc(func(p math.Vec3) float32 { return p.Z - c })
	if err := density.Generate(context.Background(), nil, field, lat, terrain.ChunkCoord{}); err != nil {
		t.Fatal(err)
	}

	out := build(t, lat, Options{})
	cells := layout.Cells()
	if want := cells * cells * 6; len(out) != want {
		t.Fatalf("expected %d vertices, got %d", want, len(out))
	}
	for i, v := range out {
		if v.Position[2] != c {
			t.Fatalf("vertex %d: z = %v, want %v", i, v.Position[2], c)
		}
		if v.Normal != [3]float32{0, 0, -1} {
			t.Fatalf("vertex %d: normal %v, want (0,0,-1)", i, v.Normal)
		}
	}

	b := Bounds(out)
	if b.Min != [3]float32{0, 0, c} || b.Max != [3]float32{7, 7, c} {
		t.Errorf("unexpected bounds %+v", b)
	}
}

func TestExtract_IntegerPlaneOnLatticePoints(t *testing.T) {
	layout := terrain.Layout{Dim: 16, Margin: 4, WorldSize: 15}
	coord := terrain.ChunkCoord{X: -1, Y: 2, Z: 1}
	base := float32(coord.Z) * layout.WorldSize

	tests := []struct {
		name string
		c    int
	}{
		{"first", 1},
		{"middle", layout.Dim / 2},
		{"last", layout.Dim - 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Density is exactly zero on the lattice plane z == c.
			plane := base + float32(tt.c)
			lat := density.NewLattice(layout)
			field := density.FieldFunc(func(p math.Vec3) float32 { return p.Z - plane })
			if err := density.Generate(context.Background(), nil, field, lat, coord); err != nil {
				t.Fatal(err)
			}

			out := build(t, lat, DefaultOptions())
			cells := layout.Cells()
			if want := cells * cells * 6; len(out) != want {
				t.Fatalf("expected %d vertices, got %d", want, len(out))
			}
			for i, v := range out {
				if v.Position[2] != plane {
					t.Fatalf("vertex %d: z = %v, want %v", i, v.Position[2], plane)
				}
				if v.Normal != [3]float32{0, 0, -1} {
					t.Fatalf("vertex %d: normal %v, want (0,0,-1)", i, v.Normal)
				}
				if v.Ambient < 0 || v.Ambient > 1 {
					t.Fatalf("vertex %d: ambient %v out of range", i, v.Ambient)
				}
			}
		})
	}
}

func TestExtract_TrianglesAreWholeAndFinite(t *testing.T) {
	layout := terrain.Layout{Dim: 12, Margin: 2, WorldSize: 4}
	lat := density.NewLattice(layout)
	field := density.Sphere(math.Vec3{X: 2, Y: 2, Z: 2}, 1.3)
	if err := density.Generate(context.Background(), nil, field, lat, terrain.ChunkCoord{}); err != nil {
		t.Fatal(err)
	}

	out := build(t, lat, DefaultOptions())
	if len(out) == 0 || len(out)%3 != 0 {
		t.Fatalf("expected a whole number of triangles, got %d vertices", len(out))
	}
	for i, v := range out {
		for k := 0; k < 3; k++ {
			if stdmath.IsNaN(float64(v.Position[k])) || stdmath.IsNaN(float64(v.Normal[k])) {
				t.Fatalf("vertex %d has NaN: %+v", i, v)
			}
		}
		if v.Ambient < 0 || v.Ambient > 1 {
			t.Errorf("vertex %d: ambient %v out of [0,1]", i, v.Ambient)
		}
		// Every vertex lies on the sphere up to interpolation error.
		p := math.Vec3{X: v.Position[0], Y: v.Position[1], Z: v.Position[2]}
		if d := p.Distance(math.Vec3{X: 2, Y: 2, Z: 2}); stdmath.Abs(float64(d-1.3)) > 0.05 {
			t.Errorf("vertex %d at distance %v from center", i, d)
		}
	}
}

func TestExtract_PoolMatchesSerial(t *testing.T) {
	layout := terrain.Layout{Dim: 16, Margin: 4, WorldSize: 4}
	lat := density.NewLattice(layout)
	if err := density.Generate(context.Background(), nil, density.Plane(1.3), lat, terrain.ChunkCoord{}); err != nil {
		t.Fatal(err)
	}
	res := scanLattice(t, lat)

	serial := make([]terrain.Vertex, res.Counters.Vertices)
	if err := Extract(context.Background(), nil, lat, res.Markers, serial, DefaultOptions()); err != nil {
		t.Fatal(err)
	}

	pool := parallel.NewPool(4)
	defer pool.StopAndWait()
	pooled := make([]terrain.Vertex, res.Counters.Vertices)
	if err := Extract(context.Background(), pool, lat, res.Markers, pooled, DefaultOptions()); err != nil {
		t.Fatal(err)
	}

	for i := range serial {
		if serial[i] != pooled[i] {
			t.Fatalf("vertex %d differs: %+v vs %+v", i, serial[i], pooled[i])
		}
	}
}

func TestExtract_Overrun(t *testing.T) {
	layout := terrain.Layout{Dim: 6, Margin: 0, WorldSize: 5}
	lat := density.NewLattice(layout)
	if err := density.Generate(context.Background(), nil, density.Plane(2.5), lat, terrain.ChunkCoord{}); err != nil {
		t.Fatal(err)
	}
	res := scanLattice(t, lat)

	short := make([]terrain.Vertex, res.Counters.Vertices-1)
	err := Extract(context.Background(), nil, lat, res.Markers, short, Options{})
	if !errors.Is(err, ErrOverrun) {
		t.Fatalf("expected ErrOverrun, got %v", err)
	}
}

func TestOcclusion(t *testing.T) {
	layout := terrain.Layout{Dim: 8, Margin: 4, WorldSize: 7}

	air := density.NewLattice(layout)
	for i := range air.Values {
		air.Values[i] = -1
	}
	if got := Occlusion(air, math.Vec3{X: 3, Y: 3, Z: 3}, 8); got != 1 {
		t.Errorf("open air visibility %v, want 1", got)
	}

	ground := density.NewLattice(layout)
	if err := density.Generate(context.Background(), nil, density.Plane(3), ground, terrain.ChunkCoord{}); err != nil {
		t.Fatal(err)
	}
	got := Occlusion(ground, math.Vec3{X: 3, Y: 3, Z: 3}, 4)
	if got <= 0.2 || got >= 0.8 {
		t.Errorf("half-space visibility %v, expected roughly one half", got)
	}
}

func TestGroups(t *testing.T) {
	tests := []struct{ n, want int }{{0, 0}, {1, 1}, {32, 1}, {33, 2}, {64, 2}}
	for _, tt := range tests {
		if got := Groups(tt.n); got != tt.want {
			t.Errorf("Groups(%d) = %d, want %d", tt.n, got, tt.want)
		}
	}
}
