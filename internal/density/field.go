// Package density evaluates the scalar field whose zero level set is the terrain surface.
package density

import (
	"github.com/Faultbox/isoterrain/internal/noise"
	"github.com/Faultbox/isoterrain/pkg/math"
)

// Field maps a world position to a density. Positive is solid.
// Implementations must be pure and safe for concurrent use.
type Field interface {
	Density(p math.Vec3) float32
}

// FieldFunc adapts a plain function to Field.
type FieldFunc func(p math.Vec3) float32

// Density calls f(p).
func (f FieldFunc) Density(p math.Vec3) float32 {
	return f(p)
}

// Octave scales one noise volume lookup.
type Octave struct {
	Frequency float32
	Amplitude float32
	Offset    math.Vec3
}

// TerrainField is a ground plane at y=0 perturbed by noise octaves:
//
//	-y*VerticalBias + sum(amplitude_k * noise_k(p*frequency_k + offset_k))
//
// plus an optional hard floor that pushes density up below HardFloor.
type TerrainField struct {
	Noise             *noise.Cache
	Octaves           [noise.NumVolumes]Octave
	VerticalBias      float32
	HardFloor         float32
	HardFloorStrength float32
}

// DefaultOctaves doubles frequency and halves amplitude per volume.
func DefaultOctaves() [noise.NumVolumes]Octave {
	return [noise.NumVolumes]Octave{
		{Frequency: 0.05, Amplitude: 4, Offset: math.Vec3{}},
		{Frequency: 0.1, Amplitude: 2, Offset: math.Vec3{X: 0.31, Y: 0.17, Z: 0.73}},
		{Frequency: 0.2, Amplitude: 1, Offset: math.Vec3{X: 0.61, Y: 0.43, Z: 0.11}},
		{Frequency: 0.4, Amplitude: 0.5, Offset: math.Vec3{X: 0.07, Y: 0.89, Z: 0.37}},
	}
}

// NewTerrainField builds a terrain field with default shaping over cache.
func NewTerrainField(cache *noise.Cache) *TerrainField {
	return &TerrainField{
		Noise:        cache,
		Octaves:      DefaultOctaves(),
		VerticalBias: 1,
	}
}

// Density implements Field.
func (f *TerrainField) Density(p math.Vec3) float32 {
	d := -p.Y * f.VerticalBias

	for k, o := range f.Octaves {
		if o.Amplitude == 0 {
			continue
		}
		d += o.Amplitude * f.Noise.Volume(k).Sample(p.Scale(o.Frequency).Add(o.Offset))
	}

	if f.HardFloorStrength != 0 {
		d += f.HardFloorStrength * saturate((f.HardFloor-p.Y)*3)
	}
	return d
}

func saturate(v float32) float32 {
	return max(0, min(1, v))
}

// Plane returns a field that is positive below height h.
func Plane(h float32) Field {
	return FieldFunc(func(p math.Vec3) float32 { return h - p.Y })
}

// Sphere returns a field that is positive inside the sphere.
func Sphere(center math.Vec3, radius float32) Field {
	return FieldFunc(func(p math.Vec3) float32 { return radius - p.Distance(center) })
}
