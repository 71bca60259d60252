// Package noise provides the read-only noise volumes sampled by the density field.
package noise

import (
	"fmt"
	stdmath "math"

	"github.com/Faultbox/isoterrain/pkg/formats"
	"github.com/Faultbox/isoterrain/pkg/math"
)

// Volume is a single-channel 3D lattice sampled with repeat wrapping.
type Volume struct {
	w, h, d int
	data    []float32
}

// NewVolume wraps a dense x-fastest lattice. The slice is not copied.
func NewVolume(w, h, d int, data []float32) (*Volume, error) {
	if w <= 0 || h <= 0 || d <= 0 {
		return nil, fmt.Errorf("invalid noise volume dimensions: %dx%dx%d", w, h, d)
	}
	if len(data) != w*h*d {
		return nil, fmt.Errorf("noise volume %dx%dx%d needs %d samples, got %d", w, h, d, w*h*d, len(data))
	}
	return &Volume{w: w, h: h, d: d, data: data}, nil
}

// FromFormat builds a Volume from channel 0 of a decoded volume file.
func FromFormat(v *formats.Volume) (*Volume, error) {
	samples, err := v.Channel(0)
	if err != nil {
		return nil, err
	}
	return NewVolume(v.Width, v.Height, v.Depth, samples)
}

// Dims returns the lattice size per axis.
func (v *Volume) Dims() (w, h, d int) {
	return v.w, v.h, v.d
}

// Data returns the backing samples. Callers must not modify them.
func (v *Volume) Data() []float32 {
	return v.data
}

// At returns the sample at integer coordinates, wrapped into range.
func (v *Volume) At(x, y, z int) float32 {
	x = math.Wrap(x, v.w)
	y = math.Wrap(y, v.h)
	z = math.Wrap(z, v.d)
	return v.data[x+y*v.w+z*v.w*v.h]
}

// Sample performs a trilinear lookup at normalized coordinates, one unit
// spanning the whole volume, with texel centers at (i+0.5)/size.
func (v *Volume) Sample(p math.Vec3) float32 {
	fx := p.X*float32(v.w) - 0.5
	fy := p.Y*float32(v.h) - 0.5
	fz := p.Z*float32(v.d) - 0.5

	x0 := floor(fx)
	y0 := floor(fy)
	z0 := floor(fz)
	tx := fx - float32(x0)
	ty := fy - float32(y0)
	tz := fz - float32(z0)

	c000 := v.At(x0, y0, z0)
	c100 := v.At(x0+1, y0, z0)
	c010 := v.At(x0, y0+1, z0)
	c110 := v.At(x0+1, y0+1, z0)
	c001 := v.At(x0, y0, z0+1)
	c101 := v.At(x0+1, y0, z0+1)
	c011 := v.At(x0, y0+1, z0+1)
	c111 := v.At(x0+1, y0+1, z0+1)

	c00 := lerp(c000, c100, tx)
	c10 := lerp(c010, c110, tx)
	c01 := lerp(c001, c101, tx)
	c11 := lerp(c011, c111, tx)

	return lerp(lerp(c00, c10, ty), lerp(c01, c11, ty), tz)
}

func floor(f float32) int {
	return int(stdmath.Floor(float64(f)))
}

func lerp(a, b, t float32) float32 {
	return a + (b-a)*t
}
