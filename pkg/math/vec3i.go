package math

import "fmt"

// Vec3i is an integer 3D vector, used for lattice and chunk coordinates.
type Vec3i struct {
	X, Y, Z int
}

// Add returns v + other.
func (v Vec3i) Add(other Vec3i) Vec3i {
	return Vec3i{v.X + other.X, v.Y + other.Y, v.Z + other.Z}
}

// Sub returns v - other.
func (v Vec3i) Sub(other Vec3i) Vec3i {
	return Vec3i{v.X - other.X, v.Y - other.Y, v.Z - other.Z}
}

// Vec3 converts to a float vector.
func (v Vec3i) Vec3() Vec3 {
	return Vec3{float32(v.X), float32(v.Y), float32(v.Z)}
}

// LengthSq returns the squared euclidean length.
func (v Vec3i) LengthSq() int {
	return v.X*v.X + v.Y*v.Y + v.Z*v.Z
}

// String returns "(x,y,z)".
func (v Vec3i) String() string {
	return fmt.Sprintf("(%d,%d,%d)", v.X, v.Y, v.Z)
}

// Wrap returns a modulo n in [0, n).
func Wrap(a, n int) int {
	m := a % n
	if m < 0 {
		m += n
	}
	return m
}
