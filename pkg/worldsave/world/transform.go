package world

import "math"

// nearlyZero is the tolerance used for position comparisons.
const nearlyZero = 1e-4

// Vector is a position, direction or scale in world space.
type Vector struct {
	X, Y, Z float64
}

// XYZ returns the components of v. It lets a Vector be stored in a
// codec vector field.
func (v Vector) XYZ() (x, y, z float64) { return v.X, v.Y, v.Z }

// Sub returns v - o.
func (v Vector) Sub(o Vector) Vector {
	return Vector{v.X - o.X, v.Y - o.Y, v.Z - o.Z}
}

// Length returns the Euclidean length of v.
func (v Vector) Length() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// DistanceSquared returns the squared distance between v and o.
func (v Vector) DistanceSquared(o Vector) float64 {
	d := v.Sub(o)
	return d.X*d.X + d.Y*d.Y + d.Z*d.Z
}

// IsNearlyZero reports whether every component is within tolerance of zero.
func (v Vector) IsNearlyZero() bool {
	return math.Abs(v.X) <= nearlyZero && math.Abs(v.Y) <= nearlyZero && math.Abs(v.Z) <= nearlyZero
}

func (v Vector) finite() bool {
	return isFinite(v.X) && isFinite(v.Y) && isFinite(v.Z)
}

// Rotator is an orientation in degrees.
type Rotator struct {
	Pitch, Yaw, Roll float64
}

func (r Rotator) finite() bool {
	return isFinite(r.Pitch) && isFinite(r.Yaw) && isFinite(r.Roll)
}

// Transform places an entity or component in space.
type Transform struct {
	Location Vector
	Rotation Rotator
	Scale    Vector
}

// Identity returns the transform at the origin with unit scale.
func Identity() Transform {
	return Transform{Scale: Vector{1, 1, 1}}
}

// At returns a unit-scale transform at location.
func At(x, y, z float64) Transform {
	t := Identity()
	t.Location = Vector{x, y, z}
	return t
}

// Valid reports whether every component is a finite number.
func (t Transform) Valid() bool {
	return t.Location.finite() && t.Rotation.finite() && t.Scale.finite()
}

// Degenerate reports whether t must not be applied to an entity:
// it is invalid or sits exactly at the origin, which is what an unset
// transform looks like.
func (t Transform) Degenerate() bool {
	return !t.Valid() || t.Location == (Vector{})
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
