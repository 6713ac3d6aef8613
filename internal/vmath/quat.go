package vmath

import "math"

// Quat is a unit quaternion describing an orientation.
type Quat struct {
	X float64 `json:"x" msgpack:"x"`
	Y float64 `json:"y" msgpack:"y"`
	Z float64 `json:"z" msgpack:"z"`
	W float64 `json:"w" msgpack:"w"`
}

// Identity is the orientation with no rotation.
func Identity() Quat {
	return Quat{W: 1}
}

// IsZero reports whether q is the zero value, which is not a valid rotation.
func (q Quat) IsZero() bool {
	return q.X == 0 && q.Y == 0 && q.Z == 0 && q.W == 0
}

func (q Quat) Dot(o Quat) float64 {
	return q.X*o.X + q.Y*o.Y + q.Z*o.Z + q.W*o.W
}

// Normalize returns q scaled to unit length. The zero quaternion maps to Identity.
func (q Quat) Normalize() Quat {
	mag := math.Sqrt(q.Dot(q))
	if mag == 0 {
		return Identity()
	}
	inv := 1.0 / mag
	return Quat{q.X * inv, q.Y * inv, q.Z * inv, q.W * inv}
}

// Mul composes two rotations: the result applies o first, then q.
func (q Quat) Mul(o Quat) Quat {
	return Quat{
		X: q.W*o.X + q.X*o.W + q.Y*o.Z - q.Z*o.Y,
		Y: q.W*o.Y - q.X*o.Z + q.Y*o.W + q.Z*o.X,
		Z: q.W*o.Z + q.X*o.Y - q.Y*o.X + q.Z*o.W,
		W: q.W*o.W - q.X*o.X - q.Y*o.Y - q.Z*o.Z,
	}
}

// FromAxisAngle builds a rotation of angle radians around axis.
func FromAxisAngle(axis Vec3, angle float64) Quat {
	axis = axis.Normalize()
	if axis == (Vec3{}) {
		return Identity()
	}
	s := math.Sin(angle / 2)
	return Quat{X: axis.X * s, Y: axis.Y * s, Z: axis.Z * s, W: math.Cos(angle / 2)}
}

// FromYawPitch builds a first-person orientation: yaw around +Y, then pitch
// around the local +X axis.
func FromYawPitch(yaw, pitch float64) Quat {
	yq := FromAxisAngle(Vec3{Y: 1}, yaw)
	pq := FromAxisAngle(Vec3{X: 1}, pitch)
	return yq.Mul(pq).Normalize()
}

// Rotate applies q to v.
func (q Quat) Rotate(v Vec3) Vec3 {
	u := Vec3{q.X, q.Y, q.Z}
	s := q.W
	// v' = 2(u·v)u + (s² - u·u)v + 2s(u × v)
	cross := Vec3{
		X: u.Y*v.Z - u.Z*v.Y,
		Y: u.Z*v.X - u.X*v.Z,
		Z: u.X*v.Y - u.Y*v.X,
	}
	return u.Scale(2 * u.Dot(v)).Add(v.Scale(s*s - u.Dot(u))).Add(cross.Scale(2 * s))
}

// Slerp spherically interpolates between a and b along the shortest arc.
// t is clamped to [0,1]. Nearly parallel inputs fall back to a normalized lerp.
func Slerp(a, b Quat, t float64) Quat {
	t = Clamp(t, 0, 1)
	a = a.Normalize()
	b = b.Normalize()

	cos := a.Dot(b)
	if cos < 0 {
		b = Quat{-b.X, -b.Y, -b.Z, -b.W}
		cos = -cos
	}

	if cos > 0.9995 {
		return Quat{
			X: a.X + (b.X-a.X)*t,
			Y: a.Y + (b.Y-a.Y)*t,
			Z: a.Z + (b.Z-a.Z)*t,
			W: a.W + (b.W-a.W)*t,
		}.Normalize()
	}

	theta := math.Acos(cos)
	sin := math.Sin(theta)
	wa := math.Sin((1-t)*theta) / sin
	wb := math.Sin(t*theta) / sin
	return Quat{
		X: a.X*wa + b.X*wb,
		Y: a.Y*wa + b.Y*wb,
		Z: a.Z*wa + b.Z*wb,
		W: a.W*wa + b.W*wb,
	}
}

// AngleBetween reports the rotation angle in radians separating a and b.
func AngleBetween(a, b Quat) float64 {
	d := math.Abs(a.Normalize().Dot(b.Normalize()))
	if d > 1 {
		d = 1
	}
	return 2 * math.Acos(d)
}
