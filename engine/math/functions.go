package math

import (
	"github.com/chewxy/math32"
	"golang.org/x/exp/rand"
)

func NewMat4Identity() Mat4 {
	m := Mat4{}
	m.Data[0] = 1.0
	m.Data[5] = 1.0
	m.Data[10] = 1.0
	m.Data[15] = 1.0
	return m
}

func NewMat4Translation(position Vec3) Mat4 {
	m := NewMat4Identity()
	m.Data[3] = position.X
	m.Data[7] = position.Y
	m.Data[11] = position.Z
	return m
}

func NewMat4Scale(scale Vec3) Mat4 {
	m := NewMat4Identity()
	m.Data[0] = scale.X
	m.Data[5] = scale.Y
	m.Data[10] = scale.Z
	return m
}

func NewMat4RotationY(angleRadians float32) Mat4 {
	m := NewMat4Identity()
	c := math32.Cos(angleRadians)
	s := math32.Sin(angleRadians)
	m.Data[0] = c
	m.Data[2] = s
	m.Data[8] = -s
	m.Data[10] = c
	return m
}

// Mat4MulMat4 returns a * b.
func Mat4MulMat4(a, b Mat4) Mat4 {
	out := Mat4{}
	for row := 0; row < 4; row++ {
		for col := 0; col < 4; col++ {
			var sum float32
			for k := 0; k < 4; k++ {
				sum += a.Data[row*4+k] * b.Data[k*4+col]
			}
			out.Data[row*4+col] = sum
		}
	}
	return out
}

// Row returns row i of the matrix as a Vec4.
func (m Mat4) Row(i int) Vec4 {
	return Vec4{
		X: m.Data[i*4+0],
		Y: m.Data[i*4+1],
		Z: m.Data[i*4+2],
		W: m.Data[i*4+3],
	}
}

// TransformPosition applies the matrix to a position (w = 1).
func (m Mat4) TransformPosition(p Vec3) Vec3 {
	return Vec3{
		X: m.Data[0]*p.X + m.Data[1]*p.Y + m.Data[2]*p.Z + m.Data[3],
		Y: m.Data[4]*p.X + m.Data[5]*p.Y + m.Data[6]*p.Z + m.Data[7],
		Z: m.Data[8]*p.X + m.Data[9]*p.Y + m.Data[10]*p.Z + m.Data[11],
	}
}

func Vec3Length(v Vec3) float32 {
	return math32.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// RandomFloat32 returns a uniform value in [0, 1), used for per-instance
// random ids.
func RandomFloat32() float32 {
	return rand.Float32()
}
