package math

// Vec3 represents a 3D vector
type Vec3 struct {
	X, Y, Z float32
}

// Vec4 represents a 4D vector. It is also the unit of GPU scene buffer
// storage (one "float4").
type Vec4 struct {
	X, Y, Z, W float32
}

/** @brief a 4x4 matrix, typically used to represent object transformations. */
type Mat4 struct {
	/** @brief The matrix elements, row major. */
	Data [16]float32
}

/**
 * @brief Represents the extents of a 3d object.
 */
type Extents3D struct {
	/** @brief The minimum extents of the object. */
	Min Vec3
	/** @brief The maximum extents of the object. */
	Max Vec3
}

// Center returns the midpoint of the extents.
func (e Extents3D) Center() Vec3 {
	return Vec3{
		X: (e.Min.X + e.Max.X) * 0.5,
		Y: (e.Min.Y + e.Max.Y) * 0.5,
		Z: (e.Min.Z + e.Max.Z) * 0.5,
	}
}

// HalfExtent returns the half-size of the extents along each axis.
func (e Extents3D) HalfExtent() Vec3 {
	return Vec3{
		X: (e.Max.X - e.Min.X) * 0.5,
		Y: (e.Max.Y - e.Min.Y) * 0.5,
		Z: (e.Max.Z - e.Min.Z) * 0.5,
	}
}
