package math

import "golang.org/x/exp/constraints"

func Clamp[T constraints.Ordered](value, min, max T) T {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

func Max[T constraints.Ordered](x, y T) T {
	if x < y {
		return y
	}
	return x
}

func Min[T constraints.Ordered](x, y T) T {
	if x > y {
		return y
	}
	return x
}

// RoundUpToPowerOfTwo returns the next power of two >= value. Zero maps to
// zero so empty buffers stay empty.
func RoundUpToPowerOfTwo(value uint32) uint32 {
	if value == 0 {
		return 0
	}
	value--
	value |= value >> 1
	value |= value >> 2
	value |= value >> 4
	value |= value >> 8
	value |= value >> 16
	return value + 1
}

// DivideAndRoundUp returns ceil(dividend / divisor).
func DivideAndRoundUp[T constraints.Integer](dividend, divisor T) T {
	return (dividend + divisor - 1) / divisor
}
