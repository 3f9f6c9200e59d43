package memutils

import (
	cerrors "github.com/cockroachdb/errors"
	"golang.org/x/exp/constraints"
)

// Number is any integer type that offsets, sizes and alignments are expressed in
type Number interface {
	constraints.Integer
}

// CheckPow2 returns PowerOfTwoError, annotated with the provided name, if number is not a power of two.
// Zero is accepted because it carries no alignment requirement.
func CheckPow2[T Number](number T, name string) error {
	if number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

// AlignUp rounds value up to the next multiple of alignment, which must be a power of two
func AlignUp[T Number](value T, alignment T) T {
	if alignment <= 1 {
		return value
	}
	return (value + alignment - 1) & ^(alignment - 1)
}

// AlignDown rounds value down to the previous multiple of alignment, which must be a power of two
func AlignDown[T Number](value T, alignment T) T {
	if alignment <= 1 {
		return value
	}
	return value & ^(alignment - 1)
}

// IsAligned reports whether value is a multiple of alignment
func IsAligned[T Number](value T, alignment T) bool {
	if alignment <= 1 {
		return true
	}
	return value&(alignment-1) == 0
}

// LeastCommonMultiple of two positive numbers. A non-positive argument yields the other one.
func LeastCommonMultiple[T Number](a T, b T) T {
	if a <= 0 {
		return b
	}
	if b <= 0 {
		return a
	}

	x, y := a, b
	for y != 0 {
		x, y = y, x%y
	}
	return a / x * b
}

// AlignUpMultiple rounds value up to the next multiple of alignment, which need not be a power of two
func AlignUpMultiple[T Number](value T, alignment T) T {
	if alignment <= 1 {
		return value
	}
	return (value + alignment - 1) / alignment * alignment
}
