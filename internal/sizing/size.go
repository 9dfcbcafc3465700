// Package sizing provides safe size arithmetic and conversions to prevent overflow.
package sizing

import "math"

// ToUint32 converts an int to uint32, returning overflowErr if it doesn't fit.
func ToUint32(size int, overflowErr error) (uint32, error) {
	if size < 0 || uint64(size) > math.MaxUint32 {
		return 0, overflowErr
	}
	return uint32(size), nil
}

// ToInt converts a uint64 to int, returning overflowErr if it doesn't fit.
func ToInt(size uint64, overflowErr error) (int, error) {
	if size > uint64(math.MaxInt) {
		return 0, overflowErr
	}
	return int(size), nil
}

// AddUint64 adds two uint64 values, returning (result, false) on overflow.
func AddUint64(a, b uint64) (uint64, bool) {
	sum := a + b
	if sum < a {
		return 0, false
	}
	return sum, true
}

// AlignUp rounds n up to the next multiple of align. align must be a power of two;
// an align of 0 returns n unchanged.
func AlignUp(n, align uint64) uint64 {
	if align == 0 {
		return n
	}
	return (n + align - 1) &^ (align - 1)
}

// Fits reports whether the range [off, off+n) lies within a buffer of length size.
func Fits(off, n uint64, size int) bool {
	end, ok := AddUint64(off, n)
	return ok && end <= uint64(size) //nolint:gosec // size is a slice length
}
