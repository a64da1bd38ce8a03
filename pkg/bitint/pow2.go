// SPDX-License-Identifier: MIT

// Package bitint provides allocation-free power-of-two helpers for sizing FFT
// and frame buffers.
package bitint

import "math/bits"

// NextPowerOfTwo returns the smallest power of 2 >= size, and 1 for size <= 0.
// Subtracting one first keeps exact powers of two unchanged.
//
//	Input  Output
//	4      4
//	5      8
//	0      1
func NextPowerOfTwo(size int) int {
	if size <= 0 {
		return 1
	}
	return 1 << bits.Len(uint(size-1))
}

// IsPowerOfTwo reports whether n is a positive power of 2. Powers of two have
// a single bit set, so n&(n-1) clears it to zero.
func IsPowerOfTwo(n int) bool {
	return n > 0 && (n&(n-1)) == 0
}
