// SPDX-License-Identifier: MIT
/*
Package bitint provides the power-of-two helpers used to size FFT windows
and audio buffers.

All functions are generic over the signed and unsigned integer types, run
in constant time and do not allocate.

Usage:

	// Suggest a valid FFT window for a requested size
	size := bitint.NextPowerOfTwo(1000) // 1024

	// Verify FFT window size is valid
	ok := bitint.IsPowerOfTwo(windowSize)

	// Number of radix-2 stages of a window
	stages := bitint.Log2(2048) // 11

NextPowerOfTwo works on size-1 so that exact powers of two map to
themselves: for 8, bits.Len64(7) is 3 and 1<<3 is 8, whereas bits.Len64(8)
would be 4 and double the input.
*/
package bitint

import "math/bits"

// Integer is any built-in integer type.
type Integer interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

// NextPowerOfTwo returns the smallest power of two >= n. Non-positive
// input returns 1. The result overflows to 0 (or a negative value for
// signed types) when no power of two of T is >= n.
//
//	Input  Output
//	4      4
//	5      8
//	0      1
//	-1     1
func NextPowerOfTwo[T Integer](n T) T {
	if n <= 1 {
		return 1
	}
	return T(1) << bits.Len64(uint64(n-1))
}

// IsPowerOfTwo reports whether n is a positive power of two. A power of two
// has exactly one bit set, so clearing the lowest set bit with n&(n-1)
// leaves zero.
//
//	Input  Output  Binary
//	8      true    1000 & 0111 = 0000
//	7      false   0111 & 0110 = 0110
//	0      false   not positive
func IsPowerOfTwo[T Integer](n T) bool {
	return n > 0 && n&(n-1) == 0
}

// Log2 returns floor(log2(n)) for positive n and -1 otherwise.
func Log2[T Integer](n T) int {
	if n <= 0 {
		return -1
	}
	return bits.Len64(uint64(n)) - 1
}
