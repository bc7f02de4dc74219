// SPDX-License-Identifier: MIT
package analysis

import "math"

// RMS returns the root mean square of the buffer relative to full scale.
func RMS(buffer []int32) float64 {
	if len(buffer) == 0 {
		return 0.0
	}

	var sumSquare float64
	for _, sample := range buffer {
		s := float64(sample) / float64(0x7FFFFFFF)
		sumSquare += s * s
	}
	return math.Sqrt(sumSquare / float64(len(buffer)))
}

// DBFS converts a linear level to decibels relative to full scale, floored
// at -120.
func DBFS(level float64) float64 {
	if level <= 1e-6 {
		return -120
	}
	return 20 * math.Log10(level)
}
