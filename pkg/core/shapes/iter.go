// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"iter"

	"github.com/pkg/errors"
)

// Strides returns the row-major strides for the given dimensions.
//
// Notice the strides are **not in bytes**, but in elements.
func Strides(dimensions []int) (strides []int) {
	rank := len(dimensions)
	if rank == 0 {
		return
	}
	strides = make([]int, rank)
	currentStride := 1
	for axis := rank - 1; axis >= 0; axis-- {
		strides[axis] = currentStride
		currentStride *= dimensions[axis]
	}
	return
}

// Unravel converts a flat (row-major) index into per-axis indices for the given dimensions.
// It returns an error if flatIdx is out of range.
func Unravel(dimensions []int, flatIdx int) ([]int, error) {
	size := 1
	for _, dim := range dimensions {
		size *= dim
	}
	if flatIdx < 0 || flatIdx >= size {
		return nil, errors.Errorf("flat index %d out of range for dimensions %v (size %d)", flatIdx, dimensions, size)
	}
	indices := make([]int, len(dimensions))
	remaining := flatIdx
	for axis := len(dimensions) - 1; axis >= 0; axis-- {
		indices[axis] = remaining % dimensions[axis]
		remaining /= dimensions[axis]
	}
	return indices, nil
}

// IterDims iterates sequentially over all indices of the given dimensions.
//
// It yields the flat index (counter) and a slice of indices for each axis.
// Dimensions with a non-positive value yield nothing.
//
// To avoid allocating the slice of indices, the yielded indices is owned by the iterator:
// don't change it inside the loop.
func IterDims(dimensions []int) iter.Seq2[int, []int] {
	return func(yield func(int, []int) bool) {
		rank := len(dimensions)
		indices := make([]int, rank)
		for _, dim := range dimensions {
			if dim <= 0 {
				return
			}
		}
		flatIdx := 0
	yielder:
		for {
			if !yield(flatIdx, indices) {
				return
			}
			flatIdx++

			// Row-major order: the last axis changes fastest.
			for axis := rank - 1; axis >= 0; axis-- {
				indices[axis]++
				if indices[axis] < dimensions[axis] {
					continue yielder
				}
				indices[axis] = 0
			}
			break
		}
	}
}
