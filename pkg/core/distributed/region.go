package distributed

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// Region is an N-dimensional sub-rectangle of an array's index space, described by per-axis offsets and extents.
//
// A Region with any zero extent is empty. Empty regions are legitimate results of Intersect, but are otherwise
// only created explicitly with EmptyRegion.
//
// Regions are values: the methods never modify the receiver.
type Region struct {
	offsets, extents []int
}

// NewRegion creates a region with the given offsets and extents, one per array axis.
//
// It returns an ErrInvalidRegion if the lengths differ, if any offset is negative, or if any extent is <= 0.
// Use EmptyRegion to represent an intentionally empty region.
func NewRegion(offsets, extents []int) (Region, error) {
	if len(offsets) != len(extents) {
		return Region{}, errors.Wrapf(ErrInvalidRegion, "offsets (%v) and extents (%v) have different ranks",
			offsets, extents)
	}
	for axis := range offsets {
		if offsets[axis] < 0 {
			return Region{}, errors.Wrapf(ErrInvalidRegion, "negative offset %d for axis %d", offsets[axis], axis)
		}
		if extents[axis] <= 0 {
			return Region{}, errors.Wrapf(ErrInvalidRegion, "extent %d for axis %d must be > 0", extents[axis], axis)
		}
	}
	return Region{offsets: slices.Clone(offsets), extents: slices.Clone(extents)}, nil
}

// FullRegion returns the region covering all the array with the given dimensions.
// It panics if any dimension is <= 0.
func FullRegion(dimensions []int) Region {
	r, err := NewRegion(make([]int, len(dimensions)), dimensions)
	if err != nil {
		exceptions.Panicf("FullRegion(%v): %v", dimensions, err)
	}
	return r
}

// EmptyRegion returns an empty region of the given rank.
func EmptyRegion(rank int) Region {
	return Region{offsets: make([]int, rank), extents: make([]int, rank)}
}

// Rank returns the number of axes of the region.
func (r Region) Rank() int {
	return len(r.extents)
}

// Offsets returns a copy of the start index of the region on each axis.
func (r Region) Offsets() []int {
	return slices.Clone(r.offsets)
}

// Extents returns a copy of the size of the region on each axis.
func (r Region) Extents() []int {
	return slices.Clone(r.extents)
}

// Start of the region on the given axis.
func (r Region) Start(axis int) int {
	return r.offsets[axis]
}

// End of the region (exclusive) on the given axis.
func (r Region) End(axis int) int {
	return r.offsets[axis] + r.extents[axis]
}

// Extent of the region on the given axis.
func (r Region) Extent(axis int) int {
	return r.extents[axis]
}

// IsEmpty returns whether the region holds no elements.
// A rank-0 region (a scalar) is not empty.
func (r Region) IsEmpty() bool {
	return slices.Contains(r.extents, 0)
}

// NumElements returns the number of elements in the region: the product of its extents.
func (r Region) NumElements() int {
	n := 1
	for _, extent := range r.extents {
		n *= extent
	}
	return n
}

// Equal returns whether both regions cover the same indices. All empty regions of the same rank are equal.
func (r Region) Equal(other Region) bool {
	if r.Rank() != other.Rank() {
		return false
	}
	if r.IsEmpty() || other.IsEmpty() {
		return r.IsEmpty() && other.IsEmpty()
	}
	return slices.Equal(r.offsets, other.offsets) && slices.Equal(r.extents, other.extents)
}

// Contains returns whether other is fully inside r. The empty region is contained in any region of the same rank.
func (r Region) Contains(other Region) bool {
	if r.Rank() != other.Rank() {
		return false
	}
	if other.IsEmpty() {
		return true
	}
	for axis := range r.extents {
		if other.Start(axis) < r.Start(axis) || other.End(axis) > r.End(axis) {
			return false
		}
	}
	return true
}

// Intersect returns the overlap of the regions a and b: per axis [max(start), min(end)).
//
// If the regions don't overlap on some axis, or if either one is empty, an empty region is returned. That is not
// an error: it's up to the caller to decide whether an empty intersection is acceptable.
//
// It panics if the regions have different ranks.
func Intersect(a, b Region) Region {
	if a.Rank() != b.Rank() {
		exceptions.Panicf("Intersect(%s, %s): regions have different ranks", a, b)
	}
	if a.IsEmpty() || b.IsEmpty() {
		return EmptyRegion(a.Rank())
	}
	result := Region{offsets: make([]int, a.Rank()), extents: make([]int, a.Rank())}
	for axis := range a.extents {
		start := max(a.Start(axis), b.Start(axis))
		end := min(a.End(axis), b.End(axis))
		if start >= end {
			return EmptyRegion(a.Rank())
		}
		result.offsets[axis] = start
		result.extents[axis] = end - start
	}
	return result
}

// Intersect is an alias to Intersect(r, other).
func (r Region) Intersect(other Region) Region {
	return Intersect(r, other)
}

// String implements fmt.Stringer. Each axis is printed as the half-open range [start:end).
func (r Region) String() string {
	if r.IsEmpty() {
		return fmt.Sprintf("Region<empty, rank=%d>", r.Rank())
	}
	parts := make([]string, r.Rank())
	for axis := range r.extents {
		parts[axis] = fmt.Sprintf("%d:%d", r.Start(axis), r.End(axis))
	}
	return "Region[" + strings.Join(parts, ", ") + "]"
}
