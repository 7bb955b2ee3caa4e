package distributed

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustRegion(t *testing.T, offsets, extents []int) Region {
	t.Helper()
	r, err := NewRegion(offsets, extents)
	require.NoError(t, err)
	return r
}

func TestNewRegion(t *testing.T) {
	r := mustRegion(t, []int{1, 0}, []int{2, 4})
	assert.Equal(t, 2, r.Rank())
	assert.Equal(t, 8, r.NumElements())
	assert.False(t, r.IsEmpty())
	assert.Equal(t, 1, r.Start(0))
	assert.Equal(t, 3, r.End(0))
	assert.Equal(t, 4, r.Extent(1))
	assert.Equal(t, []int{1, 0}, r.Offsets())
	assert.Equal(t, []int{2, 4}, r.Extents())
	assert.Equal(t, "Region[1:3, 0:4]", r.String())

	tests := []struct {
		name             string
		offsets, extents []int
	}{
		{"zero extent", []int{0, 0}, []int{2, 0}},
		{"negative extent", []int{0}, []int{-1}},
		{"negative offset", []int{-1}, []int{2}},
		{"rank mismatch", []int{0}, []int{2, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegion(tt.offsets, tt.extents)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidRegion))
		})
	}

	empty := EmptyRegion(3)
	assert.True(t, empty.IsEmpty())
	assert.Equal(t, 0, empty.NumElements())

	full := FullRegion([]int{4, 4})
	assert.Equal(t, 16, full.NumElements())
	assert.Panics(t, func() { _ = FullRegion([]int{4, 0}) })

	// Scalars are a single element.
	scalar := FullRegion(nil)
	assert.False(t, scalar.IsEmpty())
	assert.Equal(t, 1, scalar.NumElements())
}

func TestIntersect(t *testing.T) {
	a := mustRegion(t, []int{0, 0}, []int{4, 4})
	b := mustRegion(t, []int{2, 1}, []int{4, 2})
	c := mustRegion(t, []int{5, 0}, []int{1, 1})
	empty := EmptyRegion(2)

	want := mustRegion(t, []int{2, 1}, []int{2, 2})
	assert.True(t, want.Equal(Intersect(a, b)))
	assert.True(t, want.Equal(a.Intersect(b)))

	t.Run("Idempotent", func(t *testing.T) {
		for _, r := range []Region{a, b, c} {
			assert.True(t, r.Equal(Intersect(r, r)), "Intersect(%s, %s)", r, r)
		}
	})

	t.Run("Commutative", func(t *testing.T) {
		regions := []Region{a, b, c, empty}
		for _, r0 := range regions {
			for _, r1 := range regions {
				assert.True(t, Intersect(r0, r1).Equal(Intersect(r1, r0)), "Intersect(%s, %s)", r0, r1)
			}
		}
	})

	t.Run("Empty", func(t *testing.T) {
		for _, r := range []Region{a, b, c} {
			assert.True(t, Intersect(r, empty).IsEmpty())
			assert.True(t, Intersect(empty, r).IsEmpty())
		}
		// Disjoint on axis 0.
		assert.True(t, Intersect(a, c).IsEmpty())
		// Touching regions (half-open ranges) don't overlap.
		left := mustRegion(t, []int{0}, []int{2})
		right := mustRegion(t, []int{2}, []int{2})
		assert.True(t, Intersect(left, right).IsEmpty())
	})

	t.Run("Contains", func(t *testing.T) {
		assert.True(t, a.Contains(want))
		assert.True(t, b.Contains(want))
		assert.False(t, want.Contains(a))
		assert.True(t, c.Contains(empty))
		assert.False(t, a.Contains(FullRegion([]int{4})))
	})

	assert.Panics(t, func() { _ = Intersect(a, FullRegion([]int{4})) })
}
