// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"
)

func TestShape(t *testing.T) {
	invalidShape := Invalid()
	require.False(t, invalidShape.Ok())

	shape0 := Make(dtypes.Float64)
	require.True(t, shape0.Ok())
	require.True(t, shape0.IsScalar())
	require.Equal(t, 0, shape0.Rank())
	require.Equal(t, 1, shape0.Size())

	shape1 := Make(dtypes.Float32, 4, 3, 2)
	require.True(t, shape1.Ok())
	require.False(t, shape1.IsScalar())
	require.Equal(t, 3, shape1.Rank())
	require.Equal(t, 4*3*2, shape1.Size())
	require.Contains(t, shape1.String(), "[4 3 2]")

	require.Panics(t, func() { _ = Make(dtypes.Float32, 4, 0) })
}

func TestDim(t *testing.T) {
	shape := Make(dtypes.Float32, 4, 3, 2)
	require.Equal(t, 4, shape.Dim(0))
	require.Equal(t, 3, shape.Dim(1))
	require.Equal(t, 2, shape.Dim(2))
	require.Equal(t, 4, shape.Dim(-3))
	require.Equal(t, 2, shape.Dim(-1))
	require.Panics(t, func() { _ = shape.Dim(3) })
	require.Panics(t, func() { _ = shape.Dim(-4) })
}

func TestEqualAndClone(t *testing.T) {
	s0 := Make(dtypes.Int32, 2, 3)
	s1 := s0.Clone()
	require.True(t, s0.Equal(s1))
	s1.Dimensions[0] = 7
	require.False(t, s0.Equal(s1))
	require.Equal(t, 2, s0.Dimensions[0])

	s2 := Make(dtypes.Float32, 2, 3)
	require.False(t, s0.Equal(s2))
}
