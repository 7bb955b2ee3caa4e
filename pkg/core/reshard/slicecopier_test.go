package reshard

import (
	"encoding/binary"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/gomlx/reshard/pkg/core/distributed"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

// iotaInt32 returns the little-endian encoding of n int32 values 0, 1, ..., n-1.
func iotaInt32(n int) []byte {
	buf := make([]byte, 4*n)
	for i := range n {
		binary.LittleEndian.PutUint32(buf[4*i:], uint32(i))
	}
	return buf
}

func decodeInt32(buf []byte) []int32 {
	values := make([]int32, len(buf)/4)
	for i := range values {
		values[i] = int32(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return values
}

func encodeUint16(values []uint16) []byte {
	buf := make([]byte, 2*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint16(buf[2*i:], v)
	}
	return buf
}

func TestSliceCopierCollapse(t *testing.T) {
	full := distributed.FullRegion([]int{4, 4})

	// Full rows: the copy collapses to a single contiguous run.
	rows := must.M1(distributed.NewRegion([]int{1, 0}, []int{2, 4}))
	c := must.M1(NewSliceCopier(full, rows, dtypes.Int32))
	assert.Equal(t, CopyDesc{
		ElementSize: 4,
		Extents:     []int{8},
		DstDims:     []int{16}, SrcDims: []int{8},
		DstPos: []int{4}, SrcPos: []int{0},
	}, c.Desc())
	assert.Equal(t, 8, c.NumElements())
	assert.True(t, c.Overlap().Equal(rows))
	assert.True(t, c.Dst().Equal(full))
	assert.True(t, c.Src().Equal(rows))

	// Partial columns: can't collapse.
	cols := must.M1(distributed.NewRegion([]int{0, 1}, []int{4, 2}))
	c = must.M1(NewSliceCopier(full, cols, dtypes.Int32))
	assert.Equal(t, CopyDesc{
		ElementSize: 4,
		Extents:     []int{4, 2},
		DstDims:     []int{4, 4}, SrcDims: []int{4, 2},
		DstPos: []int{0, 1}, SrcPos: []int{0, 0},
	}, c.Desc())

	// Rank-3 slab of the outer axis: everything collapses.
	outer := distributed.FullRegion([]int{2, 3, 4})
	slab := must.M1(distributed.NewRegion([]int{1, 0, 0}, []int{1, 3, 4}))
	c = must.M1(NewSliceCopier(slab, outer, dtypes.Float64))
	assert.Equal(t, CopyDesc{
		ElementSize: 8,
		Extents:     []int{12},
		DstDims:     []int{12}, SrcDims: []int{24},
		DstPos: []int{0}, SrcPos: []int{12},
	}, c.Desc())

	// Rank-3 with only the last axis full: the two inner axes merge, the outer doesn't.
	middle := must.M1(distributed.NewRegion([]int{0, 1, 0}, []int{2, 2, 4}))
	c = must.M1(NewSliceCopier(outer, middle, dtypes.Float64))
	assert.Equal(t, CopyDesc{
		ElementSize: 8,
		Extents:     []int{2, 8},
		DstDims:     []int{2, 12}, SrcDims: []int{2, 8},
		DstPos: []int{0, 4}, SrcPos: []int{0, 0},
	}, c.Desc())
}

func TestSliceCopierExtractAndScatter(t *testing.T) {
	dims := []int{4, 4}
	full := distributed.FullRegion(dims)
	input := iotaInt32(16)

	// Extract columns 1 and 2 into a linear buffer.
	cols := must.M1(distributed.NewRegion([]int{0, 1}, []int{4, 2}))
	extract := must.M1(NewSliceCopier(cols, full, dtypes.Int32))
	staging := make([]byte, 4*cols.NumElements())
	require.NoError(t, extract.Copy(HostCopier{}, staging, input))
	assert.Equal(t, []int32{1, 2, 5, 6, 9, 10, 13, 14}, decodeInt32(staging))

	// Scatter the middle 2x2 block of the columns into the destination holding rows [1:3).
	rows := must.M1(distributed.NewRegion([]int{1, 0}, []int{2, 4}))
	block := distributed.Intersect(rows, cols)
	blockData := make([]byte, 4*block.NumElements())
	require.NoError(t, must.M1(NewSliceCopier(block, cols, dtypes.Int32)).Copy(HostCopier{}, blockData, staging))
	assert.Equal(t, []int32{5, 6, 9, 10}, decodeInt32(blockData))

	output := make([]byte, 4*rows.NumElements())
	scatter := must.M1(NewSliceCopier(rows, block, dtypes.Int32))
	require.NoError(t, scatter.Copy(HostCopier{}, output, blockData))
	assert.Equal(t, []int32{0, 5, 6, 0, 0, 9, 10, 0}, decodeInt32(output))
}

func TestSliceCopierSixteenBits(t *testing.T) {
	values := []float32{0.5, 1, 1.5, 2, 2.5, 3}
	full := distributed.FullRegion([]int{3, 2})
	lastRow := must.M1(distributed.NewRegion([]int{2, 0}, []int{1, 2}))

	t.Run("Float16", func(t *testing.T) {
		bits := make([]uint16, len(values))
		for i, v := range values {
			bits[i] = float16.Fromfloat32(v).Bits()
		}
		c := must.M1(NewSliceCopier(lastRow, full, dtypes.Float16))
		out := make([]byte, 4)
		require.NoError(t, c.Copy(HostCopier{}, out, encodeUint16(bits)))
		assert.Equal(t, float32(2.5), float16.Frombits(binary.LittleEndian.Uint16(out)).Float32())
		assert.Equal(t, float32(3), float16.Frombits(binary.LittleEndian.Uint16(out[2:])).Float32())
	})

	t.Run("BFloat16", func(t *testing.T) {
		bits := make([]uint16, len(values))
		for i, v := range values {
			bits[i] = uint16(bfloat16.FromFloat32(v))
		}
		c := must.M1(NewSliceCopier(lastRow, full, dtypes.BFloat16))
		out := make([]byte, 4)
		require.NoError(t, c.Copy(HostCopier{}, out, encodeUint16(bits)))
		assert.Equal(t, float32(2.5), bfloat16.BFloat16(binary.LittleEndian.Uint16(out)).Float32())
		assert.Equal(t, float32(3), bfloat16.BFloat16(binary.LittleEndian.Uint16(out[2:])).Float32())
	})
}

func TestSliceCopierScalar(t *testing.T) {
	scalar := distributed.FullRegion(nil)
	c := must.M1(NewSliceCopier(scalar, scalar, dtypes.Int32))
	assert.Equal(t, 1, c.NumElements())
	out := make([]byte, 4)
	require.NoError(t, c.Copy(HostCopier{}, out, iotaInt32(2)[4:]))
	assert.Equal(t, []int32{1}, decodeInt32(out))
}

func TestSliceCopierErrors(t *testing.T) {
	top := must.M1(distributed.NewRegion([]int{0}, []int{4}))
	bottom := must.M1(distributed.NewRegion([]int{4}, []int{4}))

	_, err := NewSliceCopier(top, bottom, dtypes.Int32)
	require.ErrorIs(t, err, distributed.ErrEmptyIntersection)

	_, err = NewSliceCopier(top, distributed.FullRegion([]int{4, 4}), dtypes.Int32)
	require.Error(t, err)

	_, err = NewSliceCopier(top, top, dtypes.InvalidDType)
	require.ErrorIs(t, err, ErrUnsupportedDType)
	_, err = NewSliceCopier(top, top, dtypes.F8E5M2)
	require.ErrorIs(t, err, ErrUnsupportedDType)

	c := must.M1(NewSliceCopier(top, top, dtypes.Int32))
	require.ErrorIs(t, c.Copy(HostCopier{}, make([]byte, 15), make([]byte, 16)), ErrBufferTooSmall)
	require.ErrorIs(t, c.Copy(HostCopier{}, make([]byte, 16), make([]byte, 8)), ErrBufferTooSmall)
}

func TestHostCopierMalformed(t *testing.T) {
	err := HostCopier{}.CopyND(nil, nil, CopyDesc{ElementSize: 4})
	require.Error(t, err)
	err = HostCopier{}.CopyND(nil, nil, CopyDesc{ElementSize: 4, Extents: []int{2}, DstDims: []int{2}})
	require.Error(t, err)
}
