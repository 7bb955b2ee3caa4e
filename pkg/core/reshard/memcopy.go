package reshard

import (
	"github.com/gomlx/reshard/pkg/core/shapes"
	"github.com/pkg/errors"
)

// CopyDesc describes an N-dimensional strided copy of a block of elements between two row-major buffers.
//
// The block has Extents elements per axis. In the destination buffer, laid out with dimensions DstDims, the
// block starts at DstPos; in the source buffer, laid out with SrcDims, it starts at SrcPos.
// All values are in elements, ElementSize converts them to bytes.
type CopyDesc struct {
	ElementSize      int
	Extents          []int
	DstDims, SrcDims []int
	DstPos, SrcPos   []int
}

// NumElements in the block being copied.
func (d CopyDesc) NumElements() int {
	n := 1
	for _, e := range d.Extents {
		n *= e
	}
	return n
}

// MemoryCopier is the device capability used by SliceCopier to move the bytes.
//
// HostCopier works with memory addressable by Go. Hosts executing on accelerators inject their own
// implementation (see WithCopier), everything else in the engine is device-agnostic.
type MemoryCopier interface {
	CopyND(dst, src []byte, desc CopyDesc) error
}

// HostCopier implements MemoryCopier for host (CPU) memory.
//
// Each contiguous run of the innermost axis is moved with one call to the builtin copy.
type HostCopier struct{}

var _ MemoryCopier = HostCopier{}

// CopyND implements MemoryCopier.
func (HostCopier) CopyND(dst, src []byte, desc CopyDesc) error {
	rank := len(desc.Extents)
	if rank == 0 || len(desc.DstDims) != rank || len(desc.SrcDims) != rank ||
		len(desc.DstPos) != rank || len(desc.SrcPos) != rank {
		return errors.Errorf("HostCopier: malformed CopyDesc %+v", desc)
	}
	dstStrides := shapes.Strides(desc.DstDims)
	srcStrides := shapes.Strides(desc.SrcDims)
	runBytes := desc.Extents[rank-1] * desc.ElementSize
	for _, outer := range shapes.IterDims(desc.Extents[:rank-1]) {
		dstOffset, srcOffset := desc.DstPos[rank-1], desc.SrcPos[rank-1]
		for axis, idx := range outer {
			dstOffset += (desc.DstPos[axis] + idx) * dstStrides[axis]
			srcOffset += (desc.SrcPos[axis] + idx) * srcStrides[axis]
		}
		dstOffset *= desc.ElementSize
		srcOffset *= desc.ElementSize
		copy(dst[dstOffset:dstOffset+runBytes], src[srcOffset:srcOffset+runBytes])
	}
	return nil
}
