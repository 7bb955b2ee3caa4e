package reshard

import (
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/reshard/pkg/core/distributed"
	"github.com/pkg/errors"
)

// SliceCopier copies the elements of the overlap of two regions of the same logical array, from a buffer holding
// the src region to a buffer holding the dst region.
//
// Both buffers are contiguous row-major layouts of their regions: the src buffer holds src.NumElements()
// elements, the dst buffer dst.NumElements().
//
// Extracting a region into a linear staging buffer is a SliceCopier(dst=intersection, src=localRegion), and
// scattering a staging buffer into the local region is a SliceCopier(dst=localRegion, src=intersection).
//
// A SliceCopier is immutable and safe for concurrent use.
type SliceCopier struct {
	dst, src, overlap distributed.Region
	dtype             dtypes.DType
	desc              CopyDesc
}

// NewSliceCopier creates the copier of the overlap of the dst and src regions, for elements of the given dtype.
//
// It returns an error wrapping distributed.ErrEmptyIntersection if the regions don't overlap.
func NewSliceCopier(dst, src distributed.Region, dtype dtypes.DType) (*SliceCopier, error) {
	if dst.Rank() != src.Rank() {
		return nil, errors.Errorf("NewSliceCopier: dst %s and src %s have different ranks", dst, src)
	}
	size, err := elementSize(dtype)
	if err != nil {
		return nil, errors.WithMessage(err, "NewSliceCopier")
	}
	overlap := distributed.Intersect(dst, src)
	if overlap.IsEmpty() {
		return nil, errors.Wrapf(distributed.ErrEmptyIntersection, "NewSliceCopier: dst %s and src %s", dst, src)
	}
	c := &SliceCopier{dst: dst, src: src, overlap: overlap, dtype: dtype}
	c.desc = collapseCopyDesc(dst, src, overlap, size)
	return c, nil
}

// elementSize returns the number of bytes of one element of dtype.
// It wraps ErrUnsupportedDType for dtypes with no Go equivalent (sub-byte and 8-bit float variants) and for
// InvalidDType, for which dtypes.DType.Memory panics.
func elementSize(dtype dtypes.DType) (size int, err error) {
	err = exceptions.TryCatch[error](func() { size = int(dtype.Memory()) })
	if err != nil {
		return 0, errors.Wrapf(ErrUnsupportedDType, "dtype %s: %v", dtype, err)
	}
	if size <= 0 {
		return 0, errors.Wrapf(ErrUnsupportedDType, "dtype %s has no byte size", dtype)
	}
	return size, nil
}

// collapseCopyDesc builds the CopyDesc of the overlap, merging each axis into its outer neighbour whenever the
// overlap covers the whole inner axis on both layouts: merged axes are contiguous in memory.
func collapseCopyDesc(dst, src, overlap distributed.Region, elementSize int) CopyDesc {
	desc := CopyDesc{ElementSize: elementSize}
	rank := overlap.Rank()
	if rank == 0 {
		// Scalar: a single element.
		desc.Extents, desc.DstDims, desc.SrcDims = []int{1}, []int{1}, []int{1}
		desc.DstPos, desc.SrcPos = []int{0}, []int{0}
		return desc
	}
	type axisDesc struct{ extent, dstDim, srcDim, dstPos, srcPos int }
	axisAt := func(axis int) axisDesc {
		return axisDesc{
			extent: overlap.Extent(axis),
			dstDim: dst.Extent(axis),
			srcDim: src.Extent(axis),
			dstPos: overlap.Start(axis) - dst.Start(axis),
			srcPos: overlap.Start(axis) - src.Start(axis),
		}
	}
	var collapsed []axisDesc
	current := axisAt(rank - 1)
	for axis := rank - 2; axis >= 0; axis-- {
		outer := axisAt(axis)
		if current.extent == current.dstDim && current.extent == current.srcDim {
			current = axisDesc{
				extent: outer.extent * current.extent,
				dstDim: outer.dstDim * current.dstDim,
				srcDim: outer.srcDim * current.srcDim,
				dstPos: outer.dstPos * current.dstDim,
				srcPos: outer.srcPos * current.srcDim,
			}
			continue
		}
		collapsed = append(collapsed, current)
		current = outer
	}
	collapsed = append(collapsed, current)
	slices.Reverse(collapsed)
	for _, a := range collapsed {
		desc.Extents = append(desc.Extents, a.extent)
		desc.DstDims = append(desc.DstDims, a.dstDim)
		desc.SrcDims = append(desc.SrcDims, a.srcDim)
		desc.DstPos = append(desc.DstPos, a.dstPos)
		desc.SrcPos = append(desc.SrcPos, a.srcPos)
	}
	return desc
}

// Dst returns the region held by the destination buffer.
func (c *SliceCopier) Dst() distributed.Region { return c.dst }

// Src returns the region held by the source buffer.
func (c *SliceCopier) Src() distributed.Region { return c.src }

// Overlap returns the region being copied.
func (c *SliceCopier) Overlap() distributed.Region { return c.overlap }

// NumElements copied.
func (c *SliceCopier) NumElements() int { return c.overlap.NumElements() }

// Desc returns the CopyDesc passed to the MemoryCopier.
func (c *SliceCopier) Desc() CopyDesc { return c.desc }

// Copy moves the overlap from the src buffer to the dst buffer, using the given MemoryCopier.
// It only writes into the overlap of dst.
func (c *SliceCopier) Copy(mc MemoryCopier, dst, src []byte) error {
	elementSize := c.desc.ElementSize
	if need := c.dst.NumElements() * elementSize; len(dst) < need {
		return errors.Wrapf(ErrBufferTooSmall, "SliceCopier: destination buffer for %s has %d bytes, needs %d",
			c.dst, len(dst), need)
	}
	if need := c.src.NumElements() * elementSize; len(src) < need {
		return errors.Wrapf(ErrBufferTooSmall, "SliceCopier: source buffer for %s has %d bytes, needs %d",
			c.src, len(src), need)
	}
	if err := mc.CopyND(dst, src, c.desc); err != nil {
		return errors.WithMessagef(err, "SliceCopier: copying %s from %s to %s", c.overlap, c.src, c.dst)
	}
	return nil
}
