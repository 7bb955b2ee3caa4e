// Package reshard redistributes an array from a broadcast layout (every participant of a mesh holds a full
// replica) to a split layout (the array is partitioned along one axis across the participants of another mesh).
//
// Every participant builds the same Plan independently (see BuildPlan), an ordered list of Transfer, and walks
// it in lockstep (see Execute): entries are either a local copy, or a staged send on the source rank paired with
// a staged receive on the destination rank. No plan is ever transmitted: the order of the entries is what matches
// sends to receives.
//
// Kernel and Reshard are the host-facing entry points.
package reshard

import (
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/cespare/xxhash/v2"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/reshard/pkg/core/distributed"
	"github.com/gomlx/reshard/pkg/core/shapes"
	"github.com/gomlx/reshard/pkg/support/sets"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Transfer is one entry of the Plan: it moves NumElements elements of the Intersection region from the
// rank Src (which holds SrcRegion) to the rank Dst (which holds DstRegion).
type Transfer struct {
	// Src and Dst are the ranks of the source and destination processes. They are equal for local copies.
	Src, Dst int

	// NumElements moved, the size of Intersection.
	NumElements int

	// SrcPosition is the position in the input mesh used as source, DstPosition the position in the output mesh.
	SrcPosition, DstPosition int

	SrcRegion, DstRegion, Intersection distributed.Region

	// Local is set when the destination rank also holds the input: the data is copied locally.
	Local bool

	// SrcCopier extracts Intersection from the source's local input (laid out as SrcRegion) into a linear buffer.
	SrcCopier *SliceCopier

	// DstCopier writes a linear buffer holding Intersection into the destination's output (laid out as DstRegion).
	DstCopier *SliceCopier
}

// String implements fmt.Stringer.
func (t *Transfer) String() string {
	kind := "remote"
	if t.Local {
		kind = "local"
	}
	return fmt.Sprintf("Transfer{%d->%d, %s, %d elements, %s}", t.Src, t.Dst, kind, t.NumElements, t.Intersection)
}

// Plan is the ordered list of Transfer that every participant walks in lockstep.
//
// It is immutable once built, and can be shared and reused by any number of resharding calls with the same
// configuration.
type Plan struct {
	shape           shapes.Shape
	outAxis         int
	inMesh, outMesh *distributed.DeviceMesh
	elementSize     int
	transfers       []Transfer
}

type options struct {
	cache    *distributed.RegionCache
	copier   MemoryCopier
	observer Observer
}

// Option configures BuildPlan, NewKernel and Reshard.
type Option func(*options)

// WithRegionCache sets the cache of regions used to build the plan. By default, a new cache is created for each
// plan: share one across plans built over the same meshes.
func WithRegionCache(cache *distributed.RegionCache) Option {
	return func(o *options) { o.cache = cache }
}

// WithCopier sets the MemoryCopier used to move bytes during execution. Default is HostCopier.
func WithCopier(copier MemoryCopier) Option {
	return func(o *options) { o.copier = copier }
}

// WithObserver sets an Observer notified of every transfer executed.
func WithObserver(observer Observer) Option {
	return func(o *options) { o.observer = observer }
}

func buildOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.cache == nil {
		o.cache = distributed.NewRegionCache()
	}
	if o.copier == nil {
		o.copier = HostCopier{}
	}
	return o
}

// BuildPlan builds the plan to reshard an array of the given shape, from a broadcast layout over inMesh to a
// layout split along outAxis over outMesh.
//
// Destination positions d of outMesh are visited in increasing order, and each one gets exactly one Transfer:
//
//   - If the rank owning d also participates in inMesh, it is its own source (a local copy of its destination
//     region from its full replica).
//   - Otherwise, sources are assigned round-robin: the input position is d % inMesh.NumDevices(), and the
//     transfer moves the intersection of the destination region and the source region.
//
// Configuration errors are fatal, and wrap one of distributed.ErrUnresolvedSource,
// distributed.ErrEmptyDestinationRegion, distributed.ErrEmptySourceRegion, distributed.ErrEmptyIntersection,
// distributed.ErrInvalidPlacement or distributed.ErrInvalidRegion. Dtypes without a whole byte size per element
// fail with ErrUnsupportedDType.
func BuildPlan(shape shapes.Shape, inMesh, outMesh *distributed.DeviceMesh, outAxis int, opts ...Option) (*Plan, error) {
	o := buildOptions(opts)
	return buildPlan(shape, inMesh, outMesh, outAxis, o)
}

func buildPlan(shape shapes.Shape, inMesh, outMesh *distributed.DeviceMesh, outAxis int, o *options) (*Plan, error) {
	if !shape.Ok() {
		return nil, errors.Errorf("BuildPlan: invalid shape %s", shape)
	}
	size, err := elementSize(shape.DType)
	if err != nil {
		return nil, errors.WithMessagef(err, "BuildPlan: shape %s", shape)
	}
	if shape.IsScalar() {
		return nil, errors.Errorf("BuildPlan: scalar %s has no axis to split", shape)
	}
	for _, dim := range shape.Dimensions {
		if dim <= 0 {
			return nil, errors.Wrapf(distributed.ErrInvalidRegion, "BuildPlan: shape %s has dimensions <= 0", shape)
		}
	}
	if outAxis < 0 || outAxis >= shape.Rank() {
		return nil, errors.Errorf("BuildPlan: split axis %d out of range for shape %s", outAxis, shape)
	}
	if outMesh == nil {
		return nil, errors.Wrap(distributed.ErrInvalidPlacement, "BuildPlan: nil output mesh")
	}
	outRanks := sets.Make[int](outMesh.NumDevices())
	for _, p := range outMesh.Participants() {
		if outRanks.Has(p.Rank) {
			return nil, errors.Wrapf(distributed.ErrInvalidPlacement,
				"BuildPlan: rank %d owns more than one position of the output mesh %s", p.Rank, outMesh)
		}
		outRanks.Insert(p.Rank)
	}
	outSpec, err := distributed.AllSplit(outMesh, outAxis)
	if err != nil {
		return nil, err
	}
	if numShards := outSpec.NumDevicesShardingAxis(outAxis); numShards > shape.Dim(outAxis) {
		return nil, errors.Wrapf(distributed.ErrEmptyDestinationRegion,
			"BuildPlan: axis %d of %s can't be split in %d non-empty shards", outAxis, shape, numShards)
	}
	var inSpec *distributed.ShardingSpec
	inCount := 0
	if inMesh != nil {
		inSpec = distributed.AllBroadcast(inMesh)
		inCount = inMesh.NumDevices()
	}
	dims := shape.Dimensions

	p := &Plan{
		shape:       shape.Clone(),
		outAxis:     outAxis,
		inMesh:      inMesh,
		outMesh:     outMesh,
		elementSize: size,
		transfers:   make([]Transfer, 0, outMesh.NumDevices()),
	}
	for d := range outMesh.NumDevices() {
		participant, err := outMesh.Participant(d)
		if err != nil {
			return nil, err
		}
		dst := participant.Rank
		outRegion, err := o.cache.Region(outMesh, outSpec, dims, d)
		if err != nil {
			return nil, err
		}
		if outRegion.IsEmpty() {
			return nil, errors.Wrapf(distributed.ErrEmptyDestinationRegion,
				"BuildPlan: position %d (rank %d) of the output mesh gets no element of %s split along axis %d",
				d, dst, shape, outAxis)
		}

		t := Transfer{Src: -1, Dst: dst, DstPosition: d, DstRegion: outRegion, SrcPosition: -1}
		if inCount > 0 && inMesh.ContainsRank(dst) {
			// Local: the destination already holds a full replica.
			t.Src = dst
			t.Local = true
			t.SrcPosition = localSourcePosition(inMesh, participant)
			t.SrcRegion, err = o.cache.Region(inMesh, inSpec, dims, t.SrcPosition)
			if err != nil {
				return nil, err
			}
			t.Intersection = outRegion
		} else if inCount > 0 {
			// Remote: round-robin over the broadcast holders.
			t.SrcPosition = d % inCount
			t.Src, err = inMesh.RankOf(t.SrcPosition)
			if err != nil {
				return nil, err
			}
			t.SrcRegion, err = o.cache.Region(inMesh, inSpec, dims, t.SrcPosition)
			if err != nil {
				return nil, err
			}
			t.Intersection = distributed.Intersect(outRegion, t.SrcRegion)
		}

		if t.Src < 0 {
			return nil, errors.Wrapf(distributed.ErrUnresolvedSource,
				"BuildPlan: no source for position %d (rank %d) of the output mesh, input mesh has no participants",
				d, dst)
		}
		if t.SrcRegion.IsEmpty() {
			return nil, errors.Wrapf(distributed.ErrEmptySourceRegion,
				"BuildPlan: source rank %d (input position %d) holds no element", t.Src, t.SrcPosition)
		}
		if t.Intersection.IsEmpty() {
			return nil, errors.Wrapf(distributed.ErrEmptyIntersection,
				"BuildPlan: source rank %d holds %s, destination rank %d needs %s",
				t.Src, t.SrcRegion, t.Dst, t.DstRegion)
		}
		t.NumElements = t.Intersection.NumElements()
		t.SrcCopier, err = NewSliceCopier(t.Intersection, t.SrcRegion, shape.DType)
		if err != nil {
			return nil, err
		}
		t.DstCopier, err = NewSliceCopier(t.DstRegion, t.Intersection, shape.DType)
		if err != nil {
			return nil, err
		}
		p.transfers = append(p.transfers, t)
	}

	if klog.V(1).Enabled() {
		klog.Infof("reshard: built plan for %s split along axis %d: %d transfers from %d broadcast holders, "+
			"staging buffer %s, fingerprint %016x",
			shape, outAxis, len(p.transfers), inCount, humanize.Bytes(uint64(p.StagingBufferSize())), p.Fingerprint())
	}
	return p, nil
}

// localSourcePosition returns the input position the participant copies from when it holds the input itself:
// the position of the same device if it is part of inMesh, otherwise the first position of its rank.
func localSourcePosition(inMesh *distributed.DeviceMesh, participant distributed.Participant) int {
	if position, err := inMesh.PositionOf(participant.Rank, participant.Device); err == nil {
		return position
	}
	return inMesh.FirstPositionOfRank(participant.Rank)
}

// Shape of the logical array being resharded.
func (p *Plan) Shape() shapes.Shape { return p.shape }

// ElementSize returns the number of bytes of one element of the array.
func (p *Plan) ElementSize() int { return p.elementSize }

// OutAxis is the axis along which the output is split.
func (p *Plan) OutAxis() int { return p.outAxis }

// InMesh returns the mesh holding the broadcast input. It may be nil.
func (p *Plan) InMesh() *distributed.DeviceMesh { return p.inMesh }

// OutMesh returns the mesh holding the split output.
func (p *Plan) OutMesh() *distributed.DeviceMesh { return p.outMesh }

// Len returns the number of transfers in the plan.
func (p *Plan) Len() int { return len(p.transfers) }

// Transfers returns the transfers of the plan, in execution order.
// The returned slice is a copy, but the copiers are shared.
func (p *Plan) Transfers() []Transfer {
	return slices.Clone(p.transfers)
}

// TransfersFor returns the indices of the transfers the given rank takes part in, either as source or destination.
func (p *Plan) TransfersFor(rank int) []int {
	var indices []int
	for i := range p.transfers {
		if p.transfers[i].Src == rank || p.transfers[i].Dst == rank {
			indices = append(indices, i)
		}
	}
	return indices
}

// OutputRegion returns the region of the array the given rank holds in the split layout, and whether
// it holds one at all.
func (p *Plan) OutputRegion(rank int) (distributed.Region, bool) {
	for i := range p.transfers {
		if p.transfers[i].Dst == rank {
			return p.transfers[i].DstRegion, true
		}
	}
	return distributed.Region{}, false
}

// MaxElements returns the largest number of elements moved by a single transfer.
func (p *Plan) MaxElements() int {
	maxElements := 0
	for i := range p.transfers {
		maxElements = max(maxElements, p.transfers[i].NumElements)
	}
	return maxElements
}

// StagingBufferSize returns the number of bytes of a staging buffer able to hold any single transfer of the plan.
func (p *Plan) StagingBufferSize() int {
	return p.MaxElements() * p.elementSize
}

// StagingBufferSizeFor returns the number of bytes of staging buffer the given rank needs: local copies don't
// use it, so it may be 0.
func (p *Plan) StagingBufferSizeFor(rank int) int {
	maxElements := 0
	for i := range p.transfers {
		t := &p.transfers[i]
		if !t.Local && (t.Src == rank || t.Dst == rank) {
			maxElements = max(maxElements, t.NumElements)
		}
	}
	return maxElements * p.elementSize
}

// EvenStagingBufferSize returns total elements / number of output positions × element size: the staging size
// hosts traditionally pre-allocate. It is only large enough when the split is even (see StagingBufferSize).
func (p *Plan) EvenStagingBufferSize() int {
	if p.outMesh.NumDevices() == 0 {
		return 0
	}
	return p.shape.Size() / p.outMesh.NumDevices() * p.elementSize
}

// Fingerprint returns a hash of the plan contents: shape, ranks, positions and regions of every transfer.
//
// Since every participant builds its plan independently, comparing fingerprints (e.g. out-of-band, at start-up)
// detects participants configured differently before they deadlock in mismatched transfers.
func (p *Plan) Fingerprint() uint64 {
	buf := make([]byte, 0, 64*(len(p.transfers)+1))
	putInt := func(v int) { buf = binary.LittleEndian.AppendUint64(buf, uint64(int64(v))) }
	putRegion := func(r distributed.Region) {
		putInt(r.Rank())
		if r.IsEmpty() {
			putInt(-1)
			return
		}
		for axis := range r.Rank() {
			putInt(r.Start(axis))
			putInt(r.Extent(axis))
		}
	}
	putInt(int(p.shape.DType))
	putInt(p.shape.Rank())
	for _, dim := range p.shape.Dimensions {
		putInt(dim)
	}
	putInt(p.outAxis)
	putInt(len(p.transfers))
	for i := range p.transfers {
		t := &p.transfers[i]
		putInt(t.Src)
		putInt(t.Dst)
		putInt(t.SrcPosition)
		putInt(t.DstPosition)
		putInt(t.NumElements)
		if t.Local {
			putInt(1)
		} else {
			putInt(0)
		}
		putRegion(t.SrcRegion)
		putRegion(t.DstRegion)
		putRegion(t.Intersection)
	}
	return xxhash.Sum64(buf)
}
