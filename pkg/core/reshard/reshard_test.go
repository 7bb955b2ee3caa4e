package reshard_test

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/reshard/pkg/core/distributed"
	"github.com/gomlx/reshard/pkg/core/reshard"
	"github.com/gomlx/reshard/pkg/core/reshard/loopback"
	"github.com/gomlx/reshard/pkg/core/shapes"
	"github.com/gomlx/reshard/pkg/support/sets"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingTransport counts the calls, and returns err on every one of them.
type countingTransport struct {
	mu           sync.Mutex
	sends, recvs int
	err          error
}

func (c *countingTransport) Send(_ context.Context, _ []byte, _ int, _ dtypes.DType, _ int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sends++
	return c.err
}

func (c *countingTransport) Recv(_ context.Context, _ []byte, _ int, _ dtypes.DType, _ int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recvs++
	return c.err
}

type recordingObserver struct {
	mu    sync.Mutex
	kinds map[reshard.TransferKind]int
	bytes int
}

func (o *recordingObserver) OnTransfer(kind reshard.TransferKind, _ *reshard.Transfer, numBytes int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.kinds == nil {
		o.kinds = make(map[reshard.TransferKind]int)
	}
	o.kinds[kind]++
	o.bytes += numBytes
}

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

// expectedShard returns the values of the region of an iota array.
func expectedShard(dims []int, region distributed.Region) []int32 {
	strides := shapes.Strides(dims)
	var values []int32
	for _, indices := range shapes.IterDims(region.Extents()) {
		flat := 0
		for axis, idx := range indices {
			flat += (region.Start(axis) + idx) * strides[axis]
		}
		values = append(values, int32(flat))
	}
	return values
}

// simulate runs the resharding for every rank of both meshes, over a loopback network, and returns the output
// of each rank in the output mesh.
func simulate(t *testing.T, shape shapes.Shape, inMesh, outMesh *distributed.DeviceMesh, axis int,
	opts ...reshard.Option) map[int][]byte {
	t.Helper()
	kernel, err := reshard.NewKernel(shape, inMesh, outMesh, axis, opts...)
	require.NoError(t, err)
	plan := kernel.Plan()
	ranks := sets.Sorted(sets.MakeWith(append(inMesh.Ranks(), outMesh.Ranks()...)...))

	var mu sync.Mutex
	outputs := make(map[int][]byte)
	err = loopback.Run(context.Background(), ranks, func(ctx context.Context, rank int, transport reshard.Transport) error {
		var input, output []byte
		if inMesh.ContainsRank(rank) {
			input = iotaInt32(shape.Size())
		}
		if region, found := plan.OutputRegion(rank); found {
			output = make([]byte, 4*region.NumElements())
		}
		if err := kernel.Compute(ctx, reshard.CallArgs{Self: rank, Transport: transport, Input: input, Output: output}); err != nil {
			return err
		}
		if output != nil {
			mu.Lock()
			outputs[rank] = output
			mu.Unlock()
		}
		return nil
	})
	require.NoError(t, err)
	return outputs
}

func TestReshardLoopback(t *testing.T) {
	testCases := []struct {
		name     string
		dims     []int
		axis     int
		in, out  []int
		outSizes []int
	}{
		{name: "OneHolderTwoDestinations", dims: []int{8}, axis: 0, in: []int{0}, out: []int{0, 1}},
		{name: "TwoHoldersFourDestinations", dims: []int{4, 4}, axis: 0, in: []int{0, 1}, out: []int{0, 1, 2, 3}},
		{name: "DisjointMeshes", dims: []int{5, 3}, axis: 1, in: []int{7, 8}, out: []int{0, 1, 2}},
		{name: "Uneven", dims: []int{2, 11, 3}, axis: 1, in: []int{3}, out: []int{0, 1, 2, 3}},
		{name: "TwoDimensionalOutput", dims: []int{3, 7}, axis: 1, in: []int{1, 4}, outSizes: []int{2, 2}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			shape := shapes.Make(dtypes.Int32, tc.dims...)
			inMesh := must.M1(distributed.NewLinearMesh("in", tc.in...))
			var outMesh *distributed.DeviceMesh
			if tc.outSizes != nil {
				outMesh = must.M1(distributed.NewDeviceMesh(tc.outSizes, []string{"x", "y"}))
			} else {
				outMesh = must.M1(distributed.NewLinearMesh("out", tc.out...))
			}
			observer := &recordingObserver{}
			outputs := simulate(t, shape, inMesh, outMesh, tc.axis, reshard.WithObserver(observer))
			require.Len(t, outputs, outMesh.NumDevices())

			spec := must.M1(distributed.AllSplit(outMesh, tc.axis))
			for pos, p := range outMesh.Participants() {
				region := must.M1(distributed.RegionForPosition(outMesh, spec, tc.dims, pos))
				assert.Equal(t, expectedShard(tc.dims, region), decodeInt32(outputs[p.Rank]), "rank %d", p.Rank)
			}
			assert.Equal(t, observer.kinds[reshard.KindSend], observer.kinds[reshard.KindRecv])
			assert.Equal(t, outMesh.NumDevices(), observer.kinds[reshard.KindLocal]+observer.kinds[reshard.KindRecv])
		})
	}
}

func TestReshardLocalShortcut(t *testing.T) {
	// Every destination holds a replica: no communication at all.
	shape := shapes.Make(dtypes.Int32, 6, 2)
	mesh := must.M1(distributed.NewLinearMesh("m", 0, 1, 2))
	transport := &countingTransport{}
	for rank := range 3 {
		output := make([]byte, 4*4)
		err := reshard.Reshard(context.Background(), shape, mesh, mesh, 0, rank, transport,
			iotaInt32(12), output, nil)
		require.NoError(t, err)
		region := must.M1(distributed.NewRegion([]int{2 * rank, 0}, []int{2, 2}))
		assert.Equal(t, expectedShard([]int{6, 2}, region), decodeInt32(output))
	}
	assert.Zero(t, transport.sends)
	assert.Zero(t, transport.recvs)
}

func TestReshardErrors(t *testing.T) {
	shape := shapes.Make(dtypes.Int32, 8)
	inMesh := must.M1(distributed.NewLinearMesh("in", 0))
	outMesh := must.M1(distributed.NewLinearMesh("out", 0, 1))
	ctx := context.Background()

	t.Run("CommunicationFailure", func(t *testing.T) {
		transport := &countingTransport{err: errors.New("link down")}
		err := reshard.Reshard(ctx, shape, inMesh, outMesh, 0, 0, transport, iotaInt32(8), make([]byte, 16), nil)
		require.ErrorIs(t, err, reshard.ErrCommunicationFailure)
		assert.Equal(t, 1, transport.sends)

		err = reshard.Reshard(ctx, shape, inMesh, outMesh, 0, 1, transport, nil, make([]byte, 16), nil)
		require.ErrorIs(t, err, reshard.ErrCommunicationFailure)
		assert.Equal(t, 1, transport.recvs)
	})

	t.Run("Cancelled", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		n := loopback.New(0, 1)
		defer n.Close()
		err := reshard.Reshard(cancelled, shape, inMesh, outMesh, 0, 1, n.Endpoint(1), nil, make([]byte, 16), nil)
		require.ErrorIs(t, err, reshard.ErrCommunicationFailure)
	})

	t.Run("BufferTooSmall", func(t *testing.T) {
		transport := &countingTransport{}
		err := reshard.Reshard(ctx, shape, inMesh, outMesh, 0, 0, transport, iotaInt32(7), make([]byte, 16), nil)
		require.ErrorIs(t, err, reshard.ErrBufferTooSmall)
		err = reshard.Reshard(ctx, shape, inMesh, outMesh, 0, 1, transport, nil, make([]byte, 15), nil)
		require.ErrorIs(t, err, reshard.ErrBufferTooSmall)
		err = reshard.Reshard(ctx, shape, inMesh, outMesh, 0, 1, transport, nil, make([]byte, 16), make([]byte, 8))
		require.ErrorIs(t, err, reshard.ErrBufferTooSmall)
		assert.Zero(t, transport.sends+transport.recvs)
	})

	t.Run("UnresolvedSource", func(t *testing.T) {
		emptyMesh := must.M1(distributed.NewDeviceMesh([]int{0}, []string{"in"}))
		err := reshard.Reshard(ctx, shape, emptyMesh, outMesh, 0, 0, &countingTransport{}, nil, make([]byte, 16), nil)
		require.ErrorIs(t, err, distributed.ErrUnresolvedSource)
	})

	t.Run("ZeroDimension", func(t *testing.T) {
		badShape := shapes.Shape{DType: dtypes.Int32, Dimensions: []int{0}}
		err := reshard.Reshard(ctx, badShape, inMesh, outMesh, 0, 0, &countingTransport{}, nil, nil, nil)
		require.ErrorIs(t, err, distributed.ErrInvalidRegion)
	})

	t.Run("UnsupportedDType", func(t *testing.T) {
		f8 := shapes.Make(dtypes.F8E5M2, 8)
		err := reshard.Reshard(ctx, f8, inMesh, outMesh, 0, 0, &countingTransport{}, make([]byte, 8), make([]byte, 4), nil)
		require.ErrorIs(t, err, reshard.ErrUnsupportedDType)
	})
}

func TestExecuteSkipsUninvolvedRank(t *testing.T) {
	inMesh := must.M1(distributed.NewLinearMesh("in", 0))
	outMesh := must.M1(distributed.NewLinearMesh("out", 1, 2))
	plan := must.M1(reshard.BuildPlan(shapes.Make(dtypes.Int32, 4), inMesh, outMesh, 0))
	transport := &countingTransport{}
	require.NoError(t, reshard.Execute(context.Background(), reshard.ExecArgs{Plan: plan, Self: 9, Transport: transport}))
	assert.Zero(t, transport.sends+transport.recvs)
	assert.Equal(t, "local", reshard.KindLocal.String())
	assert.Equal(t, "none", reshard.KindNone.String())
	assert.Equal(t, []string{"none", "local", "send", "recv"}, reshard.TransferKindStrings())
	kind, err := reshard.TransferKindString("Recv")
	require.NoError(t, err)
	assert.Equal(t, reshard.KindRecv, kind)
}
