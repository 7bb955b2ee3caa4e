package reshard

import (
	"context"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/reshard/pkg/core/distributed"
	"github.com/gomlx/reshard/pkg/core/shapes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Kernel reshards arrays of one configuration (shape, meshes and split axis) from a broadcast layout to a split
// layout.
//
// The plan is built once, when the kernel is created, and reused by every call to Compute. A Kernel is immutable
// and can be used concurrently, as long as concurrent calls don't share a staging buffer.
type Kernel struct {
	plan     *Plan
	copier   MemoryCopier
	observer Observer
}

// NewKernel builds the plan for the configuration and returns the kernel that executes it.
func NewKernel(shape shapes.Shape, inMesh, outMesh *distributed.DeviceMesh, outAxis int, opts ...Option) (*Kernel, error) {
	o := buildOptions(opts)
	plan, err := buildPlan(shape, inMesh, outMesh, outAxis, o)
	if err != nil {
		return nil, err
	}
	return &Kernel{plan: plan, copier: o.copier, observer: o.observer}, nil
}

// Plan executed by the kernel.
func (k *Kernel) Plan() *Plan { return k.plan }

// CallArgs are the per-call arguments of Kernel.Compute.
type CallArgs struct {
	// Self is the rank of the calling process.
	Self int

	Transport Transport

	// Input holds the full array, if Self holds a broadcast replica.
	Input []byte

	// Output receives the region Self owns in the split layout, if any.
	Output []byte

	// Staging is optional: if nil, a buffer is allocated for the duration of the call.
	Staging []byte
}

// callContext holds the state of one call to Kernel.Compute.
type callContext struct {
	kernel  *Kernel
	args    CallArgs
	staging []byte
}

func (k *Kernel) newCallContext(args CallArgs) (*callContext, error) {
	cc := &callContext{kernel: k, args: args, staging: args.Staging}
	p := k.plan
	elementSize := p.elementSize
	if p.inMesh != nil && p.inMesh.ContainsRank(args.Self) {
		if need := p.shape.Size() * elementSize; len(args.Input) < need {
			return nil, errors.Wrapf(ErrBufferTooSmall, "rank %d input buffer has %d bytes, the full %s needs %d",
				args.Self, len(args.Input), p.shape, need)
		}
	}
	if region, found := p.OutputRegion(args.Self); found {
		if need := region.NumElements() * elementSize; len(args.Output) < need {
			return nil, errors.Wrapf(ErrBufferTooSmall, "rank %d output buffer has %d bytes, %s needs %d",
				args.Self, len(args.Output), region, need)
		}
	}
	if cc.staging == nil {
		if size := p.StagingBufferSizeFor(args.Self); size > 0 {
			cc.staging = make([]byte, size)
		}
	}
	return cc, nil
}

func (cc *callContext) run(ctx context.Context) error {
	return Execute(ctx, ExecArgs{
		Plan:      cc.kernel.plan,
		Self:      cc.args.Self,
		Transport: cc.args.Transport,
		Copier:    cc.kernel.copier,
		Input:     cc.args.Input,
		Output:    cc.args.Output,
		Staging:   cc.staging,
		Observer:  cc.kernel.observer,
	})
}

// Compute executes the kernel's plan on behalf of the rank args.Self.
func (k *Kernel) Compute(ctx context.Context, args CallArgs) error {
	cc, err := k.newCallContext(args)
	if err != nil {
		return err
	}
	return cc.run(ctx)
}

// Reshard redistributes, on behalf of the rank self, an array of the given shape from a broadcast layout over
// inMesh to a split layout along outAxis over outMesh.
//
// Every rank taking part in either mesh must call Reshard with the same configuration: each builds the plan
// independently and executes its share of it. The staging buffer may be nil, in which case one is allocated.
func Reshard(ctx context.Context, shape shapes.Shape, inMesh, outMesh *distributed.DeviceMesh, outAxis int,
	self int, transport Transport, input, output, staging []byte, opts ...Option) (err error) {
	exceptErr := exceptions.TryCatch[error](func() {
		var k *Kernel
		k, err = NewKernel(shape, inMesh, outMesh, outAxis, opts...)
		if err != nil {
			return
		}
		err = k.Compute(ctx, CallArgs{
			Self:      self,
			Transport: transport,
			Input:     input,
			Output:    output,
			Staging:   staging,
		})
	})
	if exceptErr != nil {
		err = exceptErr
	}
	if err != nil {
		klog.V(1).Infof("reshard: rank %d failed to reshard %s: %+v", self, shape, err)
	}
	return err
}
