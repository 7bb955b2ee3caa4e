package reshard

import (
	"context"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Transport is the point-to-point communication primitive the executor relies on.
//
// Send blocks until buf (count elements of dtype) has been handed to the peer rank dst, and Recv blocks until
// count elements of dtype sent by the peer rank src have been written into buf. Both sides of a transfer are
// issued in the same plan order, which is the only matching contract between them.
type Transport interface {
	Send(ctx context.Context, buf []byte, count int, dtype dtypes.DType, dst int) error
	Recv(ctx context.Context, buf []byte, count int, dtype dtypes.DType, src int) error
}

// TransferKind is the action a rank takes for one Transfer of the plan.
type TransferKind int

//go:generate go tool enumer -type TransferKind -trimprefix=Kind -transform=lower -output=gen_transferkind_enumer.go executor.go

const (
	KindNone TransferKind = iota
	KindLocal
	KindSend
	KindRecv
)

// KindFor returns the action the given rank takes for the transfer.
func (t *Transfer) KindFor(rank int) TransferKind {
	switch {
	case t.Src == rank && t.Dst == rank:
		return KindLocal
	case t.Src == rank:
		return KindSend
	case t.Dst == rank:
		return KindRecv
	default:
		return KindNone
	}
}

// Observer is notified of every transfer action a rank executes.
// OnTransfer is called after the action completes successfully.
type Observer interface {
	OnTransfer(kind TransferKind, t *Transfer, numBytes int)
}

// ExecArgs are the arguments of Execute.
type ExecArgs struct {
	Plan *Plan

	// Self is the rank of the calling process.
	Self int

	// Transport used for the remote transfers. It may be nil if Self has no remote transfers.
	Transport Transport

	// Copier moves the bytes. Defaults to HostCopier if nil.
	Copier MemoryCopier

	// Input holds the full array, if Self holds a broadcast replica. Otherwise it's ignored.
	Input []byte

	// Output holds the region of the array Self owns in the split layout, if any.
	Output []byte

	// Staging is the scratch buffer used by remote transfers, see Plan.StagingBufferSizeFor.
	Staging []byte

	// Observer is optional.
	Observer Observer
}

// Execute walks every transfer of the plan in order, on behalf of the rank args.Self:
//
//   - Local transfers (Self is both source and destination) copy from Input to Output directly.
//   - If Self is the source, the intersection is extracted into Staging and sent to the destination.
//   - If Self is the destination, the intersection is received into Staging and scattered into Output.
//   - Other transfers are skipped, but still consumed in order.
//
// Any Transport error is wrapped with ErrCommunicationFailure and aborts the walk: the contents of Output are then
// undefined.
func Execute(ctx context.Context, args ExecArgs) error {
	p := args.Plan
	if p == nil {
		return errors.New("Execute: nil plan")
	}
	copier := args.Copier
	if copier == nil {
		copier = HostCopier{}
	}
	dtype := p.shape.DType
	elementSize := p.elementSize
	if need := p.StagingBufferSizeFor(args.Self); len(args.Staging) < need {
		return errors.Wrapf(ErrBufferTooSmall, "Execute: rank %d staging buffer has %d bytes, plan requires %d",
			args.Self, len(args.Staging), need)
	}

	for i := range p.transfers {
		t := &p.transfers[i]
		kind := t.KindFor(args.Self)
		if kind == KindNone {
			continue
		}
		numBytes := t.NumElements * elementSize
		staging := args.Staging[:min(numBytes, len(args.Staging))]
		switch kind {
		case KindLocal:
			// Source layout is the full replica, destination layout is the intersection, which equals the
			// destination region.
			if err := t.SrcCopier.Copy(copier, args.Output, args.Input); err != nil {
				return errors.WithMessagef(err, "Execute: rank %d, local transfer #%d", args.Self, i)
			}
		case KindSend:
			if err := t.SrcCopier.Copy(copier, staging, args.Input); err != nil {
				return errors.WithMessagef(err, "Execute: rank %d, extracting transfer #%d", args.Self, i)
			}
			if args.Transport == nil {
				return errors.Wrapf(ErrCommunicationFailure, "Execute: rank %d has no transport to send transfer #%d",
					args.Self, i)
			}
			if err := args.Transport.Send(ctx, staging, t.NumElements, dtype, t.Dst); err != nil {
				return errors.Wrapf(ErrCommunicationFailure, "Execute: rank %d sending transfer #%d to rank %d: %v",
					args.Self, i, t.Dst, err)
			}
		case KindRecv:
			if args.Transport == nil {
				return errors.Wrapf(ErrCommunicationFailure, "Execute: rank %d has no transport to receive transfer #%d",
					args.Self, i)
			}
			if err := args.Transport.Recv(ctx, staging, t.NumElements, dtype, t.Src); err != nil {
				return errors.Wrapf(ErrCommunicationFailure, "Execute: rank %d receiving transfer #%d from rank %d: %v",
					args.Self, i, t.Src, err)
			}
			if err := t.DstCopier.Copy(copier, args.Output, staging); err != nil {
				return errors.WithMessagef(err, "Execute: rank %d, scattering transfer #%d", args.Self, i)
			}
		}
		klog.V(2).Infof("reshard: rank %d %s #%d %s (%d bytes)", args.Self, kind, i, t, numBytes)
		if args.Observer != nil {
			args.Observer.OnTransfer(kind, t, numBytes)
		}
	}
	return nil
}
