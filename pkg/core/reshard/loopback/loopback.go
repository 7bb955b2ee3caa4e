// Package loopback implements reshard.Transport for ranks living in the same process, one goroutine per rank.
//
// Each ordered pair of ranks is connected by an unbuffered channel, so a Send blocks until the matching Recv
// takes the message, exactly as a rendezvous point-to-point transport would. It is used to simulate and test
// resharding without a real communication library.
package loopback

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/reshard/pkg/core/reshard"
	"github.com/gomlx/reshard/pkg/support/sets"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

var (
	// ErrMismatch is returned by Recv when the message doesn't match what the receiver expects (count or dtype):
	// sender and receiver are out of lockstep.
	ErrMismatch = errors.New("loopback: send/recv mismatch")

	// ErrClosed is returned by any blocked or subsequent call once the Network is closed.
	ErrClosed = errors.New("loopback: network closed")

	// ErrUnknownRank is returned when the peer (or self) rank is not part of the Network.
	ErrUnknownRank = errors.New("loopback: unknown rank")
)

type message struct {
	data  []byte
	count int
	dtype dtypes.DType
}

type link struct {
	src, dst int
}

// Network connects a fixed set of ranks.
type Network struct {
	ranks sets.Set[int]
	links map[link]chan message

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a network connecting the given ranks.
func New(ranks ...int) *Network {
	n := &Network{
		ranks: sets.MakeWith(ranks...),
		links: make(map[link]chan message, len(ranks)*len(ranks)),
		done:  make(chan struct{}),
	}
	for src := range n.ranks {
		for dst := range n.ranks {
			if src != dst {
				n.links[link{src, dst}] = make(chan message)
			}
		}
	}
	return n
}

// Ranks returns the sorted ranks of the network.
func (n *Network) Ranks() []int {
	return sets.Sorted(n.ranks)
}

// Close the network: any blocked Send or Recv returns ErrClosed. It is safe to call more than once.
func (n *Network) Close() {
	n.closeOnce.Do(func() { close(n.done) })
}

// Endpoint returns the reshard.Transport used by the given rank.
func (n *Network) Endpoint(rank int) *Endpoint {
	return &Endpoint{net: n, rank: rank}
}

func (n *Network) link(src, dst int) (chan message, error) {
	ch, found := n.links[link{src, dst}]
	if !found {
		return nil, errors.Wrapf(ErrUnknownRank, "no link from rank %d to rank %d in network with ranks %v",
			src, dst, n.Ranks())
	}
	return ch, nil
}

// Endpoint is the reshard.Transport of one rank of a Network.
type Endpoint struct {
	net  *Network
	rank int
}

var _ reshard.Transport = (*Endpoint)(nil)

// Rank of the endpoint.
func (e *Endpoint) Rank() int { return e.rank }

// Send implements reshard.Transport. The data is copied, so buf can be reused as soon as Send returns.
func (e *Endpoint) Send(ctx context.Context, buf []byte, count int, dtype dtypes.DType, dst int) error {
	ch, err := e.net.link(e.rank, dst)
	if err != nil {
		return err
	}
	var numBytes int
	if err = exceptions.TryCatch[error](func() { numBytes = count * int(dtype.Memory()) }); err != nil {
		return errors.WithMessagef(err, "loopback: rank %d sending to rank %d", e.rank, dst)
	}
	if len(buf) < numBytes {
		return errors.Errorf("loopback: rank %d sending %d elements of %s, buffer only has %d bytes",
			e.rank, count, dtype, len(buf))
	}
	msg := message{data: slices.Clone(buf[:numBytes]), count: count, dtype: dtype}
	select {
	case ch <- msg:
		klog.V(3).Infof("loopback: %d -> %d: %d elements of %s", e.rank, dst, count, dtype)
		return nil
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "loopback: rank %d sending to rank %d", e.rank, dst)
	case <-e.net.done:
		return errors.Wrapf(ErrClosed, "loopback: rank %d sending to rank %d", e.rank, dst)
	}
}

// Recv implements reshard.Transport.
func (e *Endpoint) Recv(ctx context.Context, buf []byte, count int, dtype dtypes.DType, src int) error {
	ch, err := e.net.link(src, e.rank)
	if err != nil {
		return err
	}
	var msg message
	select {
	case msg = <-ch:
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "loopback: rank %d receiving from rank %d", e.rank, src)
	case <-e.net.done:
		return errors.Wrapf(ErrClosed, "loopback: rank %d receiving from rank %d", e.rank, src)
	}
	if msg.count != count || msg.dtype != dtype {
		return errors.Wrapf(ErrMismatch, "rank %d expected %d elements of %s from rank %d, got %d elements of %s",
			e.rank, count, dtype, src, msg.count, msg.dtype)
	}
	if len(buf) < len(msg.data) {
		return errors.Errorf("loopback: rank %d receiving %d bytes from rank %d, buffer only has %d bytes",
			e.rank, len(msg.data), src, len(buf))
	}
	copy(buf, msg.data)
	return nil
}

// String implements fmt.Stringer.
func (e *Endpoint) String() string {
	return fmt.Sprintf("loopback.Endpoint(rank=%d)", e.rank)
}

// Run creates a network for the given ranks and runs fn concurrently for each of them, with the rank's endpoint.
//
// The first error cancels the context passed to the other ranks, and closes the network so no rank is left
// blocked. It returns the first error.
func Run(ctx context.Context, ranks []int, fn func(ctx context.Context, rank int, transport reshard.Transport) error) error {
	n := New(ranks...)
	defer n.Close()
	group, ctx := errgroup.WithContext(ctx)
	for _, rank := range ranks {
		endpoint := n.Endpoint(rank)
		group.Go(func() error {
			err := fn(ctx, rank, endpoint)
			if err != nil {
				n.Close()
				return errors.WithMessagef(err, "rank %d", rank)
			}
			return nil
		})
	}
	return group.Wait()
}
