// Package transport implements the message-passing fabric the distributed
// data-exchange core is built on.
//
// The protocol in spec.md assumes MPI: non-blocking send, blocking receive,
// barrier, all-reduce, all-gather, with ordering preserved within a
// (sender, receiver, tag) triple and no ordering assumed across tags. This
// package provides exactly those primitives over two backings: an
// in-process one (ranks are goroutines, see inprocess.go) used by the core
// and its tests, and a TCP+gob one (ranks are OS processes, see network.go)
// for a real multi-host deployment.
//
// Grounded on the teacher's core.Port: a buffered, lockable endpoint that
// a component Sends into and Retrieves from, with availability signalled
// rather than polled. Fabric generalises that two-party port to the N-way
// collective operations spec.md requires.
package transport

import (
	"context"
	"fmt"

	"github.com/gcm3d-project/solver/internal/gcmerr"
)

// Tag disambiguates concurrent point-to-point pairings. The reserved
// ranges are assigned by package exchange; transport only requires tags be
// comparable integers.
type Tag int

// Fabric is the collective-communication handle owned by one rank.
type Fabric interface {
	// Rank returns this endpoint's own rank.
	Rank() int

	// WorldSize returns the total number of ranks in the fabric.
	WorldSize() int

	// Barrier blocks until every rank has called Barrier for this phase.
	Barrier(ctx context.Context) error

	// AllReduceMin returns the minimum of local across every rank.
	AllReduceMin(ctx context.Context, local float32) (float32, error)

	// AllGather exchanges variable-length byte payloads. Every rank must
	// supply the same counts slice (length WorldSize), counts[r] being the
	// length of the payload rank r will contribute. Returns one payload
	// per rank, in rank order.
	AllGather(ctx context.Context, local []byte, counts []int) ([][]byte, error)

	// Send posts payload to dstRank under tag without blocking. The
	// returned PendingSend must be waited on before the caller may assume
	// the send has completed.
	Send(ctx context.Context, dstRank int, tag Tag, payload []byte) (*PendingSend, error)

	// Recv blocks until a message from srcRank under tag is available.
	Recv(ctx context.Context, srcRank int, tag Tag) ([]byte, error)

	// SendHeader posts a small header message to dstRank under tag,
	// without binding to a pre-agreed peer pairing. Used by the
	// sentinel-drain service loops, where the receiver does not know the
	// sender in advance.
	SendHeader(ctx context.Context, dstRank int, tag Tag, payload []byte) (*PendingSend, error)

	// Probe blocks until a header arrives for this rank under tag, from
	// any sender, and returns the sender's rank alongside the payload.
	Probe(ctx context.Context, tag Tag) (srcRank int, payload []byte, err error)

	// WaitAll blocks until every given PendingSend has completed.
	WaitAll(pending ...*PendingSend) error

	// Close releases resources owned by this endpoint.
	Close() error
}

// PendingSend is a handle to a posted, not-yet-confirmed send.
type PendingSend struct {
	done chan error
}

func newPendingSend() *PendingSend {
	return &PendingSend{done: make(chan error, 1)}
}

// Wait blocks until the send completes, returning any transport error.
func (p *PendingSend) Wait() error {
	return <-p.done
}

func (p *PendingSend) resolve(err error) {
	p.done <- err
}

// transportError renders the single TransportError kind of spec.md §7.
func transportError(format string, args ...any) error {
	return gcmerr.Wrap(gcmerr.Transport, fmt.Sprintf(format, args...))
}
