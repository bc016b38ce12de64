package transport

import (
	"context"
	"sync"
)

// NewInProcessFabric builds a fabric of world goroutine-ranks sharing one
// hub. Each returned Fabric is bound to its index (its "rank").
func NewInProcessFabric(world int) []Fabric {
	if world <= 0 {
		panic("transport: world size must be positive")
	}

	h := &hub{
		world:    world,
		exact:    make(map[exactKey]chan message),
		headers:  make(map[headerKey]chan message),
		barrier:  newRendezvous(world),
		reduce:   newCollectGate(world),
		gather:   newCollectGate(world),
	}

	fabrics := make([]Fabric, world)
	for r := 0; r < world; r++ {
		fabrics[r] = &inProcEndpoint{hub: h, rank: r}
	}
	return fabrics
}

type message struct {
	src     int
	payload []byte
}

type exactKey struct {
	src, dst int
	tag      Tag
}

type headerKey struct {
	dst int
	tag Tag
}

// hub is the shared state behind one in-process fabric. All of its methods
// are safe for concurrent use by every rank's goroutine.
type hub struct {
	world int

	mu      sync.Mutex
	exact   map[exactKey]chan message
	headers map[headerKey]chan message

	barrier *rendezvous
	reduce  *collectGate
	gather  *collectGate
}

const chanBuf = 64

func (h *hub) exactChan(src, dst int, tag Tag) chan message {
	k := exactKey{src, dst, tag}
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.exact[k]
	if !ok {
		ch = make(chan message, chanBuf)
		h.exact[k] = ch
	}
	return ch
}

func (h *hub) headerChan(dst int, tag Tag) chan message {
	k := headerKey{dst, tag}
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.headers[k]
	if !ok {
		ch = make(chan message, chanBuf)
		h.headers[k] = ch
	}
	return ch
}

// inProcEndpoint is one rank's view of a hub.
type inProcEndpoint struct {
	hub  *hub
	rank int
}

func (e *inProcEndpoint) Rank() int      { return e.rank }
func (e *inProcEndpoint) WorldSize() int { return e.hub.world }

func (e *inProcEndpoint) Barrier(ctx context.Context) error {
	return waitOrCancel(ctx, e.hub.barrier.wait)
}

func (e *inProcEndpoint) AllReduceMin(ctx context.Context, local float32) (float32, error) {
	if err := e.Barrier(ctx); err != nil {
		return 0, err
	}

	res, err := collectOrCancel(ctx, e.hub.reduce, e.rank, local, combineMin)
	if err != nil {
		return 0, err
	}
	return res.(float32), nil
}

func (e *inProcEndpoint) AllGather(
	ctx context.Context,
	local []byte,
	counts []int,
) ([][]byte, error) {
	if len(counts) != e.hub.world {
		return nil, transportError("allgather: counts length %d != world size %d",
			len(counts), e.hub.world)
	}

	res, err := collectOrCancel(ctx, e.hub.gather, e.rank, local, combineConcat)
	if err != nil {
		return nil, err
	}
	return res.([][]byte), nil
}

func (e *inProcEndpoint) Send(
	ctx context.Context,
	dstRank int,
	tag Tag,
	payload []byte,
) (*PendingSend, error) {
	if dstRank < 0 || dstRank >= e.hub.world {
		return nil, transportError("send: rank %d out of range", dstRank)
	}

	ch := e.hub.exactChan(e.rank, dstRank, tag)
	p := newPendingSend()
	msg := message{src: e.rank, payload: payload}
	// Enqueue from the caller's goroutine while the buffer has room, so
	// sends on one (sender, receiver, tag) triple keep their posting
	// order; only a full buffer defers delivery to a goroutine.
	select {
	case ch <- msg:
		p.resolve(nil)
		return p, nil
	default:
	}
	go func() {
		select {
		case ch <- msg:
			p.resolve(nil)
		case <-ctx.Done():
			p.resolve(ctx.Err())
		}
	}()
	return p, nil
}

func (e *inProcEndpoint) Recv(ctx context.Context, srcRank int, tag Tag) ([]byte, error) {
	ch := e.hub.exactChan(srcRank, e.rank, tag)
	select {
	case msg := <-ch:
		return msg.payload, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *inProcEndpoint) SendHeader(
	ctx context.Context,
	dstRank int,
	tag Tag,
	payload []byte,
) (*PendingSend, error) {
	if dstRank < 0 || dstRank >= e.hub.world {
		return nil, transportError("send header: rank %d out of range", dstRank)
	}

	ch := e.hub.headerChan(dstRank, tag)
	p := newPendingSend()
	msg := message{src: e.rank, payload: payload}
	// Same ordering rule as Send: a header posted after another one to
	// the same rank and tag is never probed before it while the buffer
	// has room.
	select {
	case ch <- msg:
		p.resolve(nil)
		return p, nil
	default:
	}
	go func() {
		select {
		case ch <- msg:
			p.resolve(nil)
		case <-ctx.Done():
			p.resolve(ctx.Err())
		}
	}()
	return p, nil
}

func (e *inProcEndpoint) Probe(ctx context.Context, tag Tag) (int, []byte, error) {
	ch := e.hub.headerChan(e.rank, tag)
	select {
	case msg := <-ch:
		return msg.src, msg.payload, nil
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (e *inProcEndpoint) WaitAll(pending ...*PendingSend) error {
	for _, p := range pending {
		if p == nil {
			continue
		}
		if err := p.Wait(); err != nil {
			return err
		}
	}
	return nil
}

func (e *inProcEndpoint) Close() error { return nil }

func waitOrCancel(ctx context.Context, wait func()) error {
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func collectOrCancel(
	ctx context.Context,
	g *collectGate,
	rank int,
	value any,
	combine func([]any) any,
) (any, error) {
	resultCh := make(chan any, 1)
	go func() {
		resultCh <- g.collect(rank, value, combine)
	}()

	select {
	case res := <-resultCh:
		return res, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func combineMin(vals []any) any {
	min := vals[0].(float32)
	for _, v := range vals[1:] {
		f := v.(float32)
		if f < min {
			min = f
		}
	}
	return min
}

func combineConcat(vals []any) any {
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = v.([]byte)
	}
	return out
}
