package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/gob"
	"net"
	"sync"
)

// NetworkConfig describes a static, fully-specified set of peers. Matches
// the spec's requirement that the zone-to-process map — and by extension
// the process topology — is supplied once and held constant; there is no
// discovery protocol.
type NetworkConfig struct {
	Rank  int
	Peers []string // Peers[r] is the dial address of rank r; Peers[Rank] is this process's own listen address.
}

type frameKind uint8

const (
	frameExact frameKind = iota
	frameHeader
	frameBarrierArrive
	frameBarrierRelease
	frameReduceValue
	frameReduceResult
	frameGatherValue
	frameGatherResult
)

type frame struct {
	Kind    frameKind
	Src     int
	Tag     Tag
	Payload []byte
	Float   float32
	Batch   [][]byte
}

// DialFabric connects every rank in cfg.Peers into a full mesh of TCP
// connections and returns a Fabric bound to cfg.Rank. Rank 0 additionally
// acts as the centralising coordinator for Barrier/AllReduceMin/AllGather,
// since a real MPI collective tree is out of scope for this reference
// implementation — the point-to-point paths used by the exchange engine
// (Send/Recv/SendHeader/Probe) are the ones exercised end to end.
func DialFabric(ctx context.Context, cfg NetworkConfig) (Fabric, error) {
	world := len(cfg.Peers)
	if cfg.Rank < 0 || cfg.Rank >= world {
		return nil, transportError("dial: rank %d out of range for world %d", cfg.Rank, world)
	}

	n := &netEndpoint{
		rank:    cfg.Rank,
		world:   world,
		conns:   make(map[int]*netConn),
		exact:   make(map[exactKey]chan message),
		headers: make(map[headerKey]chan message),
		barrierArrivals: make(chan int, world),
		barrierReleases: make(chan struct{}, 1),
		reduceArrivals:  make(chan reduceArrival, world),
		reduceResults:   make(chan float32, 1),
		gatherArrivals:  make(chan gatherArrival, world),
		gatherResults:   make(chan [][]byte, 1),
	}

	ln, err := net.Listen("tcp", cfg.Peers[cfg.Rank])
	if err != nil {
		return nil, transportError("listen on %s: %v", cfg.Peers[cfg.Rank], err)
	}
	n.listener = ln

	var wg sync.WaitGroup
	var mu sync.Mutex
	var dialErr error

	for r := 0; r < world; r++ {
		if r == cfg.Rank {
			continue
		}
		if r < cfg.Rank {
			wg.Add(1)
			go func() {
				defer wg.Done()
				c, err := ln.Accept()
				var peer int32
				if err == nil {
					// The dialer announces its own rank first, since
					// lower ranks may connect in any order.
					err = binary.Read(c, binary.LittleEndian, &peer)
				}
				if err != nil {
					mu.Lock()
					dialErr = err
					mu.Unlock()
					return
				}
				n.adopt(int(peer), c)
			}()
		} else {
			wg.Add(1)
			go func(r int) {
				defer wg.Done()
				c, err := net.Dial("tcp", cfg.Peers[r])
				if err == nil {
					err = binary.Write(c, binary.LittleEndian, int32(cfg.Rank))
				}
				if err != nil {
					mu.Lock()
					dialErr = err
					mu.Unlock()
					return
				}
				n.adopt(r, c)
			}(r)
		}
	}
	wg.Wait()
	if dialErr != nil {
		return nil, transportError("establishing mesh: %v", dialErr)
	}

	return n, nil
}

type netConn struct {
	enc *gob.Encoder
	dec *gob.Decoder
	mu  sync.Mutex
}

type reduceArrival struct {
	src int
	val float32
}

type gatherArrival struct {
	src int
	val []byte
}

type netEndpoint struct {
	rank  int
	world int

	listener net.Listener

	connMu sync.Mutex
	conns  map[int]*netConn

	chMu    sync.Mutex
	exact   map[exactKey]chan message
	headers map[headerKey]chan message

	barrierArrivals chan int
	barrierReleases chan struct{}
	reduceArrivals  chan reduceArrival
	reduceResults   chan float32
	gatherArrivals  chan gatherArrival
	gatherResults   chan [][]byte
}

func (n *netEndpoint) adopt(peer int, c net.Conn) {
	nc := &netConn{
		enc: gob.NewEncoder(c),
		dec: gob.NewDecoder(bufio.NewReader(c)),
	}
	n.connMu.Lock()
	n.conns[peer] = nc
	n.connMu.Unlock()

	go n.readLoop(peer, nc)
}

func (n *netEndpoint) readLoop(peer int, nc *netConn) {
	for {
		var f frame
		if err := nc.dec.Decode(&f); err != nil {
			return
		}

		switch f.Kind {
		case frameExact:
			ch := n.exactChan(peer, n.rank, f.Tag)
			ch <- message{src: peer, payload: f.Payload}
		case frameHeader:
			ch := n.headerChan(n.rank, f.Tag)
			ch <- message{src: peer, payload: f.Payload}
		case frameBarrierArrive:
			n.barrierArrivals <- peer
		case frameBarrierRelease:
			n.barrierReleases <- struct{}{}
		case frameReduceValue:
			n.reduceArrivals <- reduceArrival{src: peer, val: f.Float}
		case frameReduceResult:
			n.reduceResults <- f.Float
		case frameGatherValue:
			n.gatherArrivals <- gatherArrival{src: peer, val: f.Payload}
		case frameGatherResult:
			n.gatherResults <- f.Batch
		}
	}
}

func (n *netEndpoint) exactChan(src, dst int, tag Tag) chan message {
	k := exactKey{src, dst, tag}
	n.chMu.Lock()
	defer n.chMu.Unlock()
	ch, ok := n.exact[k]
	if !ok {
		ch = make(chan message, chanBuf)
		n.exact[k] = ch
	}
	return ch
}

func (n *netEndpoint) headerChan(dst int, tag Tag) chan message {
	k := headerKey{dst, tag}
	n.chMu.Lock()
	defer n.chMu.Unlock()
	ch, ok := n.headers[k]
	if !ok {
		ch = make(chan message, chanBuf)
		n.headers[k] = ch
	}
	return ch
}

func (n *netEndpoint) send(peer int, f frame) error {
	n.connMu.Lock()
	nc, ok := n.conns[peer]
	n.connMu.Unlock()
	if !ok {
		return transportError("no connection to rank %d", peer)
	}

	nc.mu.Lock()
	defer nc.mu.Unlock()
	if err := nc.enc.Encode(f); err != nil {
		return transportError("encode frame to rank %d: %v", peer, err)
	}
	return nil
}

func (n *netEndpoint) Rank() int      { return n.rank }
func (n *netEndpoint) WorldSize() int { return n.world }

func (n *netEndpoint) Barrier(ctx context.Context) error {
	if n.rank == 0 {
		arrived := 1
		for arrived < n.world {
			select {
			case <-n.barrierArrivals:
				arrived++
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		for r := 1; r < n.world; r++ {
			if err := n.send(r, frame{Kind: frameBarrierRelease}); err != nil {
				return err
			}
		}
		return nil
	}

	if err := n.send(0, frame{Kind: frameBarrierArrive, Src: n.rank}); err != nil {
		return err
	}
	select {
	case <-n.barrierReleases:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *netEndpoint) AllReduceMin(ctx context.Context, local float32) (float32, error) {
	if n.rank == 0 {
		min := local
		received := 1
		for received < n.world {
			select {
			case a := <-n.reduceArrivals:
				if a.val < min {
					min = a.val
				}
				received++
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		}
		for r := 1; r < n.world; r++ {
			if err := n.send(r, frame{Kind: frameReduceResult, Float: min}); err != nil {
				return 0, err
			}
		}
		return min, nil
	}

	if err := n.send(0, frame{Kind: frameReduceValue, Src: n.rank, Float: local}); err != nil {
		return 0, err
	}
	select {
	case min := <-n.reduceResults:
		return min, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (n *netEndpoint) AllGather(ctx context.Context, local []byte, counts []int) ([][]byte, error) {
	if n.rank == 0 {
		out := make([][]byte, n.world)
		out[0] = local
		received := 1
		for received < n.world {
			select {
			case a := <-n.gatherArrivals:
				out[a.src] = a.val
				received++
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		for r := 1; r < n.world; r++ {
			if err := n.send(r, frame{Kind: frameGatherResult, Batch: out}); err != nil {
				return nil, err
			}
		}
		return out, nil
	}

	if err := n.send(0, frame{Kind: frameGatherValue, Src: n.rank, Payload: local}); err != nil {
		return nil, err
	}
	select {
	case out := <-n.gatherResults:
		return out, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (n *netEndpoint) Send(ctx context.Context, dstRank int, tag Tag, payload []byte) (*PendingSend, error) {
	p := newPendingSend()
	go func() {
		p.resolve(n.send(dstRank, frame{Kind: frameExact, Src: n.rank, Tag: tag, Payload: payload}))
	}()
	return p, nil
}

func (n *netEndpoint) Recv(ctx context.Context, srcRank int, tag Tag) ([]byte, error) {
	ch := n.exactChan(srcRank, n.rank, tag)
	select {
	case msg := <-ch:
		return msg.payload, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (n *netEndpoint) SendHeader(ctx context.Context, dstRank int, tag Tag, payload []byte) (*PendingSend, error) {
	p := newPendingSend()
	go func() {
		p.resolve(n.send(dstRank, frame{Kind: frameHeader, Src: n.rank, Tag: tag, Payload: payload}))
	}()
	return p, nil
}

func (n *netEndpoint) Probe(ctx context.Context, tag Tag) (int, []byte, error) {
	ch := n.headerChan(n.rank, tag)
	select {
	case msg := <-ch:
		return msg.src, msg.payload, nil
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (n *netEndpoint) WaitAll(pending ...*PendingSend) error {
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

func (n *netEndpoint) Close() error {
	return n.listener.Close()
}
