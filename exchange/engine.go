// Package exchange implements the ExchangeEngine: the multi-phase
// collective that keeps every process's ghost data current between
// time-steps — node halos every step, mesh outlines and face/tetrahedron
// halos on the (external) driver's schedule.
//
// The post/barrier/drain/wait-all phase shape each sync method below
// follows has no teacher precedent (core.Core.Tick has no collective
// concept); it is original, grounded on
// original_source/system/DataBus.cpp for the exact phase structure each
// sync method below names in its doc comment.
package exchange

import (
	"context"

	"github.com/gcm3d-project/solver/collision"
	"github.com/gcm3d-project/solver/internal/gcmerr"
	"github.com/gcm3d-project/solver/internal/transport"
	"github.com/gcm3d-project/solver/layout"
	"github.com/gcm3d-project/solver/mesh"
	"github.com/gcm3d-project/solver/zone"

	"github.com/sirupsen/logrus"
)

// Engine is the ExchangeEngine. One Engine per process, built once after
// LayoutRegistry's node-pair descriptors are committed.
type Engine struct {
	Zones    *zone.Map
	Registry *layout.Registry
	Fabric   transport.Fabric
	Detector collision.Detector
	Set      *mesh.Set
	Log      *logrus.Entry
}

// NewEngine returns an Engine ready to run the four sync operations.
// Resolution of DESIGN NOTES §9's Open Question 2 (no secondary
// constructor from a bare logger): this is the only constructor.
func NewEngine(zones *zone.Map, registry *layout.Registry, fabric transport.Fabric, detector collision.Detector, set *mesh.Set, log *logrus.Entry) *Engine {
	return &Engine{Zones: zones, Registry: registry, Fabric: fabric, Detector: detector, Set: set, Log: log}
}

// SyncNodes is sync_nodes of spec.md §4.3.1. On return every ghost node on
// every process holds the values/coords of its authoritative twin as of
// this call.
func (e *Engine) SyncNodes(ctx context.Context) error {
	self := e.Fabric.Rank()
	recvPairs := e.Registry.RecvPairs()
	sendPairs := e.Registry.SendPairs()

	sendSet := make(map[layout.Pair]bool, len(sendPairs))
	for _, p := range sendPairs {
		sendSet[p] = true
	}

	// Fast path: intra-process pairings copy before any network I/O, so
	// locally-owned authoritative state is stable while sends are posted.
	for _, p := range recvPairs {
		if !sendSet[p] {
			continue
		}
		ownerI, err := e.Zones.Owner(p.I)
		if err != nil {
			return err
		}
		ownerJ, err := e.Zones.Owner(p.J)
		if err != nil {
			return err
		}
		if ownerI != self || ownerJ != self {
			continue
		}
		if err := e.copyNodesLocally(p); err != nil {
			return err
		}
	}

	var pending []*transport.PendingSend
	for _, p := range sendPairs {
		ownerI, err := e.Zones.Owner(p.I)
		if err != nil {
			return err
		}
		if ownerI == self {
			continue // intra-process, handled above
		}
		send, _ := e.Registry.SendDescriptor(p.I, p.J)
		srcMesh := e.Set.Mesh(p.J)
		if srcMesh == nil {
			return gcmerr.Wrap(gcmerr.DescriptorMismatch, "sync_nodes: zone missing from mesh set")
		}
		payload, err := send.GatherNodes(srcMesh.Nodes)
		if err != nil {
			return err
		}
		ps, err := e.Fabric.Send(ctx, ownerI, nodeTag(p.I, p.J), payload)
		if err != nil {
			return err
		}
		pending = append(pending, ps)
	}

	if err := e.Fabric.Barrier(ctx); err != nil {
		return err
	}

	for _, p := range recvPairs {
		ownerJ, err := e.Zones.Owner(p.J)
		if err != nil {
			return err
		}
		if ownerJ == self {
			continue // intra-process, handled above
		}
		recv, _ := e.Registry.RecvDescriptor(p.I, p.J)
		dstMesh := e.Set.Mesh(p.I)
		if dstMesh == nil {
			return gcmerr.Wrap(gcmerr.DescriptorMismatch, "sync_nodes: zone missing from mesh set")
		}
		payload, err := e.Fabric.Recv(ctx, ownerJ, nodeTag(p.I, p.J))
		if err != nil {
			return err
		}
		if err := recv.ScatterNodes(dstMesh.Nodes, payload); err != nil {
			return err
		}
	}

	if err := e.Fabric.WaitAll(pending...); err != nil {
		return err
	}
	if err := e.Fabric.Barrier(ctx); err != nil {
		return err
	}

	if e.Log != nil {
		e.Log.WithFields(logrus.Fields{"sent": len(pending), "recv_pairs": len(recvPairs)}).Debug("sync_nodes complete")
	}
	return nil
}

func (e *Engine) copyNodesLocally(p layout.Pair) error {
	send, ok := e.Registry.SendDescriptor(p.I, p.J)
	if !ok {
		return gcmerr.Wrap(gcmerr.DescriptorMismatch, "sync_nodes: missing send descriptor for intra-process pairing")
	}
	recv, ok := e.Registry.RecvDescriptor(p.I, p.J)
	if !ok {
		return gcmerr.Wrap(gcmerr.DescriptorMismatch, "sync_nodes: missing recv descriptor for intra-process pairing")
	}
	srcMesh := e.Set.Mesh(p.J)
	dstMesh := e.Set.Mesh(p.I)
	if srcMesh == nil || dstMesh == nil {
		return gcmerr.Wrap(gcmerr.DescriptorMismatch, "sync_nodes: zone missing from mesh set")
	}
	payload, err := send.GatherNodes(srcMesh.Nodes)
	if err != nil {
		return err
	}
	return recv.ScatterNodes(dstMesh.Nodes, payload)
}

// SyncOutlines is sync_outlines of spec.md §4.3.2: an all-gather of every
// zone's bounding box, keyed by the (globally known, so no separate
// announce round is needed) count of zones each rank owns.
func (e *Engine) SyncOutlines(ctx context.Context) error {
	self := e.Fabric.Rank()
	world := e.Fabric.WorldSize()

	own := e.Zones.ZonesOwnedBy(self)
	local := make([]byte, 0, len(own)*outlineWireSize)
	for _, zid := range own {
		m := e.Set.Mesh(zid)
		if m == nil {
			return gcmerr.Wrap(gcmerr.DescriptorMismatch, "sync_outlines: owned zone missing from mesh set")
		}
		local = append(local, layout.EncodeOutline(m.Outline)...)
	}

	counts := make([]int, world)
	for r := 0; r < world; r++ {
		counts[r] = len(e.Zones.ZonesOwnedBy(r)) * outlineWireSize
	}

	gathered, err := e.Fabric.AllGather(ctx, local, counts)
	if err != nil {
		return err
	}

	for r, payload := range gathered {
		zoneIDs := e.Zones.ZonesOwnedBy(r)
		for idx, zid := range zoneIDs {
			rec := payload[idx*outlineWireSize : (idx+1)*outlineWireSize]
			outline, err := layout.DecodeOutline(rec)
			if err != nil {
				return err
			}
			e.Set.EnsureRemote(zid).Outline = outline
		}
	}

	if e.Log != nil {
		e.Log.WithFields(logrus.Fields{"owned_zones": len(own), "world": world}).Debug("sync_outlines complete")
	}
	return nil
}

const outlineWireSize = 6 * 4
