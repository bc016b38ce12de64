package exchange

import (
	"context"

	"github.com/gcm3d-project/solver/internal/gcmerr"
	"github.com/gcm3d-project/solver/internal/transport"
	"github.com/gcm3d-project/solver/layout"
	"github.com/gcm3d-project/solver/mesh"

	"github.com/sirupsen/logrus"
)

// virtGroupKey groups virt_nodes by the (local zone, remote zone) pairing
// their request travels under.
type virtGroupKey struct{ i, j int }

// SyncTetrs is sync_tetrs of spec.md §4.3.4. virtNodes are the points of
// interest an external collaborator (typically the face-intersection
// halo just built by SyncFacesInIntersection) has marked for tetrahedron
// lookup; each carries the face-local-id, in the remote zone's own
// position numbering, that produced it, in RemoteLocalID.
func (e *Engine) SyncTetrs(ctx context.Context, virtNodes []mesh.Node) error {
	self := e.Fabric.Rank()
	world := e.Fabric.WorldSize()

	groups := make(map[virtGroupKey][]int)
	for _, n := range virtNodes {
		owner, err := e.Zones.Owner(n.RemoteZoneID)
		if err != nil {
			return err
		}
		if owner == self {
			continue
		}
		k := virtGroupKey{n.LocalZoneID, n.RemoteZoneID}
		groups[k] = append(groups[k], n.RemoteLocalID)
	}

	var pending []*transport.PendingSend

	// Request phase.
	for k, faceIDs := range groups {
		ownerJ, err := e.Zones.Owner(k.j)
		if err != nil {
			return err
		}
		msg := appendInt32(nil, int32(k.i))
		msg = appendInt32(msg, int32(k.j))
		for _, id := range faceIDs {
			msg = appendInt32(msg, int32(id))
		}
		ps, err := e.Fabric.SendHeader(ctx, ownerJ, tetrReqTag, msg)
		if err != nil {
			return err
		}
		pending = append(pending, ps)
	}
	for r := 0; r < world; r++ {
		ps, err := e.Fabric.SendHeader(ctx, r, tetrReqTag, sentinelMarker())
		if err != nil {
			return err
		}
		pending = append(pending, ps)
	}

	if err := e.Fabric.Barrier(ctx); err != nil {
		return err
	}

	// Service phase.
	tetrIdx := map[int]map[int][]int{} // tetrIdx[j][srcRank] = positions into zone j's Tetrahedra
	nodeIdx := map[int]map[int][]int{} // nodeIdx[j][srcRank] = positions into zone j's Nodes

	remaining := world
	var replyPending []*transport.PendingSend
	for remaining > 0 {
		src, msg, err := e.Fabric.Probe(ctx, tetrReqTag)
		if err != nil {
			return err
		}
		if len(msg) < 8 {
			return gcmerr.Wrap(gcmerr.ProtocolDesync, "sync_tetrs: malformed header")
		}
		i := readInt32(msg[0:4])
		j := readInt32(msg[4:8])
		if isSentinel(i, j) {
			remaining--
			continue
		}

		mj := e.Set.Mesh(int(j))
		if mj == nil {
			return gcmerr.Wrap(gcmerr.DescriptorMismatch, "sync_tetrs: requested zone not owned")
		}

		var faceIDs []int
		for off := 8; off+4 <= len(msg); off += 4 {
			faceIDs = append(faceIDs, int(readInt32(msg[off:off+4])))
		}

		seenTetr := make(map[int]bool)
		var tetrPos []int
		for _, fid := range faceIDs {
			if fid < 0 || fid >= len(mj.Border) {
				continue
			}
			for _, v := range mj.Border[fid].Vertices {
				if v < 0 || v >= len(mj.Incident) {
					continue
				}
				for _, t := range mj.Incident[v] {
					if seenTetr[t] {
						continue
					}
					seenTetr[t] = true
					tetrPos = append(tetrPos, t)
				}
			}
		}

		seenNode := make(map[int]bool)
		var nodePos []int
		for _, t := range tetrPos {
			for _, v := range mj.Tetrahedra[t].Vertices {
				if seenNode[v] {
					continue
				}
				seenNode[v] = true
				nodePos = append(nodePos, v)
			}
		}

		if tetrIdx[int(j)] == nil {
			tetrIdx[int(j)] = map[int][]int{}
			nodeIdx[int(j)] = map[int][]int{}
		}
		tetrIdx[int(j)][src] = append(tetrIdx[int(j)][src], tetrPos...)
		nodeIdx[int(j)][src] = append(nodeIdx[int(j)][src], nodePos...)

		reply := appendInt32(nil, int32(len(tetrPos)))
		reply = appendInt32(reply, int32(len(nodePos)))
		reply = appendInt32(reply, i)
		reply = appendInt32(reply, j)
		ps, err := e.Fabric.SendHeader(ctx, src, tetrRespTag, reply)
		if err != nil {
			return err
		}
		replyPending = append(replyPending, ps)
	}

	if err := e.Fabric.Barrier(ctx); err != nil {
		return err
	}

	// Transfer phase.
	var transferPending []*transport.PendingSend
	for j, bySrc := range tetrIdx {
		mj := e.Set.Mesh(j)
		for src, tetrPos := range bySrc {
			nodePos := nodeIdx[j][src]

			td := e.Registry.BuildIndexed(layout.NumberedTetrRecord, tetrPos)
			nd := e.Registry.BuildIndexed(layout.NumberedNodeRecord, nodePos)

			tp, err := td.GatherTetrs(mj.Tetrahedra)
			if err != nil {
				return err
			}
			np, err := nd.GatherNodes(mj.Nodes)
			if err != nil {
				return err
			}

			tps, err := e.Fabric.Send(ctx, src, tetrRespTag, tp)
			if err != nil {
				return err
			}
			nps, err := e.Fabric.Send(ctx, src, tetrRespTag+1, np)
			if err != nil {
				return err
			}
			transferPending = append(transferPending, tps, nps)

			e.Registry.Release(td)
			e.Registry.Release(nd)
		}
	}

	// Receive side, one reply per distinct group this rank requested.
	for range groups {
		src, reply, err := e.Fabric.Probe(ctx, tetrRespTag)
		if err != nil {
			return err
		}
		if len(reply) != 16 {
			return gcmerr.Wrap(gcmerr.ProtocolDesync, "sync_tetrs: malformed reply")
		}
		origZoneJ := int(readInt32(reply[12:16]))

		tetrPayload, err := e.Fabric.Recv(ctx, src, tetrRespTag)
		if err != nil {
			return err
		}
		nodePayload, err := e.Fabric.Recv(ctx, src, tetrRespTag+1)
		if err != nil {
			return err
		}

		remote := e.Set.EnsureRemote(origZoneJ)
		tetrs, err := layout.ScatterTetrs(remote.Tetrahedra, tetrPayload)
		if err != nil {
			return err
		}
		remote.Tetrahedra = tetrs
		nodes, err := layout.ScatterNumberedNodes(remote.Nodes, nodePayload)
		if err != nil {
			return err
		}
		remote.Nodes = nodes
	}

	if err := e.Fabric.WaitAll(pending...); err != nil {
		return err
	}
	if err := e.Fabric.WaitAll(replyPending...); err != nil {
		return err
	}
	if err := e.Fabric.WaitAll(transferPending...); err != nil {
		return err
	}

	if e.Log != nil {
		e.Log.WithFields(logrus.Fields{"groups": len(groups), "zones_served": len(tetrIdx)}).Debug("sync_tetrs complete")
	}
	return nil
}
