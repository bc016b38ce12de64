package exchange

import (
	"context"

	"github.com/gcm3d-project/solver/internal/gcmerr"
	"github.com/gcm3d-project/solver/internal/transport"
	"github.com/gcm3d-project/solver/layout"

	"github.com/sirupsen/logrus"
)

// SyncFacesInIntersection is sync_faces_in_intersection of spec.md §4.3.3.
// For every (i, j) pairing this process holds a ghost relationship for
// (reusing the PairIndexTable topology rather than an all-pairs geometric
// scan — a deliberate narrowing, see DESIGN.md), it asks the owner of j
// for the faces of zone j's border, plus their incident nodes, that fall
// inside the intersection of zone i's and zone j's current outlines.
func (e *Engine) SyncFacesInIntersection(ctx context.Context) error {
	self := e.Fabric.Rank()
	world := e.Fabric.WorldSize()

	var requests []struct {
		i, j    int
		outline []byte
	}
	for _, p := range e.Registry.RecvPairs() {
		mi := e.Set.Mesh(p.I)
		mj := e.Set.Mesh(p.J)
		if mi == nil || mj == nil {
			continue
		}
		overlap, ok := e.Detector.IntersectOutlines(mi.Outline, mj.Outline)
		if !ok {
			continue
		}
		requests = append(requests, struct {
			i, j    int
			outline []byte
		}{p.I, p.J, layout.EncodeOutline(overlap)})
	}

	var pending []*transport.PendingSend

	// Request phase.
	for _, r := range requests {
		ownerJ, err := e.Zones.Owner(r.j)
		if err != nil {
			return err
		}
		msg := appendInt32(nil, int32(r.i))
		msg = appendInt32(msg, int32(r.j))
		msg = append(msg, r.outline...)
		ps, err := e.Fabric.SendHeader(ctx, ownerJ, faceReqTag, msg)
		if err != nil {
			return err
		}
		pending = append(pending, ps)
	}
	for r := 0; r < world; r++ {
		ps, err := e.Fabric.SendHeader(ctx, r, faceReqTag, sentinelMarker())
		if err != nil {
			return err
		}
		pending = append(pending, ps)
	}

	if err := e.Fabric.Barrier(ctx); err != nil {
		return err
	}

	// Service phase: drain until a sentinel has arrived from every rank.
	faceIdx := map[int]map[int][]int{} // faceIdx[j][srcRank] = positions into zone j's Border
	nodeIdx := map[int]map[int][]int{} // nodeIdx[j][srcRank] = positions into zone j's Nodes

	remaining := world
	var replyPending []*transport.PendingSend
	for remaining > 0 {
		src, msg, err := e.Fabric.Probe(ctx, faceReqTag)
		if err != nil {
			return err
		}
		if len(msg) < 8 {
			return gcmerr.Wrap(gcmerr.ProtocolDesync, "sync_faces_in_intersection: malformed header")
		}
		i := readInt32(msg[0:4])
		j := readInt32(msg[4:8])
		if isSentinel(i, j) {
			remaining--
			continue
		}

		mj := e.Set.Mesh(int(j))
		if mj == nil {
			return gcmerr.Wrap(gcmerr.DescriptorMismatch, "sync_faces_in_intersection: requested zone not owned")
		}
		outline, err := layout.DecodeOutline(msg[8:])
		if err != nil {
			return err
		}

		facePos := e.Detector.FacesInOutline(mj, outline)
		seen := make(map[int]bool)
		var nodePos []int
		for _, fp := range facePos {
			for _, v := range mj.Border[fp].Vertices {
				if seen[v] {
					continue
				}
				seen[v] = true
				nodePos = append(nodePos, v)
			}
		}

		if faceIdx[int(j)] == nil {
			faceIdx[int(j)] = map[int][]int{}
			nodeIdx[int(j)] = map[int][]int{}
		}
		faceIdx[int(j)][src] = append(faceIdx[int(j)][src], facePos...)
		nodeIdx[int(j)][src] = append(nodeIdx[int(j)][src], nodePos...)

		reply := appendInt32(nil, int32(len(facePos)))
		reply = appendInt32(reply, int32(len(nodePos)))
		reply = appendInt32(reply, i)
		reply = appendInt32(reply, j)
		ps, err := e.Fabric.SendHeader(ctx, src, faceRespTag, reply)
		if err != nil {
			return err
		}
		replyPending = append(replyPending, ps)
	}

	if err := e.Fabric.Barrier(ctx); err != nil {
		return err
	}

	// Transfer phase: the owner of j sends the selected faces/nodes to
	// every rank that requested them.
	var transferPending []*transport.PendingSend
	for j, bySrc := range faceIdx {
		mj := e.Set.Mesh(j)
		for src, facePos := range bySrc {
			nodePos := nodeIdx[j][src]

			fd := e.Registry.BuildIndexed(layout.NumberedFaceRecord, facePos)
			nd := e.Registry.BuildIndexed(layout.NumberedNodeRecord, nodePos)

			fp, err := fd.GatherFaces(mj.Border)
			if err != nil {
				return err
			}
			np, err := nd.GatherNodes(mj.Nodes)
			if err != nil {
				return err
			}

			fps, err := e.Fabric.Send(ctx, src, faceRespTag, fp)
			if err != nil {
				return err
			}
			nps, err := e.Fabric.Send(ctx, src, faceRespTag+1, np)
			if err != nil {
				return err
			}
			transferPending = append(transferPending, fps, nps)

			e.Registry.Release(fd)
			e.Registry.Release(nd)
		}
	}

	// Receive side: every rank that posted a request above now collects
	// exactly len(requests) reply headers — identified by the reply's own
	// (orig_local_zone, orig_remote_zone) and the probed sender, not by
	// posting order, since concurrent owners may reply in any order —
	// and sizes/receives the announced remote-zone faces and nodes,
	// accumulating into the remote zone's Border/Nodes response by
	// response.
	for range requests {
		src, reply, err := e.Fabric.Probe(ctx, faceRespTag)
		if err != nil {
			return err
		}
		if len(reply) != 16 {
			return gcmerr.Wrap(gcmerr.ProtocolDesync, "sync_faces_in_intersection: malformed reply")
		}
		origZoneJ := int(readInt32(reply[12:16]))

		facePayload, err := e.Fabric.Recv(ctx, src, faceRespTag)
		if err != nil {
			return err
		}
		nodePayload, err := e.Fabric.Recv(ctx, src, faceRespTag+1)
		if err != nil {
			return err
		}

		remote := e.Set.EnsureRemote(origZoneJ)
		faces, err := layout.ScatterFaces(remote.Border, facePayload)
		if err != nil {
			return err
		}
		remote.Border = faces
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
		e.Log.WithFields(logrus.Fields{"requests": len(requests), "zones_served": len(faceIdx)}).Debug("sync_faces_in_intersection complete")
	}
	return nil
}
