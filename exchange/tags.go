package exchange

import "github.com/gcm3d-project/solver/internal/transport"

// Tag layout, disjoint from layout.SetupTag (-1):
//
//	[baseNodeTag, baseNodeTag+100*maxZone+maxZone]  sync_nodes, one per (i, j)
//	faceReqTag / faceRespTag                        sync_faces_in_intersection
//	tetrReqTag / tetrRespTag                         sync_tetrs
const (
	baseNodeTag  transport.Tag = 1_000_000
	faceReqTag   transport.Tag = 2_000_000
	faceRespTag  transport.Tag = 2_000_001
	tetrReqTag   transport.Tag = 3_000_000
	tetrRespTag  transport.Tag = 3_000_001
)

// nodeTag is BASE_NODE_TAG + 100*i + j of spec.md §4.3.1.
func nodeTag(i, j int) transport.Tag {
	return baseNodeTag + transport.Tag(100*i+j)
}

// sentinelMarker is the header payload (-1, -1) bounding a probe-drain
// loop, per spec.md's GLOSSARY definition of "Sentinel drain".
func sentinelMarker() []byte {
	m := appendInt32(nil, -1)
	return appendInt32(m, -1)
}

func isSentinel(i, j int32) bool {
	return i == -1 && j == -1
}
