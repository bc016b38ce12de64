// Package collision implements the (external, per spec.md §6) collision
// detector the face-sync service phase consults: given a received outline,
// which of a zone's border faces fall inside it, and whether two outlines
// overlap at all.
//
// Grounded on original_source/system/CollisionDetector.h's
// find_intersection/find_faces_in_intersection pair, narrowed to the
// axis-aligned-box test the original's bounding-volume fields actually
// carry.
package collision

import "github.com/gcm3d-project/solver/mesh"

// Detector answers the two queries sync_faces_in_intersection needs.
type Detector interface {
	// IntersectOutlines returns the overlap of a and b. ok is false, and
	// the returned Outline is the mesh.Outline zero value, when they do
	// not overlap on every axis (spec.md §3: Min==Max on any axis signals
	// "no interaction").
	IntersectOutlines(a, b mesh.Outline) (overlap mesh.Outline, ok bool)

	// FacesInOutline returns the positions, into m.Border, of the faces
	// with at least one vertex inside outline, in ascending position
	// order. Positions (not each face's LocalID) are what a transfer
	// descriptor gathers by; the LocalID still travels with each record
	// once gathered, since NumberedFaceRecord embeds it.
	FacesInOutline(m *mesh.Mesh, outline mesh.Outline) []int
}

// AABBDetector is the only Detector this module implements: plain
// axis-aligned bounding-box overlap and point-in-box membership, no
// acceleration structure.
type AABBDetector struct{}

// NewAABBDetector returns a ready-to-use AABBDetector.
func NewAABBDetector() *AABBDetector { return &AABBDetector{} }

func (AABBDetector) IntersectOutlines(a, b mesh.Outline) (mesh.Outline, bool) {
	var out mesh.Outline
	for axis := 0; axis < 3; axis++ {
		lo := a.Min[axis]
		if b.Min[axis] > lo {
			lo = b.Min[axis]
		}
		hi := a.Max[axis]
		if b.Max[axis] < hi {
			hi = b.Max[axis]
		}
		if lo >= hi {
			return mesh.Outline{}, false
		}
		out.Min[axis] = lo
		out.Max[axis] = hi
	}
	return out, true
}

func (AABBDetector) FacesInOutline(m *mesh.Mesh, outline mesh.Outline) []int {
	var out []int
	for pos, f := range m.Border {
		if faceInOutline(m, f, outline) {
			out = append(out, pos)
		}
	}
	return out
}

func faceInOutline(m *mesh.Mesh, f mesh.Face, outline mesh.Outline) bool {
	for _, v := range f.Vertices {
		if v < 0 || v >= len(m.Nodes) {
			continue
		}
		if pointInOutline(m.Nodes[v].Coords, outline) {
			return true
		}
	}
	return false
}

func pointInOutline(p [3]float32, o mesh.Outline) bool {
	for axis := 0; axis < 3; axis++ {
		if p[axis] < o.Min[axis] || p[axis] > o.Max[axis] {
			return false
		}
	}
	return true
}
