// Package mesh defines the per-zone mesh data the exchange core reads and
// writes: nodes, border faces, tetrahedra, and their bounding outline.
//
// The mesh loader, the numerical kernel, and rheology are external
// collaborators (spec.md §6); this package only carries the records they
// populate and the exchange core mutates.
package mesh

import "sort"

// Placement distinguishes a zone's own authoritative nodes from ghost
// copies of a neighbour's nodes.
type Placement int

const (
	// Local nodes are authoritative: their values are advanced by the
	// (external) numerical kernel every step.
	Local Placement = iota
	// Remote nodes are ghosts: sync_nodes overwrites them every step from
	// the authoritative instance named by RemoteZoneID/RemoteLocalID.
	Remote
)

// Rheology tags the constitutive model a node's common block belongs to.
// Per DESIGN NOTES §9, deep inheritance of node variants in the original
// collapses to this tag: a future plastic variant would add fields beside
// the common block without perturbing the wire descriptor, which only ever
// covers the block every variant shares (Values/Coords).
type Rheology int

// RheologyElastic is the only variant this module implements.
const RheologyElastic Rheology = 0

// NumValues is the width of a node's per-step state vector.
const NumValues = 13

// Node is one point of the mesh, local or ghost.
type Node struct {
	LocalID      int
	LocalZoneID  int
	RemoteZoneID int
	RemoteLocalID int
	Placement    Placement
	Rheology     Rheology
	Coords       [3]float32
	Values       [NumValues]float32
}

// Face is a border (outer-surface) triangle, by local node indices.
type Face struct {
	LocalID  int
	Vertices [3]int
}

// Tetrahedron is a mesh cell, by local node indices.
type Tetrahedron struct {
	LocalID  int
	Vertices [4]int
}

// Outline is an axis-aligned bounding box. Min==Max on any axis signals "no
// interaction" per spec.md §3.
type Outline struct {
	Min [3]float32
	Max [3]float32
}

// Degenerate reports whether o collapses to zero extent on any axis, the
// convention for "no interaction" used throughout sync_faces_in_intersection.
func (o Outline) Degenerate() bool {
	return o.Min[0] == o.Max[0] || o.Min[1] == o.Max[1] || o.Min[2] == o.Max[2]
}

// Mesh is one zone's local data: nodes (local and ghost), its border
// triangulation, its tetrahedra, and the reverse adjacency from a vertex to
// the tetrahedra incident on it (required to expand a tetrahedron halo
// request, spec.md §4.3.4).
type Mesh struct {
	ZoneID     int
	Nodes      []Node
	Border     []Face
	Tetrahedra []Tetrahedron
	Outline    Outline

	// Incident[v] lists the indices, into Tetrahedra, of every tetrahedron
	// touching vertex v. The mesh loader (external) maintains this.
	Incident [][]int
}

// Set indexes every zone's mesh this process knows about: the zones it
// owns (authoritative) plus scratch meshes for remote zones it receives
// ghost data for.
type Set struct {
	byZone map[int]*Mesh
}

// NewSet creates an empty mesh set.
func NewSet() *Set {
	return &Set{byZone: make(map[int]*Mesh)}
}

// Put registers m under its own ZoneID, replacing any previous entry.
// m is stored as given; its slices are not copied or reallocated. For
// DESIGN NOTES §9's Open Question 1 this does not matter: descriptors
// address records by position in the zone slice passed at call time,
// never by an offset from a shared base.
func (s *Set) Put(m *Mesh) {
	s.byZone[m.ZoneID] = m
}

// Mesh returns the mesh registered for zoneID, or nil if none is known.
func (s *Set) Mesh(zoneID int) *Mesh {
	return s.byZone[zoneID]
}

// EnsureRemote returns the scratch mesh for zoneID, creating an empty one
// on first use. Used by the exchange engine to size and fill the halo of a
// remote zone it does not own.
func (s *Set) EnsureRemote(zoneID int) *Mesh {
	m, ok := s.byZone[zoneID]
	if !ok {
		m = &Mesh{ZoneID: zoneID}
		s.byZone[zoneID] = m
	}
	return m
}

// ZoneIDs returns every zone id registered in s, in ascending order.
func (s *Set) ZoneIDs() []int {
	ids := make([]int, 0, len(s.byZone))
	for id := range s.byZone {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
