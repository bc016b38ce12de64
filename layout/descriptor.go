// Package layout implements the LayoutRegistry: construction of indexed
// gather/scatter descriptors over the record shapes the exchange core
// moves (nodes, faces, tetrahedra, outlines), and the PairIndexTable setup
// protocol that gives both sides of a zone pairing the same index list.
//
// Go has no portable equivalent of MPI's indexed datatype, so a Descriptor
// here is a plain value over a []int index list rather than a compiled
// strided type; Gather/Scatter read and write the caller's slice directly,
// which is the "no staging copies" requirement spec.md §4.2 asks for.
package layout

import (
	"encoding/binary"
	"math"

	"github.com/gcm3d-project/solver/internal/gcmerr"
	"github.com/gcm3d-project/solver/mesh"
)

// RecordKind names the wire shape a Descriptor gathers/scatters.
type RecordKind int

const (
	// NodeRecord carries a node's Coords and Values only (sync_nodes: the
	// receiver already knows which slot each value belongs to from the
	// descriptor that built the send, so no id travels on the wire).
	NodeRecord RecordKind = iota
	// NumberedNodeRecord additionally carries the node's LocalID, used
	// where the receiver does not already know the index (tetrahedron
	// halo transfer).
	NumberedNodeRecord
	// NumberedFaceRecord carries a face's LocalID and its three vertex
	// indices.
	NumberedFaceRecord
	// NumberedTetrRecord carries a tetrahedron's LocalID and its four
	// vertex indices.
	NumberedTetrRecord
	// OutlineRecord carries a single bounding box, Min then Max.
	OutlineRecord
)

const nodeRecordBytes = (mesh.NumValues + 3) * 4
const numberedNodeRecordBytes = 4 + nodeRecordBytes
const numberedFaceRecordBytes = 4 + 3*4
const numberedTetrRecordBytes = 4 + 4*4
const outlineRecordBytes = 6 * 4

// recordSize returns the wire size in bytes of one record of kind.
func recordSize(kind RecordKind) int {
	switch kind {
	case NodeRecord:
		return nodeRecordBytes
	case NumberedNodeRecord:
		return numberedNodeRecordBytes
	case NumberedFaceRecord:
		return numberedFaceRecordBytes
	case NumberedTetrRecord:
		return numberedTetrRecordBytes
	case OutlineRecord:
		return outlineRecordBytes
	default:
		return 0
	}
}

// Descriptor is an indexed gather/scatter plan: Kind names the record
// shape, Indices the ordered list of positions in the caller's slice this
// descriptor visits.
type Descriptor struct {
	Kind    RecordKind
	Indices []int
}

// NewDescriptor builds a Descriptor over kind selecting indices, in order.
// This is build_indexed of spec.md §4.2.
func NewDescriptor(kind RecordKind, indices []int) *Descriptor {
	cp := make([]int, len(indices))
	copy(cp, indices)
	return &Descriptor{Kind: kind, Indices: cp}
}

// Len reports the number of records d selects.
func (d *Descriptor) Len() int { return len(d.Indices) }

// GatherNodes packs the Coords/Values of src at d.Indices, in order. Kind
// must be NodeRecord or NumberedNodeRecord.
func (d *Descriptor) GatherNodes(src []mesh.Node) ([]byte, error) {
	if d.Kind != NodeRecord && d.Kind != NumberedNodeRecord {
		return nil, gcmerr.Wrap(gcmerr.DescriptorMismatch, "GatherNodes: descriptor is not a node record")
	}
	out := make([]byte, 0, len(d.Indices)*recordSize(d.Kind))
	for _, idx := range d.Indices {
		if idx < 0 || idx >= len(src) {
			return nil, gcmerr.Wrap(gcmerr.DescriptorMismatch, "GatherNodes: index out of range")
		}
		n := &src[idx]
		if d.Kind == NumberedNodeRecord {
			out = appendUint32(out, uint32(n.LocalID))
		}
		for _, v := range n.Coords {
			out = appendFloat32(out, v)
		}
		for _, v := range n.Values {
			out = appendFloat32(out, v)
		}
	}
	return out, nil
}

// ScatterNodes writes payload, produced by a matching GatherNodes, into
// dst at d.Indices, in order. For NodeRecord the caller's own index order
// names the destination slot; for NumberedNodeRecord the record's own
// LocalID field does, and d.Indices is ignored for addressing (but its
// length still bounds how many records are consumed).
func (d *Descriptor) ScatterNodes(dst []mesh.Node, payload []byte) error {
	if d.Kind != NodeRecord && d.Kind != NumberedNodeRecord {
		return gcmerr.Wrap(gcmerr.DescriptorMismatch, "ScatterNodes: descriptor is not a node record")
	}
	stride := recordSize(d.Kind)
	if len(payload) != len(d.Indices)*stride {
		return gcmerr.Wrap(gcmerr.DescriptorMismatch, "ScatterNodes: payload length disagrees with descriptor")
	}
	for i, idx := range d.Indices {
		rec := payload[i*stride : (i+1)*stride]
		target := idx
		off := 0
		if d.Kind == NumberedNodeRecord {
			target = int(binary.LittleEndian.Uint32(rec[0:4]))
			off = 4
		}
		if target < 0 || target >= len(dst) {
			return gcmerr.Wrap(gcmerr.DescriptorMismatch, "ScatterNodes: target index out of range")
		}
		n := &dst[target]
		for c := 0; c < 3; c++ {
			n.Coords[c] = readFloat32(rec[off:])
			off += 4
		}
		for v := 0; v < mesh.NumValues; v++ {
			n.Values[v] = readFloat32(rec[off:])
			off += 4
		}
	}
	return nil
}

// ScatterNumberedNodes decodes records produced by gathering a
// NumberedNodeRecord descriptor and appends one mesh.Node per record to
// dst, returning the extended slice. Used where the receiver has no
// pre-existing slot for the incoming node (face/tetrahedron halo
// transfer build a fresh remote mesh), unlike ScatterNodes which writes
// into an already-sized ghost array.
func ScatterNumberedNodes(dst []mesh.Node, payload []byte) ([]mesh.Node, error) {
	if len(payload)%numberedNodeRecordBytes != 0 {
		return nil, gcmerr.Wrap(gcmerr.DescriptorMismatch, "ScatterNumberedNodes: payload length not a multiple of record size")
	}
	for off := 0; off < len(payload); off += numberedNodeRecordBytes {
		rec := payload[off : off+numberedNodeRecordBytes]
		n := mesh.Node{LocalID: int(binary.LittleEndian.Uint32(rec[0:4]))}
		pos := 4
		for c := 0; c < 3; c++ {
			n.Coords[c] = readFloat32(rec[pos:])
			pos += 4
		}
		for v := 0; v < mesh.NumValues; v++ {
			n.Values[v] = readFloat32(rec[pos:])
			pos += 4
		}
		dst = append(dst, n)
	}
	return dst, nil
}

// GatherFaces packs the LocalID and Vertices of src at d.Indices.
func (d *Descriptor) GatherFaces(src []mesh.Face) ([]byte, error) {
	if d.Kind != NumberedFaceRecord {
		return nil, gcmerr.Wrap(gcmerr.DescriptorMismatch, "GatherFaces: descriptor is not a face record")
	}
	out := make([]byte, 0, len(d.Indices)*numberedFaceRecordBytes)
	for _, idx := range d.Indices {
		if idx < 0 || idx >= len(src) {
			return nil, gcmerr.Wrap(gcmerr.DescriptorMismatch, "GatherFaces: index out of range")
		}
		f := &src[idx]
		out = appendUint32(out, uint32(f.LocalID))
		for _, v := range f.Vertices {
			out = appendUint32(out, uint32(v))
		}
	}
	return out, nil
}

// ScatterFaces decodes records produced by GatherFaces and appends one
// mesh.Face per record to dst, returning the extended slice.
func ScatterFaces(dst []mesh.Face, payload []byte) ([]mesh.Face, error) {
	if len(payload)%numberedFaceRecordBytes != 0 {
		return nil, gcmerr.Wrap(gcmerr.DescriptorMismatch, "ScatterFaces: payload length not a multiple of record size")
	}
	for off := 0; off < len(payload); off += numberedFaceRecordBytes {
		rec := payload[off : off+numberedFaceRecordBytes]
		f := mesh.Face{LocalID: int(binary.LittleEndian.Uint32(rec[0:4]))}
		for v := 0; v < 3; v++ {
			f.Vertices[v] = int(binary.LittleEndian.Uint32(rec[4+4*v:]))
		}
		dst = append(dst, f)
	}
	return dst, nil
}

// GatherTetrs packs the LocalID and Vertices of src at d.Indices.
func (d *Descriptor) GatherTetrs(src []mesh.Tetrahedron) ([]byte, error) {
	if d.Kind != NumberedTetrRecord {
		return nil, gcmerr.Wrap(gcmerr.DescriptorMismatch, "GatherTetrs: descriptor is not a tetrahedron record")
	}
	out := make([]byte, 0, len(d.Indices)*numberedTetrRecordBytes)
	for _, idx := range d.Indices {
		if idx < 0 || idx >= len(src) {
			return nil, gcmerr.Wrap(gcmerr.DescriptorMismatch, "GatherTetrs: index out of range")
		}
		t := &src[idx]
		out = appendUint32(out, uint32(t.LocalID))
		for _, v := range t.Vertices {
			out = appendUint32(out, uint32(v))
		}
	}
	return out, nil
}

// ScatterTetrs decodes records produced by GatherTetrs and appends one
// mesh.Tetrahedron per record to dst, returning the extended slice.
func ScatterTetrs(dst []mesh.Tetrahedron, payload []byte) ([]mesh.Tetrahedron, error) {
	if len(payload)%numberedTetrRecordBytes != 0 {
		return nil, gcmerr.Wrap(gcmerr.DescriptorMismatch, "ScatterTetrs: payload length not a multiple of record size")
	}
	for off := 0; off < len(payload); off += numberedTetrRecordBytes {
		rec := payload[off : off+numberedTetrRecordBytes]
		t := mesh.Tetrahedron{LocalID: int(binary.LittleEndian.Uint32(rec[0:4]))}
		for v := 0; v < 4; v++ {
			t.Vertices[v] = int(binary.LittleEndian.Uint32(rec[4+4*v:]))
		}
		dst = append(dst, t)
	}
	return dst, nil
}

// EncodeOutline renders o as the wire record used by sync_outlines and the
// face-sync request phase.
func EncodeOutline(o mesh.Outline) []byte {
	out := make([]byte, 0, outlineRecordBytes)
	for _, v := range o.Min {
		out = appendFloat32(out, v)
	}
	for _, v := range o.Max {
		out = appendFloat32(out, v)
	}
	return out
}

// DecodeOutline is the inverse of EncodeOutline.
func DecodeOutline(payload []byte) (mesh.Outline, error) {
	if len(payload) != outlineRecordBytes {
		return mesh.Outline{}, gcmerr.Wrap(gcmerr.DescriptorMismatch, "DecodeOutline: wrong payload length")
	}
	var o mesh.Outline
	off := 0
	for c := 0; c < 3; c++ {
		o.Min[c] = readFloat32(payload[off:])
		off += 4
	}
	for c := 0; c < 3; c++ {
		o.Max[c] = readFloat32(payload[off:])
		off += 4
	}
	return o, nil
}

func appendUint32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendFloat32(b []byte, v float32) []byte {
	return appendUint32(b, math.Float32bits(v))
}

func readFloat32(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}
