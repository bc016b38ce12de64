package layout

import "sync"

// Pair names one (i, j) zone pairing: zone i holds ghosts of zone j.
type Pair struct{ I, J int }

// Registry is the LayoutRegistry: it owns every committed node-pair
// descriptor for the lifetime of the process, and tracks transient
// descriptors built and released within a single face/tetr sync call so
// tests can assert none leak (spec.md §8 scenario 4).
type Registry struct {
	mu   sync.Mutex
	recv map[Pair]*Descriptor // ghost side: indices into zone i's array
	send map[Pair]*Descriptor // source side: indices into zone j's array

	openTransient int
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		recv: make(map[Pair]*Descriptor),
		send: make(map[Pair]*Descriptor),
	}
}

// BuildNodePairDescriptors is build_node_pair_descriptors of spec.md §4.2:
// for every (i, j) in table.Ghost, an indexed descriptor anchored at zone
// i's node array; for every (i, j) in table.Source, one anchored at zone
// j's. Both are committed and retained for the process lifetime.
func (r *Registry) BuildNodePairDescriptors(table *PairIndexTable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, idx := range table.Ghost {
		r.recv[k] = NewDescriptor(NodeRecord, idx)
	}
	for k, idx := range table.Source {
		r.send[k] = NewDescriptor(NodeRecord, idx)
	}
}

// RecvDescriptor returns the committed descriptor zone i uses to scatter
// an incoming payload from zone j into its own node array.
func (r *Registry) RecvDescriptor(i, j int) (*Descriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.recv[Pair{i, j}]
	return d, ok
}

// SendDescriptor returns the committed descriptor zone j uses to gather
// the records zone i's ghosts expect.
func (r *Registry) SendDescriptor(i, j int) (*Descriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.send[Pair{i, j}]
	return d, ok
}

// RecvPairs returns every (i, j) pairing for which this process owns a
// committed receive descriptor, i.e. i is owned locally.
func (r *Registry) RecvPairs() []Pair {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Pair, 0, len(r.recv))
	for k := range r.recv {
		out = append(out, k)
	}
	return out
}

// SendPairs returns every (i, j) pairing for which this process owns a
// committed send descriptor, i.e. j is owned locally.
func (r *Registry) SendPairs() []Pair {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Pair, 0, len(r.send))
	for k := range r.send {
		out = append(out, k)
	}
	return out
}

// BuildIndexed is build_indexed of spec.md §4.2: a transient descriptor,
// owned by the caller, that must be released via Release before the
// enclosing sync call returns.
func (r *Registry) BuildIndexed(kind RecordKind, indices []int) *Descriptor {
	r.mu.Lock()
	r.openTransient++
	r.mu.Unlock()
	return NewDescriptor(kind, indices)
}

// Release retires a transient descriptor built by BuildIndexed.
func (r *Registry) Release(*Descriptor) {
	r.mu.Lock()
	r.openTransient--
	r.mu.Unlock()
}

// OpenTransientCount reports the number of transient descriptors built
// and not yet released. Used by tests asserting no descriptor leaks.
func (r *Registry) OpenTransientCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.openTransient
}
