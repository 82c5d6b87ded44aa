package receiver

// Reassembly buffers received payloads keyed by sequence index and releases
// the in-order prefix. Storage is a sparse map so a large gap does not cost
// memory proportional to the highest index seen.
type Reassembly struct {
	slots map[int][]byte
	next  int
}

// NewReassembly creates an empty reassembly buffer expecting index 0 first
func NewReassembly() *Reassembly {
	return &Reassembly{
		slots: make(map[int][]byte),
	}
}

// Insert stores payload at index and reports whether the index was new.
// Indices already buffered or already emitted are ignored; an index is filled
// at most once and emitted content is never mutated.
func (r *Reassembly) Insert(index int, payload []byte) bool {
	if index < r.next {
		return false
	}
	if _, exists := r.slots[index]; exists {
		return false
	}

	buf := make([]byte, len(payload))
	copy(buf, payload)
	r.slots[index] = buf
	return true
}

// Drain removes and returns the longest contiguous run of buffered payloads
// starting at the next expected index. Returns an empty slice when that index
// is still missing.
func (r *Reassembly) Drain() []byte {
	var out []byte
	for {
		payload, ok := r.slots[r.next]
		if !ok {
			return out
		}
		out = append(out, payload...)
		delete(r.slots, r.next)
		r.next++
	}
}

// NextIndex returns the lowest index that has not been emitted yet
func (r *Reassembly) NextIndex() int {
	return r.next
}

// Pending returns the number of buffered payloads waiting on a gap
func (r *Reassembly) Pending() int {
	return len(r.slots)
}
