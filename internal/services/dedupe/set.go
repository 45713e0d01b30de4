package dedupe

// boundedSet is a FIFO ring of identifiers with a lookup index. Adding to a
// full set evicts the oldest entry.
type boundedSet struct {
	ring  []string
	index map[string]struct{}
	head  int
	size  int
}

func newBoundedSet(capacity int) *boundedSet {
	if capacity < 1 {
		capacity = 1
	}
	return &boundedSet{
		ring:  make([]string, capacity),
		index: make(map[string]struct{}, capacity),
	}
}

func (b *boundedSet) contains(id string) bool {
	_, ok := b.index[id]
	return ok
}

func (b *boundedSet) add(id string) {
	if b.contains(id) {
		return
	}
	if b.size == len(b.ring) {
		delete(b.index, b.ring[b.head])
		b.ring[b.head] = id
		b.head = (b.head + 1) % len(b.ring)
	} else {
		b.ring[(b.head+b.size)%len(b.ring)] = id
		b.size++
	}
	b.index[id] = struct{}{}
}

// items returns the identifiers oldest first
func (b *boundedSet) items() []string {
	out := make([]string, 0, b.size)
	for i := 0; i < b.size; i++ {
		out = append(out, b.ring[(b.head+i)%len(b.ring)])
	}
	return out
}

func (b *boundedSet) len() int {
	return b.size
}

func (b *boundedSet) capacity() int {
	return len(b.ring)
}
