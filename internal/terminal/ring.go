package terminal

// MaxOutputChunks bounds the per-session output history used for replay.
const MaxOutputChunks = 1000

// Ring is a bounded, insertion-ordered buffer of output chunks. When full,
// the oldest chunk is evicted. It is not safe for concurrent use; the owning
// session serializes access under its own mutex.
type Ring struct {
	chunks [][]byte
	head   int
	count  int
}

// NewRing creates a ring holding at most MaxOutputChunks chunks.
func NewRing() *Ring {
	return &Ring{chunks: make([][]byte, MaxOutputChunks)}
}

// Append stores a copy of p as the newest chunk, evicting the oldest when
// the ring is full.
func (r *Ring) Append(p []byte) {
	c := make([]byte, len(p))
	copy(c, p)

	tail := (r.head + r.count) % len(r.chunks)
	r.chunks[tail] = c
	if r.count == len(r.chunks) {
		r.head = (r.head + 1) % len(r.chunks)
	} else {
		r.count++
	}
}

// Len returns the number of buffered chunks.
func (r *Ring) Len() int {
	return r.count
}

// Snapshot returns the buffered chunks concatenated in insertion order.
func (r *Ring) Snapshot() []byte {
	var total int
	for i := 0; i < r.count; i++ {
		total += len(r.chunks[(r.head+i)%len(r.chunks)])
	}

	out := make([]byte, 0, total)
	for i := 0; i < r.count; i++ {
		out = append(out, r.chunks[(r.head+i)%len(r.chunks)]...)
	}
	return out
}

// Chunks returns copies of the buffered chunks in insertion order.
func (r *Ring) Chunks() [][]byte {
	out := make([][]byte, 0, r.count)
	for i := 0; i < r.count; i++ {
		out = append(out, r.chunks[(r.head+i)%len(r.chunks)])
	}
	return out
}
