package livestatus

import "encoding/json"

// updateRing is a fixed-capacity log of process updates. When full, pushing
// evicts the oldest entry. It is not safe for concurrent use; Channel guards it.
type updateRing struct {
	buf  []json.RawMessage
	head int // next write position
	n    int
}

func newUpdateRing(capacity int) *updateRing {
	if capacity <= 0 {
		capacity = DefaultMaxUpdates
	}

	return &updateRing{buf: make([]json.RawMessage, capacity)}
}

func (r *updateRing) push(v json.RawMessage) {
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)

	if r.n < len(r.buf) {
		r.n++
	}
}

func (r *updateRing) len() int {
	return r.n
}

// items returns the entries oldest first.
func (r *updateRing) items() []json.RawMessage {
	out := make([]json.RawMessage, 0, r.n)

	start := (r.head - r.n + len(r.buf)) % len(r.buf)
	for i := range r.n {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}

	return out
}

func (r *updateRing) reset() {
	clear(r.buf)
	r.head = 0
	r.n = 0
}
