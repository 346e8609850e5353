// Package framebuf implements the FrameBuf arena and FrameDeque described in
// SPEC_FULL.md §4.1: every exchange's outbound body backlog is a Deque drawn
// from one Arena, which sets the Deques' segment size and counts the items
// buffered across all of them. Each Deque is its own segmented
// queue.Queue; cells are not shared between Deques, and every push
// allocates one heap cell for the item (queue.Queue stores items by
// pointer).
package framebuf

import "github.com/go-multiplex/multiplex/internal/queue"

// DefaultCapacity is the arena segment size used when a caller doesn't
// configure one explicitly.
const DefaultCapacity = 128

// Item is one buffered body-stream entry: a chunk, an end-of-stream marker,
// or a terminal error — the Go rendition of the wire's Body/Error frames
// once they've been queued behind a not-yet-ready sender.
type Item struct {
	Chunk []byte
	EOS   bool
	Err   error
}

// Arena bounds the segment size of every Deque drawn from it and tracks how
// many Items are currently buffered across all of them.
//
// It does not reject a push once that capacity is reached: Deque is backed
// by queue.Queue, which allocates a fresh segment rather than blocking when
// its current one fills up. The arena is sized to absorb expected bursts;
// sustained overflow should be caught by watching InUse, not by the arena
// refusing writes (see SPEC_FULL.md §9.1).
type Arena struct {
	segmentSize int
	inUse       int
}

// NewArena creates an Arena with the given per-segment capacity. A
// non-positive capacity falls back to DefaultCapacity.
func NewArena(capacity int) *Arena {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Arena{segmentSize: capacity}
}

// NewDeque returns a FIFO view backed by cells accounted to this arena.
func (a *Arena) NewDeque() *Deque {
	return &Deque{arena: a, q: queue.New[Item](a.segmentSize)}
}

// InUse returns the number of Items currently buffered across every Deque
// this arena has handed out.
func (a *Arena) InUse() int {
	return a.inUse
}

// Deque is a FrameDeque: a per-exchange FIFO of buffered Items whose cell
// accounting is attributed back to the owning Arena. It is not safe for
// concurrent use — like the rest of Multiplex's state, a Deque is only ever
// touched from the single goroutine driving ticks.
type Deque struct {
	arena *Arena
	q     *queue.Queue[Item]
}

// PushBack enqueues an item, drawing one cell of credit from the arena.
func (d *Deque) PushBack(it Item) {
	d.q.Enqueue(it)
	d.arena.inUse++
}

// PopFront removes and returns the oldest item, releasing its cell back to
// the arena. ok is false if the deque is empty.
func (d *Deque) PopFront() (it Item, ok bool) {
	v := d.q.Dequeue()
	if v == nil {
		return Item{}, false
	}
	d.arena.inUse--
	return *v, true
}

// Len reports the number of items currently queued.
func (d *Deque) Len() int {
	return d.q.Len()
}

// Drop releases every remaining item's cell back to the arena, leaving the
// deque empty. Call this when the sender the deque was feeding is gone.
func (d *Deque) Drop() {
	for {
		if _, ok := d.PopFront(); !ok {
			return
		}
	}
}
