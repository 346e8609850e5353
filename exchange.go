package multiplex

import "github.com/go-multiplex/multiplex/internal/framebuf"

// direction names which side initiated the exchange, per the spec's
// glossary: dirInbound exchanges were opened by this side (our request went
// out, the peer's message is the response coming in); dirOutbound exchanges
// were opened by the peer (their request came in, our side owes the
// response going out).
type direction uint8

const (
	dirInbound direction = iota
	dirOutbound
)

// exchange is the per-RequestID state tracked for the lifetime of one
// request/response pair (spec.md §3). It is never shared across goroutines:
// only the Multiplex tick loop touches it.
type exchange struct {
	id  RequestID
	dir direction

	// buffered holds a peer-initiated request not yet handed to Dispatch
	// because PollReady was false when it arrived. Only meaningful when
	// dir == dirOutbound; nil once dispatched.
	buffered *Message

	// responded is set once a response Message or error has crossed this
	// exchange in the completing direction.
	responded bool

	// outSender/outBacklog/outReady shepherd body data read off the wire
	// for this id toward whichever consumer holds the matching receive
	// channel (the original caller for a response body, or the freshly
	// dispatched service call for a request body) — see DESIGN.md for why
	// this applies regardless of dir.
	outSender  *BodySender
	outBacklog *framebuf.Deque
	outReady   bool

	// inBody is the channel this side reads from to produce Body frames
	// for a message that originated from Dispatch and is still streaming
	// out to the peer. nil once absent or fully drained.
	inBody <-chan BodyResult
}

func newInboundExchange(id RequestID) *exchange {
	return &exchange{id: id, dir: dirInbound}
}

func newOutboundExchange(id RequestID, buffered *Message) *exchange {
	return &exchange{id: id, dir: dirOutbound, buffered: buffered}
}

func (e *exchange) isInbound() bool  { return e.dir == dirInbound }
func (e *exchange) isOutbound() bool { return e.dir == dirOutbound }

// isDispatched reports whether an outbound exchange's head has already been
// handed to Dispatch (true for inbound exchanges too, since they have no
// buffered head concept).
func (e *exchange) isDispatched() bool {
	return e.dir != dirOutbound || e.buffered == nil
}

// takeBufferedRequest extracts and clears the not-yet-dispatched head.
func (e *exchange) takeBufferedRequest() *Message {
	m := e.buffered
	e.buffered = nil
	return m
}

// isComplete is the single source of truth for invariant 4: no obligation
// remains for this exchange.
func (e *exchange) isComplete() bool {
	if e.dir == dirOutbound && e.buffered != nil {
		return false
	}
	return e.responded && e.outSender == nil && e.inBody == nil
}

// installOutSender attaches a freshly created BodySender (from a Message
// frame with BodyFollows set) and seeds its readiness cache.
func (e *exchange) installOutSender(s *BodySender) {
	e.outSender = s
	ready, err := s.PollReady()
	if err != nil {
		e.dropOutSender()
		return
	}
	e.outReady = ready
}

// dropOutSender discards the sender and any buffered backlog — called once
// the sender reports the receiver dropped, or once a terminal item has been
// delivered through it.
func (e *exchange) dropOutSender() {
	e.outSender = nil
	e.outReady = false
	if e.outBacklog != nil {
		e.outBacklog.Drop()
		e.outBacklog = nil
	}
}

// sendOutChunk forwards one body item arriving off the wire toward
// outSender: directly if it was last observed ready, buffered otherwise.
func (e *exchange) sendOutChunk(arena *framebuf.Arena, item BodyResult) {
	if e.outSender == nil {
		return // sender already gone; discard silently
	}
	if !e.outReady {
		e.enqueueOutBacklog(arena, item)
		return
	}
	if err := e.outSender.Send(item); err != nil {
		e.dropOutSender()
		return
	}
	if item.isTerminal() {
		e.dropOutSender()
		return
	}
	ready, err := e.outSender.PollReady()
	if err != nil {
		e.dropOutSender()
		return
	}
	e.outReady = ready
}

func (e *exchange) enqueueOutBacklog(arena *framebuf.Arena, item BodyResult) {
	if e.outBacklog == nil {
		e.outBacklog = arena.NewDeque()
	}
	e.outBacklog.PushBack(framebuf.Item{Chunk: item.Chunk, EOS: item.EOS, Err: item.Err})
}

// flushOutBody drains outBacklog into outSender while it accepts sends,
// refreshing the cached readiness at entry. Called once per tick for every
// exchange (step 3 of SPEC_FULL.md §4.4).
func (e *exchange) flushOutBody() {
	if e.outSender == nil {
		return
	}
	ready, err := e.outSender.PollReady()
	if err != nil {
		e.dropOutSender()
		return
	}
	e.outReady = ready

	for e.outReady {
		if e.outBacklog == nil || e.outBacklog.Len() == 0 {
			return
		}
		it, _ := e.outBacklog.PopFront()
		item := BodyResult{Chunk: it.Chunk, EOS: it.EOS, Err: it.Err}
		if err := e.outSender.Send(item); err != nil {
			e.dropOutSender()
			return
		}
		if item.isTerminal() {
			e.dropOutSender()
			return
		}
		ready, err = e.outSender.PollReady()
		if err != nil {
			e.dropOutSender()
			return
		}
		e.outReady = ready
	}
}

// tryPollInBody performs one non-blocking read from inBody. ready is false
// when nothing is available yet; once a terminal item (EOS or Err) is
// returned, inBody is cleared.
func (e *exchange) tryPollInBody() (item BodyResult, ready bool) {
	if e.inBody == nil {
		return BodyResult{}, false
	}
	select {
	case v, ok := <-e.inBody:
		if !ok {
			e.inBody = nil
			return BodyResult{EOS: true}, true
		}
		if v.isTerminal() {
			e.inBody = nil
		}
		return v, true
	default:
		return BodyResult{}, false
	}
}
