package multiplex

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync/atomic"

	"github.com/go-multiplex/multiplex/internal/debug"
	"github.com/go-multiplex/multiplex/internal/framebuf"
	"github.com/go-multiplex/multiplex/internal/queue"
)

// Multiplex drives one bidirectional, frame-multiplexed transport: it reads
// wire frames, forwards peer-initiated requests to Dispatch, and writes
// Dispatch's responses back as frames, while shepherding any streaming
// bodies attached to either side. See SPEC_FULL.md §4.4 for the full tick
// sequence.
//
// Tick (and therefore Run) must only ever be called from one goroutine at a
// time — Multiplex keeps no internal locks. Close is the one exception: it
// is safe to call from any goroutine.
type Multiplex struct {
	transport Transport
	dispatch  Dispatch

	arena     *framebuf.Arena
	bodyCap   int
	exchanges map[RequestID]*exchange
	pending   *queue.Queue[RequestID]
	metrics   Recorder

	run         bool // false once DoneFrame is observed or Close is called
	isFlushed   bool
	doneWritten bool

	closeRequested atomic.Bool
}

// New creates a Multiplex driving t and d together.
func New(t Transport, d Dispatch, cfg Config) *Multiplex {
	rec := cfg.Metrics
	if rec == nil {
		rec = noopRecorder{}
	}
	return &Multiplex{
		transport: t,
		dispatch:  d,
		arena:     framebuf.NewArena(cfg.arenaCapacity()),
		bodyCap:   cfg.bodyChannelCapacity(),
		exchanges: make(map[RequestID]*exchange),
		pending:   queue.New[RequestID](cfg.arenaCapacity()),
		metrics:   rec,
		run:       true,
		isFlushed: true,
	}
}

// Close requests a locally-initiated shutdown: the next Tick treats it
// exactly like having observed DoneFrame from the peer (stop reading,
// drain outstanding writes, then terminate). Safe to call from any
// goroutine, any number of times.
func (m *Multiplex) Close() {
	m.closeRequested.Store(true)
}

// Run repeatedly ticks until the dispatcher reaches terminal state, ctx is
// done, or a tick reports a fatal error. Between non-terminal ticks it
// yields the goroutine via runtime.Gosched so whatever feeds the Transport
// gets a chance to make progress too.
func (m *Multiplex) Run(ctx context.Context) error {
	for {
		done, err := m.Tick(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			runtime.Gosched()
		}
	}
}

// Tick executes one full pass of the fixed sequence in SPEC_FULL.md §4.4.
// It returns done=true once the dispatcher has reached terminal state; a
// Multiplex must not be ticked again after that.
func (m *Multiplex) Tick(ctx context.Context) (done bool, err error) {
	if !m.run && m.isFlushed && len(m.exchanges) == 0 {
		return false, ErrClosed
	}
	m.metrics.Tick()

	if m.closeRequested.Load() {
		m.run = false
	}

	// 1. flush transport writes
	if err := m.flushTransport(); err != nil {
		return false, m.fatal(err)
	}

	// 2. flush pending dispatch
	if err := m.flushPendingDispatch(); err != nil {
		return false, m.fatal(err)
	}

	// 3. flush outbound bodies
	m.flushOutboundBodies()

	// 4. read outbound frames
	if err := m.readFrames(ctx); err != nil {
		return false, m.fatal(err)
	}

	// 5. write inbound messages (and 5a: emit Done once dispatch is dry)
	if err := m.writeInboundMessages(); err != nil {
		return false, m.fatal(err)
	}

	// 6. write inbound bodies
	if err := m.writeInboundBodies(); err != nil {
		return false, m.fatal(err)
	}

	// 7. flush pending dispatch again (conservative re-check; SPEC_FULL.md §9.3)
	if err := m.flushPendingDispatch(); err != nil {
		return false, m.fatal(err)
	}

	// 8. flush transport writes again
	if err := m.flushTransport(); err != nil {
		return false, m.fatal(err)
	}

	m.metrics.ArenaInUse(m.arena.InUse())

	// 9. termination check
	if !m.run && m.isFlushed && len(m.exchanges) == 0 {
		return true, nil
	}
	return false, nil
}

func (m *Multiplex) fatal(err error) error {
	debug.Log(context.Background(), slog.LevelError, "multiplex: fatal tick error", "error", err)
	return err
}

func (m *Multiplex) openExchange(id RequestID, ex *exchange) {
	m.exchanges[id] = ex
	m.metrics.ExchangeOpened()
}

func (m *Multiplex) removeExchange(id RequestID) {
	delete(m.exchanges, id)
	m.metrics.ExchangeClosed()
}

func (m *Multiplex) removeIfComplete(id RequestID) {
	if ex, ok := m.exchanges[id]; ok && ex.isComplete() {
		m.removeExchange(id)
	}
}

// --- step 1/8: flush transport writes ---

func (m *Multiplex) flushTransport() error {
	ready, err := m.transport.Flush()
	if err != nil {
		return err
	}
	m.isFlushed = ready
	return nil
}

// --- step 2/7: flush pending dispatch ---

func (m *Multiplex) flushPendingDispatch() error {
	for m.dispatch.PollReady() {
		idPtr := m.pending.Dequeue()
		if idPtr == nil {
			return nil
		}
		id := *idPtr
		ex, ok := m.exchanges[id]
		if !ok {
			continue // exchange was erased (e.g. by an error) since enqueueing
		}
		msg := ex.takeBufferedRequest()
		if msg == nil {
			continue
		}
		if err := m.dispatch.Dispatch(DispatchItem{ID: id, Msg: msg}); err != nil {
			return err
		}
		m.removeIfComplete(id)
	}
	return nil
}

// --- step 3: flush outbound bodies ---

func (m *Multiplex) flushOutboundBodies() {
	for id, ex := range m.exchanges {
		ex.flushOutBody()
		if ex.isComplete() {
			m.removeExchange(id)
		}
	}
}

// --- step 4: read outbound frames ---

func (m *Multiplex) readFrames(ctx context.Context) error {
	for m.run {
		res, err := m.transport.Read()
		if err != nil {
			return err
		}
		if !res.Ready {
			return nil
		}
		if err := m.handleFrame(ctx, res.Frame); err != nil {
			return err
		}
	}
	return nil
}

func (m *Multiplex) handleFrame(_ context.Context, f Frame) error {
	switch fr := f.(type) {
	case MessageFrame:
		return m.handleMessageFrame(fr)
	case BodyFrame:
		return m.handleBodyFrame(fr)
	case ErrorFrame:
		return m.handleErrorFrame(fr)
	case DoneFrame:
		m.run = false
		return nil
	default:
		return fmt.Errorf("multiplex: unknown frame type %T", f)
	}
}

func (m *Multiplex) handleMessageFrame(fr MessageFrame) error {
	var (
		msg    *Message
		sender *BodySender
	)
	if fr.BodyFollows {
		s, recv, cancel := NewBodyStream(m.bodyCap)
		sender = s
		msg = &Message{Head: fr.Head, Body: recv, CancelBody: cancel}
	} else {
		msg = &Message{Head: fr.Head}
	}

	ex, occupied := m.exchanges[fr.ID]
	switch {
	case occupied && ex.isInbound():
		// the response to a request we issued
		if ex.responded {
			debug.Assert(context.Background(), false, "message frame for an already-responded exchange", "id", fr.ID)
			return &ProtocolError{ID: fr.ID, Reason: "message frame for an already-responded exchange"}
		}
		if err := m.dispatch.Dispatch(DispatchItem{ID: fr.ID, Msg: msg}); err != nil {
			return err
		}
		ex.responded = true
		if sender != nil {
			ex.installOutSender(sender)
		}
		m.removeIfComplete(fr.ID)
		return nil

	case occupied && ex.isOutbound():
		debug.Assert(context.Background(), false, "message frame for an outbound exchange", "id", fr.ID)
		return &ProtocolError{ID: fr.ID, Reason: "message frame for an outbound exchange"}

	default: // vacant: a peer-initiated message
		if m.dispatch.PollReady() {
			if err := m.dispatch.Dispatch(DispatchItem{ID: fr.ID, Msg: msg}); err != nil {
				return err
			}
			nx := newOutboundExchange(fr.ID, nil)
			if sender != nil {
				nx.installOutSender(sender)
			}
			m.openExchange(fr.ID, nx)
		} else {
			nx := newOutboundExchange(fr.ID, msg)
			if sender != nil {
				nx.installOutSender(sender)
			}
			m.openExchange(fr.ID, nx)
			m.pending.Enqueue(fr.ID)
		}
		return nil
	}
}

func (m *Multiplex) handleBodyFrame(fr BodyFrame) error {
	ex, ok := m.exchanges[fr.ID]
	if !ok {
		return nil // exchange already aborted; drop silently
	}
	ex.sendOutChunk(m.arena, BodyResult{Chunk: fr.Chunk, EOS: fr.EOS})
	m.removeIfComplete(fr.ID)
	return nil
}

func (m *Multiplex) handleErrorFrame(fr ErrorFrame) error {
	ex, ok := m.exchanges[fr.ID]
	if !ok {
		return nil // no in-flight exchange; drop silently
	}

	switch {
	case !ex.isDispatched():
		// still buffered: safe to drop outright. handleMessageFrame also
		// installs a body sender on a buffered exchange whose frame had
		// BodyFollows set; the assertion logs that case and the sender is
		// dropped together with the exchange.
		if ex.outSender != nil {
			debug.Assert(context.Background(), false, "buffered exchange had a body handle", "id", fr.ID)
			ex.dropOutSender()
		}
		m.removeExchange(fr.ID)
		return nil

	case ex.isOutbound():
		ex.sendOutChunk(m.arena, BodyResult{Err: fr.Err})
		if !ex.responded {
			if err := m.dispatch.Cancel(fr.ID); err != nil {
				return err
			}
		}
		m.removeIfComplete(fr.ID)
		return nil

	default: // dispatched, inbound direction
		if !ex.responded {
			if err := m.dispatch.Dispatch(DispatchItem{ID: fr.ID, Err: fr.Err}); err != nil {
				return err
			}
			ex.responded = true
		} else {
			ex.sendOutChunk(m.arena, BodyResult{Err: fr.Err})
		}
		m.removeIfComplete(fr.ID)
		return nil
	}
}

// --- step 5 (+5a): write inbound messages ---

func (m *Multiplex) writeInboundMessages() error {
	for m.transport.PollWrite() {
		item, state, err := m.dispatch.Poll()
		if err != nil {
			return err
		}
		switch state {
		case PollPending:
			return nil
		case PollExhausted:
			return m.maybeWriteDone()
		case PollDelivered:
			if err := m.writeDispatchItem(item); err != nil {
				return err
			}
		}
	}
	return nil
}

// maybeWriteDone implements SPEC_FULL.md §9.2: emit DoneFrame at most once,
// the first time step 5 finds dispatch exhausted while no exchange still
// owes the peer body frames.
func (m *Multiplex) maybeWriteDone() error {
	if m.doneWritten {
		return nil
	}
	for _, ex := range m.exchanges {
		if ex.inBody != nil {
			return nil // still have bodies to drain; try again next tick
		}
	}
	if !m.transport.PollWrite() {
		return nil
	}
	if err := m.transport.Write(DoneFrame{}); err != nil {
		return err
	}
	m.doneWritten = true
	return nil
}

func (m *Multiplex) writeDispatchItem(item DispatchItem) error {
	if item.Err != nil {
		return m.writeDispatchError(item.ID, item.Err)
	}
	return m.writeDispatchMessage(item.ID, item.Msg)
}

func (m *Multiplex) writeDispatchMessage(id RequestID, msg *Message) error {
	fr := MessageFrame{ID: id, Head: msg.Head, BodyFollows: msg.HasBody()}
	if err := m.transport.Write(fr); err != nil {
		return err
	}

	ex, occupied := m.exchanges[id]
	if occupied {
		if !ex.isOutbound() || ex.responded {
			debug.Assert(context.Background(), false, "dispatch produced a message for an exchange that isn't a pending response", "id", id)
			return &ProtocolError{ID: id, Reason: "dispatch produced a message for an exchange that isn't a pending response"}
		}
		ex.responded = true
		if msg.HasBody() {
			ex.inBody = msg.Body
		}
		m.removeIfComplete(id)
		return nil
	}

	// vacant: we are originating a peer-bound request
	nx := newInboundExchange(id)
	if msg.HasBody() {
		nx.inBody = msg.Body
	}
	m.openExchange(id, nx)
	return nil
}

func (m *Multiplex) writeDispatchError(id RequestID, derr error) error {
	ex, occupied := m.exchanges[id]
	if !occupied || !ex.isOutbound() || ex.responded {
		debug.Assert(context.Background(), false, "dispatch error for unknown/already-responded exchange", "id", id)
		return &ProtocolError{ID: id, Reason: "dispatch produced an error for an exchange that isn't a pending response"}
	}
	ex.dropOutSender()
	if err := m.transport.Write(ErrorFrame{ID: id, Err: derr}); err != nil {
		return err
	}
	m.removeExchange(id)
	return nil
}

// --- step 6: write inbound bodies ---

func (m *Multiplex) writeInboundBodies() error {
	for id, ex := range m.exchanges {
		if ex.inBody == nil {
			continue
		}
	drain:
		for m.transport.PollWrite() {
			item, ready := ex.tryPollInBody()
			if !ready {
				break drain
			}
			if item.Err != nil {
				if err := m.transport.Write(ErrorFrame{ID: id, Err: item.Err}); err != nil {
					return err
				}
				ex.responded = true
				ex.dropOutSender()
				break drain
			}
			if err := m.transport.Write(BodyFrame{ID: id, Chunk: item.Chunk, EOS: item.EOS}); err != nil {
				return err
			}
			if item.EOS {
				break drain
			}
		}
		m.removeIfComplete(id)
	}
	return nil
}
