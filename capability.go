package multiplex

// Transport is the downstream framed I/O capability Multiplex drives. Every
// method must be non-blocking: Multiplex only ever calls these from within
// a Tick, and a tick never awaits.
type Transport interface {
	// Read returns the next frame if one is immediately available.
	// ReadResult.Ready is false (with a nil error) when none is — the Go
	// rendition of the spec's NotReady.
	Read() (ReadResult, error)

	// Write sends a frame. The caller must only call Write when PollWrite
	// last reported true.
	Write(Frame) error

	// PollWrite reports whether the transport currently accepts a Write.
	PollWrite() bool

	// Flush drives any buffered writes toward the wire. ready is true once
	// everything written so far has been fully flushed.
	Flush() (ready bool, err error)
}

// ReadResult is the result of one Transport.Read call.
type ReadResult struct {
	Frame Frame
	Ready bool
}

// PollState is the three-way outcome of a Dispatch.Poll call, standing in
// for the spec's NotReady | Ready(Some) | Ready(None).
type PollState int

const (
	// PollPending means no item is ready yet this tick.
	PollPending PollState = iota
	// PollDelivered means Poll returned an item to write to the peer.
	PollDelivered
	// PollExhausted means the service has no further messages to emit —
	// ever. See SPEC_FULL.md §9.2 for how this interacts with Done.
	PollExhausted
)

// DispatchItem is one (RequestID, message-or-error) pair crossing the
// Dispatch boundary in either direction.
type DispatchItem struct {
	ID  RequestID
	Msg *Message
	Err error
}

// Dispatch is the upstream service-facing capability Multiplex drives. Like
// Transport, every method must be non-blocking.
type Dispatch interface {
	// Poll returns the next outgoing item the service wants written to the
	// peer. See PollState for how the three-way outcome is represented.
	Poll() (DispatchItem, PollState, error)

	// PollReady reports whether the service can currently accept another
	// peer-originated message via Dispatch.
	PollReady() bool

	// Dispatch hands a peer-originated message or error to the service.
	Dispatch(DispatchItem) error

	// Cancel tells the service to abandon interest in id — called when the
	// peer's exchange fails before the service has produced a response.
	Cancel(id RequestID) error
}
