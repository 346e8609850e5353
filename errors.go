package multiplex

import (
	"errors"
	"fmt"
)

// ErrBodyReceiverDropped is returned by BodySender.PollReady once the
// consumer holding the other end of a body stream has abandoned it. The
// exchange that owns the sender drops it silently; no error is surfaced to
// Dispatch or the transport.
var ErrBodyReceiverDropped = errors.New("multiplex: body stream receiver dropped")

// ErrSendWithoutCredit is returned by BodySender.Send when the body channel
// has no free slot, which is what a Send without a prior PollReady
// observation reporting Ready runs into. Send keeps no credit count of its
// own: a Send into a channel with room succeeds whether or not PollReady
// was called first.
var ErrSendWithoutCredit = errors.New("multiplex: send called without a prior ready observation")

// ErrClosed is returned by Tick/Run once the Multiplex has already reached
// terminal state.
var ErrClosed = errors.New("multiplex: dispatcher already terminated")

// ProtocolError reports a violation of the frame-sequencing invariants in
// SPEC_FULL.md §4.5/§4.6 — e.g. a Message frame for an exchange that has
// already responded. These are programming/protocol bugs, not ordinary
// per-exchange failures, and are always fatal to the whole Multiplex.
type ProtocolError struct {
	ID     RequestID
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("multiplex: protocol violation for request %d: %s", e.ID, e.Reason)
}
