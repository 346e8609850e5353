// Package testtransport provides in-memory, scriptable doubles for
// multiplex.Transport and multiplex.Dispatch, used by the package's own
// tests and by cmd/multiplexdemo. Grounded on the teacher's
// internal/mocks.MockConnection: a fake driven entirely by queued values and
// callbacks rather than a real socket, so tests control timing exactly.
package testtransport

import (
	"sync"

	"github.com/go-multiplex/multiplex"
)

// Transport is an in-memory multiplex.Transport. Frames queued via Push
// become visible to Read one at a time; frames handed to Write land in
// Written. WriteBlocked and FlushBlocked let a test simulate backpressure
// in either direction.
type Transport struct {
	mu sync.Mutex

	inbox   []multiplex.Frame
	written []multiplex.Frame

	writeBlocked bool
	flushBlocked bool
	readErr      error
	writeErr     error
}

// NewTransport returns an empty Transport: no frames queued, writes and
// flushes unblocked.
func NewTransport() *Transport {
	return &Transport{}
}

// Push appends frames to the inbound queue Read will drain, in order.
func (t *Transport) Push(frames ...multiplex.Frame) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inbox = append(t.inbox, frames...)
}

// SetReadErr makes the next Read (and every one after it) fail with err.
func (t *Transport) SetReadErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.readErr = err
}

// SetWriteErr makes the next Write (and every one after it) fail with err.
func (t *Transport) SetWriteErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writeErr = err
}

// SetWriteBlocked controls what PollWrite reports.
func (t *Transport) SetWriteBlocked(blocked bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writeBlocked = blocked
}

// SetFlushBlocked controls what Flush reports.
func (t *Transport) SetFlushBlocked(blocked bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.flushBlocked = blocked
}

// Written returns a snapshot of every frame handed to Write so far, in
// order.
func (t *Transport) Written() []multiplex.Frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]multiplex.Frame, len(t.written))
	copy(out, t.written)
	return out
}

func (t *Transport) Read() (multiplex.ReadResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.readErr != nil {
		return multiplex.ReadResult{}, t.readErr
	}
	if len(t.inbox) == 0 {
		return multiplex.ReadResult{}, nil
	}
	fr := t.inbox[0]
	t.inbox = t.inbox[1:]
	return multiplex.ReadResult{Frame: fr, Ready: true}, nil
}

func (t *Transport) Write(f multiplex.Frame) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.writeErr != nil {
		return t.writeErr
	}
	t.written = append(t.written, f)
	return nil
}

func (t *Transport) PollWrite() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.writeBlocked
}

func (t *Transport) Flush() (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.flushBlocked, nil
}

// Dispatch is an in-memory, scriptable multiplex.Dispatch. Outgoing is a
// queue of items Poll hands to Multiplex one at a time; every call to
// Multiplex's Dispatch method (for a peer-originated message or error)
// and every Cancel is recorded for the test to assert against.
type Dispatch struct {
	mu sync.Mutex

	outgoing   []multiplex.DispatchItem
	exhausted  bool
	readyBlock bool

	received []multiplex.DispatchItem
	canceled []multiplex.RequestID
}

// NewDispatch returns an empty Dispatch: nothing queued to Poll, ready to
// accept Dispatch calls immediately.
func NewDispatch() *Dispatch {
	return &Dispatch{}
}

// Enqueue appends items Poll will hand out, in order.
func (d *Dispatch) Enqueue(items ...multiplex.DispatchItem) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.outgoing = append(d.outgoing, items...)
}

// SetExhausted marks the service as having no further items to ever emit,
// once the queued items have all been polled.
func (d *Dispatch) SetExhausted(exhausted bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.exhausted = exhausted
}

// SetReadyBlocked controls what PollReady reports.
func (d *Dispatch) SetReadyBlocked(blocked bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.readyBlock = blocked
}

// Received returns a snapshot of every item handed to Dispatch so far, in
// order.
func (d *Dispatch) Received() []multiplex.DispatchItem {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]multiplex.DispatchItem, len(d.received))
	copy(out, d.received)
	return out
}

// Canceled returns a snapshot of every id passed to Cancel so far, in
// order.
func (d *Dispatch) Canceled() []multiplex.RequestID {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]multiplex.RequestID, len(d.canceled))
	copy(out, d.canceled)
	return out
}

func (d *Dispatch) Poll() (multiplex.DispatchItem, multiplex.PollState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.outgoing) == 0 {
		if d.exhausted {
			return multiplex.DispatchItem{}, multiplex.PollExhausted, nil
		}
		return multiplex.DispatchItem{}, multiplex.PollPending, nil
	}
	item := d.outgoing[0]
	d.outgoing = d.outgoing[1:]
	return item, multiplex.PollDelivered, nil
}

func (d *Dispatch) PollReady() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.readyBlock
}

func (d *Dispatch) Dispatch(item multiplex.DispatchItem) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.received = append(d.received, item)
	return nil
}

func (d *Dispatch) Cancel(id multiplex.RequestID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.canceled = append(d.canceled, id)
	return nil
}
