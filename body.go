package multiplex

import "sync"

// NewBodyStream creates a bounded body-stream channel pair: a BodySender
// for the producer side (the Multiplex tick loop, or a Dispatch
// implementation originating an outgoing message with a body) and a
// receive-only channel for the consumer, plus a cancel func the consumer
// calls to signal it has lost interest in the rest of the stream.
//
// capacity bounds how many items may be buffered in the channel itself
// before PollReady reports NotReady; it is independent of the FrameBuf
// arena, which only buffers items the Multiplex couldn't yet hand to the
// sender.
func NewBodyStream(capacity int) (sender *BodySender, body <-chan BodyResult, cancel func()) {
	ch := make(chan BodyResult, capacity)
	done := make(chan struct{})
	var once sync.Once
	cancelFn := func() { once.Do(func() { close(done) }) }
	return &BodySender{ch: ch, done: done}, ch, cancelFn
}

// BodySender is the producer half of a body stream: the bounded,
// multi-producer sender the spec treats as an opaque capability. Grounded
// on manualCreditor.go's mutex+broadcast-channel shape, adapted to a plain
// buffered channel since Multiplex only ever has one producer per stream.
type BodySender struct {
	ch   chan BodyResult
	done <-chan struct{}
}

// PollReady reports whether another Send is currently permitted. It
// returns (false, ErrBodyReceiverDropped) once the consumer has called its
// cancel func; from that point on the exchange owning this sender should
// drop it and discard any further items for the stream.
func (s *BodySender) PollReady() (ready bool, err error) {
	select {
	case <-s.done:
		return false, ErrBodyReceiverDropped
	default:
	}
	return len(s.ch) < cap(s.ch), nil
}

// Send enqueues one item. The caller must only call Send immediately after
// a PollReady call reported ready — each ready observation credits exactly
// one Send.
func (s *BodySender) Send(item BodyResult) error {
	select {
	case <-s.done:
		return ErrBodyReceiverDropped
	default:
	}
	select {
	case s.ch <- item:
		return nil
	default:
		return ErrSendWithoutCredit
	}
}
