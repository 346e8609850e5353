package multiplex_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/go-multiplex/multiplex"
	"github.com/go-multiplex/multiplex/internal/testtransport"
)

func newHarness() (*multiplex.Multiplex, *testtransport.Transport, *testtransport.Dispatch) {
	tr := testtransport.NewTransport()
	d := testtransport.NewDispatch()
	mx := multiplex.New(tr, d, multiplex.Config{})
	return mx, tr, d
}

func tick(t *testing.T, mx *multiplex.Multiplex, n int) (done bool) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		var err error
		done, err = mx.Tick(ctx)
		require.NoError(t, err)
		if done {
			return true
		}
	}
	return false
}

// S1: single roundtrip, no bodies.
func TestScenarioSingleRoundtripNoBodies(t *testing.T) {
	mx, tr, d := newHarness()
	tr.Push(multiplex.MessageFrame{ID: 1, Head: "req"})

	tick(t, mx, 1)

	received := d.Received()
	require.Len(t, received, 1)
	require.Equal(t, multiplex.RequestID(1), received[0].ID)
	require.Equal(t, "req", received[0].Msg.Head)

	d.Enqueue(multiplex.DispatchItem{ID: 1, Msg: &multiplex.Message{Head: "resp"}})
	tick(t, mx, 1)

	written := tr.Written()
	require.Len(t, written, 1)
	require.Equal(t, multiplex.MessageFrame{ID: 1, Head: "resp"}, written[0])
}

// S2: roundtrip with a response body.
func TestScenarioRoundtripWithResponseBody(t *testing.T) {
	mx, tr, d := newHarness()
	tr.Push(multiplex.MessageFrame{ID: 7, Head: "req"})
	tick(t, mx, 1)

	sender, body, _ := multiplex.NewBodyStream(4)
	d.Enqueue(multiplex.DispatchItem{ID: 7, Msg: &multiplex.Message{Head: "resp", Body: body}})
	require.NoError(t, sendReady(sender, multiplex.BodyResult{Chunk: []byte("x")}))
	require.NoError(t, sendReady(sender, multiplex.BodyResult{Chunk: []byte("y")}))
	require.NoError(t, sendReady(sender, multiplex.BodyResult{EOS: true}))

	tick(t, mx, 3)

	want := []multiplex.Frame{
		multiplex.MessageFrame{ID: 7, Head: "resp", BodyFollows: true},
		multiplex.BodyFrame{ID: 7, Chunk: []byte("x")},
		multiplex.BodyFrame{ID: 7, Chunk: []byte("y")},
		multiplex.BodyFrame{ID: 7, EOS: true},
	}
	if diff := cmp.Diff(want, tr.Written()); diff != "" {
		t.Fatalf("written frames mismatch (-want +got):\n%s", diff)
	}
}

// S3: dispatch backpressure buffers exactly one head, delivered once ready.
func TestScenarioDispatchBackpressureBuffersHead(t *testing.T) {
	mx, tr, d := newHarness()
	d.SetReadyBlocked(true)
	tr.Push(multiplex.MessageFrame{ID: 3, Head: "req"})

	tick(t, mx, 1)
	require.Empty(t, d.Received(), "must not dispatch while PollReady is false")

	d.SetReadyBlocked(false)
	tick(t, mx, 1)

	received := d.Received()
	require.Len(t, received, 1, "head must be delivered exactly once")
	require.Equal(t, multiplex.RequestID(3), received[0].ID)

	tick(t, mx, 1)
	require.Len(t, d.Received(), 1, "no duplicate dispatch on later ticks")
}

// S4: out-body receiver dropped mid-stream discards remaining chunks
// silently; nothing is surfaced to Dispatch.
func TestScenarioOutBodyReceiverDroppedMidStream(t *testing.T) {
	mx, tr, d := newHarness()
	tr.Push(
		multiplex.MessageFrame{ID: 4, Head: "req", BodyFollows: true},
		multiplex.BodyFrame{ID: 4, Chunk: []byte("a")},
	)
	tick(t, mx, 1)

	received := d.Received()
	require.Len(t, received, 1)
	msg := received[0].Msg
	require.True(t, msg.HasBody())

	first := <-msg.Body
	require.Equal(t, []byte("a"), first.Chunk)
	msg.CancelBody()

	tr.Push(
		multiplex.BodyFrame{ID: 4, Chunk: []byte("b")},
		multiplex.BodyFrame{ID: 4, Chunk: []byte("c")},
	)
	tick(t, mx, 1)

	select {
	case v, ok := <-msg.Body:
		t.Fatalf("unexpected value delivered after cancel: %+v (ok=%v)", v, ok)
	default:
	}
}

// S5: an error frame mid-request-body is delivered through the body
// stream the dispatched service is reading from, and the exchange is
// removed. Because the response was already sent, Cancel must not fire.
func TestScenarioErrorFrameDuringResponseBody(t *testing.T) {
	mx, tr, d := newHarness()
	tr.Push(multiplex.MessageFrame{ID: 9, Head: "req", BodyFollows: true})
	tick(t, mx, 1)

	received := d.Received()
	require.Len(t, received, 1)
	msg := received[0].Msg
	require.True(t, msg.HasBody())

	d.Enqueue(multiplex.DispatchItem{ID: 9, Msg: &multiplex.Message{Head: "resp"}})
	tick(t, mx, 1)

	oops := errors.New("oops")
	tr.Push(multiplex.ErrorFrame{ID: 9, Err: oops})
	tick(t, mx, 1)

	got := <-msg.Body
	require.ErrorIs(t, got.Err, oops)
	require.Empty(t, d.Canceled())
}

// S6: Done while a body is still queued outbound — Multiplex must drain
// the remaining body and flush before terminating.
func TestScenarioGracefulShutdownWithOutstandingWrite(t *testing.T) {
	mx, tr, d := newHarness()
	tr.Push(multiplex.MessageFrame{ID: 2, Head: "req"})
	tick(t, mx, 1)

	sender, body, _ := multiplex.NewBodyStream(4)
	d.Enqueue(multiplex.DispatchItem{ID: 2, Msg: &multiplex.Message{Head: "resp", Body: body}})
	require.NoError(t, sendReady(sender, multiplex.BodyResult{Chunk: []byte("tail")}))
	require.NoError(t, sendReady(sender, multiplex.BodyResult{EOS: true}))

	tr.Push(multiplex.DoneFrame{})
	d.SetExhausted(true)

	done := false
	for i := 0; i < 10 && !done; i++ {
		var err error
		done, err = mx.Tick(context.Background())
		require.NoError(t, err)
	}
	require.True(t, done, "must reach terminal state within a bounded number of ticks")

	written := tr.Written()
	require.Contains(t, written, multiplex.BodyFrame{ID: 2, Chunk: []byte("tail")})
	require.Contains(t, written, multiplex.BodyFrame{ID: 2, EOS: true})
}

// P5: Run returns once Done, dispatch exhaustion, and drained bodies all
// hold, and leaves no goroutines behind.
func TestTerminationLeavesNoGoroutines(t *testing.T) {
	defer leaktest.Check(t)()

	mx, tr, d := newHarness()
	tr.Push(multiplex.DoneFrame{})
	d.SetExhausted(true)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, mx.Run(ctx))
}

// P6: an error frame for one id never disturbs an unrelated exchange.
func TestErrorConfinement(t *testing.T) {
	mx, tr, d := newHarness()
	tr.Push(
		multiplex.MessageFrame{ID: 1, Head: "keep-me"},
		multiplex.ErrorFrame{ID: 99, Err: errors.New("unrelated")},
	)
	tick(t, mx, 1)

	received := d.Received()
	require.Len(t, received, 1)
	require.Equal(t, multiplex.RequestID(1), received[0].ID)

	d.Enqueue(multiplex.DispatchItem{ID: 1, Msg: &multiplex.Message{Head: "resp"}})
	tick(t, mx, 1)
	require.Contains(t, tr.Written(), multiplex.MessageFrame{ID: 1, Head: "resp"})
}

func TestCloseIsIdempotentAndSafeBeforeRun(t *testing.T) {
	mx, tr, d := newHarness()
	d.SetExhausted(true)
	mx.Close()
	mx.Close() // must not panic

	tick(t, mx, 1)
	_ = tr
}

// sendReady is a test helper: PollReady then Send, failing the surrounding
// test via a returned error if the sender wasn't actually ready (a harness
// bug, not something under test).
func sendReady(s *multiplex.BodySender, item multiplex.BodyResult) error {
	ready, err := s.PollReady()
	if err != nil {
		return err
	}
	if !ready {
		return errors.New("testhelper: sender unexpectedly not ready")
	}
	return s.Send(item)
}
