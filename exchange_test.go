package multiplex

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-multiplex/multiplex/internal/framebuf"
)

func TestExchangeBufferedHeadTakenOnce(t *testing.T) {
	msg := &Message{Head: "req"}
	ex := newOutboundExchange(3, msg)

	require.False(t, ex.isDispatched())
	require.False(t, ex.isComplete(), "a buffered head is still an obligation")

	got := ex.takeBufferedRequest()
	require.Same(t, msg, got)
	require.Nil(t, ex.takeBufferedRequest(), "second take must yield nothing")
	require.True(t, ex.isDispatched())
}

func TestExchangeIsCompleteReflectsAllObligations(t *testing.T) {
	ex := newInboundExchange(1)
	require.False(t, ex.isComplete(), "not yet responded")

	ex.responded = true
	require.True(t, ex.isComplete())

	sender, _, _ := NewBodyStream(1)
	ex.installOutSender(sender)
	require.False(t, ex.isComplete(), "outSender still open")

	ex.dropOutSender()
	require.True(t, ex.isComplete())
}

// P1: chunks sent while the sender reports NotReady are replayed through
// outSender in the same order once flushOutBody runs, with no reordering
// relative to the order sendOutChunk saw them.
func TestExchangeOutBodyPreservesOrderAcrossBackpressure(t *testing.T) {
	arena := framebuf.NewArena(8)
	sender, body, _ := NewBodyStream(1)
	ex := newOutboundExchange(5, nil)
	ex.installOutSender(sender)
	require.True(t, ex.outReady)

	// fill the channel so the next sendOutChunk must buffer, then keep
	// feeding chunks while still backpressured.
	ex.sendOutChunk(arena, BodyResult{Chunk: []byte("1")})
	ex.sendOutChunk(arena, BodyResult{Chunk: []byte("2")})
	ex.sendOutChunk(arena, BodyResult{Chunk: []byte("3")})
	require.False(t, ex.outReady)
	require.Equal(t, 2, ex.outBacklog.Len())

	// Mimic one tick per drained credit: the channel only ever holds one
	// item at a time (capacity 1), so each read must be followed by a
	// flush before the next chunk becomes available — and the chunks must
	// arrive in the order sendOutChunk originally saw them.
	require.Equal(t, []byte("1"), (<-body).Chunk)
	ex.flushOutBody()
	require.Equal(t, []byte("2"), (<-body).Chunk)
	ex.flushOutBody()
	require.Equal(t, []byte("3"), (<-body).Chunk)
}

func TestExchangeOutSenderDroppedOnTerminalItem(t *testing.T) {
	arena := framebuf.NewArena(8)
	sender, body, _ := NewBodyStream(4)
	ex := newOutboundExchange(6, nil)
	ex.installOutSender(sender)

	ex.sendOutChunk(arena, BodyResult{EOS: true})
	require.Nil(t, ex.outSender, "sender must be dropped once a terminal item is forwarded")

	got := <-body
	require.True(t, got.EOS)
}

func TestExchangeTryPollInBodyNonBlocking(t *testing.T) {
	ex := newInboundExchange(2)
	_, ready := ex.tryPollInBody()
	require.False(t, ready, "no inBody installed yet")

	ch := make(chan BodyResult, 1)
	ex.inBody = ch

	_, ready = ex.tryPollInBody()
	require.False(t, ready, "channel empty")

	ch <- BodyResult{Chunk: []byte("x")}
	item, ready := ex.tryPollInBody()
	require.True(t, ready)
	require.Equal(t, []byte("x"), item.Chunk)
	require.NotNil(t, ex.inBody, "non-terminal item must leave inBody open")

	ch <- BodyResult{EOS: true}
	item, ready = ex.tryPollInBody()
	require.True(t, ready)
	require.True(t, item.EOS)
	require.Nil(t, ex.inBody, "terminal item clears inBody")
}
