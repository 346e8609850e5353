package multiplex

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBodySenderReadyCreditedOncePerSend(t *testing.T) {
	sender, body, _ := NewBodyStream(1)

	ready, err := sender.PollReady()
	require.NoError(t, err)
	require.True(t, ready)

	require.NoError(t, sender.Send(BodyResult{Chunk: []byte("a")}))

	ready, err = sender.PollReady()
	require.NoError(t, err)
	require.False(t, ready, "channel is at capacity until the consumer drains it")

	require.ErrorIs(t, sender.Send(BodyResult{Chunk: []byte("b")}), ErrSendWithoutCredit)

	got := <-body
	require.Equal(t, []byte("a"), got.Chunk)
}

func TestBodySenderReportsDroppedReceiver(t *testing.T) {
	sender, _, cancel := NewBodyStream(1)
	cancel()

	ready, err := sender.PollReady()
	require.ErrorIs(t, err, ErrBodyReceiverDropped)
	require.False(t, ready)

	require.ErrorIs(t, sender.Send(BodyResult{EOS: true}), ErrBodyReceiverDropped)
}

func TestBodySenderCancelIsIdempotent(t *testing.T) {
	_, _, cancel := NewBodyStream(1)
	cancel()
	cancel() // must not panic
}

func TestMessageHasBodyNilSafe(t *testing.T) {
	var m *Message
	require.False(t, m.HasBody())

	m = &Message{}
	require.False(t, m.HasBody())

	_, body, _ := NewBodyStream(1)
	m.Body = body
	require.True(t, m.HasBody())
}
