package mtcl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleSendReceiveRoundTrip(t *testing.T) {
	a, b := newTestHandlePair()
	require.NoError(t, a.Send([]byte("ping")))

	buf := make([]byte, 64)
	n, err := b.Receive(buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf[:n]))
}

func TestHandleProbeCachesUntilReceive(t *testing.T) {
	a, b := newTestHandlePair()
	require.NoError(t, a.Send([]byte("hello")))

	size, err := b.Probe(true)
	require.NoError(t, err)
	assert.Equal(t, 5, size)

	// A second probe before Receive must return the same cached size
	// without consuming anything from the backend.
	size, err = b.Probe(true)
	require.NoError(t, err)
	assert.Equal(t, 5, size)

	buf := make([]byte, 5)
	n, err := b.Receive(buf)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestHandleReceiveMessageTooLargeKeepsFrame(t *testing.T) {
	a, b := newTestHandlePair()
	require.NoError(t, a.Send([]byte("0123456789")))

	small := make([]byte, 4)
	_, err := b.Receive(small)
	require.Error(t, err)
	assert.Equal(t, KindMessageTooLarge, Kind(err))

	big := make([]byte, 32)
	n, err := b.Receive(big)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(big[:n]))
}

func TestHandleCloseSignalsEndOfStream(t *testing.T) {
	a, b := newTestHandlePair()
	a.Close(true, false)

	buf := make([]byte, 16)
	n, err := b.Receive(buf)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// Once closedRd is latched, further receives are a no-op 0, nil.
	n, err = b.Receive(buf)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestHandleSendAfterCloseFails(t *testing.T) {
	a, _ := newTestHandlePair()
	a.Close(true, false)
	err := a.Send([]byte("too late"))
	require.Error(t, err)
	assert.Equal(t, KindInvalidState, Kind(err))
}

func TestHandleRequiresAppOwnership(t *testing.T) {
	a, _ := newPipePair()
	h := newHandle("PIPE", a, ownerRuntime, true)
	_, err := h.Receive(make([]byte, 8))
	require.Error(t, err)
	assert.Equal(t, KindInvalidState, Kind(err))
}

func TestHandleYieldReturnsOwnershipToRuntime(t *testing.T) {
	a, _ := newTestHandlePair()
	assert.True(t, a.IsValid())
	a.Yield(nil)
	_, err := a.Receive(make([]byte, 8))
	require.Error(t, err)
	assert.Equal(t, KindInvalidState, Kind(err))
}
