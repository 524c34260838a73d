package muxado

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestAcceptTypedStreamDropsUntaggedStream verifies that a stream closed
// before its type tag is fully written is silently dropped rather than
// surfaced as an error to the caller, and that a well-formed stream opened
// afterward is still delivered.
func TestAcceptTypedStreamDropsUntaggedStream(t *testing.T) {
	t.Parallel()

	local, remote := newFakeConnPair()

	server := NewTypedStreamSession(Server(local, new(Config)))
	client := NewTypedStreamSession(Client(remote, new(Config)))
	defer server.Close()
	defer client.Close()

	// open a stream and close it immediately without ever writing a type tag
	bad, err := client.OpenStream()
	require.NoError(t, err)
	require.NoError(t, bad.Close())

	// open a well-formed typed stream
	good, err := client.OpenTypedStream(StreamType(7))
	require.NoError(t, err)
	defer good.Close()

	accepted := make(chan TypedStream, 1)
	go func() {
		str, err := server.AcceptTypedStream()
		if err != nil {
			return
		}
		accepted <- str
	}()

	select {
	case str := <-accepted:
		assert.Equal(t, StreamType(7), str.StreamType())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the well-formed typed stream to be accepted")
	}
}
