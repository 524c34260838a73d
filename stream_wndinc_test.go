package muxado

import (
	"io"
	"io/ioutil"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngrok/muxado/frame"
)

// TestReadCoalescesWindowUpdates verifies that Read doesn't emit a WND_INC
// for every call, only once accumulated drained bytes cross half the window.
func TestReadCoalescesWindowUpdates(t *testing.T) {
	t.Parallel()

	local, remote := newFakeConnPair()
	s := Client(local, &Config{NewFramer: debugFramer("CLIENT"), MaxWindowSize: 100})
	defer s.Close()

	fr := debugFramer("SERVER")(remote, remote)

	done := make(chan struct{})
	go func() {
		defer close(done)

		// read the syn+data frame opening the stream
		f, err := fr.ReadFrame()
		require.NoError(t, err)
		data, ok := f.(*frame.Data)
		require.True(t, ok)
		_, err = io.CopyN(ioutil.Discard, data.Reader(), int64(data.Length()))
		require.NoError(t, err)

		// a single read of 40 bytes (< half of 100) should not trigger a grant;
		// read again to push total drained past 50 and expect exactly one WND_INC
		next, err := fr.ReadFrame()
		require.NoError(t, err)
		wndinc, ok := next.(*frame.WndInc)
		require.True(t, ok, "expected WND_INC frame, got %T", next)
		assert.True(t, wndinc.WindowIncrement() >= 50)
	}()

	str, err := s.OpenStream()
	require.NoError(t, err)

	_, err = str.Write(make([]byte, 90))
	require.NoError(t, err)

	// the peer sends 90 bytes on the same stream for the reads below to drain
	in := new(frame.Data)
	require.NoError(t, in.Pack(frame.StreamId(str.Id()), make([]byte, 90), false, false))
	require.NoError(t, frame.NewFramer(remote, remote).WriteFrame(in))

	buf := make([]byte, 40)
	n, err := str.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 40, n)

	n, err = str.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 40, n)

	<-done
}
