package muxado

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeartbeatRoundTrip(t *testing.T) {
	t.Parallel()

	local, remote := newFakeConnPair()

	clientConf := NewHeartbeatConfig()
	clientConf.Interval = time.Hour // only drive beats on-demand in this test
	clientConf.Tolerance = time.Second

	client := NewHeartbeat(NewTypedStreamSession(Client(local, new(Config))), func(time.Duration) {}, clientConf)
	server := NewHeartbeat(NewTypedStreamSession(Server(remote, new(Config))), func(time.Duration) {}, NewHeartbeatConfig())
	defer client.Close()
	defer server.Close()

	go func() {
		for {
			_, err := server.AcceptTypedStream()
			if err != nil {
				return
			}
		}
	}()

	client.Start()

	latency, err := client.Beat()
	require.NoError(t, err)
	assert.True(t, latency >= 0)
}

func TestBeatReturnsNotConnectedAfterClose(t *testing.T) {
	t.Parallel()

	local, remote := newFakeConnPair()
	remote.Discard()

	client := NewHeartbeat(NewTypedStreamSession(Client(local, new(Config))), func(time.Duration) {}, NewHeartbeatConfig())

	client.Start()
	require.NoError(t, client.Close())

	_, err := client.Beat()
	assert.Equal(t, notConnected, err)
}

func TestMissedHeartbeatFiresRepeatedly(t *testing.T) {
	t.Parallel()

	local, remote := newFakeConnPair()
	remote.Discard() // no peer ever echoes back, so every beat times out

	conf := NewHeartbeatConfig()
	conf.Interval = 5 * time.Millisecond
	conf.Tolerance = 5 * time.Millisecond

	misses := make(chan time.Duration, 8)
	client := NewHeartbeat(NewTypedStreamSession(Client(local, new(Config))), func(d time.Duration) {
		misses <- d
	}, conf)
	defer client.Close()

	client.Start()

	for i := 0; i < 2; i++ {
		select {
		case d := <-misses:
			assert.Equal(t, time.Duration(0), d)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for missed-heartbeat callback #%d", i+1)
		}
	}
}

func TestOpenTypedStreamRejectsReservedHeartbeatType(t *testing.T) {
	t.Parallel()

	local, remote := newFakeConnPair()
	remote.Discard()

	conf := NewHeartbeatConfig()
	hb := NewHeartbeat(NewTypedStreamSession(Client(local, new(Config))), func(time.Duration) {}, conf)
	defer hb.Close()

	_, err := hb.OpenTypedStream(conf.Type)
	require.Error(t, err)
	code, _ := GetError(err)
	assert.Equal(t, ProtocolError, code)
}
