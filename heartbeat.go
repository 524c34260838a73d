package muxado

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jpillora/backoff"

	"github.com/ngrok/muxado/log"
)

const (
	defaultHeartbeatInterval             = 10 * time.Second
	defaultHeartbeatTolerance            = 15 * time.Second
	defaultStreamType         StreamType = 0xFFFFFFFF
)

type HeartbeatSession interface {
	TypedStreamSession
	// Beat sends an on-demand heartbeat and returns its round-trip latency.
	// It returns NotConnected if the heartbeat requester has already exited
	// (e.g. the session is dead), and a latency of 0 if the peer didn't
	// answer within the configured tolerance.
	Beat() (time.Duration, error)
	Start()
	SetInterval(d time.Duration)
	SetTolerance(d time.Duration)
}

type HeartbeatConfig struct {
	Interval  time.Duration
	Tolerance time.Duration
	Type      StreamType
	// Logger receives debug events about heartbeat stream setup. Defaults
	// to a logger that discards everything.
	Logger log.Logger
}

func NewHeartbeatConfig() *HeartbeatConfig {
	return &HeartbeatConfig{
		Interval:  defaultHeartbeatInterval,
		Tolerance: defaultHeartbeatTolerance,
		Type:      defaultStreamType,
		Logger:    log.Discard,
	}
}

type Heartbeat struct {
	// atomically accessed, must be first in structure for ARM/x86 alignment
	interval  int64
	tolerance int64

	TypedStreamSession
	config    HeartbeatConfig
	closed    chan int // legacy single-shot close signal, consumed by check()
	closeOnce sync.Once
	done      chan struct{} // closed once, broadcasts shutdown to every goroutine
	cb        func(time.Duration)

	// requesterDone is set to 1 once the requester goroutine has exited for
	// good (it never restarts), so Beat() can tell "died" apart from "slow".
	requesterDone uint32

	onDemand chan chan time.Duration
}

func NewHeartbeat(sess TypedStreamSession, cb func(time.Duration), config *HeartbeatConfig) *Heartbeat {
	if config == nil {
		config = NewHeartbeatConfig()
	}
	if config.Logger == nil {
		config.Logger = log.Discard
	}
	return &Heartbeat{
		TypedStreamSession: sess,
		config:             *config,
		closed:             make(chan int, 1),
		done:               make(chan struct{}),
		cb:                 cb,
		interval:           int64(config.Interval),
		tolerance:          int64(config.Tolerance),

		onDemand: make(chan chan time.Duration),
	}
}

func (h *Heartbeat) Accept() (net.Conn, error) {
	return h.AcceptTypedStream()
}

// Beat sends an on-demand heartbeat and blocks for the response.
func (h *Heartbeat) Beat() (time.Duration, error) {
	if atomic.LoadUint32(&h.requesterDone) == 1 {
		return 0, notConnected
	}
	timeout := time.After(time.Duration(atomic.LoadInt64(&h.tolerance)))
	respChan := make(chan time.Duration, 1)
	select {
	case <-timeout:
		return 0, nil
	case h.onDemand <- respChan:
	case <-h.done:
		return 0, notConnected
	}
	select {
	case <-timeout:
		return 0, nil
	case latency := <-respChan:
		return latency, nil
	case <-h.done:
		return 0, notConnected
	}
}

func (h *Heartbeat) AcceptStream() (Stream, error) {
	return h.TypedStreamSession.AcceptTypedStream()
}

// OpenTypedStream refuses to let a caller open a stream using the reserved
// heartbeat stream type; that type is only ever used internally.
func (h *Heartbeat) OpenTypedStream(st StreamType) (Stream, error) {
	if st == h.config.Type {
		return nil, newErr(ProtocolError, fmt.Errorf("stream type %#x is reserved for heartbeats", uint32(st)))
	}
	return h.TypedStreamSession.OpenTypedStream(st)
}

func (h *Heartbeat) SetInterval(d time.Duration) {
	atomic.StoreInt64(&h.interval, int64(d))
}

func (h *Heartbeat) SetTolerance(d time.Duration) {
	atomic.StoreInt64(&h.tolerance, int64(d))
}

func (h *Heartbeat) Close() error {
	select {
	case h.closed <- 1:
	default:
	}
	h.closeOnce.Do(func() { close(h.done) })
	return h.TypedStreamSession.Close()
}

func (h *Heartbeat) AcceptTypedStream() (TypedStream, error) {
	for {
		str, err := h.TypedStreamSession.AcceptTypedStream()
		if err != nil {
			return nil, err
		}
		if str.StreamType() != h.config.Type {
			return str, nil
		}
		go h.responder(str)
	}
}

func (h *Heartbeat) Start() {
	mark := make(chan time.Duration)
	go h.requester(mark)
	go h.check(mark)
}

func (h *Heartbeat) check(mark chan time.Duration) {
	interval, tolerance := h.getDurations()
	t := time.NewTimer(interval + tolerance)
	for {
		select {
		case <-t.C:
			// timed out waiting for a response! Keep firing this callback
			// on every subsequent missed beat rather than just once: reset
			// the deadline so the monitor keeps notifying until the
			// transport itself fails or the caller tears the session down.
			h.cb(0)
			interval, tolerance = h.getDurations()
			t.Reset(interval + tolerance)

		case dur := <-mark:
			h.cb(dur)
			interval, tolerance := h.getDurations()

			// this is the only way to safely reset a go timer
			if !t.Stop() {
				<-t.C
			}
			t.Reset(interval + tolerance)

		case <-h.closed:
			return
		}
	}
}

func (h *Heartbeat) getDurations() (time.Duration, time.Duration) {
	return time.Duration(atomic.LoadInt64(&h.interval)), time.Duration(atomic.LoadInt64(&h.tolerance))
}

// openHeartbeatStream opens the dedicated heartbeat stream, retrying with
// backoff since the peer may still be finishing its handshake when the
// requester starts. It gives up once the session is closed.
func (h *Heartbeat) openHeartbeatStream() (Stream, error) {
	b := &backoff.Backoff{
		Min:    50 * time.Millisecond,
		Max:    5 * time.Second,
		Factor: 2,
		Jitter: true,
	}
	for {
		stream, err := h.TypedStreamSession.OpenTypedStream(h.config.Type)
		if err == nil {
			return stream, nil
		}
		wait := b.Duration()
		h.config.Logger.Log(context.Background(), log.LogLevelDebug, "heartbeat stream open failed, retrying", map[string]interface{}{
			"error": err.Error(),
			"wait":  wait.String(),
		})
		select {
		case <-time.After(wait):
		case <-h.done:
			return nil, notConnected
		}
	}
}

func (h *Heartbeat) requester(mark chan time.Duration) {
	defer atomic.StoreUint32(&h.requesterDone, 1)

	// make random number generator
	r := rand.New(rand.NewSource(time.Now().Unix()))

	// open a new stream for the heartbeat, retrying transient failures
	stream, err := h.openHeartbeatStream()
	if err != nil {
		return
	}
	defer stream.Close()

	interval, _ := h.getDurations()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// send heartbeats and then check that we got them back
	for {
		var respChan chan time.Duration
		select {
		case respChan = <-h.onDemand:
		case <-ticker.C:
		case <-h.done:
			return
		}

		start := time.Now()
		// assign a new random value to echo
		id := uint32(r.Int31())
		if err := binary.Write(stream, binary.BigEndian, id); err != nil {
			return
		}
		var respId uint32
		if err := binary.Read(stream, binary.BigEndian, &respId); err != nil {
			return
		}
		if id != respId {
			return
		}

		latency := time.Since(start)

		// record the time
		if respChan != nil {
			respChan <- latency
		} else {
			mark <- time.Since(start)
		}
	}
}

func (h *Heartbeat) responder(s Stream) {
	// read the next heartbeat id and respond
	buf := make([]byte, 4)
	for {
		_, err := io.ReadFull(s, buf)
		if err != nil {
			return
		}
		_, err = s.Write(buf)
		if err != nil {
			return
		}
	}
}
