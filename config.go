package muxado

import (
	"io"
	"sync"

	"github.com/ngrok/muxado/frame"
	"github.com/ngrok/muxado/log"
)

var zeroConfig Config

func init() {
	zeroConfig.initDefaults()
}

type Config struct {
	// Maximum size of unread data to receive and buffer (per-stream). Default 256KB.
	MaxWindowSize uint32
	// Maximum number of inbound streams to queue for Accept(). Default 64.
	AcceptBacklog uint32
	// Maximum number of concurrently-open streams this session will allow,
	// enforced on both the local open path (STREAMS_EXHAUSTED) and the
	// remote accept path (REFUSED_STREAM). Default 512.
	StreamLimit uint32
	// Function creating the Session's framer. Default frame.NewFramer()
	NewFramer func(io.Reader, io.Writer) frame.Framer
	// Logger receives debug/error events from the session, its streams, and
	// its heartbeater. Defaults to a logger that discards everything.
	Logger log.Logger

	// allow safe concurrent initialization
	initOnce sync.Once

	// Function to create new streams
	newStream streamFactory

	// Size of writeFrames channel
	writeFrameQueueDepth int
}

func (c *Config) initDefaults() {
	c.initOnce.Do(func() {
		if c.MaxWindowSize == 0 {
			c.MaxWindowSize = 0x40000 // 256KB
		}
		if c.AcceptBacklog == 0 {
			c.AcceptBacklog = 64
		}
		if c.StreamLimit == 0 {
			c.StreamLimit = 512
		}
		if c.NewFramer == nil {
			c.NewFramer = frame.NewFramer
		}
		if c.Logger == nil {
			c.Logger = log.Discard
		}
		if c.newStream == nil {
			c.newStream = newStream
		}
		if c.writeFrameQueueDepth == 0 {
			c.writeFrameQueueDepth = 64
		}
	})
}
