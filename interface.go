package muxado

import (
	"net"
	"time"
)

// Stream is a full duplex stream-oriented connection that is multiplexed over
// a Session. Stream implements the net.Conn inteface.
type Stream interface {
	// Write writes the bytes in the given buffer to the stream
	Write([]byte) (int, error)

	// Read reads the next bytes on the stream into the given buffer
	Read([]byte) (int, error)

	// Closes the stream.
	Close() error

	// Half-closes the stream. Calls to Write will fail after this is invoked.
	CloseWrite() error

	// Reset closes the stream abnormally, sending an RST carrying the given
	// error code to the remote side. It latches the error on the stream and
	// marks both halves closed. Calling Reset more than once has no effect
	// beyond the first call.
	Reset(code ErrorCode) error

	// SetDeadline sets a time after which future Read and Write operations will
	// fail.
	//
	// Some implementation may not support this.
	SetDeadline(time.Time) error

	// SetReadDeadline sets a time after which future Read operations will fail.
	//
	// Some implementation may not support this.
	SetReadDeadline(time.Time) error

	// SetWriteDeadline sets a time after which future Write operations will
	// fail.
	//
	// Some implementation may not support this.
	SetWriteDeadline(time.Time) error

	// Id returns the stream's unique identifier.
	Id() uint32

	// Session returns the session object this stream is running on.
	Session() Session

	// RemoteAddr returns the session transport's remote address.
	RemoteAddr() net.Addr

	// LocalAddr returns the session transport's local address.
	LocalAddr() net.Addr
}

// Session multiplexes many Streams over a single underlying stream transport.
// Both sides of a muxado session can open new Streams. Sessions can also accept
// new streams from the remote side.
//
// A muxado Session implements the net.Listener interface, returning new Streams from the remote side.
type Session interface {

	// Open initiates a new stream on the session. It is equivalent to
	// OpenStream()
	Open() (net.Conn, error)

	// OpenStream initiates a new stream on the session.
	OpenStream() (Stream, error)

	// Accept returns the next stream initiated by the remote side
	Accept() (net.Conn, error)

	// AcceptStream returns the next stream initiated by the remote side
	AcceptStream() (Stream, error)

	// Attempts to close the Session cleanly. Closes the underlying stream transport.
	Close() error

	// LocalAddr returns the local address of the transport stream over which the session is running.
	LocalAddr() net.Addr

	// RemoteAddr returns the address of the remote side of the transport stream over which the session is running.
	RemoteAddr() net.Addr

	// Addr returns the session transport's local address
	Addr() net.Addr

	// Wait blocks until the session has shutdown and returns an error
	// explaining the session termination.
	Wait() (error, error, []byte)

	// Split returns two narrowed views of this session: one that can only
	// open streams, and one that can only accept them. Closing either one
	// closes the underlying session, since both remain connected to the
	// same reader/writer tasks.
	Split() (OpenHalf, AcceptHalf)
}

// OpenHalf is the subset of a Session available to a caller that should only
// be able to initiate new streams.
type OpenHalf interface {
	Open() (net.Conn, error)
	OpenStream() (Stream, error)
	Close() error
}

// AcceptHalf is the subset of a Session available to a caller that should
// only be able to receive streams initiated by the remote side.
type AcceptHalf interface {
	Accept() (net.Conn, error)
	AcceptStream() (Stream, error)
	Close() error
}

type openHalf struct {
	Session
}

type acceptHalf struct {
	Session
}
