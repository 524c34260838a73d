package muxado

import (
	"context"
	"encoding/binary"
	"io"
	"net"

	"github.com/ngrok/muxado/log"
)

var order = binary.BigEndian

type StreamType uint32

type TypedStream interface {
	Stream
	StreamType() StreamType
}

type TypedStreamSession interface {
	Session
	OpenTypedStream(stype StreamType) (Stream, error)
	AcceptTypedStream() (TypedStream, error)
}

func NewTypedStreamSession(s Session) TypedStreamSession {
	return &typedStreamSession{s}
}

type typedStreamSession struct {
	Session
}

func (s *typedStreamSession) Accept() (net.Conn, error) {
	return s.AcceptStream()
}

func (s *typedStreamSession) AcceptStream() (Stream, error) {
	return s.AcceptTypedStream()
}

// AcceptTypedStream accepts the next stream and reads its 4-byte type tag. A
// peer that opens a stream and then closes it (or writes fewer than 4 bytes)
// before identifying its type is treated as a bad peer: the stream is
// dropped silently and we move on to the next one, rather than surfacing the
// short read to the caller.
func (s *typedStreamSession) AcceptTypedStream() (TypedStream, error) {
	for {
		str, err := s.Session.AcceptStream()
		if err != nil {
			return nil, err
		}
		var stype [4]byte
		if _, err := io.ReadFull(str, stype[:]); err != nil {
			str.Close()
			loggerFor(s.Session).Log(context.Background(), log.LogLevelDebug, "dropping stream with truncated type tag", map[string]interface{}{
				"stream_id": str.Id(),
				"error":     err.Error(),
			})
			continue
		}
		return &typedStream{str, StreamType(order.Uint32(stype[:]))}, nil
	}
}

func (s *typedStreamSession) OpenTypedStream(st StreamType) (Stream, error) {
	str, err := s.Session.OpenStream()
	if err != nil {
		return nil, err
	}
	var stype [4]byte
	order.PutUint32(stype[:], uint32(st))
	_, err = str.Write(stype[:])
	if err != nil {
		return nil, err
	}
	return &typedStream{str, st}, nil
}

type typedStream struct {
	Stream
	streamType StreamType
}

func (s *typedStream) StreamType() StreamType {
	return s.streamType
}

// loggerFor finds the Logger a session was configured with, if it exposes
// one, falling back to a logger that discards everything.
func loggerFor(s Session) log.Logger {
	if ls, ok := s.(interface{ logger() log.Logger }); ok {
		return ls.logger()
	}
	return log.Discard
}
