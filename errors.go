package muxado

import (
	"errors"

	"github.com/ngrok/muxado/frame"
)

// ErrorCode is a 32-bit integer indicating the type of an error condition.
// Values 0x00-0x0B are carried on the wire in RST and GOAWAY frames; the
// remaining codes never leave this process.
type ErrorCode uint32

const (
	NoError          ErrorCode = 0x00
	ProtocolError    ErrorCode = 0x01
	InternalError    ErrorCode = 0x02
	FlowControlError ErrorCode = 0x03
	StreamClosed     ErrorCode = 0x04
	FrameSizeError   ErrorCode = 0x05
	StreamRefused    ErrorCode = 0x06
	Cancel           ErrorCode = 0x07
	EnhanceYourCalm  ErrorCode = 0x08
	RemoteGoneAway   ErrorCode = 0x09
	StreamsExhausted ErrorCode = 0x0A
	SessionClosed    ErrorCode = 0x0B

	// The codes below never appear on the wire; they're local bookkeeping.
	WriteTimeout ErrorCode = 0x41
	PeerEOF      ErrorCode = 0x42

	// NotConnected is returned by Heartbeat.Beat() when the requester
	// goroutine has already exited, as distinct from a beat that timed out.
	NotConnected ErrorCode = 0x43

	ErrorUnknown ErrorCode = 0xFF
)

var (
	remoteGoneAway      = newErr(RemoteGoneAway, errors.New("remote gone away"))
	streamsExhausted    = newErr(StreamsExhausted, errors.New("streams exhausted"))
	streamClosed        = newErr(StreamClosed, errors.New("stream closed"))
	writeTimeout        = newErr(WriteTimeout, errors.New("write timed out"))
	flowControlViolated = newErr(FlowControlError, errors.New("flow control violated"))
	sessionClosed       = newErr(SessionClosed, errors.New("session closed"))
	eofPeer             = newErr(PeerEOF, errors.New("read EOF from remote peer"))
	notConnected        = newErr(NotConnected, errors.New("heartbeat requester is not connected"))
)

func fromFrameError(err error) error {
	if e, ok := err.(*frame.Error); ok {
		switch e.Type() {
		case frame.ErrorFrameSize:
			return &muxadoError{FrameSizeError, err}
		case frame.ErrorProtocol, frame.ErrorProtocolStream:
			return &muxadoError{ProtocolError, err}
		}
	}
	return err
}

type muxadoError struct {
	ErrorCode
	error
}

func (e *muxadoError) Error() string {
	if e.error != nil {
		return e.error.Error()
	}
	return "<nil>"
}

func newErr(code ErrorCode, err error) error {
	return &muxadoError{code, err}
}

func GetError(err error) (ErrorCode, error) {
	if err == nil {
		return NoError, nil
	}
	if e, ok := err.(*muxadoError); ok {
		return e.ErrorCode, e.error
	}
	return ErrorUnknown, err
}
