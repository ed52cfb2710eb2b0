package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrCallRejected is returned when the calls endpoint answers with a
	// non-2xx status. The concrete error is *CallRejectedError.
	ErrCallRejected = errors.New("call rejected")

	// ErrDecode marks an inbound data channel message that could not be
	// decoded. It is never fatal to a call.
	ErrDecode = errors.New("decode error")

	// ErrTransportLost is returned when the peer connection fails or
	// disconnects before the call finished.
	ErrTransportLost = errors.New("transport lost")

	// ErrRemote is returned when the far end sends an error event. The
	// concrete error is *RemoteError.
	ErrRemote = errors.New("remote error")

	// ErrTimeout is returned when the response did not complete within the
	// configured call timeout.
	ErrTimeout = errors.New("timed out waiting for response")

	ErrChannelNotOpen = errors.New("data channel not open")
	ErrCallClosed     = errors.New("call closed")
)

type CallRejectedError struct {
	StatusCode int
	Body       string
}

func (e *CallRejectedError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("call rejected: status %d", e.StatusCode)
	}
	return fmt.Sprintf("call rejected: status %d: %s", e.StatusCode, e.Body)
}

func (e *CallRejectedError) Unwrap() error { return ErrCallRejected }

// RemoteError is an error event sent by the far end. Raw is the error
// payload as received.
type RemoteError struct {
	Message string
	Code    string
	Type    string
	Raw     json.RawMessage
}

func (e *RemoteError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("remote error (%s): %s", e.Code, e.Message)
	}
	return "remote error: " + e.Message
}

func (e *RemoteError) Unwrap() error { return ErrRemote }
