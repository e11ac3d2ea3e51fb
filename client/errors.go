package client

import (
	"errors"
	"fmt"
)

var (
	ErrConnectTimeout     = errors.New("Connection timed out")
	ErrConnectionRefused  = errors.New("Connection refused")
	ErrIO                 = errors.New("Error while reading or writing bytes to the server")
	ErrProtocolDesync     = errors.New("Protocol desynchronised, replies can no longer be matched to commands")
	ErrUnexpectedFrame    = errors.New("Received a frame that does not match the active context")
	ErrTransactionAborted = errors.New("Transaction aborted by the server")
	ErrStreamingCommand   = errors.New("Streaming commands cannot be used as a single request")
	ErrUnsupportedScheme  = errors.New("Unsupported connection scheme")
	ErrDisconnected       = errors.New("Disconnected before a reply was received")
)

// ConnectionError is the error handed to the error callback when a
// connection is dropped. Kind is one of the ErrConnectTimeout,
// ErrConnectionRefused, ErrIO, ErrProtocolDesync or ErrUnexpectedFrame
// sentinels and can be checked with errors.Is.
type ConnectionError struct {
	Addr string
	Kind error
	Err  error
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s [%s]", e.Kind, e.Addr)
	}

	return fmt.Sprintf("%s [%s]: %v", e.Kind, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

func (e *ConnectionError) Is(target error) bool {
	return target == e.Kind
}

// UsageError is the panic value used when the client is misused, e.g. a
// streaming command is executed without a callback.
type UsageError struct {
	Op  string
	Msg string
}

func (e *UsageError) Error() string {
	return fmt.Sprintf("beacon: %s: %s", e.Op, e.Msg)
}

func usage(op string, format string, args ...interface{}) *UsageError {
	return &UsageError{Op: op, Msg: fmt.Sprintf(format, args...)}
}

// kindOf classifies an error returned by a reply callback.
func kindOf(err error) error {
	if errors.Is(err, ErrUnexpectedFrame) {
		return ErrUnexpectedFrame
	}

	return ErrProtocolDesync
}

func kindLabel(kind error) string {
	switch kind {
	case ErrConnectTimeout:
		return "connect_timeout"
	case ErrConnectionRefused:
		return "connection_refused"
	case ErrIO:
		return "io"
	case ErrProtocolDesync:
		return "protocol_desync"
	case ErrUnexpectedFrame:
		return "unexpected_frame"
	default:
		return "unknown"
	}
}
