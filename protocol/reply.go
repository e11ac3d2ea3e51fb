package protocol

import (
	"strconv"
)

type Kind uint8

const (
	KindStatus Kind = iota + 1
	KindQueued
	KindError
	KindInteger
	KindBulk
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindStatus:
		return "status"
	case KindQueued:
		return "queued"
	case KindError:
		return "error"
	case KindInteger:
		return "integer"
	case KindBulk:
		return "bulk"
	case KindArray:
		return "array"
	default:
		return "unknown(" + strconv.Itoa(int(k)) + ")"
	}
}

// Reply is a single value decoded from the server.
//
// The set of implementations is closed: Status, Queued, ErrorReply, Integer,
// Bulk and Array. Consumers are expected to type switch over all of them.
type Reply interface {
	Kind() Kind
}

// Status is a simple string reply (`+OK\r\n`).
type Status string

// Queued is the `+QUEUED\r\n` status that acknowledges a command sent
// inside of MULTI. It is kept apart from Status so transactions can tell
// it from every other status.
type Queued struct{}

// ErrorReply is an error returned by the server (`-ERR ...\r\n`). It's a
// value, not a connection fault.
type ErrorReply string

type Integer int64

// Bulk is a binary safe string. A nil Bulk is the nil bulk string (`$-1`),
// which is different from an empty one (`$0`).
type Bulk []byte

// Array is a multi bulk reply. A nil Array is the nil array (`*-1`).
type Array []Reply

func (Status) Kind() Kind     { return KindStatus }
func (Queued) Kind() Kind     { return KindQueued }
func (ErrorReply) Kind() Kind { return KindError }
func (Integer) Kind() Kind    { return KindInteger }
func (Bulk) Kind() Kind       { return KindBulk }
func (Array) Kind() Kind      { return KindArray }

func (e ErrorReply) Error() string {
	return string(e)
}

func (b Bulk) IsNil() bool {
	return b == nil
}

func (a Array) IsNil() bool {
	return a == nil
}

func (s Status) String() string {
	return string(s)
}

var (
	_ Reply = Status("")
	_ Reply = Queued{}
	_ Reply = ErrorReply("")
	_ Reply = Integer(0)
	_ Reply = Bulk(nil)
	_ Reply = Array(nil)

	_ error = ErrorReply("")
)
