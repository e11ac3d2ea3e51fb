package protocol

import (
	"io"
	"strconv"
)

var (
	Terminal = []byte("\r\n")
)

// AppendCommand appends the multi bulk encoding of cmd to dst:
//
//   *<argc>\r\n$<len>\r\n<name>\r\n$<len>\r\n<arg>\r\n...
//
// Arguments are copied as raw bytes so they may contain anything,
// including CRLF.
func AppendCommand(dst []byte, cmd Command) []byte {
	dst = appendPrefixed(dst, '*', int64(len(cmd.Args)+1))
	dst = appendBulk(dst, []byte(cmd.Name))

	for _, arg := range cmd.Args {
		dst = appendBulk(dst, arg)
	}

	return dst
}

func WriteCommand(w io.Writer, cmd Command) error {
	_, err := w.Write(AppendCommand(nil, cmd))
	return err
}

// AppendReply appends the wire encoding of a reply. The client never sends
// replies, but the stub servers used in tests do.
func AppendReply(dst []byte, r Reply) []byte {
	switch v := r.(type) {
	case Status:
		dst = append(dst, '+')
		dst = append(dst, v...)
		return append(dst, Terminal...)

	case Queued:
		return append(dst, "+QUEUED\r\n"...)

	case ErrorReply:
		dst = append(dst, '-')
		dst = append(dst, v...)
		return append(dst, Terminal...)

	case Integer:
		return appendPrefixed(dst, ':', int64(v))

	case Bulk:
		if v == nil {
			return append(dst, "$-1\r\n"...)
		}
		return appendBulk(dst, v)

	case Array:
		if v == nil {
			return append(dst, "*-1\r\n"...)
		}

		dst = appendPrefixed(dst, '*', int64(len(v)))
		for _, elem := range v {
			dst = AppendReply(dst, elem)
		}
		return dst

	default:
		panic("protocol: unknown reply type")
	}
}

func WriteReply(w io.Writer, r Reply) error {
	_, err := w.Write(AppendReply(nil, r))
	return err
}

func appendPrefixed(dst []byte, prefix byte, n int64) []byte {
	dst = append(dst, prefix)
	dst = strconv.AppendInt(dst, n, 10)
	return append(dst, Terminal...)
}

func appendBulk(dst []byte, b []byte) []byte {
	dst = appendPrefixed(dst, '$', int64(len(b)))
	dst = append(dst, b...)
	return append(dst, Terminal...)
}
