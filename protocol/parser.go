package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
)

var (
	// ErrNeedMoreData is returned by Reader.Next when the buffered bytes do
	// not hold a complete reply yet.
	ErrNeedMoreData = errors.New("Reply is incomplete, more data is needed")

	ErrProtocol           = errors.New("Protocol error")
	ErrInvalidLength      = errors.New("Reply has an invalid length prefix")
	ErrMissingTerminator  = errors.New("Bulk string is not terminated by CRLF")
	ErrUnknownReplyPrefix = errors.New("Reply starts with an unknown type prefix")

	PrefixStatus  = byte('+')
	PrefixError   = byte('-')
	PrefixInteger = byte(':')
	PrefixBulk    = byte('$')
	PrefixArray   = byte('*')

	queuedStatus = []byte("QUEUED")
)

const (
	// MaxBulkLength is the longest bulk string accepted, the server's own
	// proto-max-bulk-len default.
	MaxBulkLength = 512 * 1024 * 1024

	// MaxArrayLength is the largest element count accepted for an array.
	MaxArrayLength = 1<<31 - 1

	// maxPrealloc caps how many array elements are allocated up front, a
	// length prefix alone should not make us allocate a huge slice.
	maxPrealloc = 1024
)

// Reader incrementally decodes replies from a byte stream.
//
// Bytes are pushed with Feed, as they arrive from the socket, and replies
// are pulled with Next until it returns ErrNeedMoreData. A reply that is
// split over several Feed calls is only returned once all of its bytes are
// buffered, nothing is consumed until then.
//
// Completeness is checked by a scan that resumes where the previous Next
// stopped, so a large array arriving in many chunks is only walked once
// before it's decoded.
type Reader struct {
	buf []byte
	pos int

	// scan is the offset up to which the pending reply has been checked
	scan int

	// remaining element counts of the arrays the scan is inside of
	nesting []int64
}

func NewReader() *Reader {
	return &Reader{}
}

// Feed appends a chunk of bytes. The chunk is copied so the caller may reuse it.
func (r *Reader) Feed(data []byte) {
	if r.pos > 0 {
		// Drop what has already been parsed
		n := copy(r.buf, r.buf[r.pos:])
		r.buf = r.buf[:n]
		r.scan -= r.pos
		r.pos = 0
	}

	r.buf = append(r.buf, data...)
}

// Next returns the next fully buffered reply. It returns ErrNeedMoreData if
// no complete reply is available and an error wrapping ErrProtocol if the
// stream is malformed, after which the Reader should be discarded.
func (r *Reader) Next() (Reply, error) {
	if r.pos >= len(r.buf) {
		return nil, ErrNeedMoreData
	}

	if err := r.scanReply(); err != nil {
		return nil, err
	}

	reply, next, err := parseReply(r.buf, r.pos)
	if err != nil {
		return nil, err
	}

	r.pos = next
	r.scan = next

	if r.pos == len(r.buf) {
		r.buf = r.buf[:0]
		r.pos = 0
		r.scan = 0
	}

	return reply, nil
}

// scanReply advances the scan over every complete frame header and bulk
// payload. It returns nil once a whole reply is buffered from r.pos.
func (r *Reader) scanReply() error {
	for {
		line, next, ok := readLine(r.buf, r.scan)
		if !ok {
			return ErrNeedMoreData
		}

		if len(line) == 0 {
			return fmt.Errorf("%w: empty line", ErrProtocol)
		}

		switch line[0] {
		case PrefixStatus, PrefixError:

		case PrefixInteger:
			if _, err := parseInt(line[1:]); err != nil {
				return err
			}

		case PrefixBulk:
			n, err := parseLength(line[1:], MaxBulkLength)
			if err != nil {
				return err
			}

			if n >= 0 {
				if int64(len(r.buf)-next) < n+2 {
					return ErrNeedMoreData
				}
				next += int(n) + 2
			}

		case PrefixArray:
			n, err := parseLength(line[1:], MaxArrayLength)
			if err != nil {
				return err
			}

			if n > 0 {
				r.scan = next
				r.nesting = append(r.nesting, n)
				continue
			}

		default:
			return fmt.Errorf("%w: %w %q", ErrProtocol, ErrUnknownReplyPrefix, line[0])
		}

		r.scan = next

		// A finished element may finish the arrays around it
		for len(r.nesting) > 0 {
			top := len(r.nesting) - 1
			r.nesting[top]--
			if r.nesting[top] > 0 {
				break
			}
			r.nesting = r.nesting[:top]
		}

		if len(r.nesting) == 0 {
			return nil
		}
	}
}

// Buffered returns the number of bytes fed but not yet consumed by Next.
func (r *Reader) Buffered() int {
	return len(r.buf) - r.pos
}

func (r *Reader) Reset() {
	r.buf = r.buf[:0]
	r.pos = 0
	r.scan = 0
	r.nesting = r.nesting[:0]
}

func parseReply(b []byte, pos int) (Reply, int, error) {
	line, next, ok := readLine(b, pos)
	if !ok {
		return nil, 0, ErrNeedMoreData
	}

	if len(line) == 0 {
		return nil, 0, fmt.Errorf("%w: empty line", ErrProtocol)
	}

	switch line[0] {
	case PrefixStatus:
		if bytes.Equal(line[1:], queuedStatus) {
			return Queued{}, next, nil
		}
		return Status(line[1:]), next, nil

	case PrefixError:
		return ErrorReply(line[1:]), next, nil

	case PrefixInteger:
		n, err := parseInt(line[1:])
		if err != nil {
			return nil, 0, err
		}
		return Integer(n), next, nil

	case PrefixBulk:
		n, err := parseLength(line[1:], MaxBulkLength)
		if err != nil {
			return nil, 0, err
		}

		if n < 0 {
			return Bulk(nil), next, nil
		}

		if int64(len(b)-next) < n+2 {
			return nil, 0, ErrNeedMoreData
		}

		end := next + int(n)

		if b[end] != '\r' || b[end+1] != '\n' {
			return nil, 0, fmt.Errorf("%w: %w", ErrProtocol, ErrMissingTerminator)
		}

		data := make([]byte, n)
		copy(data, b[next:end])

		return Bulk(data), end + 2, nil

	case PrefixArray:
		n, err := parseLength(line[1:], MaxArrayLength)
		if err != nil {
			return nil, 0, err
		}

		if n < 0 {
			return Array(nil), next, nil
		}

		prealloc := n
		if prealloc > maxPrealloc {
			prealloc = maxPrealloc
		}

		arr := make(Array, 0, prealloc)

		for i := int64(0); i < n; i++ {
			var elem Reply

			elem, next, err = parseReply(b, next)
			if err != nil {
				return nil, 0, err
			}

			arr = append(arr, elem)
		}

		return arr, next, nil

	default:
		return nil, 0, fmt.Errorf("%w: %w %q", ErrProtocol, ErrUnknownReplyPrefix, line[0])
	}
}

// readLine returns the line starting at pos without its CRLF, and the
// offset just past the CRLF.
func readLine(b []byte, pos int) (line []byte, next int, ok bool) {
	idx := bytes.Index(b[pos:], Terminal)
	if idx < 0 {
		return nil, 0, false
	}

	return b[pos : pos+idx], pos + idx + 2, true
}

func parseInt(b []byte) (int64, error) {
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid integer %q", ErrProtocol, b)
	}

	return n, nil
}

func parseLength(b []byte, max int64) (int64, error) {
	n, err := parseInt(b)
	if err != nil {
		return 0, err
	}

	if n < -1 || n > max {
		return 0, fmt.Errorf("%w: %w %d", ErrProtocol, ErrInvalidLength, n)
	}

	return n, nil
}
