package protocol

import (
	"bytes"
	"errors"
	"fmt"
)

var ErrUnexpectedReply = errors.New("Reply does not have the shape expected by the command")

// ResponseParser turns a raw reply into the result shape of a specific
// command. It's never called with an ErrorReply.
type ResponseParser func(reply Reply) (interface{}, error)

var responseParsers = map[string]ResponseParser{
	"EXISTS":    parseBool,
	"EXPIRE":    parseBool,
	"EXPIREAT":  parseBool,
	"PEXPIRE":   parseBool,
	"PEXPIREAT": parseBool,
	"PERSIST":   parseBool,
	"SETNX":     parseBool,
	"HSETNX":    parseBool,
	"HEXISTS":   parseBool,
	"MSETNX":    parseBool,
	"RENAMENX":  parseBool,
	"SISMEMBER": parseBool,
	"SMOVE":     parseBool,
	"MOVE":      parseBool,

	"HGETALL": parsePairs,

	"KEYS":     parseStrings,
	"HKEYS":    parseStrings,
	"SMEMBERS": parseStrings,
	"SINTER":   parseStrings,
	"SUNION":   parseStrings,
	"SDIFF":    parseStrings,

	"INFO": parseInfo,
}

// RegisterResponseParser installs the parser used for commands with the
// given ID. It is not safe to call concurrently with ParseResponse, register
// parsers during init.
func RegisterResponseParser(id string, parser ResponseParser) {
	responseParsers[id] = parser
}

// ParseResponse reinterprets a raw reply with the semantics of the command
// that produced it. Error replies are returned as the error.
func ParseResponse(cmd Command, reply Reply) (interface{}, error) {
	if e, ok := reply.(ErrorReply); ok {
		return nil, e
	}

	if parser, ok := responseParsers[cmd.ID()]; ok {
		result, err := parser(reply)
		if err != nil {
			return nil, fmt.Errorf("Failed to parse the reply to %s: %w", cmd.ID(), err)
		}
		return result, nil
	}

	return Value(reply), nil
}

// Value converts a reply into plain Go values: string for statuses, int64,
// []byte for bulks, []interface{} for arrays and error for error replies.
// Nil bulks and arrays stay nil.
func Value(reply Reply) interface{} {
	switch r := reply.(type) {
	case Status:
		return string(r)
	case Queued:
		return r
	case ErrorReply:
		return r
	case Integer:
		return int64(r)
	case Bulk:
		if r == nil {
			return []byte(nil)
		}
		return []byte(r)
	case Array:
		if r == nil {
			return []interface{}(nil)
		}

		values := make([]interface{}, 0, len(r))
		for _, elem := range r {
			values = append(values, Value(elem))
		}
		return values
	default:
		return nil
	}
}

func parseBool(reply Reply) (interface{}, error) {
	n, ok := reply.(Integer)
	if !ok {
		return nil, fmt.Errorf("%w: wanted an integer, got %s", ErrUnexpectedReply, reply.Kind())
	}

	return n != 0, nil
}

func parsePairs(reply Reply) (interface{}, error) {
	arr, ok := reply.(Array)
	if !ok {
		return nil, fmt.Errorf("%w: wanted an array, got %s", ErrUnexpectedReply, reply.Kind())
	}

	if len(arr)%2 != 0 {
		return nil, fmt.Errorf("%w: odd number of elements %d", ErrUnexpectedReply, len(arr))
	}

	pairs := make(map[string][]byte, len(arr)/2)

	for i := 0; i < len(arr); i += 2 {
		key, ok := arr[i].(Bulk)
		if !ok {
			return nil, fmt.Errorf("%w: key %d is a %s", ErrUnexpectedReply, i/2, arr[i].Kind())
		}

		value, ok := arr[i+1].(Bulk)
		if !ok {
			return nil, fmt.Errorf("%w: value %d is a %s", ErrUnexpectedReply, i/2, arr[i+1].Kind())
		}

		pairs[string(key)] = []byte(value)
	}

	return pairs, nil
}

func parseStrings(reply Reply) (interface{}, error) {
	arr, ok := reply.(Array)
	if !ok {
		return nil, fmt.Errorf("%w: wanted an array, got %s", ErrUnexpectedReply, reply.Kind())
	}

	if arr == nil {
		return []string(nil), nil
	}

	values := make([]string, 0, len(arr))

	for _, elem := range arr {
		b, ok := elem.(Bulk)
		if !ok {
			return nil, fmt.Errorf("%w: element is a %s", ErrUnexpectedReply, elem.Kind())
		}
		values = append(values, string(b))
	}

	return values, nil
}

// parseInfo splits the INFO bulk into its `field:value` lines, skipping
// section headers.
func parseInfo(reply Reply) (interface{}, error) {
	b, ok := reply.(Bulk)
	if !ok {
		return nil, fmt.Errorf("%w: wanted a bulk, got %s", ErrUnexpectedReply, reply.Kind())
	}

	info := make(map[string]string)

	for _, line := range bytes.Split(b, []byte("\n")) {
		line = bytes.TrimSuffix(line, []byte("\r"))

		if len(line) == 0 || line[0] == '#' {
			continue
		}

		idx := bytes.IndexByte(line, ':')
		if idx < 0 {
			continue
		}

		info[string(line[:idx])] = string(line[idx+1:])
	}

	return info, nil
}
