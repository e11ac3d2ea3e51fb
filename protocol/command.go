package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Command IDs that the connection treats specially.
const (
	MULTI        = "MULTI"
	EXEC         = "EXEC"
	DISCARD      = "DISCARD"
	SUBSCRIBE    = "SUBSCRIBE"
	PSUBSCRIBE   = "PSUBSCRIBE"
	UNSUBSCRIBE  = "UNSUBSCRIBE"
	PUNSUBSCRIBE = "PUNSUBSCRIBE"
	MONITOR      = "MONITOR"
	QUIT         = "QUIT"
	PING         = "PING"
)

// Command is a command name and its raw arguments. Commands are treated as
// immutable once they have been handed to a connection.
type Command struct {
	Name string
	Args [][]byte
}

// NewCommand builds a command, converting each argument into its wire
// representation. Strings and byte slices are used verbatim, numbers are
// formatted in base 10 and anything else goes through fmt.
func NewCommand(name string, args ...interface{}) Command {
	cmd := Command{
		Name: name,
		Args: make([][]byte, 0, len(args)),
	}

	for _, arg := range args {
		cmd.Args = append(cmd.Args, FormatArg(arg))
	}

	return cmd
}

// ID returns the upper cased command name.
func (c Command) ID() string {
	return strings.ToUpper(c.Name)
}

func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.ID()
	}

	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, c.ID())

	for _, arg := range c.Args {
		parts = append(parts, strconv.Quote(string(arg)))
	}

	return strings.Join(parts, " ")
}

func FormatArg(arg interface{}) []byte {
	switch v := arg.(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	case int:
		return strconv.AppendInt(nil, int64(v), 10)
	case int32:
		return strconv.AppendInt(nil, int64(v), 10)
	case int64:
		return strconv.AppendInt(nil, v, 10)
	case uint:
		return strconv.AppendUint(nil, uint64(v), 10)
	case uint32:
		return strconv.AppendUint(nil, uint64(v), 10)
	case uint64:
		return strconv.AppendUint(nil, v, 10)
	case float32:
		return strconv.AppendFloat(nil, float64(v), 'f', -1, 32)
	case float64:
		return strconv.AppendFloat(nil, v, 'f', -1, 64)
	case bool:
		if v {
			return []byte("1")
		}
		return []byte("0")
	case nil:
		return []byte{}
	default:
		return []byte(fmt.Sprint(v))
	}
}
