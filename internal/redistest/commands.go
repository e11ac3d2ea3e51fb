package redistest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/luma/beacon/protocol"
)

var okReply = protocol.Status("OK")

// Commands allowed once a client has subscribed.
var subscribedCommands = map[string]bool{
	protocol.SUBSCRIBE:    true,
	protocol.PSUBSCRIBE:   true,
	protocol.UNSUBSCRIBE:  true,
	protocol.PUNSUBSCRIBE: true,
	protocol.PING:         true,
	protocol.QUIT:         true,
}

// dispatch is the default Handler.
func (s *Server) dispatch(c *Conn, cmd protocol.Command) {
	id := cmd.ID()

	s.feed(c, cmd, float64(time.Now().UnixNano())/float64(time.Second))

	if c.subscribed() && !subscribedCommands[id] {
		c.Reply(protocol.ErrorReply(fmt.Sprintf("ERR Can't execute '%s': only (P)SUBSCRIBE / (P)UNSUBSCRIBE / PING / QUIT are allowed in this context", strings.ToLower(cmd.Name))))
		return
	}

	if c.inMulti && id != protocol.EXEC && id != protocol.DISCARD && id != protocol.MULTI {
		c.multi = append(c.multi, cmd)
		c.Reply(protocol.Queued{})
		return
	}

	if reply := s.execute(c, cmd); reply != nil {
		c.Reply(reply)
	}

	if id == protocol.QUIT {
		c.Close()
	}
}

// execute runs cmd and returns its reply, nil when the replies were
// already written.
func (s *Server) execute(c *Conn, cmd protocol.Command) protocol.Reply {
	ctx := context.Background()
	args := cmd.Args

	switch cmd.ID() {
	case protocol.PING:
		if c.subscribed() {
			payload := protocol.Bulk{}
			if len(args) > 0 {
				payload = protocol.Bulk(args[0])
			}
			return protocol.Array{protocol.Bulk("pong"), payload}
		}

		if len(args) > 0 {
			return protocol.Bulk(args[0])
		}
		return protocol.Status("PONG")

	case protocol.QUIT:
		return okReply

	case "ECHO":
		if len(args) != 1 {
			return wrongArity(cmd)
		}
		return protocol.Bulk(args[0])

	case "GET":
		if len(args) != 1 {
			return wrongArity(cmd)
		}

		value, found, err := s.store.Get(ctx, string(args[0]))
		if err != nil {
			return protocol.ErrorReply("ERR " + err.Error())
		}

		if !found {
			return protocol.Bulk(nil)
		}

		if value == nil {
			value = []byte{}
		}
		return protocol.Bulk(value)

	case "SET":
		if len(args) != 2 {
			return wrongArity(cmd)
		}

		if err := s.store.Set(ctx, string(args[0]), args[1]); err != nil {
			return protocol.ErrorReply("ERR " + err.Error())
		}
		return okReply

	case "DEL":
		if len(args) == 0 {
			return wrongArity(cmd)
		}

		deleted, err := s.store.Delete(ctx, toStrings(args)...)
		if err != nil {
			return protocol.ErrorReply("ERR " + err.Error())
		}
		return protocol.Integer(deleted)

	case "EXISTS":
		if len(args) == 0 {
			return wrongArity(cmd)
		}

		var count int64
		for _, key := range args {
			_, found, err := s.store.Get(ctx, string(key))
			if err != nil {
				return protocol.ErrorReply("ERR " + err.Error())
			}

			if found {
				count++
			}
		}
		return protocol.Integer(count)

	case "KEYS":
		if len(args) != 1 {
			return wrongArity(cmd)
		}

		keys, err := s.store.Keys(ctx, string(args[0]))
		if err != nil {
			return protocol.ErrorReply("ERR " + err.Error())
		}

		reply := make(protocol.Array, len(keys))
		for i, key := range keys {
			reply[i] = protocol.Bulk(key)
		}
		return reply

	case "INFO":
		return protocol.Bulk("# Server\r\nredis_version:7.0.0\r\nredis_mode:standalone\r\n\r\n# Clients\r\n" +
			fmt.Sprintf("connected_clients:%d\r\n", s.Connections()))

	case "PUBLISH":
		if len(args) != 2 {
			return wrongArity(cmd)
		}
		return protocol.Integer(s.Publish(string(args[0]), args[1]))

	case protocol.MULTI:
		if c.inMulti {
			return protocol.ErrorReply("ERR MULTI calls can not be nested")
		}

		c.inMulti = true
		return okReply

	case protocol.EXEC:
		if !c.inMulti {
			return protocol.ErrorReply("ERR EXEC without MULTI")
		}

		queued := c.multi
		c.inMulti, c.multi = false, nil

		results := make(protocol.Array, len(queued))
		for i, queuedCmd := range queued {
			results[i] = s.execute(c, queuedCmd)
		}
		return results

	case protocol.DISCARD:
		if !c.inMulti {
			return protocol.ErrorReply("ERR DISCARD without MULTI")
		}

		c.inMulti, c.multi = false, nil
		return okReply

	case protocol.SUBSCRIBE, protocol.PSUBSCRIBE:
		if len(args) == 0 {
			return wrongArity(cmd)
		}

		pattern := cmd.ID() == protocol.PSUBSCRIBE
		kind := strings.ToLower(cmd.ID())

		for _, name := range args {
			count := c.subscribe(pattern, string(name))
			c.Reply(protocol.Array{protocol.Bulk(kind), protocol.Bulk(name), protocol.Integer(count)})
		}
		return nil

	case protocol.UNSUBSCRIBE, protocol.PUNSUBSCRIBE:
		pattern := cmd.ID() == protocol.PUNSUBSCRIBE
		kind := strings.ToLower(cmd.ID())

		names := toStrings(args)
		if len(names) == 0 {
			names = c.subscriptions(pattern)
		}

		if len(names) == 0 {
			count := c.unsubscribe(pattern, "")
			return protocol.Array{protocol.Bulk(kind), protocol.Bulk(nil), protocol.Integer(count)}
		}

		for _, name := range names {
			count := c.unsubscribe(pattern, name)
			c.Reply(protocol.Array{protocol.Bulk(kind), protocol.Bulk(name), protocol.Integer(count)})
		}
		return nil

	case protocol.MONITOR:
		c.setMonitoring()
		return okReply

	default:
		return protocol.ErrorReply(fmt.Sprintf("ERR unknown command '%s'", cmd.Name))
	}
}

func wrongArity(cmd protocol.Command) protocol.Reply {
	return protocol.ErrorReply(fmt.Sprintf("ERR wrong number of arguments for '%s' command", strings.ToLower(cmd.Name)))
}

func toStrings(args [][]byte) []string {
	values := make([]string, len(args))
	for i, arg := range args {
		values[i] = string(arg)
	}

	return values
}
