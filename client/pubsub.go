package client

import (
	"fmt"

	"github.com/luma/beacon/protocol"
)

// Kinds of PubSubMessage.
const (
	MessageKind  = "message"
	PMessageKind = "pmessage"
	PongKind     = "pong"
)

// PubSubMessage is an event delivered while subscribed. Pattern is only set
// for pmessage, pong events carry the PING payload.
type PubSubMessage struct {
	Kind    string
	Channel string
	Pattern string
	Payload []byte
}

type PubSubFunc func(msg PubSubMessage, pubsub *PubSub)

// PubSub consumes the messages of the channels and patterns it subscribes
// to. Once the last subscription is dropped, or after Quit, the connection
// is closed.
type PubSub struct {
	conn *Conn
	fn   PubSubFunc

	closing bool
}

func NewPubSub(conn *Conn, fn PubSubFunc) *PubSub {
	if fn == nil {
		panic(usage("NewPubSub", "callback must not be nil"))
	}

	return &PubSub{conn: conn, fn: fn}
}

func (p *PubSub) Subscribe(channels ...string) {
	p.write(protocol.SUBSCRIBE, channels, p.handle)
}

func (p *PubSub) PSubscribe(patterns ...string) {
	p.write(protocol.PSUBSCRIBE, patterns, p.handle)
}

func (p *PubSub) Unsubscribe(channels ...string) {
	p.write(protocol.UNSUBSCRIBE, channels, nil)
}

func (p *PubSub) PUnsubscribe(patterns ...string) {
	p.write(protocol.PUNSUBSCRIBE, patterns, nil)
}

// Ping asks the server to echo payload back as a pong event.
func (p *PubSub) Ping(payload string) {
	var args []string
	if payload != "" {
		args = []string{payload}
	}

	p.write(protocol.PING, args, nil)
}

// Quit closes the connection without waiting for the subscriptions to drop.
func (p *PubSub) Quit() {
	p.closing = true
	p.write(protocol.QUIT, nil, p.handle)
}

// write sends a command. While subscribed every reply is handled as a
// frame, fn only matters for replies matched to the command itself.
func (p *PubSub) write(name string, args []string, fn ReplyFunc) {
	cmd := protocol.Command{Name: name, Args: make([][]byte, len(args))}
	for i, arg := range args {
		cmd.Args[i] = []byte(arg)
	}

	p.conn.Execute(cmd, fn)
}

func (p *PubSub) handle(reply protocol.Reply) error {
	msg, deliver, err := p.parse(reply)
	if err != nil {
		return err
	}

	if p.closing {
		p.closing = false
		p.conn.Disconnect()
		return nil
	}

	if deliver {
		p.fn(msg, p)
	}

	return nil
}

// parse classifies a frame. Acknowledgements are not delivered, the one
// bringing the subscription count down to zero starts closing.
func (p *PubSub) parse(reply protocol.Reply) (msg PubSubMessage, deliver bool, err error) {
	if p.closing {
		return msg, false, nil
	}

	frame, ok := reply.(protocol.Array)
	if !ok || len(frame) == 0 {
		return msg, false, fmt.Errorf("%w: %s inside of a pub/sub context", ErrUnexpectedFrame, describe(reply))
	}

	kind, ok := bulkString(frame[0])
	if !ok {
		return msg, false, fmt.Errorf("%w: frame kind is %s", ErrUnexpectedFrame, describe(frame[0]))
	}

	switch kind {
	case "subscribe", "unsubscribe", "psubscribe", "punsubscribe":
		if len(frame) != 3 {
			return msg, false, fmt.Errorf("%w: %s frame with %d elements", ErrUnexpectedFrame, kind, len(frame))
		}

		if count, ok := frame[2].(protocol.Integer); ok && count == 0 {
			p.closing = true
		}
		return msg, false, nil

	case MessageKind:
		if len(frame) != 3 {
			return msg, false, fmt.Errorf("%w: %s frame with %d elements", ErrUnexpectedFrame, kind, len(frame))
		}

		msg.Kind = kind
		msg.Channel, _ = bulkString(frame[1])
		msg.Payload = bulkBytes(frame[2])
		return msg, true, nil

	case PMessageKind:
		if len(frame) != 4 {
			return msg, false, fmt.Errorf("%w: %s frame with %d elements", ErrUnexpectedFrame, kind, len(frame))
		}

		msg.Kind = kind
		msg.Pattern, _ = bulkString(frame[1])
		msg.Channel, _ = bulkString(frame[2])
		msg.Payload = bulkBytes(frame[3])
		return msg, true, nil

	case PongKind:
		msg.Kind = kind
		if len(frame) > 1 {
			msg.Payload = bulkBytes(frame[1])
		}
		return msg, true, nil

	default:
		return msg, false, fmt.Errorf("%w: unknown message type %q inside of a pub/sub context", ErrUnexpectedFrame, kind)
	}
}

func bulkString(reply protocol.Reply) (string, bool) {
	switch r := reply.(type) {
	case protocol.Bulk:
		return string(r), r != nil
	case protocol.Status:
		return string(r), true
	default:
		return "", false
	}
}

func bulkBytes(reply protocol.Reply) []byte {
	if b, ok := reply.(protocol.Bulk); ok {
		return b
	}

	return nil
}
