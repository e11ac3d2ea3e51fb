package client

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/luma/beacon/protocol"
)

// ResultFunc receives the reply to a command shaped by its response
// parser, error replies are handed over as err.
type ResultFunc func(result interface{}, err error)

type result struct {
	value interface{}
	err   error
}

// Client wraps a Conn with per-command response parsing and with futures
// that can be used from any goroutine.
//
// Connect, Execute, Quit, Disconnect, Transaction, Monitor and PubSubLoop
// are confined to the event loop like the Conn itself. Dial, Do and Close
// post to the loop and wait, they must not be called from the loop.
type Client struct {
	conn *Conn
	loop EventLoop

	onError ErrorFunc

	inflight map[uint64]chan<- result
	nextID   uint64
	dialers  []chan<- error

	log *zap.Logger
}

func New(options Options) *Client {
	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	c := &Client{
		loop:     options.Loop,
		onError:  options.OnError,
		inflight: make(map[uint64]chan<- result),
		log:      log,
	}

	options.OnError = c.failed
	c.conn = NewConn(options)
	c.conn.onDisconnect = c.disconnected

	return c
}

// Conn returns the underlying connection.
func (c *Client) Conn() *Conn {
	return c.conn
}

func (c *Client) String() string {
	return c.conn.String()
}

func (c *Client) IsConnected() bool {
	return c.conn.IsConnected()
}

// SetErrorCallback sets the callback invoked when the connection fails.
func (c *Client) SetErrorCallback(fn ErrorFunc) {
	if fn == nil {
		panic(usage("SetErrorCallback", "callback must not be nil"))
	}

	c.onError = fn
}

func (c *Client) Connect(fn ConnectFunc) bool {
	return c.conn.Connect(fn)
}

// Execute sends cmd and hands its parsed reply to fn, which may be nil.
func (c *Client) Execute(cmd protocol.Command, fn ResultFunc) {
	if fn == nil {
		c.conn.Execute(cmd, nil)
		return
	}

	c.conn.Execute(cmd, func(reply protocol.Reply) error {
		fn(protocol.ParseResponse(cmd, reply))
		return nil
	})
}

// Quit sends QUIT and disconnects once the server acknowledges it.
func (c *Client) Quit() {
	c.conn.Execute(protocol.NewCommand(protocol.QUIT), func(protocol.Reply) error {
		c.Disconnect()
		return nil
	})
}

// Disconnect closes the connection, pending futures fail with ErrDisconnected.
func (c *Client) Disconnect() {
	c.conn.Disconnect()
}

// disconnected runs whenever the connection is closed on purpose, whether
// by Disconnect, Quit, Monitor.Stop or a pub/sub context closing.
func (c *Client) disconnected() {
	c.abandon(ErrDisconnected)
	c.resolveDialers(ErrDisconnected)
}

// Transaction starts a MULTI/EXEC block.
func (c *Client) Transaction() *Transaction {
	return NewTransaction(c.conn)
}

// Monitor streams the commands processed by the server to fn.
func (c *Client) Monitor(fn MonitorFunc, autostart bool) *Monitor {
	return NewMonitor(c.conn, fn, autostart)
}

// PubSubLoop subscribes to channels and patterns straight away and hands
// every message to fn.
func (c *Client) PubSubLoop(channels, patterns []string, fn PubSubFunc) *PubSub {
	pubsub := NewPubSub(c.conn, fn)

	if len(channels) > 0 {
		pubsub.Subscribe(channels...)
	}

	if len(patterns) > 0 {
		pubsub.PSubscribe(patterns...)
	}

	return pubsub
}

// Dial connects and waits until the connection is established.
func (c *Client) Dial(ctx context.Context) error {
	done := make(chan error, 1)

	c.loop.Post(func() {
		if c.conn.IsConnected() {
			done <- nil
			return
		}

		c.dialers = append(c.dialers, done)
		c.conn.Connect(func(*Conn) {
			c.resolveDialers(nil)
		})
	})

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do sends a command and waits for its parsed reply. Commands that switch
// the connection into a streaming context are rejected with
// ErrStreamingCommand, use Transaction, Monitor or PubSubLoop instead.
func (c *Client) Do(ctx context.Context, name string, args ...interface{}) (interface{}, error) {
	cmd := protocol.NewCommand(name, args...)

	switch cmd.ID() {
	case protocol.SUBSCRIBE, protocol.PSUBSCRIBE, protocol.MONITOR, protocol.MULTI:
		return nil, fmt.Errorf("%w: %s", ErrStreamingCommand, cmd.ID())
	}

	done := make(chan result, 1)

	c.loop.Post(func() {
		if c.conn.state.streaming() {
			done <- result{err: fmt.Errorf("%w: connection is in %s mode", ErrStreamingCommand, c.conn.Context())}
			return
		}

		id := c.nextID
		c.nextID++
		c.inflight[id] = done

		c.conn.Execute(cmd, func(reply protocol.Reply) error {
			delete(c.inflight, id)

			value, err := protocol.ParseResponse(cmd, reply)
			done <- result{value: value, err: err}
			return nil
		})
	})

	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close disconnects and waits for it to happen.
func (c *Client) Close(ctx context.Context) error {
	done := make(chan struct{})

	c.loop.Post(func() {
		c.Disconnect()
		close(done)
	})

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) failed(conn *Conn, err error) {
	c.abandon(err)
	c.resolveDialers(err)

	if c.onError != nil {
		c.onError(conn, err)
	} else {
		c.log.Debug("Unhandled connection error", zap.Error(err))
	}
}

// abandon fails every future still waiting for a reply.
func (c *Client) abandon(err error) {
	for id, done := range c.inflight {
		done <- result{err: err}
		delete(c.inflight, id)
	}
}

func (c *Client) resolveDialers(err error) {
	for _, done := range c.dialers {
		done <- err
	}

	c.dialers = nil
}
