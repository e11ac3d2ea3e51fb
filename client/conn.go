package client

import (
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/luma/beacon/internal/buffer"
	"github.com/luma/beacon/protocol"
	"github.com/luma/beacon/transport"
)

// ChunkSize is the most that is written or read per readiness event.
const ChunkSize = 4096

type (
	ConnectFunc func(conn *Conn)
	ErrorFunc   func(conn *Conn, err error)
)

// Conn is an asynchronous connection to a single server.
//
// Commands are encoded into an outbound buffer and flushed when the socket
// is writable, replies are decoded when it's readable and matched to the
// commands strictly in the order they were sent.
//
// A Conn is confined to the goroutine running its EventLoop: every method
// must be called from a loop callback or a task posted to the loop.
type Conn struct {
	params Parameters
	loop   EventLoop

	fd     int
	buffer *buffer.StringBuffer
	reader *protocol.Reader
	state  state

	// writing is true while the socket is registered for writability
	writing bool

	timeout   *transport.Timer
	onConnect []ConnectFunc
	onError   ErrorFunc

	// onDisconnect runs after every Disconnect, faults excluded, they go
	// through onError
	onDisconnect func()

	// deferred holds commands that may not be written yet, in the order
	// they were executed
	deferred []deferredCommand

	readBuf []byte

	metrics *Metrics
	log     *zap.Logger
}

func NewConn(options Options) *Conn {
	if options.Loop == nil {
		panic(usage("NewConn", "an event loop is required"))
	}

	if options.OnError == nil {
		panic(usage("NewConn", "an error callback is required"))
	}

	params := options.Parameters
	if params.Scheme == "" {
		params.Scheme = "tcp"
	}

	if params.Timeout <= 0 {
		params.Timeout = DefaultTimeout
	}

	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	return &Conn{
		params:  params,
		loop:    options.Loop,
		fd:      -1,
		buffer:  buffer.New(),
		reader:  protocol.NewReader(),
		onError: options.OnError,
		readBuf: make([]byte, ChunkSize),
		metrics: options.Metrics,
		log:     log.With(zap.String("addr", params.Address())),
	}
}

// String returns host:port, or the socket path for unix sockets.
func (c *Conn) String() string {
	return c.params.Address()
}

func (c *Conn) Parameters() Parameters {
	return c.params
}

func (c *Conn) Phase() Phase {
	return c.state.phase
}

func (c *Conn) Context() Context {
	return c.state.context
}

func (c *Conn) IsConnected() bool {
	return c.state.phase == PhaseConnected
}

// Pending returns how many written commands are waiting for a reply.
func (c *Conn) Pending() int {
	return c.state.queue.len()
}

// SetErrorCallback sets the callback invoked, once per fault, after the
// connection has been dropped because of an I/O, connect or protocol error.
func (c *Conn) SetErrorCallback(fn ErrorFunc) {
	if fn == nil {
		panic(usage("SetErrorCallback", "callback must not be nil"))
	}

	c.onError = fn
}

// Connect starts connecting and calls fn once connected. If a connect is
// already in progress fn is called when it completes. It returns false if
// no new connect was started.
func (c *Conn) Connect(fn ConnectFunc) bool {
	switch c.state.phase {
	case PhaseConnected:
		return false

	case PhaseConnecting:
		if fn != nil {
			c.onConnect = append(c.onConnect, fn)
		}
		return false
	}

	if fn != nil {
		c.onConnect = append(c.onConnect, fn)
	}

	fd, err := dial(c.params)
	if err != nil {
		if isRefused(err) {
			c.fail(ErrConnectionRefused, err)
		} else {
			c.fail(ErrIO, fmt.Errorf("Failed to open socket: %w", err))
		}
		return true
	}

	c.fd = fd
	c.state.setPhase(PhaseConnecting)

	c.log.Debug("Connecting", zap.Duration("timeout", c.params.Timeout))

	if err := c.loop.AddWriteStream(fd, c.connected); err != nil {
		c.fail(ErrIO, fmt.Errorf("Failed to watch socket: %w", err))
		return true
	}

	c.timeout = c.loop.AddTimer(c.params.Timeout, func() {
		c.timeout = nil
		c.fail(ErrConnectTimeout, nil)
	})

	return true
}

// connected runs when the connecting socket first becomes writable.
func (c *Conn) connected() {
	if err := probeConnect(c.fd); err != nil {
		c.fail(connectFailureKind(err), err)
		return
	}

	c.loop.CancelTimer(c.timeout)
	c.timeout = nil

	c.state.setPhase(PhaseConnected)

	if err := c.loop.RemoveWriteStream(c.fd); err != nil {
		c.fail(ErrIO, fmt.Errorf("Failed to unwatch socket: %w", err))
		return
	}

	if err := c.loop.AddReadStream(c.fd, c.read); err != nil {
		c.fail(ErrIO, fmt.Errorf("Failed to watch socket: %w", err))
		return
	}

	c.writing = false
	if !c.buffer.IsEmpty() {
		// Flush whatever was executed while connecting
		c.watchWrites()
	}

	c.log.Info("Connected", zap.Int("buffered", c.buffer.Len()))

	callbacks := c.onConnect
	c.onConnect = nil

	for _, fn := range callbacks {
		if c.state.phase != PhaseConnected {
			return
		}
		fn(c)
	}
}

// Disconnect closes the socket and forgets every pending or deferred
// command, their callbacks never fire. It's safe to call more than once.
func (c *Conn) Disconnect() {
	c.close()

	if c.onDisconnect != nil {
		c.onDisconnect()
	}
}

func (c *Conn) close() {
	c.loop.CancelTimer(c.timeout)
	c.timeout = nil

	if c.fd >= 0 {
		if err := c.loop.RemoveStream(c.fd); err != nil {
			c.log.Warn("Failed to unwatch socket", zap.Error(err))
		}

		if err := unix.Close(c.fd); err != nil {
			c.log.Warn("Failed to close socket", zap.Error(err))
		}

		c.fd = -1

		c.log.Info("Disconnected", zap.Int("abandoned", c.state.queue.len()))
	}

	c.writing = false
	c.onConnect = nil
	c.deferred = nil
	c.state.reset()
	c.buffer.Reset()
	c.reader.Reset()
}

// Execute sends cmd and calls fn with its reply. Executing on a
// disconnected connection starts connecting, the command is flushed once
// connected.
//
// SUBSCRIBE, PSUBSCRIBE and MONITOR switch the connection into a streaming
// context where fn receives every subsequent reply, so they require fn.
// Commands executed while streaming are written but not queued, their
// replies are stream frames. Commands executed while a transaction waits
// to send EXEC are written after it.
func (c *Conn) Execute(cmd protocol.Command, fn ReplyFunc) {
	switch cmd.ID() {
	case protocol.SUBSCRIBE, protocol.PSUBSCRIBE, protocol.MONITOR:
		if fn == nil && !c.state.streaming() {
			panic(usage("Execute", "%s requires a callback", cmd.ID()))
		}
	}

	if len(c.deferred) > 0 {
		c.deferred = append(c.deferred, deferredCommand{cmd: cmd, fn: fn})
		return
	}

	c.send(cmd, fn)
}

// deferredCommand is written once ready returns true, ready is nil for
// commands that are only waiting for the ones ahead of them.
type deferredCommand struct {
	cmd   protocol.Command
	fn    ReplyFunc
	ready func() bool
}

// executeWhen reserves cmd's place in the outbound order but only writes
// it once ready returns true. Commands executed in the meantime are
// written after it. Whoever changes what ready depends on must call
// flushDeferred.
func (c *Conn) executeWhen(cmd protocol.Command, fn ReplyFunc, ready func() bool) {
	if c.state.phase == PhaseDisconnected && !ready() {
		// What it waits for was abandoned with the connection
		return
	}

	if len(c.deferred) == 0 && ready() {
		c.send(cmd, fn)
		return
	}

	c.deferred = append(c.deferred, deferredCommand{cmd: cmd, fn: fn, ready: ready})
}

// flushDeferred writes deferred commands in order, up to the first one that
// isn't ready.
func (c *Conn) flushDeferred() {
	for len(c.deferred) > 0 {
		next := c.deferred[0]
		if next.ready != nil && !next.ready() {
			return
		}

		c.deferred = c.deferred[1:]
		c.send(next.cmd, next.fn)
	}
}

func (c *Conn) send(cmd protocol.Command, fn ReplyFunc) {
	if c.state.phase == PhaseDisconnected {
		c.Connect(nil)

		if c.state.phase == PhaseDisconnected {
			// Connecting failed straight away and the error callback has fired
			return
		}
	}

	c.buffer.Append(protocol.AppendCommand(nil, cmd))

	if !c.state.streaming() {
		c.state.queue.enqueue(cmd, fn)
	}

	c.metrics.commandSent()

	c.log.Debug("Execute", zap.Stringer("command", cmd), zap.Stringer("state", &c.state))

	if c.state.phase == PhaseConnected && !c.writing {
		c.watchWrites()
	}
}

func (c *Conn) watchWrites() {
	if err := c.loop.AddWriteStream(c.fd, c.write); err != nil {
		c.fail(ErrIO, fmt.Errorf("Failed to watch socket: %w", err))
		return
	}

	c.writing = true
}

// write sends up to ChunkSize buffered bytes, discarding exactly what the
// socket accepted.
func (c *Conn) write() {
	if c.buffer.IsEmpty() {
		c.unwatchWrites()
		return
	}

	chunk := c.buffer.Peek(ChunkSize)

	n, err := unix.Write(c.fd, chunk)
	if err != nil {
		if isTemporary(err) {
			return
		}

		c.fail(ErrIO, fmt.Errorf("Error while writing bytes to the server: %w", err))
		return
	}

	c.buffer.Discard(n)
	c.metrics.bytesWritten(n)

	if c.buffer.IsEmpty() {
		c.unwatchWrites()
	}
}

func (c *Conn) unwatchWrites() {
	if err := c.loop.RemoveWriteStream(c.fd); err != nil {
		c.fail(ErrIO, fmt.Errorf("Failed to unwatch socket: %w", err))
		return
	}

	c.writing = false
}

// read receives one chunk and processes every complete reply in it.
func (c *Conn) read() {
	n, err := unix.Read(c.fd, c.readBuf)
	if err != nil {
		if isTemporary(err) {
			return
		}

		c.fail(ErrIO, fmt.Errorf("Error while reading bytes from the server: %w", err))
		return
	}

	if n == 0 {
		c.fail(ErrIO, fmt.Errorf("Connection closed by the server: %w", io.EOF))
		return
	}

	c.metrics.bytesRead(n)
	c.reader.Feed(c.readBuf[:n])

	// A reply may drop the connection, e.g. the last pub/sub unsubscribe
	for c.state.phase == PhaseConnected {
		reply, err := c.reader.Next()
		if errors.Is(err, protocol.ErrNeedMoreData) {
			return
		}

		if err != nil {
			c.fail(ErrProtocolDesync, err)
			return
		}

		c.metrics.replyReceived(reply)

		if err := c.state.process(reply); err != nil {
			c.fail(kindOf(err), err)
			return
		}
	}
}

// fail drops the connection and reports err through the error callback.
func (c *Conn) fail(kind error, cause error) {
	err := &ConnectionError{
		Addr: c.String(),
		Kind: kind,
		Err:  cause,
	}

	switch kind {
	case ErrProtocolDesync, ErrUnexpectedFrame:
		c.log.Error("Connection failed", zap.Stringer("state", &c.state), zap.Error(err))
	default:
		c.log.Warn("Connection failed", zap.Stringer("state", &c.state), zap.Error(err))
	}

	c.metrics.connectionFailed(kind)

	c.close()
	c.onError(c, err)
}
