package redistest

import (
	"errors"
	"fmt"
	"net"
	"path"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/luma/beacon/protocol"
)

// Conn is a client connected to a Server.
type Conn struct {
	server *Server
	conn   net.Conn
	reader *protocol.Reader

	writeMu sync.Mutex
	trickle time.Duration

	mu         sync.Mutex
	channels   map[string]struct{}
	patterns   map[string]struct{}
	monitoring bool

	// only touched by the serving goroutine
	inMulti bool
	multi   []protocol.Command

	closeOnce sync.Once
	closeErr  error

	log *zap.Logger
}

func newConn(server *Server, conn net.Conn) *Conn {
	return &Conn{
		server:   server,
		conn:     conn,
		reader:   protocol.NewReader(),
		channels: make(map[string]struct{}),
		patterns: make(map[string]struct{}),
		log:      server.log.Named("conn").With(zap.String("remote", conn.RemoteAddr().String())),
	}
}

func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// Reply writes a single reply.
func (c *Conn) Reply(reply protocol.Reply) error {
	return c.WriteRaw(protocol.AppendReply(nil, reply))
}

// WriteRaw writes data as is, it doesn't need to be a complete frame.
func (c *Conn) WriteRaw(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.trickle <= 0 {
		_, err := c.conn.Write(data)
		return err
	}

	for i := range data {
		if _, err := c.conn.Write(data[i : i+1]); err != nil {
			return err
		}
		time.Sleep(c.trickle)
	}

	return nil
}

func (c *Conn) setTrickle(delay time.Duration) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.trickle = delay
}

// Close hangs up, it's safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})

	return c.closeErr
}

func (c *Conn) serve() {
	defer c.Close()

	buf := make([]byte, 4096)

	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			c.reader.Feed(buf[:n])

			if !c.drain() {
				return
			}
		}

		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				c.log.Debug("Client gone", zap.Error(err))
			}
			return
		}
	}
}

// drain handles every complete command buffered. It returns false once the
// connection can't be used anymore.
func (c *Conn) drain() bool {
	for {
		reply, err := c.reader.Next()
		if errors.Is(err, protocol.ErrNeedMoreData) {
			return true
		}

		if err != nil {
			c.Reply(protocol.ErrorReply("ERR Protocol error: " + err.Error()))
			return false
		}

		cmd, err := toCommand(reply)
		if err != nil {
			c.Reply(protocol.ErrorReply("ERR Protocol error: " + err.Error()))
			return false
		}

		c.server.record(cmd)
		c.server.handler(c, cmd)
	}
}

func toCommand(reply protocol.Reply) (protocol.Command, error) {
	frame, ok := reply.(protocol.Array)
	if !ok || len(frame) == 0 {
		return protocol.Command{}, fmt.Errorf("expected a multi bulk request, got a %s", reply.Kind())
	}

	cmd := protocol.Command{Args: make([][]byte, 0, len(frame)-1)}

	for i, elem := range frame {
		bulk, ok := elem.(protocol.Bulk)
		if !ok || bulk == nil {
			return protocol.Command{}, fmt.Errorf("expected bulk arguments, got a %s", elem.Kind())
		}

		if i == 0 {
			cmd.Name = string(bulk)
			continue
		}
		cmd.Args = append(cmd.Args, bulk)
	}

	return cmd, nil
}

func (c *Conn) isMonitoring() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.monitoring
}

func (c *Conn) setMonitoring() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.monitoring = true
}

func (c *Conn) subscribed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.channels)+len(c.patterns) > 0
}

// subscribe adds to set and returns the number of subscriptions afterwards.
func (c *Conn) subscribe(pattern bool, name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if pattern {
		c.patterns[name] = struct{}{}
	} else {
		c.channels[name] = struct{}{}
	}

	return len(c.channels) + len(c.patterns)
}

func (c *Conn) unsubscribe(pattern bool, name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if pattern {
		delete(c.patterns, name)
	} else {
		delete(c.channels, name)
	}

	return len(c.channels) + len(c.patterns)
}

func (c *Conn) subscriptions(pattern bool) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	set := c.channels
	if pattern {
		set = c.patterns
	}

	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// deliver sends a message for every subscription matching channel.
func (c *Conn) deliver(channel string, payload []byte) int {
	c.mu.Lock()

	var frames []protocol.Reply

	if _, ok := c.channels[channel]; ok {
		frames = append(frames, protocol.Array{
			protocol.Bulk("message"), protocol.Bulk(channel), protocol.Bulk(payload),
		})
	}

	for pattern := range c.patterns {
		if ok, _ := path.Match(pattern, channel); ok {
			frames = append(frames, protocol.Array{
				protocol.Bulk("pmessage"), protocol.Bulk(pattern), protocol.Bulk(channel), protocol.Bulk(payload),
			})
		}
	}

	c.mu.Unlock()

	for _, frame := range frames {
		if err := c.Reply(frame); err != nil {
			c.log.Debug("Failed to deliver message", zap.String("channel", channel), zap.Error(err))
		}
	}

	return len(frames)
}
