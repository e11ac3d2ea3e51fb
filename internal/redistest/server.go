// Package redistest runs small RESP servers for tests and local tooling.
//
// A Server either answers with a custom Handler or, by default, behaves like
// a tiny Redis backed by an in-memory store: strings, MULTI/EXEC,
// pub/sub and MONITOR.
package redistest

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	reuseport "github.com/kavu/go_reuseport"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/beacon/internal/storage"
	"github.com/luma/beacon/protocol"
)

// Handler answers a single command. It's called from the goroutine
// reading conn, commands of the same connection are handled in order.
type Handler func(conn *Conn, cmd protocol.Command)

type Options struct {
	// Network is "tcp" (the default) or "unix"
	Network string

	// Addr defaults to 127.0.0.1:0, a random port
	Addr string

	// Handler replaces the default command dispatch
	Handler Handler

	// Store backs the default dispatch. A new InmemoryStore is used when nil
	Store storage.Store

	Log *zap.Logger
}

type Server struct {
	listener net.Listener
	handler  Handler
	store    storage.Store

	mu       sync.Mutex
	conns    map[*Conn]struct{}
	received []protocol.Command
	closed   bool

	wg sync.WaitGroup

	log *zap.Logger
}

// NewServer starts listening and accepting connections straight away.
func NewServer(options Options) (*Server, error) {
	network := options.Network
	if network == "" {
		network = "tcp"
	}

	addr := options.Addr
	if addr == "" && network == "tcp" {
		addr = "127.0.0.1:0"
	}

	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	var (
		listener net.Listener
		err      error
	)

	if network == "tcp" {
		listener, err = reuseport.Listen(network, addr)
	} else {
		listener, err = net.Listen(network, addr)
	}

	if err != nil {
		return nil, fmt.Errorf("Failed to listen on %s: %w", addr, err)
	}

	store := options.Store
	if store == nil {
		store = storage.NewInmemoryStore()
	}

	s := &Server{
		listener: listener,
		handler:  options.Handler,
		store:    store,
		conns:    make(map[*Conn]struct{}),
		log:      log.With(zap.String("addr", listener.Addr().String())),
	}

	if s.handler == nil {
		s.handler = s.dispatch
	}

	s.wg.Add(2)
	go s.acceptLoop()
	go s.notifyLoop(store.ListenToUpdates())

	return s, nil
}

// Addr returns the address the server listens on.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Port returns the TCP port, or 0 for unix sockets.
func (s *Server) Port() int {
	if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}

	return 0
}

// URL returns an address the client can parse.
func (s *Server) URL() string {
	addr := s.listener.Addr()
	if addr.Network() == "unix" {
		return "unix://" + addr.String()
	}

	return "tcp://" + addr.String()
}

func (s *Server) Store() storage.Store {
	return s.store
}

// Received returns every command received so far, across connections.
func (s *Server) Received() []protocol.Command {
	s.mu.Lock()
	defer s.mu.Unlock()

	received := make([]protocol.Command, len(s.received))
	copy(received, s.received)

	return received
}

// Connections returns how many clients are currently connected.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.conns)
}

// Close stops accepting, drops every client and closes the store.
func (s *Server) Close() (err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true

	conns := make([]*Conn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	err = multierr.Append(err, s.listener.Close())

	for _, conn := range conns {
		err = multierr.Append(err, conn.Close())
	}

	err = multierr.Append(err, s.store.Close())

	s.wg.Wait()
	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		netConn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}

			s.log.Warn("Failed to accept", zap.Error(err))
			return
		}

		conn := newConn(s, netConn)

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			netConn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.removeConn(conn)

			conn.serve()
		}()
	}
}

// notifyLoop turns store updates into keyspace notifications.
func (s *Server) notifyLoop(updates <-chan *storage.Update) {
	defer s.wg.Done()

	for update := range updates {
		s.Publish("__keyspace@0__:"+update.Key, []byte(update.Event))
	}
}

func (s *Server) removeConn(conn *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.conns, conn)
}

func (s *Server) record(cmd protocol.Command) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.received = append(s.received, cmd)
}

func (s *Server) peers() []*Conn {
	s.mu.Lock()
	defer s.mu.Unlock()

	conns := make([]*Conn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}

	return conns
}

// Publish delivers payload to every client subscribed to channel, directly
// or by pattern, and returns how many received it.
func (s *Server) Publish(channel string, payload []byte) int {
	receivers := 0

	for _, conn := range s.peers() {
		receivers += conn.deliver(channel, payload)
	}

	return receivers
}

// feed sends a MONITOR line describing cmd to every monitoring client.
func (s *Server) feed(from *Conn, cmd protocol.Command, timestamp float64) {
	var line strings.Builder

	fmt.Fprintf(&line, "%.6f [0 %s] %q", timestamp, from.RemoteAddr(), cmd.Name)
	for _, arg := range cmd.Args {
		fmt.Fprintf(&line, " %q", arg)
	}

	for _, conn := range s.peers() {
		if conn != from && conn.isMonitoring() {
			if err := conn.Reply(protocol.Status(line.String())); err != nil {
				s.log.Debug("Failed to feed monitor", zap.Error(err))
			}
		}
	}
}
