package client_test

import (
	"bytes"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/beacon/client"
	"github.com/luma/beacon/internal/redistest"
	"github.com/luma/beacon/protocol"
)

var _ = Describe("client / Conn", func() {
	var (
		h      *harness
		server *redistest.Server
		errs   *errorLog
	)

	BeforeEach(func() {
		h = startLoop()
		errs = &errorLog{}
	})

	AfterEach(func() {
		h.stop()

		if server != nil {
			Expect(server.Close()).To(Succeed())
			server = nil
		}
	})

	It("receives PONG from a server answering every command with it", func() {
		server = startServer(redistest.Options{Handler: redistest.Pong})
		conn := h.newConn(server, errs)

		fn, received := replies()
		h.on(func() {
			conn.Execute(protocol.NewCommand("PING"), fn)
		})

		Eventually(received).Should(Receive(Equal(protocol.Status("PONG"))))
		Expect(errs.all()).To(BeEmpty())
	})

	It("tells a nil bulk apart from an empty one", func() {
		server = startServer(redistest.Options{})
		conn := h.newConn(server, errs)

		fn, received := replies()
		h.on(func() {
			conn.Execute(protocol.NewCommand("GET", "missing"), fn)
			conn.Execute(protocol.NewCommand("SET", "empty", ""), nil)
			conn.Execute(protocol.NewCommand("GET", "empty"), fn)
		})

		var missing, empty protocol.Reply
		Eventually(received).Should(Receive(&missing))
		Eventually(received).Should(Receive(&empty))

		Expect(missing).To(Equal(protocol.Bulk(nil)))
		Expect(missing.(protocol.Bulk).IsNil()).To(BeTrue())

		Expect(empty).To(Equal(protocol.Bulk{}))
		Expect(empty.(protocol.Bulk).IsNil()).To(BeFalse())
	})

	It("writes and reads pipelined payloads spanning many chunks", func() {
		server = startServer(redistest.Options{Handler: echo})
		conn := h.newConn(server, errs)

		payloads := make([][]byte, 3)
		for i := range payloads {
			// Binary safe, CRLF included, and well past ChunkSize
			payloads[i] = bytes.Repeat([]byte("payload "+strconv.Itoa(i)+"\r\n"), 100*1024/11)
			Expect(len(payloads[i])).To(BeNumerically(">", 20*client.ChunkSize))
		}

		fn, received := replies()
		h.on(func() {
			for _, payload := range payloads {
				conn.Execute(protocol.NewCommand("ECHO", payload), fn)
			}
		})

		for _, payload := range payloads {
			var reply protocol.Reply
			Eventually(received, 5*time.Second).Should(Receive(&reply))
			Expect(reply).To(Equal(protocol.Bulk(payload)))
		}

		Expect(errs.all()).To(BeEmpty())

		commands := server.Received()
		Expect(commands).To(HaveLen(3))
		for i, cmd := range commands {
			Expect(cmd.Args).To(Equal([][]byte{payloads[i]}))
		}

		var pending int
		h.on(func() { pending = conn.Pending() })
		Expect(pending).To(BeZero())
	})

	It("completes commands in the order they were sent, however the replies are chunked", func() {
		server = startServer(redistest.Options{Handler: redistest.Trickle(echo, time.Microsecond)})
		conn := h.newConn(server, errs)

		const count = 20
		order := make(chan string, count)

		h.on(func() {
			for i := 0; i < count; i++ {
				conn.Execute(protocol.NewCommand("ECHO", i), func(reply protocol.Reply) error {
					order <- string(reply.(protocol.Bulk))
					return nil
				})
			}
		})

		for i := 0; i < count; i++ {
			Eventually(order, 5*time.Second).Should(Receive(Equal(strconv.Itoa(i))))
		}

		Expect(errs.all()).To(BeEmpty())
	})

	It("flushes commands executed while connecting once connected", func() {
		server = startServer(redistest.Options{Handler: echo})
		conn := h.newConn(server, errs)

		connected := make(chan client.Phase, 1)
		fn, received := replies()

		var started bool
		h.on(func() {
			started = conn.Connect(func(c *client.Conn) { connected <- c.Phase() })
			conn.Execute(protocol.NewCommand("ECHO", "early"), fn)
		})

		Expect(started).To(BeTrue())
		Eventually(connected).Should(Receive(Equal(client.PhaseConnected)))
		Eventually(received).Should(Receive(Equal(protocol.Bulk("early"))))
	})

	It("only starts one connect at a time", func() {
		server = startServer(redistest.Options{})
		conn := h.newConn(server, errs)

		connected := make(chan int, 2)

		var first, second bool
		h.on(func() {
			first = conn.Connect(func(*client.Conn) { connected <- 1 })
			second = conn.Connect(func(*client.Conn) { connected <- 2 })
		})

		Expect(first).To(BeTrue())
		Expect(second).To(BeFalse())

		Eventually(connected).Should(Receive(Equal(1)))
		Eventually(connected).Should(Receive(Equal(2)))
		Eventually(server.Connections).Should(Equal(1))
	})

	It("abandons pending commands when the server hangs up", func() {
		server = startServer(redistest.Options{Handler: redistest.Hangup})
		conn := h.newConn(server, errs)

		fn, received := replies()
		h.on(func() {
			conn.Execute(protocol.NewCommand("GET", "a"), fn)
			conn.Execute(protocol.NewCommand("GET", "b"), fn)
		})

		Eventually(errs.all).Should(HaveLen(1))
		Consistently(errs.all, 100*time.Millisecond).Should(HaveLen(1))
		Expect(received).NotTo(Receive())

		err := errs.all()[0]
		Expect(errors.Is(err, client.ErrIO)).To(BeTrue())

		var connErr *client.ConnectionError
		Expect(errors.As(err, &connErr)).To(BeTrue())
		Expect(connErr.Addr).To(Equal(server.Addr().String()))

		Expect(h.phase(conn)).To(Equal(client.PhaseDisconnected))

		var pending int
		h.on(func() { pending = conn.Pending() })
		Expect(pending).To(Equal(0))
	})

	It("fails with a desync when a reply has no pending command", func() {
		server = startServer(redistest.Options{
			Handler: func(conn *redistest.Conn, cmd protocol.Command) {
				conn.Reply(protocol.Status("OK"))
				conn.Reply(protocol.Status("OK"))
			},
		})
		conn := h.newConn(server, errs)

		fn, received := replies()
		h.on(func() {
			conn.Execute(protocol.NewCommand("SET", "a", "1"), fn)
		})

		Eventually(received).Should(Receive(Equal(protocol.Status("OK"))))
		Eventually(errs.all).Should(HaveLen(1))
		Expect(errors.Is(errs.all()[0], client.ErrProtocolDesync)).To(BeTrue())
		Expect(h.phase(conn)).To(Equal(client.PhaseDisconnected))
	})

	It("fails with a desync on malformed replies", func() {
		server = startServer(redistest.Options{
			Handler: func(conn *redistest.Conn, cmd protocol.Command) {
				conn.WriteRaw([]byte("?what\r\n"))
			},
		})
		conn := h.newConn(server, errs)

		h.on(func() {
			conn.Execute(protocol.NewCommand("PING"), nil)
		})

		Eventually(errs.all).Should(HaveLen(1))
		Expect(errors.Is(errs.all()[0], client.ErrProtocolDesync)).To(BeTrue())
		Expect(errors.Is(errs.all()[0], protocol.ErrUnknownReplyPrefix)).To(BeTrue())
	})

	It("reports refused connections", func() {
		listener, err := net.Listen("tcp", "127.0.0.1:0")
		Expect(err).To(Succeed())
		port := listener.Addr().(*net.TCPAddr).Port
		Expect(listener.Close()).To(Succeed())

		conn := client.NewConn(client.Options{
			Parameters: client.Parameters{Scheme: "tcp", Host: "127.0.0.1", Port: port},
			Loop:       h.loop,
			OnError:    errs.record,
		})

		h.on(func() {
			conn.Connect(nil)
		})

		Eventually(errs.all).Should(HaveLen(1))
		Expect(errors.Is(errs.all()[0], client.ErrConnectionRefused)).To(BeTrue())
		Expect(h.phase(conn)).To(Equal(client.PhaseDisconnected))
	})

	It("connects over unix sockets", func() {
		dir, err := os.MkdirTemp("", "beacon")
		Expect(err).To(Succeed())
		defer os.RemoveAll(dir)

		path := filepath.Join(dir, "beacon.sock")
		server = startServer(redistest.Options{Network: "unix", Addr: path, Handler: redistest.Pong})

		conn := h.newConn(server, errs)
		Expect(conn.String()).To(Equal(path))

		fn, received := replies()
		h.on(func() {
			conn.Execute(protocol.NewCommand("PING"), fn)
		})

		Eventually(received).Should(Receive(Equal(protocol.Status("PONG"))))
	})

	It("can be disconnected more than once", func() {
		server = startServer(redistest.Options{})
		conn := h.newConn(server, errs)

		connected := make(chan struct{})
		h.on(func() {
			conn.Connect(func(*client.Conn) { close(connected) })
		})
		Eventually(connected).Should(BeClosed())

		h.on(func() {
			conn.Disconnect()
			conn.Disconnect()
		})

		Expect(h.phase(conn)).To(Equal(client.PhaseDisconnected))
		Eventually(server.Connections).Should(Equal(0))
		Expect(errs.all()).To(BeEmpty())
	})
})

var _ = Describe("client / Conn without a running loop", func() {
	var (
		loop   *fakeLoop
		server *redistest.Server
		errs   *errorLog
		conn   *client.Conn
	)

	writable := func() {
		for _, onWritable := range loop.writes {
			onWritable()
		}
	}

	BeforeEach(func() {
		loop = newFakeLoop()
		errs = &errorLog{}
		server = startServer(redistest.Options{Handler: redistest.Silent})

		params, err := client.ParseURL(server.URL())
		Expect(err).To(Succeed())
		params.Timeout = 50 * time.Millisecond

		conn = client.NewConn(client.Options{Parameters: params, Loop: loop, OnError: errs.record})
	})

	AfterEach(func() {
		conn.Disconnect()
		Expect(server.Close()).To(Succeed())
	})

	It("requires a loop", func() {
		Expect(func() { client.NewConn(client.Options{OnError: errs.record}) }).To(Panic())
	})

	It("requires an error callback", func() {
		Expect(func() { client.NewConn(client.Options{Loop: loop}) }).To(Panic())
	})

	It("times out when the connect never completes", func() {
		Expect(conn.Connect(nil)).To(BeTrue())
		Expect(conn.Phase()).To(Equal(client.PhaseConnecting))
		Expect(loop.writes).To(HaveLen(1))
		Expect(loop.timers).To(HaveLen(1))
		Expect(loop.timers[0].d).To(Equal(50 * time.Millisecond))

		loop.fire()

		Expect(errs.all()).To(HaveLen(1))
		Expect(errors.Is(errs.all()[0], client.ErrConnectTimeout)).To(BeTrue())
		Expect(conn.Phase()).To(Equal(client.PhaseDisconnected))
		Expect(loop.writes).To(BeEmpty())
	})

	It("disarms the timeout once connected", func() {
		Expect(conn.Connect(nil)).To(BeTrue())

		Eventually(server.Connections).Should(Equal(1))
		writable()
		Expect(conn.IsConnected()).To(BeTrue())

		Expect(loop.timers).To(BeEmpty())
		Expect(loop.reads).To(HaveLen(1))
		Expect(loop.writes).To(BeEmpty())
	})

	It("only watches writes while there is something to write", func() {
		Expect(conn.Connect(nil)).To(BeTrue())

		Eventually(server.Connections).Should(Equal(1))
		writable()
		Expect(conn.IsConnected()).To(BeTrue())

		conn.Execute(protocol.NewCommand("PING"), nil)
		Expect(loop.writes).To(HaveLen(1))
		Expect(conn.Pending()).To(Equal(1))

		writable()

		Expect(loop.writes).To(BeEmpty())
		Expect(conn.Pending()).To(Equal(1))
	})

	It("panics when a streaming command has no callback", func() {
		Expect(func() { conn.Execute(protocol.NewCommand("SUBSCRIBE", "a"), nil) }).To(Panic())
		Expect(func() { conn.Execute(protocol.NewCommand("monitor"), nil) }).To(Panic())
		Expect(conn.Phase()).To(Equal(client.PhaseDisconnected))
	})

	It("panics when the error callback is nil", func() {
		Expect(func() { conn.SetErrorCallback(nil) }).To(Panic())
	})
})
