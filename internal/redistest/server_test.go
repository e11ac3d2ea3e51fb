package redistest_test

import (
	"bufio"
	"context"
	"net"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/beacon/internal/redistest"
	"github.com/luma/beacon/protocol"
)

var _ = Describe("redistest", func() {
	var (
		server *redistest.Server
		conn   net.Conn
		reader *bufio.Reader
	)

	send := func(name string, args ...interface{}) {
		Expect(protocol.WriteCommand(conn, protocol.NewCommand(name, args...))).To(Succeed())
	}

	expectLine := func(line string) {
		Expect(conn.SetReadDeadline(time.Now().Add(5 * time.Second))).To(Succeed())

		response, err := reader.ReadString('\n')
		Expect(err).To(Succeed())
		Expect(response).To(Equal(line))
	}

	start := func(options redistest.Options) {
		var err error

		server, err = redistest.NewServer(options)
		Expect(err).To(Succeed())

		conn, err = net.Dial("tcp", server.Addr().String())
		Expect(err).To(Succeed())

		reader = bufio.NewReader(conn)
	}

	AfterEach(func() {
		if conn != nil {
			conn.Close()
		}

		Expect(server.Close()).To(Succeed())
	})

	It("listens on a random port", func() {
		start(redistest.Options{})

		Expect(server.Port()).To(BeNumerically(">", 0))
		Expect(server.URL()).To(HavePrefix("tcp://127.0.0.1:"))
	})

	It("answers PING with PONG", func() {
		start(redistest.Options{})

		send("PING")
		expectLine("+PONG\r\n")

		Expect(server.Received()).To(ConsistOf(protocol.Command{Name: "PING", Args: [][]byte{}}))
	})

	It("stores and reads keys", func() {
		start(redistest.Options{})

		send("SET", "foo", "bar")
		expectLine("+OK\r\n")

		send("GET", "foo")
		expectLine("$3\r\n")
		expectLine("bar\r\n")

		send("GET", "missing")
		expectLine("$-1\r\n")
	})

	It("queues commands between MULTI and EXEC", func() {
		start(redistest.Options{})

		send("MULTI")
		expectLine("+OK\r\n")

		send("SET", "a", "1")
		expectLine("+QUEUED\r\n")

		send("EXISTS", "a")
		expectLine("+QUEUED\r\n")

		send("EXEC")
		expectLine("*2\r\n")
		expectLine("+OK\r\n")
		expectLine(":1\r\n")
	})

	It("publishes keyspace notifications to subscribers", func() {
		start(redistest.Options{})

		send("PSUBSCRIBE", "__keyspace@0__:*")
		expectLine("*3\r\n")
		expectLine("$10\r\n")
		expectLine("psubscribe\r\n")
		expectLine("$16\r\n")
		expectLine("__keyspace@0__:*\r\n")
		expectLine(":1\r\n")

		Expect(server.Store().Set(context.Background(), "foo", []byte("bar"))).To(Succeed())

		expectLine("*4\r\n")
		expectLine("$8\r\n")
		expectLine("pmessage\r\n")
	})

	It("answers with a script", func() {
		start(redistest.Options{
			Handler: redistest.Script(protocol.Integer(1), protocol.ErrorReply("ERR nope")),
		})

		send("ANYTHING")
		expectLine(":1\r\n")

		send("ANYTHING")
		expectLine("-ERR nope\r\n")
	})

	It("closes the connection on QUIT", func() {
		start(redistest.Options{})

		send("QUIT")
		expectLine("+OK\r\n")

		Expect(conn.SetReadDeadline(time.Now().Add(5 * time.Second))).To(Succeed())
		_, err := reader.ReadByte()
		Expect(err).To(HaveOccurred())
	})
})
