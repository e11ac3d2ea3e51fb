package client_test

import (
	"errors"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/beacon/client"
	"github.com/luma/beacon/internal/redistest"
	"github.com/luma/beacon/protocol"
)

var _ = Describe("client / PubSub", func() {
	var (
		h        *harness
		server   *redistest.Server
		errs     *errorLog
		messages chan client.PubSubMessage
		collect  client.PubSubFunc
	)

	BeforeEach(func() {
		h = startLoop()
		errs = &errorLog{}

		messages = make(chan client.PubSubMessage, 16)
		collect = func(msg client.PubSubMessage, _ *client.PubSub) {
			messages <- msg
		}
	})

	AfterEach(func() {
		h.stop()
		Expect(server.Close()).To(Succeed())
	})

	// publish retries until someone is subscribed to channel.
	publish := func(channel, payload string) {
		Eventually(func() int {
			return server.Publish(channel, []byte(payload))
		}).Should(BeNumerically(">", 0))
	}

	It("delivers messages of subscribed channels", func() {
		server = startServer(redistest.Options{})
		conn := h.newConn(server, errs)

		h.on(func() {
			client.NewPubSub(conn, collect).Subscribe("news")
		})

		publish("news", "hello")

		Eventually(messages).Should(Receive(Equal(client.PubSubMessage{
			Kind:    client.MessageKind,
			Channel: "news",
			Payload: []byte("hello"),
		})))

		var active client.Context
		h.on(func() { active = conn.Context() })
		Expect(active).To(Equal(client.ContextPubSub))
	})

	It("delivers messages of subscribed patterns", func() {
		server = startServer(redistest.Options{})
		conn := h.newConn(server, errs)

		h.on(func() {
			client.NewPubSub(conn, collect).PSubscribe("news.*")
		})

		publish("news.sport", "goal")

		Eventually(messages).Should(Receive(Equal(client.PubSubMessage{
			Kind:    client.PMessageKind,
			Pattern: "news.*",
			Channel: "news.sport",
			Payload: []byte("goal"),
		})))
	})

	It("closes the connection once unsubscribed from everything", func() {
		server = startServer(redistest.Options{})
		conn := h.newConn(server, errs)

		var pubsub *client.PubSub
		h.on(func() {
			pubsub = client.NewPubSub(conn, collect)
			pubsub.Subscribe("a")
		})

		publish("a", "first")
		Eventually(messages).Should(Receive())

		h.on(func() {
			pubsub.Unsubscribe("a")
		})

		Eventually(func() client.Phase { return h.phase(conn) }).Should(Equal(client.PhaseDisconnected))
		Consistently(messages, 100*time.Millisecond).ShouldNot(Receive())
		Expect(errs.all()).To(BeEmpty())
	})

	It("answers PING with a pong event", func() {
		server = startServer(redistest.Options{})
		conn := h.newConn(server, errs)

		var pubsub *client.PubSub
		h.on(func() {
			pubsub = client.NewPubSub(conn, collect)
			pubsub.Subscribe("a")
			pubsub.Ping("hi")
		})

		Eventually(messages).Should(Receive(Equal(client.PubSubMessage{
			Kind:    client.PongKind,
			Payload: []byte("hi"),
		})))
	})

	It("closes the connection on Quit", func() {
		server = startServer(redistest.Options{})
		conn := h.newConn(server, errs)

		var pubsub *client.PubSub
		h.on(func() {
			pubsub = client.NewPubSub(conn, collect)
			pubsub.Subscribe("a", "b")
		})

		publish("b", "x")
		Eventually(messages).Should(Receive())

		h.on(func() {
			pubsub.Quit()
		})

		Eventually(func() client.Phase { return h.phase(conn) }).Should(Equal(client.PhaseDisconnected))
		Expect(errs.all()).To(BeEmpty())
	})

	It("fails on frames it doesn't know", func() {
		server = startServer(redistest.Options{
			Handler: func(conn *redistest.Conn, cmd protocol.Command) {
				conn.Reply(protocol.Array{protocol.Bulk("subscribe"), protocol.Bulk("a"), protocol.Integer(1)})
				conn.Reply(protocol.Array{protocol.Bulk("weird"), protocol.Bulk("a")})
			},
		})
		conn := h.newConn(server, errs)

		h.on(func() {
			client.NewPubSub(conn, collect).Subscribe("a")
		})

		Eventually(errs.all).Should(HaveLen(1))
		Expect(errors.Is(errs.all()[0], client.ErrUnexpectedFrame)).To(BeTrue())
		Expect(errs.all()[0].Error()).To(ContainSubstring("weird"))
		Expect(messages).NotTo(Receive())
	})

	It("fails on error replies", func() {
		server = startServer(redistest.Options{
			Handler: func(conn *redistest.Conn, cmd protocol.Command) {
				conn.Reply(protocol.Array{protocol.Bulk("subscribe"), protocol.Bulk("a"), protocol.Integer(1)})
				conn.Reply(protocol.ErrorReply("ERR nope"))
			},
		})
		conn := h.newConn(server, errs)

		h.on(func() {
			client.NewPubSub(conn, collect).Subscribe("a")
		})

		Eventually(errs.all).Should(HaveLen(1))
		Expect(errors.Is(errs.all()[0], client.ErrUnexpectedFrame)).To(BeTrue())
	})
})
