package gateway_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tidwall/gjson"

	"github.com/luma/beacon/client"
	"github.com/luma/beacon/gateway"
	"github.com/luma/beacon/internal/redistest"
	"github.com/luma/beacon/protocol"
	"github.com/luma/beacon/transport"
)

type call struct {
	name string
	args []interface{}
}

type fakeDoer struct {
	calls  []call
	result interface{}
	err    error
}

func (f *fakeDoer) Do(ctx context.Context, name string, args ...interface{}) (interface{}, error) {
	f.calls = append(f.calls, call{name: name, args: args})
	return f.result, f.err
}

var _ = Describe("gateway", func() {
	var (
		doer    *fakeDoer
		handler http.Handler
	)

	BeforeEach(func() {
		doer = &fakeDoer{}
		handler = gateway.New(gateway.Options{Client: doer, Gatherer: prometheus.NewRegistry()}).Handler()
	})

	serve := func(method, path, body string) *httptest.ResponseRecorder {
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, httptest.NewRequest(method, path, strings.NewReader(body)))
		return recorder
	}

	It("answers /ping", func() {
		response := serve(http.MethodGet, "/ping", "")
		Expect(response.Code).To(Equal(http.StatusOK))
		Expect(response.Body.String()).To(Equal("pong"))
	})

	Describe("POST /command", func() {
		It("sends the command and returns its result", func() {
			doer.result = []byte("bar")

			response := serve(http.MethodPost, "/command", `{"command":"GET","args":["foo"]}`)
			Expect(response.Code).To(Equal(http.StatusOK))
			Expect(response.Body.String()).To(MatchJSON(`{"result":"bar"}`))

			Expect(doer.calls).To(Equal([]call{{name: "GET", args: []interface{}{"foo"}}}))
		})

		It("passes numbers on as strings", func() {
			doer.result = int64(3)

			response := serve(http.MethodPost, "/command", `{"command":"INCRBY","args":["n",2]}`)
			Expect(response.Body.String()).To(MatchJSON(`{"result":3}`))
			Expect(doer.calls[0].args).To(Equal([]interface{}{"n", "2"}))
		})

		It("renders nested replies", func() {
			doer.result = []interface{}{[]byte("a"), []byte(nil), int64(1), protocol.ErrorReply("ERR x")}

			response := serve(http.MethodPost, "/command", `{"command":"EXEC"}`)
			Expect(response.Body.String()).To(MatchJSON(`{"result":["a",null,1,{"error":"ERR x"}]}`))
		})

		It("renders nil replies as null", func() {
			doer.result = []byte(nil)

			response := serve(http.MethodPost, "/command", `{"command":"GET","args":["missing"]}`)
			Expect(response.Body.String()).To(MatchJSON(`{"result":null}`))
		})

		It("rejects malformed requests", func() {
			Expect(serve(http.MethodPost, "/command", `{`).Code).To(Equal(http.StatusBadRequest))
			Expect(serve(http.MethodPost, "/command", `{"args":[]}`).Code).To(Equal(http.StatusBadRequest))
			Expect(serve(http.MethodPost, "/command", `{"command":"GET","args":"foo"}`).Code).To(Equal(http.StatusBadRequest))
			Expect(doer.calls).To(BeEmpty())
		})

		It("maps error replies to 422", func() {
			doer.err = protocol.ErrorReply("WRONGTYPE nope")

			response := serve(http.MethodPost, "/command", `{"command":"GET","args":["list"]}`)
			Expect(response.Code).To(Equal(http.StatusUnprocessableEntity))
			Expect(gjson.Get(response.Body.String(), "error").String()).To(Equal("WRONGTYPE nope"))
		})

		It("maps connection failures to 502", func() {
			doer.err = &client.ConnectionError{Addr: "127.0.0.1:6379", Kind: client.ErrConnectionRefused}

			response := serve(http.MethodPost, "/command", `{"command":"PING"}`)
			Expect(response.Code).To(Equal(http.StatusBadGateway))
		})
	})

	It("reports unhealthy servers", func() {
		doer.err = context.DeadlineExceeded
		Expect(serve(http.MethodGet, "/health", "").Code).To(Equal(http.StatusServiceUnavailable))

		doer.err = nil
		doer.result = "PONG"
		Expect(serve(http.MethodGet, "/health", "").Code).To(Equal(http.StatusOK))
	})

	Describe("with a client", func() {
		var (
			server *redistest.Server
			loop   *transport.Loop
			cancel context.CancelFunc
			done   chan error
		)

		BeforeEach(func() {
			var err error

			server, err = redistest.NewServer(redistest.Options{})
			Expect(err).To(Succeed())

			loop, err = transport.NewLoop(transport.Options{})
			Expect(err).To(Succeed())

			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			done = make(chan error, 1)

			go func() { done <- loop.Run(ctx) }()
		})

		AfterEach(func() {
			cancel()
			Eventually(done, 5*time.Second).Should(Receive())
			Expect(loop.Close()).To(Succeed())
			Expect(server.Close()).To(Succeed())
		})

		It("serves commands and metrics", func() {
			params, err := client.ParseURL(server.URL())
			Expect(err).To(Succeed())

			registry := prometheus.NewRegistry()
			c := client.New(client.Options{
				Parameters: params,
				Loop:       loop,
				Metrics:    client.NewMetrics(registry),
			})

			handler = gateway.New(gateway.Options{Client: c, Gatherer: registry}).Handler()

			response := serve(http.MethodPost, "/command", `{"command":"SET","args":["foo","bar"]}`)
			Expect(response.Body.String()).To(MatchJSON(`{"result":"OK"}`))

			response = serve(http.MethodPost, "/command", `{"command":"HGETALL","args":["foo"]}`)
			Expect(response.Code).To(Equal(http.StatusUnprocessableEntity))

			response = serve(http.MethodPost, "/command", `{"command":"SUBSCRIBE","args":["foo"]}`)
			Expect(response.Code).To(Equal(http.StatusBadRequest))

			response = serve(http.MethodGet, "/metrics", "")
			Expect(response.Code).To(Equal(http.StatusOK))
			Expect(response.Body.String()).To(ContainSubstring("beacon_commands_sent_total 2"))
		})
	})
})
