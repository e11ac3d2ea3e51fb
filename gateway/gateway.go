// Package gateway exposes a client over HTTP: commands are posted as JSON
// and answered with JSON, client metrics are served for prometheus.
package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	reuseport "github.com/kavu/go_reuseport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Doer sends a single command and waits for its parsed reply,
// *client.Client implements it.
type Doer interface {
	Do(ctx context.Context, name string, args ...interface{}) (interface{}, error)
}

type Options struct {
	Host string
	Port int

	// DebugHTTP puts gin in debug mode
	DebugHTTP bool

	// Timeout bounds every command. Defaults to 5 seconds
	Timeout time.Duration

	Client Doer

	// Gatherer is served on /metrics. Defaults to the prometheus default gatherer
	Gatherer prometheus.Gatherer

	Log *zap.Logger
}

type Gateway struct {
	addr    string
	client  Doer
	timeout time.Duration

	router *gin.Engine
	server *http.Server

	listener net.Listener

	log *zap.Logger
}

func New(options Options) *Gateway {
	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	timeout := options.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	gatherer := options.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	g := &Gateway{
		addr:    net.JoinHostPort(options.Host, strconv.Itoa(options.Port)),
		client:  options.Client,
		timeout: timeout,
		log:     log,
	}

	g.router = setupRouter(options.DebugHTTP, log)

	// Ping test
	g.router.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	g.router.GET("/health", g.health)
	g.router.POST("/command", g.command)
	g.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	g.server = &http.Server{
		Addr:    g.addr,
		Handler: g.router,
	}

	return g
}

// Handler returns the router, mostly useful for tests.
func (g *Gateway) Handler() http.Handler {
	return g.router
}

// Start listens and serves in the background.
func (g *Gateway) Start() error {
	listener, err := reuseport.Listen("tcp", g.addr)
	if err != nil {
		return err
	}

	g.listener = listener

	// Initializing the server in a goroutine so that
	// it won't block the graceful shutdown handling
	go func() {
		if err := g.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.log.Error("Http server errored", zap.Error(err))
		}
	}()

	g.log.Info("Listening", zap.String("addr", listener.Addr().String()))
	return nil
}

// Addr returns the address listened on once started.
func (g *Gateway) Addr() net.Addr {
	if g.listener == nil {
		return nil
	}

	return g.listener.Addr()
}

func (g *Gateway) Shutdown(ctx context.Context) error {
	g.server.SetKeepAlivesEnabled(false)
	return g.server.Shutdown(ctx)
}

func setupRouter(debugHTTP bool, log *zap.Logger) *gin.Engine {
	gin.DisableConsoleColor()
	if !debugHTTP {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Add a ginzap middleware, which:
	//   - Logs all requests, like a combined access and error log.
	//   - RFC3339 with UTC time format.
	r.Use(ginzap.GinzapWithConfig(log, &ginzap.Config{
		TimeFormat: time.RFC3339,
		UTC:        true,
		SkipPaths:  []string{"/health", "/metrics"},
	}))

	// Logs all panic to error log
	//   - stack means whether output the stack info.
	r.Use(ginzap.RecoveryWithZap(log, true))

	return r
}
