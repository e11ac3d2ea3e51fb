package client_test

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/luma/beacon/client"
	"github.com/luma/beacon/internal/redistest"
	"github.com/luma/beacon/protocol"
	"github.com/luma/beacon/transport"
)

// harness runs a real event loop in the background. Nothing running on the
// loop may call Expect, results are handed back over channels.
type harness struct {
	loop    *transport.Loop
	cancel  context.CancelFunc
	stopped chan error
	log     *zap.Logger
}

func startLoop() *harness {
	log, err := zap.NewDevelopment()
	Expect(err).To(Succeed())

	loop, err := transport.NewLoop(transport.Options{Log: log})
	Expect(err).To(Succeed())

	ctx, cancel := context.WithCancel(context.Background())

	h := &harness{
		loop:    loop,
		cancel:  cancel,
		stopped: make(chan error, 1),
		log:     log,
	}

	go func() {
		h.stopped <- loop.Run(ctx)
	}()

	return h
}

func (h *harness) stop() {
	h.cancel()
	Eventually(h.stopped, 5*time.Second).Should(Receive())
	Expect(h.loop.Close()).To(Succeed())
}

// on runs fn on the loop and waits for it to return.
func (h *harness) on(fn func()) {
	done := make(chan struct{})

	h.loop.Post(func() {
		defer close(done)
		fn()
	})

	Eventually(done, 5*time.Second).Should(BeClosed())
}

func (h *harness) phase(conn *client.Conn) client.Phase {
	var phase client.Phase
	h.on(func() { phase = conn.Phase() })
	return phase
}

func (h *harness) newConn(server *redistest.Server, errs *errorLog) *client.Conn {
	params, err := client.ParseURL(server.URL())
	Expect(err).To(Succeed())

	options := client.Options{
		Parameters: params,
		Loop:       h.loop,
		OnError:    errs.record,
		Log:        h.log,
	}

	return client.NewConn(options)
}

func startServer(options redistest.Options) *redistest.Server {
	server, err := redistest.NewServer(options)
	Expect(err).To(Succeed())

	return server
}

// errorLog collects the errors handed to an error callback.
type errorLog struct {
	mu   sync.Mutex
	errs []error
}

func (l *errorLog) record(conn *client.Conn, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.errs = append(l.errs, err)
}

func (l *errorLog) all() []error {
	l.mu.Lock()
	defer l.mu.Unlock()

	errs := make([]error, len(l.errs))
	copy(errs, l.errs)

	return errs
}

// replies returns a callback sending every reply on a buffered channel.
func replies() (client.ReplyFunc, chan protocol.Reply) {
	ch := make(chan protocol.Reply, 64)

	return func(reply protocol.Reply) error {
		ch <- reply
		return nil
	}, ch
}

// echo answers every command with its first argument.
func echo(conn *redistest.Conn, cmd protocol.Command) {
	if len(cmd.Args) == 0 {
		conn.Reply(protocol.Status("PONG"))
		return
	}

	conn.Reply(protocol.Bulk(cmd.Args[0]))
}

// fakeLoop records registrations without ever polling, readiness and
// timers are fired by hand.
type fakeLoop struct {
	reads  map[int]func()
	writes map[int]func()
	timers []*fakeTimer
	posted []func()
}

type fakeTimer struct {
	d      time.Duration
	fn     func()
	handle *transport.Timer
}

func newFakeLoop() *fakeLoop {
	return &fakeLoop{
		reads:  make(map[int]func()),
		writes: make(map[int]func()),
	}
}

func (l *fakeLoop) AddReadStream(fd int, fn func()) error {
	l.reads[fd] = fn
	return nil
}

func (l *fakeLoop) AddWriteStream(fd int, fn func()) error {
	l.writes[fd] = fn
	return nil
}

func (l *fakeLoop) RemoveReadStream(fd int) error {
	delete(l.reads, fd)
	return nil
}

func (l *fakeLoop) RemoveWriteStream(fd int) error {
	delete(l.writes, fd)
	return nil
}

func (l *fakeLoop) RemoveStream(fd int) error {
	delete(l.reads, fd)
	delete(l.writes, fd)
	return nil
}

func (l *fakeLoop) AddTimer(d time.Duration, fn func()) *transport.Timer {
	t := &fakeTimer{d: d, fn: fn, handle: &transport.Timer{}}
	l.timers = append(l.timers, t)
	return t.handle
}

func (l *fakeLoop) CancelTimer(handle *transport.Timer) {
	for i, t := range l.timers {
		if t.handle == handle {
			l.timers = append(l.timers[:i], l.timers[i+1:]...)
			return
		}
	}
}

func (l *fakeLoop) Post(fn func()) {
	l.posted = append(l.posted, fn)
}

// fire runs every pending timer.
func (l *fakeLoop) fire() {
	timers := l.timers
	l.timers = nil

	for _, t := range timers {
		t.fn()
	}
}

var _ client.EventLoop = (*fakeLoop)(nil)
