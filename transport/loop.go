package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var (
	ErrLoopRunning = errors.New("Event loop is already running")
	ErrLoopClosed  = errors.New("Event loop is closed")
)

type stream struct {
	onRead  func()
	onWrite func()
	events  uint32
}

func (s *stream) interest() uint32 {
	var events uint32

	if s.onRead != nil {
		events |= EventRead
	}

	if s.onWrite != nil {
		events |= EventWrite
	}

	return events
}

// Loop is a single threaded reactor. Readiness callbacks, timers and
// posted tasks all run on the goroutine that calls Run, one at a time.
//
// Apart from Post, Stop and Close, methods must only be called from that
// goroutine (i.e. from inside a callback) or before Run is called.
type Loop struct {
	poller *Poller

	streams map[int]*stream
	timers  timerHeap

	mu    sync.Mutex
	tasks []func()

	running int32
	stopped int32

	log *zap.Logger
}

func NewLoop(options Options) (*Loop, error) {
	poller, err := MakePoller(options.MaxEvents)
	if err != nil {
		return nil, fmt.Errorf("Failed to create poller: %w", err)
	}

	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	return &Loop{
		poller:  poller,
		streams: make(map[int]*stream),
		tasks:   make([]func(), 0),
		log:     log,
	}, nil
}

// AddReadStream calls fn whenever fd is readable, replacing any previous read callback.
func (l *Loop) AddReadStream(fd int, fn func()) error {
	return l.update(fd, func(s *stream) { s.onRead = fn })
}

// AddWriteStream calls fn whenever fd is writable, replacing any previous write callback.
func (l *Loop) AddWriteStream(fd int, fn func()) error {
	return l.update(fd, func(s *stream) { s.onWrite = fn })
}

func (l *Loop) RemoveReadStream(fd int) error {
	return l.update(fd, func(s *stream) { s.onRead = nil })
}

func (l *Loop) RemoveWriteStream(fd int) error {
	return l.update(fd, func(s *stream) { s.onWrite = nil })
}

// RemoveStream drops every callback registered for fd. It must be called
// before fd is closed.
func (l *Loop) RemoveStream(fd int) error {
	if _, ok := l.streams[fd]; !ok {
		return nil
	}

	delete(l.streams, fd)
	return l.poller.Remove(fd)
}

func (l *Loop) update(fd int, change func(s *stream)) error {
	s, ok := l.streams[fd]
	if !ok {
		s = &stream{}
	}

	change(s)
	events := s.interest()

	switch {
	case events == 0:
		return l.RemoveStream(fd)

	case !ok:
		if err := l.poller.Add(fd, events); err != nil {
			return err
		}
		l.streams[fd] = s

	case events != s.events:
		if err := l.poller.Modify(fd, events); err != nil {
			return err
		}
	}

	s.events = events
	return nil
}

// AddTimer schedules fn to run once after d.
func (l *Loop) AddTimer(d time.Duration, fn func()) *Timer {
	t := &Timer{
		when: time.Now().Add(d),
		fn:   fn,
	}

	l.timers.add(t)
	return t
}

// CancelTimer stops t from firing. Cancelling a nil, fired or already
// cancelled timer does nothing.
func (l *Loop) CancelTimer(t *Timer) {
	if t == nil {
		return
	}

	l.timers.remove(t)
	t.index = -1
	t.fn = nil
}

// Post queues fn to run on the loop goroutine. It's safe to call from any
// goroutine, tasks run in the order they were posted.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.tasks = append(l.tasks, fn)
	l.mu.Unlock()

	if err := l.poller.Wake(); err != nil {
		l.log.Warn("Failed to wake the event loop", zap.Error(err))
	}
}

// Run dispatches events until ctx is cancelled or Stop is called.
func (l *Loop) Run(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&l.running, 0, 1) {
		return ErrLoopRunning
	}
	defer atomic.StoreInt32(&l.running, 0)

	if l.isStopped() {
		return ErrLoopClosed
	}

	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			l.Stop()
		case <-done:
		}
	}()

	l.log.Debug("Event loop running")

	for !l.isStopped() {
		if err := l.tick(); err != nil {
			return err
		}
	}

	l.log.Debug("Event loop stopped")

	return ctx.Err()
}

func (l *Loop) tick() error {
	pending := l.runTasks()

	for _, t := range l.timers.expired(time.Now()) {
		// An earlier timer of the same batch may have cancelled this one
		if t.fn != nil {
			t.fn()
		}
	}

	timeout := -1

	if pending > 0 || l.hasTasks() {
		timeout = 0
	} else if d, ok := l.timers.next(time.Now()); ok {
		timeout = int((d + time.Millisecond - 1) / time.Millisecond)
	}

	if err := l.poller.Wait(timeout, l.dispatch); err != nil {
		return fmt.Errorf("Failed to wait for events: %w", err)
	}

	return nil
}

func (l *Loop) dispatch(fd int, events uint32) {
	s, ok := l.streams[fd]
	if !ok {
		return
	}

	failed := events&EventError != 0

	if (failed || events&EventRead != 0) && s.onRead != nil {
		s.onRead()
	}

	// The read callback may have removed the stream
	s, ok = l.streams[fd]
	if !ok {
		return
	}

	if (failed || events&EventWrite != 0) && s.onWrite != nil {
		s.onWrite()
	}
}

// runTasks runs every task posted so far and returns how many ran. Tasks
// posted while running are left for the next tick.
func (l *Loop) runTasks() int {
	l.mu.Lock()
	tasks := l.tasks
	l.tasks = make([]func(), 0, len(tasks))
	l.mu.Unlock()

	for _, task := range tasks {
		task()
	}

	return len(tasks)
}

func (l *Loop) hasTasks() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.tasks) > 0
}

// Stop makes Run return after the current tick. It's safe to call from any goroutine.
func (l *Loop) Stop() {
	if atomic.CompareAndSwapInt32(&l.stopped, 0, 1) {
		if err := l.poller.Wake(); err != nil {
			l.log.Warn("Failed to wake the event loop", zap.Error(err))
		}
	}
}

// Close stops the loop and releases the poller. Registered fds are not
// closed, they belong to whoever registered them.
func (l *Loop) Close() error {
	l.Stop()

	var err error
	for fd := range l.streams {
		err = multierr.Append(err, l.poller.Remove(fd))
	}

	return multierr.Append(err, l.poller.Close())
}

func (l *Loop) isStopped() bool {
	return atomic.LoadInt32(&l.stopped) == 1
}
