//go:build linux

package transport

import (
	"encoding/binary"
	"errors"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

const (
	EventRead  = uint32(unix.EPOLLIN | unix.EPOLLRDHUP)
	EventWrite = uint32(unix.EPOLLOUT)
	EventError = uint32(unix.EPOLLERR | unix.EPOLLHUP)
)

type Poller struct {
	fd     int
	wakeFd int

	events []unix.EpollEvent
}

func MakePoller(maxEvents int) (*Poller, error) {
	var (
		poller Poller
		err    error
	)

	if maxEvents < 1 {
		maxEvents = 128
	}
	poller.events = make([]unix.EpollEvent, maxEvents)

	// Open an epoll fd
	// https://man7.org/linux/man-pages/man2/epoll_create.2.html
	poller.fd, err = unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}

	// https://man7.org/linux/man-pages/man2/eventfd.2.html
	poller.wakeFd, err = unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(poller.fd)
		return nil, err
	}

	// Register our interest for reads on our wakeFd
	// https://man7.org/linux/man-pages/man2/epoll_ctl.2.html
	if err := poller.ctl(unix.EPOLL_CTL_ADD, poller.wakeFd, unix.EPOLLIN); err != nil {
		return nil, multierr.Append(err, poller.Close())
	}

	return &poller, nil
}

func (p *Poller) Add(fd int, events uint32) error {
	return p.ctl(unix.EPOLL_CTL_ADD, fd, events)
}

func (p *Poller) Modify(fd int, events uint32) error {
	return p.ctl(unix.EPOLL_CTL_MOD, fd, events)
}

func (p *Poller) Remove(fd int) error {
	err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil)
	if errors.Is(err, unix.ENOENT) || errors.Is(err, unix.EBADF) {
		// Already gone, e.g. the fd was closed before being removed
		return nil
	}

	return err
}

// Wake interrupts a Wait that is in progress, or makes the next one return
// immediately. It's safe to call from any goroutine.
func (p *Poller) Wake() error {
	var one [8]byte
	binary.LittleEndian.PutUint64(one[:], 1)

	_, err := unix.Write(p.wakeFd, one[:])
	if errors.Is(err, unix.EAGAIN) {
		// The counter is saturated, a wake up is pending anyway
		return nil
	}

	return err
}

// Wait blocks for up to timeoutMsec milliseconds (-1 blocks indefinitely)
// and calls fn for every fd that has events. Interrupted waits return
// without error.
func (p *Poller) Wait(timeoutMsec int, fn func(fd int, events uint32)) error {
	n, err := unix.EpollWait(p.fd, p.events, timeoutMsec)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil
		}
		return err
	}

	for i := 0; i < n; i++ {
		fd := int(p.events[i].Fd)

		if fd == p.wakeFd {
			p.drainWake()
			continue
		}

		fn(fd, p.events[i].Events)
	}

	return nil
}

func (p *Poller) Close() error {
	return multierr.Append(unix.Close(p.wakeFd), unix.Close(p.fd))
}

func (p *Poller) drainWake() {
	var buf [8]byte
	_, _ = unix.Read(p.wakeFd, buf[:])
}

func (p *Poller) ctl(op int, fd int, events uint32) error {
	return unix.EpollCtl(p.fd, op, fd, &unix.EpollEvent{
		Events: events,
		Fd:     int32(fd),
	})
}
