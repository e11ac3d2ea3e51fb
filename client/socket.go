package client

import (
	"errors"
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// dial opens a non-blocking socket and starts connecting it. The connect
// usually completes later, signalled by the socket becoming writable.
func dial(params Parameters) (int, error) {
	var (
		domain int
		sa     unix.Sockaddr
	)

	switch params.Scheme {
	case "unix":
		domain = unix.AF_UNIX
		sa = &unix.SockaddrUnix{Name: params.Path}

	case "tcp", "":
		addr, err := net.ResolveTCPAddr("tcp", params.Address())
		if err != nil {
			return -1, err
		}

		if ip4 := addr.IP.To4(); ip4 != nil {
			domain = unix.AF_INET
			inet4 := &unix.SockaddrInet4{Port: addr.Port}
			copy(inet4.Addr[:], ip4)
			sa = inet4
		} else {
			domain = unix.AF_INET6
			inet6 := &unix.SockaddrInet6{Port: addr.Port}
			copy(inet6.Addr[:], addr.IP.To16())
			sa = inet6
		}

	default:
		return -1, fmt.Errorf("%w %q", ErrUnsupportedScheme, params.Scheme)
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, err
	}

	if domain != unix.AF_UNIX {
		// Commands are small and pipelined, don't hold them back
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	}

	err = unix.Connect(fd, sa)
	if err != nil && !errors.Is(err, unix.EINPROGRESS) && !errors.Is(err, unix.EAGAIN) {
		unix.Close(fd)
		return -1, err
	}

	return fd, nil
}

// probeConnect checks whether an asynchronous connect succeeded. A refused
// connect only shows up as a writable (or hung up) socket, so the peer name
// is checked and, failing that, the pending socket error is fetched.
func probeConnect(fd int) error {
	if _, err := unix.Getpeername(fd); err == nil {
		return nil
	}

	soErr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}

	if soErr != 0 {
		return unix.Errno(soErr)
	}

	return unix.ENOTCONN
}

// isRefused tells connection refusals apart from other dial failures.
// connectFailureKind classifies a failed connect probe. A socket that
// reports no error but has no peer was refused as well.
func connectFailureKind(err error) error {
	if isRefused(err) || errors.Is(err, unix.ENOTCONN) {
		return ErrConnectionRefused
	}

	return ErrIO
}

func isRefused(err error) bool {
	return errors.Is(err, unix.ECONNREFUSED) || errors.Is(err, unix.ENOENT)
}

func isTemporary(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR)
}
