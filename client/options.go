package client

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/luma/beacon/transport"
)

const (
	DefaultHost    = "127.0.0.1"
	DefaultPort    = 6379
	DefaultTimeout = 5 * time.Second
)

// EventLoop is the reactor a connection is driven by. *transport.Loop
// implements it.
type EventLoop interface {
	AddReadStream(fd int, fn func()) error
	AddWriteStream(fd int, fn func()) error
	RemoveReadStream(fd int) error
	RemoveWriteStream(fd int) error
	RemoveStream(fd int) error

	AddTimer(d time.Duration, fn func()) *transport.Timer
	CancelTimer(t *transport.Timer)

	Post(fn func())
}

var _ EventLoop = (*transport.Loop)(nil)

// Parameters describe the endpoint to connect to.
type Parameters struct {
	// Scheme is either "tcp" or "unix"
	Scheme string

	Host string
	Port int

	// Path of the unix domain socket
	Path string

	// Timeout bounds how long connecting may take. Defaults to DefaultTimeout
	Timeout time.Duration
}

func DefaultParameters() Parameters {
	return Parameters{
		Scheme:  "tcp",
		Host:    DefaultHost,
		Port:    DefaultPort,
		Timeout: DefaultTimeout,
	}
}

// ParseURL parses tcp://host:port, redis://host:port and unix:///path
// URLs. A bare host:port is treated as tcp. The connect timeout can be
// given as a duration or in seconds with the timeout query parameter,
// e.g. tcp://127.0.0.1:6379?timeout=500ms
func ParseURL(raw string) (Parameters, error) {
	params := DefaultParameters()

	if !strings.Contains(raw, "://") {
		raw = "tcp://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return params, fmt.Errorf("Failed to parse '%s': %w", raw, err)
	}

	switch u.Scheme {
	case "tcp", "redis":
		params.Scheme = "tcp"

		if host := u.Hostname(); host != "" {
			params.Host = host
		}

		if port := u.Port(); port != "" {
			params.Port, err = strconv.Atoi(port)
			if err != nil || params.Port < 1 || params.Port > 65535 {
				return params, fmt.Errorf("Failed to parse '%s': invalid port %q", raw, port)
			}
		}

	case "unix":
		params.Scheme = "unix"
		params.Path = u.Host + u.Path

		if params.Path == "" {
			return params, fmt.Errorf("Failed to parse '%s': missing socket path", raw)
		}

	default:
		return params, fmt.Errorf("Failed to parse '%s': %w %q", raw, ErrUnsupportedScheme, u.Scheme)
	}

	if timeout := u.Query().Get("timeout"); timeout != "" {
		params.Timeout, err = parseTimeout(timeout)
		if err != nil {
			return params, fmt.Errorf("Failed to parse '%s': %w", raw, err)
		}
	}

	return params, nil
}

func parseTimeout(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}

	seconds, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q", s)
	}

	return time.Duration(seconds * float64(time.Second)), nil
}

// Address returns host:port, or the socket path for unix sockets.
func (p Parameters) Address() string {
	if p.Scheme == "unix" {
		return p.Path
	}

	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

func (p Parameters) String() string {
	return p.Scheme + "://" + p.Address()
}

type Options struct {
	Parameters Parameters

	// Loop drives the connection, it's required
	Loop EventLoop

	// OnError is called once whenever the connection is dropped because of a
	// fault. NewConn requires it, Client supplies its own
	OnError ErrorFunc

	Metrics *Metrics

	Log *zap.Logger
}
