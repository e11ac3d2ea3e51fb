package client

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/luma/beacon/protocol"
)

// MonitorEvent is a single line streamed by MONITOR.
type MonitorEvent struct {
	Timestamp float64
	Database  int

	// Client is the address of the client that sent the command, servers
	// before 2.6 don't report it
	Client string

	Command   string
	Arguments string
}

type MonitorFunc func(event MonitorEvent, monitor *Monitor)

// Matches " (db 0) " on servers before 2.6 and " [0 127.0.0.1:6379] " after.
var monitorOrigin = regexp.MustCompile(` \(db (\d+)\) | \[(\d+) (.*?)\] `)

// ParseMonitorEvent parses a MONITOR line in either of the known formats:
//
//	1339518083.107412 (db 0) "keys" "*"
//	1339518083.107412 [0 127.0.0.1:60866] "keys" "*"
func ParseMonitorEvent(line string) (MonitorEvent, error) {
	var event MonitorEvent

	if loc := monitorOrigin.FindStringSubmatchIndex(line); loc != nil {
		group := func(i int) string {
			if loc[2*i] < 0 {
				return ""
			}
			return line[loc[2*i]:loc[2*i+1]]
		}

		db := group(1)
		if db == "" {
			db = group(2)
			event.Client = group(3)
		}

		event.Database, _ = strconv.Atoi(db)
		line = line[:loc[0]] + " " + line[loc[1]:]
	}

	parts := strings.SplitN(line, " ", 3)

	timestamp, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return event, fmt.Errorf("Invalid monitor timestamp %q", parts[0])
	}
	event.Timestamp = timestamp

	if len(parts) > 1 {
		event.Command = strings.Trim(parts[1], `"`)
	}

	if len(parts) > 2 {
		event.Arguments = parts[2]
	}

	return event, nil
}

// Monitor streams every command processed by the server.
type Monitor struct {
	conn *Conn
	fn   MonitorFunc

	started bool
	acked   bool
}

// NewMonitor wraps conn, sending MONITOR straight away when autostart is set.
func NewMonitor(conn *Conn, fn MonitorFunc, autostart bool) *Monitor {
	if fn == nil {
		panic(usage("NewMonitor", "callback must not be nil"))
	}

	m := &Monitor{conn: conn, fn: fn}

	if autostart {
		m.Start()
	}

	return m
}

// Start sends MONITOR, it does nothing when already started.
func (m *Monitor) Start() {
	if m.started {
		return
	}

	m.started = true
	m.conn.Execute(protocol.NewCommand(protocol.MONITOR), m.handle)
}

// Stop disconnects, a connection can't leave monitor mode otherwise.
func (m *Monitor) Stop() {
	m.conn.Disconnect()
	m.started = false
	m.acked = false
}

func (m *Monitor) handle(reply protocol.Reply) error {
	status, ok := reply.(protocol.Status)
	if !ok {
		return fmt.Errorf("%w: %s inside of a monitor context", ErrUnexpectedFrame, describe(reply))
	}

	if !m.acked {
		// +OK for MONITOR itself
		m.acked = true
		return nil
	}

	event, err := ParseMonitorEvent(string(status))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnexpectedFrame, err)
	}

	m.fn(event, m)
	return nil
}
