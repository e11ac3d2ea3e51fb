package redistest

import (
	"sync"
	"time"

	"github.com/luma/beacon/protocol"
)

// Pong answers every command with +PONG.
func Pong(conn *Conn, cmd protocol.Command) {
	conn.Reply(protocol.Status("PONG"))
}

// Silent never answers.
func Silent(conn *Conn, cmd protocol.Command) {}

// Hangup closes the connection as soon as a command arrives.
func Hangup(conn *Conn, cmd protocol.Command) {
	conn.Close()
}

// Script answers commands with replies, in order and regardless of the
// command. Once the replies run out commands are left unanswered.
func Script(replies ...protocol.Reply) Handler {
	var (
		mu   sync.Mutex
		next int
	)

	return func(conn *Conn, cmd protocol.Command) {
		mu.Lock()
		if next >= len(replies) {
			mu.Unlock()
			return
		}

		reply := replies[next]
		next++
		mu.Unlock()

		conn.Reply(reply)
	}
}

// Trickle wraps a handler so that its replies are written one byte at a
// time, splitting every frame across as many reads as possible.
func Trickle(handler Handler, delay time.Duration) Handler {
	return func(conn *Conn, cmd protocol.Command) {
		conn.setTrickle(delay)
		handler(conn, cmd)
	}
}
