package client

import (
	"github.com/luma/beacon/protocol"
)

type pendingCommand struct {
	cmd protocol.Command
	fn  ReplyFunc
}

// commandQueue holds the commands that were written but not answered yet,
// oldest first.
type commandQueue struct {
	items []pendingCommand
	head  int
}

func (q *commandQueue) enqueue(cmd protocol.Command, fn ReplyFunc) {
	q.items = append(q.items, pendingCommand{cmd: cmd, fn: fn})
}

// dequeue removes the oldest command. ok is false if the queue is empty.
func (q *commandQueue) dequeue() (pending pendingCommand, ok bool) {
	if q.head >= len(q.items) {
		return pendingCommand{}, false
	}

	pending = q.items[q.head]
	q.items[q.head] = pendingCommand{}
	q.head++

	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	}

	return pending, true
}

func (q *commandQueue) len() int {
	return len(q.items) - q.head
}

func (q *commandQueue) reset() {
	q.items = nil
	q.head = 0
}
