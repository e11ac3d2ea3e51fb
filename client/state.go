package client

import (
	"fmt"

	"github.com/luma/beacon/protocol"
)

type Phase uint8

const (
	PhaseDisconnected Phase = iota
	PhaseConnecting
	PhaseConnected
)

func (p Phase) String() string {
	switch p {
	case PhaseDisconnected:
		return "DISCONNECTED"
	case PhaseConnecting:
		return "CONNECTING"
	case PhaseConnected:
		return "CONNECTED"
	default:
		return fmt.Sprintf("PHASE(%d)", uint8(p))
	}
}

// Context decides how replies are routed while connected.
type Context uint8

const (
	ContextNone Context = iota
	ContextTransaction
	ContextMonitor
	ContextPubSub
)

func (c Context) String() string {
	switch c {
	case ContextNone:
		return "NONE"
	case ContextTransaction:
		return "MULTI/EXEC"
	case ContextMonitor:
		return "MONITOR"
	case ContextPubSub:
		return "PUB/SUB"
	default:
		return fmt.Sprintf("CONTEXT(%d)", uint8(c))
	}
}

// ReplyFunc receives a raw reply. Returning an error drops the connection
// and hands the error to the error callback.
type ReplyFunc func(reply protocol.Reply) error

// state tracks the connection phase and the active context, and routes
// every decoded reply either to the oldest pending command or to the
// streaming callback of the active context.
type state struct {
	phase   Phase
	context Context
	stream  ReplyFunc

	queue commandQueue
}

// setPhase switches phase and leaves any context.
func (s *state) setPhase(phase Phase) {
	s.phase = phase
	s.context = ContextNone
	s.stream = nil
}

// setContext enters a context that still answers one reply per command.
func (s *state) setContext(context Context) {
	s.context = context
	s.stream = nil
}

// setStreamingContext enters a context where every reply goes to fn.
func (s *state) setStreamingContext(context Context, fn ReplyFunc) {
	if context != ContextMonitor && context != ContextPubSub {
		panic(usage("setStreamingContext", "%s is not a streaming context", context))
	}

	if fn == nil {
		panic(usage("setStreamingContext", "%s needs a callback", context))
	}

	s.context = context
	s.stream = fn
}

func (s *state) streaming() bool {
	return s.stream != nil
}

// reset drops the context and every pending command.
func (s *state) reset() {
	s.setPhase(PhaseDisconnected)
	s.queue.reset()
}

// process routes a single reply. Transitions between contexts are driven by
// the command that was dequeued, never by the content of the reply.
func (s *state) process(reply protocol.Reply) error {
	if s.phase != PhaseConnected {
		panic(usage("process", "reply received while %s", s.phase))
	}

	if s.streaming() {
		return s.stream(reply)
	}

	pending, ok := s.queue.dequeue()
	if !ok {
		return fmt.Errorf("%w: received a %s reply with no pending command", ErrProtocolDesync, reply.Kind())
	}

	switch pending.cmd.ID() {
	case protocol.MULTI:
		s.setContext(ContextTransaction)

	case protocol.EXEC, protocol.DISCARD:
		s.setContext(ContextNone)

	case protocol.SUBSCRIBE, protocol.PSUBSCRIBE:
		// The acknowledgement still completes the command, later replies stream
		s.setStreamingContext(ContextPubSub, pending.fn)

	case protocol.MONITOR:
		s.setStreamingContext(ContextMonitor, pending.fn)
	}

	if pending.fn == nil {
		return nil
	}

	return pending.fn(reply)
}

func (s *state) String() string {
	if s.phase != PhaseConnected || s.context == ContextNone {
		return s.phase.String()
	}

	return "[CONTEXT] " + s.context.String()
}
