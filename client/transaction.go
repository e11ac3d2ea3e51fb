package client

import (
	"fmt"

	"github.com/luma/beacon/protocol"
)

// ExecFunc receives the results of a transaction, positionally matching
// the commands that were queued. Each result is shaped by the parser of
// its command, a command that failed inside the transaction yields its
// error as the result. err is set when the transaction as a whole failed.
type ExecFunc func(results []interface{}, err error)

// Transaction wraps a MULTI/EXEC block.
//
// Commands are sent as soon as they're added, the server acknowledges each
// of them with QUEUED. EXEC takes its place in the outbound order when Exec
// is called but is only written once every acknowledgement has been
// received, so a command that isn't acknowledged drops the connection with
// ErrProtocolDesync before the transaction is executed. Commands executed on
// the connection after Exec are written after EXEC.
type Transaction struct {
	conn *Conn

	// commands acknowledged as QUEUED, in the order they were sent
	commands []protocol.Command

	// pending acknowledgements, MULTI included
	pending int

	finished bool
}

// NewTransaction starts a transaction on conn by sending MULTI.
func NewTransaction(conn *Conn) *Transaction {
	tx := &Transaction{conn: conn}

	tx.pending++
	conn.Execute(protocol.NewCommand(protocol.MULTI), tx.onMulti)

	return tx
}

// Do queues a command built from name and args.
func (tx *Transaction) Do(name string, args ...interface{}) *Transaction {
	return tx.Command(protocol.NewCommand(name, args...))
}

// Command queues cmd inside the transaction.
func (tx *Transaction) Command(cmd protocol.Command) *Transaction {
	if tx.finished {
		panic(usage("Transaction.Command", "transaction already finished"))
	}

	switch cmd.ID() {
	case protocol.MULTI, protocol.EXEC, protocol.DISCARD:
		panic(usage("Transaction.Command", "%s cannot be queued inside a transaction", cmd.ID()))
	}

	tx.pending++
	tx.conn.Execute(cmd, func(reply protocol.Reply) error {
		if _, ok := reply.(protocol.Queued); !ok {
			return fmt.Errorf("%w: %s was answered with %s instead of QUEUED", ErrProtocolDesync, cmd.ID(), describe(reply))
		}

		tx.commands = append(tx.commands, cmd)
		tx.acknowledged()
		return nil
	})

	return tx
}

// Len returns how many commands have been acknowledged so far.
func (tx *Transaction) Len() int {
	return len(tx.commands)
}

// Exec sends EXEC once every queued command has been acknowledged and
// hands the results to fn.
func (tx *Transaction) Exec(fn ExecFunc) {
	if fn == nil {
		panic(usage("Transaction.Exec", "callback must not be nil"))
	}

	if tx.finished {
		panic(usage("Transaction.Exec", "transaction already finished"))
	}

	tx.finished = true

	exec := func(reply protocol.Reply) error {
		return tx.onExec(reply, fn)
	}

	tx.conn.executeWhen(protocol.NewCommand(protocol.EXEC), exec, func() bool {
		return tx.pending == 0
	})
}

// Discard sends DISCARD straight away, throwing every queued command
// away. fn may be nil.
func (tx *Transaction) Discard(fn func(err error)) {
	if tx.finished {
		panic(usage("Transaction.Discard", "transaction already finished"))
	}

	tx.finished = true
	tx.conn.Execute(protocol.NewCommand(protocol.DISCARD), func(reply protocol.Reply) error {
		if fn == nil {
			return nil
		}

		if e, ok := reply.(protocol.ErrorReply); ok {
			fn(e)
		} else {
			fn(nil)
		}
		return nil
	})
}

func (tx *Transaction) acknowledged() {
	tx.pending--

	if tx.pending == 0 && tx.finished {
		tx.conn.flushDeferred()
	}
}

func (tx *Transaction) onMulti(reply protocol.Reply) error {
	switch reply.(type) {
	case protocol.Queued, protocol.ErrorReply:
		return fmt.Errorf("%w: MULTI was answered with %s", ErrProtocolDesync, describe(reply))
	}

	tx.acknowledged()
	return nil
}

func (tx *Transaction) onExec(reply protocol.Reply, fn ExecFunc) error {
	switch r := reply.(type) {
	case protocol.ErrorReply:
		fn(nil, r)
		return nil

	case protocol.Array:
		if r.IsNil() {
			fn(nil, ErrTransactionAborted)
			return nil
		}

		if len(r) != len(tx.commands) {
			return fmt.Errorf("%w: EXEC returned %d replies for %d queued commands", ErrProtocolDesync, len(r), len(tx.commands))
		}

		results := make([]interface{}, len(r))
		for i, raw := range r {
			result, err := protocol.ParseResponse(tx.commands[i], raw)
			if err != nil {
				results[i] = err
				continue
			}
			results[i] = result
		}

		fn(results, nil)
		return nil

	default:
		return fmt.Errorf("%w: EXEC was answered with %s", ErrProtocolDesync, describe(reply))
	}
}

// describe names a reply for error messages.
func describe(reply protocol.Reply) string {
	switch r := reply.(type) {
	case protocol.Status:
		return fmt.Sprintf("status %q", string(r))
	case protocol.ErrorReply:
		return fmt.Sprintf("error %q", string(r))
	case nil:
		return "nothing"
	default:
		return "a " + r.Kind().String() + " reply"
	}
}
