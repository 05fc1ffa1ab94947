// Package ticket implements the single in-flight request object shared by
// the session's outbound queue, its awaited set, and the device endpoint's
// reply matching (spec §3 "Ticket", §4.2).
package ticket

import (
	"sync"

	"github.com/go-fuse-transport/fused/wire"
)

// Handler runs once a reply has been copied into a ticket, before its
// waiter is woken. Only a small number of opcodes need one (READ, to
// stash the data buffer somewhere the adapter can find it without another
// allocation); most tickets carry a nil Handler.
type Handler func(t *Ticket)

// Ticket is one in-flight request: its outgoing frame, its eventual
// reply, and the condition variable a VFS caller blocks on while waiting.
// Tickets are reference counted because they are reachable from up to
// three places at once — the outbound queue, the awaited set, and the
// caller's stack frame — and must outlive whichever of those lets go of
// it first (spec §9 "Ticket ↔ session ↔ waiter cycle").
type Ticket struct {
	mu   sync.Mutex
	cond sync.Cond

	// Unique is this ticket's session-scoped identifier. Nonzero, and
	// not reused while an interrupt for it may still arrive (spec §3
	// invariants).
	Unique uint64

	// Opcode is the request's opcode, used by the endpoint to decide
	// whether a "not implemented" reply should be cached (spec §4.2).
	Opcode wire.OpCode

	// Outgoing is the fully framed request, ready to copy into a
	// server's read buffer verbatim.
	Outgoing []byte

	// Incoming holds the reply payload once Write has delivered it.
	// ReplyError is the normalized (positive syscall.Errno-compatible)
	// wire error, or nil on success.
	Incoming   []byte
	ReplyError error

	// Handler runs (with the ticket's lock held) immediately after a
	// reply is copied in, before waiters are woken.
	Handler Handler

	// Interrupt is the INTERRUPT ticket representing a pending
	// cancellation of this ticket, if any (spec §4.7). Nil otherwise.
	Interrupt *Ticket

	// answered is set once a reply has been delivered or the ticket has
	// been killed; a second delivery is a protocol bug and is ignored.
	answered bool

	// killed is set when the session died before a reply arrived, or
	// when an interrupt raced the real reply (spec §4.3 "read").
	killed bool

	refs int
}

// New allocates a ticket with refs=1, owned by the caller.
func New(unique uint64, opcode wire.OpCode, outgoing []byte) *Ticket {
	t := &Ticket{
		Unique:   unique,
		Opcode:   opcode,
		Outgoing: outgoing,
		refs:     1,
	}
	t.cond.L = &t.mu
	return t
}

// Ref increments the reference count. Callers handing a ticket to a new
// owner (the outbound queue, the awaited set) must Ref it first.
func (t *Ticket) Ref() {
	t.mu.Lock()
	t.refs++
	t.mu.Unlock()
}

// Unref decrements the reference count, reporting whether this was the
// last reference.
func (t *Ticket) Unref() (last bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.refs--
	if t.refs < 0 {
		panic("ticket: negative refcount")
	}
	return t.refs == 0
}

// Answered reports whether a reply has already been recorded for this
// ticket, e.g. because an interrupt completed it before the server's real
// reply arrived (spec §4.3 "read" — such a ticket is dropped rather than
// delivered). A killed ticket is not reported as answered; Resolved covers
// both outcomes.
func (t *Ticket) Answered() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.answered
}

// Deliver records a successful reply, runs the handler if any, and wakes
// every waiter. A second call after the ticket is already answered or
// killed is a no-op, matching the "reply delivered to at most one ticket"
// invariant (spec §3).
func (t *Ticket) Deliver(payload []byte, replyErr error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.answered || t.killed {
		return
	}
	t.Incoming = payload
	t.ReplyError = replyErr
	t.answered = true
	if t.Handler != nil {
		t.Handler(t)
	}
	t.cond.Broadcast()
}

// Kill marks the ticket dead with err (typically a "connection lost"
// sentinel) and wakes every waiter, without running Handler — a killed
// ticket carries no real reply to hand off (spec §4.3 "close").
func (t *Ticket) Kill(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.answered || t.killed {
		return
	}
	t.killed = true
	t.ReplyError = err
	t.cond.Broadcast()
}

// Wait blocks until the ticket is answered or killed, returning the
// result. It is the caller's responsibility to have arranged for
// cancellation (via the session's interrupt path) separately; Wait itself
// is not interruptible.
func (t *Ticket) Wait() (payload []byte, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for !t.answered && !t.killed {
		t.cond.Wait()
	}
	return t.Incoming, t.ReplyError
}

// Resolved reports whether the ticket has already been answered or
// killed, without blocking. The dispatcher uses this to race a ticket
// against a context's Done channel from its own goroutine (see
// dispatch.Dispatch) rather than making Wait itself interruptible.
func (t *Ticket) Resolved() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.answered || t.killed
}
