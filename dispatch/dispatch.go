// Package dispatch implements the request dispatcher: the one operation
// that allocates a ticket, publishes it, blocks the caller, and returns
// the reply or an error (spec §4.2).
package dispatch

import (
	"context"
	"errors"
	"syscall"

	"github.com/jacobsa/reqtrace"

	"github.com/go-fuse-transport/fused/fusesession"
	"github.com/go-fuse-transport/fused/ticket"
	"github.com/go-fuse-transport/fused/wire"
)

// ErrUnsupported is returned for an optional opcode already known to be
// unimplemented by the server (spec §4.2 "Retry-on-unsupported").
var ErrUnsupported = errors.New("dispatch: unsupported operation")

// ErrInterrupted is surfaced to a caller whose context was cancelled and
// whose triggering VFS call treats that as a distinct outcome from a
// normal reply (spec §4.7, §7 "Interrupted").
var ErrInterrupted = errors.New("dispatch: interrupted")

// Dispatch composes one request: it allocates a ticket, enqueues it on
// sess, blocks until a reply arrives or ctx is done or the session dies,
// and returns the decoded reply payload. Retry-on-ENOSYS caching and
// INTERRUPT issuance are both handled here so no caller needs to know
// about either (spec §4.2, §4.7).
func Dispatch(ctx context.Context, sess *fusesession.Session, op wire.OpCode, nodeid uint64, payload []byte) (reply []byte, err error) {
	if op.IsOptional() && sess.IsNotImplemented(op) {
		return nil, ErrUnsupported
	}

	var span reqtrace.ReportFunc
	ctx, span = reqtrace.StartSpan(ctx, op.String())
	defer func() { span(err) }()

	unique := sess.NextUnique()
	hdr := wire.InHeader{
		Opcode: op,
		Unique: unique,
		Nodeid: nodeid,
	}
	outgoing := wire.EncodeRequestFrame(hdr, payload)

	t := ticket.New(unique, op, outgoing)
	if err = sess.Enqueue(t); err != nil {
		return nil, err
	}

	reply, err = waitOrCancel(ctx, sess, t)
	t.Unref()

	if err != nil {
		if errors.Is(err, syscallENOSYS) && op.IsOptional() {
			sess.MarkNotImplemented(op)
		}
		return nil, err
	}
	return reply, nil
}

// waitOrCancel blocks on t until it resolves, racing that against ctx's
// Done channel. On cancellation it issues an INTERRUPT ticket (spec §4.7)
// and does not keep waiting: if t has already resolved by then, its reply
// is returned; otherwise ErrInterrupted is surfaced immediately, matching
// a context-cancellation convention rather than blocking forever on an
// uncooperative server.
func waitOrCancel(ctx context.Context, sess *fusesession.Session, t *ticket.Ticket) ([]byte, error) {
	if ctx.Done() == nil {
		return t.Wait()
	}

	done := make(chan struct{})
	resultCh := make(chan struct {
		payload []byte
		err     error
	}, 1)

	go func() {
		p, e := t.Wait()
		resultCh <- struct {
			payload []byte
			err     error
		}{p, e}
		close(done)
	}()

	select {
	case r := <-resultCh:
		return r.payload, r.err
	case <-ctx.Done():
		sendInterrupt(sess, t)
		if t.Resolved() {
			r := <-resultCh
			return r.payload, r.err
		}
		return nil, ErrInterrupted
	}
}

// sendInterrupt allocates and head-enqueues an INTERRUPT ticket carrying
// target's unique id, per spec §4.7. Any enqueue failure (session already
// dead) is ignored: target.Wait() will already be unblocking via the
// session's own death-drains-waiters path.
func sendInterrupt(sess *fusesession.Session, target *ticket.Ticket) {
	unique := sess.NextUnique()
	hdr := wire.InHeader{
		Opcode: wire.OpInterrupt,
		Unique: unique,
	}
	payload := wire.InterruptIn{Unique: target.Unique}.Marshal()
	outgoing := wire.EncodeRequestFrame(hdr, payload)

	it := ticket.New(unique, wire.OpInterrupt, outgoing)
	target.Interrupt = it
	_ = sess.EnqueueFront(it)
}

// syscallENOSYS is compared against with errors.Is; NormalizeError already
// returns a syscall.Errno so this just needs to be a matching value.
var syscallENOSYS = syscall.ENOSYS
