package dispatch

import (
	"context"
	"syscall"
	"testing"
	"time"

	"github.com/go-fuse-transport/fused/fusesession"
	"github.com/go-fuse-transport/fused/wire"
)

func TestDispatchSuccessRoundTrip(t *testing.T) {
	sess := fusesession.New(fusesession.Config{})
	stop := serveOnce(t, sess, func(hdr wire.InHeader) (int32, []byte) {
		return 0, []byte("getattr-reply")
	})
	defer stop()

	reply, err := Dispatch(context.Background(), sess, wire.OpGetattr, 7, nil)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if string(reply) != "getattr-reply" {
		t.Fatalf("got %q, want %q", reply, "getattr-reply")
	}
}

func TestDispatchPropagatesServerError(t *testing.T) {
	sess := fusesession.New(fusesession.Config{})
	stop := serveOnce(t, sess, func(hdr wire.InHeader) (int32, []byte) {
		return wire.DenormalizeError(syscall.ENOENT), nil
	})
	defer stop()

	_, err := Dispatch(context.Background(), sess, wire.OpLookup, 1, nil)
	if err != syscall.ENOENT {
		t.Fatalf("got %v, want ENOENT", err)
	}
}

func TestDispatchCachesENOSYSForOptionalOps(t *testing.T) {
	sess := fusesession.New(fusesession.Config{})
	stop := serveOnce(t, sess, func(hdr wire.InHeader) (int32, []byte) {
		return wire.DenormalizeError(syscall.ENOSYS), nil
	})
	defer stop()

	_, err := Dispatch(context.Background(), sess, wire.OpSetxattr, 1, nil)
	if err != syscall.ENOSYS {
		t.Fatalf("first Dispatch got %v, want ENOSYS", err)
	}
	if !sess.IsNotImplemented(wire.OpSetxattr) {
		t.Fatalf("Dispatch did not mark OpSetxattr not-implemented")
	}

	// Second call must short-circuit with ErrUnsupported, never hitting the
	// session queue at all.
	_, err = Dispatch(context.Background(), sess, wire.OpSetxattr, 1, nil)
	if err != ErrUnsupported {
		t.Fatalf("second Dispatch got %v, want ErrUnsupported", err)
	}
}

func TestDispatchSkipsQueueWhenAlreadyMarkedUnsupported(t *testing.T) {
	sess := fusesession.New(fusesession.Config{})
	sess.MarkNotImplemented(wire.OpGetxattr)

	_, err := Dispatch(context.Background(), sess, wire.OpGetxattr, 1, nil)
	if err != ErrUnsupported {
		t.Fatalf("got %v, want ErrUnsupported", err)
	}
	if _, ok := sess.TryPop(); ok {
		t.Fatalf("Dispatch enqueued a ticket despite the opcode being pre-marked unsupported")
	}
}

func TestDispatchFailsWhenSessionAlreadyDead(t *testing.T) {
	sess := fusesession.New(fusesession.Config{})
	sess.Kill()

	_, err := Dispatch(context.Background(), sess, wire.OpRead, 1, nil)
	if err != fusesession.ErrConnectionLost {
		t.Fatalf("got %v, want ErrConnectionLost", err)
	}
}

func TestDispatchSendsInterruptOnCancelAndReportsInterrupted(t *testing.T) {
	sess := fusesession.New(fusesession.Config{})

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	var err error
	go func() {
		_, err = Dispatch(ctx, sess, wire.OpRead, 1, nil)
		close(done)
	}()

	// Wait for the original READ ticket to land in the queue, then pop it
	// off (simulating the server picking it up and going silent).
	orig, ok := sess.Pop()
	if !ok {
		t.Fatalf("original ticket never enqueued")
	}
	_ = orig

	cancel()

	// The dispatcher should now head-enqueue an INTERRUPT ticket.
	interruptTk, ok := sess.Pop()
	if !ok {
		t.Fatalf("no INTERRUPT ticket enqueued after cancellation")
	}
	if interruptTk.Opcode != wire.OpInterrupt {
		t.Fatalf("got opcode %v, want OpInterrupt", interruptTk.Opcode)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Dispatch never returned after cancellation")
	}
	if err != ErrInterrupted {
		t.Fatalf("got %v, want ErrInterrupted", err)
	}
}

func TestDispatchReturnsReplyEvenIfItRacesCancellation(t *testing.T) {
	sess := fusesession.New(fusesession.Config{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	var reply []byte
	var err error
	go func() {
		reply, err = Dispatch(ctx, sess, wire.OpRead, 1, nil)
		close(done)
	}()

	tk, ok := sess.Pop()
	if !ok {
		t.Fatalf("ticket never enqueued")
	}

	cancel()
	tk.Deliver([]byte("won-the-race"), nil)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Dispatch never returned")
	}
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(reply) != "won-the-race" {
		t.Fatalf("got %q, want %q", reply, "won-the-race")
	}
}

// serveOnce starts a background goroutine that pops exactly one ticket off
// sess's outbound queue, decodes its request header, and delivers a reply
// built by respond. It returns a stop func that waits for the goroutine to
// finish (test cleanup).
func serveOnce(t *testing.T, sess *fusesession.Session, respond func(wire.InHeader) (errno int32, payload []byte)) func() {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		tk, ok := sess.Pop()
		if !ok {
			return
		}
		hdr, _, err := wire.DecodeRequestFrame(tk.Outgoing)
		if err != nil {
			t.Errorf("DecodeRequestFrame: %v", err)
			return
		}
		errno, payload := respond(hdr)
		got, ok := sess.Complete(hdr.Unique)
		if !ok {
			t.Errorf("Complete: no ticket found for unique %d", hdr.Unique)
			return
		}
		got.Deliver(payload, wire.NormalizeError(errno))
		got.Unref()
	}()
	return func() {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatalf("serveOnce goroutine never completed")
		}
	}
}
