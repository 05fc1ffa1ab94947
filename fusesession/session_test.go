package fusesession

import (
	"testing"
	"time"

	"github.com/go-fuse-transport/fused/ticket"
	"github.com/go-fuse-transport/fused/wire"
)

func TestLifecycleTransitions(t *testing.T) {
	s := New(Config{})
	if s.State() != StateCreated {
		t.Fatalf("got %v, want StateCreated", s.State())
	}

	s.BeginInit()
	if s.State() != StateInitSent {
		t.Fatalf("got %v, want StateInitSent", s.State())
	}

	caps := Capabilities{Major: 7, Minor: 31, MaxWrite: 1 << 20}
	s.CompleteInit(caps)
	if s.State() != StateReady {
		t.Fatalf("got %v, want StateReady", s.State())
	}
	if got := s.Capabilities(); got != caps {
		t.Fatalf("got %+v, want %+v", got, caps)
	}
}

func TestBeginInitNoOpOutsideCreated(t *testing.T) {
	s := New(Config{})
	s.BeginInit()
	s.CompleteInit(Capabilities{Major: 7})
	s.BeginInit() // must not regress Ready -> InitSent
	if s.State() != StateReady {
		t.Fatalf("BeginInit regressed state to %v", s.State())
	}
}

func TestNextUniqueNeverZero(t *testing.T) {
	s := New(Config{})
	seen := make(map[uint64]bool)
	for i := 0; i < 1000; i++ {
		u := s.NextUnique()
		if u == 0 {
			t.Fatalf("NextUnique returned 0")
		}
		if seen[u] {
			t.Fatalf("NextUnique returned duplicate %d", u)
		}
		seen[u] = true
	}
}

func TestNotImplementedBitmask(t *testing.T) {
	s := New(Config{})
	if s.IsNotImplemented(wire.OpSetxattr) {
		t.Fatalf("fresh session reports OpSetxattr as not implemented")
	}
	s.MarkNotImplemented(wire.OpSetxattr)
	if !s.IsNotImplemented(wire.OpSetxattr) {
		t.Fatalf("MarkNotImplemented had no effect")
	}
	if s.IsNotImplemented(wire.OpGetxattr) {
		t.Fatalf("MarkNotImplemented leaked to an unrelated opcode")
	}

	s.SetNotImplementedBitmask([]wire.OpCode{wire.OpBmap, wire.OpFsync})
	if s.IsNotImplemented(wire.OpSetxattr) {
		t.Fatalf("SetNotImplementedBitmask did not clear the prior mark")
	}
	if !s.IsNotImplemented(wire.OpBmap) || !s.IsNotImplemented(wire.OpFsync) {
		t.Fatalf("SetNotImplementedBitmask did not apply the new set")
	}
}

func TestEnqueuePopRoundTrip(t *testing.T) {
	s := New(Config{})
	tk := ticket.New(s.NextUnique(), wire.OpGetattr, []byte("payload"))

	if err := s.Enqueue(tk); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if !s.Poll() {
		t.Fatalf("Poll() = false with a queued ticket")
	}

	got, ok := s.Pop()
	if !ok {
		t.Fatalf("Pop() ok = false")
	}
	if got != tk {
		t.Fatalf("Pop returned a different ticket")
	}
}

func TestEnqueueFrontJumpsQueue(t *testing.T) {
	s := New(Config{})
	first := ticket.New(s.NextUnique(), wire.OpRead, nil)
	second := ticket.New(s.NextUnique(), wire.OpInterrupt, nil)

	if err := s.Enqueue(first); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := s.EnqueueFront(second); err != nil {
		t.Fatalf("EnqueueFront: %v", err)
	}

	got, ok := s.Pop()
	if !ok || got != second {
		t.Fatalf("expected the front-queued INTERRUPT ticket first, got %+v ok=%v", got, ok)
	}
	got, ok = s.Pop()
	if !ok || got != first {
		t.Fatalf("expected the originally queued ticket second, got %+v ok=%v", got, ok)
	}
}

func TestTryPopNonBlocking(t *testing.T) {
	s := New(Config{})
	if _, ok := s.TryPop(); ok {
		t.Fatalf("TryPop on empty queue returned ok=true")
	}

	tk := ticket.New(s.NextUnique(), wire.OpRead, nil)
	s.Enqueue(tk)
	got, ok := s.TryPop()
	if !ok || got != tk {
		t.Fatalf("TryPop did not return the queued ticket")
	}
}

func TestCompleteRemovesFromAwaitedSet(t *testing.T) {
	s := New(Config{})
	u := s.NextUnique()
	tk := ticket.New(u, wire.OpRead, nil)
	s.Enqueue(tk)
	s.Pop()

	got, ok := s.Complete(u)
	if !ok || got != tk {
		t.Fatalf("Complete did not find the awaited ticket")
	}

	if _, ok := s.Complete(u); ok {
		t.Fatalf("Complete found the same unique twice")
	}
}

func TestCompleteUnknownUniqueIsDropped(t *testing.T) {
	s := New(Config{})
	if _, ok := s.Complete(12345); ok {
		t.Fatalf("Complete found a ticket that was never enqueued")
	}
}

func TestKillDrainsAwaitedAndOutboundWithConnectionLost(t *testing.T) {
	s := New(Config{})

	awaitedOnly := ticket.New(s.NextUnique(), wire.OpRead, nil)
	s.Enqueue(awaitedOnly)
	s.Pop() // moves out of outbound, stays in awaited

	stillQueued := ticket.New(s.NextUnique(), wire.OpWrite, nil)
	s.Enqueue(stillQueued)

	s.Kill()

	if _, err := awaitedOnly.Wait(); err != ErrConnectionLost {
		t.Fatalf("awaited ticket got %v, want ErrConnectionLost", err)
	}
	if _, err := stillQueued.Wait(); err != ErrConnectionLost {
		t.Fatalf("outbound ticket got %v, want ErrConnectionLost", err)
	}
}

func TestKillIsIdempotent(t *testing.T) {
	s := New(Config{})
	s.Kill()
	s.Kill() // must not panic or double-drain
	if s.State() != StateDead {
		t.Fatalf("got %v, want StateDead", s.State())
	}
}

func TestEnqueueAfterKillFails(t *testing.T) {
	s := New(Config{})
	s.Kill()

	tk := ticket.New(s.NextUnique(), wire.OpRead, nil)
	if err := s.Enqueue(tk); err != ErrConnectionLost {
		t.Fatalf("Enqueue after Kill got %v, want ErrConnectionLost", err)
	}
}

func TestPopUnblocksOnKillWithEmptyQueue(t *testing.T) {
	s := New(Config{})

	done := make(chan bool, 1)
	go func() {
		_, ok := s.Pop()
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	s.Kill()

	select {
	case ok := <-done:
		if ok {
			t.Fatalf("Pop returned ok=true after Kill with nothing queued")
		}
	case <-time.After(time.Second):
		t.Fatalf("Pop never unblocked after Kill")
	}
}

func TestMountPresentKeepsSessionDyingUntilDeviceClosed(t *testing.T) {
	s := New(Config{})
	s.SetMountPresent(true)
	s.Kill()
	if s.State() != StateDying {
		t.Fatalf("got %v, want StateDying while mount still present", s.State())
	}

	s.SetMountPresent(false)
	if s.State() != StateDead {
		t.Fatalf("got %v, want StateDead once mount reference is gone", s.State())
	}
}

func TestShouldTeardownRequiresBothMountAndDeviceGone(t *testing.T) {
	s := New(Config{})
	s.SetMountPresent(true)
	s.SetDeviceOpen(true)
	if s.ShouldTeardown() {
		t.Fatalf("ShouldTeardown() = true with mount and device both present")
	}

	s.SetMountPresent(false)
	if s.ShouldTeardown() {
		t.Fatalf("ShouldTeardown() = true with device still open")
	}

	s.SetDeviceOpen(false)
	if !s.ShouldTeardown() {
		t.Fatalf("ShouldTeardown() = false once both mount and device are gone")
	}
}

func TestCheckLivenessKillsOnTimeout(t *testing.T) {
	s := New(Config{DaemonTimeout: time.Millisecond})

	u := s.NextUnique()
	tk := ticket.New(u, wire.OpRead, nil)
	s.Enqueue(tk)
	s.Pop()
	s.Complete(u) // sets lastReply

	time.Sleep(5 * time.Millisecond)
	s.CheckLiveness(time.Now())

	if s.State() != StateDead {
		t.Fatalf("got %v, want StateDead after DaemonTimeout elapsed", s.State())
	}
}

func TestCheckLivenessNoOpWithoutTimeoutConfigured(t *testing.T) {
	s := New(Config{})
	s.CheckLiveness(time.Now().Add(time.Hour))
	if s.State() != StateCreated {
		t.Fatalf("got %v, want StateCreated with DaemonTimeout disabled", s.State())
	}
}

func TestCapabilitiesFlagHelpers(t *testing.T) {
	caps := Capabilities{Flags: wire.InitCaseInsensitive | wire.InitXtimes}
	if !caps.CaseInsensitive() || !caps.Xtimes() {
		t.Fatalf("flag helpers did not report set bits: %+v", caps)
	}
	if caps.VolRename() {
		t.Fatalf("VolRename() = true, want false")
	}
}
