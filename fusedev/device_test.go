package fusedev

import (
	"testing"
	"time"

	"github.com/go-fuse-transport/fused/fusesession"
	"github.com/go-fuse-transport/fused/ticket"
	"github.com/go-fuse-transport/fused/wire"
)

func TestOpenBindsASession(t *testing.T) {
	tbl := NewTable()
	slot, nonce, err := tbl.Open(0, fusesession.Config{FsName: "test"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if slot.Session() == nil {
		t.Fatalf("Open did not bind a session")
	}
	if nonce != slot.Nonce() {
		t.Fatalf("returned nonce %d does not match slot.Nonce() %d", nonce, slot.Nonce())
	}
}

func TestOpenOutOfRangeIndex(t *testing.T) {
	tbl := NewTable()
	if _, _, err := tbl.Open(-1, fusesession.Config{}); err == nil {
		t.Fatalf("expected error for negative index")
	}
	if _, _, err := tbl.Open(NumSlots, fusesession.Config{}); err == nil {
		t.Fatalf("expected error for out-of-range index")
	}
}

func TestOpenTwiceIsBusy(t *testing.T) {
	tbl := NewTable()
	if _, _, err := tbl.Open(1, fusesession.Config{}); err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if _, _, err := tbl.Open(1, fusesession.Config{}); err != ErrBusy {
		t.Fatalf("second Open got %v, want ErrBusy", err)
	}
}

func TestOpenAfterCloseSucceeds(t *testing.T) {
	tbl := NewTable()
	slot, _, err := tbl.Open(2, fusesession.Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	slot.Close()

	if _, _, err := tbl.Open(2, fusesession.Config{}); err != nil {
		t.Fatalf("reopening a closed slot: %v", err)
	}
}

func TestShutdownRefusesWhileSlotOpen(t *testing.T) {
	tbl := NewTable()
	slot, _, err := tbl.Open(3, fusesession.Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := tbl.Shutdown(); err == nil {
		t.Fatalf("expected Shutdown to refuse while slot 3 is open")
	}
	slot.Close()
	if err := tbl.Shutdown(); err != nil {
		t.Fatalf("Shutdown after Close: %v", err)
	}
}

func TestWriteDeliversMatchingReply(t *testing.T) {
	tbl := NewTable()
	slot, _, err := tbl.Open(4, fusesession.Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	sess := slot.Session()

	unique := sess.NextUnique()
	want := []byte("attr-bytes")
	done := make(chan struct{})
	var got []byte
	var waitErr error

	tk := ticket.New(unique, wire.OpGetattr, nil)
	if err := sess.Enqueue(tk); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	go func() {
		got, waitErr = tk.Wait()
		close(done)
	}()

	raw := wire.EncodeReplyFrame(unique, 0, want)
	if err := slot.Write(raw); err != nil {
		t.Fatalf("Write: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("ticket never resolved after Write")
	}
	if waitErr != nil {
		t.Fatalf("unexpected error: %v", waitErr)
	}
	if string(got) != string(want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestWriteWithUnknownUniqueIsDroppedSilently(t *testing.T) {
	tbl := NewTable()
	slot, _, err := tbl.Open(5, fusesession.Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	raw := wire.EncodeReplyFrame(999999, 0, nil)
	if err := slot.Write(raw); err != nil {
		t.Fatalf("Write with unmatched unique should be silently dropped, got %v", err)
	}
}

func TestReadNonblockWithEmptyQueueWouldBlock(t *testing.T) {
	tbl := NewTable()
	slot, _, err := tbl.Open(6, fusesession.Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := slot.Read(true); err != ErrWouldBlock {
		t.Fatalf("got %v, want ErrWouldBlock", err)
	}
}

func TestReadReturnsQueuedOutgoingBytes(t *testing.T) {
	tbl := NewTable()
	slot, _, err := tbl.Open(7, fusesession.Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	sess := slot.Session()
	want := []byte("outgoing-frame")
	tk := ticket.New(sess.NextUnique(), wire.OpLookup, want)
	if err := sess.Enqueue(tk); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	got, err := slot.Read(false)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestPollReflectsQueueState(t *testing.T) {
	tbl := NewTable()
	slot, _, err := tbl.Open(8, fusesession.Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if slot.Poll() {
		t.Fatalf("Poll() = true with nothing queued")
	}
	sess := slot.Session()
	if err := sess.Enqueue(ticket.New(sess.NextUnique(), wire.OpRead, nil)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if !slot.Poll() {
		t.Fatalf("Poll() = false with a ticket queued")
	}
}

func TestIoctlSetImplementedBitsAndHandshake(t *testing.T) {
	tbl := NewTable()
	slot, _, err := tbl.Open(9, fusesession.Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	got, err := slot.Ioctl(IoctlGetHandshakeComplete, nil, nil)
	if err != nil {
		t.Fatalf("Ioctl GetHandshakeComplete: %v", err)
	}
	if got.(bool) {
		t.Fatalf("handshake reported complete before INIT")
	}

	slot.Session().BeginInit()
	slot.Session().CompleteInit(fusesession.Capabilities{Major: 7})

	got, err = slot.Ioctl(IoctlGetHandshakeComplete, nil, nil)
	if err != nil {
		t.Fatalf("Ioctl GetHandshakeComplete: %v", err)
	}
	if !got.(bool) {
		t.Fatalf("handshake reported incomplete after INIT")
	}

	if _, err := slot.Ioctl(IoctlSetImplementedBits, []wire.OpCode{wire.OpBmap}, nil); err != nil {
		t.Fatalf("Ioctl SetImplementedBits: %v", err)
	}
	if !slot.Session().IsNotImplemented(wire.OpBmap) {
		t.Fatalf("SetImplementedBits did not mark OpBmap")
	}
}

func TestIoctlSetDaemonDeadKillsSession(t *testing.T) {
	tbl := NewTable()
	slot, _, err := tbl.Open(10, fusesession.Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := slot.Ioctl(IoctlSetDaemonDead, nil, nil); err != nil {
		t.Fatalf("Ioctl SetDaemonDead: %v", err)
	}
	if !slot.Session().IsDead() {
		t.Fatalf("session not dead after IoctlSetDaemonDead")
	}
}

func TestIoctlOnUnopenedSlotFailsWithNoDevice(t *testing.T) {
	tbl := NewTable()
	slot, _, err := tbl.Open(11, fusesession.Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	slot.Close()

	if _, err := slot.Ioctl(IoctlGetHandshakeComplete, nil, nil); err != ErrNoDevice {
		t.Fatalf("got %v, want ErrNoDevice", err)
	}
}

func TestIoctlAlterVnodeRejectsUnknownBits(t *testing.T) {
	tbl := NewTable()
	slot, _, err := tbl.Open(12, fusesession.Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	arg := AlterVnodeArg{CmdMask: 1 << 30, Inode: 7}
	if _, err := slot.Ioctl(IoctlAlterVnodeForInode, arg, nil); err == nil {
		t.Fatalf("expected error for unknown CmdMask bits")
	}
}

type fakeNotifier struct {
	flushed, invalidated, purgedAttr, purgedName bool
	size                                         uint64
	note                                         string
}

func (n *fakeNotifier) FlushUBC(uint64)                { n.flushed = true }
func (n *fakeNotifier) InvalidateUBC(uint64)           { n.invalidated = true }
func (n *fakeNotifier) SetSize(_ uint64, size uint64)  { n.size = size }
func (n *fakeNotifier) PurgeAttrCache(uint64)          { n.purgedAttr = true }
func (n *fakeNotifier) PurgeNameCache(uint64)          { n.purgedName = true }
func (n *fakeNotifier) EmitNote(_ uint64, note string) { n.note = note }

func TestIoctlAlterVnodeDispatchesToNotifier(t *testing.T) {
	tbl := NewTable()
	slot, _, err := tbl.Open(13, fusesession.Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	n := &fakeNotifier{}
	arg := AlterVnodeArg{
		CmdMask: AlterFlushUBC | AlterSetSize | AlterEmitNote,
		Inode:   42,
		Size:    4096,
		Note:    "truncated",
	}
	if _, err := slot.Ioctl(IoctlAlterVnodeForInode, arg, n); err != nil {
		t.Fatalf("Ioctl AlterVnodeForInode: %v", err)
	}
	if !n.flushed || n.size != 4096 || n.note != "truncated" {
		t.Fatalf("notifier did not receive expected calls: %+v", n)
	}
	if n.invalidated || n.purgedAttr || n.purgedName {
		t.Fatalf("notifier received calls for bits not set in CmdMask: %+v", n)
	}
}

func TestCloserClosesSlot(t *testing.T) {
	tbl := NewTable()
	slot, _, err := tbl.Open(14, fusesession.Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := slot.Closer().Close(); err != nil {
		t.Fatalf("Closer().Close(): %v", err)
	}
	if slot.Session() != nil {
		t.Fatalf("session still attached after Closer().Close() (mount absent, should teardown)")
	}
}
