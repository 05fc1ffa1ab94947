// Package fusedev implements the character-device protocol endpoint: a
// bounded table of slots, each pairing one server process with at most
// one session, exposing open/close/read/write/ioctl/poll (spec §4.3,
// §6 "Character device").
package fusedev

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/go-fuse-transport/fused/fusesession"
	"github.com/go-fuse-transport/fused/ticket"
	"github.com/go-fuse-transport/fused/wire"
)

// NumSlots is the size of the global device table (spec §6: "N slots
// (typically 24)").
const NumSlots = 24

var (
	// ErrBusy is returned by Open when the slot is already open, or a
	// dead-but-not-torn-down session is still attached (spec §4.3
	// "open").
	ErrBusy = errors.New("fusedev: device busy")

	// ErrNoDevice is returned by ioctls that require a mounted session
	// when none is attached yet.
	ErrNoDevice = errors.New("fusedev: no such device")
)

// Slot is one character-device instance: "/<basename><i>" in spec §6's
// terms. At most one opener at a time.
type Slot struct {
	index int

	mu       sync.Mutex
	open     bool
	ownerPid int
	nonce    uint64
	session  *fusesession.Session
}

// Table is the process-wide slot table, initialised once at startup and
// torn down at shutdown (spec §9 "Global device table").
type Table struct {
	slots [NumSlots]*Slot

	mu sync.Mutex // device global lock (spec §5 lock #1)
}

// NewTable installs NumSlots device entries.
func NewTable() *Table {
	t := &Table{}
	for i := range t.slots {
		t.slots[i] = &Slot{index: i}
	}
	return t
}

// Shutdown refuses if any slot is in use or has a lingering session
// (spec §9: "shutdown refuses if any slot is in use or has a lingering
// session").
func (t *Table) Shutdown() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.slots {
		s.mu.Lock()
		busy := s.open || s.session != nil
		s.mu.Unlock()
		if busy {
			return fmt.Errorf("fusedev: slot %d still in use", s.index)
		}
	}
	return nil
}

// Open opens slot i exclusively, binding it to a fresh session created
// from cfg, and returns the slot and its newly generated nonce.
func (t *Table) Open(i int, cfg fusesession.Config) (*Slot, uint64, error) {
	if i < 0 || i >= NumSlots {
		return nil, 0, fmt.Errorf("fusedev: slot index %d out of range", i)
	}
	s := t.slots[i]

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.open || (s.session != nil && s.session.IsDead()) {
		return nil, 0, ErrBusy
	}

	s.nonce = randomNonce()
	s.ownerPid = os.Getpid()
	s.open = true
	s.session = fusesession.New(cfg)
	s.session.SetDeviceOpen(true)

	return s, s.nonce, nil
}

func randomNonce() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b[:])
}

// Session returns the slot's attached session, or nil.
func (s *Slot) Session() *fusesession.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// Nonce returns the per-open nonce (spec §6 "Get-random").
func (s *Slot) Nonce() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nonce
}

// Close marks the attached session dead, rejecting every awaited ticket
// with "connection lost", wakes any blocked server reader, and tears the
// session down if the mount is already gone (spec §4.3 "close").
func (s *Slot) Close() {
	s.mu.Lock()
	sess := s.session
	s.open = false
	s.mu.Unlock()

	if sess == nil {
		return
	}

	sess.SetDeviceOpen(false)
	sess.Kill()

	if sess.ShouldTeardown() {
		s.mu.Lock()
		if s.session == sess {
			s.session = nil
		}
		s.mu.Unlock()
	}
}

// Read implements the server's "pull next request" call (spec §4.3
// "read"). nonblock mirrors O_NONBLOCK; when true and the queue is empty,
// Read returns ErrWouldBlock instead of suspending.
func (s *Slot) Read(nonblock bool) ([]byte, error) {
	sess := s.Session()
	if sess == nil {
		return nil, ErrNoDevice
	}

	for {
		var t *ticket.Ticket
		var ok bool
		if nonblock {
			t, ok = sess.TryPop()
			if !ok {
				if sess.IsDead() {
					return nil, fusesession.ErrConnectionLost
				}
				return nil, ErrWouldBlock
			}
		} else {
			t, ok = sess.Pop()
			if !ok {
				return nil, fusesession.ErrConnectionLost
			}
		}

		// A ticket that was answered by a racing interrupt before the
		// server ever read it is dropped here rather than delivered
		// (spec §4.3 "read").
		if t.Answered() {
			t.Unref()
			continue
		}

		out := t.Outgoing
		t.Unref()
		return out, nil
	}
}

// ErrWouldBlock is returned by a non-blocking Read with nothing queued.
var ErrWouldBlock = errors.New("fusedev: would block")

// Write implements the server's "post reply" call (spec §4.3 "write").
// raw is one full reply frame as produced by wire.EncodeReplyFrame.
func (s *Slot) Write(raw []byte) error {
	sess := s.Session()
	if sess == nil {
		return ErrNoDevice
	}

	hdr, payload, err := wire.DecodeReplyFrame(raw)
	if err != nil {
		// Protocol violations on write never match any ticket (spec
		// §4.8 "Protocol").
		return err
	}

	t, ok := sess.Complete(hdr.Unique)
	if !ok {
		// Late or duplicate reply: silently dropped (spec §4.3 "write").
		return nil
	}

	t.Deliver(payload, wire.NormalizeError(hdr.Error))
	t.Unref()
	return nil
}

// Poll reports whether a reader would presently see readable data (spec
// §4.3 "poll").
func (s *Slot) Poll() bool {
	sess := s.Session()
	if sess == nil {
		return false
	}
	return sess.Poll()
}

////////////////////////////////////////////////////////////////////////
// Ioctl
////////////////////////////////////////////////////////////////////////

// IoctlCmd enumerates the fixed semantic ioctl set of spec §6; the exact
// numeric codes are implementation-chosen, so these are Go constants
// rather than OS-level request numbers.
type IoctlCmd int

const (
	IoctlSetImplementedBits IoctlCmd = iota
	IoctlGetHandshakeComplete
	IoctlSetDaemonDead
	IoctlGetRandom
	IoctlAlterVnodeForInode
)

// AlterVnodeArg is the structured argument to IoctlAlterVnodeForInode
// (spec §6).
type AlterVnodeArg struct {
	CmdMask  uint32
	Inode    uint64
	Size     uint64
	UBCFlags uint32
	Note     string
}

// Bits recognised in AlterVnodeArg.CmdMask.
const (
	AlterFlushUBC uint32 = 1 << iota
	AlterInvalidateUBC
	AlterSetSize
	AlterPurgeAttrCache
	AlterPurgeNameCache
	AlterEmitNote

	alterKnownBits = AlterFlushUBC | AlterInvalidateUBC | AlterSetSize |
		AlterPurgeAttrCache | AlterPurgeNameCache | AlterEmitNote
)

// VnodeNotifier receives the effects of IoctlAlterVnodeForInode; the VFS
// adapter implements it so the device endpoint stays free of any
// knowledge of attribute caches or page state.
type VnodeNotifier interface {
	FlushUBC(inode uint64)
	InvalidateUBC(inode uint64)
	SetSize(inode uint64, size uint64)
	PurgeAttrCache(inode uint64)
	PurgeNameCache(inode uint64)
	EmitNote(inode uint64, note string)
}

// Ioctl dispatches one of the fixed commands of spec §6.
func (s *Slot) Ioctl(cmd IoctlCmd, arg interface{}, notify VnodeNotifier) (interface{}, error) {
	sess := s.Session()

	switch cmd {
	case IoctlSetImplementedBits:
		if sess == nil {
			return nil, ErrNoDevice
		}
		ops, _ := arg.([]wire.OpCode)
		sess.SetNotImplementedBitmask(ops)
		return nil, nil

	case IoctlGetHandshakeComplete:
		if sess == nil {
			return nil, ErrNoDevice
		}
		return sess.State() >= fusesession.StateReady, nil

	case IoctlSetDaemonDead:
		if sess == nil {
			return nil, ErrNoDevice
		}
		sess.Kill()
		return nil, nil

	case IoctlGetRandom:
		return s.Nonce(), nil

	case IoctlAlterVnodeForInode:
		a, ok := arg.(AlterVnodeArg)
		if !ok {
			return nil, fmt.Errorf("fusedev: bad AlterVnodeForInode argument")
		}
		if a.CmdMask&^alterKnownBits != 0 {
			return nil, fmt.Errorf("fusedev: unknown AlterVnodeForInode bits %#x", a.CmdMask&^alterKnownBits)
		}
		if notify == nil {
			return nil, nil
		}
		if a.CmdMask&AlterFlushUBC != 0 {
			notify.FlushUBC(a.Inode)
		}
		if a.CmdMask&AlterInvalidateUBC != 0 {
			notify.InvalidateUBC(a.Inode)
		}
		if a.CmdMask&AlterSetSize != 0 {
			notify.SetSize(a.Inode, a.Size)
		}
		if a.CmdMask&AlterPurgeAttrCache != 0 {
			notify.PurgeAttrCache(a.Inode)
		}
		if a.CmdMask&AlterPurgeNameCache != 0 {
			notify.PurgeNameCache(a.Inode)
		}
		if a.CmdMask&AlterEmitNote != 0 {
			notify.EmitNote(a.Inode, a.Note)
		}
		return nil, nil

	default:
		return nil, fmt.Errorf("fusedev: unknown ioctl %d", cmd)
	}
}

var _ io.Closer = (*sessionCloser)(nil)

// sessionCloser adapts Slot.Close to io.Closer for callers that want to
// defer a plain Close().
type sessionCloser struct{ s *Slot }

func (c *sessionCloser) Close() error {
	c.s.Close()
	return nil
}

// Closer wraps s as an io.Closer.
func (s *Slot) Closer() io.Closer { return &sessionCloser{s: s} }
