package fusesession

import (
	"container/list"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jacobsa/syncutil"

	"github.com/go-fuse-transport/fused/ticket"
	"github.com/go-fuse-transport/fused/wire"
)

// ErrConnectionLost is returned to every waiter and every new dispatch
// once a session has died (spec §4.7, §4.8 "Transport-fatal").
var ErrConnectionLost = errors.New("fusesession: connection lost")

// State is the session's position in the lifecycle named by spec §3:
// Created → InitSent → Ready → Dying → Dead.
type State int

const (
	StateCreated State = iota
	StateInitSent
	StateReady
	StateDying
	StateDead
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateInitSent:
		return "init-sent"
	case StateReady:
		return "ready"
	case StateDying:
		return "dying"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Session is the per-mount shared state described in spec §3. It follows
// the teacher's "big lock" style (spec §5: "A 'big lock' mode may fold
// 4–6 into one per-session mutex"): a single syncutil.InvariantMutex
// guards the queue, the awaited set, the dead flag, and the capability
// bits together, the same granularity connection.go uses for Connection.
type Session struct {
	mu syncutil.InvariantMutex

	// GUARDED_BY(mu)
	state State
	// GUARDED_BY(mu)
	caps Capabilities
	// GUARDED_BY(mu)
	notImplemented map[wire.OpCode]bool
	// GUARDED_BY(mu)
	outbound *list.List // of *ticket.Ticket
	// GUARDED_BY(mu)
	awaited map[uint64]*ticket.Ticket
	// GUARDED_BY(mu)
	readWake sync.Cond

	mountPresent int32 // atomic bool
	deviceOpen   int32 // atomic bool

	nextUnique uint64 // atomic counter, skips zero

	cfg Config

	lastReply atomic.Value // time.Time, for DaemonTimeout liveness
}

// New creates a session in StateCreated, bound to no endpoint slot yet.
func New(cfg Config) *Session {
	s := &Session{
		notImplemented: make(map[wire.OpCode]bool),
		outbound:       list.New(),
		awaited:        make(map[uint64]*ticket.Ticket),
		cfg:            cfg,
	}
	s.mu = syncutil.NewInvariantMutex(s.checkInvariants)
	s.readWake.L = &s.mu
	s.lastReply.Store(time.Time{})
	return s
}

// checkInvariants is run by syncutil.InvariantMutex on every Lock/Unlock
// in builds that enable it, matching connection.go's use of the same
// package for its opsInFlight bookkeeping.
func (s *Session) checkInvariants() {
	if s.outbound.Len() < 0 {
		panic("fusesession: negative outbound length")
	}
}

// Config returns the mount configuration this session was created with.
func (s *Session) Config() Config { return s.cfg }

// State reports the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// NextUnique returns the next ticket id, skipping zero (spec §4.2).
func (s *Session) NextUnique() uint64 {
	for {
		v := atomic.AddUint64(&s.nextUnique, 1)
		if v != 0 {
			return v
		}
	}
}

// CompleteInit records the negotiated capabilities and transitions to
// Ready. Callers must already have transitioned to InitSent by sending
// the handshake. Capabilities whose Major is below MinMajor are not
// recorded: the session is killed instead, so every waiter and every
// later dispatch fails with ErrConnectionLost.
func (s *Session) CompleteInit(caps Capabilities) {
	if caps.Major < MinMajor {
		s.Kill()
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.caps = caps
	if s.state == StateInitSent {
		s.state = StateReady
	}
}

// BeginInit transitions Created → InitSent.
func (s *Session) BeginInit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateCreated {
		s.state = StateInitSent
	}
}

// Capabilities returns the negotiated INIT result.
func (s *Session) Capabilities() Capabilities {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.caps
}

// IsDead reports whether the session has been marked dead.
func (s *Session) IsDead() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateDying || s.state == StateDead
}

////////////////////////////////////////////////////////////////////////
// Not-implemented bitmask (spec §4.2 "Retry-on-unsupported")
////////////////////////////////////////////////////////////////////////

// MarkNotImplemented records that op returned ENOSYS and should be
// short-circuited from now on. Only meaningful for opcodes wire.OpCode.
// IsOptional reports true for; callers should check that first.
func (s *Session) MarkNotImplemented(op wire.OpCode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notImplemented[op] = true
}

// IsNotImplemented reports whether op has previously returned ENOSYS on
// this session.
func (s *Session) IsNotImplemented(op wire.OpCode) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notImplemented[op]
}

// SetNotImplementedBitmask overwrites the whole set, implementing the
// device endpoint's "Set-implemented-bits" ioctl (spec §6).
func (s *Session) SetNotImplementedBitmask(ops []wire.OpCode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notImplemented = make(map[wire.OpCode]bool, len(ops))
	for _, op := range ops {
		s.notImplemented[op] = true
	}
}

////////////////////////////////////////////////////////////////////////
// Outbound queue / awaited set
////////////////////////////////////////////////////////////////////////

// Enqueue publishes t into both the awaited set and the outbound queue,
// in that order, so the server can never observe t's id on the wire
// before it is present in the awaited set (spec §4.2). Fails with
// ErrConnectionLost if the session is already dead. The caller keeps the
// reference it already holds on t; Enqueue takes one more for the outbound
// queue and one for the awaited set, which Pop and Complete hand on to
// their callers to release.
func (s *Session) Enqueue(t *ticket.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateDying || s.state == StateDead {
		return ErrConnectionLost
	}

	t.Ref()
	s.awaited[t.Unique] = t

	t.Ref()
	s.outbound.PushBack(t)

	s.readWake.Broadcast()
	return nil
}

// EnqueueFront is Enqueue's counterpart for INTERRUPT tickets, which must
// jump to the head of the outbound queue (spec §4.7). The ticket is still
// added to the awaited set in case the server chooses to reply to the
// INTERRUPT itself with "again".
func (s *Session) EnqueueFront(t *ticket.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateDying || s.state == StateDead {
		return ErrConnectionLost
	}

	t.Ref()
	s.awaited[t.Unique] = t

	t.Ref()
	s.outbound.PushFront(t)

	s.readWake.Broadcast()
	return nil
}

// Pop removes and returns the next queued ticket for a server reader to
// consume, blocking until one is available or the session dies. The
// returned bool is false only when the session died with nothing to
// deliver. The queue's reference on the returned ticket is transferred to
// the caller (spec §4.3 "read": "releases the ticket reference held by
// the queue").
func (s *Session) Pop() (*ticket.Ticket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.outbound.Len() == 0 {
		if s.state == StateDying || s.state == StateDead {
			return nil, false
		}
		s.readWake.Wait()
	}

	front := s.outbound.Front()
	s.outbound.Remove(front)
	return front.Value.(*ticket.Ticket), true
}

// TryPop is Pop's non-blocking variant, used for O_NONBLOCK readers
// (spec §4.3: "either returns 'would block' for non-blocking callers").
func (s *Session) TryPop() (t *ticket.Ticket, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.outbound.Len() == 0 {
		return nil, false
	}

	front := s.outbound.Front()
	s.outbound.Remove(front)
	return front.Value.(*ticket.Ticket), true
}

// Poll reports whether a reader would see readable data right now: the
// queue is nonempty or the session is dead (spec §4.3 "poll").
func (s *Session) Poll() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outbound.Len() > 0 || s.state == StateDying || s.state == StateDead
}

// Complete looks up the awaited ticket with the given unique id and
// removes it from the awaited set, reporting whether one was found
// (spec §4.3 "write": "If none, the reply is silently dropped"). The
// awaited set's reference is returned to the caller, who is responsible
// for delivering the reply and then Unref-ing.
func (s *Session) Complete(unique uint64) (*ticket.Ticket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.awaited[unique]
	if !ok {
		return nil, false
	}
	delete(s.awaited, unique)
	s.lastReply.Store(time.Now())
	return t, true
}

// Kill marks the session dead (or dying, if a mount still references it)
// and drains every awaited ticket with ErrConnectionLost, per spec §4.7:
// "(1) dead flag set, (2) every awaited ticket is popped and completed
// with 'connection lost', (3) every subsequent dispatch fails with the
// same error".
func (s *Session) Kill() {
	s.mu.Lock()

	if s.state == StateDying || s.state == StateDead {
		s.mu.Unlock()
		return
	}

	if atomic.LoadInt32(&s.mountPresent) != 0 {
		s.state = StateDying
	} else {
		s.state = StateDead
	}

	awaited := s.awaited
	s.awaited = make(map[uint64]*ticket.Ticket)

	outbound := s.outbound
	s.outbound = list.New()

	s.readWake.Broadcast()
	s.mu.Unlock()

	for _, t := range awaited {
		t.Kill(ErrConnectionLost)
		t.Unref()
	}
	for e := outbound.Front(); e != nil; e = e.Next() {
		t := e.Value.(*ticket.Ticket)
		t.Kill(ErrConnectionLost)
		t.Unref()
	}
}

// SetMountPresent records whether a live mount still references this
// session, used by Kill/Teardown to decide between Dying and Dead (spec
// §4.7 "(4)").
func (s *Session) SetMountPresent(present bool) {
	v := int32(0)
	if present {
		v = 1
	}
	atomic.StoreInt32(&s.mountPresent, v)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDying && !present {
		s.state = StateDead
	}
}

// SetDeviceOpen records whether the character-device slot this session
// is bound to is currently open.
func (s *Session) SetDeviceOpen(open bool) {
	v := int32(0)
	if open {
		v = 1
	}
	atomic.StoreInt32(&s.deviceOpen, v)
}

// ShouldTeardown reports whether both halves of spec §4.7's teardown
// condition hold: the mount is gone and the device is closed.
func (s *Session) ShouldTeardown() bool {
	return atomic.LoadInt32(&s.mountPresent) == 0 && atomic.LoadInt32(&s.deviceOpen) == 0
}

// CheckLiveness marks the session dead if DaemonTimeout has elapsed since
// the last reply without one ever being required yet (spec §5
// "Cancellation and timeouts": "A per-session 'daemon timeout' marks the
// session dead if no reply is produced within a configured bound").
func (s *Session) CheckLiveness(now time.Time) {
	if s.cfg.DaemonTimeout <= 0 {
		return
	}
	last, _ := s.lastReply.Load().(time.Time)
	if last.IsZero() {
		return
	}
	if now.Sub(last) > s.cfg.DaemonTimeout {
		s.Kill()
	}
}
