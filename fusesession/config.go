// Package fusesession implements per-mount session state (spec §3
// "Session", §4.3 "Device endpoint", §4.7 "Interrupts and session
// lifecycle"): the outbound queue, the awaited set, negotiated
// capabilities, and the state machine that governs when the session may
// be torn down.
package fusesession

import (
	"time"

	"github.com/go-fuse-transport/fused/wire"
)

// Config carries every mount option the VFS adapter and session consult
// (spec §6 "Mount options"). The negotiated INIT parameters are not part
// of Config; they are held in Capabilities. It plays the role the teacher's
// MountConfig plays for bazilfuse options, generalized to the full
// option set this spec names.
type Config struct {
	// FsName and Subtype are cosmetic labels kept with the session; nothing
	// in this module sends them on the wire or passes them to mount(8).
	FsName  string
	Subtype string

	// DefaultPermissions, when true, tells the adapter to perform the
	// permission check itself and never forward ACCESS.
	DefaultPermissions bool
	// DeferPermissions allows every access through immediately,
	// forwarding enforcement decisions later as needed.
	DeferPermissions bool

	// DirectIO disables the page cache for this mount; implies no
	// readahead and no name cache.
	DirectIO bool

	AllowOther bool
	AllowRoot  bool

	// AutoCache keeps page cache across OPEN iff mtime+size unchanged.
	AutoCache bool

	// HardRemove skips the hidden-rename mechanism (spec §4.6); UNLINK
	// always happens immediately.
	HardRemove bool

	NoAppleDouble bool
	NoAppleXattr  bool

	NoSyncwrites     bool
	NoUBC            bool
	NoVncache        bool
	NoAttrcache      bool
	NegativeVncache  bool
	Xtimes           bool
	Sparse           bool
	ExtendedSecurity bool

	// MaxReadahead is offered to the server during INIT.
	MaxReadahead uint32

	// BlockSize is the session's I/O block size (spec §3 Session:
	// "maximum write size, block size"). The VFS adapter aligns its
	// WRITE chunking to this in addition to the negotiated MaxWrite
	// (spec §4.4 "Read strategy"). Zero means "no alignment beyond
	// MaxWrite".
	BlockSize uint32

	// DaemonTimeout bounds how long the session waits for any reply
	// before declaring the server dead (spec §5 "Cancellation and
	// timeouts"). Zero disables the check.
	DaemonTimeout time.Duration
}

// Capabilities holds the negotiated result of INIT (spec §6 "INIT
// negotiation flags"), filled in by Session.CompleteInit.
type Capabilities struct {
	Major, Minor uint32
	MaxWrite     uint32
	Flags        wire.InitFlags
}

func (c Capabilities) CaseInsensitive() bool { return c.Flags&wire.InitCaseInsensitive != 0 }
func (c Capabilities) VolRename() bool       { return c.Flags&wire.InitVolRename != 0 }
func (c Capabilities) Xtimes() bool          { return c.Flags&wire.InitXtimes != 0 }

// MinMajor is the oldest protocol major version this implementation
// accepts during INIT (spec §6: "if the server's major/minor are below
// the minimum supported ... the session fails"). Session.CompleteInit
// kills the session when the negotiated Major is below it.
const MinMajor = 7
