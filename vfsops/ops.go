// Package vfsops defines the Go-native request/response types the VFS
// adapter exchanges with a FileSystem implementation — one struct pair
// per opcode named in spec §4.1, generalized from the teacher's
// fuseops.ops.go to the full opcode set this spec carries.
package vfsops

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// InodeID is a nodeid as seen by a FileSystem implementation. The root
// of the mounted tree always has InodeID(1) (spec §4.5).
type InodeID uint64

// HandleID is an opaque file/dir handle returned from OpenFileOp,
// OpenDirOp, or CreateFileOp and threaded back through every subsequent
// read/write/release on that handle.
type HandleID uint64

// InodeAttributes mirrors the attribute block carried by GETATTR/SETATTR/
// LOOKUP replies (spec §3 "cached modification time", "cached size";
// §4.1 wire Attr).
type InodeAttributes struct {
	Size  uint64
	Nlink uint32
	Mode  os.FileMode

	Uid uint32
	Gid uint32
	Rdev uint32

	Atime time.Time
	Mtime time.Time
	Ctime time.Time

	// Crtime and Bkuptime are populated only when the session negotiated
	// the XTIMES capability (spec §6).
	Crtime   time.Time
	Bkuptime time.Time
}

// ChildInodeEntry is returned for any operation that causes the kernel
// to learn about a child inode: LOOKUP, MKDIR, MKNOD, SYMLINK, LINK, and
// the entry half of CREATE (spec §4.1 EntryOut).
type ChildInodeEntry struct {
	Child      InodeID
	Generation uint64
	Attributes InodeAttributes

	AttributesExpiration time.Time
	EntryExpiration      time.Time
}

////////////////////////////////////////////////////////////////////////
// INIT
////////////////////////////////////////////////////////////////////////

// InitOp negotiates protocol capabilities (spec §6 "INIT negotiation
// flags"). It is answered exactly once, before any other op on a
// session.
type InitOp struct {
	Major, Minor uint32
	MaxReadahead uint32

	// CaseInsensitive, VolRename, Xtimes are the requested capability
	// flags; a FileSystem implementation may downgrade any of them in
	// its reply.
	CaseInsensitive bool
	VolRename       bool
	Xtimes          bool

	// Fields the implementation fills in for the reply.
	MaxWrite uint32
}

////////////////////////////////////////////////////////////////////////
// Inodes
////////////////////////////////////////////////////////////////////////

// LookUpInodeOp looks up a child by name within a known parent (spec
// §4.5 "lookup").
type LookUpInodeOp struct {
	Parent InodeID
	Name   string

	Entry ChildInodeEntry
}

// GetInodeAttributesOp fetches the current attributes of an inode (spec
// §4.4 "Attribute cache" — the adapter may short-circuit this entirely
// when its cache is fresh).
type GetInodeAttributesOp struct {
	Inode InodeID

	Attributes           InodeAttributes
	AttributesExpiration time.Time
}

// SetattrValid mirrors wire.SetattrSize etc. to keep the VFS layer free
// of a wire import; vfsadapter translates between the two.
type SetattrValid uint32

const (
	SetattrSize SetattrValid = 1 << iota
	SetattrMode
	SetattrUid
	SetattrGid
	SetattrAtime
	SetattrMtime
	// SetattrBkuptime and SetattrCrtime only ever apply under the
	// SETATTR_X platform extension (spec §4.1).
	SetattrBkuptime
	SetattrCrtime
)

// SetInodeAttributesOp changes one or more attributes of an inode (spec
// §4.4: "SETATTR/CREATE invalidate the [attribute] cache").
type SetInodeAttributesOp struct {
	Inode InodeID
	Valid SetattrValid

	Size  uint64
	Mode  os.FileMode
	Uid   uint32
	Gid   uint32
	Atime time.Time
	Mtime time.Time

	Bkuptime time.Time
	Crtime   time.Time

	Attributes           InodeAttributes
	AttributesExpiration time.Time
}

// ForgetInodeOp decrements the kernel's lookup count on an inode by N
// (spec §4.5 "forget"). It carries no reply.
type ForgetInodeOp struct {
	Inode InodeID
	N     uint64
}

////////////////////////////////////////////////////////////////////////
// Directories
////////////////////////////////////////////////////////////////////////

// MkDirOp creates a child directory.
type MkDirOp struct {
	Parent InodeID
	Name   string
	Mode   os.FileMode

	Entry ChildInodeEntry
}

// MkNodeOp creates a non-directory, non-symlink child (spec §4.1 MKNOD).
type MkNodeOp struct {
	Parent InodeID
	Name   string
	Mode   os.FileMode
	Rdev   uint32

	Entry ChildInodeEntry
}

// CreateFileOp creates and opens a regular file in one round trip (spec
// §4.4 "File handles").
type CreateFileOp struct {
	Parent InodeID
	Name   string
	Mode   os.FileMode
	Flags  uint32

	Entry  ChildInodeEntry
	Handle HandleID
}

// SymlinkOp creates a symbolic link.
type SymlinkOp struct {
	Parent InodeID
	Name   string
	Target string

	Entry ChildInodeEntry
}

// ReadSymlinkOp reads the target of a symbolic link.
type ReadSymlinkOp struct {
	Inode  InodeID
	Target string
}

// RmDirOp removes an empty child directory.
type RmDirOp struct {
	Parent InodeID
	Name   string
}

// UnlinkOp removes a child's directory entry. If the inode is still
// open, the adapter intercepts this into a hidden-rename instead of
// issuing the wire UNLINK directly (spec §4.6).
type UnlinkOp struct {
	Parent InodeID
	Name   string
}

// RenameOp renames/moves a child, possibly across directories. It carries
// no hide flag; hiding a clobbered destination is expressed only through
// the hide argument of inode.Table.Rename (spec §4.5 "rename").
type RenameOp struct {
	OldParent InodeID
	OldName   string
	NewParent InodeID
	NewName   string
}

// LinkOp creates a new hard link to an existing inode.
type LinkOp struct {
	Parent InodeID
	Name   string
	Target InodeID

	Entry ChildInodeEntry
}

// ExchangeDataOp atomically swaps the contents of two existing paths
// (spec §4.1 EXCHANGE, §4.4 "EXCHANGE semantics", §8 property 7).
type ExchangeDataOp struct {
	OldParent InodeID
	OldName   string
	NewParent InodeID
	NewName   string
	Options   uint64
}

////////////////////////////////////////////////////////////////////////
// Directory handles
////////////////////////////////////////////////////////////////////////

// OpenDirOp opens an existing directory, returning a handle for
// subsequent ReadDirOp/ReleaseDirHandleOp calls.
type OpenDirOp struct {
	Inode  InodeID
	Handle HandleID
}

// Dirent is one decoded entry from a ReadDirOp reply, after the adapter
// has parsed the server's packed `{ino, off, type, namelen, name[]}`
// stream (spec §4.4 "Readdir decoding").
type Dirent struct {
	Inode  InodeID
	Offset DirOffset
	Type   DirentType
	Name   string
}

// DirOffset is the opaque byte offset the kernel echoes back on the next
// ReadDirOp call; it need not be the entry's literal byte position, only
// stable and monotonic within one OpenDirOp/ReleaseDirHandleOp bracket.
type DirOffset uint64

// DirentType mirrors the wire dirent record's `type_` field.
type DirentType uint32

const (
	DT_Unknown DirentType = iota
	DT_Dir
	DT_File
	DT_Symlink
	DT_Block
	DT_Char
	DT_FIFO
	DT_Socket
)

// ReadDirOp reads a range of a directory's entries, starting at Offset
// (spec §4.4 "Readdir decoding"; a record with zero namelen is a
// protocol error, overlong namelen is fatal for this call).
type ReadDirOp struct {
	Inode  InodeID
	Handle HandleID
	Offset DirOffset
	Size   int

	Entries []Dirent
}

// ReleaseDirHandleOp releases a directory handle returned by OpenDirOp.
type ReleaseDirHandleOp struct {
	Handle HandleID
}

////////////////////////////////////////////////////////////////////////
// File handles
////////////////////////////////////////////////////////////////////////

// OpenFileOp opens an existing file, returning a handle (spec §4.4
// "File handles": "the adapter retains at most one per (inode,
// access-mode) slot plus a reference count").
type OpenFileOp struct {
	Inode InodeID
	Flags uint32

	Handle       HandleID
	KeepPageCache bool
}

// ReadFileOp reads from an open file handle. The adapter clips the
// request to the cached file size before dispatching (spec §4.4 "Read
// strategy").
type ReadFileOp struct {
	Inode  InodeID
	Handle HandleID
	Offset int64
	Dst    []byte

	BytesRead int
}

// WriteFileOp writes to an open file handle. The adapter chunks the
// caller's data by MaxWrite and by the session's block size before
// dispatching each chunk (spec §4.4 "Read strategy").
type WriteFileOp struct {
	Inode  InodeID
	Handle HandleID
	Offset int64
	Data   []byte
}

// SyncFileOp flushes a file's content to stable storage.
type SyncFileOp struct {
	Inode  InodeID
	Handle HandleID
}

// FlushFileOp is sent once per close(2) on a file descriptor that wraps
// this handle, as distinct from ReleaseFileHandleOp which is sent once
// the last descriptor referencing the handle is gone.
type FlushFileOp struct {
	Inode  InodeID
	Handle HandleID
}

// ReleaseFileHandleOp releases a file handle returned by OpenFileOp or
// CreateFileOp. If the owning inode was marked hidden and this is its
// last open handle, vfsadapter.Adapter.ReleaseFileHandle reports so, and
// its caller issues the deferred UNLINK of the hidden path through
// Adapter.UnlinkHiddenPath (spec §4.6).
type ReleaseFileHandleOp struct {
	Handle HandleID
}

////////////////////////////////////////////////////////////////////////
// Extended attributes
////////////////////////////////////////////////////////////////////////

type GetXattrOp struct {
	Inode InodeID
	Name  string
	Dst   []byte

	BytesRead int
}

type ListXattrOp struct {
	Inode InodeID
	Dst   []byte

	BytesRead int
}

type RemoveXattrOp struct {
	Inode InodeID
	Name  string
}

type SetXattrOp struct {
	Inode InodeID
	Name  string
	Value []byte
	Flags uint32
}

////////////////////////////////////////////////////////////////////////
// Misc
////////////////////////////////////////////////////////////////////////

// StatFSOp reports filesystem-wide statistics.
type StatFSOp struct {
	Blocks, BlocksFree, BlocksAvailable uint64
	Files, FilesFree                   uint64
	BlockSize, IoSize                  uint32
	NameLen                            uint32
}

// AccessOp checks permission bits (spec §6 "default_permissions":
// skipped entirely by the adapter when that mount option is set).
type AccessOp struct {
	Inode InodeID
	Mask  uint32
}

// FileLockType mirrors the wire FileLock.Typ field. The values are the
// real POSIX fcntl(2) lock-command constants (spec §6 "GETLK/SETLK"),
// so a FileSystem implementation can pass Type straight to a real
// flock-equivalent syscall without its own translation table (the role
// flock_linux.go/flock_darwin.go played in the teacher, generalized
// here from a bespoke enum to the values the host kernel itself uses).
type FileLockType uint32

const (
	LockRead  FileLockType = unix.F_RDLCK
	LockWrite FileLockType = unix.F_WRLCK
	LockNone  FileLockType = unix.F_UNLCK
)

type FileLock struct {
	Start, End uint64
	Type       FileLockType
	Pid        uint32
}

type GetLockOp struct {
	Inode  InodeID
	Handle HandleID
	Lock   FileLock
}

type SetLockOp struct {
	Inode    InodeID
	Handle   HandleID
	Lock     FileLock
	Blocking bool
}

// BlockMapOp maps a logical file block to a physical device block (spec
// §4.1 BMAP), an optional opcode most in-memory or network filesystems
// answer with ENOSYS.
type BlockMapOp struct {
	Inode     InodeID
	Block     uint64
	BlockSize uint32

	PhysicalBlock uint64
}

// GetXTimesOp reports backup-time and creation-time, valid only when the
// session negotiated XTIMES (spec §6; §7 "soft-degrade: GETXTIMES
// returns zero times").
type GetXTimesOp struct {
	Inode    InodeID
	Bkuptime time.Time
	Crtime   time.Time
}

// SetVolNameOp renames the mounted volume, valid only when the session
// negotiated VOL_RENAME (spec §6).
type SetVolNameOp struct {
	Name string
}

// InterruptOp is never exposed to a FileSystem implementation directly;
// it is consumed entirely by the dispatcher (spec §4.7). Neither
// vfsadapter nor fskit uses it: the dispatcher encodes INTERRUPT with
// wire.InterruptIn, and fskit answers INTERRUPT without decoding it.
type InterruptOp struct {
	TargetUnique uint64
}
