// Package wire implements the fixed-layout request/response framing shared
// by every op the dispatcher can send across a fusedev.Slot, and the
// opcode-specific payload codecs for each of them.
//
// Nothing in this package performs I/O: it only knows how to turn a Go
// struct into bytes and back. See spec §4.1.
package wire

import "fmt"

// OpCode identifies the kind of request or reply a frame carries.
type OpCode uint32

const (
	OpLookup OpCode = iota + 1
	OpForget
	OpGetattr
	OpSetattr
	OpReadlink
	OpSymlink
	OpMknod
	OpMkdir
	OpUnlink
	OpRmdir
	OpRename
	OpLink
	OpOpen
	OpRead
	OpWrite
	OpStatfs
	OpRelease
	OpFsync
	OpSetxattr
	OpGetxattr
	OpListxattr
	OpRemovexattr
	OpFlush
	OpInit
	OpOpendir
	OpReaddir
	OpReleasedir
	OpFsyncdir
	OpGetlk
	OpSetlk
	OpSetlkw
	OpAccess
	OpCreate
	OpInterrupt
	OpBmap

	// Platform extensions (§4.1).
	OpExchange
	OpGetxtimes
	OpSetvolname
	OpSetattrX
)

var opNames = map[OpCode]string{
	OpLookup:      "LOOKUP",
	OpForget:      "FORGET",
	OpGetattr:     "GETATTR",
	OpSetattr:     "SETATTR",
	OpReadlink:    "READLINK",
	OpSymlink:     "SYMLINK",
	OpMknod:       "MKNOD",
	OpMkdir:       "MKDIR",
	OpUnlink:      "UNLINK",
	OpRmdir:       "RMDIR",
	OpRename:      "RENAME",
	OpLink:        "LINK",
	OpOpen:        "OPEN",
	OpRead:        "READ",
	OpWrite:       "WRITE",
	OpStatfs:      "STATFS",
	OpRelease:     "RELEASE",
	OpFsync:       "FSYNC",
	OpSetxattr:    "SETXATTR",
	OpGetxattr:    "GETXATTR",
	OpListxattr:   "LISTXATTR",
	OpRemovexattr: "REMOVEXATTR",
	OpFlush:       "FLUSH",
	OpInit:        "INIT",
	OpOpendir:     "OPENDIR",
	OpReaddir:     "READDIR",
	OpReleasedir:  "RELEASEDIR",
	OpFsyncdir:    "FSYNCDIR",
	OpGetlk:       "GETLK",
	OpSetlk:       "SETLK",
	OpSetlkw:      "SETLKW",
	OpAccess:      "ACCESS",
	OpCreate:      "CREATE",
	OpInterrupt:   "INTERRUPT",
	OpBmap:        "BMAP",
	OpExchange:    "EXCHANGE",
	OpGetxtimes:   "GETXTIMES",
	OpSetvolname:  "SETVOLNAME",
	OpSetattrX:    "SETATTR_X",
}

func (o OpCode) String() string {
	if n, ok := opNames[o]; ok {
		return n
	}
	return fmt.Sprintf("OPCODE(%d)", uint32(o))
}

// optionalOpcodes is the set of opcodes a server may legitimately answer
// with ENOSYS, making them eligible for the dispatcher's retry-on-unsupported
// caching (spec §4.2, §7 "Unsupported").
var optionalOpcodes = map[OpCode]bool{
	OpSetxattr:    true,
	OpGetxattr:    true,
	OpListxattr:   true,
	OpRemovexattr: true,
	OpFsync:       true,
	OpFsyncdir:    true,
	OpFlush:       true,
	OpGetlk:       true,
	OpSetlk:       true,
	OpSetlkw:      true,
	OpBmap:        true,
	OpGetxtimes:   true,
	OpSetvolname:  true,
	OpSetattrX:    true,
	OpAccess:      true,
	OpOpen:        true,
	OpOpendir:     true,
}

// IsOptional reports whether the server is permitted to answer this opcode
// with ENOSYS, in which case the dispatcher remembers that fact for the
// life of the session instead of going on the wire again (spec §4.2).
func (o OpCode) IsOptional() bool {
	return optionalOpcodes[o]
}
