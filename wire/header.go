package wire

import "unsafe"

// InHeader is the fixed leading segment of every outgoing request: length,
// opcode, unique, nodeid, uid, gid, pid, padding (spec §4.1). All integers
// are little-endian fixed width.
type InHeader struct {
	Len     uint32
	Opcode  OpCode
	Unique  uint64
	Nodeid  uint64
	Uid     uint32
	Gid     uint32
	Pid     uint32
	Padding uint32
}

// InHeaderSize is the on-wire size of InHeader.
const InHeaderSize = int(unsafe.Sizeof(InHeader{}))

// OutHeader is the fixed leading segment of every incoming reply: length,
// error, unique (spec §4.1). Error is the raw wire value: the negation of
// the standard small-integer error code, or zero for success.
type OutHeader struct {
	Len    uint32
	Error  int32
	Unique uint64
}

// OutHeaderSize is the on-wire size of OutHeader.
const OutHeaderSize = int(unsafe.Sizeof(OutHeader{}))
