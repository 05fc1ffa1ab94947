package wire

import "os"

// Attr mirrors the fixed attribute block embedded in several replies
// (GETATTR, SETATTR, LOOKUP's entry, CREATE's entry). Times are seconds
// since the epoch plus a nanosecond remainder, the representation FUSE
// uses on the wire.
type Attr struct {
	Size          uint64
	Mode          uint32
	Nlink         uint32
	Uid           uint32
	Gid           uint32
	Rdev          uint32
	AtimeSec      int64
	AtimeNsec     uint32
	MtimeSec      int64
	MtimeNsec     uint32
	CtimeSec      int64
	CtimeNsec     uint32
	CrtimeSec     int64
	CrtimeNsec    uint32
	BkuptimeSec   int64
	BkuptimeNsec  uint32
}

func (a Attr) marshal(e *encoder) {
	e.u64(a.Size)
	e.u32(a.Mode)
	e.u32(a.Nlink)
	e.u32(a.Uid)
	e.u32(a.Gid)
	e.u32(a.Rdev)
	e.i64(a.AtimeSec)
	e.u32(a.AtimeNsec)
	e.i64(a.MtimeSec)
	e.u32(a.MtimeNsec)
	e.i64(a.CtimeSec)
	e.u32(a.CtimeNsec)
	e.i64(a.CrtimeSec)
	e.u32(a.CrtimeNsec)
	e.i64(a.BkuptimeSec)
	e.u32(a.BkuptimeNsec)
}

func unmarshalAttr(d *decoder) (a Attr) {
	a.Size = d.u64()
	a.Mode = d.u32()
	a.Nlink = d.u32()
	a.Uid = d.u32()
	a.Gid = d.u32()
	a.Rdev = d.u32()
	a.AtimeSec = d.i64()
	a.AtimeNsec = d.u32()
	a.MtimeSec = d.i64()
	a.MtimeNsec = d.u32()
	a.CtimeSec = d.i64()
	a.CtimeNsec = d.u32()
	a.CrtimeSec = d.i64()
	a.CrtimeNsec = d.u32()
	a.BkuptimeSec = d.i64()
	a.BkuptimeNsec = d.u32()
	return
}

////////////////////////////////////////////////////////////////////////
// LOOKUP / entries
////////////////////////////////////////////////////////////////////////

// LookupIn is the LOOKUP request payload: the child name, relative to the
// parent inode carried in InHeader.Nodeid.
type LookupIn struct {
	Name string
}

func (m LookupIn) Marshal() []byte {
	var e encoder
	e.cstring(m.Name)
	return e.Bytes()
}

func UnmarshalLookupIn(b []byte) (m LookupIn, err error) {
	d := newDecoder(b)
	m.Name = d.cstring()
	err = d.Err()
	return
}

// EntryOut is the reply payload for LOOKUP, MKDIR, MKNOD, SYMLINK, LINK,
// and the entry half of CREATE.
type EntryOut struct {
	Nodeid           uint64
	Generation       uint64
	EntryValidSec    int64
	EntryValidNsec   uint32
	AttrValidSec     int64
	AttrValidNsec    uint32
	Attr             Attr
}

func (m EntryOut) Marshal() []byte {
	var e encoder
	e.u64(m.Nodeid)
	e.u64(m.Generation)
	e.i64(m.EntryValidSec)
	e.u32(m.EntryValidNsec)
	e.i64(m.AttrValidSec)
	e.u32(m.AttrValidNsec)
	m.Attr.marshal(&e)
	return e.Bytes()
}

func UnmarshalEntryOut(b []byte) (m EntryOut, err error) {
	d := newDecoder(b)
	m.Nodeid = d.u64()
	m.Generation = d.u64()
	m.EntryValidSec = d.i64()
	m.EntryValidNsec = d.u32()
	m.AttrValidSec = d.i64()
	m.AttrValidNsec = d.u32()
	m.Attr = unmarshalAttr(d)
	err = d.Err()
	return
}

////////////////////////////////////////////////////////////////////////
// GETATTR / SETATTR
////////////////////////////////////////////////////////////////////////

// AttrOut is the reply payload for GETATTR and SETATTR.
type AttrOut struct {
	AttrValidSec  int64
	AttrValidNsec uint32
	Attr          Attr
}

func (m AttrOut) Marshal() []byte {
	var e encoder
	e.i64(m.AttrValidSec)
	e.u32(m.AttrValidNsec)
	m.Attr.marshal(&e)
	return e.Bytes()
}

func UnmarshalAttrOut(b []byte) (m AttrOut, err error) {
	d := newDecoder(b)
	m.AttrValidSec = d.i64()
	m.AttrValidNsec = d.u32()
	m.Attr = unmarshalAttr(d)
	err = d.Err()
	return
}

// Bits set in SetattrIn.Valid, indicating which fields the kernel wants
// changed. Unset fields must be left alone by the backing filesystem.
const (
	SetattrSize uint32 = 1 << iota
	SetattrMode
	SetattrUid
	SetattrGid
	SetattrAtime
	SetattrMtime
)

// SetattrIn is the SETATTR request payload.
type SetattrIn struct {
	Valid     uint32
	Size      uint64
	Mode      uint32
	Uid       uint32
	Gid       uint32
	AtimeSec  int64
	AtimeNsec uint32
	MtimeSec  int64
	MtimeNsec uint32
}

func (m SetattrIn) Marshal() []byte {
	var e encoder
	e.u32(m.Valid)
	e.u64(m.Size)
	e.u32(m.Mode)
	e.u32(m.Uid)
	e.u32(m.Gid)
	e.i64(m.AtimeSec)
	e.u32(m.AtimeNsec)
	e.i64(m.MtimeSec)
	e.u32(m.MtimeNsec)
	return e.Bytes()
}

func UnmarshalSetattrIn(b []byte) (m SetattrIn, err error) {
	d := newDecoder(b)
	m.Valid = d.u32()
	m.Size = d.u64()
	m.Mode = d.u32()
	m.Uid = d.u32()
	m.Gid = d.u32()
	m.AtimeSec = d.i64()
	m.AtimeNsec = d.u32()
	m.MtimeSec = d.i64()
	m.MtimeNsec = d.u32()
	err = d.Err()
	return
}

////////////////////////////////////////////////////////////////////////
// FORGET
////////////////////////////////////////////////////////////////////////

// ForgetIn is the FORGET request payload. FORGET carries no reply.
type ForgetIn struct {
	Nlookup uint64
}

func (m ForgetIn) Marshal() []byte {
	var e encoder
	e.u64(m.Nlookup)
	return e.Bytes()
}

func UnmarshalForgetIn(b []byte) (m ForgetIn, err error) {
	d := newDecoder(b)
	m.Nlookup = d.u64()
	err = d.Err()
	return
}

////////////////////////////////////////////////////////////////////////
// MKDIR / MKNOD / SYMLINK
////////////////////////////////////////////////////////////////////////

// MkdirIn is the MKDIR request payload.
type MkdirIn struct {
	Mode uint32
	Name string
}

func (m MkdirIn) Marshal() []byte {
	var e encoder
	e.u32(m.Mode)
	e.cstring(m.Name)
	return e.Bytes()
}

func UnmarshalMkdirIn(b []byte) (m MkdirIn, err error) {
	d := newDecoder(b)
	m.Mode = d.u32()
	m.Name = d.cstring()
	err = d.Err()
	return
}

// MknodIn is the MKNOD request payload.
type MknodIn struct {
	Mode uint32
	Rdev uint32
	Name string
}

func (m MknodIn) Marshal() []byte {
	var e encoder
	e.u32(m.Mode)
	e.u32(m.Rdev)
	e.cstring(m.Name)
	return e.Bytes()
}

func UnmarshalMknodIn(b []byte) (m MknodIn, err error) {
	d := newDecoder(b)
	m.Mode = d.u32()
	m.Rdev = d.u32()
	m.Name = d.cstring()
	err = d.Err()
	return
}

// SymlinkIn is the SYMLINK request payload: the link name followed by its
// target, both NUL-terminated.
type SymlinkIn struct {
	Name   string
	Target string
}

func (m SymlinkIn) Marshal() []byte {
	var e encoder
	e.cstring(m.Name)
	e.cstring(m.Target)
	return e.Bytes()
}

func UnmarshalSymlinkIn(b []byte) (m SymlinkIn, err error) {
	d := newDecoder(b)
	m.Name = d.cstring()
	m.Target = d.cstring()
	err = d.Err()
	return
}

// ReadlinkOut is the READLINK reply payload: the raw target string with no
// terminator (spec §4.1 payloads carry no envelope beyond the frame).
type ReadlinkOut struct {
	Target string
}

func (m ReadlinkOut) Marshal() []byte {
	return []byte(m.Target)
}

func UnmarshalReadlinkOut(b []byte) ReadlinkOut {
	return ReadlinkOut{Target: string(b)}
}

////////////////////////////////////////////////////////////////////////
// UNLINK / RMDIR / RENAME / LINK
////////////////////////////////////////////////////////////////////////

// UnlinkIn / RmdirIn are the UNLINK and RMDIR request payloads: just the
// child name, relative to InHeader.Nodeid.
type UnlinkIn struct{ Name string }

func (m UnlinkIn) Marshal() []byte {
	var e encoder
	e.cstring(m.Name)
	return e.Bytes()
}

func UnmarshalUnlinkIn(b []byte) (m UnlinkIn, err error) {
	d := newDecoder(b)
	m.Name = d.cstring()
	err = d.Err()
	return
}

type RmdirIn struct{ Name string }

func (m RmdirIn) Marshal() []byte {
	var e encoder
	e.cstring(m.Name)
	return e.Bytes()
}

func UnmarshalRmdirIn(b []byte) (m RmdirIn, err error) {
	d := newDecoder(b)
	m.Name = d.cstring()
	err = d.Err()
	return
}

// RenameIn is the RENAME request payload: the new parent nodeid, the old
// name (relative to InHeader.Nodeid), and the new name.
type RenameIn struct {
	Newdir  uint64
	Oldname string
	Newname string
}

func (m RenameIn) Marshal() []byte {
	var e encoder
	e.u64(m.Newdir)
	e.cstring(m.Oldname)
	e.cstring(m.Newname)
	return e.Bytes()
}

func UnmarshalRenameIn(b []byte) (m RenameIn, err error) {
	d := newDecoder(b)
	m.Newdir = d.u64()
	m.Oldname = d.cstring()
	m.Newname = d.cstring()
	err = d.Err()
	return
}

// LinkIn is the LINK request payload: the existing inode to hard-link, and
// the new name under InHeader.Nodeid.
type LinkIn struct {
	Oldnodeid uint64
	Newname   string
}

func (m LinkIn) Marshal() []byte {
	var e encoder
	e.u64(m.Oldnodeid)
	e.cstring(m.Newname)
	return e.Bytes()
}

func UnmarshalLinkIn(b []byte) (m LinkIn, err error) {
	d := newDecoder(b)
	m.Oldnodeid = d.u64()
	m.Newname = d.cstring()
	err = d.Err()
	return
}

////////////////////////////////////////////////////////////////////////
// OPEN / CREATE / RELEASE
////////////////////////////////////////////////////////////////////////

// OpenIn is the OPEN/OPENDIR request payload.
type OpenIn struct {
	Flags uint32
}

func (m OpenIn) Marshal() []byte {
	var e encoder
	e.u32(m.Flags)
	return e.Bytes()
}

func UnmarshalOpenIn(b []byte) (m OpenIn, err error) {
	d := newDecoder(b)
	m.Flags = d.u32()
	err = d.Err()
	return
}

// OpenOut is the OPEN/OPENDIR reply payload: the opaque file handle.
type OpenOut struct {
	Fh uint64
}

func (m OpenOut) Marshal() []byte {
	var e encoder
	e.u64(m.Fh)
	return e.Bytes()
}

func UnmarshalOpenOut(b []byte) (m OpenOut, err error) {
	d := newDecoder(b)
	m.Fh = d.u64()
	err = d.Err()
	return
}

// CreateIn is the CREATE request payload.
type CreateIn struct {
	Flags uint32
	Mode  uint32
	Name  string
}

func (m CreateIn) Marshal() []byte {
	var e encoder
	e.u32(m.Flags)
	e.u32(m.Mode)
	e.cstring(m.Name)
	return e.Bytes()
}

func UnmarshalCreateIn(b []byte) (m CreateIn, err error) {
	d := newDecoder(b)
	m.Flags = d.u32()
	m.Mode = d.u32()
	m.Name = d.cstring()
	err = d.Err()
	return
}

// CreateOut is the CREATE reply payload: an EntryOut followed by an
// OpenOut, matching ops.go's createFileOp.kernelResponse (entry then open).
type CreateOut struct {
	Entry EntryOut
	Open  OpenOut
}

func (m CreateOut) Marshal() []byte {
	var buf []byte
	buf = append(buf, m.Entry.Marshal()...)
	buf = append(buf, m.Open.Marshal()...)
	return buf
}

func UnmarshalCreateOut(b []byte) (m CreateOut, err error) {
	const entrySize = 2*8 + 8 + 4 + 8 + 4 + attrSize
	if len(b) < entrySize {
		err = ErrProtocol
		return
	}
	if m.Entry, err = UnmarshalEntryOut(b[:entrySize]); err != nil {
		return
	}
	m.Open, err = UnmarshalOpenOut(b[entrySize:])
	return
}

const attrSize = 8 + 4*5 + (8+4)*5

// ReleaseIn is the RELEASE/RELEASEDIR request payload.
type ReleaseIn struct {
	Fh    uint64
	Flags uint32
}

func (m ReleaseIn) Marshal() []byte {
	var e encoder
	e.u64(m.Fh)
	e.u32(m.Flags)
	return e.Bytes()
}

func UnmarshalReleaseIn(b []byte) (m ReleaseIn, err error) {
	d := newDecoder(b)
	m.Fh = d.u64()
	m.Flags = d.u32()
	err = d.Err()
	return
}

////////////////////////////////////////////////////////////////////////
// READ / WRITE
////////////////////////////////////////////////////////////////////////

// ReadIn is the READ/READDIR request payload.
type ReadIn struct {
	Fh     uint64
	Offset int64
	Size   uint32
}

func (m ReadIn) Marshal() []byte {
	var e encoder
	e.u64(m.Fh)
	e.i64(m.Offset)
	e.u32(m.Size)
	return e.Bytes()
}

func UnmarshalReadIn(b []byte) (m ReadIn, err error) {
	d := newDecoder(b)
	m.Fh = d.u64()
	m.Offset = d.i64()
	m.Size = d.u32()
	err = d.Err()
	return
}

// ReadOut / ReaddirOut are the raw data payload: bytes copied straight
// through without a length prefix (spec §4.3: the dispatcher does not copy
// the externally-owned data buffer).
type ReadOut struct{ Data []byte }

func (m ReadOut) Marshal() []byte { return m.Data }

// WriteIn is the WRITE request payload: offset followed by the raw bytes to
// write. The caller keeps Data live until the ticket is released (spec
// §4.2 "Bulk data").
type WriteIn struct {
	Fh     uint64
	Offset int64
	Data   []byte
}

func (m WriteIn) Marshal() []byte {
	var e encoder
	e.u64(m.Fh)
	e.i64(m.Offset)
	e.bytes(m.Data)
	return e.Bytes()
}

func UnmarshalWriteIn(b []byte) (m WriteIn, err error) {
	d := newDecoder(b)
	m.Fh = d.u64()
	m.Offset = d.i64()
	m.Data = d.rest()
	err = d.Err()
	return
}

// WriteOut is the WRITE reply payload: the number of bytes accepted.
type WriteOut struct {
	Size uint32
}

func (m WriteOut) Marshal() []byte {
	var e encoder
	e.u32(m.Size)
	return e.Bytes()
}

func UnmarshalWriteOut(b []byte) (m WriteOut, err error) {
	d := newDecoder(b)
	m.Size = d.u32()
	err = d.Err()
	return
}

////////////////////////////////////////////////////////////////////////
// FSYNC / FLUSH
////////////////////////////////////////////////////////////////////////

// FsyncIn is the FSYNC/FSYNCDIR request payload.
type FsyncIn struct {
	Fh          uint64
	FsyncFlags  uint32
}

func (m FsyncIn) Marshal() []byte {
	var e encoder
	e.u64(m.Fh)
	e.u32(m.FsyncFlags)
	return e.Bytes()
}

func UnmarshalFsyncIn(b []byte) (m FsyncIn, err error) {
	d := newDecoder(b)
	m.Fh = d.u64()
	m.FsyncFlags = d.u32()
	err = d.Err()
	return
}

// FlushIn is the FLUSH request payload.
type FlushIn struct {
	Fh uint64
}

func (m FlushIn) Marshal() []byte {
	var e encoder
	e.u64(m.Fh)
	return e.Bytes()
}

func UnmarshalFlushIn(b []byte) (m FlushIn, err error) {
	d := newDecoder(b)
	m.Fh = d.u64()
	err = d.Err()
	return
}

////////////////////////////////////////////////////////////////////////
// STATFS
////////////////////////////////////////////////////////////////////////

// StatfsOut is the STATFS reply payload.
type StatfsOut struct {
	Blocks  uint64
	Bfree   uint64
	Bavail  uint64
	Files   uint64
	Ffree   uint64
	Bsize   uint32
	Namelen uint32
	Frsize  uint32
}

func (m StatfsOut) Marshal() []byte {
	var e encoder
	e.u64(m.Blocks)
	e.u64(m.Bfree)
	e.u64(m.Bavail)
	e.u64(m.Files)
	e.u64(m.Ffree)
	e.u32(m.Bsize)
	e.u32(m.Namelen)
	e.u32(m.Frsize)
	return e.Bytes()
}

func UnmarshalStatfsOut(b []byte) (m StatfsOut, err error) {
	d := newDecoder(b)
	m.Blocks = d.u64()
	m.Bfree = d.u64()
	m.Bavail = d.u64()
	m.Files = d.u64()
	m.Ffree = d.u64()
	m.Bsize = d.u32()
	m.Namelen = d.u32()
	m.Frsize = d.u32()
	err = d.Err()
	return
}

////////////////////////////////////////////////////////////////////////
// xattr
////////////////////////////////////////////////////////////////////////

// SetxattrIn is the SETXATTR request payload.
type SetxattrIn struct {
	Name  string
	Value []byte
	Flags uint32
}

func (m SetxattrIn) Marshal() []byte {
	var e encoder
	e.u32(m.Flags)
	e.u32(uint32(len(m.Value)))
	e.cstring(m.Name)
	e.bytes(m.Value)
	return e.Bytes()
}

func UnmarshalSetxattrIn(b []byte) (m SetxattrIn, err error) {
	d := newDecoder(b)
	m.Flags = d.u32()
	n := d.u32()
	m.Name = d.cstring()
	m.Value = d.fixed(int(n))
	err = d.Err()
	return
}

// GetxattrIn is the GETXATTR/LISTXATTR request payload.
type GetxattrIn struct {
	Name string
	Size uint32
}

func (m GetxattrIn) Marshal() []byte {
	var e encoder
	e.u32(m.Size)
	e.cstring(m.Name)
	return e.Bytes()
}

func UnmarshalGetxattrIn(b []byte) (m GetxattrIn, err error) {
	d := newDecoder(b)
	m.Size = d.u32()
	m.Name = d.cstring()
	err = d.Err()
	return
}

// GetxattrOut / ListxattrOut carry either the raw value/listing bytes (if
// the caller's buffer was large enough) or, when Size was probed with 0, a
// payload of just the required size.
type GetxattrOut struct {
	Size  uint32
	Value []byte
}

func (m GetxattrOut) Marshal() []byte {
	if m.Value != nil {
		return m.Value
	}
	var e encoder
	e.u32(m.Size)
	return e.Bytes()
}

// UnmarshalGetxattrOut decodes the four-byte "size probe" reply a caller
// gets back after sending Size 0; a non-probe reply is just the raw value
// bytes and has no envelope to unmarshal.
func UnmarshalGetxattrOut(b []byte) (m GetxattrOut, err error) {
	d := newDecoder(b)
	m.Size = d.u32()
	err = d.Err()
	return
}

////////////////////////////////////////////////////////////////////////
// INIT
////////////////////////////////////////////////////////////////////////

// InitFlags are the negotiated INIT capability bits (spec §6).
type InitFlags uint32

const (
	InitCaseInsensitive InitFlags = 1 << iota
	InitVolRename
	InitXtimes
)

// InitIn is the INIT request payload.
type InitIn struct {
	Major        uint32
	Minor        uint32
	MaxReadahead uint32
	Flags        InitFlags
}

func (m InitIn) Marshal() []byte {
	var e encoder
	e.u32(m.Major)
	e.u32(m.Minor)
	e.u32(m.MaxReadahead)
	e.u32(uint32(m.Flags))
	return e.Bytes()
}

func UnmarshalInitIn(b []byte) (m InitIn, err error) {
	d := newDecoder(b)
	m.Major = d.u32()
	m.Minor = d.u32()
	m.MaxReadahead = d.u32()
	m.Flags = InitFlags(d.u32())
	err = d.Err()
	return
}

// InitOut is the INIT reply payload.
type InitOut struct {
	Major    uint32
	Minor    uint32
	MaxWrite uint32
	Flags    InitFlags
}

func (m InitOut) Marshal() []byte {
	var e encoder
	e.u32(m.Major)
	e.u32(m.Minor)
	e.u32(m.MaxWrite)
	e.u32(uint32(m.Flags))
	return e.Bytes()
}

func UnmarshalInitOut(b []byte) (m InitOut, err error) {
	d := newDecoder(b)
	m.Major = d.u32()
	m.Minor = d.u32()
	m.MaxWrite = d.u32()
	m.Flags = InitFlags(d.u32())
	err = d.Err()
	return
}

////////////////////////////////////////////////////////////////////////
// INTERRUPT
////////////////////////////////////////////////////////////////////////

// InterruptIn is the INTERRUPT request payload: the unique id of the
// request being cancelled (spec §4.7).
type InterruptIn struct {
	Unique uint64
}

func (m InterruptIn) Marshal() []byte {
	var e encoder
	e.u64(m.Unique)
	return e.Bytes()
}

func UnmarshalInterruptIn(b []byte) (m InterruptIn, err error) {
	d := newDecoder(b)
	m.Unique = d.u64()
	err = d.Err()
	return
}

////////////////////////////////////////////////////////////////////////
// Locking
////////////////////////////////////////////////////////////////////////

// FileLock mirrors the POSIX flock(2) structure carried by GETLK/SETLK/
// SETLKW.
type FileLock struct {
	Start uint64
	End   uint64
	Typ   uint32
	Pid   uint32
}

func (m FileLock) marshal(e *encoder) {
	e.u64(m.Start)
	e.u64(m.End)
	e.u32(m.Typ)
	e.u32(m.Pid)
}

func unmarshalFileLock(d *decoder) (m FileLock) {
	m.Start = d.u64()
	m.End = d.u64()
	m.Typ = d.u32()
	m.Pid = d.u32()
	return
}

// LkIn is the GETLK/SETLK/SETLKW request payload.
type LkIn struct {
	Fh   uint64
	Lock FileLock
}

func (m LkIn) Marshal() []byte {
	var e encoder
	e.u64(m.Fh)
	m.Lock.marshal(&e)
	return e.Bytes()
}

func UnmarshalLkIn(b []byte) (m LkIn, err error) {
	d := newDecoder(b)
	m.Fh = d.u64()
	m.Lock = unmarshalFileLock(d)
	err = d.Err()
	return
}

// LkOut is the GETLK reply payload.
type LkOut struct {
	Lock FileLock
}

func (m LkOut) Marshal() []byte {
	var e encoder
	m.Lock.marshal(&e)
	return e.Bytes()
}

func UnmarshalLkOut(b []byte) (m LkOut, err error) {
	d := newDecoder(b)
	m.Lock = unmarshalFileLock(d)
	err = d.Err()
	return
}

////////////////////////////////////////////////////////////////////////
// ACCESS / BMAP
////////////////////////////////////////////////////////////////////////

// AccessIn is the ACCESS request payload.
type AccessIn struct {
	Mask uint32
}

func (m AccessIn) Marshal() []byte {
	var e encoder
	e.u32(m.Mask)
	return e.Bytes()
}

func UnmarshalAccessIn(b []byte) (m AccessIn, err error) {
	d := newDecoder(b)
	m.Mask = d.u32()
	err = d.Err()
	return
}

// BmapIn is the BMAP request payload.
type BmapIn struct {
	Block     uint64
	Blocksize uint32
}

func (m BmapIn) Marshal() []byte {
	var e encoder
	e.u64(m.Block)
	e.u32(m.Blocksize)
	return e.Bytes()
}

func UnmarshalBmapIn(b []byte) (m BmapIn, err error) {
	d := newDecoder(b)
	m.Block = d.u64()
	m.Blocksize = d.u32()
	err = d.Err()
	return
}

// BmapOut is the BMAP reply payload.
type BmapOut struct {
	Block uint64
}

func (m BmapOut) Marshal() []byte {
	var e encoder
	e.u64(m.Block)
	return e.Bytes()
}

func UnmarshalBmapOut(b []byte) (m BmapOut, err error) {
	d := newDecoder(b)
	m.Block = d.u64()
	err = d.Err()
	return
}

////////////////////////////////////////////////////////////////////////
// Platform extensions: EXCHANGE, GETXTIMES, SETVOLNAME, SETATTR_X
////////////////////////////////////////////////////////////////////////

// ExchangeIn is the EXCHANGE request payload: two full paths (relative to
// their own parent nodeids) to atomically swap (spec §4.4).
type ExchangeIn struct {
	Olddir  uint64
	Oldname string
	Newdir  uint64
	Newname string
	Options uint64
}

func (m ExchangeIn) Marshal() []byte {
	var e encoder
	e.u64(m.Olddir)
	e.u64(m.Newdir)
	e.u64(m.Options)
	e.cstring(m.Oldname)
	e.cstring(m.Newname)
	return e.Bytes()
}

func UnmarshalExchangeIn(b []byte) (m ExchangeIn, err error) {
	d := newDecoder(b)
	m.Olddir = d.u64()
	m.Newdir = d.u64()
	m.Options = d.u64()
	m.Oldname = d.cstring()
	m.Newname = d.cstring()
	err = d.Err()
	return
}

// GetxtimesOut is the GETXTIMES reply payload: backup time and creation
// time, gated behind the XTIMES INIT flag (spec §6).
type GetxtimesOut struct {
	BkuptimeSec  int64
	BkuptimeNsec uint32
	CrtimeSec    int64
	CrtimeNsec   uint32
}

func (m GetxtimesOut) Marshal() []byte {
	var e encoder
	e.i64(m.BkuptimeSec)
	e.u32(m.BkuptimeNsec)
	e.i64(m.CrtimeSec)
	e.u32(m.CrtimeNsec)
	return e.Bytes()
}

func UnmarshalGetxtimesOut(b []byte) (m GetxtimesOut, err error) {
	d := newDecoder(b)
	m.BkuptimeSec = d.i64()
	m.BkuptimeNsec = d.u32()
	m.CrtimeSec = d.i64()
	m.CrtimeNsec = d.u32()
	err = d.Err()
	return
}

// SetvolnameIn is the SETVOLNAME request payload, gated behind the
// VOL_RENAME INIT flag (spec §6).
type SetvolnameIn struct {
	Name string
}

func (m SetvolnameIn) Marshal() []byte {
	var e encoder
	e.cstring(m.Name)
	return e.Bytes()
}

func UnmarshalSetvolnameIn(b []byte) (m SetvolnameIn, err error) {
	d := newDecoder(b)
	m.Name = d.cstring()
	err = d.Err()
	return
}

// SetattrXIn extends SetattrIn with the backup-time and creation-time
// fields platform extensions expose alongside XTIMES.
type SetattrXIn struct {
	SetattrIn
	BkuptimeSec  int64
	BkuptimeNsec uint32
	CrtimeSec    int64
	CrtimeNsec   uint32
}

func (m SetattrXIn) Marshal() []byte {
	var e encoder
	e.u32(m.Valid)
	e.u64(m.Size)
	e.u32(m.Mode)
	e.u32(m.Uid)
	e.u32(m.Gid)
	e.i64(m.AtimeSec)
	e.u32(m.AtimeNsec)
	e.i64(m.MtimeSec)
	e.u32(m.MtimeNsec)
	e.i64(m.BkuptimeSec)
	e.u32(m.BkuptimeNsec)
	e.i64(m.CrtimeSec)
	e.u32(m.CrtimeNsec)
	return e.Bytes()
}

func UnmarshalSetattrXIn(b []byte) (m SetattrXIn, err error) {
	d := newDecoder(b)
	m.Valid = d.u32()
	m.Size = d.u64()
	m.Mode = d.u32()
	m.Uid = d.u32()
	m.Gid = d.u32()
	m.AtimeSec = d.i64()
	m.AtimeNsec = d.u32()
	m.MtimeSec = d.i64()
	m.MtimeNsec = d.u32()
	m.BkuptimeSec = d.i64()
	m.BkuptimeNsec = d.u32()
	m.CrtimeSec = d.i64()
	m.CrtimeNsec = d.u32()
	err = d.Err()
	return
}

// ModeFromOS converts an os.FileMode to the wire's raw permission bits;
// the file-type (S_IFMT) bits are not included.
// Kept here rather than in vfsops to keep all wire-layout knowledge in one
// package (spec §4.1: "the codec ... performs no I/O").
func ModeFromOS(m os.FileMode) uint32 {
	return uint32(m.Perm())
}
