// Package vfsadapter translates FileSystem-level operations (vfsops)
// into dispatcher calls, maintaining the attribute cache, file handle
// table, readdir buffer decoding, and hidden-rename-on-open-delete
// mechanism the spec assigns to the VFS adapter (spec §4.4, §4.6).
package vfsadapter

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/go-fuse-transport/fused/dispatch"
	"github.com/go-fuse-transport/fused/fuseutil"
	"github.com/go-fuse-transport/fused/fusesession"
	"github.com/go-fuse-transport/fused/inode"
	"github.com/go-fuse-transport/fused/vfsops"
	"github.com/go-fuse-transport/fused/wire"
)

// AccessMode identifies one of the three handle slots a node may hold
// open at once (spec §3 "File handle": "up to one handle per access
// mode").
type AccessMode int

const (
	AccessReadOnly AccessMode = iota
	AccessWriteOnly
	AccessReadWrite
)

func accessModeForFlags(flags uint32) AccessMode {
	const oAccmode = 0x3
	switch flags & oAccmode {
	case 0:
		return AccessReadOnly
	case 1:
		return AccessWriteOnly
	default:
		return AccessReadWrite
	}
}

// handleEntry is one open file/dir handle cached per (inode, mode).
type handleEntry struct {
	fh       uint64
	refcount int
}

// attrCacheEntry mirrors spec §3's "cached modification time" / "cached
// size" plus the expiration deadline spec §4.4 describes.
type attrCacheEntry struct {
	attrs      vfsops.InodeAttributes
	expiration time.Time
}

// Adapter is the VFS adapter of spec §4.4. One Adapter exists per
// mounted session.
type Adapter struct {
	sess  *fusesession.Session
	table *inode.Table

	mu sync.Mutex // per-inode locks folded into one, per spec §5's "big lock" option

	attrCache map[vfsops.InodeID]attrCacheEntry
	handles   map[vfsops.InodeID]map[AccessMode]*handleEntry

	attrTTL     time.Duration
	invalidator PageInvalidator
}

// New creates an Adapter bound to sess and table. attrTTL is how long a
// GetInodeAttributes result is trusted before the adapter goes back to
// the wire (spec §4.4 "Attribute cache").
func New(sess *fusesession.Session, table *inode.Table, attrTTL time.Duration) *Adapter {
	return &Adapter{
		sess:      sess,
		table:     table,
		attrCache: make(map[vfsops.InodeID]attrCacheEntry),
		handles:   make(map[vfsops.InodeID]map[AccessMode]*handleEntry),
		attrTTL:   attrTTL,
	}
}

////////////////////////////////////////////////////////////////////////
// Attribute cache
////////////////////////////////////////////////////////////////////////

// cachedAttrs returns a still-fresh cache entry, if any.
func (a *Adapter) cachedAttrs(id vfsops.InodeID, now time.Time) (vfsops.InodeAttributes, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.attrCache[id]
	if !ok || now.After(e.expiration) {
		return vfsops.InodeAttributes{}, false
	}
	return e.attrs, true
}

func (a *Adapter) storeAttrs(id vfsops.InodeID, attrs vfsops.InodeAttributes, expiration time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.attrCache[id] = attrCacheEntry{attrs: attrs, expiration: expiration}
}

// InvalidateAttrs drops any cached attributes for id; called on
// SETATTR/CREATE and around EXCHANGE (spec §4.4).
func (a *Adapter) InvalidateAttrs(id vfsops.InodeID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.attrCache, id)
}

// GetInodeAttributes implements spec §4.4's "GETATTR skips the wire if
// the cache is fresh".
func (a *Adapter) GetInodeAttributes(ctx context.Context, op *vfsops.GetInodeAttributesOp) error {
	now := a.table.Now()
	if attrs, ok := a.cachedAttrs(op.Inode, now); ok {
		op.Attributes = attrs
		op.AttributesExpiration = now.Add(a.attrTTL)
		return nil
	}

	payload, err := dispatch.Dispatch(ctx, a.sess, wire.OpGetattr, uint64(op.Inode), nil)
	if err != nil {
		return err
	}
	out, err := wire.UnmarshalAttrOut(payload)
	if err != nil {
		return err
	}

	op.Attributes = attrFromWire(out.Attr)
	op.AttributesExpiration = now.Add(a.attrTTL)
	a.storeAttrs(op.Inode, op.Attributes, op.AttributesExpiration)
	return nil
}

func attrFromWire(wa wire.Attr) vfsops.InodeAttributes {
	return vfsops.InodeAttributes{
		Size:     wa.Size,
		Nlink:    wa.Nlink,
		Mode:     modeFromWire(wa.Mode),
		Uid:      wa.Uid,
		Gid:      wa.Gid,
		Rdev:     wa.Rdev,
		Atime:    time.Unix(wa.AtimeSec, int64(wa.AtimeNsec)),
		Mtime:    time.Unix(wa.MtimeSec, int64(wa.MtimeNsec)),
		Ctime:    time.Unix(wa.CtimeSec, int64(wa.CtimeNsec)),
		Crtime:   time.Unix(wa.CrtimeSec, int64(wa.CrtimeNsec)),
		Bkuptime: time.Unix(wa.BkuptimeSec, int64(wa.BkuptimeNsec)),
	}
}

// wire mode bits above the low 12 permission bits, mirroring the POSIX
// S_IFMT file-type encoding the backing filesystem's server uses.
const (
	sIFMT   = 0170000
	sIFDIR  = 0040000
	sIFLNK  = 0120000
	sIFSOCK = 0140000
	sIFIFO  = 0010000
	sIFBLK  = 0060000
	sIFCHR  = 0020000
	sIFREG  = 0100000
)

// modeFromWire converts a raw wire mode (permission bits plus an S_IFMT
// file-type tag) into an os.FileMode, the representation vfsops.
// InodeAttributes carries so that FileSystem implementations never see
// a raw wire integer.
func modeFromWire(raw uint32) os.FileMode {
	perm := os.FileMode(raw & 0777)
	switch raw & sIFMT {
	case sIFDIR:
		return perm | os.ModeDir
	case sIFLNK:
		return perm | os.ModeSymlink
	case sIFSOCK:
		return perm | os.ModeSocket
	case sIFIFO:
		return perm | os.ModeNamedPipe
	case sIFBLK:
		return perm | os.ModeDevice
	case sIFCHR:
		return perm | os.ModeDevice | os.ModeCharDevice
	default:
		return perm
	}
}

// modeToWire is modeFromWire's inverse, used when sending a mode created
// locally (MKDIR, MKNOD, CREATE) out on the wire.
func modeToWire(m os.FileMode) uint32 {
	raw := uint32(m.Perm())
	switch {
	case m&os.ModeDir != 0:
		raw |= sIFDIR
	case m&os.ModeSymlink != 0:
		raw |= sIFLNK
	case m&os.ModeSocket != 0:
		raw |= sIFSOCK
	case m&os.ModeNamedPipe != 0:
		raw |= sIFIFO
	case m&os.ModeCharDevice != 0:
		raw |= sIFCHR
	case m&os.ModeDevice != 0:
		raw |= sIFBLK
	default:
		raw |= sIFREG
	}
	return raw
}

// SetInodeAttributes implements SETATTR, invalidating the cache (spec
// §4.4: "SETATTR/CREATE invalidate the cache").
func (a *Adapter) SetInodeAttributes(ctx context.Context, op *vfsops.SetInodeAttributesOp) error {
	in := wire.SetattrIn{}
	if op.Valid&vfsops.SetattrSize != 0 {
		in.Valid |= wire.SetattrSize
		in.Size = op.Size
	}
	if op.Valid&vfsops.SetattrMode != 0 {
		in.Valid |= wire.SetattrMode
		in.Mode = uint32(op.Mode.Perm())
	}
	if op.Valid&vfsops.SetattrUid != 0 {
		in.Valid |= wire.SetattrUid
		in.Uid = op.Uid
	}
	if op.Valid&vfsops.SetattrGid != 0 {
		in.Valid |= wire.SetattrGid
		in.Gid = op.Gid
	}
	if op.Valid&vfsops.SetattrAtime != 0 {
		in.Valid |= wire.SetattrAtime
		in.AtimeSec = op.Atime.Unix()
		in.AtimeNsec = uint32(op.Atime.Nanosecond())
	}
	if op.Valid&vfsops.SetattrMtime != 0 {
		in.Valid |= wire.SetattrMtime
		in.MtimeSec = op.Mtime.Unix()
		in.MtimeNsec = uint32(op.Mtime.Nanosecond())
	}

	// Bkuptime/Crtime only ever apply under the SETATTR_X platform
	// extension, gated on the session having negotiated XTIMES (spec
	// §6 "INIT negotiation flags"): sending OpSetattrX to a server that
	// never advertised xtimes support would be answered with ENOSYS.
	opcode := wire.OpSetattr
	if op.Valid&(vfsops.SetattrBkuptime|vfsops.SetattrCrtime) != 0 && a.sess.Capabilities().Xtimes() {
		xin := wire.SetattrXIn{SetattrIn: in}
		xin.BkuptimeSec = op.Bkuptime.Unix()
		xin.BkuptimeNsec = uint32(op.Bkuptime.Nanosecond())
		xin.CrtimeSec = op.Crtime.Unix()
		xin.CrtimeNsec = uint32(op.Crtime.Nanosecond())
		payload, err := dispatch.Dispatch(ctx, a.sess, wire.OpSetattrX, uint64(op.Inode), xin.Marshal())
		if err != nil {
			return err
		}
		return a.finishSetattr(op, payload)
	}

	payload, err := dispatch.Dispatch(ctx, a.sess, opcode, uint64(op.Inode), in.Marshal())
	if err != nil {
		return err
	}
	return a.finishSetattr(op, payload)
}

// finishSetattr decodes the AttrOut reply shared by SETATTR and
// SETATTR_X, invalidates the attribute cache, and pushes pages on a
// size-changing update (spec §4.4 "Attribute cache", "Read strategy").
func (a *Adapter) finishSetattr(op *vfsops.SetInodeAttributesOp, payload []byte) error {
	out, err := wire.UnmarshalAttrOut(payload)
	if err != nil {
		return err
	}

	a.InvalidateAttrs(op.Inode)
	now := a.table.Now()
	op.Attributes = attrFromWire(out.Attr)
	op.AttributesExpiration = now.Add(a.attrTTL)
	a.storeAttrs(op.Inode, op.Attributes, op.AttributesExpiration)

	// A SIZE-changing SETATTR must push and invalidate cached pages so
	// they never shadow the new content (spec §4.4 "Read strategy").
	if op.Valid&vfsops.SetattrSize != 0 {
		a.flushAndInvalidatePages(op.Inode)
	}

	return nil
}

////////////////////////////////////////////////////////////////////////
// File handles
////////////////////////////////////////////////////////////////////////

func (a *Adapter) acquireHandle(id vfsops.InodeID, mode AccessMode, fh uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	m, ok := a.handles[id]
	if !ok {
		m = make(map[AccessMode]*handleEntry)
		a.handles[id] = m
	}
	e, ok := m[mode]
	if !ok {
		e = &handleEntry{fh: fh}
		m[mode] = e
	}
	e.refcount++
	a.table.IncOpen(uint64(id))
}

// releaseHandle decrements the refcount for (id, mode) and reports
// whether this was the last handle of any mode on id, plus the handle
// used to issue RELEASE if so.
func (a *Adapter) releaseHandle(id vfsops.InodeID, mode AccessMode) (fh uint64, isLast bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	m := a.handles[id]
	if m == nil {
		return 0, false
	}
	e := m[mode]
	if e == nil {
		return 0, false
	}

	e.refcount--
	fh = e.fh
	if e.refcount <= 0 {
		delete(m, mode)
	}
	if len(m) == 0 {
		delete(a.handles, id)
		isLast = true
	}
	return fh, isLast
}

// OpenFile implements OPEN, retaining at most one handle per (inode,
// access-mode) with a refcount (spec §4.4 "File handles").
func (a *Adapter) OpenFile(ctx context.Context, op *vfsops.OpenFileOp) error {
	mode := accessModeForFlags(op.Flags)

	payload, err := dispatch.Dispatch(ctx, a.sess, wire.OpOpen, uint64(op.Inode), wire.OpenIn{Flags: op.Flags}.Marshal())
	if err != nil {
		return err
	}
	out, err := wire.UnmarshalOpenOut(payload)
	if err != nil {
		return err
	}

	a.acquireHandle(op.Inode, mode, out.Fh)
	op.Handle = vfsops.HandleID(out.Fh)
	return nil
}

// ReleaseFileHandle implements RELEASE. It reports whether this was the
// last close of a hidden inode, in which case the caller must
// resolve the inode's current (parent, name) from the inode table — now
// its generated hidden name — and follow with UnlinkHiddenPath (spec
// §4.6 "On the last close of that inode the adapter also issues UNLINK
// on its hidden path").
func (a *Adapter) ReleaseFileHandle(ctx context.Context, id vfsops.InodeID, mode AccessMode) (lastCloseOfHidden bool, err error) {
	fh, isLast := a.releaseHandle(id, mode)
	if fh == 0 && !isLast {
		return false, nil
	}

	if _, err = dispatch.Dispatch(ctx, a.sess, wire.OpRelease, uint64(id), wire.ReleaseIn{Fh: fh}.Marshal()); err != nil {
		return false, err
	}

	if !isLast {
		return false, nil
	}
	return a.table.DecOpen(uint64(id)), nil
}

// UnlinkHiddenPath issues the deferred UNLINK against a now-hidden
// node's generated name (spec §4.6), given the parent it currently lives
// under and that generated name.
func (a *Adapter) UnlinkHiddenPath(ctx context.Context, parent vfsops.InodeID, hiddenName string) error {
	in := wire.UnlinkIn{Name: hiddenName}
	_, err := dispatch.Dispatch(ctx, a.sess, wire.OpUnlink, uint64(parent), in.Marshal())
	return err
}

////////////////////////////////////////////////////////////////////////
// Hidden deletions (spec §4.6)
////////////////////////////////////////////////////////////////////////

// HiddenNamePrefix is the template spec §4.6 names: a fresh
// ".fuse_hiddenXXXXXXXX" name within the same directory.
const HiddenNamePrefix = ".fuse_hidden"

// GenerateHiddenName produces a fresh hidden name, matching the
// ".fuse_hiddenXXXXXXXX" shape from spec §4.6.
func GenerateHiddenName() string {
	return fmt.Sprintf("%s%08x", HiddenNamePrefix, rand.Uint32())
}

// Unlink implements UNLINK, intercepting into a hidden-rename when the
// inode is still open and hard_remove is not set (spec §4.6). parentID
// and childID are resolved by the caller via the inode table.
func (a *Adapter) Unlink(ctx context.Context, parent, child vfsops.InodeID, name string, stillOpen bool, hardRemove bool) (renamedTo string, err error) {
	if stillOpen && !hardRemove {
		hidden := GenerateHiddenName()
		renameIn := wire.RenameIn{Newdir: uint64(parent), Oldname: name, Newname: hidden}
		if _, err = dispatch.Dispatch(ctx, a.sess, wire.OpRename, uint64(parent), renameIn.Marshal()); err != nil {
			return "", err
		}
		a.table.MarkHidden(uint64(child))
		return hidden, nil
	}

	unlinkIn := wire.UnlinkIn{Name: name}
	_, err = dispatch.Dispatch(ctx, a.sess, wire.OpUnlink, uint64(parent), unlinkIn.Marshal())
	return "", err
}

// Rename implements RENAME by forwarding it to the server. It does not
// check whether the destination is still open: a clobbered destination is
// neither renamed to a hidden name nor marked hidden in the inode table.
func (a *Adapter) Rename(ctx context.Context, oldParent vfsops.InodeID, oldName string, newParent vfsops.InodeID, newName string) error {
	in := wire.RenameIn{Newdir: uint64(newParent), Oldname: oldName, Newname: newName}
	_, err := dispatch.Dispatch(ctx, a.sess, wire.OpRename, uint64(oldParent), in.Marshal())
	return err
}

////////////////////////////////////////////////////////////////////////
// EXCHANGE (spec §4.4 "EXCHANGE semantics", §8 property 7)
////////////////////////////////////////////////////////////////////////

// ExchangeData atomically swaps the contents of two existing paths and
// invalidates both inodes' attribute caches and pages so neither side's
// stale cache can shadow the swapped content.
func (a *Adapter) ExchangeData(ctx context.Context, op *vfsops.ExchangeDataOp, oldInode, newInode vfsops.InodeID) error {
	in := wire.ExchangeIn{
		Olddir:  uint64(op.OldParent),
		Oldname: op.OldName,
		Newdir:  uint64(op.NewParent),
		Newname: op.NewName,
		Options: op.Options,
	}
	if _, err := dispatch.Dispatch(ctx, a.sess, wire.OpExchange, uint64(op.OldParent), in.Marshal()); err != nil {
		return err
	}

	a.InvalidateAttrs(oldInode)
	a.InvalidateAttrs(newInode)
	a.flushAndInvalidatePages(oldInode)
	a.flushAndInvalidatePages(newInode)
	return nil
}

// flushAndInvalidatePages is the UBC hook of spec §4.4: "Page/UBC flush
// and invalidate around SIZE-changing SETATTR and around EXCHANGE is
// mandatory". In-process callers of this module own their own page
// cache (or have none); PageInvalidator lets a real VFS binding observe
// these events without vfsadapter depending on any particular host API.
type PageInvalidator interface {
	FlushAndInvalidate(inode vfsops.InodeID)
}

// The invalidator field, set by SetPageInvalidator, is consulted by
// flushAndInvalidatePages; it is nil by default, in which case
// noopInvalidator stands in, since an in-process FileSystem has no page
// cache to flush.
var _ PageInvalidator = (*noopInvalidator)(nil)

type noopInvalidator struct{}

func (noopInvalidator) FlushAndInvalidate(vfsops.InodeID) {}

func (a *Adapter) flushAndInvalidatePages(id vfsops.InodeID) {
	a.mu.Lock()
	inv := a.invalidator
	a.mu.Unlock()
	if inv == nil {
		inv = noopInvalidator{}
	}
	inv.FlushAndInvalidate(id)
}

// SetPageInvalidator installs the host-specific page cache hook used by
// flushAndInvalidatePages.
func (a *Adapter) SetPageInvalidator(inv PageInvalidator) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.invalidator = inv
}

////////////////////////////////////////////////////////////////////////
// Readdir
////////////////////////////////////////////////////////////////////////

// ReadDir implements READDIR, decoding the server's packed stream and
// filtering platform-specific names when requested (spec §4.4 "Readdir
// decoding").
func (a *Adapter) ReadDir(ctx context.Context, op *vfsops.ReadDirOp, maxNameLen int, skipAppleDouble bool) error {
	in := wire.ReadIn{Fh: uint64(op.Handle), Offset: int64(op.Offset), Size: uint32(op.Size)}
	payload, err := dispatch.Dispatch(ctx, a.sess, wire.OpReaddir, uint64(op.Inode), in.Marshal())
	if err != nil {
		return err
	}

	entries, err := fuseutil.ReadDirents(payload, maxNameLen)
	if err != nil {
		return err
	}

	out := entries[:0]
	for _, e := range entries {
		if fuseutil.ShouldSkipName(e.Name, skipAppleDouble) {
			continue
		}
		out = append(out, e)
	}
	op.Entries = out
	return nil
}

////////////////////////////////////////////////////////////////////////
// Remaining passthrough operations
////////////////////////////////////////////////////////////////////////
//
// Everything below is a thin translation from a vfsops Op to a wire
// request/reply pair dispatched through the session, following the same
// shape as GetInodeAttributes/OpenFile/ReadDir above. None of these carry
// their own cache or handle bookkeeping (spec §4.4 reserves that for
// attributes, file handles, and readdir only).

// LookUpInode implements LOOKUP.
func (a *Adapter) LookUpInode(ctx context.Context, op *vfsops.LookUpInodeOp) error {
	in := wire.LookupIn{Name: op.Name}
	payload, err := dispatch.Dispatch(ctx, a.sess, wire.OpLookup, uint64(op.Parent), in.Marshal())
	if err != nil {
		return err
	}
	out, err := wire.UnmarshalEntryOut(payload)
	if err != nil {
		return err
	}
	op.Entry = entryFromWire(out, a.table.Now(), a.attrTTL)
	return nil
}

// ForgetInode implements FORGET. It carries no reply.
func (a *Adapter) ForgetInode(ctx context.Context, op *vfsops.ForgetInodeOp) error {
	in := wire.ForgetIn{Nlookup: op.N}
	_, err := dispatch.Dispatch(ctx, a.sess, wire.OpForget, uint64(op.Inode), in.Marshal())
	return err
}

// entryFromWire converts a wire EntryOut into the ChildInodeEntry shape
// every inode-creating op shares, stamping cache expirations the way
// GetInodeAttributes does for a plain GETATTR reply.
func entryFromWire(out wire.EntryOut, now time.Time, attrTTL time.Duration) vfsops.ChildInodeEntry {
	return vfsops.ChildInodeEntry{
		Child:                vfsops.InodeID(out.Nodeid),
		Generation:           out.Generation,
		Attributes:           attrFromWire(out.Attr),
		AttributesExpiration: now.Add(attrTTL),
		EntryExpiration:      now.Add(attrTTL),
	}
}

// MkDir implements MKDIR.
func (a *Adapter) MkDir(ctx context.Context, op *vfsops.MkDirOp) error {
	in := wire.MkdirIn{Mode: modeToWire(op.Mode), Name: op.Name}
	payload, err := dispatch.Dispatch(ctx, a.sess, wire.OpMkdir, uint64(op.Parent), in.Marshal())
	if err != nil {
		return err
	}
	out, err := wire.UnmarshalEntryOut(payload)
	if err != nil {
		return err
	}
	op.Entry = entryFromWire(out, a.table.Now(), a.attrTTL)
	return nil
}

// MkNode implements MKNOD.
func (a *Adapter) MkNode(ctx context.Context, op *vfsops.MkNodeOp) error {
	in := wire.MknodIn{Mode: modeToWire(op.Mode), Rdev: op.Rdev, Name: op.Name}
	payload, err := dispatch.Dispatch(ctx, a.sess, wire.OpMknod, uint64(op.Parent), in.Marshal())
	if err != nil {
		return err
	}
	out, err := wire.UnmarshalEntryOut(payload)
	if err != nil {
		return err
	}
	op.Entry = entryFromWire(out, a.table.Now(), a.attrTTL)
	return nil
}

// CreateFile implements CREATE, opening the new file in the same round
// trip (spec §4.4 "File handles").
func (a *Adapter) CreateFile(ctx context.Context, op *vfsops.CreateFileOp) error {
	in := wire.CreateIn{Flags: op.Flags, Mode: modeToWire(op.Mode), Name: op.Name}
	payload, err := dispatch.Dispatch(ctx, a.sess, wire.OpCreate, uint64(op.Parent), in.Marshal())
	if err != nil {
		return err
	}
	out, err := wire.UnmarshalCreateOut(payload)
	if err != nil {
		return err
	}
	op.Entry = entryFromWire(out.Entry, a.table.Now(), a.attrTTL)
	op.Handle = vfsops.HandleID(out.Open.Fh)
	a.acquireHandle(op.Entry.Child, accessModeForFlags(op.Flags), out.Open.Fh)
	return nil
}

// CreateSymlink implements SYMLINK.
func (a *Adapter) CreateSymlink(ctx context.Context, op *vfsops.SymlinkOp) error {
	in := wire.SymlinkIn{Name: op.Name, Target: op.Target}
	payload, err := dispatch.Dispatch(ctx, a.sess, wire.OpSymlink, uint64(op.Parent), in.Marshal())
	if err != nil {
		return err
	}
	out, err := wire.UnmarshalEntryOut(payload)
	if err != nil {
		return err
	}
	op.Entry = entryFromWire(out, a.table.Now(), a.attrTTL)
	return nil
}

// ReadSymlink implements READLINK.
func (a *Adapter) ReadSymlink(ctx context.Context, op *vfsops.ReadSymlinkOp) error {
	payload, err := dispatch.Dispatch(ctx, a.sess, wire.OpReadlink, uint64(op.Inode), nil)
	if err != nil {
		return err
	}
	op.Target = wire.UnmarshalReadlinkOut(payload).Target
	return nil
}

// RmDir implements RMDIR.
func (a *Adapter) RmDir(ctx context.Context, op *vfsops.RmDirOp) error {
	in := wire.RmdirIn{Name: op.Name}
	_, err := dispatch.Dispatch(ctx, a.sess, wire.OpRmdir, uint64(op.Parent), in.Marshal())
	return err
}

// CreateLink implements LINK.
func (a *Adapter) CreateLink(ctx context.Context, op *vfsops.LinkOp) error {
	in := wire.LinkIn{Oldnodeid: uint64(op.Target), Newname: op.Name}
	payload, err := dispatch.Dispatch(ctx, a.sess, wire.OpLink, uint64(op.Parent), in.Marshal())
	if err != nil {
		return err
	}
	out, err := wire.UnmarshalEntryOut(payload)
	if err != nil {
		return err
	}
	op.Entry = entryFromWire(out, a.table.Now(), a.attrTTL)
	return nil
}

// OpenDir implements OPENDIR.
func (a *Adapter) OpenDir(ctx context.Context, op *vfsops.OpenDirOp) error {
	in := wire.OpenIn{}
	payload, err := dispatch.Dispatch(ctx, a.sess, wire.OpOpendir, uint64(op.Inode), in.Marshal())
	if err != nil {
		return err
	}
	out, err := wire.UnmarshalOpenOut(payload)
	if err != nil {
		return err
	}
	op.Handle = vfsops.HandleID(out.Fh)
	return nil
}

// ReleaseDirHandle implements RELEASEDIR.
func (a *Adapter) ReleaseDirHandle(ctx context.Context, op *vfsops.ReleaseDirHandleOp) error {
	in := wire.ReleaseIn{Fh: uint64(op.Handle)}
	_, err := dispatch.Dispatch(ctx, a.sess, wire.OpReleasedir, uint64(0), in.Marshal())
	return err
}

// ReadFile implements READ. When the inode's attributes are cached and
// fresh, the request is first clipped to the cached file size: a read
// starting at EOF is a short read of zero bytes with no wire traffic,
// and a read starting past EOF is rejected outright (spec §4.4 "Read
// strategy": "EOF → short read, attempt past EOF → invalid"). Whatever
// comes back off the wire further clips the destination buffer to the
// bytes actually returned.
func (a *Adapter) ReadFile(ctx context.Context, op *vfsops.ReadFileOp) error {
	size := uint32(len(op.Dst))

	if attrs, ok := a.cachedAttrs(op.Inode, a.table.Now()); ok {
		offset := uint64(op.Offset)
		switch {
		case offset > attrs.Size:
			return vfsops.EINVAL
		case offset == attrs.Size:
			op.BytesRead = 0
			return nil
		default:
			if remaining := attrs.Size - offset; uint64(size) > remaining {
				size = uint32(remaining)
			}
		}
	}

	in := wire.ReadIn{Fh: uint64(op.Handle), Offset: op.Offset, Size: size}
	payload, err := dispatch.Dispatch(ctx, a.sess, wire.OpRead, uint64(op.Inode), in.Marshal())
	if err != nil {
		return err
	}
	op.BytesRead = copy(op.Dst, payload)
	return nil
}

// defaultMaxWrite is the chunk size WriteFile falls back to before a
// session has completed INIT negotiation (Capabilities().MaxWrite still
// zero), so chunking never degenerates into a zero-sized loop.
const defaultMaxWrite = 128 * 1024

// writeChunkSize returns the largest slice of op.Data a single WRITE
// dispatch may carry: the negotiated MaxWrite, rounded down to a
// multiple of the session's configured block size where that leaves a
// nonzero chunk (spec §4.4 "Read strategy": "it chunks by max_write and
// by session block size").
func (a *Adapter) writeChunkSize() int {
	max := int(a.sess.Capabilities().MaxWrite)
	if max <= 0 {
		max = defaultMaxWrite
	}
	if bs := int(a.sess.Config().BlockSize); bs > 0 && bs < max {
		if aligned := max - max%bs; aligned > 0 {
			max = aligned
		}
	}
	return max
}

// WriteFile implements WRITE, splitting op.Data into writeChunkSize()
// slices and issuing one WRITE dispatch per chunk (spec §4.4 "Read
// strategy"). A short write reported by the server stops the loop early
// rather than advancing past data the server never actually took.
func (a *Adapter) WriteFile(ctx context.Context, op *vfsops.WriteFileOp) error {
	chunk := a.writeChunkSize()
	data := op.Data
	offset := op.Offset

	for len(data) > 0 {
		n := len(data)
		if n > chunk {
			n = chunk
		}

		in := wire.WriteIn{Fh: uint64(op.Handle), Offset: offset, Data: data[:n]}
		payload, err := dispatch.Dispatch(ctx, a.sess, wire.OpWrite, uint64(op.Inode), in.Marshal())
		if err != nil {
			return err
		}
		out, err := wire.UnmarshalWriteOut(payload)
		if err != nil {
			return err
		}

		offset += int64(out.Size)
		data = data[n:]
		if int(out.Size) < n {
			break
		}
	}
	return nil
}

// SyncFile implements FSYNC.
func (a *Adapter) SyncFile(ctx context.Context, op *vfsops.SyncFileOp) error {
	in := wire.FsyncIn{Fh: uint64(op.Handle)}
	_, err := dispatch.Dispatch(ctx, a.sess, wire.OpFsync, uint64(op.Inode), in.Marshal())
	return err
}

// FlushFile implements FLUSH.
func (a *Adapter) FlushFile(ctx context.Context, op *vfsops.FlushFileOp) error {
	in := wire.FlushIn{Fh: uint64(op.Handle)}
	_, err := dispatch.Dispatch(ctx, a.sess, wire.OpFlush, uint64(op.Inode), in.Marshal())
	return err
}

// SetXattr implements SETXATTR.
func (a *Adapter) SetXattr(ctx context.Context, op *vfsops.SetXattrOp) error {
	in := wire.SetxattrIn{Name: op.Name, Value: op.Value, Flags: op.Flags}
	_, err := dispatch.Dispatch(ctx, a.sess, wire.OpSetxattr, uint64(op.Inode), in.Marshal())
	return err
}

// GetXattr implements GETXATTR, probing with a zero-length Dst the way
// fskit's handler does to learn the required size without transferring
// the value (spec §4.1 GETXATTR).
func (a *Adapter) GetXattr(ctx context.Context, op *vfsops.GetXattrOp) error {
	in := wire.GetxattrIn{Name: op.Name, Size: uint32(len(op.Dst))}
	payload, err := dispatch.Dispatch(ctx, a.sess, wire.OpGetxattr, uint64(op.Inode), in.Marshal())
	if err != nil {
		return err
	}
	if len(op.Dst) == 0 {
		out, err := wire.UnmarshalGetxattrOut(payload)
		if err != nil {
			return err
		}
		op.BytesRead = int(out.Size)
		return nil
	}
	op.BytesRead = copy(op.Dst, payload)
	return nil
}

// ListXattr implements LISTXATTR, sharing GETXATTR's wire shape.
func (a *Adapter) ListXattr(ctx context.Context, op *vfsops.ListXattrOp) error {
	in := wire.GetxattrIn{Size: uint32(len(op.Dst))}
	payload, err := dispatch.Dispatch(ctx, a.sess, wire.OpListxattr, uint64(op.Inode), in.Marshal())
	if err != nil {
		return err
	}
	if len(op.Dst) == 0 {
		out, err := wire.UnmarshalGetxattrOut(payload)
		if err != nil {
			return err
		}
		op.BytesRead = int(out.Size)
		return nil
	}
	op.BytesRead = copy(op.Dst, payload)
	return nil
}

// RemoveXattr implements REMOVEXATTR, whose request payload is a bare
// NUL-terminated name with no envelope (spec §4.1; fskit's cstringOnly
// mirrors this on the decode side).
func (a *Adapter) RemoveXattr(ctx context.Context, op *vfsops.RemoveXattrOp) error {
	payload := append([]byte(op.Name), 0)
	_, err := dispatch.Dispatch(ctx, a.sess, wire.OpRemovexattr, uint64(op.Inode), payload)
	return err
}

// StatFS implements STATFS.
func (a *Adapter) StatFS(ctx context.Context, op *vfsops.StatFSOp) error {
	payload, err := dispatch.Dispatch(ctx, a.sess, wire.OpStatfs, inode.RootID, nil)
	if err != nil {
		return err
	}
	out, err := wire.UnmarshalStatfsOut(payload)
	if err != nil {
		return err
	}
	op.Blocks, op.BlocksFree, op.BlocksAvailable = out.Blocks, out.Bfree, out.Bavail
	op.Files, op.FilesFree = out.Files, out.Ffree
	op.BlockSize, op.IoSize, op.NameLen = out.Bsize, out.Frsize, out.Namelen
	return nil
}

// Access implements ACCESS. Callers that mounted with default_permissions
// skip this entirely rather than calling it (spec §6).
func (a *Adapter) Access(ctx context.Context, op *vfsops.AccessOp) error {
	in := wire.AccessIn{Mask: op.Mask}
	_, err := dispatch.Dispatch(ctx, a.sess, wire.OpAccess, uint64(op.Inode), in.Marshal())
	return err
}

func lockToWireAdapter(l vfsops.FileLock) wire.FileLock {
	return wire.FileLock{Start: l.Start, End: l.End, Typ: uint32(l.Type), Pid: l.Pid}
}

func lockFromWireAdapter(l wire.FileLock) vfsops.FileLock {
	return vfsops.FileLock{Start: l.Start, End: l.End, Type: vfsops.FileLockType(l.Typ), Pid: l.Pid}
}

// GetLock implements GETLK.
func (a *Adapter) GetLock(ctx context.Context, op *vfsops.GetLockOp) error {
	in := wire.LkIn{Fh: uint64(op.Handle), Lock: lockToWireAdapter(op.Lock)}
	payload, err := dispatch.Dispatch(ctx, a.sess, wire.OpGetlk, uint64(op.Inode), in.Marshal())
	if err != nil {
		return err
	}
	out, err := wire.UnmarshalLkOut(payload)
	if err != nil {
		return err
	}
	op.Lock = lockFromWireAdapter(out.Lock)
	return nil
}

// SetLock implements SETLK/SETLKW, distinguished only by which opcode is
// dispatched (spec §4.1: "SETLKW is SETLK's blocking counterpart").
func (a *Adapter) SetLock(ctx context.Context, op *vfsops.SetLockOp) error {
	in := wire.LkIn{Fh: uint64(op.Handle), Lock: lockToWireAdapter(op.Lock)}
	opcode := wire.OpSetlk
	if op.Blocking {
		opcode = wire.OpSetlkw
	}
	_, err := dispatch.Dispatch(ctx, a.sess, opcode, uint64(op.Inode), in.Marshal())
	return err
}

// BlockMap implements BMAP.
func (a *Adapter) BlockMap(ctx context.Context, op *vfsops.BlockMapOp) error {
	in := wire.BmapIn{Block: op.Block, Blocksize: op.BlockSize}
	payload, err := dispatch.Dispatch(ctx, a.sess, wire.OpBmap, uint64(op.Inode), in.Marshal())
	if err != nil {
		return err
	}
	out, err := wire.UnmarshalBmapOut(payload)
	if err != nil {
		return err
	}
	op.PhysicalBlock = out.Block
	return nil
}

// GetXTimes implements GETXTIMES, valid only once the session negotiated
// the XTIMES capability (spec §6; §7 "soft-degrade: GETXTIMES returns
// zero times" otherwise): when the server reports the opcode as not
// implemented, both times are set to the zero time and no error is
// returned.
func (a *Adapter) GetXTimes(ctx context.Context, op *vfsops.GetXTimesOp) error {
	payload, err := dispatch.Dispatch(ctx, a.sess, wire.OpGetxtimes, uint64(op.Inode), nil)
	if err == dispatch.ErrUnsupported || err == vfsops.ENOSYS {
		op.Bkuptime, op.Crtime = time.Time{}, time.Time{}
		return nil
	}
	if err != nil {
		return err
	}
	out, err := wire.UnmarshalGetxtimesOut(payload)
	if err != nil {
		return err
	}
	op.Bkuptime = time.Unix(out.BkuptimeSec, int64(out.BkuptimeNsec))
	op.Crtime = time.Unix(out.CrtimeSec, int64(out.CrtimeNsec))
	return nil
}

// SetVolName implements SETVOLNAME, valid only once the session
// negotiated VOL_RENAME (spec §6).
func (a *Adapter) SetVolName(ctx context.Context, op *vfsops.SetVolNameOp) error {
	in := wire.SetvolnameIn{Name: op.Name}
	_, err := dispatch.Dispatch(ctx, a.sess, wire.OpSetvolname, inode.RootID, in.Marshal())
	return err
}

// VnodeNotifier methods, implementing fusedev.VnodeNotifier so the
// device endpoint's ALTER_VNODE_FOR_INODE ioctl can drive this adapter's
// caches directly (spec §6 "Alter-vnode-for-inode").

func (a *Adapter) FlushUBC(id uint64)       { a.flushAndInvalidatePages(vfsops.InodeID(id)) }
func (a *Adapter) InvalidateUBC(id uint64)  { a.flushAndInvalidatePages(vfsops.InodeID(id)) }
func (a *Adapter) PurgeAttrCache(id uint64) { a.InvalidateAttrs(vfsops.InodeID(id)) }
func (a *Adapter) PurgeNameCache(uint64)    {}
func (a *Adapter) SetSize(id uint64, size uint64) {
	a.mu.Lock()
	e, ok := a.attrCache[vfsops.InodeID(id)]
	a.mu.Unlock()
	if ok {
		e.attrs.Size = size
		a.storeAttrs(vfsops.InodeID(id), e.attrs, e.expiration)
	}
}
func (a *Adapter) EmitNote(uint64, string) {}
