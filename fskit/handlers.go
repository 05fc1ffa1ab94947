package fskit

import (
	"context"
	"time"

	"github.com/go-fuse-transport/fused/vfsops"
	"github.com/go-fuse-transport/fused/wire"
)

func entryToWire(e vfsops.ChildInodeEntry) wire.EntryOut {
	return wire.EntryOut{
		Nodeid:     uint64(e.Child),
		Generation: e.Generation,
		Attr:       attrToWire(e.Attributes),
	}
}

func attrToWire(a vfsops.InodeAttributes) wire.Attr {
	return wire.Attr{
		Size:         a.Size,
		Mode:         modeToWireAttr(a.Mode),
		Nlink:        a.Nlink,
		Uid:          a.Uid,
		Gid:          a.Gid,
		Rdev:         a.Rdev,
		AtimeSec:     a.Atime.Unix(),
		AtimeNsec:    uint32(a.Atime.Nanosecond()),
		MtimeSec:     a.Mtime.Unix(),
		MtimeNsec:    uint32(a.Mtime.Nanosecond()),
		CtimeSec:     a.Ctime.Unix(),
		CtimeNsec:    uint32(a.Ctime.Nanosecond()),
		CrtimeSec:    a.Crtime.Unix(),
		CrtimeNsec:   uint32(a.Crtime.Nanosecond()),
		BkuptimeSec:  a.Bkuptime.Unix(),
		BkuptimeNsec: uint32(a.Bkuptime.Nanosecond()),
	}
}

func (s *Server) handleLookup(ctx context.Context, hdr wire.InHeader, payload []byte) ([]byte, error) {
	in, err := wire.UnmarshalLookupIn(payload)
	if err != nil {
		return nil, err
	}
	op := &vfsops.LookUpInodeOp{Parent: vfsops.InodeID(hdr.Nodeid), Name: in.Name}
	if err := s.FS.LookUpInode(ctx, op); err != nil {
		return nil, err
	}
	return entryToWire(op.Entry).Marshal(), nil
}

func (s *Server) handleGetattr(ctx context.Context, hdr wire.InHeader) ([]byte, error) {
	op := &vfsops.GetInodeAttributesOp{Inode: vfsops.InodeID(hdr.Nodeid)}
	if err := s.FS.GetInodeAttributes(ctx, op); err != nil {
		return nil, err
	}
	out := wire.AttrOut{Attr: attrToWire(op.Attributes)}
	return out.Marshal(), nil
}

func (s *Server) handleSetattr(ctx context.Context, hdr wire.InHeader, payload []byte) ([]byte, error) {
	in, err := wire.UnmarshalSetattrIn(payload)
	if err != nil {
		return nil, err
	}

	op := &vfsops.SetInodeAttributesOp{Inode: vfsops.InodeID(hdr.Nodeid)}
	if in.Valid&wire.SetattrSize != 0 {
		op.Valid |= vfsops.SetattrSize
		op.Size = in.Size
	}
	if in.Valid&wire.SetattrMode != 0 {
		op.Valid |= vfsops.SetattrMode
		op.Mode = modeFromWireAttr(in.Mode)
	}
	if in.Valid&wire.SetattrUid != 0 {
		op.Valid |= vfsops.SetattrUid
		op.Uid = in.Uid
	}
	if in.Valid&wire.SetattrGid != 0 {
		op.Valid |= vfsops.SetattrGid
		op.Gid = in.Gid
	}
	if in.Valid&wire.SetattrAtime != 0 {
		op.Valid |= vfsops.SetattrAtime
		op.Atime = time.Unix(in.AtimeSec, int64(in.AtimeNsec))
	}
	if in.Valid&wire.SetattrMtime != 0 {
		op.Valid |= vfsops.SetattrMtime
		op.Mtime = time.Unix(in.MtimeSec, int64(in.MtimeNsec))
	}

	if err := s.FS.SetInodeAttributes(ctx, op); err != nil {
		return nil, err
	}
	out := wire.AttrOut{Attr: attrToWire(op.Attributes)}
	return out.Marshal(), nil
}

// handleSetattrX serves the SETATTR_X platform extension (spec §4.1),
// carrying SetattrIn's fields plus backup-time and creation-time, valid
// only when the session negotiated the XTIMES INIT flag (spec §6).
func (s *Server) handleSetattrX(ctx context.Context, hdr wire.InHeader, payload []byte) ([]byte, error) {
	in, err := wire.UnmarshalSetattrXIn(payload)
	if err != nil {
		return nil, err
	}

	op := &vfsops.SetInodeAttributesOp{Inode: vfsops.InodeID(hdr.Nodeid)}
	if in.Valid&wire.SetattrSize != 0 {
		op.Valid |= vfsops.SetattrSize
		op.Size = in.Size
	}
	if in.Valid&wire.SetattrMode != 0 {
		op.Valid |= vfsops.SetattrMode
		op.Mode = modeFromWireAttr(in.Mode)
	}
	if in.Valid&wire.SetattrUid != 0 {
		op.Valid |= vfsops.SetattrUid
		op.Uid = in.Uid
	}
	if in.Valid&wire.SetattrGid != 0 {
		op.Valid |= vfsops.SetattrGid
		op.Gid = in.Gid
	}
	if in.Valid&wire.SetattrAtime != 0 {
		op.Valid |= vfsops.SetattrAtime
		op.Atime = time.Unix(in.AtimeSec, int64(in.AtimeNsec))
	}
	if in.Valid&wire.SetattrMtime != 0 {
		op.Valid |= vfsops.SetattrMtime
		op.Mtime = time.Unix(in.MtimeSec, int64(in.MtimeNsec))
	}
	op.Valid |= vfsops.SetattrBkuptime | vfsops.SetattrCrtime
	op.Bkuptime = time.Unix(in.BkuptimeSec, int64(in.BkuptimeNsec))
	op.Crtime = time.Unix(in.CrtimeSec, int64(in.CrtimeNsec))

	if err := s.FS.SetInodeAttributes(ctx, op); err != nil {
		return nil, err
	}
	out := wire.AttrOut{Attr: attrToWire(op.Attributes)}
	return out.Marshal(), nil
}

func (s *Server) handleForget(ctx context.Context, hdr wire.InHeader, payload []byte) ([]byte, error) {
	in, err := wire.UnmarshalForgetIn(payload)
	if err != nil {
		return nil, err
	}
	op := &vfsops.ForgetInodeOp{Inode: vfsops.InodeID(hdr.Nodeid), N: in.Nlookup}
	return nil, s.FS.ForgetInode(ctx, op)
}

func (s *Server) handleMkdir(ctx context.Context, hdr wire.InHeader, payload []byte) ([]byte, error) {
	in, err := wire.UnmarshalMkdirIn(payload)
	if err != nil {
		return nil, err
	}
	op := &vfsops.MkDirOp{Parent: vfsops.InodeID(hdr.Nodeid), Name: in.Name, Mode: modeFromWireAttr(in.Mode)}
	if err := s.FS.MkDir(ctx, op); err != nil {
		return nil, err
	}
	return entryToWire(op.Entry).Marshal(), nil
}

func (s *Server) handleMknod(ctx context.Context, hdr wire.InHeader, payload []byte) ([]byte, error) {
	in, err := wire.UnmarshalMknodIn(payload)
	if err != nil {
		return nil, err
	}
	op := &vfsops.MkNodeOp{Parent: vfsops.InodeID(hdr.Nodeid), Name: in.Name, Mode: modeFromWireAttr(in.Mode), Rdev: in.Rdev}
	if err := s.FS.MkNode(ctx, op); err != nil {
		return nil, err
	}
	return entryToWire(op.Entry).Marshal(), nil
}

func (s *Server) handleCreate(ctx context.Context, hdr wire.InHeader, payload []byte) ([]byte, error) {
	in, err := wire.UnmarshalCreateIn(payload)
	if err != nil {
		return nil, err
	}
	op := &vfsops.CreateFileOp{Parent: vfsops.InodeID(hdr.Nodeid), Name: in.Name, Mode: modeFromWireAttr(in.Mode), Flags: in.Flags}
	if err := s.FS.CreateFile(ctx, op); err != nil {
		return nil, err
	}
	out := wire.CreateOut{Entry: entryToWire(op.Entry), Open: wire.OpenOut{Fh: uint64(op.Handle)}}
	return out.Marshal(), nil
}

func (s *Server) handleSymlink(ctx context.Context, hdr wire.InHeader, payload []byte) ([]byte, error) {
	in, err := wire.UnmarshalSymlinkIn(payload)
	if err != nil {
		return nil, err
	}
	op := &vfsops.SymlinkOp{Parent: vfsops.InodeID(hdr.Nodeid), Name: in.Name, Target: in.Target}
	if err := s.FS.CreateSymlink(ctx, op); err != nil {
		return nil, err
	}
	return entryToWire(op.Entry).Marshal(), nil
}

func (s *Server) handleReadlink(ctx context.Context, hdr wire.InHeader) ([]byte, error) {
	op := &vfsops.ReadSymlinkOp{Inode: vfsops.InodeID(hdr.Nodeid)}
	if err := s.FS.ReadSymlink(ctx, op); err != nil {
		return nil, err
	}
	return wire.ReadlinkOut{Target: op.Target}.Marshal(), nil
}

func (s *Server) handleRmdir(ctx context.Context, hdr wire.InHeader, payload []byte) ([]byte, error) {
	in, err := wire.UnmarshalRmdirIn(payload)
	if err != nil {
		return nil, err
	}
	op := &vfsops.RmDirOp{Parent: vfsops.InodeID(hdr.Nodeid), Name: in.Name}
	return nil, s.FS.RmDir(ctx, op)
}

func (s *Server) handleUnlink(ctx context.Context, hdr wire.InHeader, payload []byte) ([]byte, error) {
	in, err := wire.UnmarshalUnlinkIn(payload)
	if err != nil {
		return nil, err
	}
	op := &vfsops.UnlinkOp{Parent: vfsops.InodeID(hdr.Nodeid), Name: in.Name}
	return nil, s.FS.Unlink(ctx, op)
}

func (s *Server) handleRename(ctx context.Context, hdr wire.InHeader, payload []byte) ([]byte, error) {
	in, err := wire.UnmarshalRenameIn(payload)
	if err != nil {
		return nil, err
	}
	op := &vfsops.RenameOp{
		OldParent: vfsops.InodeID(hdr.Nodeid),
		OldName:   in.Oldname,
		NewParent: vfsops.InodeID(in.Newdir),
		NewName:   in.Newname,
	}
	return nil, s.FS.Rename(ctx, op)
}

func (s *Server) handleLink(ctx context.Context, hdr wire.InHeader, payload []byte) ([]byte, error) {
	in, err := wire.UnmarshalLinkIn(payload)
	if err != nil {
		return nil, err
	}
	op := &vfsops.LinkOp{Parent: vfsops.InodeID(hdr.Nodeid), Name: in.Newname, Target: vfsops.InodeID(in.Oldnodeid)}
	if err := s.FS.CreateLink(ctx, op); err != nil {
		return nil, err
	}
	return entryToWire(op.Entry).Marshal(), nil
}

func (s *Server) handleExchange(ctx context.Context, hdr wire.InHeader, payload []byte) ([]byte, error) {
	in, err := wire.UnmarshalExchangeIn(payload)
	if err != nil {
		return nil, err
	}
	op := &vfsops.ExchangeDataOp{
		OldParent: vfsops.InodeID(in.Olddir),
		OldName:   in.Oldname,
		NewParent: vfsops.InodeID(in.Newdir),
		NewName:   in.Newname,
		Options:   in.Options,
	}
	return nil, s.FS.ExchangeData(ctx, op)
}

func (s *Server) handleOpendir(ctx context.Context, hdr wire.InHeader, payload []byte) ([]byte, error) {
	if _, err := wire.UnmarshalOpenIn(payload); err != nil {
		return nil, err
	}
	op := &vfsops.OpenDirOp{Inode: vfsops.InodeID(hdr.Nodeid)}
	if err := s.FS.OpenDir(ctx, op); err != nil {
		return nil, err
	}
	return wire.OpenOut{Fh: uint64(op.Handle)}.Marshal(), nil
}

func (s *Server) handleReaddir(ctx context.Context, hdr wire.InHeader, payload []byte) ([]byte, error) {
	in, err := wire.UnmarshalReadIn(payload)
	if err != nil {
		return nil, err
	}
	op := &vfsops.ReadDirOp{
		Inode:  vfsops.InodeID(hdr.Nodeid),
		Handle: vfsops.HandleID(in.Fh),
		Offset: vfsops.DirOffset(in.Offset),
		Size:   int(in.Size),
	}
	if err := s.FS.ReadDir(ctx, op); err != nil {
		return nil, err
	}

	var buf []byte
	for _, d := range op.Entries {
		buf = writeDirentInto(buf, d)
	}
	return buf, nil
}

func (s *Server) handleReleasedir(ctx context.Context, payload []byte) ([]byte, error) {
	in, err := wire.UnmarshalReleaseIn(payload)
	if err != nil {
		return nil, err
	}
	op := &vfsops.ReleaseDirHandleOp{Handle: vfsops.HandleID(in.Fh)}
	return nil, s.FS.ReleaseDirHandle(ctx, op)
}

func (s *Server) handleOpen(ctx context.Context, hdr wire.InHeader, payload []byte) ([]byte, error) {
	in, err := wire.UnmarshalOpenIn(payload)
	if err != nil {
		return nil, err
	}
	op := &vfsops.OpenFileOp{Inode: vfsops.InodeID(hdr.Nodeid), Flags: in.Flags}
	if err := s.FS.OpenFile(ctx, op); err != nil {
		return nil, err
	}
	return wire.OpenOut{Fh: uint64(op.Handle)}.Marshal(), nil
}

func (s *Server) handleRead(ctx context.Context, hdr wire.InHeader, payload []byte) ([]byte, error) {
	in, err := wire.UnmarshalReadIn(payload)
	if err != nil {
		return nil, err
	}
	dst := s.bufs.GetN(int(in.Size))
	op := &vfsops.ReadFileOp{
		Inode:  vfsops.InodeID(hdr.Nodeid),
		Handle: vfsops.HandleID(in.Fh),
		Offset: in.Offset,
		Dst:    dst,
	}
	if err := s.FS.ReadFile(ctx, op); err != nil {
		return nil, err
	}
	return dst[:op.BytesRead], nil
}

func (s *Server) handleWrite(ctx context.Context, hdr wire.InHeader, payload []byte) ([]byte, error) {
	in, err := wire.UnmarshalWriteIn(payload)
	if err != nil {
		return nil, err
	}
	op := &vfsops.WriteFileOp{
		Inode:  vfsops.InodeID(hdr.Nodeid),
		Handle: vfsops.HandleID(in.Fh),
		Offset: in.Offset,
		Data:   in.Data,
	}
	if err := s.FS.WriteFile(ctx, op); err != nil {
		return nil, err
	}
	return wire.WriteOut{Size: uint32(len(in.Data))}.Marshal(), nil
}

func (s *Server) handleFsync(ctx context.Context, hdr wire.InHeader, payload []byte) ([]byte, error) {
	in, err := wire.UnmarshalFsyncIn(payload)
	if err != nil {
		return nil, err
	}
	op := &vfsops.SyncFileOp{Inode: vfsops.InodeID(hdr.Nodeid), Handle: vfsops.HandleID(in.Fh)}
	return nil, s.FS.SyncFile(ctx, op)
}

func (s *Server) handleFlush(ctx context.Context, hdr wire.InHeader, payload []byte) ([]byte, error) {
	in, err := wire.UnmarshalFlushIn(payload)
	if err != nil {
		return nil, err
	}
	op := &vfsops.FlushFileOp{Inode: vfsops.InodeID(hdr.Nodeid), Handle: vfsops.HandleID(in.Fh)}
	return nil, s.FS.FlushFile(ctx, op)
}

func (s *Server) handleRelease(ctx context.Context, payload []byte) ([]byte, error) {
	in, err := wire.UnmarshalReleaseIn(payload)
	if err != nil {
		return nil, err
	}
	op := &vfsops.ReleaseFileHandleOp{Handle: vfsops.HandleID(in.Fh)}
	return nil, s.FS.ReleaseFileHandle(ctx, op)
}

func (s *Server) handleSetxattr(ctx context.Context, hdr wire.InHeader, payload []byte) ([]byte, error) {
	in, err := wire.UnmarshalSetxattrIn(payload)
	if err != nil {
		return nil, err
	}
	op := &vfsops.SetXattrOp{Inode: vfsops.InodeID(hdr.Nodeid), Name: in.Name, Value: in.Value, Flags: in.Flags}
	return nil, s.FS.SetXattr(ctx, op)
}

func (s *Server) handleGetxattr(ctx context.Context, hdr wire.InHeader, payload []byte) ([]byte, error) {
	in, err := wire.UnmarshalGetxattrIn(payload)
	if err != nil {
		return nil, err
	}
	dst := s.bufs.GetN(int(in.Size))
	op := &vfsops.GetXattrOp{Inode: vfsops.InodeID(hdr.Nodeid), Name: in.Name, Dst: dst}
	if err := s.FS.GetXattr(ctx, op); err != nil {
		return nil, err
	}
	if in.Size == 0 {
		return wire.GetxattrOut{Size: uint32(op.BytesRead)}.Marshal(), nil
	}
	return dst[:op.BytesRead], nil
}

func (s *Server) handleListxattr(ctx context.Context, hdr wire.InHeader, payload []byte) ([]byte, error) {
	in, err := wire.UnmarshalGetxattrIn(payload)
	if err != nil {
		return nil, err
	}
	dst := s.bufs.GetN(int(in.Size))
	op := &vfsops.ListXattrOp{Inode: vfsops.InodeID(hdr.Nodeid), Dst: dst}
	if err := s.FS.ListXattr(ctx, op); err != nil {
		return nil, err
	}
	if in.Size == 0 {
		return wire.GetxattrOut{Size: uint32(op.BytesRead)}.Marshal(), nil
	}
	return dst[:op.BytesRead], nil
}

func (s *Server) handleRemovexattr(ctx context.Context, hdr wire.InHeader, payload []byte) ([]byte, error) {
	name, err := cstringOnly(payload)
	if err != nil {
		return nil, err
	}
	op := &vfsops.RemoveXattrOp{Inode: vfsops.InodeID(hdr.Nodeid), Name: name}
	return nil, s.FS.RemoveXattr(ctx, op)
}

func (s *Server) handleStatfs(ctx context.Context) ([]byte, error) {
	op := &vfsops.StatFSOp{}
	if err := s.FS.StatFS(ctx, op); err != nil {
		return nil, err
	}
	out := wire.StatfsOut{
		Blocks:  op.Blocks,
		Bfree:   op.BlocksFree,
		Bavail:  op.BlocksAvailable,
		Files:   op.Files,
		Ffree:   op.FilesFree,
		Bsize:   op.BlockSize,
		Namelen: op.NameLen,
		Frsize:  op.IoSize,
	}
	return out.Marshal(), nil
}

func (s *Server) handleAccess(ctx context.Context, hdr wire.InHeader, payload []byte) ([]byte, error) {
	in, err := wire.UnmarshalAccessIn(payload)
	if err != nil {
		return nil, err
	}
	op := &vfsops.AccessOp{Inode: vfsops.InodeID(hdr.Nodeid), Mask: in.Mask}
	return nil, s.FS.Access(ctx, op)
}

func (s *Server) handleGetlk(ctx context.Context, hdr wire.InHeader, payload []byte) ([]byte, error) {
	in, err := wire.UnmarshalLkIn(payload)
	if err != nil {
		return nil, err
	}
	op := &vfsops.GetLockOp{
		Inode:  vfsops.InodeID(hdr.Nodeid),
		Handle: vfsops.HandleID(in.Fh),
		Lock:   lockFromWire(in.Lock),
	}
	if err := s.FS.GetLock(ctx, op); err != nil {
		return nil, err
	}
	return wire.LkOut{Lock: lockToWire(op.Lock)}.Marshal(), nil
}

func (s *Server) handleSetlk(ctx context.Context, hdr wire.InHeader, payload []byte, blocking bool) ([]byte, error) {
	in, err := wire.UnmarshalLkIn(payload)
	if err != nil {
		return nil, err
	}
	op := &vfsops.SetLockOp{
		Inode:    vfsops.InodeID(hdr.Nodeid),
		Handle:   vfsops.HandleID(in.Fh),
		Lock:     lockFromWire(in.Lock),
		Blocking: blocking,
	}
	return nil, s.FS.SetLock(ctx, op)
}

func (s *Server) handleBmap(ctx context.Context, hdr wire.InHeader, payload []byte) ([]byte, error) {
	in, err := wire.UnmarshalBmapIn(payload)
	if err != nil {
		return nil, err
	}
	op := &vfsops.BlockMapOp{Inode: vfsops.InodeID(hdr.Nodeid), Block: in.Block, BlockSize: in.Blocksize}
	if err := s.FS.BlockMap(ctx, op); err != nil {
		return nil, err
	}
	return wire.BmapOut{Block: op.PhysicalBlock}.Marshal(), nil
}

func (s *Server) handleGetxtimes(ctx context.Context, hdr wire.InHeader) ([]byte, error) {
	op := &vfsops.GetXTimesOp{Inode: vfsops.InodeID(hdr.Nodeid)}
	if err := s.FS.GetXTimes(ctx, op); err != nil {
		return nil, err
	}
	out := wire.GetxtimesOut{
		BkuptimeSec:  op.Bkuptime.Unix(),
		BkuptimeNsec: uint32(op.Bkuptime.Nanosecond()),
		CrtimeSec:    op.Crtime.Unix(),
		CrtimeNsec:   uint32(op.Crtime.Nanosecond()),
	}
	return out.Marshal(), nil
}

func (s *Server) handleSetvolname(ctx context.Context, payload []byte) ([]byte, error) {
	in, err := wire.UnmarshalSetvolnameIn(payload)
	if err != nil {
		return nil, err
	}
	op := &vfsops.SetVolNameOp{Name: in.Name}
	return nil, s.FS.SetVolName(ctx, op)
}
