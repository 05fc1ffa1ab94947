package vfsops

import "context"

// FileSystem is the interface a backing filesystem implements; fskit's
// session loop dispatches exactly one of these methods per request
// (spec §2 "VFS adapter": "Translates host VFS callbacks ... into
// dispatcher calls"; here it is the mirror image, since this module sits
// on the user-space server side rather than inside the kernel client).
//
// Every method takes a context.Context. fskit's session loop passes a
// background context: it carries no caller pid/uid/gid and is not
// cancelled when an INTERRUPT arrives, since fskit answers INTERRUPT
// itself without forwarding it. Implementations should treat ctx
// cancellation as a hint, not a guarantee they must honor instantly.
type FileSystem interface {
	Init(ctx context.Context, op *InitOp) error

	LookUpInode(ctx context.Context, op *LookUpInodeOp) error
	GetInodeAttributes(ctx context.Context, op *GetInodeAttributesOp) error
	SetInodeAttributes(ctx context.Context, op *SetInodeAttributesOp) error
	ForgetInode(ctx context.Context, op *ForgetInodeOp) error

	MkDir(ctx context.Context, op *MkDirOp) error
	MkNode(ctx context.Context, op *MkNodeOp) error
	CreateFile(ctx context.Context, op *CreateFileOp) error
	CreateSymlink(ctx context.Context, op *SymlinkOp) error
	ReadSymlink(ctx context.Context, op *ReadSymlinkOp) error
	RmDir(ctx context.Context, op *RmDirOp) error
	Unlink(ctx context.Context, op *UnlinkOp) error
	Rename(ctx context.Context, op *RenameOp) error
	CreateLink(ctx context.Context, op *LinkOp) error
	ExchangeData(ctx context.Context, op *ExchangeDataOp) error

	OpenDir(ctx context.Context, op *OpenDirOp) error
	ReadDir(ctx context.Context, op *ReadDirOp) error
	ReleaseDirHandle(ctx context.Context, op *ReleaseDirHandleOp) error

	OpenFile(ctx context.Context, op *OpenFileOp) error
	ReadFile(ctx context.Context, op *ReadFileOp) error
	WriteFile(ctx context.Context, op *WriteFileOp) error
	SyncFile(ctx context.Context, op *SyncFileOp) error
	FlushFile(ctx context.Context, op *FlushFileOp) error
	ReleaseFileHandle(ctx context.Context, op *ReleaseFileHandleOp) error

	GetXattr(ctx context.Context, op *GetXattrOp) error
	ListXattr(ctx context.Context, op *ListXattrOp) error
	RemoveXattr(ctx context.Context, op *RemoveXattrOp) error
	SetXattr(ctx context.Context, op *SetXattrOp) error

	StatFS(ctx context.Context, op *StatFSOp) error
	Access(ctx context.Context, op *AccessOp) error

	GetLock(ctx context.Context, op *GetLockOp) error
	SetLock(ctx context.Context, op *SetLockOp) error

	BlockMap(ctx context.Context, op *BlockMapOp) error
	GetXTimes(ctx context.Context, op *GetXTimesOp) error
	SetVolName(ctx context.Context, op *SetVolNameOp) error

	Destroy()
}

// NotImplementedFileSystem can be embedded to supply a default for every
// method, so an implementation only needs to override what it actually
// supports. Most defaults return ENOSYS (spec §4.2 "Retry-on-unsupported"
// relies on these for truly unsupported opcodes); Init, ForgetInode,
// ReleaseDirHandle, SyncFile, FlushFile, ReleaseFileHandle and StatFS
// succeed without doing anything, and Destroy is a no-op. Mirrors the
// teacher's not_implemented_file_system.go.
type NotImplementedFileSystem struct{}

var _ FileSystem = NotImplementedFileSystem{}

func (NotImplementedFileSystem) Init(context.Context, *InitOp) error { return nil }

func (NotImplementedFileSystem) LookUpInode(context.Context, *LookUpInodeOp) error {
	return ENOSYS
}
func (NotImplementedFileSystem) GetInodeAttributes(context.Context, *GetInodeAttributesOp) error {
	return ENOSYS
}
func (NotImplementedFileSystem) SetInodeAttributes(context.Context, *SetInodeAttributesOp) error {
	return ENOSYS
}
func (NotImplementedFileSystem) ForgetInode(context.Context, *ForgetInodeOp) error { return nil }

func (NotImplementedFileSystem) MkDir(context.Context, *MkDirOp) error             { return ENOSYS }
func (NotImplementedFileSystem) MkNode(context.Context, *MkNodeOp) error           { return ENOSYS }
func (NotImplementedFileSystem) CreateFile(context.Context, *CreateFileOp) error   { return ENOSYS }
func (NotImplementedFileSystem) CreateSymlink(context.Context, *SymlinkOp) error   { return ENOSYS }
func (NotImplementedFileSystem) ReadSymlink(context.Context, *ReadSymlinkOp) error { return ENOSYS }
func (NotImplementedFileSystem) RmDir(context.Context, *RmDirOp) error             { return ENOSYS }
func (NotImplementedFileSystem) Unlink(context.Context, *UnlinkOp) error           { return ENOSYS }
func (NotImplementedFileSystem) Rename(context.Context, *RenameOp) error           { return ENOSYS }
func (NotImplementedFileSystem) CreateLink(context.Context, *LinkOp) error         { return ENOSYS }
func (NotImplementedFileSystem) ExchangeData(context.Context, *ExchangeDataOp) error {
	return ENOSYS
}

func (NotImplementedFileSystem) OpenDir(context.Context, *OpenDirOp) error { return ENOSYS }
func (NotImplementedFileSystem) ReadDir(context.Context, *ReadDirOp) error { return ENOSYS }
func (NotImplementedFileSystem) ReleaseDirHandle(context.Context, *ReleaseDirHandleOp) error {
	return nil
}

func (NotImplementedFileSystem) OpenFile(context.Context, *OpenFileOp) error   { return ENOSYS }
func (NotImplementedFileSystem) ReadFile(context.Context, *ReadFileOp) error   { return ENOSYS }
func (NotImplementedFileSystem) WriteFile(context.Context, *WriteFileOp) error { return ENOSYS }
func (NotImplementedFileSystem) SyncFile(context.Context, *SyncFileOp) error   { return nil }
func (NotImplementedFileSystem) FlushFile(context.Context, *FlushFileOp) error { return nil }
func (NotImplementedFileSystem) ReleaseFileHandle(context.Context, *ReleaseFileHandleOp) error {
	return nil
}

func (NotImplementedFileSystem) GetXattr(context.Context, *GetXattrOp) error       { return ENOSYS }
func (NotImplementedFileSystem) ListXattr(context.Context, *ListXattrOp) error     { return ENOSYS }
func (NotImplementedFileSystem) RemoveXattr(context.Context, *RemoveXattrOp) error { return ENOSYS }
func (NotImplementedFileSystem) SetXattr(context.Context, *SetXattrOp) error       { return ENOSYS }

func (NotImplementedFileSystem) StatFS(context.Context, *StatFSOp) error { return nil }
func (NotImplementedFileSystem) Access(context.Context, *AccessOp) error { return ENOSYS }

func (NotImplementedFileSystem) GetLock(context.Context, *GetLockOp) error { return ENOSYS }
func (NotImplementedFileSystem) SetLock(context.Context, *SetLockOp) error { return ENOSYS }

func (NotImplementedFileSystem) BlockMap(context.Context, *BlockMapOp) error     { return ENOSYS }
func (NotImplementedFileSystem) GetXTimes(context.Context, *GetXTimesOp) error   { return ENOSYS }
func (NotImplementedFileSystem) SetVolName(context.Context, *SetVolNameOp) error { return ENOSYS }

func (NotImplementedFileSystem) Destroy() {}
