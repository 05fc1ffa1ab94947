package fskit

import (
	"context"
	"os"
	"testing"

	"github.com/go-fuse-transport/fused/vfsops"
	"github.com/go-fuse-transport/fused/wire"
)

// fakeFS overrides just the methods a given test needs, leaving every
// other opcode to NotImplementedFileSystem's ENOSYS default — the same
// style vfsadapter's adapter_test.go uses for its fakeServer at the
// session layer.
type fakeFS struct {
	vfsops.NotImplementedFileSystem

	initOp  *vfsops.InitOp
	lookup  func(*vfsops.LookUpInodeOp) error
	getattr func(*vfsops.GetInodeAttributesOp) error
	mkdir   func(*vfsops.MkDirOp) error
	read    func(*vfsops.ReadFileOp) error
	write   func(*vfsops.WriteFileOp) error
	getxa   func(*vfsops.GetXattrOp) error
	statfs  func(*vfsops.StatFSOp) error
	access  func(*vfsops.AccessOp) error
	getlk   func(*vfsops.GetLockOp) error
	bmap    func(*vfsops.BlockMapOp) error
}

func (f *fakeFS) Init(ctx context.Context, op *vfsops.InitOp) error {
	f.initOp = op
	return nil
}

func (f *fakeFS) LookUpInode(ctx context.Context, op *vfsops.LookUpInodeOp) error {
	return f.lookup(op)
}

func (f *fakeFS) GetInodeAttributes(ctx context.Context, op *vfsops.GetInodeAttributesOp) error {
	return f.getattr(op)
}

func (f *fakeFS) MkDir(ctx context.Context, op *vfsops.MkDirOp) error {
	return f.mkdir(op)
}

func (f *fakeFS) ReadFile(ctx context.Context, op *vfsops.ReadFileOp) error {
	return f.read(op)
}

func (f *fakeFS) WriteFile(ctx context.Context, op *vfsops.WriteFileOp) error {
	return f.write(op)
}

func (f *fakeFS) GetXattr(ctx context.Context, op *vfsops.GetXattrOp) error {
	return f.getxa(op)
}

func (f *fakeFS) StatFS(ctx context.Context, op *vfsops.StatFSOp) error {
	return f.statfs(op)
}

func (f *fakeFS) Access(ctx context.Context, op *vfsops.AccessOp) error {
	return f.access(op)
}

func (f *fakeFS) GetLock(ctx context.Context, op *vfsops.GetLockOp) error {
	return f.getlk(op)
}

func (f *fakeFS) BlockMap(ctx context.Context, op *vfsops.BlockMapOp) error {
	return f.bmap(op)
}

func newTestServer(fs vfsops.FileSystem) *Server {
	return &Server{FS: fs}
}

func TestDispatchInitNegotiatesFlags(t *testing.T) {
	fs := &fakeFS{}
	s := newTestServer(fs)

	in := wire.InitIn{Major: 7, Minor: 23, MaxReadahead: 4096, Flags: wire.InitCaseInsensitive | wire.InitXtimes}
	reply, err := s.dispatch(context.Background(), wire.InHeader{Opcode: wire.OpInit}, in.Marshal())
	if err != nil {
		t.Fatalf("dispatch(INIT): %v", err)
	}

	if fs.initOp == nil || !fs.initOp.CaseInsensitive || !fs.initOp.Xtimes || fs.initOp.VolRename {
		t.Fatalf("Init did not see the negotiated flags: %+v", fs.initOp)
	}

	out, err := wire.UnmarshalInitOut(reply)
	if err != nil {
		t.Fatalf("UnmarshalInitOut: %v", err)
	}
	if out.Flags&wire.InitCaseInsensitive == 0 || out.Flags&wire.InitXtimes == 0 {
		t.Fatalf("reply flags %v missing what Init set", out.Flags)
	}
	if out.Flags&wire.InitVolRename != 0 {
		t.Fatalf("reply set VolRename which Init never requested")
	}
}

func TestDispatchLookupReturnsEntry(t *testing.T) {
	fs := &fakeFS{
		lookup: func(op *vfsops.LookUpInodeOp) error {
			if op.Parent != 1 || op.Name != "a.txt" {
				t.Fatalf("got LookUpInodeOp %+v", op)
			}
			op.Entry = vfsops.ChildInodeEntry{
				Child:      42,
				Generation: 1,
				Attributes: vfsops.InodeAttributes{Size: 10, Mode: 0644},
			}
			return nil
		},
	}
	s := newTestServer(fs)

	in := wire.LookupIn{Name: "a.txt"}
	reply, err := s.dispatch(context.Background(), wire.InHeader{Opcode: wire.OpLookup, Nodeid: 1}, in.Marshal())
	if err != nil {
		t.Fatalf("dispatch(LOOKUP): %v", err)
	}

	out, err := wire.UnmarshalEntryOut(reply)
	if err != nil {
		t.Fatalf("UnmarshalEntryOut: %v", err)
	}
	if out.Nodeid != 42 || out.Attr.Size != 10 {
		t.Fatalf("got EntryOut %+v", out)
	}
}

func TestDispatchGetattrReturnsAttr(t *testing.T) {
	fs := &fakeFS{
		getattr: func(op *vfsops.GetInodeAttributesOp) error {
			if op.Inode != 7 {
				t.Fatalf("got Inode %d, want 7", op.Inode)
			}
			op.Attributes = vfsops.InodeAttributes{Size: 99, Mode: os.FileMode(0755)}
			return nil
		},
	}
	s := newTestServer(fs)

	reply, err := s.dispatch(context.Background(), wire.InHeader{Opcode: wire.OpGetattr, Nodeid: 7}, nil)
	if err != nil {
		t.Fatalf("dispatch(GETATTR): %v", err)
	}
	out, err := wire.UnmarshalAttrOut(reply)
	if err != nil {
		t.Fatalf("UnmarshalAttrOut: %v", err)
	}
	if out.Attr.Size != 99 {
		t.Fatalf("got size %d, want 99", out.Attr.Size)
	}
}

func TestDispatchMkdirReturnsEntry(t *testing.T) {
	fs := &fakeFS{
		mkdir: func(op *vfsops.MkDirOp) error {
			if op.Name != "sub" || op.Mode.Perm() != 0755 {
				t.Fatalf("got MkDirOp %+v", op)
			}
			op.Entry = vfsops.ChildInodeEntry{Child: 5, Attributes: vfsops.InodeAttributes{Mode: os.ModeDir | 0755}}
			return nil
		},
	}
	s := newTestServer(fs)

	in := wire.MkdirIn{Name: "sub", Mode: 0040755}
	reply, err := s.dispatch(context.Background(), wire.InHeader{Opcode: wire.OpMkdir, Nodeid: 1}, in.Marshal())
	if err != nil {
		t.Fatalf("dispatch(MKDIR): %v", err)
	}
	out, err := wire.UnmarshalEntryOut(reply)
	if err != nil {
		t.Fatalf("UnmarshalEntryOut: %v", err)
	}
	if out.Nodeid != 5 {
		t.Fatalf("got nodeid %d, want 5", out.Nodeid)
	}
}

func TestDispatchReadClipsToBytesReturned(t *testing.T) {
	fs := &fakeFS{
		read: func(op *vfsops.ReadFileOp) error {
			op.BytesRead = copy(op.Dst, "hi")
			return nil
		},
	}
	s := newTestServer(fs)

	in := wire.ReadIn{Fh: 3, Offset: 0, Size: 16}
	reply, err := s.dispatch(context.Background(), wire.InHeader{Opcode: wire.OpRead, Nodeid: 1}, in.Marshal())
	if err != nil {
		t.Fatalf("dispatch(READ): %v", err)
	}
	if string(reply) != "hi" {
		t.Fatalf("got reply %q, want %q (clipped to 2 bytes, not the 16-byte request size)", reply, "hi")
	}
}

func TestDispatchWriteReturnsSize(t *testing.T) {
	var gotData []byte
	fs := &fakeFS{
		write: func(op *vfsops.WriteFileOp) error {
			gotData = op.Data
			return nil
		},
	}
	s := newTestServer(fs)

	in := wire.WriteIn{Fh: 3, Offset: 5, Data: []byte("payload")}
	reply, err := s.dispatch(context.Background(), wire.InHeader{Opcode: wire.OpWrite, Nodeid: 1}, in.Marshal())
	if err != nil {
		t.Fatalf("dispatch(WRITE): %v", err)
	}
	if string(gotData) != "payload" {
		t.Fatalf("WriteFile saw %q", gotData)
	}
	out, err := wire.UnmarshalWriteOut(reply)
	if err != nil {
		t.Fatalf("UnmarshalWriteOut: %v", err)
	}
	if out.Size != uint32(len("payload")) {
		t.Fatalf("got Size %d, want %d", out.Size, len("payload"))
	}
}

func TestDispatchGetxattrProbeThenFull(t *testing.T) {
	const value = "en_US.UTF-8"
	fs := &fakeFS{
		getxa: func(op *vfsops.GetXattrOp) error {
			op.BytesRead = copy(op.Dst, value)
			if len(op.Dst) == 0 {
				op.BytesRead = len(value)
			}
			return nil
		},
	}
	s := newTestServer(fs)

	// A zero-Size request is the kernel probing for the required buffer
	// length (spec §4.1 GETXATTR); the reply is the 4-byte size envelope.
	probe := wire.GetxattrIn{Name: "user.lang", Size: 0}
	reply, err := s.dispatch(context.Background(), wire.InHeader{Opcode: wire.OpGetxattr, Nodeid: 1}, probe.Marshal())
	if err != nil {
		t.Fatalf("dispatch(GETXATTR probe): %v", err)
	}
	out, err := wire.UnmarshalGetxattrOut(reply)
	if err != nil {
		t.Fatalf("UnmarshalGetxattrOut: %v", err)
	}
	if int(out.Size) != len(value) {
		t.Fatalf("got probe size %d, want %d", out.Size, len(value))
	}

	full := wire.GetxattrIn{Name: "user.lang", Size: uint32(len(value))}
	reply, err = s.dispatch(context.Background(), wire.InHeader{Opcode: wire.OpGetxattr, Nodeid: 1}, full.Marshal())
	if err != nil {
		t.Fatalf("dispatch(GETXATTR full): %v", err)
	}
	if string(reply) != value {
		t.Fatalf("got value %q, want %q", reply, value)
	}
}

func TestDispatchStatfs(t *testing.T) {
	fs := &fakeFS{
		statfs: func(op *vfsops.StatFSOp) error {
			op.Blocks = 1000
			op.BlockSize = 4096
			op.NameLen = 255
			return nil
		},
	}
	s := newTestServer(fs)

	reply, err := s.dispatch(context.Background(), wire.InHeader{Opcode: wire.OpStatfs}, nil)
	if err != nil {
		t.Fatalf("dispatch(STATFS): %v", err)
	}
	out, err := wire.UnmarshalStatfsOut(reply)
	if err != nil {
		t.Fatalf("UnmarshalStatfsOut: %v", err)
	}
	if out.Blocks != 1000 || out.Bsize != 4096 {
		t.Fatalf("got StatfsOut %+v", out)
	}
}

func TestDispatchAccessPropagatesError(t *testing.T) {
	fs := &fakeFS{
		access: func(op *vfsops.AccessOp) error {
			return vfsops.EPERM
		},
	}
	s := newTestServer(fs)

	in := wire.AccessIn{Mask: 2}
	_, err := s.dispatch(context.Background(), wire.InHeader{Opcode: wire.OpAccess, Nodeid: 1}, in.Marshal())
	if err != vfsops.EPERM {
		t.Fatalf("got err %v, want EPERM", err)
	}
}

func TestDispatchGetlkRoundTrip(t *testing.T) {
	fs := &fakeFS{
		getlk: func(op *vfsops.GetLockOp) error {
			op.Lock = vfsops.FileLock{Start: 0, End: 10, Type: vfsops.LockWrite, Pid: 99}
			return nil
		},
	}
	s := newTestServer(fs)

	in := wire.LkIn{Fh: 3, Lock: wire.FileLock{Start: 0, End: 10, Typ: uint32(vfsops.LockRead), Pid: 99}}
	reply, err := s.dispatch(context.Background(), wire.InHeader{Opcode: wire.OpGetlk, Nodeid: 1}, in.Marshal())
	if err != nil {
		t.Fatalf("dispatch(GETLK): %v", err)
	}
	out, err := wire.UnmarshalLkOut(reply)
	if err != nil {
		t.Fatalf("UnmarshalLkOut: %v", err)
	}
	if out.Lock.Typ != uint32(vfsops.LockWrite) {
		t.Fatalf("got lock type %d, want LockWrite", out.Lock.Typ)
	}
}

func TestDispatchBmapRoundTrip(t *testing.T) {
	fs := &fakeFS{
		bmap: func(op *vfsops.BlockMapOp) error {
			op.PhysicalBlock = op.Block * 2
			return nil
		},
	}
	s := newTestServer(fs)

	in := wire.BmapIn{Block: 4, Blocksize: 4096}
	reply, err := s.dispatch(context.Background(), wire.InHeader{Opcode: wire.OpBmap, Nodeid: 1}, in.Marshal())
	if err != nil {
		t.Fatalf("dispatch(BMAP): %v", err)
	}
	out, err := wire.UnmarshalBmapOut(reply)
	if err != nil {
		t.Fatalf("UnmarshalBmapOut: %v", err)
	}
	if out.Block != 8 {
		t.Fatalf("got block %d, want 8", out.Block)
	}
}

func TestDispatchUnknownOpcodeErrors(t *testing.T) {
	s := newTestServer(&fakeFS{})
	if _, err := s.dispatch(context.Background(), wire.InHeader{Opcode: wire.OpCode(9999)}, nil); err == nil {
		t.Fatalf("expected an error for an unknown opcode")
	}
}

func TestDispatchFsyncdirAndInterruptAreNoops(t *testing.T) {
	s := newTestServer(&fakeFS{})

	if reply, err := s.dispatch(context.Background(), wire.InHeader{Opcode: wire.OpFsyncdir}, nil); err != nil || reply != nil {
		t.Fatalf("FSYNCDIR: got (%v, %v), want (nil, nil)", reply, err)
	}
	if reply, err := s.dispatch(context.Background(), wire.InHeader{Opcode: wire.OpInterrupt}, nil); err != nil || reply != nil {
		t.Fatalf("INTERRUPT: got (%v, %v), want (nil, nil)", reply, err)
	}
}
