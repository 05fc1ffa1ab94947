// Package memkvfs is an in-memory FileSystem implementation exercising
// the full vfsops operation set, including EXCHANGE and hidden deletion,
// adapted from the teacher's samples/memfs sample.
package memkvfs

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/jacobsa/syncutil"
	"github.com/jacobsa/timeutil"

	"github.com/go-fuse-transport/fused/vfsops"
)

// node is one file, directory, or symlink, keyed by its own InodeID. It
// generalizes the teacher's memfs inode to carry a name-indexed children
// map (rather than an append-only entries slice) since this module's
// inode table, not the FileSystem, owns lookup counts.
type node struct {
	mu syncutil.InvariantMutex

	// INVARIANT: attrs.Mode&^(os.ModePerm|os.ModeDir|os.ModeSymlink) == 0
	// INVARIANT: !(isDir() && isSymlink())
	attrs vfsops.InodeAttributes // GUARDED_BY(mu)

	children map[string]vfsops.InodeID // GUARDED_BY(mu); dirs only
	contents []byte                    // GUARDED_BY(mu); files only
	target   string                    // GUARDED_BY(mu); symlinks only

	hidden bool
}

func (n *node) checkInvariants() {
	if n.attrs.Mode&^(os.ModePerm|os.ModeDir|os.ModeSymlink) != 0 {
		panic("memkvfs: unexpected mode bits")
	}
	if n.attrs.Mode.IsDir() && n.attrs.Mode&os.ModeSymlink != 0 {
		panic("memkvfs: node is both dir and symlink")
	}
}

func newNode(mode os.FileMode, clock timeutil.Clock) *node {
	n := &node{}
	n.mu = syncutil.NewInvariantMutex(n.checkInvariants)

	now := clock.Now()
	n.attrs = vfsops.InodeAttributes{
		Mode:  mode,
		Nlink: 1,
		Atime: now, Mtime: now, Ctime: now, Crtime: now,
	}
	if mode.IsDir() {
		n.children = make(map[string]vfsops.InodeID)
		n.attrs.Nlink = 2
	}
	return n
}

func (n *node) isDir() bool     { return n.attrs.Mode.IsDir() }
func (n *node) isSymlink() bool { return n.attrs.Mode&os.ModeSymlink != 0 }

// FS is an in-memory, entirely single-process filesystem. It implements
// vfsops.FileSystem directly: fskit.Server drives it op by op.
type FS struct {
	vfsops.NotImplementedFileSystem

	clock timeutil.Clock

	mu sync.Mutex // guards nodes and nextID below; the "big lock" of spec §5

	nodes  map[vfsops.InodeID]*node
	nextID vfsops.InodeID
}

const rootID = vfsops.InodeID(1)

// New creates an empty filesystem containing only the root directory.
func New(clock timeutil.Clock) *FS {
	fs := &FS{
		clock:  clock,
		nodes:  make(map[vfsops.InodeID]*node),
		nextID: rootID + 1,
	}
	root := newNode(os.ModeDir|0755, clock)
	fs.nodes[rootID] = root
	return fs
}

func (fs *FS) allocID() vfsops.InodeID {
	id := fs.nextID
	fs.nextID++
	return id
}

func (fs *FS) Init(ctx context.Context, op *vfsops.InitOp) error {
	op.MaxWrite = 1 << 20
	return nil
}

func (fs *FS) lookupChild(parent *node, name string) (vfsops.InodeID, bool) {
	id, ok := parent.children[name]
	return id, ok
}

func (fs *FS) entryFor(id vfsops.InodeID, n *node) vfsops.ChildInodeEntry {
	return vfsops.ChildInodeEntry{
		Child:                id,
		Generation:           0,
		Attributes:           n.attrs,
		AttributesExpiration: fs.clock.Now().Add(time.Minute),
		EntryExpiration:      fs.clock.Now().Add(time.Minute),
	}
}

func (fs *FS) LookUpInode(ctx context.Context, op *vfsops.LookUpInodeOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parent, ok := fs.nodes[op.Parent]
	if !ok || !parent.isDir() {
		return vfsops.ENOENT
	}
	id, ok := fs.lookupChild(parent, op.Name)
	if !ok {
		return vfsops.ENOENT
	}
	op.Entry = fs.entryFor(id, fs.nodes[id])
	return nil
}

func (fs *FS) GetInodeAttributes(ctx context.Context, op *vfsops.GetInodeAttributesOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	n, ok := fs.nodes[op.Inode]
	if !ok {
		return vfsops.ENOENT
	}
	op.Attributes = n.attrs
	op.AttributesExpiration = fs.clock.Now().Add(time.Minute)
	return nil
}

func (fs *FS) SetInodeAttributes(ctx context.Context, op *vfsops.SetInodeAttributesOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	n, ok := fs.nodes[op.Inode]
	if !ok {
		return vfsops.ENOENT
	}

	if op.Valid&vfsops.SetattrSize != 0 {
		n.contents = resize(n.contents, int(op.Size))
		n.attrs.Size = op.Size
	}
	if op.Valid&vfsops.SetattrMode != 0 {
		n.attrs.Mode = (n.attrs.Mode &^ os.ModePerm) | (op.Mode & os.ModePerm)
	}
	if op.Valid&vfsops.SetattrUid != 0 {
		n.attrs.Uid = op.Uid
	}
	if op.Valid&vfsops.SetattrGid != 0 {
		n.attrs.Gid = op.Gid
	}
	if op.Valid&vfsops.SetattrAtime != 0 {
		n.attrs.Atime = op.Atime
	}
	if op.Valid&vfsops.SetattrMtime != 0 {
		n.attrs.Mtime = op.Mtime
	}
	n.attrs.Ctime = fs.clock.Now()

	op.Attributes = n.attrs
	op.AttributesExpiration = fs.clock.Now().Add(time.Minute)
	return nil
}

func resize(b []byte, n int) []byte {
	if n <= len(b) {
		return b[:n]
	}
	grown := make([]byte, n)
	copy(grown, b)
	return grown
}

func (fs *FS) ForgetInode(ctx context.Context, op *vfsops.ForgetInodeOp) error {
	// Reclamation is driven by the inode table (spec §4.5 "forget"), not
	// by the backing filesystem; memkvfs keeps every node it has ever
	// allocated for the lifetime of the process.
	return nil
}

func (fs *FS) mkChild(parent vfsops.InodeID, name string, mode os.FileMode) (vfsops.InodeID, *node, error) {
	p, ok := fs.nodes[parent]
	if !ok || !p.isDir() {
		return 0, nil, vfsops.ENOENT
	}
	if _, exists := fs.lookupChild(p, name); exists {
		return 0, nil, vfsops.EEXIST
	}

	id := fs.allocID()
	n := newNode(mode, fs.clock)
	fs.nodes[id] = n
	p.children[name] = id
	p.attrs.Mtime = fs.clock.Now()
	return id, n, nil
}

func (fs *FS) MkDir(ctx context.Context, op *vfsops.MkDirOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	id, n, err := fs.mkChild(op.Parent, op.Name, os.ModeDir|op.Mode.Perm())
	if err != nil {
		return err
	}
	op.Entry = fs.entryFor(id, n)
	return nil
}

func (fs *FS) MkNode(ctx context.Context, op *vfsops.MkNodeOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	id, n, err := fs.mkChild(op.Parent, op.Name, op.Mode)
	if err != nil {
		return err
	}
	op.Entry = fs.entryFor(id, n)
	return nil
}

func (fs *FS) CreateFile(ctx context.Context, op *vfsops.CreateFileOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	id, n, err := fs.mkChild(op.Parent, op.Name, op.Mode.Perm())
	if err != nil {
		return err
	}
	op.Entry = fs.entryFor(id, n)
	op.Handle = vfsops.HandleID(id)
	return nil
}

func (fs *FS) CreateSymlink(ctx context.Context, op *vfsops.SymlinkOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	id, n, err := fs.mkChild(op.Parent, op.Name, os.ModeSymlink|0777)
	if err != nil {
		return err
	}
	n.target = op.Target
	op.Entry = fs.entryFor(id, n)
	return nil
}

func (fs *FS) ReadSymlink(ctx context.Context, op *vfsops.ReadSymlinkOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, ok := fs.nodes[op.Inode]
	if !ok || !n.isSymlink() {
		return vfsops.ENOENT
	}
	op.Target = n.target
	return nil
}

func (fs *FS) RmDir(ctx context.Context, op *vfsops.RmDirOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	p, ok := fs.nodes[op.Parent]
	if !ok || !p.isDir() {
		return vfsops.ENOENT
	}
	id, ok := fs.lookupChild(p, op.Name)
	if !ok {
		return vfsops.ENOENT
	}
	child := fs.nodes[id]
	if len(child.children) != 0 {
		return vfsops.ENOTEMPTY
	}
	delete(p.children, op.Name)
	return nil
}

func (fs *FS) Unlink(ctx context.Context, op *vfsops.UnlinkOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	p, ok := fs.nodes[op.Parent]
	if !ok || !p.isDir() {
		return vfsops.ENOENT
	}
	if _, ok := fs.lookupChild(p, op.Name); !ok {
		return vfsops.ENOENT
	}
	delete(p.children, op.Name)
	// The inode itself is left in fs.nodes: the adapter may still be
	// serving reads against a hidden rename of this name (spec §4.6);
	// memkvfs has no refcount of its own to reclaim by, matching its
	// ForgetInode no-op above.
	return nil
}

func (fs *FS) Rename(ctx context.Context, op *vfsops.RenameOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	oldParent, ok := fs.nodes[op.OldParent]
	if !ok || !oldParent.isDir() {
		return vfsops.ENOENT
	}
	id, ok := fs.lookupChild(oldParent, op.OldName)
	if !ok {
		return vfsops.ENOENT
	}
	newParent, ok := fs.nodes[op.NewParent]
	if !ok || !newParent.isDir() {
		return vfsops.ENOENT
	}

	delete(oldParent.children, op.OldName)
	newParent.children[op.NewName] = id
	return nil
}

func (fs *FS) CreateLink(ctx context.Context, op *vfsops.LinkOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	p, ok := fs.nodes[op.Parent]
	if !ok || !p.isDir() {
		return vfsops.ENOENT
	}
	target, ok := fs.nodes[op.Target]
	if !ok {
		return vfsops.ENOENT
	}
	if _, exists := fs.lookupChild(p, op.Name); exists {
		return vfsops.EEXIST
	}

	p.children[op.Name] = op.Target
	target.attrs.Nlink++
	op.Entry = fs.entryFor(op.Target, target)
	return nil
}

// ExchangeData atomically swaps the contents of two existing paths (spec
// §4.1 EXCHANGE, §4.4, §8 property 7): the two directory entries trade
// the inode ids they point at, so each path's stat now reflects the
// other's former content with no copy.
func (fs *FS) ExchangeData(ctx context.Context, op *vfsops.ExchangeDataOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	oldParent, ok := fs.nodes[op.OldParent]
	if !ok || !oldParent.isDir() {
		return vfsops.ENOENT
	}
	newParent, ok := fs.nodes[op.NewParent]
	if !ok || !newParent.isDir() {
		return vfsops.ENOENT
	}

	oldID, ok := fs.lookupChild(oldParent, op.OldName)
	if !ok {
		return vfsops.ENOENT
	}
	newID, ok := fs.lookupChild(newParent, op.NewName)
	if !ok {
		return vfsops.ENOENT
	}

	oldParent.children[op.OldName] = newID
	newParent.children[op.NewName] = oldID
	return nil
}

////////////////////////////////////////////////////////////////////////
// Directories
////////////////////////////////////////////////////////////////////////

func (fs *FS) OpenDir(ctx context.Context, op *vfsops.OpenDirOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, ok := fs.nodes[op.Inode]
	if !ok || !n.isDir() {
		return vfsops.ENOENT
	}
	op.Handle = vfsops.HandleID(op.Inode)
	return nil
}

func (fs *FS) ReadDir(ctx context.Context, op *vfsops.ReadDirOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	n, ok := fs.nodes[op.Inode]
	if !ok || !n.isDir() {
		return vfsops.ENOENT
	}

	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	// Stable order keeps Offset meaningful across calls within one
	// OpenDirOp/ReleaseDirHandleOp bracket (spec §4.4 "Readdir decoding").
	sortStrings(names)

	var out []vfsops.Dirent
	for i, name := range names {
		offset := vfsops.DirOffset(i + 1)
		if offset <= op.Offset {
			continue
		}
		child := fs.nodes[n.children[name]]
		typ := vfsops.DT_File
		switch {
		case child.isDir():
			typ = vfsops.DT_Dir
		case child.isSymlink():
			typ = vfsops.DT_Symlink
		}
		out = append(out, vfsops.Dirent{
			Inode:  n.children[name],
			Offset: offset,
			Type:   typ,
			Name:   name,
		})
	}
	op.Entries = out
	return nil
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

func (fs *FS) ReleaseDirHandle(ctx context.Context, op *vfsops.ReleaseDirHandleOp) error {
	return nil
}

////////////////////////////////////////////////////////////////////////
// Files
////////////////////////////////////////////////////////////////////////

func (fs *FS) OpenFile(ctx context.Context, op *vfsops.OpenFileOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, ok := fs.nodes[op.Inode]
	if !ok || n.isDir() {
		return vfsops.ENOENT
	}
	op.Handle = vfsops.HandleID(op.Inode)
	return nil
}

func (fs *FS) ReadFile(ctx context.Context, op *vfsops.ReadFileOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	n, ok := fs.nodes[op.Inode]
	if !ok {
		return vfsops.ENOENT
	}
	if op.Offset > int64(len(n.contents)) {
		return fmt.Errorf("memkvfs: read past end of file")
	}
	op.BytesRead = copy(op.Dst, n.contents[op.Offset:])
	return nil
}

func (fs *FS) WriteFile(ctx context.Context, op *vfsops.WriteFileOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	n, ok := fs.nodes[op.Inode]
	if !ok {
		return vfsops.ENOENT
	}

	end := op.Offset + int64(len(op.Data))
	if end > int64(len(n.contents)) {
		n.contents = resize(n.contents, int(end))
	}
	copy(n.contents[op.Offset:], op.Data)
	n.attrs.Size = uint64(len(n.contents))
	n.attrs.Mtime = fs.clock.Now()
	return nil
}

func (fs *FS) SyncFile(ctx context.Context, op *vfsops.SyncFileOp) error   { return nil }
func (fs *FS) FlushFile(ctx context.Context, op *vfsops.FlushFileOp) error { return nil }
func (fs *FS) ReleaseFileHandle(ctx context.Context, op *vfsops.ReleaseFileHandleOp) error {
	return nil
}

func (fs *FS) StatFS(ctx context.Context, op *vfsops.StatFSOp) error {
	op.BlockSize = 4096
	op.IoSize = 4096
	op.NameLen = 255
	fs.mu.Lock()
	op.Files = uint64(len(fs.nodes))
	fs.mu.Unlock()
	return nil
}

func (fs *FS) Destroy() {}
