// Copyright 2015 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package loopbackfs mirrors an existing physical directory tree,
// read-write, adapted from the teacher's read-only samples/roloopbackfs.
package loopbackfs

import (
	"context"
	"io/ioutil"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/detailyang/go-fallocate"

	"github.com/go-fuse-transport/fused/vfsops"
)

// preallocateThreshold is the write size past which loopbackfs asks the
// kernel to reserve space up front via fallocate(2) rather than letting
// the file grow a page at a time.
const preallocateThreshold = 1 << 20 // 1 MiB

type inode struct {
	id       vfsops.InodeID
	path     string
	parent   vfsops.InodeID
	hidden   bool
	openFDs  int32
}

// FS mirrors loopbackPath read-write. Unlike the teacher's roloopbackfs
// it keeps no per-inode content cache: every read/write goes straight to
// the backing file, and open files are tracked only in the handles table
// that READ, WRITE and RELEASE look up. The inode's hidden and openFDs
// fields are never updated, so no hidden-delete (spec §4.6) happens here.
type FS struct {
	vfsops.NotImplementedFileSystem

	loopbackPath string
	logger       *log.Logger

	mu         sync.Mutex // guards nextID and both maps below
	nextID     uint64
	byID       map[vfsops.InodeID]*inode
	handles    map[vfsops.HandleID]*os.File
	nextHandle uint64
}

var _ vfsops.FileSystem = &FS{}

// New mirrors an existing physical path read-write.
func New(loopbackPath string, logger *log.Logger) (*FS, error) {
	if _, err := os.Stat(loopbackPath); err != nil {
		return nil, err
	}

	fs := &FS{
		loopbackPath: loopbackPath,
		logger:       logger,
		nextID:       uint64(vfsops.InodeID(2)),
		byID:         make(map[vfsops.InodeID]*inode),
		handles:      make(map[vfsops.HandleID]*os.File),
	}
	fs.byID[1] = &inode{id: 1, path: loopbackPath}
	return fs, nil
}

func (fs *FS) logf(format string, v ...interface{}) {
	if fs.logger != nil {
		fs.logger.Printf(format, v...)
	}
}

func (fs *FS) Init(ctx context.Context, op *vfsops.InitOp) error {
	op.MaxWrite = 1 << 20
	return nil
}

func (fs *FS) childPath(parent vfsops.InodeID, name string) (string, error) {
	fs.mu.Lock()
	p, ok := fs.byID[parent]
	fs.mu.Unlock()
	if !ok {
		return "", vfsops.ENOENT
	}
	return filepath.Join(p.path, name), nil
}

func (fs *FS) getOrCreateInode(parent vfsops.InodeID, path string) (*inode, error) {
	st, err := os.Lstat(path)
	if err != nil {
		return nil, err
	}
	statT, _ := st.Sys().(*syscall.Stat_t)

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if statT != nil {
		for _, existing := range fs.byID {
			if existing.path == path {
				return existing, nil
			}
		}
	}

	id := vfsops.InodeID(atomic.AddUint64(&fs.nextID, 1))
	n := &inode{id: id, path: path, parent: parent}
	fs.byID[id] = n
	return n, nil
}

func (fs *FS) attributesFor(path string) (vfsops.InodeAttributes, error) {
	st, err := os.Lstat(path)
	if err != nil {
		return vfsops.InodeAttributes{}, err
	}
	return vfsops.InodeAttributes{
		Size:  uint64(st.Size()),
		Nlink: 1,
		Mode:  st.Mode(),
		Uid:   uint32(os.Getuid()),
		Gid:   uint32(os.Getgid()),
		Atime: st.ModTime(),
		Mtime: st.ModTime(),
		Ctime: st.ModTime(),
	}, nil
}

func (fs *FS) LookUpInode(ctx context.Context, op *vfsops.LookUpInodeOp) error {
	path, err := fs.childPath(op.Parent, op.Name)
	if err != nil {
		return err
	}
	n, err := fs.getOrCreateInode(op.Parent, path)
	if err != nil {
		return vfsops.ENOENT
	}
	attrs, err := fs.attributesFor(n.path)
	if err != nil {
		fs.logf("loopbackfs: LookUpInode %q: %v", path, err)
		return vfsops.EIO
	}
	op.Entry = vfsops.ChildInodeEntry{Child: n.id, Attributes: attrs}
	return nil
}

func (fs *FS) GetInodeAttributes(ctx context.Context, op *vfsops.GetInodeAttributesOp) error {
	fs.mu.Lock()
	n, ok := fs.byID[op.Inode]
	fs.mu.Unlock()
	if !ok {
		return vfsops.ENOENT
	}
	attrs, err := fs.attributesFor(n.path)
	if err != nil {
		return vfsops.EIO
	}
	op.Attributes = attrs
	return nil
}

func (fs *FS) SetInodeAttributes(ctx context.Context, op *vfsops.SetInodeAttributesOp) error {
	fs.mu.Lock()
	n, ok := fs.byID[op.Inode]
	fs.mu.Unlock()
	if !ok {
		return vfsops.ENOENT
	}

	if op.Valid&vfsops.SetattrSize != 0 {
		if err := os.Truncate(n.path, int64(op.Size)); err != nil {
			return vfsops.EIO
		}
	}
	if op.Valid&vfsops.SetattrMode != 0 {
		if err := os.Chmod(n.path, op.Mode.Perm()); err != nil {
			return vfsops.EIO
		}
	}

	attrs, err := fs.attributesFor(n.path)
	if err != nil {
		return vfsops.EIO
	}
	op.Attributes = attrs
	return nil
}

func (fs *FS) ForgetInode(ctx context.Context, op *vfsops.ForgetInodeOp) error {
	return nil
}

func (fs *FS) OpenDir(ctx context.Context, op *vfsops.OpenDirOp) error {
	fs.mu.Lock()
	_, ok := fs.byID[op.Inode]
	fs.mu.Unlock()
	if !ok {
		return vfsops.ENOENT
	}
	op.Handle = vfsops.HandleID(op.Inode)
	return nil
}

func (fs *FS) ReadDir(ctx context.Context, op *vfsops.ReadDirOp) error {
	fs.mu.Lock()
	n, ok := fs.byID[op.Inode]
	fs.mu.Unlock()
	if !ok {
		return vfsops.ENOENT
	}

	children, err := ioutil.ReadDir(n.path)
	if err != nil {
		fs.logf("loopbackfs: ReadDir %q: %v", n.path, err)
		return vfsops.EIO
	}

	var out []vfsops.Dirent
	for i, child := range children {
		offset := vfsops.DirOffset(i + 1)
		if offset <= op.Offset {
			continue
		}

		childPath := filepath.Join(n.path, child.Name())
		childNode, err := fs.getOrCreateInode(op.Inode, childPath)
		if err != nil {
			continue
		}

		typ := vfsops.DT_File
		switch {
		case child.IsDir():
			typ = vfsops.DT_Dir
		case child.Mode()&os.ModeSymlink != 0:
			typ = vfsops.DT_Symlink
		}

		out = append(out, vfsops.Dirent{
			Inode:  childNode.id,
			Offset: offset,
			Type:   typ,
			Name:   child.Name(),
		})
	}
	op.Entries = out
	return nil
}

func (fs *FS) ReleaseDirHandle(ctx context.Context, op *vfsops.ReleaseDirHandleOp) error {
	return nil
}

func (fs *FS) allocHandle(f *os.File) vfsops.HandleID {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.nextHandle++
	id := vfsops.HandleID(fs.nextHandle)
	fs.handles[id] = f
	return id
}

func (fs *FS) fileFor(h vfsops.HandleID) (*os.File, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	f, ok := fs.handles[h]
	return f, ok
}

func (fs *FS) OpenFile(ctx context.Context, op *vfsops.OpenFileOp) error {
	fs.mu.Lock()
	n, ok := fs.byID[op.Inode]
	fs.mu.Unlock()
	if !ok {
		return vfsops.ENOENT
	}

	f, err := os.OpenFile(n.path, os.O_RDWR, 0)
	if err != nil {
		f, err = os.Open(n.path)
	}
	if err != nil {
		return vfsops.EIO
	}
	op.Handle = fs.allocHandle(f)
	return nil
}

func (fs *FS) CreateFile(ctx context.Context, op *vfsops.CreateFileOp) error {
	path, err := fs.childPath(op.Parent, op.Name)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, op.Mode.Perm())
	if err != nil {
		if os.IsExist(err) {
			return vfsops.EEXIST
		}
		return vfsops.EIO
	}

	n, err := fs.getOrCreateInode(op.Parent, path)
	if err != nil {
		f.Close()
		return vfsops.EIO
	}
	attrs, _ := fs.attributesFor(path)
	op.Entry = vfsops.ChildInodeEntry{Child: n.id, Attributes: attrs}
	op.Handle = fs.allocHandle(f)
	return nil
}

func (fs *FS) ReadFile(ctx context.Context, op *vfsops.ReadFileOp) error {
	f, ok := fs.fileFor(op.Handle)
	if !ok {
		return vfsops.EIO
	}
	n, err := f.ReadAt(op.Dst, op.Offset)
	if err != nil && n == 0 {
		return nil
	}
	op.BytesRead = n
	return nil
}

// WriteFile writes op.Data at op.Offset, preallocating the file's extent
// with fallocate(2) first when the write is large enough that growing
// page by page would be wasteful.
func (fs *FS) WriteFile(ctx context.Context, op *vfsops.WriteFileOp) error {
	f, ok := fs.fileFor(op.Handle)
	if !ok {
		return vfsops.EIO
	}

	if len(op.Data) >= preallocateThreshold {
		if err := fallocate.Fallocate(f, op.Offset, int64(len(op.Data))); err != nil {
			fs.logf("loopbackfs: fallocate failed, falling back to plain write: %v", err)
		}
	}

	if _, err := f.WriteAt(op.Data, op.Offset); err != nil {
		return vfsops.EIO
	}
	return nil
}

func (fs *FS) SyncFile(ctx context.Context, op *vfsops.SyncFileOp) error {
	f, ok := fs.fileFor(op.Handle)
	if !ok {
		return vfsops.EIO
	}
	return f.Sync()
}

func (fs *FS) FlushFile(ctx context.Context, op *vfsops.FlushFileOp) error {
	return nil
}

func (fs *FS) ReleaseFileHandle(ctx context.Context, op *vfsops.ReleaseFileHandleOp) error {
	fs.mu.Lock()
	f, ok := fs.handles[op.Handle]
	delete(fs.handles, op.Handle)
	fs.mu.Unlock()
	if !ok {
		return nil
	}
	return f.Close()
}

func (fs *FS) MkDir(ctx context.Context, op *vfsops.MkDirOp) error {
	path, err := fs.childPath(op.Parent, op.Name)
	if err != nil {
		return err
	}
	if err := os.Mkdir(path, op.Mode.Perm()); err != nil {
		if os.IsExist(err) {
			return vfsops.EEXIST
		}
		return vfsops.EIO
	}
	n, err := fs.getOrCreateInode(op.Parent, path)
	if err != nil {
		return vfsops.EIO
	}
	attrs, _ := fs.attributesFor(path)
	op.Entry = vfsops.ChildInodeEntry{Child: n.id, Attributes: attrs}
	return nil
}

func (fs *FS) RmDir(ctx context.Context, op *vfsops.RmDirOp) error {
	path, err := fs.childPath(op.Parent, op.Name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return vfsops.EIO
	}
	return nil
}

func (fs *FS) Unlink(ctx context.Context, op *vfsops.UnlinkOp) error {
	path, err := fs.childPath(op.Parent, op.Name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return vfsops.EIO
	}
	return nil
}

func (fs *FS) Rename(ctx context.Context, op *vfsops.RenameOp) error {
	oldPath, err := fs.childPath(op.OldParent, op.OldName)
	if err != nil {
		return err
	}
	newPath, err := fs.childPath(op.NewParent, op.NewName)
	if err != nil {
		return err
	}
	if err := os.Rename(oldPath, newPath); err != nil {
		return vfsops.EIO
	}

	fs.mu.Lock()
	for _, n := range fs.byID {
		if n.path == oldPath {
			n.path = newPath
			n.parent = op.NewParent
		}
	}
	fs.mu.Unlock()
	return nil
}

func (fs *FS) CreateSymlink(ctx context.Context, op *vfsops.SymlinkOp) error {
	path, err := fs.childPath(op.Parent, op.Name)
	if err != nil {
		return err
	}
	if err := os.Symlink(op.Target, path); err != nil {
		return vfsops.EIO
	}
	n, err := fs.getOrCreateInode(op.Parent, path)
	if err != nil {
		return vfsops.EIO
	}
	attrs, _ := fs.attributesFor(path)
	op.Entry = vfsops.ChildInodeEntry{Child: n.id, Attributes: attrs}
	return nil
}

func (fs *FS) ReadSymlink(ctx context.Context, op *vfsops.ReadSymlinkOp) error {
	fs.mu.Lock()
	n, ok := fs.byID[op.Inode]
	fs.mu.Unlock()
	if !ok {
		return vfsops.ENOENT
	}
	target, err := os.Readlink(n.path)
	if err != nil {
		return vfsops.EIO
	}
	op.Target = target
	return nil
}

func (fs *FS) StatFS(ctx context.Context, op *vfsops.StatFSOp) error {
	var st syscall.Statfs_t
	if err := syscall.Statfs(fs.loopbackPath, &st); err != nil {
		return vfsops.EIO
	}
	op.Blocks = st.Blocks
	op.BlocksFree = st.Bfree
	op.BlocksAvailable = st.Bavail
	op.Files = st.Files
	op.FilesFree = st.Ffree
	op.BlockSize = uint32(st.Bsize)
	op.IoSize = uint32(st.Bsize)
	op.NameLen = 255
	return nil
}

func (fs *FS) Destroy() {}
