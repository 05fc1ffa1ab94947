package memkvfs

import (
	"context"
	"os"
	"testing"

	"github.com/jacobsa/timeutil"

	"github.com/go-fuse-transport/fused/vfsops"
)

func TestMkdirLookupCreateWriteRead(t *testing.T) {
	fs := New(timeutil.RealClock())
	ctx := context.Background()

	mkdir := &vfsops.MkDirOp{Parent: rootID, Name: "dir", Mode: 0755}
	if err := fs.MkDir(ctx, mkdir); err != nil {
		t.Fatalf("MkDir: %v", err)
	}
	if !mkdir.Entry.Attributes.Mode.IsDir() {
		t.Fatalf("new child is not a directory: %+v", mkdir.Entry.Attributes.Mode)
	}

	lookup := &vfsops.LookUpInodeOp{Parent: rootID, Name: "dir"}
	if err := fs.LookUpInode(ctx, lookup); err != nil {
		t.Fatalf("LookUpInode: %v", err)
	}
	if lookup.Entry.Child != mkdir.Entry.Child {
		t.Fatalf("got child %d, want %d", lookup.Entry.Child, mkdir.Entry.Child)
	}

	create := &vfsops.CreateFileOp{Parent: mkdir.Entry.Child, Name: "file.txt", Mode: 0644}
	if err := fs.CreateFile(ctx, create); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}

	write := &vfsops.WriteFileOp{Inode: create.Entry.Child, Offset: 0, Data: []byte("hello")}
	if err := fs.WriteFile(ctx, write); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	read := &vfsops.ReadFileOp{Inode: create.Entry.Child, Offset: 0, Dst: make([]byte, 5)}
	if err := fs.ReadFile(ctx, read); err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(read.Dst[:read.BytesRead]) != "hello" {
		t.Fatalf("got %q, want %q", read.Dst[:read.BytesRead], "hello")
	}
}

func TestMkdirRefusesDuplicateName(t *testing.T) {
	fs := New(timeutil.RealClock())
	ctx := context.Background()

	first := &vfsops.MkDirOp{Parent: rootID, Name: "dup", Mode: 0755}
	if err := fs.MkDir(ctx, first); err != nil {
		t.Fatalf("MkDir: %v", err)
	}

	second := &vfsops.MkDirOp{Parent: rootID, Name: "dup", Mode: 0755}
	if err := fs.MkDir(ctx, second); err != vfsops.EEXIST {
		t.Fatalf("got err %v, want EEXIST", err)
	}
}

func TestRmdirRefusesNonEmptyDir(t *testing.T) {
	fs := New(timeutil.RealClock())
	ctx := context.Background()

	parent := &vfsops.MkDirOp{Parent: rootID, Name: "parent", Mode: 0755}
	if err := fs.MkDir(ctx, parent); err != nil {
		t.Fatalf("MkDir(parent): %v", err)
	}
	child := &vfsops.MkDirOp{Parent: parent.Entry.Child, Name: "child", Mode: 0755}
	if err := fs.MkDir(ctx, child); err != nil {
		t.Fatalf("MkDir(child): %v", err)
	}

	if err := fs.RmDir(ctx, &vfsops.RmDirOp{Parent: rootID, Name: "parent"}); err != vfsops.ENOTEMPTY {
		t.Fatalf("got err %v, want ENOTEMPTY", err)
	}

	if err := fs.RmDir(ctx, &vfsops.RmDirOp{Parent: parent.Entry.Child, Name: "child"}); err != nil {
		t.Fatalf("RmDir(child): %v", err)
	}
	if err := fs.RmDir(ctx, &vfsops.RmDirOp{Parent: rootID, Name: "parent"}); err != nil {
		t.Fatalf("RmDir(parent) after emptying: %v", err)
	}
}

func TestReaddirIsStableAndOffsetAware(t *testing.T) {
	fs := New(timeutil.RealClock())
	ctx := context.Background()

	for _, name := range []string{"c", "a", "b"} {
		if err := fs.MkNode(ctx, &vfsops.MkNodeOp{Parent: rootID, Name: name, Mode: os.FileMode(0644)}); err != nil {
			t.Fatalf("MkNode(%s): %v", name, err)
		}
	}

	op := &vfsops.ReadDirOp{Inode: rootID}
	if err := fs.ReadDir(ctx, op); err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(op.Entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(op.Entries))
	}
	for i, want := range []string{"a", "b", "c"} {
		if op.Entries[i].Name != want {
			t.Fatalf("entry %d: got %q, want %q", i, op.Entries[i].Name, want)
		}
	}

	resumed := &vfsops.ReadDirOp{Inode: rootID, Offset: op.Entries[0].Offset}
	if err := fs.ReadDir(ctx, resumed); err != nil {
		t.Fatalf("ReadDir (resumed): %v", err)
	}
	if len(resumed.Entries) != 2 || resumed.Entries[0].Name != "b" {
		t.Fatalf("resumed listing starting after %q: got %+v", "a", resumed.Entries)
	}
}

func TestExchangeDataSwapsDirectoryEntries(t *testing.T) {
	fs := New(timeutil.RealClock())
	ctx := context.Background()

	a := &vfsops.CreateFileOp{Parent: rootID, Name: "a", Mode: 0644}
	if err := fs.CreateFile(ctx, a); err != nil {
		t.Fatalf("CreateFile(a): %v", err)
	}
	if err := fs.WriteFile(ctx, &vfsops.WriteFileOp{Inode: a.Entry.Child, Data: []byte("A")}); err != nil {
		t.Fatalf("WriteFile(a): %v", err)
	}

	b := &vfsops.CreateFileOp{Parent: rootID, Name: "b", Mode: 0644}
	if err := fs.CreateFile(ctx, b); err != nil {
		t.Fatalf("CreateFile(b): %v", err)
	}
	if err := fs.WriteFile(ctx, &vfsops.WriteFileOp{Inode: b.Entry.Child, Data: []byte("B")}); err != nil {
		t.Fatalf("WriteFile(b): %v", err)
	}

	if err := fs.ExchangeData(ctx, &vfsops.ExchangeDataOp{
		OldParent: rootID, OldName: "a",
		NewParent: rootID, NewName: "b",
	}); err != nil {
		t.Fatalf("ExchangeData: %v", err)
	}

	lookupA := &vfsops.LookUpInodeOp{Parent: rootID, Name: "a"}
	if err := fs.LookUpInode(ctx, lookupA); err != nil {
		t.Fatalf("LookUpInode(a): %v", err)
	}
	if lookupA.Entry.Child != b.Entry.Child {
		t.Fatalf("path \"a\" should now point at b's inode")
	}

	lookupB := &vfsops.LookUpInodeOp{Parent: rootID, Name: "b"}
	if err := fs.LookUpInode(ctx, lookupB); err != nil {
		t.Fatalf("LookUpInode(b): %v", err)
	}
	if lookupB.Entry.Child != a.Entry.Child {
		t.Fatalf("path \"b\" should now point at a's inode")
	}
}
