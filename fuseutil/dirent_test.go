package fuseutil

import (
	"testing"

	"github.com/go-fuse-transport/fused/vfsops"
)

func TestWriteDirentReadDirentsRoundTrip(t *testing.T) {
	want := []vfsops.Dirent{
		{Inode: 2, Offset: 1, Type: vfsops.DT_Dir, Name: "a"},
		{Inode: 3, Offset: 2, Type: vfsops.DT_File, Name: "a-much-longer-name.txt"},
	}

	var buf []byte
	for _, d := range want {
		buf = WriteDirent(buf, d)
	}

	got, err := ReadDirents(buf, 0)
	if err != nil {
		t.Fatalf("ReadDirents: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d entries, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("entry %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestWriteDirentPadsToEightByteAlignment(t *testing.T) {
	buf := WriteDirent(nil, vfsops.Dirent{Inode: 1, Name: "x"})
	if len(buf)%8 != 0 {
		t.Fatalf("got length %d, not 8-byte aligned", len(buf))
	}
}

func TestReadDirentsRejectsZeroLengthName(t *testing.T) {
	buf := make([]byte, direntHeaderSize)
	if _, err := ReadDirents(buf, 0); err == nil {
		t.Fatalf("expected an error for a zero-length dirent name")
	}
}

func TestReadDirentsRejectsNameOverMax(t *testing.T) {
	buf := WriteDirent(nil, vfsops.Dirent{Inode: 1, Name: "this-name-is-too-long"})
	if _, err := ReadDirents(buf, 4); err == nil {
		t.Fatalf("expected an error when namelen exceeds maxNameLen")
	}
}

func TestReadDirentsRejectsTruncatedHeader(t *testing.T) {
	buf := make([]byte, direntHeaderSize-1)
	if _, err := ReadDirents(buf, 0); err == nil {
		t.Fatalf("expected an error for a truncated header")
	}
}

func TestReadDirentsRejectsTruncatedRecord(t *testing.T) {
	buf := WriteDirent(nil, vfsops.Dirent{Inode: 1, Name: "hello"})
	if _, err := ReadDirents(buf[:len(buf)-4], 0); err == nil {
		t.Fatalf("expected an error for a truncated record body")
	}
}

func TestShouldSkipName(t *testing.T) {
	cases := []struct {
		name            string
		skipAppleDouble bool
		want            bool
	}{
		{".DS_Store", true, true},
		{"._resource", true, true},
		{"._resource", false, false},
		{"regular.txt", true, false},
		{".hidden", true, false},
	}
	for _, c := range cases {
		if got := ShouldSkipName(c.name, c.skipAppleDouble); got != c.want {
			t.Fatalf("ShouldSkipName(%q, %v) = %v, want %v", c.name, c.skipAppleDouble, got, c.want)
		}
	}
}
