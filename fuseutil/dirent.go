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

package fuseutil

import (
	"encoding/binary"
	"fmt"

	"github.com/go-fuse-transport/fused/vfsops"
)

// direntHeaderSize is the fixed portion of one packed directory entry:
// ino(8) + off(8) + namelen(4) + type(4), the layout of fuse_dirent
// (http://goo.gl/BmFxob), 8-byte aligned per FUSE_DIRENT_ALIGN.
const direntHeaderSize = 8 + 8 + 4 + 4

// WriteDirent appends one packed directory entry to buf and returns the
// extended buffer. Unlike the original fixed-buffer WriteDirent this
// grows as needed, since the adapter now builds a full readdir reply
// rather than filling a single kernel-supplied page.
func WriteDirent(buf []byte, d vfsops.Dirent) []byte {
	n := direntHeaderSize + len(d.Name)
	padded := (n + 7) &^ 7

	rec := make([]byte, padded)
	binary.LittleEndian.PutUint64(rec[0:8], uint64(d.Inode))
	binary.LittleEndian.PutUint64(rec[8:16], uint64(d.Offset))
	binary.LittleEndian.PutUint32(rec[16:20], uint32(len(d.Name)))
	binary.LittleEndian.PutUint32(rec[20:24], uint32(d.Type))
	copy(rec[24:], d.Name)

	return append(buf, rec...)
}

// ReadDirents decodes a packed directory stream as produced by WriteDirent
// (spec §4.4 "Readdir decoding"). A record with zero namelen is a
// protocol error; namelen beyond maxNameLen is a fatal error for this
// call, matching the spec's distinction between a malformed stream and a
// merely oversized one. maxNameLen <= 0 disables the check.
func ReadDirents(buf []byte, maxNameLen int) ([]vfsops.Dirent, error) {
	var out []vfsops.Dirent

	for len(buf) > 0 {
		if len(buf) < direntHeaderSize {
			return nil, fmt.Errorf("fuseutil: truncated dirent header (%d bytes left)", len(buf))
		}

		ino := binary.LittleEndian.Uint64(buf[0:8])
		off := binary.LittleEndian.Uint64(buf[8:16])
		namelen := binary.LittleEndian.Uint32(buf[16:20])
		typ := binary.LittleEndian.Uint32(buf[20:24])

		if namelen == 0 {
			return nil, fmt.Errorf("fuseutil: zero-length dirent name is a protocol error")
		}
		if maxNameLen > 0 && int(namelen) > maxNameLen {
			return nil, fmt.Errorf("fuseutil: dirent name length %d exceeds maximum %d", namelen, maxNameLen)
		}

		recSize := direntHeaderSize + int(namelen)
		padded := (recSize + 7) &^ 7
		if len(buf) < padded {
			return nil, fmt.Errorf("fuseutil: truncated dirent record (need %d, have %d)", padded, len(buf))
		}

		out = append(out, vfsops.Dirent{
			Inode:  vfsops.InodeID(ino),
			Offset: vfsops.DirOffset(off),
			Type:   vfsops.DirentType(typ),
			Name:   string(buf[direntHeaderSize:recSize]),
		})

		buf = buf[padded:]
	}

	return out, nil
}

// ShouldSkipName reports whether name should be filtered out of a
// readdir listing under the "skip .DS_Store and ._*" mount option (spec
// §4.4, §6 "no_apple_double").
func ShouldSkipName(name string, skipAppleDouble bool) bool {
	if !skipAppleDouble {
		return false
	}
	if name == ".DS_Store" {
		return true
	}
	return len(name) >= 2 && name[0] == '.' && name[1] == '_'
}
