package fskit

import (
	"fmt"
	"os"

	"github.com/go-fuse-transport/fused/fuseutil"
	"github.com/go-fuse-transport/fused/vfsops"
	"github.com/go-fuse-transport/fused/wire"
)

// POSIX S_IFMT file-type tags, matching vfsadapter's wire-side mode
// conversion; duplicated here (rather than imported) because fskit sits
// on the server side of the wire and has no other reason to depend on
// vfsadapter, which is strictly a client-side (dispatching) concern.
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

func modeFromWireAttr(raw uint32) os.FileMode {
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

func modeToWireAttr(m os.FileMode) uint32 {
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

func lockFromWire(l wire.FileLock) vfsops.FileLock {
	return vfsops.FileLock{Start: l.Start, End: l.End, Type: vfsops.FileLockType(l.Typ), Pid: l.Pid}
}

func lockToWire(l vfsops.FileLock) wire.FileLock {
	return wire.FileLock{Start: l.Start, End: l.End, Typ: uint32(l.Type), Pid: l.Pid}
}

func writeDirentInto(buf []byte, d vfsops.Dirent) []byte {
	return fuseutil.WriteDirent(buf, d)
}

// cstringOnly reads a single NUL-terminated string occupying the whole
// payload, the shape REMOVEXATTR's request uses.
func cstringOnly(payload []byte) (string, error) {
	for i, b := range payload {
		if b == 0 {
			return string(payload[:i]), nil
		}
	}
	return "", fmt.Errorf("fskit: unterminated name in payload")
}
