package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// order is the wire byte order for every integer field (spec §4.1).
var order = binary.LittleEndian

// encoder is a tiny append-only byte-oriented writer. It exists so that
// per-opcode payload encoders read as a short, linear list of field writes
// instead of a thicket of binary.Write calls, matching the way ops.go
// builds up an OutMessage segment by segment.
type encoder struct {
	buf bytes.Buffer
}

func (e *encoder) u32(v uint32)  { binary.Write(&e.buf, order, v) }
func (e *encoder) u64(v uint64)  { binary.Write(&e.buf, order, v) }
func (e *encoder) i64(v int64)   { binary.Write(&e.buf, order, v) }
func (e *encoder) bytes(b []byte) {
	e.buf.Write(b)
}

// cstring writes s followed by a single NUL, the layout FUSE uses for
// variable-length names embedded in a fixed-layout payload.
func (e *encoder) cstring(s string) {
	e.buf.WriteString(s)
	e.buf.WriteByte(0)
}

func (e *encoder) Bytes() []byte { return e.buf.Bytes() }

// decoder reads fields off of a byte slice in order, tracking an error so
// that a chain of reads can be checked once at the end instead of after
// every field.
type decoder struct {
	b   []byte
	off int
	err error
}

func newDecoder(b []byte) *decoder { return &decoder{b: b} }

func (d *decoder) need(n int) bool {
	if d.err != nil {
		return false
	}
	if d.off+n > len(d.b) {
		d.err = fmt.Errorf("%w: need %d bytes, have %d", ErrProtocol, n, len(d.b)-d.off)
		return false
	}
	return true
}

func (d *decoder) u32() uint32 {
	if !d.need(4) {
		return 0
	}
	v := order.Uint32(d.b[d.off:])
	d.off += 4
	return v
}

func (d *decoder) u64() uint64 {
	if !d.need(8) {
		return 0
	}
	v := order.Uint64(d.b[d.off:])
	d.off += 8
	return v
}

func (d *decoder) i64() int64 { return int64(d.u64()) }

func (d *decoder) fixed(n int) []byte {
	if !d.need(n) {
		return nil
	}
	v := d.b[d.off : d.off+n]
	d.off += n
	return v
}

// rest returns every remaining byte, used for bulk read/write data and for
// readdir buffers whose length is implied by the frame, not a length
// prefix.
func (d *decoder) rest() []byte {
	if d.err != nil {
		return nil
	}
	v := d.b[d.off:]
	d.off = len(d.b)
	return v
}

// cstring reads up to and consuming a single trailing NUL.
func (d *decoder) cstring() string {
	if d.err != nil {
		return ""
	}
	i := bytes.IndexByte(d.b[d.off:], 0)
	if i < 0 {
		d.err = fmt.Errorf("%w: unterminated name", ErrProtocol)
		return ""
	}
	s := string(d.b[d.off : d.off+i])
	d.off += i + 1
	return s
}

func (d *decoder) Err() error { return d.err }

////////////////////////////////////////////////////////////////////////
// Frames
////////////////////////////////////////////////////////////////////////

// EncodeRequestFrame builds the full on-wire request: header followed by
// payload. hdr.Len is overwritten to the correct total.
func EncodeRequestFrame(hdr InHeader, payload []byte) []byte {
	hdr.Len = uint32(InHeaderSize + len(payload))

	var buf bytes.Buffer
	binary.Write(&buf, order, hdr)
	buf.Write(payload)
	return buf.Bytes()
}

// DecodeRequestFrame splits a raw request frame read from a fusedev.Slot
// into its header and payload, validating that the declared length matches
// what was actually read.
func DecodeRequestFrame(raw []byte) (hdr InHeader, payload []byte, err error) {
	if len(raw) < InHeaderSize {
		err = fmt.Errorf("%w: frame shorter than header", ErrProtocol)
		return
	}

	d := newDecoder(raw)
	hdr.Len = d.u32()
	hdr.Opcode = OpCode(d.u32())
	hdr.Unique = d.u64()
	hdr.Nodeid = d.u64()
	hdr.Uid = d.u32()
	hdr.Gid = d.u32()
	hdr.Pid = d.u32()
	hdr.Padding = d.u32()
	if err = d.Err(); err != nil {
		return
	}

	if int(hdr.Len) != len(raw) {
		err = fmt.Errorf("%w: declared length %d != frame length %d", ErrProtocol, hdr.Len, len(raw))
		return
	}

	payload = d.rest()
	return
}

// EncodeReplyFrame builds the full on-wire reply. A nonzero error must be
// accompanied by an empty payload (spec §4.3); callers should not pass both.
func EncodeReplyFrame(unique uint64, rawError int32, payload []byte) []byte {
	if rawError != 0 {
		payload = nil
	}

	hdr := OutHeader{
		Len:    uint32(OutHeaderSize + len(payload)),
		Error:  rawError,
		Unique: unique,
	}

	var buf bytes.Buffer
	binary.Write(&buf, order, hdr)
	buf.Write(payload)
	return buf.Bytes()
}

// DecodeReplyFrame splits a raw reply frame posted by the server into its
// header and payload, enforcing the length/error invariants of spec §4.3:
// the body length must equal header.length - sizeof(header), and a nonzero
// error must arrive with an empty body.
func DecodeReplyFrame(raw []byte) (hdr OutHeader, payload []byte, err error) {
	if len(raw) < OutHeaderSize {
		err = fmt.Errorf("%w: frame shorter than header", ErrProtocol)
		return
	}

	d := newDecoder(raw)
	hdr.Len = d.u32()
	hdr.Error = d.i64Compat()
	hdr.Unique = d.u64()
	if err = d.Err(); err != nil {
		return
	}

	if int(hdr.Len) != len(raw) {
		err = fmt.Errorf("%w: declared length %d != frame length %d", ErrProtocol, hdr.Len, len(raw))
		return
	}

	payload = d.rest()

	if hdr.Error != 0 && len(payload) != 0 {
		err = fmt.Errorf("%w: nonzero error %d with non-empty body (%d bytes)", ErrProtocol, hdr.Error, len(payload))
		return
	}

	return
}

// i64Compat reads a signed 32-bit field stored where u32 expects unsigned;
// used only for the OutHeader.Error field, which is transmitted as a raw
// 32-bit two's complement value.
func (d *decoder) i64Compat() int32 {
	return int32(d.u32())
}
