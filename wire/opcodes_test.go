package wire

import "testing"

func TestOpCodeString(t *testing.T) {
	if got := OpLookup.String(); got != "LOOKUP" {
		t.Fatalf("OpLookup.String() = %q, want LOOKUP", got)
	}
	if got := OpCode(9999).String(); got != "OPCODE(9999)" {
		t.Fatalf("unknown opcode String() = %q, want OPCODE(9999)", got)
	}
}

func TestIsOptional(t *testing.T) {
	optional := []OpCode{OpSetxattr, OpGetxattr, OpFsync, OpBmap, OpGetxtimes, OpSetvolname}
	for _, op := range optional {
		if !op.IsOptional() {
			t.Errorf("%v.IsOptional() = false, want true", op)
		}
	}

	required := []OpCode{OpLookup, OpGetattr, OpRead, OpWrite, OpMkdir, OpInit}
	for _, op := range required {
		if op.IsOptional() {
			t.Errorf("%v.IsOptional() = true, want false", op)
		}
	}
}
