package trace

import "testing"

func TestDisassembleARMNop(t *testing.T) {
	// MOV r0, r0 (NOP encoding), little-endian A32.
	code := []byte{0x00, 0x00, 0xa0, 0xe1}
	text, size := Disassemble(code, false)
	if size != 4 {
		t.Fatalf("size = %d, want 4", size)
	}
	if text == "" {
		t.Fatal("expected a non-empty disassembly")
	}
}

func TestDisassembleThumbNop(t *testing.T) {
	// MOV r0, r0, little-endian T32 (16-bit).
	code := []byte{0xc0, 0x46}
	text, size := Disassemble(code, true)
	if size != 2 {
		t.Fatalf("size = %d, want 2", size)
	}
	if text == "" {
		t.Fatal("expected a non-empty disassembly")
	}
}

func TestDisassembleFallsBackToRawWordOnUnknownOpcode(t *testing.T) {
	// An all-ones word decodes to nothing valid in either instruction set.
	code := []byte{0xff, 0xff, 0xff, 0xff}
	text, size := Disassemble(code, false)
	if text != ".word 0xffffffff" {
		t.Fatalf("text = %q, want the raw-word fallback", text)
	}
	if size != 4 {
		t.Fatalf("size = %d, want 4", size)
	}
}
