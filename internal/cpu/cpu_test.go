package cpu

import "testing"

// Mirrors TestEmulatorBasic/TestCodeHook in shape: open a real Unicorn
// engine, map a page of backing memory directly (rather than going
// through internal/mem, which internal/cpu doesn't import), and drive a
// few AAPCS32 instructions through it.

func TestRegAccessors(t *testing.T) {
	c, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	if err := c.MapMemory(0x1000, make([]byte, 4096)); err != nil {
		t.Fatalf("MapMemory: %v", err)
	}

	c.SetReg(R0, 42)
	if got := c.Reg(R0); got != 42 {
		t.Fatalf("Reg(R0) = %d, want 42", got)
	}

	c.SetPC(0x1004)
	if c.PC() != 0x1004 {
		t.Fatalf("PC() = %#x, want 0x1004", c.PC())
	}

	c.SetSP(0x1ff0)
	if c.SP() != 0x1ff0 {
		t.Fatalf("SP() = %#x, want 0x1ff0", c.SP())
	}
}

func TestRunUntilStopExecutesThenHaltsAtSentinel(t *testing.T) {
	c, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	// Two pages: [0x1000, 0x3000). Code lives in the first, the
	// return-to-host sentinel sits unused in the second so RunUntilStop
	// can fetch (and immediately abandon) the block there.
	if err := c.MapMemory(0x1000, make([]byte, 8192)); err != nil {
		t.Fatalf("MapMemory: %v", err)
	}

	code := []byte{
		0x05, 0x00, 0xa0, 0xe3, // MOV r0, #5
		0x1e, 0xff, 0x2f, 0xe1, // BX lr
	}
	if err := c.WriteAt(0x1000, code); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	const sentinel = 0x2000
	c.SetLR(sentinel)
	c.SetPC(0x1000)

	var hits int
	unhook, err := c.HookCode(func(addr, size uint32) { hits++ })
	if err != nil {
		t.Fatalf("HookCode: %v", err)
	}
	defer unhook()

	if err := c.RunUntilStop(sentinel); err != nil {
		t.Fatalf("RunUntilStop: %v", err)
	}

	if got := c.Reg(R0); got != 5 {
		t.Fatalf("Reg(R0) = %d, want 5", got)
	}
	if hits == 0 {
		t.Fatal("expected the code hook to observe at least one instruction")
	}
}

func TestThumbDefaultsFalse(t *testing.T) {
	c, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	if err := c.MapMemory(0x1000, make([]byte, 4096)); err != nil {
		t.Fatalf("MapMemory: %v", err)
	}

	if c.Thumb() {
		t.Fatal("expected ARM (A32) mode by default, not Thumb")
	}
}
