package abi

import "testing"

type fakeCPU struct {
	regs    [16]uint32
	pc, lr  uint32
	pcHist  []uint32
	ranFrom []uint32
}

func (c *fakeCPU) Reg(n int) uint32     { return c.regs[n] }
func (c *fakeCPU) SetReg(n int, v uint32) { c.regs[n] = v }
func (c *fakeCPU) PC() uint32           { return c.pc }
func (c *fakeCPU) SetPC(a uint32)       { c.pc = a; c.pcHist = append(c.pcHist, a) }
func (c *fakeCPU) LR() uint32           { return c.lr }
func (c *fakeCPU) SetLR(a uint32)       { c.lr = a }

type fakeCaller struct {
	cpu     *fakeCPU
	sentinel uint32
	ran     bool
}

func (f *fakeCaller) CPU() CPU              { return f.cpu }
func (f *fakeCaller) ReturnToHostAddr() uint32 { return f.sentinel }
func (f *fakeCaller) RunCall() {
	f.ran = true
	// Pretend the guest function computed r0+r1 into r0 and returned.
	f.cpu.regs[0] = f.cpu.regs[0] + f.cpu.regs[1]
	f.cpu.pc = f.sentinel
}

func TestCallRestoresCallerPCAndLR(t *testing.T) {
	cpu := &fakeCPU{pc: 0x1000, lr: 0x1004}
	caller := &fakeCaller{cpu: cpu, sentinel: 0xffff0000}

	f := GuestFunctionFromAddrAndThumbFlag(0x2000, false)
	ret := Call[uint32](caller, f, uint32(2), uint32(3))

	if !caller.ran {
		t.Fatal("expected RunCall to be invoked")
	}
	if ret != 5 {
		t.Fatalf("got %d, want 5", ret)
	}
	if cpu.PC() != 0x1000 || cpu.LR() != 0x1004 {
		t.Fatalf("caller's PC/LR not restored: pc=%#x lr=%#x", cpu.PC(), cpu.LR())
	}
}

func TestCallFromGuestDecodesArgsAndEncodesReturn(t *testing.T) {
	cpu := &fakeCPU{}
	cpu.regs[0] = 10
	cpu.regs[1] = 32

	add := func(a uint32, b int32) uint32 {
		return a + uint32(b)
	}
	CallFromGuest(cpu, add, 0)
	if cpu.regs[0] != 42 {
		t.Fatalf("got %d, want 42", cpu.regs[0])
	}
}

func TestCallFromGuestVoidReturnLeavesRegistersAlone(t *testing.T) {
	cpu := &fakeCPU{}
	cpu.regs[0] = 0xaaaaaaaa
	fn := func() VoidReturn {
		return VoidReturn{}
	}
	CallFromGuest(cpu, fn, 0)
	if cpu.regs[0] != 0xaaaaaaaa {
		t.Fatalf("VoidReturn must not touch registers, got %#x", cpu.regs[0])
	}
}

func TestCallFromGuestThreadsLeadingContext(t *testing.T) {
	cpu := &fakeCPU{}
	cpu.regs[0] = 7
	type env struct{ tag string }
	e := &env{tag: "ctx"}
	var seen *env
	fn := func(e *env, n uint32) uint32 {
		seen = e
		return n * 2
	}
	CallFromGuest(cpu, fn, 0, e)
	if seen != e {
		t.Fatal("leading context argument was not threaded through")
	}
	if cpu.regs[0] != 14 {
		t.Fatalf("got %d, want 14", cpu.regs[0])
	}
}

func TestVAListOverflowReturnsError(t *testing.T) {
	cpu := &fakeCPU{}
	v := NewVAList(cpu, 4)
	_, err := Next[uint32](&v)
	if err == nil {
		t.Fatal("expected an overflow error once all 4 registers are consumed")
	}
}
