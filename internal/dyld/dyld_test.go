package dyld

import (
	"testing"

	"github.com/hle-go/corehle/internal/mem"
)

type fakeCPU struct {
	regs [16]uint32
}

func (c *fakeCPU) Reg(n int) uint32       { return c.regs[n] }
func (c *fakeCPU) SetReg(n int, v uint32) { c.regs[n] = v }
func (c *fakeCPU) PC() uint32             { return 0 }
func (c *fakeCPU) SetPC(uint32)           {}
func (c *fakeCPU) LR() uint32             { return 0 }
func (c *fakeCPU) SetLR(uint32)           {}

func newTestMem() *mem.Mem {
	m := mem.New()
	m.SetNullSegmentSize(4096)
	return m
}

func TestLazyStubsTrapToResolver(t *testing.T) {
	m := newTestMem()
	base := mem.GuestUSize(0x10000)
	m.Reserve(base, 2*StubEntrySize)

	reg := NewRegistry()
	var called int
	reg.Functions["foo"] = func(a uint32) uint32 { called++; return a + 1 }

	d := New(reg)
	d.SetupLazyStubs(m, base, StubEntrySize, []string{"foo", "bar"})

	word := mem.Read(m, mem.FromBits[uint32, mem.ConstTag](base))
	if word&0xff000000 != 0xef000000 {
		t.Fatalf("expected an SVC instruction at the stub base, got %#x", word)
	}
	if word&0x00ffffff != 0 {
		t.Fatalf("expected the lazy-resolve sentinel SVC #0, got svc #%d", word&0x00ffffff)
	}
}

func TestLazyResolveFastPathPatchesStub(t *testing.T) {
	m := newTestMem()
	base := mem.GuestUSize(0x20000)
	m.Reserve(base, StubEntrySize)

	reg := NewRegistry()
	reg.Functions["foo"] = func(a uint32) uint32 { return a + 1 }

	d := New(reg)
	d.SetupLazyStubs(m, base, StubEntrySize, []string{"foo"})

	cpu := &fakeCPU{}
	cpu.regs[0] = 41
	d.HandleSVC(m, cpu, base, 0)

	if cpu.regs[0] != 42 {
		t.Fatalf("got %d, want 42", cpu.regs[0])
	}

	word := mem.Read(m, mem.FromBits[uint32, mem.ConstTag](base))
	svc := word & 0x00ffffff
	if svc == 0 {
		t.Fatal("expected the stub to be patched off the lazy-resolve sentinel")
	}

	// Second call should dispatch directly by the new SVC number, no
	// further lazy-resolve logic involved.
	cpu.regs[0] = 99
	d.HandleSVC(m, cpu, base, svc)
	if cpu.regs[0] != 100 {
		t.Fatalf("got %d, want 100", cpu.regs[0])
	}
}

func TestUnknownSVCPanics(t *testing.T) {
	m := newTestMem()
	d := New(NewRegistry())
	cpu := &fakeCPU{}
	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic for an unresolved SVC number")
		}
	}()
	d.HandleSVC(m, cpu, 0x1000, 7)
}

func TestNonLazyPointersResolveImmediately(t *testing.T) {
	m := newTestMem()
	nlBase := mem.GuestUSize(0x30000)
	m.Reserve(nlBase, 2*NLSymbolPtrEntrySize)

	reg := NewRegistry()
	reg.Functions["puts"] = func(s uint32) uint32 { return 0 }
	reg.Constants["kConst"] = 0xcafebabe

	d := New(reg)
	d.SetThunkArena(0x40000)
	m.Reserve(0x40000, ThunkArenaSize)

	unresolved := d.SetupNonLazyPointers(m, nlBase, NLSymbolPtrEntrySize, []string{"puts", "kConst@@GALAGO_1.0"})
	if len(unresolved) != 0 {
		t.Fatalf("expected everything to resolve, got unresolved=%v", unresolved)
	}

	thunkAddr := mem.Read(m, mem.FromBits[uint32, mem.ConstTag](nlBase))
	if thunkAddr == 0 {
		t.Fatal("expected puts to resolve to a non-null thunk address")
	}
	constAddr := mem.Read(m, mem.FromBits[uint32, mem.ConstTag](nlBase+NLSymbolPtrEntrySize))
	if constAddr != 0xcafebabe {
		t.Fatalf("got %#x, want 0xcafebabe", constAddr)
	}
}

func TestUnknownNonLazySymbolLeftNullAndReported(t *testing.T) {
	m := newTestMem()
	nlBase := mem.GuestUSize(0x50000)
	m.Reserve(nlBase, NLSymbolPtrEntrySize)

	d := New(NewRegistry())
	unresolved := d.SetupNonLazyPointers(m, nlBase, NLSymbolPtrEntrySize, []string{"totally_unknown_symbol"})
	if len(unresolved) != 1 || unresolved[0] != "totally_unknown_symbol" {
		t.Fatalf("got %v", unresolved)
	}
	addr := mem.Read(m, mem.FromBits[uint32, mem.ConstTag](nlBase))
	if addr != 0 {
		t.Fatalf("expected a null slot for an unresolved symbol, got %#x", addr)
	}
}
