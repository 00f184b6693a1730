package mem

import "testing"

func newTestMem() *Mem {
	m := New()
	m.SetNullSegmentSize(4096)
	return m
}

func TestNullPageGuardPanics(t *testing.T) {
	m := newTestMem()
	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic reading from the null page")
		}
	}()
	Read(m, FromBits[uint32, ConstTag](0))
}

func TestTypedReadWriteRoundTrip(t *testing.T) {
	m := newTestMem()
	p := Alloc[uint32](m, SizeOf[uint32]())
	Write(m, p, uint32(0xdeadbeef))
	if got := Read(m, AsConst(p)); got != 0xdeadbeef {
		t.Fatalf("got %#x, want %#x", got, 0xdeadbeef)
	}
}

func TestUnalignedReadWrite(t *testing.T) {
	m := newTestMem()
	base := Alloc[byte](m, 16)
	// Deliberately misaligned relative to a natural uint32 boundary.
	p := Cast[uint32](base.Add(1))
	Write(m, p, uint32(0x11223344))
	if got := Read(m, AsConst(p)); got != 0x11223344 {
		t.Fatalf("unaligned round trip failed: got %#x", got)
	}
}

func TestPointerArithmeticOverflowPanics(t *testing.T) {
	m := newTestMem()
	_ = m
	p := FromBits[uint32, MutTag](0xfffffff0)
	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic on pointer overflow")
		}
	}()
	_ = p.Add(100)
}

func TestAllocatorDisjointChunks(t *testing.T) {
	m := newTestMem()
	a := Alloc[byte](m, 64)
	b := Alloc[byte](m, 64)
	if a.ToBits() == b.ToBits() {
		t.Fatal("two live allocations share a base address")
	}
	aEnd := a.ToBits() + 64
	if aEnd > b.ToBits() && a.ToBits() < b.ToBits()+64 {
		t.Fatal("allocations overlap")
	}
}

func TestFreeThenReallocReusesChunk(t *testing.T) {
	m := newTestMem()
	a := Alloc[byte](m, 64)
	base := a.ToBits()
	Free(m, a)
	b := Alloc[byte](m, 64)
	if b.ToBits() != base {
		t.Fatalf("expected free-list reuse at %#x, got %#x", base, b.ToBits())
	}
}

func TestDoubleFreePanics(t *testing.T) {
	m := newTestMem()
	a := Alloc[byte](m, 16)
	Free(m, a)
	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic on double free")
		}
	}()
	Free(m, a)
}

func TestCStrRoundTrip(t *testing.T) {
	m := newTestMem()
	p := AllocAndWriteCStr(m, "hello")
	if got := CStrAtUTF8(m, AsConst(p)); got != "hello" {
		t.Fatalf("got %q", got)
	}
}

func TestMemmoveOverlapping(t *testing.T) {
	m := newTestMem()
	p := Alloc[byte](m, 8)
	b := m.BytesAtMut(p, 8)
	copy(b, []byte("ABCDEFGH"))
	Memmove(m, p.Add(2), AsConst(p), 6)
	got := string(m.BytesAt(AsConst(p), 8))
	if got != "ABABCDEF" {
		t.Fatalf("got %q", got)
	}
}

func TestRefurbishClearsState(t *testing.T) {
	m := newTestMem()
	p := Alloc[uint32](m, 4)
	Write(m, p, 0x42424242)
	m.Refurbish()
	m.SetNullSegmentSize(4096)
	q := Alloc[uint32](m, 4)
	if q.ToBits() != p.ToBits() {
		t.Fatalf("expected refurbish to reset the high-water mark, got base %#x want %#x", q.ToBits(), p.ToBits())
	}
	if got := Read(m, AsConst(q)); got != 0 {
		t.Fatalf("expected zeroed memory after refurbish, got %#x", got)
	}
}
