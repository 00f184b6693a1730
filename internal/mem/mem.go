package mem

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// addressSpaceSize is the full 32-bit guest address space: 4 GiB. It is
// backed by a single anonymous mmap rather than a Go slice so the host OS
// commits pages lazily, mirroring the source's
// std::alloc::alloc_zeroed(1 << 32) trick without actually paying for 4 GiB
// of resident memory up front.
const addressSpaceSize = 1 << 32

// Mem owns the entire guest address space. There is exactly one Mem per
// Environment; every Ptr is only meaningful relative to the Mem that
// produced it.
type Mem struct {
	bytes            []byte
	nullSegmentSize  GuestUSize
	nullSegmentKnown bool
	alloc            *allocator
}

// New maps a fresh 4 GiB guest address space.
func New() *Mem {
	b, err := unix.Mmap(-1, 0, addressSpaceSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		panic(fmt.Sprintf("mem: failed to map guest address space: %v", err))
	}
	return &Mem{
		bytes: b,
		alloc: newAllocator(addressSpaceSize),
	}
}

// Refurbish resets m to a fresh state — every chunk forgotten, every byte
// zeroed — without re-mapping the backing store. Lets a test harness or a
// CLI that launches many guest programs in one process reuse the 4 GiB
// mapping instead of paying mmap's cost per run.
func (m *Mem) Refurbish() {
	for i := range m.bytes {
		m.bytes[i] = 0
	}
	m.alloc.refurbish()
	m.nullSegmentSize = 0
	m.nullSegmentKnown = false
}

// SetNullSegmentSize reserves [0, n) as the null-page guard: any read,
// write, or allocation touching that range panics. n must be page-aligned
// and may only be set once per Mem, matching the source's assertions.
func (m *Mem) SetNullSegmentSize(n GuestUSize) {
	const pageSize = 4096
	if n%pageSize != 0 {
		panic("null segment size must be page-aligned")
	}
	if m.nullSegmentKnown {
		panic("null segment size already set")
	}
	m.alloc.reserve(0, n)
	m.nullSegmentSize = n
	m.nullSegmentKnown = true
}

func (m *Mem) checkRange(base GuestUSize, size GuestUSize) {
	if base < m.nullSegmentSize {
		panic(fmt.Sprintf("attempted null-page access at %#x (%#x bytes)", base, size))
	}
	end := int64(base) + int64(size)
	if end > addressSpaceSize {
		panic(fmt.Sprintf("access at %#x (%#x bytes) runs past the end of guest memory", base, size))
	}
}

// BytesAt returns a slice view of [ptr, ptr+size) in guest memory, after
// the null-page check. The slice aliases the backing store: writes
// through it are writes to guest memory.
func (m *Mem) BytesAt(ptr ConstPtr[byte], size GuestUSize) []byte {
	base := ptr.ToBits()
	m.checkRange(base, size)
	return m.bytes[base : base+size]
}

// BytesAtMut is BytesAt for a MutPtr, provided separately so call sites
// document their intent even though the returned slice is identical.
func (m *Mem) BytesAtMut(ptr MutPtr[byte], size GuestUSize) []byte {
	base := ptr.ToBits()
	m.checkRange(base, size)
	return m.bytes[base : base+size]
}

// BytesAtFallible is BytesAt but returns ok=false instead of panicking on
// an out-of-range access, for use by a debugger-style tool that wants to
// probe arbitrary addresses without crashing the whole process.
func (m *Mem) BytesAtFallible(ptr ConstPtr[byte], size GuestUSize) (out []byte, ok bool) {
	base := ptr.ToBits()
	if base < m.nullSegmentSize {
		return nil, false
	}
	end := int64(base) + int64(size)
	if end > addressSpaceSize {
		return nil, false
	}
	return m.bytes[base : base+size], true
}

// Read loads a value of type T from guest memory at ptr, using an
// unaligned little-endian decode. T must be a fixed-layout, pointer-free
// type (see SizeOf's doc comment) — the Go translation of the source's
// SafeRead marker trait, enforced by convention rather than the type
// system since built-in types can't implement interfaces here.
func Read[T any](m *Mem, ptr ConstPtr[T]) T {
	size := SizeOf[T]()
	b := m.BytesAt(CastVoid(ptr), size)
	var out T
	copy(unsafe.Slice((*byte)(unsafe.Pointer(&out)), size), b)
	return out
}

// Write stores value into guest memory at ptr, using an unaligned
// little-endian encode. See Read for the SafeWrite contract.
func Write[T any](m *Mem, ptr MutPtr[T], value T) {
	size := SizeOf[T]()
	b := m.BytesAtMut(CastVoid(ptr), size)
	src := unsafe.Slice((*byte)(unsafe.Pointer(&value)), size)
	copy(b, src)
}

// Alloc reserves a new chunk of at least size bytes and returns a pointer
// to it. Contents are unspecified (the allocator does not zero reused
// chunks, matching a bump/free-list allocator's usual contract).
func Alloc[T any](m *Mem, size GuestUSize) MutPtr[T] {
	base := m.alloc.alloc(size)
	return FromBits[T, MutTag](base)
}

// Free releases the chunk ptr points at. Panics if ptr does not point at
// the start of a chunk currently owned by the allocator.
func Free[T any](m *Mem, ptr MutPtr[T]) {
	size, ok := m.alloc.sizeOfAlloc(ptr.ToBits())
	m.alloc.free(ptr.ToBits())
	// Zero-fill on free so a dangling read finds garbage neither attacker
	// nor developer can rely on.
	if ok {
		b := m.bytes[ptr.ToBits() : ptr.ToBits()+size]
		for i := range b {
			b[i] = 0
		}
	}
}

// Realloc resizes the allocation at ptr to newSize, copying contents as
// needed and returning the (possibly new) pointer. A nil ptr behaves like
// Alloc. If the existing chunk is already big enough, Realloc returns the
// same pointer unchanged — a deliberate simplification the source itself
// calls out ("we do not currently attempt to grow a chunk in place"), so
// a shrinking realloc never reclaims the slack.
func Realloc[T any](m *Mem, ptr MutPtr[T], newSize GuestUSize) MutPtr[T] {
	if ptr.IsNull() {
		return Alloc[T](m, newSize)
	}
	oldSize, ok := m.alloc.sizeOfAlloc(ptr.ToBits())
	if !ok {
		panic("realloc of address that was not allocated")
	}
	if oldSize >= newSize {
		return ptr
	}
	newPtr := Alloc[T](m, newSize)
	Memmove(m, CastVoid[T, MutTag](newPtr), AsConst(CastVoid[T, MutTag](ptr)), oldSize)
	Free(m, ptr)
	return newPtr
}

// Reserve permanently marks [base, base+size) as reserved, for mapping a
// loaded binary's segments or the initial stack before any further
// allocation can land there.
func (m *Mem) Reserve(base, size GuestUSize) {
	m.alloc.reserve(base, size)
}

// Memmove copies size bytes from src to dst, correctly handling
// overlapping ranges (the guest's memmove, not memcpy).
func Memmove(m *Mem, dst MutPtr[byte], src ConstPtr[byte], size GuestUSize) {
	d := m.BytesAtMut(dst, size)
	s := m.BytesAt(src, size)
	copy(d, s) // Go's copy is already overlap-safe, like C's memmove.
}

// CStrAt scans guest memory starting at ptr for a NUL terminator and
// returns the bytes up to (not including) it.
func CStrAt(m *Mem, ptr ConstPtr[byte]) []byte {
	var out []byte
	for i := GuestUSize(0); ; i++ {
		b := Read(m, ptr.Add(GuestISize(i)))
		if b == 0 {
			return out
		}
		out = append(out, b)
	}
}

// CStrAtUTF8 is CStrAt decoded as a Go string (assumed valid UTF-8, as
// touchHLE-era iPhone-OS apps are ASCII/UTF-8 in practice).
func CStrAtUTF8(m *Mem, ptr ConstPtr[byte]) string {
	return string(CStrAt(m, ptr))
}

// AllocAndWrite allocates room for one T and writes value into it.
func AllocAndWrite[T any](m *Mem, value T) MutPtr[T] {
	p := Alloc[T](m, SizeOf[T]())
	Write(m, p, value)
	return p
}

// AllocAndWriteCStr allocates len(s)+1 bytes, copies s, and NUL-terminates
// it.
func AllocAndWriteCStr(m *Mem, s string) MutPtr[byte] {
	size := GuestUSize(len(s)) + 1
	p := Alloc[byte](m, size)
	b := m.BytesAtMut(p, size)
	copy(b, s)
	b[len(s)] = 0
	return p
}

// WCStrAt scans a NUL-terminated array of 32-bit wchar_t values (the
// iPhone-OS platform's wchar_t is 4 bytes) and decodes it as runes.
func WCStrAt(m *Mem, ptr ConstPtr[uint32]) []rune {
	var out []rune
	for i := GuestUSize(0); ; i++ {
		v := Read(m, ptr.Add(GuestISize(i)))
		if v == 0 {
			return out
		}
		out = append(out, rune(v))
	}
}

// HostPtrToGuestPtr reverse-translates a raw host pointer that addresses
// somewhere inside this Mem's backing store back into a guest Ptr. Needed
// whenever a framework hands a host-owned buffer pointer to an API that
// later gives it back and expects a guest address (e.g. glGetPointerv);
// the core provides the primitive even though no framework using it is in
// scope here.
func (m *Mem) HostPtrToGuestPtr(hostPtr unsafe.Pointer) (ConstPtr[byte], bool) {
	base := unsafe.Pointer(&m.bytes[0])
	offset := uintptr(hostPtr) - uintptr(base)
	if offset >= uintptr(len(m.bytes)) {
		return ConstPtr[byte]{}, false
	}
	return FromBits[byte, ConstTag](GuestUSize(offset)), true
}

// RawBytes returns the entire 4 GiB backing slice, for the one caller that
// legitimately needs it: internal/cpu maps this same slice into Unicorn via
// MemMapPtr, so the CPU's load/store instructions and this package's
// Read/Write operate on the identical bytes rather than two independent
// copies of guest memory drifting apart.
func (m *Mem) RawBytes() []byte {
	return m.bytes
}

// DirectAccessPtr returns a raw host pointer into guest memory at ptr, for
// handing off to a host API (e.g. OpenGL) that needs a real pointer. The
// caller must not retain it past the lifetime of m.
func (m *Mem) DirectAccessPtr(ptr ConstPtr[byte], size GuestUSize) unsafe.Pointer {
	b := m.BytesAt(ptr, size)
	return unsafe.Pointer(&b[0])
}
