// Package libc registers the small slice of the C runtime touchHLE-era
// binaries link against directly: heap allocation, the mem*/str* family,
// and the C++ operator new/delete pair, each as a dyld host function
// bound by symbol name rather than hooked at a fixed address.
//
// Same "malloc zero-fills, free leaks nothing because the real allocator
// tracks it" shape as a stub libc layer, reworked against internal/mem's
// actual free-list allocator instead of a bump-only allocator, and
// registered through internal/dyld's symbol table instead of
// address-based hooking.
package libc

import (
	"github.com/hle-go/corehle/internal/dyld"
	"github.com/hle-go/corehle/internal/environment"
	"github.com/hle-go/corehle/internal/log"
	"github.com/hle-go/corehle/internal/mem"
)

// Install registers every symbol this package implements into registry.
func Install(registry *dyld.Registry) {
	registry.InstallFunctions(map[string]any{
		"malloc":  mallocFn,
		"calloc":  callocFn,
		"realloc": reallocFn,
		"free":    freeFn,

		"memcpy":  memcpyFn,
		"memset":  memsetFn,
		"memmove": memmoveFn,

		"strlen":  strlenFn,
		"strcmp":  strcmpFn,
		"strncmp": strncmpFn,
		"strcpy":  strcpyFn,
		"strncpy": strncpyFn,

		// Itanium C++ ABI operator new/delete, mangled names a compiled
		// binary's symbol table carries directly.
		"_Znwm":   mallocFn, // operator new(size_t)
		"_Znam":   mallocFn, // operator new[](size_t)
		"_ZdlPv":  deleteFn, // operator delete(void*)
		"_ZdaPv":  deleteFn, // operator delete[](void*)
		"_ZdlPvm": deleteSizedFn,
	})
}

func alignUp16(n mem.GuestUSize) mem.GuestUSize {
	if n == 0 {
		return 16
	}
	return (n + 15) &^ 15
}

func mallocFn(e *environment.Environment, size mem.GuestUSize) mem.MutPtr[byte] {
	ptr := mem.Alloc[byte](e.Mem, alignUp16(size))
	if log.L != nil {
		log.L.TraceSimple("libc", "malloc", log.Hex(uint64(size)))
	}
	return ptr
}

func callocFn(e *environment.Environment, count, size mem.GuestUSize) mem.MutPtr[byte] {
	total := alignUp16(count * size)
	ptr := mem.Alloc[byte](e.Mem, total)
	// Freshly bump-allocated or previously-freed memory is already
	// zero-filled (mem.Free zeroes on release; fresh mmap pages start
	// zero), so there is nothing further to clear here.
	return ptr
}

func reallocFn(e *environment.Environment, ptr mem.MutPtr[byte], size mem.GuestUSize) mem.MutPtr[byte] {
	return mem.Realloc(e.Mem, ptr, alignUp16(size))
}

func freeFn(e *environment.Environment, ptr mem.MutPtr[byte]) {
	if ptr.IsNull() {
		return
	}
	mem.Free(e.Mem, ptr)
}

func deleteFn(e *environment.Environment, ptr mem.MutPtr[byte]) {
	freeFn(e, ptr)
}

func deleteSizedFn(e *environment.Environment, ptr mem.MutPtr[byte], _ mem.GuestUSize) {
	freeFn(e, ptr)
}

func memcpyFn(e *environment.Environment, dst mem.MutPtr[byte], src mem.ConstPtr[byte], n mem.GuestUSize) mem.MutPtr[byte] {
	mem.Memmove(e.Mem, dst, src, n)
	return dst
}

func memmoveFn(e *environment.Environment, dst mem.MutPtr[byte], src mem.ConstPtr[byte], n mem.GuestUSize) mem.MutPtr[byte] {
	mem.Memmove(e.Mem, dst, src, n)
	return dst
}

func memsetFn(e *environment.Environment, dst mem.MutPtr[byte], c uint32, n mem.GuestUSize) mem.MutPtr[byte] {
	b := e.Mem.BytesAtMut(dst, n)
	fill := byte(c)
	for i := range b {
		b[i] = fill
	}
	return dst
}

func strlenFn(e *environment.Environment, s mem.ConstPtr[byte]) mem.GuestUSize {
	return mem.GuestUSize(len(mem.CStrAt(e.Mem, s)))
}

func strcmpFn(e *environment.Environment, a, b mem.ConstPtr[byte]) int32 {
	return compareCStr(mem.CStrAtUTF8(e.Mem, a), mem.CStrAtUTF8(e.Mem, b))
}

func strncmpFn(e *environment.Environment, a, b mem.ConstPtr[byte], n mem.GuestUSize) int32 {
	sa, sb := mem.CStrAtUTF8(e.Mem, a), mem.CStrAtUTF8(e.Mem, b)
	if mem.GuestUSize(len(sa)) > n {
		sa = sa[:n]
	}
	if mem.GuestUSize(len(sb)) > n {
		sb = sb[:n]
	}
	return compareCStr(sa, sb)
}

func compareCStr(a, b string) int32 {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func strcpyFn(e *environment.Environment, dst mem.MutPtr[byte], src mem.ConstPtr[byte]) mem.MutPtr[byte] {
	s := mem.CStrAt(e.Mem, src)
	b := e.Mem.BytesAtMut(dst, mem.GuestUSize(len(s))+1)
	copy(b, s)
	b[len(s)] = 0
	return dst
}

func strncpyFn(e *environment.Environment, dst mem.MutPtr[byte], src mem.ConstPtr[byte], n mem.GuestUSize) mem.MutPtr[byte] {
	s := mem.CStrAt(e.Mem, src)
	b := e.Mem.BytesAtMut(dst, n)
	copied := copy(b, s)
	for i := copied; i < int(n); i++ {
		b[i] = 0
	}
	return dst
}
