package mem

import "sort"

// allocAlignment is the minimum alignment of every allocation, matching
// the source design's 16-byte guarantee (enough for any AAPCS32 struct).
const allocAlignment = 16

// chunk is a contiguous, non-overlapping range of the guest address space.
// The allocator tracks used and free chunks in two disjoint lists; it
// never coalesces adjacent free chunks (an acknowledged trade-off: a
// long-running guest can fragment the address space, but the allocator
// stays simple and the guest address space is large relative to typical
// touchHLE-era app working sets).
type chunk struct {
	base GuestUSize
	size GuestUSize
}

func (c chunk) end() GuestUSize { return c.base + c.size }

func (c chunk) overlaps(o chunk) bool {
	return c.base < o.end() && o.base < c.end()
}

// allocator manages a single linear address range, handing out
// 16-byte-aligned chunks on request and reusing freed chunks by first fit.
type allocator struct {
	limit GuestUSize // one past the highest usable address
	used  []chunk
	free  []chunk
}

func newAllocator(limit GuestUSize) *allocator {
	return &allocator{limit: limit}
}

func alignUp(n, align GuestUSize) GuestUSize {
	rem := n % align
	if rem == 0 {
		return n
	}
	return n + (align - rem)
}

// reserve permanently marks [base, base+size) as unusable by the
// allocator by recording it in the used list, where free never reclaims
// it on the guest's behalf — for mapping segments, the stack, and the
// null-page guard.
func (a *allocator) reserve(base, size GuestUSize) {
	if size == 0 {
		return
	}
	c := chunk{base: base, size: size}
	for _, u := range a.used {
		if c.overlaps(u) {
			panic("reserve: overlaps an existing allocation")
		}
	}
	a.used = append(a.used, c)
}

// alloc returns the base address of a newly allocated chunk of at least
// size bytes, or panics if the address space is exhausted. First fit
// against the free list, then bump allocation past the highest used byte.
func (a *allocator) alloc(size GuestUSize) GuestUSize {
	if size == 0 {
		size = 1
	}
	size = alignUp(size, allocAlignment)

	for i, f := range a.free {
		if f.size >= size {
			a.free = append(a.free[:i], a.free[i+1:]...)
			used := chunk{base: f.base, size: size}
			a.used = append(a.used, used)
			if rest := f.size - size; rest > 0 {
				a.free = append(a.free, chunk{base: f.base + size, size: rest})
			}
			return used.base
		}
	}

	base := a.highWaterMark()
	base = alignUp(base, allocAlignment)
	if int64(base)+int64(size) > int64(a.limit) {
		panic("out of guest memory")
	}
	a.used = append(a.used, chunk{base: base, size: size})
	return base
}

func (a *allocator) highWaterMark() GuestUSize {
	var max GuestUSize
	for _, c := range a.used {
		if c.end() > max {
			max = c.end()
		}
	}
	for _, c := range a.free {
		if c.end() > max {
			max = c.end()
		}
	}
	return max
}

// free returns the chunk starting at base to the free list. Panics if base
// is not the start of a currently-used chunk — freeing an unknown or
// already-freed address is a guest bug, matching the source's error
// taxonomy (no recoverable "double free" outcome in the core).
func (a *allocator) free(base GuestUSize) {
	for i, c := range a.used {
		if c.base == base {
			a.used = append(a.used[:i], a.used[i+1:]...)
			a.free = append(a.free, c)
			return
		}
	}
	panic("free of address that was not allocated")
}

// sizeOfAlloc returns the usable size of the chunk starting at base, used
// by realloc to decide whether it can return the same address unchanged.
func (a *allocator) sizeOfAlloc(base GuestUSize) (GuestUSize, bool) {
	for _, c := range a.used {
		if c.base == base {
			return c.size, true
		}
	}
	return 0, false
}

// refurbish clears every tracked chunk, returning the allocator to its
// just-constructed state without touching the backing bytes (the caller
// is responsible for zeroing memory). Used by Mem.Refurbish to run many
// short-lived guest programs without re-mmapping the address space.
func (a *allocator) refurbish() {
	a.used = a.used[:0]
	a.free = a.free[:0]
}

// sortedFreeList returns a defensive copy of the free list sorted by base
// address, for diagnostics/tests that want to assert disjointness.
func (a *allocator) sortedFreeList() []chunk {
	out := make([]chunk, len(a.free))
	copy(out, a.free)
	sort.Slice(out, func(i, j int) bool { return out[i].base < out[j].base })
	return out
}
