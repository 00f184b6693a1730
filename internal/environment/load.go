package environment

import (
	"fmt"

	"github.com/hle-go/corehle/internal/log"
	"github.com/hle-go/corehle/internal/macho"
	"github.com/hle-go/corehle/internal/mem"
)

// LoadBinary parses binPath as an ARM Mach-O executable, maps its segments
// into guest memory, and sets up whichever lazy/non-lazy stub sections
// internal/macho found. It returns the guest entry address, ready to pass
// to Run — loading and running are kept separate so a caller (the TUI, the
// console) can inspect a loaded-but-not-yet-started Environment.
func (e *Environment) LoadBinary(binPath string) (mem.GuestUSize, error) {
	bin, err := macho.Load(binPath)
	if err != nil {
		return 0, err
	}

	for _, seg := range bin.Segments {
		if seg.MemSize == 0 {
			continue
		}
		e.Mem.Reserve(seg.Addr, seg.MemSize)
		if len(seg.Data) == 0 {
			continue
		}
		dst := mem.FromBits[byte, mem.MutTag](seg.Addr)
		copy(e.Mem.BytesAtMut(dst, mem.GuestUSize(len(seg.Data))), seg.Data)
	}

	if bin.LazyStubs != nil {
		e.Dyld.SetupLazyStubs(e.Mem, bin.LazyStubs.Addr, bin.LazyStubs.EntrySize, bin.LazyStubs.Symbols)
	}
	if bin.NonLazyPointers != nil {
		unresolved := e.Dyld.SetupNonLazyPointers(e.Mem, bin.NonLazyPointers.Addr, bin.NonLazyPointers.EntrySize, bin.NonLazyPointers.Symbols)
		if log.L != nil {
			for _, name := range unresolved {
				log.L.StubFallback(name)
			}
		}
	}
	// bin.LazyPointers (__la_symbol_ptr) is parsed but unused: this dyld
	// resolves a lazy call by rewriting the stub's own SVC immediate in
	// place rather than indirecting through a separate pointer slot, so
	// there is nothing to patch there.

	if bin.ClassList != nil {
		unresolved := e.ObjC.MaterializeClassList(e.Mem, bin.ClassList.Addr, bin.ClassList.Count)
		if log.L != nil {
			for _, addr := range unresolved {
				log.L.StubFallback(fmt.Sprintf("superclass@%#x", addr))
			}
		}
	}

	return bin.EntryPoint, nil
}

// Run sets PC to entry and drives the CPU until it returns to the host
// sentinel — the guest program's main() running to completion.
func (e *Environment) Run(entry mem.GuestUSize) {
	e.CPUv.SetPC(uint32(entry))
	e.CPUv.SetLR(uint32(returnToHostAddr))
	e.RunCall()
}
