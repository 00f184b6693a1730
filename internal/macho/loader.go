// Package macho loads an ARM Mach-O executable's segments, indirect
// symbol table, lazy/non-lazy stub sections, and Objective-C class list
// into guest memory, then hands that layout to internal/dyld and
// internal/objc to resolve. It is deliberately thin: it locates the
// __objc_classlist section but does not walk class_t/class_ro_t itself —
// that's internal/objc's job, since it alone owns the class table those
// structs get registered into. There is no relocation or ASLR handling
// here either, since the 32-bit iOS binaries this runtime targets load at
// a fixed address baked into the file.
//
// Follows the overall shape of an ELF-style loader (parse with a
// standard-library parser, walk PT_LOAD-equivalent segments into
// emulator memory, resolve imports against a host function table)
// adapted to Mach-O's different segment/section model and indirect
// symbol table. No complete example repo in the retrieved pack
// ships a Mach-O parser as a third-party dependency (a single
// other_examples/ file references blacktop/go-macho, but a standalone
// reference file cannot be a teacher or license pulling in a dependency
// per the transformation process), so this package uses only the
// standard library's debug/macho.
package macho

import (
	"debug/macho"
	"fmt"
	"os"

	"github.com/hle-go/corehle/internal/mem"
)

const (
	symbolStubSectionName    = "__symbol_stub4"
	nlSymbolPtrSectionName   = "__nl_symbol_ptr"
	lazySymbolPtrSectionName = "__la_symbol_ptr"
	classListSectionName     = "__objc_classlist"
)

// indirect symbol table sentinels, from <mach-o/loader.h>.
const (
	indirectSymbolLocal = 0x80000000
	indirectSymbolAbs   = 0x40000000
)

// lcMain is LC_MAIN, the load command carrying the entry point offset in
// newer Mach-O binaries. debug/macho does not decode it, so this package
// reads it directly out of the raw load command stream.
const lcMain = 0x80000028

// StubSection describes one __symbol_stub4 or __la_symbol_ptr /
// __nl_symbol_ptr section's address, its per-entry size, and the guest
// symbol names its indirect symbol table slice names, in file order —
// exactly what internal/dyld's SetupLazyStubs/SetupNonLazyPointers need.
type StubSection struct {
	Addr      mem.GuestUSize
	EntrySize mem.GuestUSize
	Symbols   []string
}

// Segment is one loadable Mach-O segment's destination address and the
// file bytes to write there; MemSize may exceed len(Data), the remainder
// being the segment's zero-filled tail (typically __DATA's __bss).
type Segment struct {
	Name    string
	Addr    mem.GuestUSize
	MemSize mem.GuestUSize
	Data    []byte
}

// ClassList describes the __objc_classlist section: a run of pointer-sized
// guest addresses, each pointing at one of the binary's class_t structs.
// The section's bytes are ordinary __DATA contents, already copied into
// guest memory along with the rest of their segment, so resolving it only
// takes the base address and how many pointer-sized entries it holds.
type ClassList struct {
	Addr  mem.GuestUSize
	Count mem.GuestUSize
}

// Binary is the parsed result of Load: everything an Environment needs
// to map a guest program into memory and set up its lazy/non-lazy
// linking before execution begins.
type Binary struct {
	EntryPoint mem.GuestUSize

	Segments []Segment

	// LazyStubs is the __symbol_stub4 section, if the binary has one.
	LazyStubs *StubSection
	// NonLazyPointers is the __nl_symbol_ptr section, if the binary has one.
	NonLazyPointers *StubSection
	// LazyPointers is the __la_symbol_ptr section (the pointer slots a
	// resolved lazy stub's caller reads back through), if present.
	LazyPointers *StubSection
	// ClassList is the __objc_classlist section, if the binary defines any
	// Objective-C classes of its own.
	ClassList *ClassList
}

// Load parses path as an ARM Mach-O binary and extracts its segments and
// stub sections. It does not touch guest memory itself; callers copy
// Segments into a *mem.Mem and pass the stub sections to internal/dyld.
func Load(path string) (*Binary, error) {
	f, err := macho.Open(path)
	if err != nil {
		return nil, fmt.Errorf("macho: open %q: %w", path, err)
	}
	defer f.Close()

	if f.Cpu != macho.CpuArm {
		return nil, fmt.Errorf("macho: %q is not an ARM binary (cpu type %v)", path, f.Cpu)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("macho: re-reading %q: %w", path, err)
	}

	bin := &Binary{}

	for _, l := range f.Loads {
		seg, ok := l.(*macho.Segment)
		if !ok {
			continue
		}
		data, err := seg.Data()
		if err != nil {
			return nil, fmt.Errorf("macho: reading segment %q: %w", seg.Name, err)
		}
		bin.Segments = append(bin.Segments, Segment{
			Name:    seg.Name,
			Addr:    mem.GuestUSize(seg.Addr),
			MemSize: mem.GuestUSize(seg.Memsz),
			Data:    data,
		})
	}

	if f.Dysymtab != nil && f.Symtab != nil {
		reserve1, err := sectionReserve1(raw)
		if err != nil {
			return nil, fmt.Errorf("macho: %q: %w", path, err)
		}
		for _, sec := range f.Sections {
			switch sec.Name {
			case symbolStubSectionName:
				bin.LazyStubs = buildStubSection(f, sec, StubEntrySize, reserve1[sec.Name])
			case nlSymbolPtrSectionName:
				bin.NonLazyPointers = buildStubSection(f, sec, PointerEntrySize, reserve1[sec.Name])
			case lazySymbolPtrSectionName:
				bin.LazyPointers = buildStubSection(f, sec, PointerEntrySize, reserve1[sec.Name])
			}
		}
	}

	for _, sec := range f.Sections {
		if sec.Name != classListSectionName {
			continue
		}
		bin.ClassList = &ClassList{
			Addr:  mem.GuestUSize(sec.Addr),
			Count: mem.GuestUSize(sec.Size) / PointerEntrySize,
		}
	}

	entry, err := readEntryPoint(raw, f)
	if err != nil {
		return nil, err
	}
	bin.EntryPoint = entry

	return bin, nil
}

// StubEntrySize and PointerEntrySize mirror internal/dyld's constants of
// the same shape, kept independent so this package has no import-cycle
// dependency on internal/dyld.
const (
	StubEntrySize    = 12
	PointerEntrySize = 4
)

// buildStubSection resolves sec's indirect symbol table slice into guest
// symbol names. A local or absolute indirect symbol slot (no imported
// name, the slot refers to a symbol defined in this same binary) is
// recorded as an empty string; internal/dyld's callers skip those rather
// than attempting to resolve a name that was never exported.
func buildStubSection(f *macho.File, sec *macho.Section, entrySize uint32, reserve1 uint32) *StubSection {
	count := sec.Size / uint64(entrySize)
	start := reserve1
	names := make([]string, 0, count)
	for i := uint32(0); i < uint32(count); i++ {
		if int(start+i) >= len(f.Dysymtab.IndirectSyms) {
			names = append(names, "")
			continue
		}
		idx := f.Dysymtab.IndirectSyms[start+i]
		if idx == indirectSymbolLocal || idx == indirectSymbolAbs {
			names = append(names, "")
			continue
		}
		if int(idx) >= len(f.Symtab.Syms) {
			names = append(names, "")
			continue
		}
		names = append(names, f.Symtab.Syms[idx].Name)
	}
	return &StubSection{
		Addr:      mem.GuestUSize(sec.Addr),
		EntrySize: mem.GuestUSize(entrySize),
		Symbols:   names,
	}
}
