// Package dyld reimplements just enough of the dynamic linker to resolve
// the lazy and non-lazy symbol stubs a Mach-O binary's `__symbol_stub4`
// and `__nl_symbol_ptr` sections contain, dispatching resolved calls to
// host-implemented functions through an SVC trap rather than ever
// generating or interpreting real machine code for them.
//
// Grounded on original_source/src/dyld.rs for the A32 instruction
// encodings and the lazy/non-lazy split (that snapshot's own
// do_lazy_link/do_non_lazy_linking are themselves incomplete stubs;
// the complete linking behavior is what's actually implemented here).
package dyld

import (
	"fmt"
	"strings"

	"github.com/hle-go/corehle/internal/abi"
	"github.com/hle-go/corehle/internal/mem"
)

// StubEntrySize is the fixed size in bytes of one __symbol_stub4 entry:
// three A32 instructions (SVC, BX LR, a trap that should never execute).
const StubEntrySize = 12

// NLSymbolPtrEntrySize is the fixed size in bytes of one __nl_symbol_ptr
// entry: a single 32-bit pointer slot.
const NLSymbolPtrEntrySize = 4

// lazyResolveSVC is the reserved SVC immediate every freshly written lazy
// stub traps on; it means "I have not been resolved yet."
const lazyResolveSVC = 0

func encodeA32SVC(imm uint32) uint32 { return (imm & 0x00ffffff) | 0xef000000 }
func encodeA32Ret() uint32           { return 0xe12fff1e } // BX LR
func encodeA32Trap() uint32          { return 0xe7ffdefe } // UDF #0xfede, should never execute

// stripSymbolVersion normalizes a Mach-O indirect symbol table entry into
// the bare name framework modules register: it strips a trailing
// "@@VERSION" or "@VERSION" suffix (real binaries occasionally carry
// versioned weak symbol names, a detail touchHLE's distillation doesn't
// mention) and the single leading underscore every 32-bit Mach-O C symbol
// carries by convention ("_malloc" in the binary's symbol table, "malloc"
// in internal/frameworks' registration maps and every framework's own
// source).
func stripSymbolVersion(name string) string {
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	if strings.HasPrefix(name, "_") {
		name = name[1:]
	}
	return name
}

// Registry holds the host-side function and constant tables that symbol
// names resolve into. Framework plug-ins (internal/frameworks/...) fill
// this in before a binary is linked.
type Registry struct {
	Functions map[string]any
	Constants map[string]mem.GuestUSize
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		Functions: make(map[string]any),
		Constants: make(map[string]mem.GuestUSize),
	}
}

// InstallFunctions merges fns into the registry, panicking on a duplicate
// name — a framework module conflicting with another is a build-time bug,
// not a recoverable condition.
func (r *Registry) InstallFunctions(fns map[string]any) {
	for name, fn := range fns {
		if _, exists := r.Functions[name]; exists {
			panic(fmt.Sprintf("dyld: duplicate host function registration for %q", name))
		}
		r.Functions[name] = fn
	}
}

// InstallConstants merges consts into the registry, with the same
// duplicate-name policy as InstallFunctions.
func (r *Registry) InstallConstants(consts map[string]mem.GuestUSize) {
	for name, addr := range consts {
		if _, exists := r.Constants[name]; exists {
			panic(fmt.Sprintf("dyld: duplicate host constant registration for %q", name))
		}
		r.Constants[name] = addr
	}
}

type lazyStubTable struct {
	base      mem.GuestUSize
	entrySize mem.GuestUSize
	symbols   []string
}

// Dyld resolves lazy and non-lazy symbol stubs against a Registry and
// maintains the monotonic SVC-number -> HostFunction table that SVC
// dispatch reads from.
type Dyld struct {
	registry *Registry

	svcTable  []any    // svc number -> host function; index 0 is unused (reserved for the lazy-resolve sentinel).
	svcByName map[string]uint32

	lazy    *lazyStubTable
	thunks  map[string]mem.GuestUSize // symbol name -> synthesized non-lazy call thunk, deduplicated.
	thunkAt mem.GuestUSize            // bump cursor into the thunk arena.

	onResolve func(svc uint32, name string) // optional trace hook.
}

// New builds a Dyld bound to registry.
func New(registry *Registry) *Dyld {
	return &Dyld{
		registry:  registry,
		svcTable:  make([]any, 1), // slot 0 reserved.
		svcByName: make(map[string]uint32),
		thunks:    make(map[string]mem.GuestUSize),
	}
}

// OnResolve installs a callback invoked every time a symbol receives a new
// SVC number, for trace/log output.
func (d *Dyld) OnResolve(fn func(svc uint32, name string)) {
	d.onResolve = fn
}

// allocateSVC returns the SVC number bound to name, assigning the next
// monotonically increasing number and recording fn on first use.
func (d *Dyld) allocateSVC(name string, fn any) uint32 {
	if svc, ok := d.svcByName[name]; ok {
		return svc
	}
	svc := uint32(len(d.svcTable))
	d.svcTable = append(d.svcTable, fn)
	d.svcByName[name] = svc
	if d.onResolve != nil {
		d.onResolve(svc, name)
	}
	return svc
}

func writeStub(m *mem.Mem, base mem.GuestUSize, svc uint32) {
	mem.Write(m, mem.FromBits[uint32, mem.MutTag](base+0), encodeA32SVC(svc))
	mem.Write(m, mem.FromBits[uint32, mem.MutTag](base+4), encodeA32Ret())
	mem.Write(m, mem.FromBits[uint32, mem.MutTag](base+8), encodeA32Trap())
}

// SetupLazyStubs rewrites every entry of a binary's __symbol_stub4
// section to trap into the lazy resolver, and records the section's
// layout and indirect symbol names for later resolution. entrySize must
// be 12, matching a real __symbol_stub4 section.
func (d *Dyld) SetupLazyStubs(m *mem.Mem, base mem.GuestUSize, entrySize mem.GuestUSize, symbols []string) {
	if entrySize != StubEntrySize {
		panic(fmt.Sprintf("dyld: unexpected __symbol_stub4 entry size %d", entrySize))
	}
	for i := range symbols {
		writeStub(m, base+mem.GuestUSize(i)*entrySize, lazyResolveSVC)
	}
	d.lazy = &lazyStubTable{base: base, entrySize: entrySize, symbols: symbols}
}

// SetupNonLazyPointers resolves every entry of a binary's
// __nl_symbol_ptr section immediately: function symbols get a
// synthesized SVC-trap thunk, data symbols get their registered host
// constant address, and anything unresolved is logged and left null.
// entrySize must be 4.
func (d *Dyld) SetupNonLazyPointers(m *mem.Mem, base mem.GuestUSize, entrySize mem.GuestUSize, symbols []string) []string {
	if entrySize != NLSymbolPtrEntrySize {
		panic(fmt.Sprintf("dyld: unexpected __nl_symbol_ptr entry size %d", entrySize))
	}
	var unresolved []string
	for i, raw := range symbols {
		name := stripSymbolVersion(raw)
		slot := mem.FromBits[uint32, mem.MutTag](base + mem.GuestUSize(i)*entrySize)

		if fn, ok := d.registry.Functions[name]; ok {
			mem.Write(m, slot, uint32(d.thunkFor(m, name, fn)))
			continue
		}
		if addr, ok := d.registry.Constants[name]; ok {
			mem.Write(m, slot, uint32(addr))
			continue
		}
		unresolved = append(unresolved, raw)
		mem.Write(m, slot, uint32(0))
	}
	return unresolved
}

// ThunkArenaSize is the size of the address range reserved by the
// environment for dyld's non-lazy call thunks. The environment reserves
// this range in Memory before any binary is loaded.
const ThunkArenaSize = 64 * 1024

func (d *Dyld) thunkFor(m *mem.Mem, name string, fn any) mem.GuestUSize {
	if addr, ok := d.thunks[name]; ok {
		return addr
	}
	svc := d.allocateSVC(name, fn)
	addr := d.thunkAt
	writeStub(m, addr, svc)
	d.thunkAt += StubEntrySize
	d.thunks[name] = addr
	return addr
}

// SetThunkArena tells Dyld where its non-lazy call thunks may be written;
// must be called once, before the first SetupNonLazyPointers, with a
// range the environment has reserved in Memory.
func (d *Dyld) SetThunkArena(base mem.GuestUSize) {
	d.thunkAt = base
}

// HandleSVC is the CPU's SVC hook entry point. imm 0 means "resolve the
// lazy stub this trap came from"; any other value is a direct dispatch to
// an already-resolved HostFunction. leading is forwarded to
// abi.CallFromGuest as-is (typically just the live *environment.Environment).
func (d *Dyld) HandleSVC(m *mem.Mem, c abi.CPU, trapAddr mem.GuestUSize, imm uint32, leading ...any) {
	if imm != lazyResolveSVC {
		fn := d.svcTable[imm]
		if fn == nil {
			panic(fmt.Sprintf("dyld: unexpected SVC #%d at %#x", imm, trapAddr))
		}
		abi.CallFromGuest(c, fn, 0, leading...)
		return
	}

	if d.lazy == nil {
		panic(fmt.Sprintf("dyld: lazy-resolve SVC at %#x with no lazy stub table installed", trapAddr))
	}
	if trapAddr < d.lazy.base {
		panic(fmt.Sprintf("dyld: SVC at %#x is outside the lazy stub range starting at %#x", trapAddr, d.lazy.base))
	}
	idx := (trapAddr - d.lazy.base) / d.lazy.entrySize
	if int(idx) >= len(d.lazy.symbols) {
		panic(fmt.Sprintf("dyld: SVC at %#x resolves to out-of-range stub index %d", trapAddr, idx))
	}
	name := stripSymbolVersion(d.lazy.symbols[idx])
	fn, ok := d.registry.Functions[name]
	if !ok {
		panic(fmt.Sprintf("dyld: no host function registered for symbol %q", name))
	}

	svc := d.allocateSVC(name, fn)
	// Fast path: patch this stub to call directly by SVC number from now
	// on, so every subsequent call skips the lazy-resolve branch entirely.
	writeStub(m, d.lazy.base+idx*d.lazy.entrySize, svc)

	abi.CallFromGuest(c, fn, 0, leading...)
}
