// Package environment ties Memory, the CPU, Dyld, and the Objective-C
// runtime together into the single mutable root the rest of this module
// revolves around, and drives the cooperative main loop that lets guest
// code, host functions, and re-entrant guest callbacks all share one
// native call stack.
package environment

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/hle-go/corehle/internal/abi"
	"github.com/hle-go/corehle/internal/cpu"
	"github.com/hle-go/corehle/internal/dyld"
	"github.com/hle-go/corehle/internal/log"
	"github.com/hle-go/corehle/internal/mem"
	"github.com/hle-go/corehle/internal/objc"
)

// returnToHostAddr is the sentinel program counter value that marks "this
// call frame is done, return control to the host." It is the last word
// of the 32-bit address space, away from the loaded image and the
// allocator's chunks, so guest code has no legitimate reason to branch
// there — any genuine attempt to execute at this address is itself a
// bug, not just a completed call.
const returnToHostAddr mem.GuestUSize = 0xfffffffc

// Environment is the emulator's single mutable root: exactly one exists
// per running guest program, and every Ptr, ID, and SEL produced by this
// module is only meaningful relative to the Environment that produced it.
// The concurrency model is cooperative and single-threaded: there is no
// lock here because there is never more than one goroutine touching an
// Environment at a time.
type Environment struct {
	SessionID uuid.UUID
	Options   Options

	Mem  *mem.Mem
	CPUv *cpu.CPU
	Dyld *dyld.Dyld
	ObjC *objc.ObjC

	threads *ThreadTable
}

// New constructs a fresh Environment: maps guest memory, opens the CPU,
// and wires the Dyld/ObjC registries together, but does not load or run
// any guest code yet — that's LoadBinary/Run's job once a binary has been
// parsed by internal/macho.
func New(opts Options, registry *dyld.Registry) (*Environment, error) {
	m := mem.New()
	m.SetNullSegmentSize(opts.NullSegmentSize)

	c, err := cpu.New()
	if err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}

	if err := c.MapMemory(0, m.RawBytes()); err != nil {
		return nil, fmt.Errorf("environment: failed to map guest address space into the CPU: %w", err)
	}

	registerObjCRuntime(registry)

	d := dyld.New(registry)
	d.OnResolve(func(svc uint32, name string) {
		if log.L != nil {
			log.L.StubInstall("dyld", name, uint64(svc), "svc")
		}
	})
	d.SetThunkArena(opts.ThunkArenaBase)
	m.Reserve(opts.ThunkArenaBase, dyld.ThunkArenaSize)

	env := &Environment{
		SessionID: uuid.New(),
		Options:   opts,
		Mem:       m,
		CPUv:      c,
		Dyld:      d,
		ObjC:      objc.New(m),
		threads:   NewThreadTable(opts.MainThreadStackSize),
	}
	if opts.SecondaryThreadStackSize != 0 {
		env.threads.secondaryStackSize = opts.SecondaryThreadStackSize
	}

	_, initialSP := env.threads.CreateMainThread(m)
	c.SetSP(uint32(initialSP))

	if err := c.HookSVC(func(imm uint32) {
		env.handleSVC(imm)
	}); err != nil {
		return nil, fmt.Errorf("environment: failed to install SVC hook: %w", err)
	}

	return env, nil
}

// CurrentThread returns the ID of the thread currently scheduled onto the
// CPU.
func (e *Environment) CurrentThread() ThreadID { return e.threads.Current() }

// Threads exposes the thread table for framework modules (pthread) that
// need to create, join, or switch between logical threads.
func (e *Environment) Threads() *ThreadTable { return e.threads }

// CPU satisfies abi.Caller, exposing the CPU through the narrow interface
// internal/abi needs without that package importing internal/cpu.
func (e *Environment) CPU() abi.CPU { return e.CPUv }

// ReturnToHostAddr satisfies abi.Caller.
func (e *Environment) ReturnToHostAddr() mem.GuestUSize { return returnToHostAddr }

// RunCall drives the CPU from its current PC until it reaches the
// return-to-host sentinel. abi.Call sets PC/LR before invoking this; this
// method never touches them itself, which is what makes nested host ->
// guest -> host re-entrance safe (each nesting level owns its own Go call
// stack frame here rather than a shared guest-memory saved-registers
// area).
func (e *Environment) RunCall() {
	if err := e.CPUv.RunUntilStop(uint32(returnToHostAddr)); err != nil {
		panic(fmt.Sprintf("environment: CPU execution failed: %v", err))
	}
}

func (e *Environment) handleSVC(imm uint32) {
	trapAddr := mem.GuestUSize(e.CPUv.PC()) - 4
	e.Dyld.HandleSVC(e.Mem, e.CPUv, trapAddr, imm, e)
}

// CallGuestFunction is the host-initiated entry point for invoking guest
// code (a callback pointer handed to a host API, a guest main()), wrapping
// abi.Call with this Environment as the Caller.
func CallGuestFunction[R any](e *Environment, f abi.GuestFunction, args ...any) R {
	return abi.Call[R](e, f, args...)
}
