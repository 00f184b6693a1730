// Package cpu wraps the Unicorn CPU emulation engine configured for
// 32-bit ARM (AAPCS32), treated as an external collaborator rather than
// something the core implements. The same wrapper shape — register
// accessors, code hooks, run/stop — as an ARM64/AAPCS64 wrapper for an
// Android target, retargeted at ARM/MODE_ARM and AAPCS32's r0-r3/sp/lr/
// pc/cpsr register set.
package cpu

import (
	"fmt"
	"unsafe"

	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"
)

// Register indices into the AAPCS32 general-purpose register file, R0-R12
// plus the three banked names the ABI cares about.
const (
	R0 = iota
	R1
	R2
	R3
	R4
	R5
	R6
	R7
	R8
	R9
	R10
	R11
	R12
	SP
	LR
	PC
	NumRegs
)

var ucRegIDs = [NumRegs]int{
	uc.ARM_REG_R0, uc.ARM_REG_R1, uc.ARM_REG_R2, uc.ARM_REG_R3,
	uc.ARM_REG_R4, uc.ARM_REG_R5, uc.ARM_REG_R6, uc.ARM_REG_R7,
	uc.ARM_REG_R8, uc.ARM_REG_R9, uc.ARM_REG_R10, uc.ARM_REG_R11,
	uc.ARM_REG_R12, uc.ARM_REG_SP, uc.ARM_REG_LR, uc.ARM_REG_PC,
}

// CPU wraps a Unicorn engine instance configured for ARM/MODE_ARM, the
// AAPCS32 32-bit ARM calling convention this runtime targets.
type CPU struct {
	eng      uc.Unicorn
	running  bool
	stopAddr uint32
	hasStop  bool
}

// New opens a Unicorn engine instance for 32-bit ARM.
func New() (*CPU, error) {
	eng, err := uc.NewUnicorn(uc.ARCH_ARM, uc.MODE_ARM)
	if err != nil {
		return nil, fmt.Errorf("cpu: failed to open engine: %w", err)
	}
	return &CPU{eng: eng}, nil
}

// Close releases the underlying engine.
func (c *CPU) Close() error {
	return c.eng.Close()
}

// MapMemory maps backing directly into the engine's address space starting
// at base, via MemMapPtr rather than a fresh Unicorn-owned allocation: the
// caller (internal/environment) passes internal/mem's own 4 GiB slice, so
// every load/store the CPU executes lands on the exact same bytes
// mem.Read/mem.Write see, instead of two independent copies of guest
// memory that would silently drift apart.
func (c *CPU) MapMemory(base uint64, backing []byte) error {
	if len(backing) == 0 {
		return fmt.Errorf("cpu: MapMemory called with an empty backing slice")
	}
	return c.eng.MemMapPtr(base, uint64(len(backing)), uc.PROT_ALL, unsafe.Pointer(&backing[0]))
}

// WriteAt copies data into guest-addressable memory starting at base.
func (c *CPU) WriteAt(base uint64, data []byte) error {
	return c.eng.MemWrite(base, data)
}

// ReadAt copies size bytes of guest-addressable memory starting at base.
func (c *CPU) ReadAt(base uint64, size int) ([]byte, error) {
	return c.eng.MemRead(base, uint64(size))
}

// Reg reads register n (one of the named constants above, or any raw
// index < NumRegs).
func (c *CPU) Reg(n int) uint32 {
	v, err := c.eng.RegRead(ucRegIDs[n])
	if err != nil {
		panic(fmt.Sprintf("cpu: register read failed: %v", err))
	}
	return uint32(v)
}

// SetReg writes register n.
func (c *CPU) SetReg(n int, v uint32) {
	if err := c.eng.RegWrite(ucRegIDs[n], uint64(v)); err != nil {
		panic(fmt.Sprintf("cpu: register write failed: %v", err))
	}
}

// PC returns the program counter.
func (c *CPU) PC() uint32 { return c.Reg(PC) }

// SetPC sets the program counter. The Thumb bit in the target address
// switches Unicorn's instruction-set mode for the next fetch, matching
// real AAPCS32 interworking branches.
func (c *CPU) SetPC(addr uint32) {
	c.SetReg(PC, addr)
}

// SP returns the stack pointer.
func (c *CPU) SP() uint32 { return c.Reg(SP) }

// SetSP sets the stack pointer.
func (c *CPU) SetSP(addr uint32) { c.SetReg(SP, addr) }

// LR returns the link register.
func (c *CPU) LR() uint32 { return c.Reg(LR) }

// SetLR sets the link register.
func (c *CPU) SetLR(addr uint32) { c.SetReg(LR, addr) }

// Thumb reports whether the CPU is currently decoding Thumb (T32)
// instructions rather than ARM (A32) ones, per CPSR bit 5 — the
// instruction-set state a disassembler needs alongside PC to know how to
// read the bytes at it.
func (c *CPU) Thumb() bool {
	v, err := c.eng.RegRead(uc.ARM_REG_CPSR)
	if err != nil {
		panic(fmt.Sprintf("cpu: CPSR read failed: %v", err))
	}
	return v&0x20 != 0
}

// HookSVC installs a callback invoked whenever the guest executes an SVC
// (supervisor call) instruction, receiving the immediate operand encoded
// in it. Dyld uses this as its sole entry point for resolved lazy/direct
// stub dispatch.
func (c *CPU) HookSVC(fn func(imm uint32)) error {
	_, err := c.eng.HookAdd(uc.HOOK_INTR, func(_ uc.Unicorn, intno uint32) {
		if intno != 2 { // EXCP_SWI on the ARM backend.
			return
		}
		pc := c.PC()
		instr, rerr := c.ReadAt(uint64(pc)-4, 4)
		if rerr != nil || len(instr) != 4 {
			fn(0)
			return
		}
		word := uint32(instr[0]) | uint32(instr[1])<<8 | uint32(instr[2])<<16 | uint32(instr[3])<<24
		fn(word &^ 0xff000000)
	}, 1, 0)
	return err
}

// HookCode installs a callback invoked before every instruction the guest
// executes, receiving its address and encoded size. It returns an unhook
// function the caller must invoke once it's done observing — an
// instruction trace is strictly an observer's concern (internal/tui,
// a verbose CLI run) and must never be left installed once nothing is
// listening, since every hooked instruction pays for a host callback.
func (c *CPU) HookCode(fn func(addr uint32, size uint32)) (func(), error) {
	handle, err := c.eng.HookAdd(uc.HOOK_CODE, func(_ uc.Unicorn, addr uint64, size uint32) {
		fn(uint32(addr), size)
	}, 1, 0)
	if err != nil {
		return nil, err
	}
	return func() { c.eng.HookDel(handle) }, nil
}

// RunUntilStop runs from the current program counter until it equals
// stopAddr (the Dyld return-to-host sentinel) or an error occurs. The
// caller — internal/abi's Call, or Environment.RunCall — is responsible
// for having already set PC/LR to the entry point it wants; RunUntilStop
// never resets them itself, so recursive calls (guest calling host
// calling guest) each get their own frame on Go's native call stack
// rather than clobbering an outer call's saved state.
func (c *CPU) RunUntilStop(stopAddr uint32) error {
	// Unicorn's Start takes an explicit end address; 0 means "run until
	// Stop is called", so we drive it ourselves via a code hook that
	// checks PC against the sentinel on every instruction, matching the
	// teacher's RunFrom/Stop pattern.
	hookHandle, err := c.eng.HookAdd(uc.HOOK_CODE, func(_ uc.Unicorn, addr uint64, _ uint32) {
		if uint32(addr) == stopAddr {
			_ = c.eng.Stop()
		}
	}, 1, 0)
	if err != nil {
		return err
	}
	defer c.eng.HookDel(hookHandle)

	return c.eng.Start(uint64(c.PC()), 0)
}
