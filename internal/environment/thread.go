package environment

import (
	"fmt"

	"github.com/hle-go/corehle/internal/cpu"
	"github.com/hle-go/corehle/internal/mem"
)

// ThreadID names one logical guest thread. The main thread is always 1;
// secondary threads are assigned ascending IDs by pthread_create as they
// are spun up.
type ThreadID uint32

// MainThreadID is the thread every Environment starts executing on.
const MainThreadID ThreadID = 1

// threadState is the register file and stack bookkeeping for one logical
// thread. Only the currently scheduled thread's state actually lives in
// the CPU's real register file; every other thread's state sits here,
// saved at its last yield point.
type threadState struct {
	regs      [cpu.NumRegs]uint32
	stackBase mem.GuestUSize
	stackSize mem.GuestUSize
	alive     bool
	detached  bool
}

// ThreadTable implements a cooperative-scheduling thread table: one
// register file per logical thread, saved and restored on yield, with at
// most one thread ever actually running (there is no real concurrency
// here — "threads" share the single host goroutine executing the CPU,
// deliberately leaving real OS-level concurrency unimplemented).
type ThreadTable struct {
	mainStackSize      mem.GuestUSize
	secondaryStackSize mem.GuestUSize

	threads map[ThreadID]*threadState
	nextID  ThreadID
	current ThreadID
}

// NewThreadTable constructs an empty table. Secondary threads default to
// 512 KiB stacks, matching touchHLE's own default; CreateThread can be
// given an explicit size (pthread_attr_setstacksize) instead.
func NewThreadTable(mainStackSize mem.GuestUSize) *ThreadTable {
	return &ThreadTable{
		mainStackSize:      mainStackSize,
		secondaryStackSize: 512 << 10,
		threads:            make(map[ThreadID]*threadState),
		nextID:             MainThreadID,
	}
}

// CreateMainThread allocates and reserves the main thread's stack (which,
// unlike a secondary thread's, is reserved permanently rather than
// returned to the allocator when the thread exits — the process has
// nothing left to run once it does) and marks it current.
func (t *ThreadTable) CreateMainThread(m *mem.Mem) (ThreadID, mem.GuestUSize) {
	base := t.allocStack(m, t.mainStackSize)
	id := t.nextID
	t.nextID++
	t.threads[id] = &threadState{stackBase: base, stackSize: t.mainStackSize, alive: true}
	t.current = id
	return id, base + t.mainStackSize
}

// CreateThread allocates a fresh stack and thread ID for pthread_create.
// stackSize of zero uses the table's secondary-thread default. The new
// thread is not scheduled to run by this call alone — the caller (the
// pthread framework module) is responsible for seeding its register file
// with the requested entry point and initial SP before the scheduler
// ever switches to it.
func (t *ThreadTable) CreateThread(m *mem.Mem, stackSize mem.GuestUSize) (ThreadID, mem.GuestUSize) {
	if stackSize == 0 {
		stackSize = t.secondaryStackSize
	}
	base := t.allocStack(m, stackSize)
	id := t.nextID
	t.nextID++
	t.threads[id] = &threadState{stackBase: base, stackSize: stackSize, alive: true}
	return id, base + stackSize
}

func (t *ThreadTable) allocStack(m *mem.Mem, size mem.GuestUSize) mem.GuestUSize {
	ptr := mem.Alloc[byte](m, size)
	return ptr.ToBits()
}

// Current returns the ID of the thread currently scheduled onto the CPU.
func (t *ThreadTable) Current() ThreadID { return t.current }

// Save snapshots c's register file into thread id's saved state, for use
// right before switching away from it.
func (t *ThreadTable) Save(id ThreadID, c *cpu.CPU) {
	st, ok := t.threads[id]
	if !ok {
		panic(fmt.Sprintf("environment: saving unknown thread %d", id))
	}
	for i := 0; i < cpu.NumRegs; i++ {
		st.regs[i] = c.Reg(i)
	}
}

// Restore writes thread id's saved register file back into c and marks it
// current, for use right after switching control to it.
func (t *ThreadTable) Restore(id ThreadID, c *cpu.CPU) {
	st, ok := t.threads[id]
	if !ok {
		panic(fmt.Sprintf("environment: restoring unknown thread %d", id))
	}
	if !st.alive {
		panic(fmt.Sprintf("environment: restoring exited thread %d", id))
	}
	for i := 0; i < cpu.NumRegs; i++ {
		c.SetReg(i, st.regs[i])
	}
	t.current = id
}

// Exit marks id as no longer schedulable. Its stack is intentionally not
// freed here: a detached thread's stack is released by the pthread
// framework module once it has finished reading any final state
// (matching pthread_join's contract of returning a value out of a thread
// that has already "exited" in the logical sense).
func (t *ThreadTable) Exit(id ThreadID) {
	st, ok := t.threads[id]
	if !ok {
		panic(fmt.Sprintf("environment: exiting unknown thread %d", id))
	}
	st.alive = false
}

// Detach marks id as detached (pthread_detach), recorded for
// pthread_join/pthread_detach's mutual-exclusion contract: joining a
// detached thread is a guest bug.
func (t *ThreadTable) Detach(id ThreadID) {
	st, ok := t.threads[id]
	if !ok {
		panic(fmt.Sprintf("environment: detaching unknown thread %d", id))
	}
	st.detached = true
}

// IsDetached reports whether id has been detached.
func (t *ThreadTable) IsDetached(id ThreadID) bool {
	st, ok := t.threads[id]
	return ok && st.detached
}

// IsAlive reports whether id is still schedulable.
func (t *ThreadTable) IsAlive(id ThreadID) bool {
	st, ok := t.threads[id]
	return ok && st.alive
}

// FreeStack releases id's stack back to the allocator, for use once a
// thread has been joined or its detached resources reclaimed.
func (t *ThreadTable) FreeStack(m *mem.Mem, id ThreadID) {
	st, ok := t.threads[id]
	if !ok {
		panic(fmt.Sprintf("environment: freeing stack of unknown thread %d", id))
	}
	mem.Free(m, mem.FromBits[byte, mem.MutTag](st.stackBase))
}
