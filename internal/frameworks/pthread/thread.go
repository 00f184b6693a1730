package pthread

import (
	"github.com/hle-go/corehle/internal/dyld"
	"github.com/hle-go/corehle/internal/environment"
	"github.com/hle-go/corehle/internal/log"
	"github.com/hle-go/corehle/internal/mem"
)

func installThreadFuncs(registry *dyld.Registry) {
	registry.InstallFunctions(map[string]any{
		"pthread_create":     pthreadCreateFn,
		"pthread_join":       pthreadJoinFn,
		"pthread_detach":     pthreadDetachFn,
		"pthread_equal":      pthreadEqualFn,
		"pthread_self":       pthreadSelfFn,
		"pthread_setname_np": pthreadSetNameFn,
		"pthread_getname_np": pthreadGetNameFn,
		"pthread_exit":       pthreadExitFn,
		"pthread_cancel":     pthreadCancelFn,
		"sched_yield":        schedYieldFn,
	})
}

// pthreadCreateFn allocates a stack and a thread ID through the real
// ThreadTable, same bookkeeping pthread_join/pthread_detach/pthread_self
// rely on elsewhere, but never actually runs startRoutine: this runtime's
// scheduler only ever has one thread live on
// the CPU at a time (environment.ThreadTable's doc comment), and there is
// no guest-side yield point a second thread could be cooperatively
// switched in at. A caller that spins up a worker thread purely to do
// background work it never joins on will see that work simply not
// happen, by design — real OS-level concurrency is out of scope.
func pthreadCreateFn(e *environment.Environment, threadOut mem.MutPtr[uint32], _ mem.ConstPtr[byte], _, _ mem.GuestUSize) int32 {
	id, _ := e.Threads().CreateThread(e.Mem, 0)
	if !threadOut.IsNull() {
		mem.Write(e.Mem, threadOut, uint32(id))
	}
	if log.L != nil {
		log.L.TraceSimple("pthread", "pthread_create", log.Hex(uint64(id)))
	}
	return 0
}

// pthreadJoinFn marks the target detached-or-not distinction aside: since
// pthreadCreateFn never actually ran the thread's body, there is nothing
// to wait for. The thread is simply marked exited and its stack
// reclaimed, and the output value pointer (if any) is set to 0, same as
// for a thread that returned NULL.
func pthreadJoinFn(e *environment.Environment, thread uint32, retval mem.MutPtr[uint32]) int32 {
	id := environment.ThreadID(thread)
	if e.Threads().IsAlive(id) {
		e.Threads().Exit(id)
		e.Threads().FreeStack(e.Mem, id)
	}
	if !retval.IsNull() {
		mem.Write(e.Mem, retval, uint32(0))
	}
	return 0
}

func pthreadDetachFn(e *environment.Environment, thread uint32) int32 {
	e.Threads().Detach(environment.ThreadID(thread))
	return 0
}

func pthreadEqualFn(_ *environment.Environment, a, b uint32) int32 {
	if a == b {
		return 1
	}
	return 0
}

func pthreadSelfFn(e *environment.Environment) uint32 {
	return uint32(e.CurrentThread())
}

// pthreadSetNameFn accepts and discards the name: nothing in this runtime
// surfaces thread names (no OS-level threads exist to name).
func pthreadSetNameFn(_ *environment.Environment, _ uint32, _ mem.ConstPtr[byte]) int32 { return 0 }

func pthreadGetNameFn(e *environment.Environment, _ uint32, nameOut mem.MutPtr[byte], size mem.GuestUSize) int32 {
	const name = "main"
	if nameOut.IsNull() || size == 0 {
		return 0
	}
	b := e.Mem.BytesAtMut(nameOut, size)
	n := copy(b, name)
	if mem.GuestUSize(n) < size {
		b[n] = 0
	}
	return 0
}

// pthreadExitFn is a no-op: the calling thread's guest stack frame simply
// unwinds back to the host — it never actually terminates anything
// because pthreadCreateFn never started a second thread running to
// begin with.
func pthreadExitFn(_ *environment.Environment, _ uint32) {}

func pthreadCancelFn(_ *environment.Environment, _ uint32) int32 { return 0 }

func schedYieldFn(_ *environment.Environment) int32 { return 0 }
