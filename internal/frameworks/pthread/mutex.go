// Package pthread implements the POSIX threads surface touchHLE-era
// binaries link against: thread creation/join bookkeeping against
// internal/environment's real ThreadTable, and uncontended-only mutex/
// rwlock/spinlock/condvar primitives — correct as long as the guest never
// actually contends for a lock, which holds here because at most one
// logical thread ever executes at a time (the cooperative scheduling
// model internal/environment.ThreadTable implements).
//
// Same function set and the same "always succeeds, no real blocking"
// semantics as a stub pthread layer, reworked against internal/dyld's
// symbol-table registration and internal/environment's ThreadTable
// instead of address hooks and a fake incrementing counter.
package pthread

import (
	"github.com/hle-go/corehle/internal/dyld"
	"github.com/hle-go/corehle/internal/environment"
	"github.com/hle-go/corehle/internal/mem"
)

// Install registers every symbol this package implements into registry.
func Install(registry *dyld.Registry) {
	registry.InstallFunctions(map[string]any{
		"pthread_mutex_init":    mutexInitFn,
		"pthread_mutex_destroy": okFn,
		"pthread_mutex_lock":    okFn,
		"pthread_mutex_trylock": okFn,
		"pthread_mutex_unlock":  okFn,

		"pthread_rwlock_init":    okFn,
		"pthread_rwlock_destroy": okFn,
		"pthread_rwlock_rdlock":  okFn,
		"pthread_rwlock_wrlock":  okFn,
		"pthread_rwlock_unlock":  okFn,

		"pthread_spin_init":    okFn,
		"pthread_spin_destroy": okFn,
		"pthread_spin_lock":    okFn,
		"pthread_spin_unlock":  okFn,
	})
	installThreadFuncs(registry)
	installAttrFuncs(registry)
	installCondFuncs(registry)
	installTLSFuncs(registry)
}

// okFn is shared by every lock primitive that ignores its handle entirely
// and always reports success, since contention can never happen.
func okFn(_ *environment.Environment, _ mem.MutPtr[byte]) int32 { return 0 }

func mutexInitFn(_ *environment.Environment, _ mem.MutPtr[byte], _ mem.ConstPtr[byte]) int32 { return 0 }
