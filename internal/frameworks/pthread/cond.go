package pthread

import (
	"github.com/hle-go/corehle/internal/dyld"
	"github.com/hle-go/corehle/internal/environment"
	"github.com/hle-go/corehle/internal/mem"
)

func installCondFuncs(registry *dyld.Registry) {
	registry.InstallFunctions(map[string]any{
		"pthread_cond_init":      condOkFn,
		"pthread_cond_destroy":   condOkFn,
		"pthread_cond_signal":    condOkFn,
		"pthread_cond_broadcast": condOkFn,
		"pthread_cond_wait":      condWaitFn,
		"pthread_cond_timedwait": condTimedWaitFn,
	})
}

func condOkFn(_ *environment.Environment, _ mem.MutPtr[byte]) int32 { return 0 }

// condWaitFn returns immediately instead of actually blocking: with at
// most one logical thread ever running, a real wait would deadlock
// forever since nothing could ever reach the matching signal/broadcast
// call. Guest code that depends on the wait call actually blocking until
// signaled will behave differently here than on a real OS, but code that
// merely uses a condvar as a rendezvous point and polls its predicate in
// a loop around the wait call keeps working.
func condWaitFn(_ *environment.Environment, _ mem.MutPtr[byte], _ mem.MutPtr[byte]) int32 { return 0 }

func condTimedWaitFn(_ *environment.Environment, _ mem.MutPtr[byte], _ mem.MutPtr[byte], _ mem.ConstPtr[byte]) int32 {
	return 0
}
