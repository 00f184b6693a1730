package pthread

import (
	"github.com/hle-go/corehle/internal/dyld"
	"github.com/hle-go/corehle/internal/environment"
	"github.com/hle-go/corehle/internal/mem"
)

const pthreadCreateJoinable = 0

func installAttrFuncs(registry *dyld.Registry) {
	registry.InstallFunctions(map[string]any{
		"pthread_attr_init":           attrOkFn,
		"pthread_attr_destroy":        attrOkFn,
		"pthread_attr_setstacksize":   attrSetStackSizeFn,
		"pthread_attr_getstacksize":   attrGetStackSizeFn,
		"pthread_attr_setdetachstate": attrOkFn2,
		"pthread_attr_getdetachstate": attrGetDetachStateFn,
		"pthread_attr_setschedparam":  attrOkFn2,
		"pthread_attr_getschedparam":  attrOkFn2,

		"pthread_mutexattr_init":    attrOkFn,
		"pthread_mutexattr_destroy": attrOkFn,
		"pthread_mutexattr_settype": attrOkFn2,

		"pthread_condattr_init":    attrOkFn,
		"pthread_condattr_destroy": attrOkFn,
	})
}

func attrOkFn(_ *environment.Environment, _ mem.MutPtr[byte]) int32 { return 0 }

func attrOkFn2(_ *environment.Environment, _ mem.MutPtr[byte], _ uint32) int32 { return 0 }

func attrSetStackSizeFn(_ *environment.Environment, _ mem.MutPtr[byte], _ mem.GuestUSize) int32 { return 0 }

// attrGetStackSizeFn reports the runtime's actual secondary-thread stack
// size (environment.Options.SecondaryThreadStackSize via the thread
// table's default) rather than a hardcoded constant, since that value is
// what pthread_create in this package will really reserve.
func attrGetStackSizeFn(e *environment.Environment, _ mem.MutPtr[byte], sizeOut mem.MutPtr[mem.GuestUSize]) int32 {
	if !sizeOut.IsNull() {
		mem.Write(e.Mem, sizeOut, e.Options.SecondaryThreadStackSize)
	}
	return 0
}

func attrGetDetachStateFn(e *environment.Environment, _ mem.MutPtr[byte], stateOut mem.MutPtr[uint32]) int32 {
	if !stateOut.IsNull() {
		mem.Write(e.Mem, stateOut, uint32(pthreadCreateJoinable))
	}
	return 0
}
