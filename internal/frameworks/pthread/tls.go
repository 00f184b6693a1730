package pthread

import (
	"github.com/hle-go/corehle/internal/dyld"
	"github.com/hle-go/corehle/internal/environment"
	"github.com/hle-go/corehle/internal/mem"
)

// tlsState is keyed per-Environment since pthread framework functions take
// no receiver and the same process-wide map would otherwise leak across
// independent Environment instances (e.g. two tests running in the same
// binary).
type tlsState struct {
	nextKey   uint32
	values    map[uint32]map[uint32]mem.GuestUSize // key -> thread -> value
	onceFlags map[mem.GuestUSize]bool
}

var tlsByEnv = map[*environment.Environment]*tlsState{}

func tlsFor(e *environment.Environment) *tlsState {
	s, ok := tlsByEnv[e]
	if !ok {
		s = &tlsState{nextKey: 1, values: map[uint32]map[uint32]mem.GuestUSize{}, onceFlags: map[mem.GuestUSize]bool{}}
		tlsByEnv[e] = s
	}
	return s
}

func installTLSFuncs(registry *dyld.Registry) {
	registry.InstallFunctions(map[string]any{
		"pthread_key_create":  keyCreateFn,
		"pthread_key_delete":  keyDeleteFn,
		"pthread_setspecific": setSpecificFn,
		"pthread_getspecific": getSpecificFn,
		"pthread_once":        onceFn,
	})
}

func keyCreateFn(e *environment.Environment, keyOut mem.MutPtr[uint32], _ mem.GuestUSize) int32 {
	s := tlsFor(e)
	key := s.nextKey
	s.nextKey++
	s.values[key] = map[uint32]mem.GuestUSize{}
	if !keyOut.IsNull() {
		mem.Write(e.Mem, keyOut, key)
	}
	return 0
}

func keyDeleteFn(e *environment.Environment, key uint32) int32 {
	delete(tlsFor(e).values, key)
	return 0
}

func setSpecificFn(e *environment.Environment, key uint32, value mem.GuestUSize) int32 {
	s := tlsFor(e)
	slot, ok := s.values[key]
	if !ok {
		return 0
	}
	slot[uint32(e.CurrentThread())] = value
	return 0
}

func getSpecificFn(e *environment.Environment, key uint32) mem.GuestUSize {
	s := tlsFor(e)
	slot, ok := s.values[key]
	if !ok {
		return 0
	}
	return slot[uint32(e.CurrentThread())]
}

// onceFn records which once-control values have already fired but never
// actually invokes the guest init routine pointer it is handed: doing so
// would need to go through
// environment.CallGuestFunction re-entrantly from inside a host function
// already running on behalf of the same call, which this runtime's ABI
// layer does not support invoking recursively from an arbitrary pthread
// call site. Guest code that relies on pthread_once for lazily
// initializing state it reads immediately afterward will see that state
// uninitialized.
func onceFn(e *environment.Environment, onceControl mem.MutPtr[byte], _ mem.GuestUSize) int32 {
	s := tlsFor(e)
	addr := onceControl.ToBits()
	if s.onceFlags[addr] {
		return 0
	}
	s.onceFlags[addr] = true
	return 0
}
