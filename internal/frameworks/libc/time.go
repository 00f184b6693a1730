package libc

import (
	"github.com/hle-go/corehle/internal/dyld"
	"github.com/hle-go/corehle/internal/environment"
	"github.com/hle-go/corehle/internal/mem"
)

// InstallTime registers the mocked time family separately from Install so
// a caller that wants deterministic timestamps (tests, a fuzzer replay)
// can install it without the rest of libc, and vice versa.
func InstallTime(registry *dyld.Registry) {
	registry.InstallFunctions(map[string]any{
		"gettimeofday": gettimeofdayFn,
		"clock_gettime": clockGettimeFn,
		"time": timeFn,
	})
}

// MockSeconds is the fixed clock every timestamp function reports
// (2024-01-01 00:00:00 UTC), a deterministic-for-tests constant. A real
// platform clock would make traces non-reproducible across runs, which
// this runtime's whole point —
// byte-for-byte comparable emulation — depends on not happening.
var MockSeconds int32 = 1704067200

type timeval struct {
	Sec  int32
	USec int32
}

type timespec struct {
	Sec  int32
	NSec int32
}

func gettimeofdayFn(e *environment.Environment, tv mem.MutPtr[timeval], _ mem.MutPtr[byte]) int32 {
	if !tv.IsNull() {
		mem.Write(e.Mem, tv, timeval{Sec: MockSeconds})
	}
	return 0
}

func clockGettimeFn(e *environment.Environment, _ int32, tp mem.MutPtr[timespec]) int32 {
	if !tp.IsNull() {
		mem.Write(e.Mem, tp, timespec{Sec: MockSeconds})
	}
	return 0
}

func timeFn(e *environment.Environment, tloc mem.MutPtr[int32]) int32 {
	if !tloc.IsNull() {
		mem.Write(e.Mem, tloc, MockSeconds)
	}
	return MockSeconds
}
