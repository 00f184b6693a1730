package environment

import (
	"testing"

	"github.com/hle-go/corehle/internal/abi"
	"github.com/hle-go/corehle/internal/dyld"
	"github.com/hle-go/corehle/internal/mem"
)

func newTestEnv(t *testing.T) *Environment {
	t.Helper()
	reg := dyld.NewRegistry()
	opts := DefaultOptions()
	env, err := New(opts, reg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return env
}

func TestNewReservesNullSegmentAndMainStack(t *testing.T) {
	env := newTestEnv(t)

	// The null page must still reject access after construction.
	defer func() {
		if recover() == nil {
			t.Fatal("expected a null-page access to panic")
		}
	}()
	mem.Read(env.Mem, mem.FromBits[byte, mem.ConstTag](0))
}

func TestMainThreadStackPointerIsSetAndWithinBounds(t *testing.T) {
	env := newTestEnv(t)
	sp := env.CPUv.SP()
	if sp == 0 {
		t.Fatal("expected a non-zero initial stack pointer")
	}
	if mem.GuestUSize(sp) < env.Options.NullSegmentSize {
		t.Fatalf("stack pointer %#x falls inside the null-page guard", sp)
	}
}

// TestRunCallHostToGuestToHost exercises the re-entrance path: a host
// function is invoked via dyld's SVC dispatch, and that host function
// turns around and calls back into a tiny guest function via
// CallGuestFunction before returning. Both calls must restore the
// caller's PC/LR as abi.Call documents.
func TestRunCallHostToGuestToHost(t *testing.T) {
	reg := dyld.NewRegistry()

	const guestFnAddr = 0x9000
	var sawCallback bool
	reg.InstallFunctions(map[string]any{
		"host_entry": func(e *Environment) abi.VoidReturn {
			f := abi.GuestFunctionFromAddrAndThumbFlag(guestFnAddr, false)
			CallGuestFunction[abi.VoidReturn](e, f)
			sawCallback = true
			return abi.VoidReturn{}
		},
	})

	opts := DefaultOptions()
	env, err := New(opts, reg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// BX LR so the guest callback returns immediately to the sentinel.
	const bxLR = 0xe12fff1e
	code := []byte{
		byte(bxLR), byte(bxLR >> 8), byte(bxLR >> 16), byte(bxLR >> 24),
	}
	if err := env.CPUv.WriteAt(guestFnAddr, code); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	fn := reg.Functions["host_entry"]
	abi.CallFromGuest(env.CPUv, fn, 0, env)

	if !sawCallback {
		t.Fatal("expected the host function's guest callback to run")
	}
}
