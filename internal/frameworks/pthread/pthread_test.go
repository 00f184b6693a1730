package pthread

import (
	"testing"

	"github.com/hle-go/corehle/internal/dyld"
	"github.com/hle-go/corehle/internal/environment"
	"github.com/hle-go/corehle/internal/mem"
)

func newTestEnv(t *testing.T) *environment.Environment {
	t.Helper()
	env, err := environment.New(environment.DefaultOptions(), dyld.NewRegistry())
	if err != nil {
		t.Fatalf("environment.New: %v", err)
	}
	return env
}

func TestPthreadCreateAssignsDistinctIDs(t *testing.T) {
	env := newTestEnv(t)
	out := mem.Alloc[uint32](env.Mem, 4)

	if rc := pthreadCreateFn(env, out, mem.ConstPtr[byte]{}, 0, 0); rc != 0 {
		t.Fatalf("pthread_create returned %d", rc)
	}
	first := mem.Read(env.Mem, mem.AsConst(out))

	if rc := pthreadCreateFn(env, out, mem.ConstPtr[byte]{}, 0, 0); rc != 0 {
		t.Fatalf("pthread_create returned %d", rc)
	}
	second := mem.Read(env.Mem, mem.AsConst(out))

	if first == second {
		t.Fatalf("expected distinct thread ids, got %d twice", first)
	}
	if first == uint32(environment.MainThreadID) || second == uint32(environment.MainThreadID) {
		t.Fatalf("a created thread must not reuse the main thread id")
	}
}

func TestPthreadJoinFreesStackAndMarksExited(t *testing.T) {
	env := newTestEnv(t)
	out := mem.Alloc[uint32](env.Mem, 4)
	pthreadCreateFn(env, out, mem.ConstPtr[byte]{}, 0, 0)
	id := environment.ThreadID(mem.Read(env.Mem, mem.AsConst(out)))

	if !env.Threads().IsAlive(id) {
		t.Fatalf("freshly created thread should be alive")
	}
	if rc := pthreadJoinFn(env, uint32(id), mem.MutPtr[uint32]{}); rc != 0 {
		t.Fatalf("pthread_join returned %d", rc)
	}
	if env.Threads().IsAlive(id) {
		t.Fatalf("joined thread should no longer be alive")
	}
}

func TestPthreadSelfReturnsMainThreadInitially(t *testing.T) {
	env := newTestEnv(t)
	if got := pthreadSelfFn(env); got != uint32(environment.MainThreadID) {
		t.Fatalf("pthread_self = %d, want %d", got, environment.MainThreadID)
	}
}

func TestPthreadEqual(t *testing.T) {
	env := newTestEnv(t)
	if pthreadEqualFn(env, 1, 1) != 1 {
		t.Fatalf("expected equal ids to compare equal")
	}
	if pthreadEqualFn(env, 1, 2) != 0 {
		t.Fatalf("expected distinct ids to compare unequal")
	}
}

func TestMutexAndRWLockAlwaysSucceed(t *testing.T) {
	env := newTestEnv(t)
	handle := mem.MutPtr[byte]{}
	for _, fn := range []func(*environment.Environment, mem.MutPtr[byte]) int32{okFn} {
		if rc := fn(env, handle); rc != 0 {
			t.Fatalf("expected uncontended lock op to succeed, got %d", rc)
		}
	}
	if rc := mutexInitFn(env, handle, mem.ConstPtr[byte]{}); rc != 0 {
		t.Fatalf("pthread_mutex_init returned %d", rc)
	}
}

func TestPthreadKeyCreateAndSpecific(t *testing.T) {
	env := newTestEnv(t)
	keyOut := mem.Alloc[uint32](env.Mem, 4)
	if rc := keyCreateFn(env, keyOut, 0); rc != 0 {
		t.Fatalf("pthread_key_create returned %d", rc)
	}
	key := mem.Read(env.Mem, mem.AsConst(keyOut))

	if rc := setSpecificFn(env, key, 0xdeadbeef); rc != 0 {
		t.Fatalf("pthread_setspecific returned %d", rc)
	}
	if got := getSpecificFn(env, key); got != 0xdeadbeef {
		t.Fatalf("pthread_getspecific = %#x, want 0xdeadbeef", got)
	}
}

func TestPthreadOnceFiresOnlyOnce(t *testing.T) {
	env := newTestEnv(t)
	ctrl := mem.Alloc[byte](env.Mem, 4)
	onceFn(env, ctrl, 0)
	if !tlsFor(env).onceFlags[ctrl.ToBits()] {
		t.Fatalf("expected once-control to be recorded as fired")
	}
}

func TestCondWaitReturnsImmediately(t *testing.T) {
	env := newTestEnv(t)
	if rc := condWaitFn(env, mem.MutPtr[byte]{}, mem.MutPtr[byte]{}); rc != 0 {
		t.Fatalf("pthread_cond_wait returned %d", rc)
	}
}
