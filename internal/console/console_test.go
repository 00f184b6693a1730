package console

import (
	"testing"

	"github.com/hle-go/corehle/internal/dyld"
	"github.com/hle-go/corehle/internal/environment"
)

func newTestEnv(t *testing.T) *environment.Environment {
	t.Helper()
	reg := dyld.NewRegistry()
	env, err := environment.New(environment.DefaultOptions(), reg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return env
}

func TestEvalReadsMemory(t *testing.T) {
	env := newTestEnv(t)
	const addr = 0x9000
	if err := env.CPUv.WriteAt(addr, []byte{0x7b, 0, 0, 0}); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	c := New(env)
	out, err := c.Eval("mem.readU32(0x9000)")
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if out != "123" {
		t.Fatalf("got %q, want 123", out)
	}
}

func TestEvalReadsCString(t *testing.T) {
	env := newTestEnv(t)
	const addr = 0x9000
	if err := env.CPUv.WriteAt(addr, append([]byte("hi"), 0)); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	c := New(env)
	out, err := c.Eval("mem.readCString(0x9000)")
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if out != "hi" {
		t.Fatalf("got %q, want hi", out)
	}
}

func TestEvalListsObjCClasses(t *testing.T) {
	env := newTestEnv(t)
	env.ObjC.RegisterHostClass("NSObject", 0, nil, nil)

	c := New(env)
	out, err := c.Eval("objc.classes().length")
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if out != "1" {
		t.Fatalf("got %q, want 1", out)
	}
}

func TestEvalReportsPC(t *testing.T) {
	env := newTestEnv(t)
	env.CPUv.SetPC(0x4000)

	c := New(env)
	out, err := c.Eval("cpu.pc()")
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if out != "16384" {
		t.Fatalf("got %q, want 16384", out)
	}
}

func TestEvalPropagatesScriptErrors(t *testing.T) {
	env := newTestEnv(t)
	c := New(env)
	if _, err := c.Eval("this is not valid javascript {{{"); err == nil {
		t.Fatal("expected a parse error")
	}
}
