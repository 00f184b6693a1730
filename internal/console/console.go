// Package console embeds a JavaScript scripting console (via goja) for
// driving a paused Environment interactively: reading guest memory,
// walking the Objective-C class list, and invoking a guest function by
// address. A scriptable debugger for a human operator is fair game even
// though an automated debugger-as-a-service is out of scope — see
// DESIGN.md.
//
// Where a fixed trace/inspection surface might otherwise be built
// directly into main(), this package gives the same kind of ad-hoc
// inspection a real scripting surface instead, the way goja is used in
// the wider Go ecosystem to expose a host API to guest scripts.
package console

import (
	"fmt"

	"github.com/dop251/goja"

	"github.com/hle-go/corehle/internal/abi"
	"github.com/hle-go/corehle/internal/environment"
	"github.com/hle-go/corehle/internal/mem"
)

// Console wraps a goja.Runtime bound to one live Environment. Every
// binding it installs reads or calls through to that Environment; there
// is no independent state here.
type Console struct {
	rt  *goja.Runtime
	env *environment.Environment
}

// New builds a Console bound to env and installs its "mem", "objc", and
// "cpu" host objects.
func New(env *environment.Environment) *Console {
	c := &Console{rt: goja.New(), env: env}
	c.install()
	return c
}

// Eval runs src as a JavaScript program and returns its result formatted
// as a string (goja's own %v-ish export), or an error if the script threw
// or failed to parse.
func (c *Console) Eval(src string) (string, error) {
	v, err := c.rt.RunString(src)
	if err != nil {
		return "", err
	}
	if v == nil || goja.IsUndefined(v) {
		return "", nil
	}
	return fmt.Sprintf("%v", v.Export()), nil
}

func (c *Console) install() {
	must := func(err error) {
		if err != nil {
			panic(fmt.Sprintf("console: installing host bindings: %v", err))
		}
	}

	memObj := c.rt.NewObject()
	must(memObj.Set("readU8", c.memReadU8))
	must(memObj.Set("readU32", c.memReadU32))
	must(memObj.Set("readCString", c.memReadCString))
	must(memObj.Set("bytes", c.memBytes))
	must(c.rt.Set("mem", memObj))

	objcObj := c.rt.NewObject()
	must(objcObj.Set("classes", c.objcClasses))
	must(objcObj.Set("superclass", c.objcSuperclass))
	must(c.rt.Set("objc", objcObj))

	cpuObj := c.rt.NewObject()
	must(cpuObj.Set("reg", c.cpuReg))
	must(cpuObj.Set("pc", c.cpuPC))
	must(cpuObj.Set("sp", c.cpuSP))
	must(c.rt.Set("cpu", cpuObj))

	guestObj := c.rt.NewObject()
	must(guestObj.Set("call", c.guestCall))
	must(c.rt.Set("guest", guestObj))
}

func (c *Console) memReadU8(addr uint32) uint8 {
	return mem.Read(c.env.Mem, mem.FromBits[uint8, mem.ConstTag](mem.GuestUSize(addr)))
}

func (c *Console) memReadU32(addr uint32) uint32 {
	return mem.Read(c.env.Mem, mem.FromBits[uint32, mem.ConstTag](mem.GuestUSize(addr)))
}

func (c *Console) memReadCString(addr uint32) string {
	return mem.CStrAtUTF8(c.env.Mem, mem.FromBits[byte, mem.ConstTag](mem.GuestUSize(addr)))
}

// memBytes returns up to size bytes starting at addr as a slice of ints,
// goja's default marshalling for a JS array of numbers.
func (c *Console) memBytes(addr uint32, size uint32) []int {
	ptr := mem.FromBits[byte, mem.ConstTag](mem.GuestUSize(addr))
	raw := c.env.Mem.BytesAt(ptr, mem.GuestUSize(size))
	out := make([]int, len(raw))
	for i, b := range raw {
		out[i] = int(b)
	}
	return out
}

func (c *Console) objcClasses() []string {
	return c.env.ObjC.ClassNames()
}

func (c *Console) objcSuperclass(name string) string {
	cls, ok := c.env.ObjC.ClassNamed(name)
	if !ok {
		return ""
	}
	super := c.env.ObjC.SuperclassOf(cls)
	for n, id := range classNameIndex(c.env) {
		if id == super {
			return n
		}
	}
	return ""
}

func classNameIndex(env *environment.Environment) map[string]mem.GuestUSize {
	out := make(map[string]mem.GuestUSize)
	for _, name := range env.ObjC.ClassNames() {
		if cls, ok := env.ObjC.ClassNamed(name); ok {
			out[name] = cls
		}
	}
	return out
}

func (c *Console) cpuReg(n int) uint32 { return c.env.CPUv.Reg(n) }
func (c *Console) cpuPC() uint32       { return c.env.CPUv.PC() }
func (c *Console) cpuSP() uint32       { return c.env.CPUv.SP() }

// guestCall invokes the guest function at addr with no arguments and
// discards any return value — enough to trigger a constructor or
// notification handler from the console without needing a fully typed
// call signature for every function a script might want to poke.
func (c *Console) guestCall(addr uint32) {
	fn := abi.GuestFunctionFromAddrWithThumbBit(addr)
	environment.CallGuestFunction[abi.VoidReturn](c.env, fn)
}
