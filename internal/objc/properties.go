package objc

import (
	"fmt"

	"github.com/hle-go/corehle/internal/abi"
	"github.com/hle-go/corehle/internal/mem"
)

// CopyBehavior selects how objc_setProperty should take ownership of the
// incoming value, mirroring the atomic getter/setter's should_copy
// encoding in a compiled accessor.
type CopyBehavior int

const (
	// CopyRetain just retains the new value (a plain "strong" property).
	CopyRetain CopyBehavior = 0
	// CopyWithZone sends copyWithZone: to obtain an owned copy.
	CopyWithZone CopyBehavior = 1
	// CopyMutableWithZone sends mutableCopyWithZone: for a "copy"
	// property declared as a mutable collection type.
	CopyMutableWithZone CopyBehavior = 2
)

// getIvar and setIvar back a host-handle instance's synthesized ivar
// storage: a (ivar offset -> value) side table per object, rather than
// real address arithmetic on obj. NewInstance hands out opaque ascending
// handles (see allocHandle), not addresses into Memory, so "this plus an
// offset" is never a valid guest address to read or write through — these
// give objc_setProperty's accessors somewhere real to keep the ivar
// without pretending otherwise.
func (o *ObjC) getIvar(obj ID, offset mem.GuestUSize) ID {
	return o.ivars[obj][offset]
}

func (o *ObjC) setIvar(obj ID, offset mem.GuestUSize, value ID) {
	slots, ok := o.ivars[obj]
	if !ok {
		slots = make(map[mem.GuestUSize]ID)
		o.ivars[obj] = slots
	}
	slots[offset] = value
}

// SetProperty implements objc_setProperty: read the ivar at offset,
// take ownership of value per behavior, store it, and release whatever
// was there before.
//
// atomic properties are not supported — the source itself asserts this
// (atomic getter/setter synthesis requires a lock the core does not
// model) — so atomic must be false.
func (o *ObjC) SetProperty(cpu abi.CPU, env abi.Caller, this ID, ivarOffset mem.GuestUSize, value ID, atomic bool, behavior CopyBehavior) {
	if ivarOffset < 4 {
		panic("objc: objc_setProperty ivar offset must be past the isa pointer")
	}
	if atomic {
		panic("objc: atomic property synthesis is not implemented")
	}

	old := o.getIvar(this, ivarOffset)

	var owned ID
	switch behavior {
	case CopyRetain:
		owned = o.Retain(value)
	case CopyWithZone:
		owned = o.copyVia(cpu, env, value, "copyWithZone:")
	case CopyMutableWithZone:
		owned = o.copyVia(cpu, env, value, "mutableCopyWithZone:")
	default:
		panic(fmt.Sprintf("objc: unknown objc_setProperty copy behavior %d", behavior))
	}

	o.setIvar(this, ivarOffset, owned)
	if old != Nil {
		o.Release(cpu, env, old)
	}
}

// copyVia implements a "copy" property's ownership step: send selector
// (copyWithZone: or mutableCopyWithZone:) to value with a NULL zone,
// exactly as a compiled ARC/MRC accessor does (NSZone has been vestigial
// since real Objective-C runtimes stopped doing per-zone allocation, so a
// synthesized accessor always passes nil). Panics via
// doesNotRecognizeSelector if value's class has no such method, same as
// any other unimplemented message send.
func (o *ObjC) copyVia(cpu abi.CPU, env abi.Caller, value ID, selector string) ID {
	if value == Nil {
		return Nil
	}
	sel := o.Intern(selector)
	result, ok := o.sendSync(cpu, env, value, sel, 0)
	if !ok {
		o.doesNotRecognizeSelector(env, value, sel)
	}
	return result
}

// CopyStruct implements objc_copyStruct: a plain memmove of size bytes
// from src to dest. atomic/hasStrong are accepted for signature
// compatibility with the real function but are not enforced — the source
// itself does not enforce them either, beyond accepting the parameters.
func CopyStruct(m *mem.Mem, dest mem.MutPtr[byte], src mem.ConstPtr[byte], size mem.GuestUSize, atomic, hasStrong bool) {
	mem.Memmove(m, dest, src, size)
}
