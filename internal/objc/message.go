package objc

import (
	"fmt"

	"github.com/hle-go/corehle/internal/abi"
	"github.com/hle-go/corehle/internal/mem"
)

// lookup walks the class chain starting at cls looking for sel, returning
// the IMP and true, or false once it falls off the root (superclass Nil).
// This linear dispatch-chain walk is the whole of method resolution here:
// no inline caches, no category overrides beyond whichever registration
// happened last.
func (o *ObjC) lookup(cls Class, sel SEL, wantClassMethod bool) (IMP, bool) {
	for cls != Nil {
		rec, ok := o.classes[cls]
		if !ok {
			return IMP{}, false
		}
		table := rec.methods
		if wantClassMethod {
			table = rec.classMethods
		}
		if imp, ok := table[sel]; ok {
			return imp, true
		}
		cls = rec.superclass
	}
	return IMP{}, false
}

// HasMethod reports whether cls or any of its superclasses implements
// sel, for use by property accessor synthesis (NSObject-style
// respondsToSelector: helpers).
func (o *ObjC) HasMethod(cls Class, sel SEL, wantClassMethod bool) bool {
	_, ok := o.lookup(cls, sel, wantClassMethod)
	return ok
}

// MsgSend is objc_msgSend: the receiver and selector have already been
// decoded (they live in r0/r1 per AAPCS32 and dyld's SVC trampoline reads
// them as plain registers before calling here). A nil receiver is a
// guaranteed no-op, matching Objective-C's nil-messaging contract.
//
// Dispatch to a guest IMP is a genuine tail call: the CPU's PC is set
// directly to the implementation's address and MsgSend returns without
// touching any other register, so whatever the real method puts in
// r0/r1 on return is exactly what the original caller sees — there is no
// intermediate "call and decode a return value" step to get in the way,
// mirroring the source's GuestRet-for-() trick at the dispatch level
// instead of the type level.
func (o *ObjC) MsgSend(cpu abi.CPU, env any, receiver ID, sel SEL) {
	if receiver == Nil {
		return
	}
	cls := o.ClassOf(receiver)
	imp, ok := o.lookup(cls, sel, o.isClassObject(receiver))
	if !ok {
		o.doesNotRecognizeSelector(env, receiver, sel)
	}
	o.dispatch(cpu, env, receiver, sel, imp)
}

// MsgSendSuper is objc_msgSendSuper: dispatch starts one class above
// searchFrom (the class lexically containing the call site, which a
// compiled guest binary already baked into its `objc_super` struct and
// which the calling framework code is responsible for resolving to a
// Class before calling in).
func (o *ObjC) MsgSendSuper(cpu abi.CPU, env any, receiver ID, searchFrom Class, sel SEL) {
	if receiver == Nil {
		return
	}
	rec, ok := o.classes[searchFrom]
	if !ok {
		panic(fmt.Sprintf("objc: super dispatch from unknown class %#x", searchFrom))
	}
	imp, ok := o.lookup(rec.superclass, sel, o.isClassObject(receiver))
	if !ok {
		o.doesNotRecognizeSelector(env, receiver, sel)
	}
	o.dispatch(cpu, env, receiver, sel, imp)
}

// sendSync invokes sel on receiver and runs it to completion before
// returning, unlike MsgSend's tail-call dispatch for a compiled call
// site. It's for messages this runtime originates itself rather than
// relays — Release's -dealloc send and copyVia's copyWithZone:/
// mutableCopyWithZone: send — both of which need the result (or just
// need to know it ran) before their caller's own work continues.
// extraArgs are appended after (receiver, sel) for a guest IMP, and
// loaded into the argument registers immediately following them for a
// host IMP's CallFromGuest decode step. Reports false if cls has no
// implementation of sel, same as a failed MsgSend lookup.
func (o *ObjC) sendSync(cpu abi.CPU, env abi.Caller, receiver ID, sel SEL, extraArgs ...mem.GuestUSize) (ID, bool) {
	cls := o.ClassOf(receiver)
	imp, ok := o.lookup(cls, sel, o.isClassObject(receiver))
	if !ok {
		return Nil, false
	}

	if imp.isGuest {
		args := make([]any, 0, 2+len(extraArgs))
		args = append(args, receiver, sel.addr)
		for _, a := range extraArgs {
			args = append(args, a)
		}
		return abi.Call[ID](env, imp.guest, args...), true
	}

	for i, a := range extraArgs {
		cpu.SetReg(2+i, a)
	}
	abi.CallFromGuest(cpu, imp.host, 2, env, receiver, sel)
	return ID(cpu.Reg(0)), true
}

func (o *ObjC) isClassObject(obj ID) bool {
	_, ok := o.classes[obj]
	return ok
}

func (o *ObjC) dispatch(cpu abi.CPU, env any, receiver ID, sel SEL, imp IMP) {
	if imp.isGuest {
		cpu.SetPC(imp.guest.AddrWithoutThumbBit())
		return
	}
	// Host IMPs receive (env, receiver, sel) as leading arguments that do
	// not come from registers, followed by however many real parameters
	// the method declares, decoded starting at r2 (receiver/sel already
	// consumed r0/r1).
	abi.CallFromGuest(cpu, imp.host, 2, env, receiver, sel)
}

func (o *ObjC) doesNotRecognizeSelector(env any, receiver ID, sel SEL) {
	cls := o.ClassOf(receiver)
	name := "<unknown class>"
	if rec, ok := o.classes[cls]; ok {
		name = rec.name
	}
	panic(fmt.Sprintf("objc: -[%s %s]: unrecognized selector sent to instance %#x", name, sel.Name(), receiver))
}
