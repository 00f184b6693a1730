package environment

import (
	"github.com/hle-go/corehle/internal/abi"
	"github.com/hle-go/corehle/internal/dyld"
	"github.com/hle-go/corehle/internal/mem"
	"github.com/hle-go/corehle/internal/objc"
)

// registerObjCRuntime installs the handful of C-callable entry points a
// compiled Mach-O binary's lazy stubs reference directly — objc_msgSend
// and its super/retain/release/property-helper siblings — into registry.
// These are registered as method expressions ((*Environment).foo) rather
// than closures because CallFromGuest supplies the live *Environment as
// a leading argument at call time; there is nothing environment-specific
// to capture at registration time, only at dispatch time.
func registerObjCRuntime(registry *dyld.Registry) {
	registry.InstallFunctions(map[string]any{
		"objc_msgSend":      (*Environment).objcMsgSend,
		"objc_msgSendSuper": (*Environment).objcMsgSendSuper,
		"objc_retain":       (*Environment).objcRetain,
		"objc_release":      (*Environment).objcRelease,
		"objc_autorelease":  (*Environment).objcAutorelease,
		"objc_setProperty":  (*Environment).objcSetProperty,
		"objc_copyStruct":   (*Environment).objcCopyStruct,
	})
}

// objcMsgSend reads the receiver and selector directly out of r0/r1
// rather than having CallFromGuest decode them, so that dispatch to a
// guest IMP can remain the true tail call message.go documents: this
// function consumes no registers of its own, and if MsgSend ends up
// branching into guest code, every register the original caller set
// (beyond r0/r1, which msgSend always owns) is exactly as the caller left
// it.
func (e *Environment) objcMsgSend() abi.VoidReturn {
	receiver := objc.ID(e.CPUv.Reg(0))
	sel := e.internSelectorRegister(1)
	e.ObjC.MsgSend(e.CPUv, e, receiver, sel)
	return abi.VoidReturn{}
}

// objcMsgSendSuper mirrors objcMsgSend for the super-call entry point.
// The compiled call site has already built an objc_super struct in guest
// memory (receiver + the class to search from); r0 points at it.
func (e *Environment) objcMsgSendSuper() abi.VoidReturn {
	superStructPtr := mem.FromBits[objcSuper, mem.ConstTag](e.CPUv.Reg(0))
	super := mem.Read(e.Mem, superStructPtr)
	sel := e.internSelectorRegister(1)
	e.ObjC.MsgSendSuper(e.CPUv, e, super.Receiver, super.SearchFrom, sel)
	return abi.VoidReturn{}
}

// objcSuper mirrors the compiled objc_super struct AAPCS32 call sites
// build on the stack/heap before calling objc_msgSendSuper: the receiver
// followed by the class whose superclass dispatch should start from.
type objcSuper struct {
	Receiver   objc.ID
	SearchFrom objc.Class
}

func (e *Environment) internSelectorRegister(regIndex int) objc.SEL {
	selPtr := mem.FromBits[byte, mem.ConstTag](e.CPUv.Reg(regIndex))
	return e.ObjC.RegisterBinSelector(e.Mem, selPtr)
}

func (e *Environment) objcRetain(obj objc.ID) objc.ID {
	return e.ObjC.Retain(obj)
}

func (e *Environment) objcRelease(obj objc.ID) abi.VoidReturn {
	e.ObjC.Release(e.CPUv, e, obj)
	return abi.VoidReturn{}
}

func (e *Environment) objcAutorelease(obj objc.ID) objc.ID {
	return e.ObjC.Autorelease(obj)
}

func (e *Environment) objcSetProperty(this objc.ID, ivarOffset mem.GuestUSize, value objc.ID, atomic, shouldCopy uint32) abi.VoidReturn {
	var behavior objc.CopyBehavior
	switch shouldCopy {
	case 0:
		behavior = objc.CopyRetain
	case 1:
		behavior = objc.CopyWithZone
	case 2:
		behavior = objc.CopyMutableWithZone
	default:
		panic("environment: objc_setProperty called with an unknown shouldCopy value")
	}
	e.ObjC.SetProperty(e.CPUv, e, this, ivarOffset, value, atomic != 0, behavior)
	return abi.VoidReturn{}
}

func (e *Environment) objcCopyStruct(dest mem.MutPtr[byte], src mem.ConstPtr[byte], size mem.GuestUSize, atomic, hasStrong uint32) abi.VoidReturn {
	objc.CopyStruct(e.Mem, dest, src, size, atomic != 0, hasStrong != 0)
	return abi.VoidReturn{}
}
