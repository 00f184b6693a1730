package objc

import "github.com/hle-go/corehle/internal/abi"

// Retain increments obj's reference count and returns obj, mirroring
// -retain's conventional return value so call sites can chain it.
func (o *ObjC) Retain(obj ID) ID {
	if obj == Nil {
		return Nil
	}
	o.refcounts[obj]++
	return obj
}

// Release decrements obj's reference count. At zero, it sends -dealloc
// (synchronously, via sendSync, before any bookkeeping is torn down —
// a class overriding -dealloc must see obj in exactly the state its own
// ivars/host state left it in) and only then drops its host-side state,
// class association, and ivar side-table. A class with no -dealloc
// override, directly or inherited, is deallocated silently, matching
// real Objective-C's default -[NSObject dealloc]. Freeing the handle for
// reuse is deliberately *not* done — handles are never recycled, so a
// dangling ID always fails ClassOf's lookup loudly rather than silently
// referring to a different object later.
func (o *ObjC) Release(cpu abi.CPU, env abi.Caller, obj ID) {
	if obj == Nil {
		return
	}
	n, ok := o.refcounts[obj]
	if !ok {
		panic("objc: release of an object with no tracked reference count")
	}
	n--
	if n > 0 {
		o.refcounts[obj] = n
		return
	}

	o.sendSync(cpu, env, obj, o.Intern("dealloc"))

	delete(o.refcounts, obj)
	delete(o.hostObjects, obj)
	delete(o.instanceClass, obj)
	delete(o.ivars, obj)
}

// RetainCount reports obj's current reference count, for diagnostics and
// tests; real Objective-C code should never depend on its exact value.
func (o *ObjC) RetainCount(obj ID) int {
	if obj == Nil {
		return 0
	}
	return o.refcounts[obj]
}

// Autorelease is a plain pass-through in this runtime: autorelease pools
// are a Foundation concept (NSAutoreleasePool/@autoreleasepool), and
// Foundation itself is out of scope here, so there is no pool to defer
// the release to. A framework layer implementing NSAutoreleasePool is
// expected to call Release itself when the pool drains, using this as
// the identity operation it composes with.
func (o *ObjC) Autorelease(obj ID) ID {
	return obj
}
