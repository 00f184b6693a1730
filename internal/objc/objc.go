// Package objc reimplements the slice of the Objective-C runtime a
// touchHLE-era iPhone-OS app relies on: class and selector tables, method
// dispatch (objc_msgSend and its super variant), reference counting, the
// host-object escape hatch that lets a framework back a guest id with
// arbitrary Go state, and materializing classes, methods, and protocol
// conformances straight out of a loaded binary's __objc_classlist.
//
// Grounded on original_source/src/objc/methods.rs,
// original_source/src/objc/properties.rs, and
// original_source/src/objc/protocols.rs for the overall shape (class
// registry, dispatch-chain walk, retain/release).
package objc

import (
	"fmt"

	"github.com/hle-go/corehle/internal/abi"
	"github.com/hle-go/corehle/internal/mem"
)

// ID is a guest-visible object reference: the guest address of at least
// an isa-pointer-sized block. nil (the zero ID) is always a valid,
// harmless receiver — sending it any message is a no-op that returns the
// zero value, matching real Objective-C's nil-messaging semantics.
type ID = mem.GuestUSize

// Nil is the null object reference.
const Nil ID = 0

// Class is an ID that happens to name a class object.
type Class = ID

// SEL is an interned selector. Two SELs with the same name always compare
// equal as pointers — the dedup the source calls "interning" — because
// they are always looked up through ObjC.Intern rather than constructed
// directly. Every SEL also owns a guest-resident copy of its name, so the
// runtime can hand a real address to code it calls into itself (a
// synthesized -dealloc or -copyWithZone: send) exactly as it would if a
// compiled call site had passed @selector(name) in r1.
type SEL struct {
	name string
	addr mem.GuestUSize
}

// Name returns the selector's string form, e.g. "initWithFrame:".
func (s SEL) Name() string { return s.name }

// Addr returns the guest address of sel's NUL-terminated name.
func (s SEL) Addr() mem.GuestUSize { return s.addr }

// IMP is a method implementation: either a host-side Go function or a
// guest code address.
type IMP struct {
	host    any
	guest   abi.GuestFunction
	isGuest bool
}

// HostIMP wraps a host Go function as an IMP. fn's signature must be
// func(env, ID, SEL, ...) R, mirroring the source's HostIMP trait bound —
// the first three parameters are always supplied from the dispatch
// machinery itself (env, receiver, selector), never decoded from
// registers.
func HostIMP(fn any) IMP {
	return IMP{host: fn}
}

// GuestIMP wraps a guest code address as an IMP.
func GuestIMP(f abi.GuestFunction) IMP {
	return IMP{guest: f, isGuest: true}
}

type classRecord struct {
	name         string
	superclass   Class
	methods      map[SEL]IMP // instance methods
	classMethods map[SEL]IMP // class (static) methods
	protocols    []string    // adopted protocol names, from class_ro_t's protocol list
}

// ObjC is the runtime's root: the class table, the selector intern table,
// and the host-object side table. One ObjC belongs to exactly one
// Environment.
type ObjC struct {
	m *mem.Mem

	selectors map[string]SEL

	classes     map[Class]*classRecord
	classByName map[string]Class
	classByAddr map[mem.GuestUSize]Class // binary classes only, keyed by their class_t address

	instanceClass map[ID]Class
	hostObjects   map[ID]any
	refcounts     map[ID]int

	// ivars backs SetProperty's synthesized storage for host-handle
	// instances: a (ivar offset -> value) side table per object, standing
	// in for the real struct-field slot a binary-resident instance would
	// have instead. See properties.go.
	ivars map[ID]map[mem.GuestUSize]ID

	nextHandle ID
}

// New constructs an empty runtime bound to m. Host classes are registered
// with RegisterHostClass before any guest code runs; binary classes are
// added lazily as a loaded Mach-O's class list is walked.
func New(m *mem.Mem) *ObjC {
	return &ObjC{
		m:             m,
		selectors:     make(map[string]SEL),
		classes:       make(map[Class]*classRecord),
		classByName:   make(map[string]Class),
		classByAddr:   make(map[mem.GuestUSize]Class),
		instanceClass: make(map[ID]Class),
		hostObjects:   make(map[ID]any),
		refcounts:     make(map[ID]int),
		ivars:         make(map[ID]map[mem.GuestUSize]ID),
		nextHandle:    1,
	}
}

// Intern returns the unique SEL for name, registering it on first use.
// This is the "selector uniqueness" guarantee: any two calls with the same
// name return a SEL that compares == to one another. Interning also
// allocates a guest-resident copy of name, independent of wherever (if
// anywhere) a binary's own @selector(name) literal lives — registering the
// same name from two different binary addresses, or from the host side,
// always converges on the one interned SEL and its one canonical address.
func (o *ObjC) Intern(name string) SEL {
	if sel, ok := o.selectors[name]; ok {
		return sel
	}
	sel := SEL{name: name, addr: mem.AllocAndWriteCStr(o.m, name).ToBits()}
	o.selectors[name] = sel
	return sel
}

// allocHandle hands out a fresh, never-reused object handle. Host-backed
// objects don't need a real guest memory block (there is no ivar layout
// for guest code to read), so handles are just opaque ascending integers
// here rather than addresses into Memory — a deliberate simplification
// from a real isa-at-offset-0 layout, safe because host objects are only
// ever manipulated by selector dispatch, never read by raw guest pointer
// arithmetic.
func (o *ObjC) allocHandle() ID {
	h := o.nextHandle
	o.nextHandle++
	return h
}

// RegisterHostClass defines a class implemented entirely by Go code (the
// Objective-C runtime's own root classes — NSObject and friends — plus
// whatever a framework module wants to expose). superclass is Nil for a
// root class. classMethods may be nil if the class has none.
func (o *ObjC) RegisterHostClass(name string, superclass Class, instanceMethods, classMethods map[string]IMP) Class {
	if _, exists := o.classByName[name]; exists {
		panic(fmt.Sprintf("objc: class %q already registered", name))
	}
	cls := o.allocHandle()
	rec := &classRecord{
		name:         name,
		superclass:   superclass,
		methods:      make(map[SEL]IMP, len(instanceMethods)),
		classMethods: make(map[SEL]IMP, len(classMethods)),
	}
	for selName, imp := range instanceMethods {
		rec.methods[o.Intern(selName)] = imp
	}
	for selName, imp := range classMethods {
		rec.classMethods[o.Intern(selName)] = imp
	}
	o.classes[cls] = rec
	o.classByName[name] = cls
	o.instanceClass[cls] = cls // a class object's own "class" is itself, in this simplified metaclass model.
	return cls
}

// ClassNamed looks up a previously registered class by name, returning
// (Nil, false) if none exists yet.
func (o *ObjC) ClassNamed(name string) (Class, bool) {
	cls, ok := o.classByName[name]
	return cls, ok
}

// ClassNames returns every registered class's name, in no particular
// order. Meant for an interactive inspector (internal/console,
// internal/tui) walking the live class list, not for anything performance
// sensitive in the hot message-send path.
func (o *ObjC) ClassNames() []string {
	names := make([]string, 0, len(o.classByName))
	for name := range o.classByName {
		names = append(names, name)
	}
	return names
}

// SuperclassOf returns cls's superclass, or Nil if cls is a root class (or
// unknown).
func (o *ObjC) SuperclassOf(cls Class) Class {
	rec, ok := o.classes[cls]
	if !ok {
		return Nil
	}
	return rec.superclass
}

// ClassOf returns the class of a live object. Host objects carry their
// class inline in the ObjC runtime's own bookkeeping, recorded once at
// NewInstance time; a binary-resident instance would instead carry it as
// an isa field in guest memory, but no framework in this tree currently
// allocates guest-resident instances, so that path is not yet exercised —
// see DESIGN.md. Binary *classes* themselves (as opposed to their
// instances) are fully materialized by MaterializeBinaryClass, and are
// recorded in instanceClass exactly like a host class, as their own
// class — see RegisterHostClass's equivalent bookkeeping.
func (o *ObjC) ClassOf(obj ID) Class {
	if obj == Nil {
		return Nil
	}
	if cls, ok := o.instanceClass[obj]; ok {
		return cls
	}
	panic(fmt.Sprintf("objc: object %#x has no known class", obj))
}

// NewInstance allocates a new host-backed instance of cls, whose extra
// Go-side state is host (may be nil for a class with no ivars worth
// modeling). Its reference count starts at 1, matching alloc's contract.
func (o *ObjC) NewInstance(cls Class, host any) ID {
	obj := o.allocHandle()
	o.instanceClass[obj] = cls
	if host != nil {
		o.hostObjects[obj] = host
	}
	o.refcounts[obj] = 1
	return obj
}

// Borrow returns the host-side Go state backing obj, asserting it has
// type *T. A mismatch panics — the Go analogue of the source's failed
// downcast of a host object, which is always a core-level, unrecoverable
// error rather than something a caller can handle.
func Borrow[T any](o *ObjC, obj ID) *T {
	v, ok := o.hostObjects[obj]
	if !ok {
		panic(fmt.Sprintf("objc: object %#x has no host-side state", obj))
	}
	t, ok := v.(*T)
	if !ok {
		panic(fmt.Sprintf("objc: object %#x's host state is %T, not %T", obj, v, t))
	}
	return t
}
