package objc

import (
	"github.com/hle-go/corehle/internal/mem"
)

// classT mirrors class_t's in-binary layout: isa (the metaclass, whose own
// class_ro_t holds this class's class methods), the superclass link,
// a method cache and vtable this runtime never consults, and the pointer
// to class_ro_t where the actually interesting fields live. Field layout
// follows Apple's public objc4 ABI, at the same Ghidra-derived fidelity
// as method_list_t/protocol_list_t in methods.go/protocols.go — the
// retrieved pack's original_source/src/objc tree ships method_t and
// protocol_t but not class_t/class_ro_t (see DESIGN.md).
type classT struct {
	Isa        mem.GuestUSize
	Superclass mem.GuestUSize
	Cache      mem.GuestUSize
	Vtable     mem.GuestUSize
	RoData     mem.GuestUSize
}

// classROT mirrors class_ro_t: flags, instance layout (unused — this
// runtime doesn't give binary-resident instances a real backing
// allocation, see properties.go), the class name, and pointers to the
// base method/protocol/property lists. Ivar and property lists are parsed
// only as pointers here, not walked — no framework module in this tree
// reads a binary instance's ivar layout directly yet.
type classROT struct {
	Flags          mem.GuestUSize
	InstanceStart  mem.GuestUSize
	InstanceSize   mem.GuestUSize
	IvarLayout     mem.GuestUSize
	Name           mem.ConstPtr[byte]
	BaseMethods    mem.GuestUSize
	BaseProtocols  mem.GuestUSize
	Ivars          mem.GuestUSize
	WeakIvarLayout mem.GuestUSize
	BaseProperties mem.GuestUSize
}

// MaterializeBinaryClass registers a Class for the class_t struct at addr
// in guest memory: its name, instance and class method tables, and
// adopted protocol list, all read straight out of class_ro_t. It does not
// resolve the superclass link — see MaterializeClassList, which calls
// this for every __objc_classlist entry before any of their superclass
// pointers are followed.
//
// addr itself becomes the Class's identity. Unlike a host class's opaque
// allocHandle handle, a binary class's guest address is already a unique,
// permanent value — exactly the isa a binary-resident instance's first
// word would hold — so no separate handle table is needed for ClassOf to
// recognize it later. Materializing the same address twice is a no-op
// that returns the previously registered Class.
func (o *ObjC) MaterializeBinaryClass(m *mem.Mem, addr mem.GuestUSize) Class {
	if cls, ok := o.classByAddr[addr]; ok {
		return cls
	}

	ct := mem.Read(m, mem.FromBits[classT, mem.ConstTag](addr))
	ro := mem.Read(m, mem.FromBits[classROT, mem.ConstTag](ct.RoData))
	name := mem.CStrAtUTF8(m, ro.Name)

	cls := Class(addr)
	o.classes[cls] = &classRecord{
		name:         name,
		methods:      make(map[SEL]IMP),
		classMethods: make(map[SEL]IMP),
	}
	o.classByName[name] = cls
	o.classByAddr[addr] = cls
	o.instanceClass[cls] = cls // a class object's own class is itself, as RegisterHostClass also records.

	if ro.BaseMethods != 0 {
		o.AddMethodsFromBinary(m, cls, mem.FromBits[methodListHeader, mem.ConstTag](ro.BaseMethods), false)
	}
	if ro.BaseProtocols != 0 {
		o.addProtocolsFromBinary(m, cls, mem.FromBits[protocolListHeader, mem.ConstTag](ro.BaseProtocols))
	}

	if ct.Isa != 0 {
		meta := mem.Read(m, mem.FromBits[classT, mem.ConstTag](ct.Isa))
		if meta.RoData != 0 {
			metaRo := mem.Read(m, mem.FromBits[classROT, mem.ConstTag](meta.RoData))
			if metaRo.BaseMethods != 0 {
				o.AddMethodsFromBinary(m, cls, mem.FromBits[methodListHeader, mem.ConstTag](metaRo.BaseMethods), true)
			}
		}
	}

	return cls
}

// MaterializeClassList walks a binary's __objc_classlist — count guest
// pointers starting at addr, each naming one class_t — materializing
// every class it finds and linking superclass chains only once every
// entry has a Class registered. Nothing guarantees a binary orders its
// class list from base to derived, so resolving superclass links in a
// second pass (rather than inline in MaterializeBinaryClass) means
// forward references within the same binary always resolve.
//
// It returns the guest address of every superclass reference that still
// couldn't be resolved against a class materialized from a binary (host
// classes are keyed by opaque handles, not guest addresses, so they
// never match) — typically an external framework superclass this runtime has
// no dyld fixup for — for the caller to log exactly as an unresolved
// dyld symbol would be.
func (o *ObjC) MaterializeClassList(m *mem.Mem, addr mem.GuestUSize, count mem.GuestUSize) []mem.GuestUSize {
	classes := make([]Class, count)
	for i := mem.GuestUSize(0); i < count; i++ {
		entryPtr := mem.FromBits[mem.GuestUSize, mem.ConstTag](addr + i*4)
		classAddr := mem.Read(m, entryPtr)
		if classAddr == 0 {
			continue
		}
		classes[i] = o.MaterializeBinaryClass(m, classAddr)
	}

	var unresolved []mem.GuestUSize
	for _, cls := range classes {
		if cls == Nil {
			continue
		}
		ct := mem.Read(m, mem.FromBits[classT, mem.ConstTag](cls))
		if ct.Superclass == 0 {
			continue
		}
		super, ok := o.classes[ct.Superclass]
		if !ok || super == nil {
			unresolved = append(unresolved, ct.Superclass)
			continue
		}
		o.classes[cls].superclass = Class(ct.Superclass)
	}
	return unresolved
}
