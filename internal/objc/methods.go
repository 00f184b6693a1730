package objc

import (
	"github.com/hle-go/corehle/internal/abi"
	"github.com/hle-go/corehle/internal/mem"
)

// methodListHeader mirrors method_list_t's in-binary layout: entsize and
// count, immediately followed by that many method_t entries. Field names
// and layout are as Ghidra reports them for a Mach-O __objc_const method
// list, per original_source/src/objc/methods.rs.
type methodListHeader struct {
	Entsize mem.GuestUSize
	Count   mem.GuestUSize
}

// methodEntry mirrors method_t: a selector name pointer, a type-encoding
// pointer (ignored here — see the TODO below, carried over from the
// source, which never supported type strings either), and the
// implementation.
type methodEntry struct {
	Name  mem.ConstPtr[byte]
	Types mem.ConstPtr[byte]
	Imp   abi.GuestFunction
}

// RegisterBinSelector interns the NUL-terminated selector name found at
// namePtr in guest memory. There is no guarantee a binary's selector
// string is unique or already known to the runtime, so it goes through
// the same intern table as any host-registered selector.
func (o *ObjC) RegisterBinSelector(m *mem.Mem, namePtr mem.ConstPtr[byte]) SEL {
	return o.Intern(mem.CStrAtUTF8(m, namePtr))
}

// AddMethodsFromBinary parses a method_list_t at listPtr and merges its
// entries into cls, tagging each with a guest IMP. Called twice per class
// by MaterializeBinaryClass — once for class_ro_t's own base method list,
// once for the metaclass's, to cover both instance and class methods.
// Selector type strings are read but discarded — TODO: support type
// strings once a framework needs to validate argument/return type
// encodings rather than just the selector name (no caller in this tree
// does yet).
func (o *ObjC) AddMethodsFromBinary(m *mem.Mem, cls Class, listPtr mem.ConstPtr[methodListHeader], classMethods bool) {
	header := mem.Read(m, listPtr)
	if header.Entsize < mem.SizeOf[methodEntry]() {
		panic("objc: method_list_t entsize smaller than method_t")
	}

	rec, ok := o.classes[cls]
	if !ok {
		panic("objc: AddMethodsFromBinary on an unknown class")
	}

	entriesBase := mem.Cast[methodEntry](listPtr.Add(1))
	for i := mem.GuestUSize(0); i < header.Count; i++ {
		entryPtr := mem.FromBits[methodEntry, mem.ConstTag](entriesBase.ToBits() + i*header.Entsize)
		entry := mem.Read(m, entryPtr)
		sel := o.RegisterBinSelector(m, entry.Name)
		imp := GuestIMP(entry.Imp)
		if classMethods {
			rec.classMethods[sel] = imp
		} else {
			rec.methods[sel] = imp
		}
	}
}
