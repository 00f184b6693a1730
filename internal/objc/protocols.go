package objc

import (
	"github.com/hle-go/corehle/internal/mem"
)

// protocolListHeader mirrors protocol_list_t: just a count, followed by
// that many pointers to protocol_t — unlike method_list_t, whose entries
// are stored inline. Grounded on
// original_source/src/objc/protocols.rs's protocol_list_t.
type protocolListHeader struct {
	Count mem.GuestUSize
}

// protocolEntry mirrors protocol_t. Only Name is read here; the required
// and optional method lists a protocol declares are for a conforming
// class's own method tables to satisfy (registered through the normal
// AddMethodsFromBinary path when that class's own method lists are
// walked), not something the protocol_t record itself needs to carry
// into this runtime's tables.
type protocolEntry struct {
	Isa                     Class
	Name                    mem.ConstPtr[byte]
	Protocols               mem.GuestUSize
	InstanceMethods         mem.GuestUSize
	ClassMethods            mem.GuestUSize
	OptionalInstanceMethods mem.GuestUSize
	OptionalClassMethods    mem.GuestUSize
	Properties              mem.GuestUSize
	Unk0                    uint32
	Unk1                    uint32
}

// addProtocolsFromBinary parses a protocol_list_t at listPtr and records
// each protocol's name against cls, for ConformsToProtocol to walk later.
func (o *ObjC) addProtocolsFromBinary(m *mem.Mem, cls Class, listPtr mem.ConstPtr[protocolListHeader]) {
	if listPtr.IsNull() {
		return
	}
	header := mem.Read(m, listPtr)

	rec, ok := o.classes[cls]
	if !ok {
		panic("objc: addProtocolsFromBinary on an unknown class")
	}

	entriesBase := mem.Cast[mem.ConstPtr[protocolEntry]](listPtr.Add(1))
	for i := mem.GuestISize(0); i < mem.GuestISize(header.Count); i++ {
		protoPtr := mem.Read(m, entriesBase.Add(i))
		proto := mem.Read(m, protoPtr)
		rec.protocols = append(rec.protocols, mem.CStrAtUTF8(m, proto.Name))
	}
}

// ConformsToProtocol reports whether cls or any of its superclasses
// adopts the named protocol — the runtime primitive an NSObject
// -conformsToProtocol: implementation would call, mirroring how HasMethod
// backs -respondsToSelector:.
func (o *ObjC) ConformsToProtocol(cls Class, name string) bool {
	for cls != Nil {
		rec, ok := o.classes[cls]
		if !ok {
			return false
		}
		for _, p := range rec.protocols {
			if p == name {
				return true
			}
		}
		cls = rec.superclass
	}
	return false
}

// ProtocolsOf returns the protocol names cls itself (not its
// superclasses) adopts, for an interactive inspector (internal/console,
// internal/tui) walking a class's metadata.
func (o *ObjC) ProtocolsOf(cls Class) []string {
	rec, ok := o.classes[cls]
	if !ok {
		return nil
	}
	return rec.protocols
}
