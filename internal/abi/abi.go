// Package abi translates between AAPCS32 registers and typed Go function
// calls in both directions: a guest binary calling into a host function,
// and host code calling into a guest function (and, transitively, that
// guest function calling back out to the host).
//
// The source design expresses this with a GuestArg/GuestRet trait pair and
// per-arity CallFromGuest/CallFromHost trait impls generated by macro for
// arities 0 through 4. Go has neither const generics nor macros, and no
// ad-hoc polymorphism over tuples to fake arity-generic trait impls with,
// so this package instead does the argument marshalling once, generically,
// using reflect over the host function's signature — one implementation
// for every arity instead of four, at the cost of the encode/decode step
// not being checked until first call. See DESIGN.md, Open Question 2.
package abi

import (
	"fmt"
	"math"
	"reflect"
)

// RegCount is the hard AAPCS32 argument-register budget this runtime
// honors: r0-r3. Arguments beyond this would spill to the stack in a real
// AAPCS32 call; that path is not implemented (see VAList below).
const RegCount = 4

// regValue is implemented by pointer-shaped types (mem.Ptr, GuestFunction)
// so they can be marshalled to/from a single 32-bit register without this
// package needing to import mem and enumerate every Ptr[T, M]
// instantiation.
type regValue interface {
	Bits() uint32
	SetBits(uint32)
}

// THUMB_BIT is ORed into a guest code address to mark it as Thumb (T32)
// rather than A32 — AAPCS32 convention, bit 0 of the address.
const THUMB_BIT = 1

// GuestFunction is a callable address in guest code, tagged with whether
// it should be entered in Thumb or A32 mode.
type GuestFunction struct {
	addr uint32
}

// GuestFunctionFromAddrAndThumbFlag builds a GuestFunction from a bare
// address and an explicit Thumb flag.
func GuestFunctionFromAddrAndThumbFlag(addr uint32, thumb bool) GuestFunction {
	if thumb {
		addr |= THUMB_BIT
	} else {
		addr &^= THUMB_BIT
	}
	return GuestFunction{addr: addr}
}

// GuestFunctionFromAddrWithThumbBit builds a GuestFunction from an address
// that already carries the Thumb bit (e.g. read straight out of an
// indirect symbol table entry).
func GuestFunctionFromAddrWithThumbBit(addr uint32) GuestFunction {
	return GuestFunction{addr: addr}
}

// IsThumb reports whether f should be entered in Thumb mode.
func (f GuestFunction) IsThumb() bool {
	return f.addr&THUMB_BIT != 0
}

// AddrWithThumbBit returns the raw address including the Thumb marker bit,
// suitable for storing back into guest memory (a vtable slot, a symbol
// pointer) exactly as it was read.
func (f GuestFunction) AddrWithThumbBit() uint32 {
	return f.addr
}

// AddrWithoutThumbBit returns the actual branch target, with the marker
// bit masked off.
func (f GuestFunction) AddrWithoutThumbBit() uint32 {
	return f.addr &^ THUMB_BIT
}

func (f GuestFunction) Bits() uint32     { return f.addr }
func (f *GuestFunction) SetBits(b uint32) { f.addr = b }

var regValueType = reflect.TypeOf((*regValue)(nil)).Elem()

// isRegValue reports whether t implements regValue via a pointer receiver
// (true for mem.Ptr[T, M] and GuestFunction).
func isRegValue(t reflect.Type) bool {
	return reflect.PointerTo(t).Implements(regValueType)
}

// regsFor returns how many 32-bit registers a value of type t occupies:
// 2 for the 64-bit kinds, 1 for everything else this ABI supports.
func regsFor(t reflect.Type) int {
	switch t.Kind() {
	case reflect.Uint64, reflect.Int64, reflect.Float64:
		return 2
	default:
		return 1
	}
}

// decode reads one value of type t out of regs starting at *idx, advancing
// *idx by the number of registers consumed.
func decode(t reflect.Type, regs []uint32, idx *int) reflect.Value {
	if isRegValue(t) {
		if *idx >= len(regs) {
			panic("abi: argument registers exhausted (stack-spilled arguments are not implemented)")
		}
		ptr := reflect.New(t)
		ptr.Interface().(regValue).SetBits(regs[*idx])
		*idx++
		return ptr.Elem()
	}

	switch t.Kind() {
	case reflect.Uint8, reflect.Uint16, reflect.Uint32:
		v := reflect.New(t).Elem()
		v.SetUint(uint64(regs[*idx]))
		*idx++
		return v
	case reflect.Int8, reflect.Int16, reflect.Int32:
		v := reflect.New(t).Elem()
		// Sign-extend from the register's low bits.
		bits := t.Bits()
		raw := regs[*idx]
		shift := 32 - bits
		signed := int32(raw<<shift) >> shift
		v.SetInt(int64(signed))
		*idx++
		return v
	case reflect.Float32:
		v := reflect.New(t).Elem()
		v.SetFloat(float64(math.Float32frombits(regs[*idx])))
		*idx++
		return v
	case reflect.Uint64, reflect.Int64, reflect.Float64:
		if *idx%2 != 0 {
			*idx++ // 64-bit values start on an even register per AAPCS32.
		}
		lo, hi := uint64(regs[*idx]), uint64(regs[*idx+1])
		raw := lo | hi<<32
		*idx += 2
		v := reflect.New(t).Elem()
		switch t.Kind() {
		case reflect.Uint64:
			v.SetUint(raw)
		case reflect.Int64:
			v.SetInt(int64(raw))
		case reflect.Float64:
			v.SetFloat(math.Float64frombits(raw))
		}
		return v
	default:
		panic(fmt.Sprintf("abi: %s is not a supported guest argument/return type", t))
	}
}

// encode writes v into regs starting at *idx, advancing *idx by the
// number of registers consumed.
func encode(v reflect.Value, regs []uint32, idx *int) {
	t := v.Type()
	if isRegValue(t) {
		ptr := reflect.New(t)
		ptr.Elem().Set(v)
		regs[*idx] = ptr.Interface().(regValue).Bits()
		*idx++
		return
	}
	switch t.Kind() {
	case reflect.Uint8, reflect.Uint16, reflect.Uint32:
		regs[*idx] = uint32(v.Uint())
		*idx++
	case reflect.Int8, reflect.Int16, reflect.Int32:
		regs[*idx] = uint32(v.Int())
		*idx++
	case reflect.Float32:
		regs[*idx] = math.Float32bits(float32(v.Float()))
		*idx++
	case reflect.Uint64, reflect.Int64, reflect.Float64:
		if *idx%2 != 0 {
			*idx++
		}
		var raw uint64
		switch t.Kind() {
		case reflect.Uint64:
			raw = v.Uint()
		case reflect.Int64:
			raw = uint64(v.Int())
		case reflect.Float64:
			raw = math.Float64bits(v.Float())
		}
		regs[*idx] = uint32(raw)
		regs[*idx+1] = uint32(raw >> 32)
		*idx += 2
	default:
		panic(fmt.Sprintf("abi: %s is not a supported guest argument/return type", t))
	}
}

// VoidReturn is the Go analogue of the source's impl GuestRet for (): its
// encode step must do *nothing*. objc_msgSend's dispatch trampoline relies
// on this — a method that "returns" VoidReturn is really tail-calling
// through to whatever the real IMP put in the registers, and touching
// them here would clobber that.
type VoidReturn struct{}

func isVoidReturn(t reflect.Type) bool {
	return t == reflect.TypeOf(VoidReturn{})
}
