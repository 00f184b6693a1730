// Package mem implements the guest's flat 32-bit address space: a single
// contiguous byte array, a bump/free-list allocator, and the typed pointer
// arithmetic the rest of the runtime builds on.
package mem

import "unsafe"

// GuestUSize and GuestISize are the guest's size_t/ssize_t: always 32-bit,
// regardless of the host's native word size.
type GuestUSize = uint32
type GuestISize = int32

// mutability is a phantom type parameter distinguishing ConstPtr from
// MutPtr at compile time, standing in for Rust's const generic
// Ptr<T, const MUT: bool>. Go has no const generics, so the "is this
// pointer allowed to write" bit lives in the type system via this marker
// instead of a runtime field.
type mutability interface {
	mutable() bool
}

// ConstTag marks a Ptr as read-only.
type ConstTag struct{}

func (ConstTag) mutable() bool { return false }

// MutTag marks a Ptr as writable.
type MutTag struct{}

func (MutTag) mutable() bool { return true }

// Ptr is a guest pointer to a value of type T. Use ConstPtr or MutPtr
// rather than naming Ptr directly.
type Ptr[T any, M mutability] struct {
	addr GuestUSize
}

// ConstPtr is a guest pointer that may only be read through.
type ConstPtr[T any] = Ptr[T, ConstTag]

// MutPtr is a guest pointer that may be read or written through.
type MutPtr[T any] = Ptr[T, MutTag]

// Null returns the null pointer for T.
func Null[T any, M mutability]() Ptr[T, M] {
	return Ptr[T, M]{}
}

// FromBits reinterprets a raw guest address as a typed pointer. Used when a
// guest binary hands us a bare 32-bit value (e.g. a struct field, a
// register) that we know by context to be a pointer of this shape.
func FromBits[T any, M mutability](bits GuestUSize) Ptr[T, M] {
	return Ptr[T, M]{addr: bits}
}

// ToBits returns the raw guest address.
func (p Ptr[T, M]) ToBits() GuestUSize {
	return p.addr
}

// IsNull reports whether p is the null pointer.
func (p Ptr[T, M]) IsNull() bool {
	return p.addr == 0
}

// CastVoid erases the pointee type.
func CastVoid[T any, M mutability](p Ptr[T, M]) Ptr[byte, M] {
	return Ptr[byte, M]{addr: p.addr}
}

// Cast reinterprets p as a pointer to a different element type, keeping its
// address and mutability. Mirrors Ptr::cast in the source design.
func Cast[U, T any, M mutability](p Ptr[T, M]) Ptr[U, M] {
	return Ptr[U, M]{addr: p.addr}
}

// AsConst downgrades a MutPtr to a ConstPtr.
func AsConst[T any](p MutPtr[T]) ConstPtr[T] {
	return ConstPtr[T]{addr: p.addr}
}

// SizeOf returns the guest size in bytes of T, the Go analogue of
// guest_size_of::<T>() / mem::size_of::<T>(). T must be a fixed-layout
// type with no Go pointers, slices, maps, or interfaces embedded in it —
// the same "plain old data" contract the source's SafeRead/SafeWrite
// marker traits document, just enforced by convention rather than the
// type system, since Go cannot add methods to built-in numeric types.
func SizeOf[T any]() GuestUSize {
	var zero T
	return GuestUSize(unsafe.Sizeof(zero))
}

// Add advances p by n elements of T (not bytes), panicking on address
// overflow exactly as the source's checked_add/checked_mul does — pointer
// arithmetic overflow is a guest bug, not a recoverable condition.
func (p Ptr[T, M]) Add(n GuestISize) Ptr[T, M] {
	size := SizeOf[T]()
	var delta int64
	if n < 0 {
		delta = -int64(size) * int64(-n)
	} else {
		delta = int64(size) * int64(n)
	}
	result := int64(p.addr) + delta
	if result < 0 || result > int64(^GuestUSize(0)) {
		panic("pointer arithmetic overflowed the 32-bit guest address space")
	}
	return Ptr[T, M]{addr: GuestUSize(result)}
}

// Sub is shorthand for Add(-n).
func (p Ptr[T, M]) Sub(n GuestISize) Ptr[T, M] {
	return p.Add(-n)
}

// regValue is implemented by pointer-shaped ABI argument/return types
// (Ptr itself, and abi.GuestFunction) so internal/abi can decode and
// encode them generically through a single register-width interface
// instead of a type switch enumerating every Ptr[T, M] instantiation.
type regValue interface {
	Bits() GuestUSize
	SetBits(GuestUSize)
}

// Bits implements the register-value contract used by internal/abi.
func (p Ptr[T, M]) Bits() GuestUSize { return p.addr }

// SetBits implements the register-value contract used by internal/abi.
func (p *Ptr[T, M]) SetBits(bits GuestUSize) { p.addr = bits }

var (
	_ regValue = (*Ptr[byte, ConstTag])(nil)
	_ regValue = (*Ptr[byte, MutTag])(nil)
)
