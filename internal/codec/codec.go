// Package codec implements the tagged variant over element-type
// descriptors, and the small table of transfer strategies, called for
// in place of deep inheritance between stream/future element kinds:
// scalar copy, string-with-reallocator, and list-of-scalar.
//
// A Codec never touches a [Store]'s bookkeeping; it only knows how to
// move one logical value between two independent [Memory] spaces. The
// stream/future engine is the only caller.
package codec

import "fmt"

// Memory is the guest linear-memory collaborator a Codec lifts from and
// lowers into. Out-of-bounds access must be reported as an error, which
// the engine turns into a trap at its boundary rather than handling
// internally (core-Wasm traps are out of scope for this package, per
// the external-collaborator boundary).
type Memory interface {
	// ReadBytes returns a copy of size bytes at ptr.
	ReadBytes(ptr uint32, size uint32) ([]byte, error)
	// WriteBytes copies data into guest memory starting at ptr.
	WriteBytes(ptr uint32, data []byte) error
	// Realloc asks the guest's declared reallocator for a block of
	// newSize bytes aligned to align, given the previous allocation
	// (oldPtr, oldSize) to release (oldSize == 0 for a fresh
	// allocation). Returns the new block's address.
	Realloc(oldPtr, oldSize, align, newSize uint32) (uint32, error)
}

// Value is the engine-internal representation of one transferred
// element, produced by Lift and consumed by Lower. Its concrete type is
// private to the Codec that produced it.
type Value any

// Codec describes how one element of a declared Wasm type is copied
// between two Memory spaces via the engine's internal representation.
type Codec interface {
	// Lift reads n elements starting at ptr out of src, returning one
	// Value per element.
	Lift(src Memory, ptr uint32, n uint32) ([]Value, error)
	// Lower writes values into dst starting at ptr, using dst's
	// Realloc for variable-length representations. Returns the number
	// of bytes written at the fixed-size envelope (informational only;
	// the transferred *element* count is always len(values)).
	Lower(dst Memory, ptr uint32, values []Value) (int, error)
	// Size returns the fixed per-element byte width in guest memory,
	// as used to advance ptr between successive reads/writes of a
	// buffer of this element type.
	Size() uint32
}

// Scalar is a Codec for fixed-width, bytewise-copyable element types
// (integers, floats, bools, chars): no allocator involvement at all.
type Scalar struct {
	// Width is the element's size in bytes (1, 2, 4, or 8).
	Width uint32
}

func (s Scalar) Size() uint32 { return s.Width }

func (s Scalar) Lift(src Memory, ptr uint32, n uint32) ([]Value, error) {
	out := make([]Value, n)
	for i := uint32(0); i < n; i++ {
		b, err := src.ReadBytes(ptr+i*s.Width, s.Width)
		if err != nil {
			return nil, fmt.Errorf("codec: scalar lift: %w", err)
		}
		out[i] = b
	}
	return out, nil
}

func (s Scalar) Lower(dst Memory, ptr uint32, values []Value) (int, error) {
	for i, v := range values {
		b := v.([]byte)
		if err := dst.WriteBytes(ptr+uint32(i)*s.Width, b); err != nil {
			return 0, fmt.Errorf("codec: scalar lower: %w", err)
		}
	}
	return len(values) * int(s.Width), nil
}

// stringValue is the Value produced by String.Lift: a decoded Go string
// plus nothing else, since the source allocation is the writer's and is
// never reused by the reader.
type stringValue string

// String is a Codec for the `string` primitive type: each element is a
// (ptr, len) pair in guest memory, and the reader side must reallocate
// its own backing storage rather than share the writer's.
type String struct{}

// Size is the width of one (ptr, len) descriptor pair in guest memory.
func (String) Size() uint32 { return 8 }

func (String) Lift(src Memory, ptr uint32, n uint32) ([]Value, error) {
	out := make([]Value, n)
	for i := uint32(0); i < n; i++ {
		desc, err := src.ReadBytes(ptr+i*8, 8)
		if err != nil {
			return nil, fmt.Errorf("codec: string lift descriptor: %w", err)
		}
		strPtr := le32(desc[0:4])
		strLen := le32(desc[4:8])
		data, err := src.ReadBytes(strPtr, strLen)
		if err != nil {
			return nil, fmt.Errorf("codec: string lift payload: %w", err)
		}
		out[i] = stringValue(data)
	}
	return out, nil
}

func (String) Lower(dst Memory, ptr uint32, values []Value) (int, error) {
	for i, v := range values {
		s := string(v.(stringValue))
		newPtr, err := dst.Realloc(0, 0, 1, uint32(len(s)))
		if err != nil {
			return 0, fmt.Errorf("codec: string lower realloc: %w", err)
		}
		if len(s) > 0 {
			if err := dst.WriteBytes(newPtr, []byte(s)); err != nil {
				return 0, fmt.Errorf("codec: string lower payload: %w", err)
			}
		}
		desc := make([]byte, 8)
		putLE32(desc[0:4], newPtr)
		putLE32(desc[4:8], uint32(len(s)))
		if err := dst.WriteBytes(ptr+uint32(i)*8, desc); err != nil {
			return 0, fmt.Errorf("codec: string lower descriptor: %w", err)
		}
	}
	return len(values) * 8, nil
}

// listValue is the Value produced by List.Lift: the decoded elements of
// one list<T>, in the inner Codec's own Value representation.
type listValue []Value

// List is a Codec for `list<T>`: each outer element is itself a
// (ptr, len) pair whose payload is lowered/lifted by Elem, the element
// type's own Codec. Reader and writer each manage their own allocation
// for the outer list's backing storage, same as String.
type List struct {
	Elem Codec
}

func (List) Size() uint32 { return 8 }

func (l List) Lift(src Memory, ptr uint32, n uint32) ([]Value, error) {
	out := make([]Value, n)
	for i := uint32(0); i < n; i++ {
		desc, err := src.ReadBytes(ptr+i*8, 8)
		if err != nil {
			return nil, fmt.Errorf("codec: list lift descriptor: %w", err)
		}
		listPtr := le32(desc[0:4])
		listLen := le32(desc[4:8])
		elems, err := l.Elem.Lift(src, listPtr, listLen)
		if err != nil {
			return nil, fmt.Errorf("codec: list lift elements: %w", err)
		}
		out[i] = listValue(elems)
	}
	return out, nil
}

func (l List) Lower(dst Memory, ptr uint32, values []Value) (int, error) {
	for i, v := range values {
		elems := v.(listValue)
		elemSize := l.Elem.Size()
		newPtr, err := dst.Realloc(0, 0, 1, uint32(len(elems))*elemSize)
		if err != nil {
			return 0, fmt.Errorf("codec: list lower realloc: %w", err)
		}
		if _, err := l.Elem.Lower(dst, newPtr, elems); err != nil {
			return 0, fmt.Errorf("codec: list lower elements: %w", err)
		}
		desc := make([]byte, 8)
		putLE32(desc[0:4], newPtr)
		putLE32(desc[4:8], uint32(len(elems)))
		if err := dst.WriteBytes(ptr+uint32(i)*8, desc); err != nil {
			return 0, fmt.Errorf("codec: list lower descriptor: %w", err)
		}
	}
	return len(values) * 8, nil
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
