// Package bitvec provides the bit vector type used for JTAG TMS/TDI/TDO
// streams.
//
// Bit-order convention: index 0 is the first bit clocked onto the wire (or the
// first bit received from it). Bits are packed LSB-first within each byte, so
// bit i of a vector lives in byte i/8 at position i%8. This matches both the
// XVC shift payload layout and the MPSSE shift order, which keeps conversions
// at the protocol boundaries to plain copies.
package bitvec

import (
	"fmt"
	"strings"
)

// Vector is an immutable, ordered sequence of bits. The zero Vector is empty
// and ready to use. Slicing produces a new Vector that shares no mutable
// state with its source.
type Vector struct {
	data []byte
	bits int
}

// New builds a Vector from packed bytes holding the given number of bits. The
// byte slice is copied; unused bits in the final byte are cleared.
func New(data []byte, bits int) Vector {
	if bits < 0 {
		panic(fmt.Sprintf("bitvec: negative length %d", bits))
	}
	need := (bits + 7) / 8
	if len(data) < need {
		panic(fmt.Sprintf("bitvec: %d bytes cannot hold %d bits", len(data), bits))
	}
	buf := make([]byte, need)
	copy(buf, data[:need])
	if rem := bits % 8; rem != 0 {
		buf[need-1] &= byte(1<<rem) - 1
	}
	return Vector{data: buf, bits: bits}
}

// FromBools builds a Vector whose bit i equals bits[i].
func FromBools(bits []bool) Vector {
	var b Builder
	for _, bit := range bits {
		b.AppendBit(bit)
	}
	return b.Vector()
}

// Parse builds a Vector from a string of '0' and '1' characters, where the
// first character is bit 0. Intended for tests and diagnostics.
func Parse(s string) (Vector, error) {
	var b Builder
	for i, c := range s {
		switch c {
		case '0':
			b.AppendBit(false)
		case '1':
			b.AppendBit(true)
		default:
			return Vector{}, fmt.Errorf("bitvec: invalid character %q at index %d", c, i)
		}
	}
	return b.Vector(), nil
}

// Len returns the number of bits in the vector.
func (v Vector) Len() int {
	return v.bits
}

// ByteLen returns the number of bytes needed to hold the vector's bits.
func (v Vector) ByteLen() int {
	return (v.bits + 7) / 8
}

// At returns bit i. It panics if i is out of range, matching slice indexing.
func (v Vector) At(i int) bool {
	if i < 0 || i >= v.bits {
		panic(fmt.Sprintf("bitvec: index %d out of range [0,%d)", i, v.bits))
	}
	return v.data[i/8]&(1<<(i%8)) != 0
}

// Index returns the smallest index >= from whose bit equals val, or -1 if no
// such bit exists.
func (v Vector) Index(val bool, from int) int {
	if from < 0 {
		from = 0
	}
	for i := from; i < v.bits; i++ {
		if v.At(i) == val {
			return i
		}
	}
	return -1
}

// Slice returns a new Vector covering bits [from, to) of v.
func (v Vector) Slice(from, to int) Vector {
	if from < 0 || to < from || to > v.bits {
		panic(fmt.Sprintf("bitvec: slice [%d:%d) out of range [0,%d)", from, to, v.bits))
	}
	if from%8 == 0 {
		return New(v.data[from/8:], to-from)
	}
	var b Builder
	for i := from; i < to; i++ {
		b.AppendBit(v.At(i))
	}
	return b.Vector()
}

// Bytes returns a copy of the vector's packed bytes, LSB-first per byte.
// Unused bits in the final byte are zero.
func (v Vector) Bytes() []byte {
	out := make([]byte, len(v.data))
	copy(out, v.data)
	return out
}

// Equal reports whether both vectors hold the same bits in the same order.
func (v Vector) Equal(o Vector) bool {
	if v.bits != o.bits {
		return false
	}
	for i := range v.data {
		if v.data[i] != o.data[i] {
			return false
		}
	}
	return true
}

// Constant reports whether every bit of the vector equals val. It is
// vacuously true for an empty vector.
func (v Vector) Constant(val bool) bool {
	return v.Index(!val, 0) < 0
}

// String renders the vector as '0'/'1' characters, bit 0 first.
func (v Vector) String() string {
	var sb strings.Builder
	sb.Grow(v.bits)
	for i := 0; i < v.bits; i++ {
		if v.At(i) {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}

// Builder accumulates bits and produces an immutable Vector. The zero value
// is ready to use.
type Builder struct {
	data []byte
	bits int
}

// AppendBit appends a single bit.
func (b *Builder) AppendBit(bit bool) {
	if b.bits%8 == 0 {
		b.data = append(b.data, 0)
	}
	if bit {
		b.data[b.bits/8] |= 1 << (b.bits % 8)
	}
	b.bits++
}

// Append appends every bit of v in order.
func (b *Builder) Append(v Vector) {
	if b.bits%8 == 0 {
		// Byte aligned: splice the packed form directly.
		b.data = append(b.data[:b.bits/8], v.data...)
		b.bits += v.bits
		return
	}
	for i := 0; i < v.bits; i++ {
		b.AppendBit(v.At(i))
	}
}

// Len returns the number of bits appended so far.
func (b *Builder) Len() int {
	return b.bits
}

// Vector returns the accumulated bits as an immutable Vector.
func (b *Builder) Vector() Vector {
	return New(b.data, b.bits)
}
