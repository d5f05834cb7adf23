package types

import (
	"bytes"
	"fmt"
)

// BinValue is an immutable byte string. Literal form follows ToastStunt's
// binary-string convention: printable ASCII passes through verbatim,
// every other byte (including '~' itself) is escaped as `~XX~` hex.
type BinValue struct {
	data []byte
}

// NewBin creates a binary value, copying the given bytes.
func NewBin(b []byte) BinValue {
	cp := make([]byte, len(b))
	copy(cp, b)
	return BinValue{data: cp}
}

func (b BinValue) Type() TypeCode { return TYPE_BINARY }

func (b BinValue) String() string {
	var buf bytes.Buffer
	for _, c := range b.data {
		if c == '~' || c < 0x20 || c > 0x7e {
			fmt.Fprintf(&buf, "~%02X~", c)
		} else {
			buf.WriteByte(c)
		}
	}
	return buf.String()
}

func (b BinValue) Truthy() bool { return len(b.data) > 0 }

func (b BinValue) Equal(other Value) bool {
	o, ok := other.(BinValue)
	return ok && bytes.Equal(b.data, o.data)
}

// Bytes returns the underlying byte slice; callers must not mutate it.
func (b BinValue) Bytes() []byte { return b.data }

// Len implements the sequence capability.
func (b BinValue) Len() int { return len(b.data) }

// Get returns the 1-based byte at index as a single-byte BinValue.
func (b BinValue) Get(index int) Value {
	if index < 1 || index > len(b.data) {
		return nil
	}
	return NewBin(b.data[index-1 : index])
}

// Slice returns a new BinValue over [start, end], 1-based inclusive.
func (b BinValue) Slice(start, end int) BinValue {
	if start < 1 {
		start = 1
	}
	if end > len(b.data) {
		end = len(b.data)
	}
	if start > end {
		return NewBin(nil)
	}
	return NewBin(b.data[start-1 : end])
}

// Append returns a new BinValue with other's bytes appended.
func (b BinValue) Append(other BinValue) BinValue {
	return NewBin(append(append([]byte{}, b.data...), other.data...))
}

// Contains reports whether other's bytes occur anywhere in b.
func (b BinValue) Contains(other BinValue) bool {
	return bytes.Contains(b.data, other.data)
}
