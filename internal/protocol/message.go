package protocol

import (
	"encoding/binary"
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Type is the value type of a tuple.
type Type uint8

const (
	TypeBytes Type = iota
	TypeCString
	TypeUint
	TypeInt
)

func (t Type) String() string {
	switch t {
	case TypeBytes:
		return "bytes"
	case TypeCString:
		return "cstring"
	case TypeUint:
		return "uint"
	case TypeInt:
		return "int"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// Tuple is one keyed value of a Message.
type Tuple struct {
	Key   Key
	Type  Type
	Value []byte
}

// Uint decodes an unsigned integer tuple of width 1, 2 or 4 bytes.
func (t Tuple) Uint() uint32 {
	switch len(t.Value) {
	case 1:
		return uint32(t.Value[0])
	case 2:
		return uint32(binary.LittleEndian.Uint16(t.Value))
	case 4:
		return binary.LittleEndian.Uint32(t.Value)
	}
	return 0
}

// Int decodes a signed integer tuple of width 1, 2 or 4 bytes.
func (t Tuple) Int() int32 {
	switch len(t.Value) {
	case 1:
		return int32(int8(t.Value[0]))
	case 2:
		return int32(int16(binary.LittleEndian.Uint16(t.Value)))
	case 4:
		return int32(binary.LittleEndian.Uint32(t.Value))
	}
	return 0
}

// String returns a cstring value without its terminator.
func (t Tuple) String() string {
	v := t.Value
	if n := len(v); n > 0 && v[n-1] == 0 {
		v = v[:n-1]
	}
	return string(v)
}

func (t Tuple) encodedLen() int {
	return TupleHeaderLen + len(t.Value)
}

// Message is an ordered set of tuples keyed by Key. Setting an existing key
// replaces its value in place.
type Message struct {
	tuples *orderedmap.OrderedMap[Key, Tuple]
}

// NewMessage returns an empty message.
func NewMessage() *Message {
	return &Message{tuples: orderedmap.New[Key, Tuple]()}
}

// Set stores t, replacing any tuple with the same key.
func (m *Message) Set(t Tuple) {
	m.tuples.Set(t.Key, t)
}

// Get returns the tuple stored under k.
func (m *Message) Get(k Key) (Tuple, bool) {
	return m.tuples.Get(k)
}

// Has reports whether k is present.
func (m *Message) Has(k Key) bool {
	_, ok := m.tuples.Get(k)
	return ok
}

// Delete removes k.
func (m *Message) Delete(k Key) {
	m.tuples.Delete(k)
}

// Len returns the number of tuples.
func (m *Message) Len() int {
	return m.tuples.Len()
}

// Each visits tuples in insertion order until fn returns false.
func (m *Message) Each(fn func(Tuple) bool) {
	for pair := m.tuples.Oldest(); pair != nil; pair = pair.Next() {
		if !fn(pair.Value) {
			return
		}
	}
}

// Keys returns the keys in insertion order.
func (m *Message) Keys() []Key {
	keys := make([]Key, 0, m.Len())
	m.Each(func(t Tuple) bool {
		keys = append(keys, t.Key)
		return true
	})
	return keys
}

// Size is the encoded length of the message in bytes.
func (m *Message) Size() int {
	n := HeaderLen
	m.Each(func(t Tuple) bool {
		n += t.encodedLen()
		return true
	})
	return n
}

func (m *Message) PutUint8(k Key, v uint8) {
	m.Set(Tuple{Key: k, Type: TypeUint, Value: []byte{v}})
}

func (m *Message) PutUint16(k Key, v uint16) {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	m.Set(Tuple{Key: k, Type: TypeUint, Value: b})
}

func (m *Message) PutUint32(k Key, v uint32) {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	m.Set(Tuple{Key: k, Type: TypeUint, Value: b})
}

func (m *Message) PutInt32(k Key, v int32) {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(v))
	m.Set(Tuple{Key: k, Type: TypeInt, Value: b})
}

// PutBytes stores a copy of v.
func (m *Message) PutBytes(k Key, v []byte) {
	m.Set(Tuple{Key: k, Type: TypeBytes, Value: append([]byte(nil), v...)})
}

// PutCString stores s with a trailing NUL.
func (m *Message) PutCString(k Key, s string) {
	b := make([]byte, len(s)+1)
	copy(b, s)
	m.Set(Tuple{Key: k, Type: TypeCString, Value: b})
}
