package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// HeaderLen is the size of the tuple-count prefix.
	HeaderLen = 1
	// TupleHeaderLen is key(4) + type(1) + length(2).
	TupleHeaderLen = 7

	maxTuples   = 255
	maxValueLen = 0xFFFF
)

var (
	ErrTruncated     = errors.New("message truncated")
	ErrNoSpace       = errors.New("no space left in message")
	ErrTooManyTuples = errors.New("too many tuples")
	ErrUnknownType   = errors.New("unknown tuple type")
	ErrTrailingData  = errors.New("trailing bytes after last tuple")
)

// Encode serializes m. Messages with more than 255 tuples or values longer
// than 64 KiB cannot be represented.
func Encode(m *Message) ([]byte, error) {
	if m.Len() > maxTuples {
		return nil, fmt.Errorf("encode: %d tuples: %w", m.Len(), ErrTooManyTuples)
	}

	buf := make([]byte, 0, m.Size())
	buf = append(buf, byte(m.Len()))

	var err error
	m.Each(func(t Tuple) bool {
		if len(t.Value) > maxValueLen {
			err = fmt.Errorf("encode: value of %s is %d bytes: %w", t.Key, len(t.Value), ErrNoSpace)
			return false
		}
		buf = binary.LittleEndian.AppendUint32(buf, uint32(t.Key))
		buf = append(buf, byte(t.Type))
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(t.Value)))
		buf = append(buf, t.Value...)
		return true
	})
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// Decode parses a payload produced by Encode. Values are copied out of data.
func Decode(data []byte) (*Message, error) {
	if len(data) < HeaderLen {
		return nil, fmt.Errorf("decode header: %w", ErrTruncated)
	}

	count := int(data[0])
	off := HeaderLen
	m := NewMessage()

	for i := 0; i < count; i++ {
		if len(data)-off < TupleHeaderLen {
			return nil, fmt.Errorf("decode tuple %d header: %w", i, ErrTruncated)
		}
		key := Key(binary.LittleEndian.Uint32(data[off:]))
		typ := Type(data[off+4])
		n := int(binary.LittleEndian.Uint16(data[off+5:]))
		off += TupleHeaderLen

		if typ > TypeInt {
			return nil, fmt.Errorf("decode tuple %s: %w (%d)", key, ErrUnknownType, typ)
		}
		if len(data)-off < n {
			return nil, fmt.Errorf("decode tuple %s value: %w", key, ErrTruncated)
		}
		m.Set(Tuple{Key: key, Type: typ, Value: append([]byte(nil), data[off:off+n]...)})
		off += n
	}

	if off != len(data) {
		return nil, fmt.Errorf("decode: %d bytes: %w", len(data)-off, ErrTrailingData)
	}
	return m, nil
}
