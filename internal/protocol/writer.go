package protocol

import "fmt"

// Writer builds a Message that must not exceed a byte budget once encoded.
// The first failed put is sticky; later puts are ignored and Err reports it.
type Writer struct {
	msg   *Message
	limit int
	err   error
}

// NewWriter returns a writer bounded by limit encoded bytes.
func NewWriter(limit int) *Writer {
	return &Writer{msg: NewMessage(), limit: limit}
}

// Remaining returns how many encoded bytes are still available.
func (w *Writer) Remaining() int {
	return w.limit - w.msg.Size()
}

// Message returns the message built so far.
func (w *Writer) Message() *Message {
	return w.msg
}

// Err returns the first error encountered by a put.
func (w *Writer) Err() error {
	return w.err
}

func (w *Writer) fits(k Key, n int) bool {
	if w.err != nil {
		return false
	}
	need := TupleHeaderLen + n
	if old, ok := w.msg.Get(k); ok {
		need -= old.encodedLen()
	}
	if need > w.Remaining() {
		w.err = fmt.Errorf("put %s (%d bytes, %d left): %w", k, n, w.Remaining(), ErrNoSpace)
		return false
	}
	return true
}

func (w *Writer) PutUint8(k Key, v uint8) {
	if w.fits(k, 1) {
		w.msg.PutUint8(k, v)
	}
}

func (w *Writer) PutUint16(k Key, v uint16) {
	if w.fits(k, 2) {
		w.msg.PutUint16(k, v)
	}
}

func (w *Writer) PutUint32(k Key, v uint32) {
	if w.fits(k, 4) {
		w.msg.PutUint32(k, v)
	}
}

func (w *Writer) PutBytes(k Key, v []byte) {
	if w.fits(k, len(v)) {
		w.msg.PutBytes(k, v)
	}
}

func (w *Writer) PutTuple(t Tuple) {
	if w.fits(t.Key, len(t.Value)) {
		w.msg.Set(Tuple{Key: t.Key, Type: t.Type, Value: append([]byte(nil), t.Value...)})
	}
}
