// Package resend holds serialized copies of messages whose delivery failed so
// they can be re-transmitted, most recent failure first.
package resend

import "errors"

// DefaultCapacity is the number of failed messages kept for retransmission.
const DefaultCapacity = 10

var ErrFull = errors.New("resend queue full")

// Entry is a failed message and the retry counter it carried (-1 if it was
// never resent).
type Entry struct {
	Payload []byte
	Attempt int
}

// Queue is a bounded LIFO of failed messages. Not safe for concurrent use.
type Queue struct {
	entries  []Entry
	capacity int
}

func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{entries: make([]Entry, 0, capacity), capacity: capacity}
}

// Push stores a copy of payload. It fails with ErrFull when at capacity.
func (q *Queue) Push(payload []byte, attempt int) error {
	if q.Full() {
		return ErrFull
	}
	q.entries = append(q.entries, Entry{
		Payload: append([]byte(nil), payload...),
		Attempt: attempt,
	})
	return nil
}

// Latest returns the most recently pushed entry.
func (q *Queue) Latest() (Entry, bool) {
	if len(q.entries) == 0 {
		return Entry{}, false
	}
	return q.entries[len(q.entries)-1], true
}

// DropLatest removes the most recently pushed entry.
func (q *Queue) DropLatest() {
	if n := len(q.entries); n > 0 {
		q.entries[n-1] = Entry{}
		q.entries = q.entries[:n-1]
	}
}

func (q *Queue) Len() int { return len(q.entries) }
func (q *Queue) Cap() int { return q.capacity }
func (q *Queue) Full() bool { return len(q.entries) >= q.capacity }

// Clear drops every entry.
func (q *Queue) Clear() {
	clear(q.entries)
	q.entries = q.entries[:0]
}
