package samplebuf

import (
	"github.com/smallnest/ringbuffer"
)

// DefaultCapacity is the number of samples held before new arrivals are dropped.
const DefaultCapacity = 500

// Buffer is a bounded FIFO of packed samples. When full, newly arriving
// samples are dropped; buffered samples are never overwritten.
//
// Buffer is not safe for concurrent use.
type Buffer struct {
	ring     *ringbuffer.RingBuffer
	capacity int
	packBuf  []byte
	discard  []byte

	measured int
	sent     int
}

// New returns a buffer holding up to capacity samples.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		ring:     ringbuffer.New(capacity * SampleSize),
		capacity: capacity,
	}
}

// Cap returns the capacity in samples.
func (b *Buffer) Cap() int { return b.capacity }

// Len returns the number of buffered samples.
func (b *Buffer) Len() int { return b.ring.Length() / SampleSize }

// Free returns how many more samples fit.
func (b *Buffer) Free() int { return b.ring.Free() / SampleSize }

// Measured is the number of samples received since the last Reset.
func (b *Buffer) Measured() int { return b.measured }

// Sent is the number of samples committed since the last Reset.
func (b *Buffer) Sent() int { return b.sent }

// Dropped is the number of measured samples that were neither sent nor are
// still buffered.
func (b *Buffer) Dropped() int { return b.measured - b.sent - b.Len() }

// Append counts every sample as measured and buffers as many as fit.
// It returns the number accepted.
func (b *Buffer) Append(samples []Sample) int {
	b.measured += len(samples)

	n := min(len(samples), b.Free())
	if n == 0 {
		return 0
	}

	b.packBuf = AppendPacked(b.packBuf[:0], samples[:n])
	written, _ := b.ring.Write(b.packBuf)
	return written / SampleSize
}

// Peek returns the packed bytes of up to n samples from the front without
// removing them.
func (b *Buffer) Peek(n int) []byte {
	n = min(n, b.Len())
	if n <= 0 {
		return nil
	}
	out := make([]byte, n*SampleSize)
	read, _ := b.ring.Peek(out)
	return out[:read-read%SampleSize]
}

// Commit removes n samples from the front and advances the sent counter.
func (b *Buffer) Commit(n int) {
	n = min(n, b.Len())
	if n <= 0 {
		return
	}
	if cap(b.discard) < n*SampleSize {
		b.discard = make([]byte, b.capacity*SampleSize)
	}
	read, _ := b.ring.Read(b.discard[:n*SampleSize])
	b.sent += read / SampleSize
}

// Clear discards buffered samples but keeps the counters.
func (b *Buffer) Clear() {
	b.ring.Reset()
}

// Reset discards buffered samples and zeroes the counters.
func (b *Buffer) Reset() {
	b.ring.Reset()
	b.measured = 0
	b.sent = 0
}
