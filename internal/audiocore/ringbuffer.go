package audiocore

import (
	"math/bits"
	"sync/atomic"
)

// cacheLinePad keeps the producer and consumer indices on separate cache lines.
type cacheLinePad [64]byte

// RingBuffer is a fixed-capacity single-producer single-consumer sample queue.
// Write may only be called from one goroutine and Read/ReadUpTo from one
// other goroutine. Neither side blocks, locks or allocates.
//
// Indices grow monotonically and are masked on access, so the write index is
// never more than Cap() ahead of the read index.
type RingBuffer struct {
	buf  []float32
	mask uint64

	_        cacheLinePad
	writeIdx atomic.Uint64 // advanced by the producer
	_        cacheLinePad
	readIdx  atomic.Uint64 // advanced by the consumer
	_        cacheLinePad
}

// RingCapacity returns the ring size for a stream period: frameCount * periods
// rounded up to a power of two.
func RingCapacity(frameCount, periods int) int {
	if frameCount <= 0 {
		frameCount = 1
	}
	if periods <= 0 {
		periods = 1
	}
	return nextPowerOfTwo(frameCount * periods)
}

func nextPowerOfTwo(n int) int {
	if n <= 2 {
		return 2
	}
	return 1 << bits.Len(uint(n-1))
}

// NewRingBuffer creates a ring holding at least capacity samples.
func NewRingBuffer(capacity int) *RingBuffer {
	size := nextPowerOfTwo(capacity)
	return &RingBuffer{
		buf:  make([]float32, size),
		mask: uint64(size - 1),
	}
}

// Cap returns the number of samples the ring can hold.
func (r *RingBuffer) Cap() int {
	return len(r.buf)
}

// Len returns the number of samples available to the consumer.
func (r *RingBuffer) Len() int {
	return int(r.writeIdx.Load() - r.readIdx.Load())
}

// Free returns the number of samples the producer can write.
func (r *RingBuffer) Free() int {
	return len(r.buf) - r.Len()
}

// Write appends all samples or none. It returns ErrOverrun when free space is
// smaller than len(samples).
func (r *RingBuffer) Write(samples []float32) error {
	n := uint64(len(samples))
	if n == 0 {
		return nil
	}

	w := r.writeIdx.Load()
	rd := r.readIdx.Load()
	if uint64(len(r.buf))-(w-rd) < n {
		return ErrOverrun
	}

	start := w & r.mask
	first := copy(r.buf[start:], samples)
	copy(r.buf, samples[first:])

	// Publish after the copy so the consumer never sees unwritten slots
	r.writeIdx.Store(w + n)
	return nil
}

// Read fills dest completely or reads nothing. It returns ErrUnderrun when
// fewer than len(dest) samples are available.
func (r *RingBuffer) Read(dest []float32) error {
	if len(dest) == 0 {
		return nil
	}
	if r.Len() < len(dest) {
		return ErrUnderrun
	}
	r.read(dest)
	return nil
}

// ReadUpTo drains at most len(dest) samples and returns how many were read.
func (r *RingBuffer) ReadUpTo(dest []float32) int {
	n := min(r.Len(), len(dest))
	if n == 0 {
		return 0
	}
	r.read(dest[:n])
	return n
}

func (r *RingBuffer) read(dest []float32) {
	rd := r.readIdx.Load()
	start := rd & r.mask
	first := copy(dest, r.buf[start:])
	copy(dest[first:], r.buf)

	// Release the slots only after they have been copied out
	r.readIdx.Store(rd + uint64(len(dest)))
}

// Reset discards buffered samples. Both sides must be quiescent.
func (r *RingBuffer) Reset() {
	r.readIdx.Store(r.writeIdx.Load())
}
