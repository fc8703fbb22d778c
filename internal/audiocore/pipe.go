package audiocore

import (
	"encoding/binary"
	"math"
	"sync/atomic"

	"github.com/smallnest/ringbuffer"
)

const (
	// DefaultPipeBytes matches the capture-to-playback pipe of the reference app.
	DefaultPipeBytes = 65536

	bytesPerSample   = 4
	pipeChunkSamples = 1024
)

// Pipe carries captured samples to the render callback for passthrough.
// Samples travel as little-endian float32 through a non-blocking byte ring.
// One goroutine may write while another reads; each side owns its scratch
// buffer, so neither allocates after construction.
type Pipe struct {
	rb *ringbuffer.RingBuffer

	writeScratch [pipeChunkSamples * bytesPerSample]byte
	readScratch  [pipeChunkSamples * bytesPerSample]byte

	dropped atomic.Int64 // samples rejected because the pipe was full
}

// NewPipe creates a pipe of the given byte capacity, rounded down to whole samples.
func NewPipe(capacityBytes int) *Pipe {
	if capacityBytes < bytesPerSample {
		capacityBytes = DefaultPipeBytes
	}
	capacityBytes -= capacityBytes % bytesPerSample
	return &Pipe{rb: ringbuffer.New(capacityBytes)}
}

// Write queues samples and returns how many did not fit. Only whole samples
// are queued so the reader never sees a torn value.
func (p *Pipe) Write(samples []float32) int {
	dropped := 0
	for len(samples) > 0 {
		n := min(len(samples), pipeChunkSamples, p.rb.Free()/bytesPerSample)
		if n == 0 {
			dropped += len(samples)
			break
		}
		buf := p.writeScratch[:n*bytesPerSample]
		for i, s := range samples[:n] {
			binary.LittleEndian.PutUint32(buf[i*bytesPerSample:], math.Float32bits(s))
		}

		written, err := p.rb.Write(buf)
		if err != nil {
			// ErrIsFull or ErrTooMuchDataToWrite, the remainder is lost
			dropped += n - written/bytesPerSample
			dropped += len(samples) - n
			break
		}
		samples = samples[n:]
	}
	if dropped > 0 {
		p.dropped.Add(int64(dropped))
	}
	return dropped
}

// Read dequeues up to len(out) samples and returns the count. The caller
// decides how to fill the rest.
func (p *Pipe) Read(out []float32) int {
	total := 0
	for total < len(out) {
		n := min(len(out)-total, pipeChunkSamples)
		buf := p.readScratch[:n*bytesPerSample]

		got, err := p.rb.Read(buf)
		if err != nil || got == 0 {
			break
		}
		for i := range got / bytesPerSample {
			out[total+i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*bytesPerSample:]))
		}
		total += got / bytesPerSample
		if got < len(buf) {
			break
		}
	}
	return total
}

// Cap returns the pipe capacity in samples.
func (p *Pipe) Cap() int {
	return p.rb.Capacity() / bytesPerSample
}

// Dropped returns the cumulative number of samples that did not fit.
func (p *Pipe) Dropped() int64 {
	return p.dropped.Load()
}

// Reset discards queued samples.
func (p *Pipe) Reset() {
	p.rb.Reset()
}
