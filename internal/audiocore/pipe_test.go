package audiocore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPipePassesSamplesInOrder(t *testing.T) {
	t.Parallel()

	p := NewPipe(DefaultPipeBytes)
	assert.Equal(t, DefaultPipeBytes/4, p.Cap())

	in := []float32{0.5, -0.25, 1, -1, 0}
	assert.Equal(t, 0, p.Write(in))

	out := make([]float32, 8)
	n := p.Read(out)
	assert.Equal(t, len(in), n)
	assert.Equal(t, in, out[:n])
	assert.Zero(t, p.Read(out))
}

func TestPipeLargeWriteCrossesChunks(t *testing.T) {
	t.Parallel()

	p := NewPipe(DefaultPipeBytes)
	in := seq(0, 3*pipeChunkSamples+17)
	assert.Equal(t, 0, p.Write(in))

	out := make([]float32, len(in))
	assert.Equal(t, len(in), p.Read(out))
	assert.Equal(t, in, out)
}

func TestPipeCountsDroppedSamples(t *testing.T) {
	t.Parallel()

	p := NewPipe(16 * 4) // 16 samples
	assert.Equal(t, 0, p.Write(seq(0, 10)))
	assert.Equal(t, 4, p.Write(seq(10, 10)))
	assert.Equal(t, 10, p.Write(seq(20, 10)))
	assert.Equal(t, int64(14), p.Dropped())

	out := make([]float32, 32)
	n := p.Read(out)
	assert.Equal(t, 16, n)
	assert.Equal(t, seq(0, 16), out[:n])
}

func TestPipeReadEmpty(t *testing.T) {
	t.Parallel()

	p := NewPipe(1024)
	out := make([]float32, 4)
	assert.Equal(t, 0, p.Read(out))
}

func TestPipeRoundsCapacityToSamples(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 2, NewPipe(11).Cap())
	assert.Equal(t, DefaultPipeBytes/4, NewPipe(0).Cap())
}
