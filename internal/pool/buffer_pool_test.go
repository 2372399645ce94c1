package pool

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPoolReusesObjects(t *testing.T) {
	p := NewPool(
		func() *bytes.Buffer { return &bytes.Buffer{} },
		func(b **bytes.Buffer) { (*b).Reset() },
	)

	buf := p.Get()
	buf.WriteString("hello")
	p.Put(buf)

	got := p.Get()
	assert.Equal(t, 0, got.Len(), "buffer should be reset on Put")

	stats := p.Stats()
	assert.Equal(t, int64(2), stats.Gets)
	assert.Equal(t, int64(1), stats.Puts)
	assert.Equal(t, int64(1), stats.Resets)
}

func TestPoolStatsHitRate(t *testing.T) {
	s := PoolStats{Gets: 10, News: 2}
	assert.InDelta(t, 0.8, s.HitRate(), 1e-9)

	assert.Zero(t, PoolStats{}.HitRate())
}

func TestByteBufferPoolResets(t *testing.T) {
	buf := ByteBufferPool.Get()
	buf.WriteString("payload")
	ByteBufferPool.Put(buf)

	got := ByteBufferPool.Get()
	defer ByteBufferPool.Put(got)
	assert.Equal(t, 0, got.Len())
}
