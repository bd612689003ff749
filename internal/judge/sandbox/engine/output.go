package engine

import (
	"bytes"
	"sync"
)

// outputCap is a byte budget shared by the stdout and stderr collectors.
type outputCap struct {
	mu       sync.Mutex
	limit    int64
	used     int64
	exceeded bool
	onExceed func()
}

func newOutputCap(limit int64, onExceed func()) *outputCap {
	return &outputCap{limit: limit, onExceed: onExceed}
}

// writer returns a collector charging its writes to c.
func (c *outputCap) writer() *cappedBuffer {
	return &cappedBuffer{cap: c}
}

func (c *outputCap) overflowed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exceeded
}

type cappedBuffer struct {
	cap *outputCap
	buf bytes.Buffer
}

// Write keeps bytes up to the shared budget. Once the budget is crossed the
// rest is discarded and onExceed fires once. It never returns an error so the
// copying goroutine keeps draining the pipe until the process is killed.
func (b *cappedBuffer) Write(p []byte) (int, error) {
	c := b.cap
	c.mu.Lock()
	if c.exceeded {
		c.mu.Unlock()
		return len(p), nil
	}
	remaining := c.limit - c.used
	if int64(len(p)) <= remaining {
		b.buf.Write(p)
		c.used += int64(len(p))
		c.mu.Unlock()
		return len(p), nil
	}
	if remaining > 0 {
		b.buf.Write(p[:remaining])
		c.used = c.limit
	}
	c.exceeded = true
	c.mu.Unlock()
	if c.onExceed != nil {
		c.onExceed()
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	b.cap.mu.Lock()
	defer b.cap.mu.Unlock()
	return b.buf.String()
}
