// Package gateway implements the external-side entropy pipeline: the Push
// Receiver, Distribution Buffer, Request Router, Monte-Carlo Evaluator, and
// the Metrics Registry surface these expose.
package gateway

import (
	"sync"
	"time"

	"github.com/entropybridge/qrngd/infrastructure/errors"
)

// OverflowPolicy selects what happens to a Distribution Buffer append that
// would exceed capacity.
type OverflowPolicy string

const (
	// DiscardNew accepts only the leading prefix of an overflowing append
	// that fits; the remainder is dropped.
	DiscardNew OverflowPolicy = "discard-new"

	// EvictOldest evicts bytes from the head until the incoming payload
	// fits, then appends it. A payload larger than capacity keeps only its
	// last capacity bytes.
	EvictOldest OverflowPolicy = "evict-oldest"
)

// batch tracks the arrival time of one append and how many of its bytes
// remain in the buffer, so the oldest-byte age can be reported without
// scanning the whole buffer.
type batch struct {
	arrived   time.Time
	remaining int
}

// DistBuffer is the Gateway-side byte FIFO: a hard capacity bound with a
// process-start overflow policy that never changes at runtime.
type DistBuffer struct {
	mu       sync.Mutex
	buf      []byte
	capacity int
	policy   OverflowPolicy
	batches  []batch

	discardedTotal int64
	evictedTotal   int64
}

// NewDistBuffer constructs a DistBuffer with the given capacity and
// overflow policy.
func NewDistBuffer(capacity int, policy OverflowPolicy) *DistBuffer {
	if capacity <= 0 {
		capacity = 10 << 20 // 10 MiB default
	}
	if policy != DiscardNew && policy != EvictOldest {
		policy = DiscardNew
	}
	return &DistBuffer{capacity: capacity, policy: policy}
}

// Append admits data according to the configured overflow policy. It
// returns the number of bytes actually admitted and the number dropped or
// evicted to make room. The capacity bound is never exceeded even
// transiently: the whole operation runs under one lock.
func (b *DistBuffer) Append(data []byte, arrivedAt time.Time) (admitted int, overflow int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(data) == 0 {
		return 0, 0
	}

	switch b.policy {
	case EvictOldest:
		dropped := 0
		if len(data) > b.capacity {
			dropped = len(data) - b.capacity
			data = data[dropped:]
		}
		overflow = b.evictForSpace(len(data)) + dropped
		b.buf = append(b.buf, data...)
		b.batches = append(b.batches, batch{arrived: arrivedAt, remaining: len(data)})
		b.evictedTotal += int64(overflow)
		return len(data), overflow

	default: // DiscardNew
		room := b.capacity - len(b.buf)
		if room <= 0 {
			b.discardedTotal += int64(len(data))
			return 0, len(data)
		}
		take := len(data)
		if take > room {
			overflow = take - room
			take = room
		}
		b.buf = append(b.buf, data[:take]...)
		b.batches = append(b.batches, batch{arrived: arrivedAt, remaining: take})
		b.discardedTotal += int64(overflow)
		return take, overflow
	}
}

// evictForSpace evicts from the head until incoming bytes of the given
// length fit within capacity. Must be called with b.mu held.
func (b *DistBuffer) evictForSpace(incoming int) int {
	if incoming > b.capacity {
		incoming = b.capacity
	}
	needed := len(b.buf) + incoming - b.capacity
	if needed <= 0 {
		return 0
	}
	evicted := 0
	for needed > 0 && len(b.batches) > 0 {
		head := &b.batches[0]
		if head.remaining <= needed {
			evicted += head.remaining
			needed -= head.remaining
			b.batches = b.batches[1:]
		} else {
			head.remaining -= needed
			evicted += needed
			needed = 0
		}
	}
	b.buf = b.buf[evicted:]
	return evicted
}

// Read removes exactly n bytes from the head. If fewer than n bytes are
// available, it returns InsufficientEntropy and does not return a short
// read or consume any bytes.
func (b *DistBuffer) Read(n int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.buf) < n {
		return nil, errors.InsufficientEntropy(n, len(b.buf), b.retryAfterLocked())
	}

	out := make([]byte, n)
	copy(out, b.buf[:n])
	b.buf = b.buf[n:]
	b.consumeBatchesLocked(n)
	return out, nil
}

func (b *DistBuffer) consumeBatchesLocked(n int) {
	for n > 0 && len(b.batches) > 0 {
		head := &b.batches[0]
		if head.remaining <= n {
			n -= head.remaining
			b.batches = b.batches[1:]
		} else {
			head.remaining -= n
			n = 0
		}
	}
}

// Len returns the number of bytes currently buffered.
func (b *DistBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

// Capacity returns the configured maximum buffer size.
func (b *DistBuffer) Capacity() int {
	return b.capacity
}

// FillPercent returns the current fill level as a percentage of capacity.
func (b *DistBuffer) FillPercent() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.capacity == 0 {
		return 0
	}
	return 100 * float64(len(b.buf)) / float64(b.capacity)
}

// FreshnessSeconds returns the age in seconds of the oldest byte currently
// buffered, derived from the arrival timestamp of the batch containing it.
// Returns 0 when the buffer is empty.
func (b *DistBuffer) FreshnessSeconds() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.batches) == 0 {
		return 0
	}
	return time.Since(b.batches[0].arrived).Seconds()
}

// DiscardedTotal returns the cumulative bytes dropped under discard-new.
func (b *DistBuffer) DiscardedTotal() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.discardedTotal
}

// EvictedTotal returns the cumulative bytes evicted under evict-oldest.
func (b *DistBuffer) EvictedTotal() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.evictedTotal
}

// retryAfterLocked returns a fixed retry-after hint in seconds: 1.0 when no
// batch is buffered, 0.5 otherwise. Must be called with b.mu held.
func (b *DistBuffer) retryAfterLocked() float64 {
	if len(b.batches) == 0 {
		return 1.0
	}
	return 0.5
}
