// Package mcpbridge exposes the Gateway's Distribution Buffer over the
// Model Context Protocol: a fixed tool catalog mirroring the authenticated
// Request Router operations, plus a status tool. The bridge is stateless
// with respect to entropy — every call is one internal buffer operation,
// never cached.
package mcpbridge

import (
	"encoding/hex"
	"time"

	"github.com/entropybridge/qrngd/infrastructure/logging"
	"github.com/entropybridge/qrngd/internal/gateway"
)

// Bridge holds the dependencies shared by both the stdio tool catalog and
// the hand-rolled JSON-RPC HTTP surface.
type Bridge struct {
	buf       *gateway.DistBuffer
	receiver  *gateway.Receiver
	logger    *logging.Logger
	startTime time.Time
}

// New constructs a Bridge over an already-running Distribution Buffer and
// Push Receiver.
func New(buf *gateway.DistBuffer, receiver *gateway.Receiver, logger *logging.Logger) *Bridge {
	return &Bridge{buf: buf, receiver: receiver, logger: logger, startTime: time.Now()}
}

// GetRandomBytes returns n quantum bytes hex-encoded.
func (b *Bridge) GetRandomBytes(n int) (map[string]interface{}, error) {
	data, err := gateway.RandomBytes(b.buf, n)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"bytes":    hex.EncodeToString(data),
		"encoding": "hex",
	}, nil
}

// GetRandomIntegers returns count integers uniformly distributed in [min, max].
func (b *Bridge) GetRandomIntegers(count int, min, max int64) ([]int64, error) {
	return gateway.RandomIntegers(b.buf, count, min, max)
}

// GetRandomFloats returns count IEEE-754 doubles uniformly in [0, 1).
func (b *Bridge) GetRandomFloats(count int) ([]float64, error) {
	return gateway.RandomFloats(b.buf, count)
}

// GetRandomUUID returns count RFC-4122 version-4 UUIDs as strings.
func (b *Bridge) GetRandomUUID(count int) ([]string, error) {
	ids, err := gateway.RandomUUIDs(b.buf, count)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out, nil
}

// GetStatus reports the buffer's current fill state, matching the Request
// Router's status operation.
func (b *Bridge) GetStatus() map[string]interface{} {
	return map[string]interface{}{
		"fill_percent":      b.buf.FillPercent(),
		"bytes_available":   b.buf.Len(),
		"freshness_seconds": b.buf.FreshnessSeconds(),
		"uptime_seconds":    time.Since(b.startTime).Seconds(),
	}
}
