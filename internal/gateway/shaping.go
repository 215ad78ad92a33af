package gateway

import (
	"encoding/binary"
	"math"
	"math/big"

	"github.com/google/uuid"

	"github.com/entropybridge/qrngd/infrastructure/errors"
)

const (
	MaxByteRequest    = 1 << 20 // 1,048,576
	MaxIntegerCount   = 10000
	MaxFloatCount     = 10000
	MaxUUIDCount      = 1000
)

// RandomBytes reads n raw bytes straight from buf.
func RandomBytes(buf *DistBuffer, n int) ([]byte, error) {
	if n < 1 || n > MaxByteRequest {
		return nil, errors.InvalidRequest("length out of range")
	}
	return buf.Read(n)
}

// RandomIntegers draws count integers uniformly from [min, max] inclusive
// using rejection sampling over 8 consumed bytes per candidate draw, so the
// output distribution is unbiased even when the range does not evenly
// divide 2^64.
func RandomIntegers(buf *DistBuffer, count int, min, max int64) ([]int64, error) {
	if count < 1 || count > MaxIntegerCount {
		return nil, errors.InvalidRequest("count out of range")
	}
	if min > max {
		return nil, errors.InvalidRequest("min must be <= max")
	}

	rangeSize := new(big.Int).Sub(big.NewInt(max), big.NewInt(min))
	rangeSize.Add(rangeSize, big.NewInt(1))
	maxSpan := new(big.Int).Lsh(big.NewInt(1), 64)
	if rangeSize.Cmp(maxSpan) > 0 {
		return nil, errors.ArithmeticRange(rangeSize.String())
	}
	r := rangeSize.Uint64() // truncates to 0 when rangeSize is exactly 2^64

	if r == 0 || math.MaxUint64%r == r-1 {
		// rangeSize == 2^64 means the full int64 span was requested; any
		// other r that divides 2^64 also needs no rejection. Every 8-byte
		// draw then maps uniformly onto the range.
		out := make([]int64, count)
		for i := range out {
			data, err := buf.Read(8)
			if err != nil {
				return nil, err
			}
			x := binary.LittleEndian.Uint64(data)
			if r == 0 {
				out[i] = int64(x)
			} else {
				out[i] = min + int64(x%r)
			}
		}
		return out, nil
	}

	// limit is the largest multiple of r not exceeding 2^64; draws at or
	// above it are rejected to keep the mapping unbiased.
	limit := (math.MaxUint64 / r) * r

	out := make([]int64, 0, count)
	for len(out) < count {
		draw, err := drawUint64WithRejection(buf, limit)
		if err != nil {
			return nil, err
		}
		out = append(out, min+int64(draw%r))
	}
	return out, nil
}

// drawUint64WithRejection consumes 8-byte draws from buf until one falls
// below limit, the largest multiple of the target range not exceeding
// 2^64.
func drawUint64WithRejection(buf *DistBuffer, limit uint64) (uint64, error) {
	for {
		data, err := buf.Read(8)
		if err != nil {
			return 0, err
		}
		x := binary.LittleEndian.Uint64(data)
		if x < limit {
			return x, nil
		}
	}
}

// RandomFloats draws count IEEE-754 doubles uniformly distributed in
// [0, 1), each consuming 8 bytes.
func RandomFloats(buf *DistBuffer, count int) ([]float64, error) {
	if count < 1 || count > MaxFloatCount {
		return nil, errors.InvalidRequest("count out of range")
	}
	data, err := buf.Read(8 * count)
	if err != nil {
		return nil, err
	}
	out := make([]float64, count)
	for i := 0; i < count; i++ {
		u := binary.LittleEndian.Uint64(data[i*8 : i*8+8])
		out[i] = uint64ToUnitFloat(u)
	}
	return out, nil
}

// RandomUUIDs draws count RFC-4122 version-4 UUIDs, each consuming 16
// bytes with the version and variant bits overwritten per the standard.
func RandomUUIDs(buf *DistBuffer, count int) ([]uuid.UUID, error) {
	if count < 1 || count > MaxUUIDCount {
		return nil, errors.InvalidRequest("count out of range")
	}
	data, err := buf.Read(16 * count)
	if err != nil {
		return nil, err
	}
	out := make([]uuid.UUID, count)
	for i := 0; i < count; i++ {
		b := make([]byte, 16)
		copy(b, data[i*16:i*16+16])
		b[6] = (b[6] & 0x0f) | 0x40
		b[8] = (b[8] & 0x3f) | 0x80
		id, err := uuid.FromBytes(b)
		if err != nil {
			return nil, err
		}
		out[i] = id
	}
	return out, nil
}
