package collector

import (
	"context"
	"crypto/sha256"
	"io"
	"sort"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/entropybridge/qrngd/infrastructure/logging"
)

// Strategy selects how a mixing window's chunks are combined into a single
// output stream.
type Strategy string

const (
	// StrategyXORFusion XORs aligned chunk bytes; output length is the
	// shortest chunk in the window.
	StrategyXORFusion Strategy = "xor"

	// StrategyHKDFWhiten derives output bytes from the concatenation of all
	// chunks in the window via HMAC-SHA256-based HKDF, whitening any
	// correlation between sources.
	StrategyHKDFWhiten Strategy = "hkdf"
)

const hkdfInfo = "qrng-mix"

// AccumulatorSink is the append target the Mixer writes mixed output into.
// Accumulator satisfies this interface.
type AccumulatorSink interface {
	Append(ctx context.Context, data []byte) error
}

// Mixer fans in RawChunks from every active Source into mixing windows and
// appends the combined output to an AccumulatorSink.
type Mixer struct {
	strategy    Strategy
	deadline    time.Duration
	sources     []*Source
	sink        AccumulatorSink
	logger      *logging.Logger
	pending     map[string]RawChunk
}

// NewMixer constructs a Mixer. deadline is the maximum time to wait for a
// full window before mixing whatever chunks are available.
func NewMixer(strategy Strategy, deadline time.Duration, sources []*Source, sink AccumulatorSink, logger *logging.Logger) *Mixer {
	if deadline <= 0 {
		deadline = time.Second
	}
	return &Mixer{
		strategy: strategy,
		deadline: deadline,
		sources:  sources,
		sink:     sink,
		logger:   logger,
		pending:  make(map[string]RawChunk),
	}
}

// Run consumes chunks from in until ctx is cancelled or in is closed,
// assembling and flushing mixing windows as they complete or time out.
func (m *Mixer) Run(ctx context.Context, in <-chan RawChunk) {
	timer := time.NewTimer(m.deadline)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-in:
			if !ok {
				return
			}
			m.pending[chunk.Source] = chunk
			if m.windowComplete() {
				m.flush(ctx)
				timer.Reset(m.deadline)
			}
		case <-timer.C:
			if len(m.pending) > 0 {
				m.flush(ctx)
			}
			timer.Reset(m.deadline)
		}
	}
}

// windowComplete reports whether every currently non-quarantined Source has
// contributed an unconsumed chunk to the pending window.
func (m *Mixer) windowComplete() bool {
	active := 0
	for _, s := range m.sources {
		if !s.Quarantined() {
			active++
		}
	}
	if active == 0 {
		return false
	}
	return len(m.pending) >= active
}

func (m *Mixer) flush(ctx context.Context) {
	if len(m.pending) == 0 {
		return
	}
	chunks := make([]RawChunk, 0, len(m.pending))
	for _, c := range m.pending {
		chunks = append(chunks, c)
	}
	// Deterministic ordering so XOR alignment and HKDF concatenation are
	// reproducible across runs for the same set of sources.
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Source < chunks[j].Source })

	out := mixChunks(m.strategy, chunks)
	m.pending = make(map[string]RawChunk)
	if len(out) == 0 {
		return
	}
	if err := m.sink.Append(ctx, out); err != nil {
		if m.logger != nil {
			m.logger.WithError(err).Warn("mixer append failed")
		}
	}
}

// mixChunks combines chunks per strategy. A single chunk degrades to
// identity regardless of strategy.
func mixChunks(strategy Strategy, chunks []RawChunk) []byte {
	if len(chunks) == 0 {
		return nil
	}
	if len(chunks) == 1 {
		return chunks[0].Bytes
	}
	switch strategy {
	case StrategyHKDFWhiten:
		return hkdfWhiten(chunks)
	default:
		return xorFusion(chunks)
	}
}

func xorFusion(chunks []RawChunk) []byte {
	minLen := len(chunks[0].Bytes)
	for _, c := range chunks[1:] {
		if len(c.Bytes) < minLen {
			minLen = len(c.Bytes)
		}
	}
	out := make([]byte, minLen)
	copy(out, chunks[0].Bytes[:minLen])
	for _, c := range chunks[1:] {
		for i := 0; i < minLen; i++ {
			out[i] ^= c.Bytes[i]
		}
	}
	return out
}

func hkdfWhiten(chunks []RawChunk) []byte {
	total := 0
	for _, c := range chunks {
		total += len(c.Bytes)
	}
	ikm := make([]byte, 0, total)
	for _, c := range chunks {
		ikm = append(ikm, c.Bytes...)
	}

	reader := hkdf.New(sha256.New, ikm, nil, []byte(hkdfInfo))
	out := make([]byte, total)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil
	}
	return out
}
