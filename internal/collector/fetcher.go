package collector

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/entropybridge/qrngd/infrastructure/logging"
)

// RawChunk is a byte sequence pulled from one Source on one fetch cycle.
type RawChunk struct {
	Source    string
	Bytes     []byte
	Arrived   time.Time
}

// BackpressureGate reports whether downstream capacity currently allows new
// fetches to be scheduled. The Accumulator satisfies this interface; the
// Fetcher consults it before issuing each periodic request so that a full
// Accumulator suspends Fetcher tasks rather than discarding fetched bytes.
type BackpressureGate interface {
	IsFull() bool
}

// Fetcher runs one independent periodic task per configured Source and
// emits RawChunks on a shared channel for the Mixer to consume.
type Fetcher struct {
	client  *http.Client
	sources []*Source
	gate    BackpressureGate
	logger  *logging.Logger
	out     chan RawChunk
}

// NewFetcher constructs a Fetcher over the given sources. gate may be nil,
// in which case no backpressure is applied (useful in tests).
func NewFetcher(sources []*Source, gate BackpressureGate, logger *logging.Logger) *Fetcher {
	return &Fetcher{
		client:  &http.Client{},
		sources: sources,
		gate:    gate,
		logger:  logger,
		out:     make(chan RawChunk, len(sources)*2+1),
	}
}

// Chunks returns the channel on which fetched RawChunks are delivered.
func (f *Fetcher) Chunks() <-chan RawChunk {
	return f.out
}

// Run starts one goroutine per Source and blocks until ctx is cancelled.
// A slow or failing Source never delays another: each runs its own loop.
func (f *Fetcher) Run(ctx context.Context) {
	done := make(chan struct{}, len(f.sources))
	for _, src := range f.sources {
		go func(s *Source) {
			f.runSource(ctx, s)
			done <- struct{}{}
		}(src)
	}
	for range f.sources {
		<-done
	}
}

func (f *Fetcher) runSource(ctx context.Context, src *Source) {
	period := src.Config().Period
	if period <= 0 {
		period = time.Second
	}
	timer := time.NewTimer(period)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if f.gate != nil && f.gate.IsFull() {
			// Accumulator has no room; skip this cycle rather than fetch
			// bytes we cannot store. Retry at the normal period.
			timer.Reset(period)
			continue
		}

		if err := f.fetchOnce(ctx, src); err != nil {
			src.RecordFailure()
			if f.logger != nil {
				f.logger.WithError(err).WithFields(map[string]interface{}{
					"source": src.Config().Name,
				}).Warn("source fetch failed")
			}
			if src.NeverSucceeded() && src.Quarantined() {
				// Fatal: this source has never once succeeded. Keep probing
				// on the capped backoff but nothing else changes.
			}
			timer.Reset(src.BackoffDelay())
			continue
		}

		src.RecordSuccess()
		timer.Reset(period)
	}
}

func (f *Fetcher) fetchOnce(ctx context.Context, src *Source) error {
	cfg := src.Config()
	reqCtx, cancel := context.WithTimeout(ctx, cfg.timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", cfg.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: status %d", cfg.Name, resp.StatusCode)
	}

	buf := make([]byte, cfg.ChunkSize)
	n, err := io.ReadFull(resp.Body, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return fmt.Errorf("read %s: %w", cfg.Name, err)
	}
	if n < cfg.ChunkSize {
		return fmt.Errorf("fetch %s: truncated response, got %d want %d", cfg.Name, n, cfg.ChunkSize)
	}

	chunk := RawChunk{Source: cfg.Name, Bytes: buf, Arrived: time.Now()}
	select {
	case f.out <- chunk:
	case <-ctx.Done():
	}
	return nil
}
