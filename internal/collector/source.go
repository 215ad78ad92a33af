// Package collector implements the internal-side entropy pipeline: the
// Multi-Source Fetcher, Mixer, Accumulator Buffer, Packer/Signer, and Pusher
// described by the distribution pipeline this repository implements.
package collector

import (
	"math/rand"
	"sync"
	"time"
)

// SourceConfig describes one configured appliance endpoint.
type SourceConfig struct {
	Name      string
	URL       string
	Period    time.Duration
	ChunkSize int
	Weight    float64

	// FailureThreshold is the number of consecutive failures after which the
	// source is quarantined. Defaults to 5 when zero.
	FailureThreshold int

	// RequestTimeout bounds a single fetch. Defaults to 2x Period, never less
	// than 1s, when zero.
	RequestTimeout time.Duration
}

func (c SourceConfig) timeout() time.Duration {
	if c.RequestTimeout > 0 {
		return c.RequestTimeout
	}
	t := c.Period * 2
	if t < time.Second {
		t = time.Second
	}
	return t
}

func (c SourceConfig) failureThreshold() int {
	if c.FailureThreshold > 0 {
		return c.FailureThreshold
	}
	return 5
}

// Source tracks the runtime state of one configured appliance endpoint:
// consecutive failures, quarantine status, and backoff schedule.
type Source struct {
	cfg SourceConfig

	mu                sync.Mutex
	consecutiveFails  int
	quarantined       bool
	lastSuccess       time.Time
	nextBackoffDelay  time.Duration
	neverSucceeded    bool
}

// NewSource constructs a Source in its initial, non-quarantined state.
func NewSource(cfg SourceConfig) *Source {
	return &Source{
		cfg:              cfg,
		neverSucceeded:   true,
		nextBackoffDelay: cfg.Period,
	}
}

func (s *Source) Config() SourceConfig {
	return s.cfg
}

// RecordSuccess resets the failure counter and clears quarantine.
func (s *Source) RecordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutiveFails = 0
	s.quarantined = false
	s.neverSucceeded = false
	s.lastSuccess = time.Now()
	s.nextBackoffDelay = s.cfg.Period
}

// RecordFailure increments the consecutive-failure count, quarantines the
// source once the threshold is reached, and advances the backoff delay
// (doubling, capped at 60s, with up to 20% jitter).
func (s *Source) RecordFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutiveFails++
	if s.consecutiveFails >= s.cfg.failureThreshold() {
		s.quarantined = true
	}
	s.nextBackoffDelay = nextBackoff(s.nextBackoffDelay, s.cfg.Period)
}

// Quarantined reports whether the Mixer should currently exclude this
// source from mixing windows.
func (s *Source) Quarantined() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quarantined
}

// NeverSucceeded reports whether the source has ever returned a valid
// response since process start.
func (s *Source) NeverSucceeded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.neverSucceeded
}

// BackoffDelay returns the current retry delay to apply after a failure,
// including jitter.
func (s *Source) BackoffDelay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return withJitter(s.nextBackoffDelay, 0.2)
}

const maxBackoff = 60 * time.Second

func nextBackoff(current, period time.Duration) time.Duration {
	if current <= 0 {
		current = period
	}
	next := current * 2
	if next > maxBackoff {
		next = maxBackoff
	}
	return next
}

func withJitter(d time.Duration, frac float64) time.Duration {
	if d <= 0 || frac <= 0 {
		return d
	}
	delta := float64(d) * frac
	return d + time.Duration(rand.Float64()*delta)
}
