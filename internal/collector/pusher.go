package collector

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/entropybridge/qrngd/infrastructure/logging"
	"github.com/entropybridge/qrngd/infrastructure/metrics"
	"github.com/entropybridge/qrngd/infrastructure/ratelimit"
	"github.com/entropybridge/qrngd/infrastructure/redaction"
	"github.com/entropybridge/qrngd/infrastructure/resilience"
	"github.com/entropybridge/qrngd/internal/entropy"
)

// PusherConfig configures the HTTP push client, its retry policy, and its
// circuit breaker.
type PusherConfig struct {
	PushURL        string
	RequestTimeout time.Duration
	Retry          resilience.RetryConfig
	Breaker        resilience.Config

	// MaxPushesPerSecond caps the push rate independent of the appliance
	// source cadence, so a burst of flushed packets cannot overrun the
	// Gateway's own admission rate. Zero disables the cap.
	MaxPushesPerSecond float64
}

// pusherHTTPClient is satisfied by both *http.Client and a
// ratelimit-wrapped client, so the rate cap can be enabled without
// changing the push path.
type pusherHTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Pusher delivers Entropy Packets to the Gateway's push endpoint. Permanent
// push failures drop the packet and increment a counter; the sequence
// number is never reused, so gaps at the receiver are expected and
// tolerated.
type Pusher struct {
	cfg     PusherConfig
	client  pusherHTTPClient
	breaker *resilience.CircuitBreaker
	metrics *metrics.Metrics
	logger  *logging.Logger
}

// NewPusher constructs a Pusher. When MaxPushesPerSecond is set, outbound
// requests are throttled client-side ahead of the circuit breaker and
// retry policy.
func NewPusher(cfg PusherConfig, m *metrics.Metrics, logger *logging.Logger) *Pusher {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	var client pusherHTTPClient = &http.Client{}
	if cfg.MaxPushesPerSecond > 0 {
		client = ratelimit.NewRateLimitedClient(&http.Client{}, ratelimit.RateLimitConfig{
			RequestsPerSecond: cfg.MaxPushesPerSecond,
			Burst:             int(cfg.MaxPushesPerSecond) + 1,
		})
	}
	return &Pusher{
		cfg:     cfg,
		client:  client,
		breaker: resilience.New(cfg.Breaker),
		metrics: m,
		logger:  logger,
	}
}

// Run consumes packets until packets is closed or ctx is cancelled,
// pushing each one in turn.
func (p *Pusher) Run(ctx context.Context, packets <-chan *entropy.Packet) {
	for {
		select {
		case <-ctx.Done():
			return
		case pkt, ok := <-packets:
			if !ok {
				return
			}
			p.push(ctx, pkt)
		}
	}
}

func (p *Pusher) push(ctx context.Context, pkt *entropy.Packet) {
	err := p.breaker.Execute(ctx, func() error {
		return resilience.Retry(ctx, p.cfg.Retry, func() error {
			return p.postOnce(ctx, pkt)
		})
	})
	if err != nil {
		if p.logger != nil {
			p.logger.WithError(err).WithFields(redaction.RedactMap(map[string]interface{}{
				"sequence": pkt.Sequence,
				"push_url": p.cfg.PushURL,
			})).Warn("packet push permanently failed, dropping")
		}
		if p.metrics != nil {
			p.metrics.RecordError("collector", "push_fatal", "push")
		}
	}
}

func (p *Pusher) postOnce(ctx context.Context, pkt *entropy.Packet) error {
	reqCtx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()

	body := pkt.Encode()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, p.cfg.PushURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("push sequence %d: %w", pkt.Sequence, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("push sequence %d: gateway returned %d", pkt.Sequence, resp.StatusCode)
	}
	return nil
}
