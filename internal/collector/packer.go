package collector

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/entropybridge/qrngd/infrastructure/logging"
	"github.com/entropybridge/qrngd/internal/entropy"
)

// PackerConfig configures batch size and flush cadence. Both a time
// threshold and a size threshold (the Accumulator's high-water mark) can
// trigger a flush; whichever fires first wins, satisfying the combined
// size/time flush policy this pipeline calls for.
type PackerConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	Secret        []byte
}

// Packer drains the Accumulator into signed Entropy Packets with a single
// monotonic, process-wide sequence counter.
type Packer struct {
	cfg    PackerConfig
	acc    *Accumulator
	seq    uint64
	out    chan *entropy.Packet
	logger *logging.Logger
	cron   *cron.Cron
}

// NewPacker constructs a Packer. The sequence counter starts such that the
// first packet produced carries sequence 1.
func NewPacker(cfg PackerConfig, acc *Accumulator, logger *logging.Logger) *Packer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64 * 1024
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	return &Packer{
		cfg:    cfg,
		acc:    acc,
		out:    make(chan *entropy.Packet, 8),
		logger: logger,
		cron:   cron.New(),
	}
}

// Packets returns the channel on which freshly signed packets are delivered
// for the Pusher to transmit.
func (p *Packer) Packets() <-chan *entropy.Packet {
	return p.out
}

// Run starts the scheduled flush cron entry and a high-water-mark poller,
// blocking until ctx is cancelled. On return, it performs one final flush
// of any remaining buffered bytes.
func (p *Packer) Run(ctx context.Context) {
	spec := fmt.Sprintf("@every %s", p.cfg.FlushInterval)
	entryID, err := p.cron.AddFunc(spec, func() { p.flush(ctx) })
	if err != nil && p.logger != nil {
		p.logger.WithError(err).Warn("packer cron schedule failed, falling back to high-water polling only")
	}
	_ = entryID
	p.cron.Start()
	defer p.cron.Stop()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.flush(context.Background())
			return
		case <-ticker.C:
			if p.acc.HighWater() {
				p.flush(ctx)
			}
		}
	}
}

func (p *Packer) flush(ctx context.Context) {
	data := p.acc.Drain(p.cfg.BatchSize)
	if len(data) == 0 {
		return
	}

	seq := atomic.AddUint64(&p.seq, 1)
	pkt, err := entropy.NewPacket(seq, data, p.cfg.Secret, time.Now())
	if err != nil {
		if p.logger != nil {
			p.logger.WithError(err).Warn("packer failed to build packet")
		}
		return
	}

	select {
	case p.out <- pkt:
	case <-ctx.Done():
	}
}
