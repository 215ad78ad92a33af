// Package main is the Collector process entry point: Fetcher, Mixer,
// Accumulator, Packer, and Pusher wired together and run until terminated.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/entropybridge/qrngd/infrastructure/logging"
	"github.com/entropybridge/qrngd/infrastructure/metrics"
	"github.com/entropybridge/qrngd/internal/collector"
)

const (
	exitOK             = 0
	exitConfigError    = 1
	exitFatalRuntime   = 2
	exitInterrupted    = 130
	finalFlushDeadline = 10 * time.Second
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to YAML source configuration")
	flag.Parse()

	logger := logging.NewFromEnv("collector")

	cfg, err := collector.Load(*configPath)
	if err != nil {
		logger.WithError(err).Error("configuration invalid")
		return exitConfigError
	}

	m := metrics.New("collector")

	sources := make([]*collector.Source, 0, len(cfg.Sources))
	for _, sc := range cfg.Sources {
		sources = append(sources, collector.NewSource(sc))
	}

	acc := collector.NewAccumulator(cfg.AccumulatorCapacity, cfg.HighWaterFraction)
	fetcher := collector.NewFetcher(sources, acc, logger)
	mixer := collector.NewMixer(cfg.MixStrategy, cfg.MixDeadline, sources, acc, logger)
	packer := collector.NewPacker(collector.PackerConfig{
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.FlushInterval,
		Secret:        cfg.HMACSecret,
	}, acc, logger)
	pusher := collector.NewPusher(collector.PusherConfig{
		PushURL:            cfg.PushURL,
		RequestTimeout:     cfg.PushTimeout,
		Retry:              cfg.RetryConfig,
		Breaker:            cfg.BreakerConfig,
		MaxPushesPerSecond: cfg.MaxPushesPerSecond,
	}, m, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		fetcher.Run(ctx)
	}()
	go mixer.Run(ctx, fetcher.Chunks())
	go packer.Run(ctx)
	go pusher.Run(ctx, packer.Packets())

	logger.WithFields(map[string]interface{}{
		"sources": len(sources),
		"strategy": string(cfg.MixStrategy),
	}).Info("collector started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logger.WithFields(map[string]interface{}{"signal": sig.String()}).Info("shutdown signal received")
	cancel()

	select {
	case <-done:
	case <-time.After(finalFlushDeadline):
		logger.WithFields(map[string]interface{}{}).Warn("fetcher shutdown deadline exceeded")
	}

	if sig == syscall.SIGINT {
		return exitInterrupted
	}
	return exitOK
}
