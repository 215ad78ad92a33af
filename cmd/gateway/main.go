// Package main is the Gateway process entry point: Push Receiver,
// Distribution Buffer, Request Router, and MCP Bridge wired onto one HTTP
// server and run until terminated.
package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/entropybridge/qrngd/infrastructure/logging"
	"github.com/entropybridge/qrngd/infrastructure/metrics"
	"github.com/entropybridge/qrngd/infrastructure/middleware"
	"github.com/entropybridge/qrngd/internal/gateway"
	"github.com/entropybridge/qrngd/internal/mcpbridge"
)

const (
	exitOK           = 0
	exitConfigError  = 1
	exitFatalRuntime = 2
	exitInterrupted  = 130
	shutdownDeadline = 30 * time.Second
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to YAML principal configuration")
	stdio := flag.Bool("mcp-stdio", false, "serve the MCP bridge over stdio instead of starting the HTTP server")
	flag.Parse()

	logger := logging.NewFromEnv("gateway")

	cfg, err := gateway.Load(*configPath)
	if err != nil {
		logger.WithError(err).Error("configuration invalid")
		return exitConfigError
	}

	m := metrics.New("gateway")

	buf := gateway.NewDistBuffer(cfg.BufferCapacity, cfg.OverflowPolicy)
	receiver := gateway.NewReceiver(gateway.ReceiverConfig{
		Secret:             cfg.HMACSecret,
		TTL:                cfg.TTL,
		ClockSkewTolerance: cfg.ClockSkewTolerance,
	}, buf, m, logger)

	if *stdio {
		bridge := mcpbridge.New(buf, receiver, logger)
		stdioServer := mcpbridge.NewStdioServer(bridge)
		if err := stdioServer.Serve(); err != nil {
			logger.WithError(err).Error("mcp stdio server failed")
			return exitFatalRuntime
		}
		return exitOK
	}

	router := gateway.NewRouter(*cfg, buf, receiver, m, logger)
	mux := router.Mux()

	bridge := mcpbridge.New(buf, receiver, logger)
	mux.Handle("/mcp", mcpbridge.HTTPHandler(bridge)).Methods(http.MethodPost)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	shutdown := middleware.NewGracefulShutdown(server, shutdownDeadline)
	shutdown.OnShutdown(func() {
		logger.WithFields(map[string]interface{}{}).Info("draining in-flight requests")
	})

	serverErr := make(chan error, 1)
	go func() {
		logger.WithFields(map[string]interface{}{"addr": cfg.ListenAddr}).Info("gateway listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.WithFields(map[string]interface{}{"signal": sig.String()}).Info("shutdown signal received")
		shutdown.Shutdown()
		shutdown.Wait()
		if sig == syscall.SIGINT {
			return exitInterrupted
		}
		return exitOK
	case err := <-serverErr:
		logger.WithError(err).Error("gateway server failed")
		return exitFatalRuntime
	}
}
