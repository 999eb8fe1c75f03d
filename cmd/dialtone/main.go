// dialtone bridges carrier phone call media streams to a realtime
// voice engine: scripted outbound qualification calls with barge-in.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/teslashibe/go-dialtone/internal/log"
	"github.com/teslashibe/go-dialtone/pkg/bridge"
)

func main() {
	cfg := parseFlags()

	level := "info"
	if cfg.Debug {
		level = "debug"
	}
	log.Init(level)

	app, err := bridge.New(cfg)
	if err != nil {
		log.Error("configuration error", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errs := make(chan error, 1)
	go func() { errs <- app.Start() }()

	select {
	case err := <-errs:
		if err != nil {
			log.Error("listener failed", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := app.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown incomplete", "error", err)
			os.Exit(1)
		}
	}
}

// parseFlags parses command line flags and returns configuration.
func parseFlags() bridge.Config {
	cfg := bridge.DefaultConfig()

	debug := flag.Bool("debug", false, "Enable verbose debug logging")
	port := flag.String("port", cfg.Port, "HTTP listen port")
	mediaPath := flag.String("media-path", cfg.MediaPath, "Media stream WebSocket path")
	webhookPath := flag.String("webhook-path", cfg.WebhookPath, "Call-control webhook path")
	publicURL := flag.String("public-url", "", "Externally reachable base URL for outbound dials")
	flag.Parse()

	cfg.Debug = *debug
	cfg.Port = *port
	cfg.MediaPath = *mediaPath
	cfg.WebhookPath = *webhookPath
	cfg.PublicURL = *publicURL

	cfg.LoadEnvConfig()
	return cfg
}
