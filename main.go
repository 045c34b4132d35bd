package main

import (
	"context"
	"log"
	"os"
	"os/signal"

	"github.com/seanott/gapmon/monitor"
)

// handleTermination processes context cancellation signals or interrupt signals from the OS.
func handleTermination(ctx context.Context, cancel context.CancelFunc) {
	// Listen for interrupt signals.
	signals := []os.Signal{os.Interrupt}
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, signals...)

	// Wait for the context to be cancelled or an interrupt signal.
	for {
		select {
		case <-ctx.Done():
			return

		case <-interrupt:
			cancel()
		}
	}
}

func main() {
	var cfg Config
	err := loadConfig(&cfg, "")
	if err != nil {
		log.Printf("loading config: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serviceCfg, err := cfg.serviceConfig()
	if err != nil {
		log.Printf("building service config: %v", err)
		return
	}
	serviceCfg.Cancel = cancel

	service, err := monitor.NewService(ctx, serviceCfg)
	if err != nil {
		log.Printf("creating gap monitor service: %v", err)
		return
	}

	go handleTermination(ctx, cancel)
	service.Run(ctx)
}
