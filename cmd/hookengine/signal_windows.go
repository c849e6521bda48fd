//go:build windows

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
)

// handleInterruption cancels the command context on Ctrl+C.
func handleInterruption(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	// Windows only delivers SIGINT
	signal.Notify(sigChan, syscall.SIGINT)

	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("received signal, shutting down")
		cancel()
	}()
}
