// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// classroom-rendezvous is the signaling server classroom participants
// use to find each other. It keeps announcements, offers and answers
// in memory; nothing survives a restart, and nothing needs to, since
// participants re-announce every few seconds.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bureau-foundation/classroom/lib/version"
	"github.com/bureau-foundation/classroom/transport"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		listenAddress string
		announceTTL   time.Duration
		showVersion   bool
	)
	flagSet := pflag.NewFlagSet("classroom-rendezvous", pflag.ContinueOnError)
	flagSet.StringVar(&listenAddress, "listen", ":7420", "address to serve HTTP on")
	flagSet.DurationVar(&announceTTL, "announce-ttl", transport.DefaultAnnounceTTL, "how long a participant stays listed after its last announcement")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		version.Print("classroom-rendezvous")
		return nil
	}
	if announceTTL <= 0 {
		return fmt.Errorf("--announce-ttl must be positive, got %s", announceTTL)
	}

	options := &slog.HandlerOptions{Level: slog.LevelInfo}
	var handler slog.Handler
	if term.IsTerminal(int(os.Stderr.Fd())) {
		handler = slog.NewTextHandler(os.Stderr, options)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, options)
	}
	logger := slog.New(handler)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listener, err := net.Listen("tcp", listenAddress)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", listenAddress, err)
	}
	rendezvous := transport.NewRendezvous(transport.NewMemorySignaler(nil, announceTTL), logger)
	logger.Info("rendezvous listening",
		"address", listener.Addr().String(),
		"announce_ttl", announceTTL,
		"version", version.Info(),
	)
	return serve(ctx, listener, rendezvous, logger)
}

// serve runs an HTTP server on listener until ctx is cancelled, then
// shuts it down gracefully.
func serve(ctx context.Context, listener net.Listener, handler http.Handler, logger *slog.Logger) error {
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveDone := make(chan error, 1)
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveDone <- err
		}
		close(serveDone)
	}()

	select {
	case <-ctx.Done():
		logger.Info("rendezvous shutting down")
	case err := <-serveDone:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	logger.Info("rendezvous stopped")
	return nil
}
