//go:build !windows

package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// HandleSignals returns a context that is canceled on SIGINT or SIGTERM,
// stopping running pipelines. A second signal exits immediately.
func (s *Server) HandleSignals(parent context.Context) (context.Context, context.CancelFunc) {
	return s.handleSignals(parent, os.Interrupt, syscall.SIGTERM)
}

func (s *Server) handleSignals(parent context.Context, sigs ...os.Signal) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	c := make(chan os.Signal, 1)
	signal.Notify(c, sigs...)
	go func() {
		select {
		case sig := <-c:
			s.logger.Warnf("Received %s, canceling", sig)
			cancel()
		case <-ctx.Done():
			signal.Stop(c)
			return
		}
		select {
		case <-c:
			s.logger.Errorf("Received second signal, exiting")
			os.Exit(1)
		case <-parent.Done():
		}
		signal.Stop(c)
	}()
	return ctx, cancel
}
