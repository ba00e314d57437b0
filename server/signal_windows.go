package server

import (
	"context"
	"os"
	"os/signal"
)

// HandleSignals returns a context that is canceled on interrupt.
func (s *Server) HandleSignals(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	go func() {
		select {
		case <-c:
			s.logger.Warnf("Received interrupt, canceling")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(c)
	}()
	return ctx, cancel
}
