// Package shutdown provides signal-driven, timeout-bounded graceful
// shutdown: components register named callbacks, and a single SIGINT/
// SIGTERM fans out to all of them concurrently.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Shutdown coordinates graceful termination across independently
// started components (WebSocket connections, bootstrap workers, the
// HTTP server).
type Shutdown struct {
	logger    zerolog.Logger
	rootCtx   context.Context
	cancel    func()
	mutex     sync.Mutex
	callbacks []callback
	sigCh     chan os.Signal
}

type callback struct {
	name    string
	f       func()
	timeout time.Duration // 0 means run without a deadline
}

// NewShutdown wires a root context that is cancelled the moment a
// registered signal arrives.
func NewShutdown(logger zerolog.Logger) *Shutdown {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	return &Shutdown{
		logger:    logger,
		rootCtx:   ctx,
		cancel:    cancel,
		callbacks: make([]callback, 0),
		sigCh:     sigCh,
	}
}

// HookShutdownCallback registers a callback to run during shutdown. If
// timeout is 0 the callback runs to completion; otherwise a timeout is
// logged (but the callback is not forcibly killed — Go has no safe way
// to do that for an arbitrary goroutine).
func (s *Shutdown) HookShutdownCallback(name string, f func(), timeout time.Duration) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.callbacks = append(s.callbacks, callback{name: name, f: f, timeout: timeout})
}

// Context returns the root context, cancelled on shutdown.
func (s *Shutdown) Context() context.Context {
	return s.rootCtx
}

// SysDown returns a channel closed once shutdown has been triggered.
func (s *Shutdown) SysDown() <-chan struct{} {
	return s.rootCtx.Done()
}

// WaitForShutdown blocks until one of sigs arrives, then runs every
// registered callback concurrently and returns once they've all
// finished or timed out.
func (s *Shutdown) WaitForShutdown(sigs ...os.Signal) {
	if len(sigs) > 0 {
		signal.Notify(s.sigCh, sigs...)
	}
	<-s.sigCh
	s.cancel()
	s.logger.Info().Msg("shutdown signal received, running shutdown callbacks")
	s.shutdown()
	s.logger.Info().Msg("shutdown completed")
}

// ShutdownNow manually triggers the shutdown process without waiting
// for a signal.
func (s *Shutdown) ShutdownNow() {
	s.cancel()
	s.logger.Info().Msg("manual shutdown triggered")
	s.shutdown()
	s.logger.Info().Msg("shutdown completed")
}

func (s *Shutdown) shutdown() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	wg := sync.WaitGroup{}
	for _, f := range s.callbacks {
		wg.Add(1)
		go func(f callback) {
			defer wg.Done()
			s.logger.Info().Str("callback", f.name).Msg("shutdown callback starting")

			var ctx context.Context
			var cancel context.CancelFunc
			if f.timeout > 0 {
				ctx, cancel = context.WithTimeout(context.Background(), f.timeout)
				defer cancel()
			} else {
				ctx = context.Background()
			}

			done := make(chan struct{})
			go func() {
				defer close(done)
				f.f()
			}()

			select {
			case <-done:
				s.logger.Info().Str("callback", f.name).Msg("shutdown callback done")
			case <-ctx.Done():
				if f.timeout > 0 {
					s.logger.Error().Str("callback", f.name).Dur("timeout", f.timeout).Msg("shutdown callback timed out")
				}
			}
		}(f)
	}
	wg.Wait()
}
