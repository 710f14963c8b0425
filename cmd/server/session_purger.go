package main

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type sessionPurger interface {
	PurgeExpired() (int, error)
}

type purgeTicker interface {
	C() <-chan time.Time
	Stop()
}

type tickerFactory func(time.Duration) purgeTicker

type realTicker struct {
	ticker *time.Ticker
}

func (t *realTicker) C() <-chan time.Time { return t.ticker.C }
func (t *realTicker) Stop()               { t.ticker.Stop() }

func newRealTicker(interval time.Duration) purgeTicker {
	return &realTicker{ticker: time.NewTicker(interval)}
}

// startSessionPurgeWorker sweeps expired sessions on an interval until ctx
// is cancelled or the returned stop function runs.
func startSessionPurgeWorker(ctx context.Context, logger *slog.Logger, sessions sessionPurger, interval time.Duration, factory tickerFactory) func() {
	if interval <= 0 {
		return func() {}
	}
	if factory == nil {
		factory = newRealTicker
	}

	workerCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := factory(interval)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C():
				purged, err := sessions.PurgeExpired()
				if err != nil {
					logger.Error("session purge failed", "error", err)
					continue
				}
				if purged > 0 {
					logger.Info("purged expired sessions", "count", purged)
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}
