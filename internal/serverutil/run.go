// Package serverutil runs an http.Server with graceful shutdown.
package serverutil

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"
)

// TLSConfig holds certificate paths for HTTPS serving.
type TLSConfig struct {
	CertFile string
	KeyFile  string
}

// Config describes one serve-until-cancelled run.
type Config struct {
	Server          *http.Server
	TLS             *TLSConfig
	ShutdownTimeout time.Duration
	// Ready, when non-nil, is closed once the listener is accepting.
	Ready chan<- struct{}
}

// Run serves until ctx is cancelled, then drains within ShutdownTimeout.
func Run(ctx context.Context, cfg Config) error {
	if cfg.Server == nil {
		return errors.New("server is required")
	}
	addr := cfg.Server.Addr
	if addr == "" {
		addr = ":http"
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	serveErr := make(chan error, 1)
	go func() {
		if cfg.TLS != nil {
			serveErr <- cfg.Server.ServeTLS(listener, cfg.TLS.CertFile, cfg.TLS.KeyFile)
			return
		}
		serveErr <- cfg.Server.Serve(listener)
	}()

	if cfg.Ready != nil {
		close(cfg.Ready)
	}

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := cfg.Server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
