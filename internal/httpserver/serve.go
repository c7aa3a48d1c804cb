// Package httpserver runs an http.Server until its context is cancelled.
package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/sofigonzalez2012/secrets-project/internal/logutil"
)

// Serve listens on bind and blocks until ctx is done (graceful shutdown) or
// the listener fails.
func Serve(ctx context.Context, bind string, handler http.Handler) error {
	server := &http.Server{
		Handler:           handler,
		Addr:              bind,
		ReadTimeout:       time.Minute,
		WriteTimeout:      time.Minute,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       5 * time.Minute,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}
	return run(ctx, server, server.ListenAndServe)
}

func run(ctx context.Context, server *http.Server, listen func() error) error {
	log := logutil.GetOrDefault(ctx).With().Str("server.addr", server.Addr).Logger()
	errc := make(chan error, 1)
	go func() {
		log.Info().Msg("Starting HTTP server")
		err := listen()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errc <- err
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	log.Info().Msg("Initiating shutdown process")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info().Msg("Shutdown completed")
	return <-errc
}
