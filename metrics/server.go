package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/hugolhafner/go-transformer/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 5 * time.Second

// Handler returns an HTTP handler exposing the registry at path.
func Handler(reg *prometheus.Registry, path string) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return mux
}

// Serve exposes the registry on addr until ctx is cancelled.
func Serve(ctx context.Context, addr, path string, reg *prometheus.Registry, l logger.Logger) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	return serve(ctx, lis, Handler(reg, path), l)
}

func serve(ctx context.Context, lis net.Listener, h http.Handler, l logger.Logger) error {
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(lis)
	}()

	l.Info("Metrics endpoint listening", "addr", lis.Addr().String())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
