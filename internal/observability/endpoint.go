package observability

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/tphakala/loopback/internal/conf"
	"github.com/tphakala/loopback/internal/errors"
	metricspkg "github.com/tphakala/loopback/internal/observability/metrics"
)

const readHeaderTimeout = 5 * time.Second

// Endpoint serves Prometheus metrics over HTTP.
type Endpoint struct {
	server        *http.Server
	listenAddress string
}

// NewEndpoint creates a metrics endpoint. It returns an error when metrics
// are disabled in the settings.
func NewEndpoint(settings *conf.Settings, metrics *Metrics) (*Endpoint, error) {
	if !settings.Metrics.Enabled {
		return nil, errors.New(nil).
			Component("observability").
			Category(errors.CategoryConfiguration).
			Context("error", "metrics endpoint not enabled in settings").
			Build()
	}

	mux := http.NewServeMux()
	metrics.RegisterHandlers(mux)

	return &Endpoint{
		listenAddress: settings.Metrics.Listen,
		server: &http.Server{
			Addr:              settings.Metrics.Listen,
			Handler:           mux,
			ReadHeaderTimeout: readHeaderTimeout,
		},
	}, nil
}

// Run listens until ctx is cancelled, then shuts the server down gracefully.
func (e *Endpoint) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", e.listenAddress)
	if err != nil {
		return errors.New(err).
			Component("observability").
			Category(errors.CategoryNetwork).
			Context("operation", "listen").
			Context("address", e.listenAddress).
			Build()
	}
	return e.Serve(ctx, ln)
}

// Serve serves on an existing listener until ctx is cancelled.
func (e *Endpoint) Serve(ctx context.Context, ln net.Listener) error {
	logger := getLogger()
	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics endpoint starting", "address", ln.Addr().String())
		if err := e.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("metrics HTTP server error", "error", err)
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("stopping metrics endpoint")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), metricspkg.ShutdownTimeout)
	defer cancel()
	if err := e.server.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown error", "error", err)
		return err
	}
	<-errCh
	return nil
}
