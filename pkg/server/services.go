package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/gc"
	"github.com/marmos91/dittodrive/pkg/metrics"
)

// HTTPService serves an http.Handler.
type HTTPService struct {
	name     string
	server   *http.Server
	listener net.Listener

	ready    chan struct{}
	stopOnce sync.Once
}

// NewHTTPService creates a service listening on addr.
func NewHTTPService(name, addr string, handler http.Handler) *HTTPService {
	return &HTTPService{
		name: name,
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		ready: make(chan struct{}),
	}
}

func (h *HTTPService) Name() string { return h.name }

// Serve listens and serves until ctx is cancelled.
func (h *HTTPService) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", h.server.Addr, err)
	}
	h.listener = ln
	close(h.ready)

	logger.Info("%s listening on %s", h.name, ln.Addr())

	errChan := make(chan error, 1)
	go func() {
		errChan <- h.server.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Addr returns the bound address once Serve is listening. It blocks until
// then or until ctx is done.
func (h *HTTPService) Addr(ctx context.Context) (net.Addr, error) {
	select {
	case <-h.ready:
		return h.listener.Addr(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop drains in-flight requests until ctx expires.
func (h *HTTPService) Stop(ctx context.Context) error {
	var err error
	h.stopOnce.Do(func() {
		err = h.server.Shutdown(ctx)
		if err == nil {
			logger.Info("%s stopped", h.name)
		}
	})
	return err
}

// MetricsService runs the Prometheus endpoint.
type MetricsService struct {
	server *metrics.Server
}

// NewMetricsService wraps s.
func NewMetricsService(s *metrics.Server) *MetricsService {
	return &MetricsService{server: s}
}

func (m *MetricsService) Name() string { return "metrics" }

func (m *MetricsService) Serve(ctx context.Context) error { return m.server.Start(ctx) }

func (m *MetricsService) Stop(ctx context.Context) error { return m.server.Stop(ctx) }

// CollectorService runs the orphan collector on its interval.
type CollectorService struct {
	collector *gc.Collector
}

// NewCollectorService wraps c.
func NewCollectorService(c *gc.Collector) *CollectorService {
	return &CollectorService{collector: c}
}

func (c *CollectorService) Name() string { return "gc" }

// Serve starts the collector and blocks until ctx is cancelled. A disabled
// collector simply idles.
func (c *CollectorService) Serve(ctx context.Context) error {
	c.collector.Start()
	<-ctx.Done()
	return ctx.Err()
}

func (c *CollectorService) Stop(ctx context.Context) error { return c.collector.Stop(ctx) }
