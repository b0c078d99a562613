package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/dittodrive/internal/logger"
)

// DefaultStopTimeout bounds the Stop call of each service during shutdown.
const DefaultStopTimeout = 30 * time.Second

// Service is a long-running component managed by Server: the HTTP API,
// the metrics endpoint, the orphan collector.
type Service interface {
	// Serve runs the service and blocks until ctx is cancelled or it fails.
	// A return before cancellation is treated as a failure.
	Serve(ctx context.Context) error

	// Stop initiates graceful shutdown. Must be idempotent and safe to call
	// concurrently with Serve.
	Stop(ctx context.Context) error

	// Name identifies the service in logs.
	Name() string
}

// Server runs a set of services together and shuts them all down when the
// context is cancelled or any one of them fails.
//
// Lifecycle:
//  1. Creation: New()
//  2. Registration: Add() for each service
//  3. Startup: Serve() starts every service concurrently
//  4. Shutdown: services are stopped in reverse registration order
//
// Example usage:
//
//	srv := server.New(30 * time.Second)
//	srv.Add(server.NewHTTPService("api", ":8080", router))
//	srv.Add(server.NewCollectorService(collector))
//
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer cancel()
//	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
//	    log.Fatal(err)
//	}
type Server struct {
	mu       sync.Mutex
	services []Service
	served   bool

	stopTimeout time.Duration
}

// New creates an empty server. A non-positive stopTimeout uses
// DefaultStopTimeout.
func New(stopTimeout time.Duration) *Server {
	if stopTimeout <= 0 {
		stopTimeout = DefaultStopTimeout
	}
	return &Server{
		services:    make([]Service, 0, 3),
		stopTimeout: stopTimeout,
	}
}

// Add registers s. Names must be unique and Serve must not have started.
func (s *Server) Add(svc Service) error {
	if svc == nil {
		return errors.New("service cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.served {
		return errors.New("cannot add a service after Serve has been called")
	}
	for _, existing := range s.services {
		if existing.Name() == svc.Name() {
			return fmt.Errorf("service %s already registered", svc.Name())
		}
	}

	s.services = append(s.services, svc)
	logger.Debug("Registered %s service", svc.Name())
	return nil
}

// Services returns a snapshot of the registered services.
func (s *Server) Services() []Service {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Service, len(s.services))
	copy(out, s.services)
	return out
}

// Serve starts every service and blocks until ctx is cancelled or a service
// fails. It returns ctx.Err() on a requested shutdown and the failing
// service's error otherwise. Serve may only be called once.
func (s *Server) Serve(parent context.Context) error {
	s.mu.Lock()
	if s.served {
		s.mu.Unlock()
		return errors.New("server is already serving")
	}
	s.served = true
	if len(s.services) == 0 {
		s.mu.Unlock()
		return errors.New("no services registered; call Add before Serve")
	}
	services := make([]Service, len(s.services))
	copy(services, s.services)
	s.mu.Unlock()

	logger.Info("Starting %d service(s)", len(services))

	// A failing service cancels the others through ctx.
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	// Buffered so a failing service never blocks after shutdown began.
	errChan := make(chan serviceError, len(services))
	var wg sync.WaitGroup

	for _, svc := range services {
		wg.Add(1)
		go func(svc Service) {
			defer wg.Done()

			err := svc.Serve(ctx)
			switch {
			case ctx.Err() != nil:
				logger.Debug("%s service stopped", svc.Name())
			case err == nil:
				errChan <- serviceError{name: svc.Name(), err: errors.New("exited unexpectedly")}
			default:
				logger.Error("%s service failed: %v", svc.Name(), err)
				errChan <- serviceError{name: svc.Name(), err: err}
			}
		}(svc)
	}

	var shutdownErr error
	select {
	case <-parent.Done():
		logger.Info("Shutdown signal received (reason: %v)", parent.Err())
		shutdownErr = parent.Err()
	case failed := <-errChan:
		logger.Error("Service %s failed: %v - stopping all services", failed.name, failed.err)
		shutdownErr = fmt.Errorf("%s service: %w", failed.name, failed.err)
	}

	cancel()
	s.stopAll(services)
	wg.Wait()

	logger.Info("All services stopped")
	return shutdownErr
}

type serviceError struct {
	name string
	err  error
}

// stopAll stops services in reverse registration order under one shared
// deadline. Errors are logged and do not prevent stopping the rest.
func (s *Server) stopAll(services []Service) {
	ctx, cancel := context.WithTimeout(context.Background(), s.stopTimeout)
	defer cancel()

	for i := len(services) - 1; i >= 0; i-- {
		svc := services[i]
		if err := svc.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Error stopping %s service: %v", svc.Name(), err)
		}
	}
}
