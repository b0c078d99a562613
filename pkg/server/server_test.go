package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/dittodrive/pkg/gc"
	metamemory "github.com/marmos91/dittodrive/pkg/metadata/memory"
	"github.com/marmos91/dittodrive/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeService blocks in Serve until cancelled, or fails with failErr.
type fakeService struct {
	name    string
	failErr error

	mu      sync.Mutex
	stopped bool
	started chan struct{}
}

func newFake(name string) *fakeService {
	return &fakeService{name: name, started: make(chan struct{})}
}

func (f *fakeService) Name() string { return f.name }

func (f *fakeService) Serve(ctx context.Context) error {
	close(f.started)
	if f.failErr != nil {
		return f.failErr
	}
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeService) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return nil
}

func (f *fakeService) isStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

func TestServer_Add(t *testing.T) {
	s := New(time.Second)

	require.NoError(t, s.Add(newFake("api")))
	assert.Error(t, s.Add(newFake("api")), "duplicate names are rejected")
	assert.Error(t, s.Add(nil))
	assert.Len(t, s.Services(), 1)
}

func TestServer_ServeWithoutServices(t *testing.T) {
	assert.Error(t, New(time.Second).Serve(context.Background()))
}

func TestServer_StopsAllOnCancel(t *testing.T) {
	s := New(time.Second)
	a, b := newFake("a"), newFake("b")
	require.NoError(t, s.Add(a))
	require.NoError(t, s.Add(b))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	<-a.started
	<-b.started
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}
	assert.True(t, a.isStopped())
	assert.True(t, b.isStopped())

	assert.Error(t, s.Serve(context.Background()), "Serve runs once")
	assert.Error(t, s.Add(newFake("late")))
}

func TestServer_FailureStopsOthers(t *testing.T) {
	s := New(time.Second)
	healthy := newFake("healthy")
	broken := newFake("broken")
	broken.failErr = errors.New("port in use")
	require.NoError(t, s.Add(healthy))
	require.NoError(t, s.Add(broken))

	err := s.Serve(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken service")
	assert.Contains(t, err.Error(), "port in use")
	assert.True(t, healthy.isStopped())
}

func TestHTTPService(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "pong")
	})
	svc := NewHTTPService("api", "127.0.0.1:0", handler)
	assert.Equal(t, "api", svc.Name())

	s := New(time.Second)
	require.NoError(t, s.Add(svc))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	addrCtx, addrCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer addrCancel()
	addr, err := svc.Addr(addrCtx)
	require.NoError(t, err)

	resp, err := http.Get(fmt.Sprintf("http://%s/ping", addr))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, "pong", string(body))

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.NoError(t, svc.Stop(context.Background()), "Stop is idempotent")
}

func TestCollectorService(t *testing.T) {
	collector := gc.NewCollector(metamemory.New(), &registry.Registry{}, nil, gc.Config{
		Enabled:  true,
		Interval: time.Hour,
	}, nil)
	svc := NewCollectorService(collector)
	assert.Equal(t, "gc", svc.Name())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	assert.NoError(t, svc.Stop(stopCtx))
}
