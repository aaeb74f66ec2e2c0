// Adscout - Ad Archive Search Orchestration and Winning-Ad Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adscout

package supervisor

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/tomtom215/adscout/internal/logging"
)

// startedService closes its channel once Serve runs, then blocks.
type startedService struct {
	started chan struct{}
}

func (s *startedService) Serve(ctx context.Context) error {
	close(s.started)
	<-ctx.Done()
	return ctx.Err()
}

func (s *startedService) String() string { return "started-service" }

func TestTreeStartsAndStopsServices(t *testing.T) {
	tree := NewTree(logging.NewSlogLogger(), DefaultTreeConfig())

	worker := &startedService{started: make(chan struct{})}
	api := &startedService{started: make(chan struct{})}
	tree.AddWorkerService(worker)
	tree.AddAPIService(api)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	for _, svc := range []*startedService{worker, api} {
		select {
		case <-svc.started:
		case <-time.After(3 * time.Second):
			t.Fatalf("service %s never started", svc)
		}
	}

	cancel()
	select {
	case <-errCh:
	case <-time.After(5 * time.Second):
		t.Fatal("tree did not stop after cancel")
	}
}

func TestTreeConfigDefaultsApplied(t *testing.T) {
	tree := NewTree(logging.NewSlogLogger(), TreeConfig{})
	if tree.config.FailureThreshold != 5.0 || tree.config.ShutdownTimeout != 10*time.Second {
		t.Errorf("defaults not applied: %+v", tree.config)
	}
}

func TestHTTPServiceGracefulShutdown(t *testing.T) {
	srv := &http.Server{
		Addr:              "127.0.0.1:0",
		Handler:           http.NotFoundHandler(),
		ReadHeaderTimeout: time.Second,
	}
	svc := NewHTTPService(srv, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	// Give the listener a moment to bind, then stop.
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("HTTP service did not shut down")
	}
}
